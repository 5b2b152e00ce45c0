package gpnet

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
)

// headLayers of the density regressor. Dilated convolutions enlarge the receptive field
// while keeping the spatial resolution.
var headLayers = []struct {
	channels, kernelSize, dilation int
	relu                           bool
}{
	{channels: 256, kernelSize: 3, dilation: 2, relu: true},
	{channels: 128, kernelSize: 3, dilation: 2, relu: true},
	{channels: 64, kernelSize: 3, dilation: 1, relu: true},
	{channels: 1, kernelSize: 1, dilation: 1},
}

// DensityHead regresses the density map from x, shaped [batch, height, width, channels].
// It returns a map shaped [batch, height, width, 1], with a linear (unbounded) last layer.
func DensityHead(ctx *context.Context, x *Node, trace *Trace) *Node {
	x.AssertRank(4)
	dims := x.Shape().Dimensions
	for ii, layer := range headLayers {
		layerCtx := ctx.Inf("conv_%d", ii)
		conv := layers.Convolution(layerCtx, x).Filters(layer.channels).KernelSize(layer.kernelSize).PadSame()
		if layer.dilation > 1 {
			conv = conv.Dilations(layer.dilation)
		}
		x = conv.Done()
		if layer.relu {
			x = trace.RecordBlock(layerCtx, "relu", activations.Relu(x))
		} else {
			x = trace.RecordBlock(layerCtx, "linear", x)
		}
	}
	x.AssertDims(dims[0], dims[1], dims[2], 1)
	return x
}
