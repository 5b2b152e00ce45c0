package gpnet

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"k8s.io/klog/v2"
)

// stageConfig of the backbone: numConvs 3x3 convolutions with ReLU, optionally followed by a max-pooling
// and a FEM.
type stageConfig struct {
	channels, numConvs int
	pool, fem          bool
}

// backboneStages are the VGG16-like feature extractor stages.
var backboneStages = []stageConfig{
	{channels: 64, numConvs: 2, pool: true},
	{channels: 128, numConvs: 2, pool: true},
	{channels: 256, numConvs: 3, pool: true, fem: true},
	{channels: 512, numConvs: 3, fem: true},
}

// Backbone extracts the features of image, shaped [batch, height, width, channels].
// It returns features shaped [batch, height/8, width/8, 512].
func Backbone(ctx *context.Context, image *Node, trace *Trace) *Node {
	x := image
	for stageIdx, stage := range backboneStages {
		stageCtx := ctx.Inf("stage%d", stageIdx+1)
		for convIdx := range stage.numConvs {
			convCtx := stageCtx.Inf("conv_%d", convIdx)
			x = layers.Convolution(convCtx, x).Filters(stage.channels).KernelSize(3).PadSame().Done()
			x = trace.RecordBlock(convCtx, "relu", activations.Relu(x))
		}
		if stage.pool {
			x = trace.RecordBlock(stageCtx, "maxpool", maxPool2(stageCtx, x))
		}
		if stage.fem {
			x = FEM(stageCtx.In("fem"), x, trace)
		}
		klog.V(1).Infof("%s: %s", stageCtx.Scope(), x.Shape())
	}
	return x
}

// maxPool2 halves the spatial dimensions of x.
//
// It fails if the spatial dimensions are not even: GPNet requires the image dimensions
// to be divisible by Downsampling.
func maxPool2(ctx *context.Context, x *Node) *Node {
	x.AssertRank(4)
	dims := x.Shape().Dimensions
	if dims[1]%2 != 0 || dims[2]%2 != 0 {
		exceptions.Panicf("%s/maxpool: spatial dimensions %dx%d are not divisible by 2 -- "+
			"image height and width must be divisible by %d", ctx.Scope(), dims[1], dims[2], Downsampling)
	}
	return MaxPool(x).Window(2).Done()
}
