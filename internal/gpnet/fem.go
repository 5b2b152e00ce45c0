package gpnet

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/types/shapes"
)

// FEM (Feature Enhancement Module) reweights the channels of x with a squeeze-excite gate
// computed from a depthwise convolution of x, and adds the result back to x:
//
//	output = x + x * FEMGate(x)
//
// x is shaped [batch, height, width, channels], and so is the output. The gate bottleneck
// reduction ratio is given by the ParamFEMReduction hyperparameter.
func FEM(ctx *context.Context, x *Node, trace *Trace) *Node {
	x.AssertRank(4)
	dims := x.Shape().Dimensions
	batchSize, channels := dims[0], dims[3]
	reduction := context.GetParamOr(ctx, ParamFEMReduction, 16)

	gate := FEMGate(ctx, x, reduction, trace)
	gate = Reshape(gate, batchSize, 1, 1, channels)
	excitation := trace.Record(ctx, "excitation", Mul(x, gate))
	output := Add(x, excitation)
	output.AssertDims(dims...)
	return trace.RecordBlock(ctx, "output", output)
}

// FEMGate returns the per-channel gate of FEM, shaped [batch, channels], with values in [0, 1].
//
// The gate is: depthwise 3x3 convolution -> global average pooling -> dense(channels/reduction) + ReLU
// -> dense(channels) + sigmoid.
func FEMGate(ctx *context.Context, x *Node, reduction int, trace *Trace) *Node {
	x.AssertRank(4)
	dims := x.Shape().Dimensions
	batchSize, channels := dims[0], dims[3]
	if reduction <= 0 || channels/reduction < 1 {
		exceptions.Panicf("%s: FEM requires channels (%d) >= reduction ratio (%d) > 0",
			ctx.Scope(), channels, reduction)
	}

	depthwiseCtx := ctx.In("depthwise")
	features := trace.Record(depthwiseCtx, "conv3x3", DepthwiseConv(depthwiseCtx, x, 3))
	pooled := trace.Record(ctx, "global_avg_pool", ReduceMean(features, 1, 2))

	squeezeCtx := ctx.In("squeeze")
	squeezed := activations.Relu(layers.Dense(squeezeCtx, pooled, true, channels/reduction))
	trace.Record(squeezeCtx, "relu", squeezed)

	exciteCtx := ctx.In("excite")
	gate := Sigmoid(layers.Dense(exciteCtx, squeezed, true, channels))
	gate.AssertDims(batchSize, channels)
	return trace.Record(exciteCtx, "sigmoid", gate)
}

// DepthwiseConv convolves each channel of x, shaped [batch, height, width, channels], with its own
// kernelSize x kernelSize kernel, with "same" padding, and adds a per-channel bias.
//
// It is a grouped convolution with one group per channel, so no channel mixes into another.
func DepthwiseConv(ctx *context.Context, x *Node, kernelSize int) *Node {
	x.AssertRank(4)
	g := x.Graph()
	dtype := x.DType()
	channels := x.Shape().Dimensions[3]

	weightsVar := ctx.VariableWithShape("weights", shapes.Make(dtype, kernelSize, kernelSize, 1, channels))
	biasesVar := ctx.WithInitializer(initializers.Zero).VariableWithShape("biases", shapes.Make(dtype, channels))

	output := Convolve(x, weightsVar.ValueGraph(g)).FeatureGroupCount(channels).Strides(1).PadSame().Done()
	output = Add(output, Reshape(biasesVar.ValueGraph(g), 1, 1, 1, channels))
	output.AssertDims(x.Shape().Dimensions...)
	return output
}
