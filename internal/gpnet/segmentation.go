package gpnet

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/layers/batchnorm"
)

// Segmentation module: it computes an attention mask with values in [0, 1] from the sum of the spatial (SAM)
// and channel (CAM) self-attention of x, and returns x multiplied by the mask.
//
// x is shaped [batch, height, width, channels], and so is the output.
// The attention works on channels/ParamValueReduction channels, and the spatial attention queries and keys
// on channels/ParamQueryReduction channels.
func Segmentation(ctx *context.Context, x *Node, trace *Trace) *Node {
	x.AssertRank(4)
	dims := x.Shape().Dimensions
	channels := dims[3]
	valueReduction := context.GetParamOr(ctx, ParamValueReduction, 4)
	queryReduction := context.GetParamOr(ctx, ParamQueryReduction, 32)
	if valueReduction <= 0 || queryReduction <= 0 || channels/valueReduction < 1 || channels/queryReduction < 1 {
		exceptions.Panicf("%s: segmentation module requires channels (%d) >= reduction ratios (%d for values, "+
			"%d for queries) > 0", ctx.Scope(), channels, valueReduction, queryReduction)
	}
	valueChannels := channels / valueReduction
	queryChannels := channels / queryReduction

	reduced := convBatchNormRelu(ctx.In("reduce"), x, valueChannels, trace)
	spatial, _ := SpatialAttention(ctx.In("sam"), reduced, queryChannels, trace)
	channel, _ := ChannelAttention(ctx.In("cam"), reduced, trace)
	attention := trace.Record(ctx, "sam_plus_cam", Add(spatial, channel))

	attention = convBatchNormRelu(ctx.In("fuse"), attention, valueChannels, trace)
	maskCtx := ctx.In("mask")
	mask := Sigmoid(layers.Convolution(maskCtx, attention).Filters(channels).KernelSize(1).Done())
	trace.RecordBlock(maskCtx, "sigmoid", mask)

	output := Mul(x, mask)
	output.AssertDims(dims...)
	return trace.RecordBlock(ctx, "output", output)
}

// convBatchNormRelu is a 1x1 convolution to the given number of channels, followed by batch normalization
// and ReLU.
func convBatchNormRelu(ctx *context.Context, x *Node, channels int, trace *Trace) *Node {
	x = layers.Convolution(ctx, x).Filters(channels).KernelSize(1).Done()
	x = batchnorm.New(ctx, x, -1).Done()
	return trace.RecordBlock(ctx, "relu", activations.Relu(x))
}
