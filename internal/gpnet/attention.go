package gpnet

import (
	"math"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
)

// Project is a 1x1 convolution of x to the given number of channels: the query, key or value projection of
// the spatial attention.
func Project(ctx *context.Context, x *Node, channels int) *Node {
	return layers.Convolution(ctx, x).Filters(channels).KernelSize(1).Done()
}

// AttentionScores returns the dot-product of every row of lhs with every row of rhs.
//
// lhs is shaped [batch, m, depth] and rhs is shaped [batch, n, depth], the scores are shaped [batch, m, n].
// If scaled, the scores are multiplied by 1/sqrt(depth).
func AttentionScores(lhs, rhs *Node, scaled bool) *Node {
	lhs.AssertRank(3)
	rhs.AssertRank(3)
	scores := Einsum("bmd,bnd->bmn", lhs, rhs)
	if scaled {
		depth := lhs.Shape().Dimensions[2]
		scores = MulScalar(scores, 1.0/math.Sqrt(float64(depth)))
	}
	return scores
}

// NormalizeScores returns the attention weights: the softmax of the scores over their last axis,
// so each row sums to 1.
func NormalizeScores(scores *Node) *Node {
	return Softmax(scores, -1)
}

// WeightedSum of the values rows: weights shaped [batch, m, n], values shaped [batch, n, depth],
// returns [batch, m, depth].
func WeightedSum(weights, values *Node) *Node {
	weights.AssertRank(3)
	values.AssertRank(3)
	return Einsum("bmn,bnd->bmd", weights, values)
}

// flattenSpatial reshapes x from [batch, height, width, channels] to [batch, height*width, channels].
func flattenSpatial(x *Node) *Node {
	x.AssertRank(4)
	dims := x.Shape().Dimensions
	return Reshape(x, dims[0], dims[1]*dims[2], dims[3])
}

// SpatialAttention (SAM) is a self-attention over all the spatial positions of x, shaped
// [batch, height, width, channels].
//
// Queries and keys are 1x1 projections of x to queryChannels, values are 1x1 projections to channels.
// It returns the attended output, shaped like x, and the attention weights, shaped
// [batch, height*width, height*width].
func SpatialAttention(ctx *context.Context, x *Node, queryChannels int, trace *Trace) (output, weights *Node) {
	x.AssertRank(4)
	dims := x.Shape().Dimensions
	scaled := context.GetParamOr(ctx, ParamAttentionScaled, false)

	query := Project(ctx.In("query"), x, queryChannels)
	trace.Record(ctx.In("query"), "projection", query)
	key := Project(ctx.In("key"), x, queryChannels)
	trace.Record(ctx.In("key"), "projection", key)
	value := Project(ctx.In("value"), x, dims[3])
	trace.Record(ctx.In("value"), "projection", value)

	scores := trace.Record(ctx, "scores", AttentionScores(flattenSpatial(query), flattenSpatial(key), scaled))
	weights = trace.Record(ctx, "weights", NormalizeScores(scores))
	output = WeightedSum(weights, flattenSpatial(value))
	output = Reshape(output, dims...)
	return trace.RecordBlock(ctx, "output", output), weights
}

// ChannelAttention (CAM) is a self-attention over the channels of x, shaped [batch, height, width, channels]:
// each channel (a vector of height*width values) attends to all the channels.
//
// It has no learned weights. It returns the attended output, shaped like x, and the attention weights,
// shaped [batch, channels, channels].
func ChannelAttention(ctx *context.Context, x *Node, trace *Trace) (output, weights *Node) {
	x.AssertRank(4)
	dims := x.Shape().Dimensions
	scaled := context.GetParamOr(ctx, ParamAttentionScaled, false)

	features := Transpose(flattenSpatial(x), 1, 2) // [batch, channels, height*width]
	scores := trace.Record(ctx, "scores", AttentionScores(features, features, scaled))
	weights = trace.Record(ctx, "weights", NormalizeScores(scores))
	output = WeightedSum(weights, features) // [batch, channels, height*width]
	output = Reshape(Transpose(output, 1, 2), dims...)
	return trace.RecordBlock(ctx, "output", output), weights
}
