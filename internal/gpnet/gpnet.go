// Package gpnet implements GPNet, a convolutional network for crowd and vehicle density estimation.
//
// GPNet takes an image shaped [batch, height, width, channels] and returns a single-channel density map
// shaped [batch, height/8, width/8, 1], whose sum over a region approximates the number of objects in it.
//
// The network is built with GoMLX: a VGG-like backbone (4 stages, 3 of them followed by max-pooling),
// a Feature Enhancement Module (FEM) after stages 3 and 4, a Segmentation module combining spatial (SAM)
// and channel (CAM) self-attention into a multiplicative mask, and a dilated convolutional density head.
//
// Weights and hyperparameters live in the model's context.Context; see New for the hyperparameters
// and their defaults.
package gpnet

import (
	"bytes"
	"fmt"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/layers/regularizers"
	"github.com/janpfeifer/gpnet/internal/parameters"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// BuildScope is the context scope under which all GPNet variables are created.
	BuildScope = "gpnet"

	// Downsampling is the factor by which the density map is smaller than the input image,
	// in both spatial dimensions: 3 max-pooling layers of window 2.
	Downsampling = 8
)

// Hyperparameters, stored in the model context. See New for defaults.
const (
	ParamImageHeight   = "image_height"
	ParamImageWidth    = "image_width"
	ParamImageChannels = "image_channels"

	// ParamBatchSize is the batch size used by Build: the graph needs a static batch dimension.
	ParamBatchSize = "batch_size"

	// ParamFEMReduction is the bottleneck reduction ratio of the FEM gate: channels -> channels/r -> channels.
	ParamFEMReduction = "fem_reduction"

	// ParamValueReduction defines the number of channels used by the Segmentation module attention
	// (values and channel attention): channels/ParamValueReduction.
	ParamValueReduction = "sam_value_reduction"

	// ParamQueryReduction defines the number of channels of the spatial attention queries and keys:
	// channels/ParamQueryReduction.
	ParamQueryReduction = "sam_query_reduction"

	// ParamAttentionScaled enables the 1/sqrt(d) scaling of the attention scores.
	// It defaults to false, GPNet's attention uses the raw dot-products.
	ParamAttentionScaled = "attention_scaled"
)

// GPNet is the density estimation model: it owns the context with the weights and hyperparameters.
type GPNet struct {
	ctx *context.Context

	// checkpoint handler, if weights are being saved/loaded to/from disk.
	checkpoint *checkpoints.Handler
}

// New creates a GPNet model with a fresh context, initialized with hyperparameters set to their defaults.
func New() *GPNet {
	m := &GPNet{ctx: context.New()}
	m.ctx.RngStateReset()
	m.ctx.SetParams(map[string]any{
		ParamImageHeight:   576,
		ParamImageWidth:    320,
		ParamImageChannels: 3,
		ParamBatchSize:     1,

		ParamFEMReduction:    16,
		ParamValueReduction:  4,
		ParamQueryReduction:  32,
		ParamAttentionScaled: false,

		regularizers.ParamL2: 0.0,
	})
	m.ctx = m.ctx.Checked(false)
	return m
}

// Context used by the model: with both its weights and hyperparameters.
func (m *GPNet) Context() *context.Context {
	return m.ctx
}

// String implements fmt.Stringer.
func (m *GPNet) String() string {
	height, width, channels := m.ImageDims()
	if m.checkpoint == nil {
		return fmt.Sprintf("GPNet[%dx%dx%d]", height, width, channels)
	}
	return fmt.Sprintf("GPNet[%dx%dx%d]@%s", height, width, channels, m.checkpoint.Dir())
}

// ImageDims returns the configured input image dimensions: height, width and channels.
func (m *GPNet) ImageDims() (height, width, channels int) {
	height = context.GetParamOr(m.ctx, ParamImageHeight, 576)
	width = context.GetParamOr(m.ctx, ParamImageWidth, 320)
	channels = context.GetParamOr(m.ctx, ParamImageChannels, 3)
	return
}

// ForwardGraph builds the GPNet graph for the image, shaped [batch, height, width, channels].
// It returns the density map shaped [batch, height/8, width/8, 1].
//
// It panics with an error naming the failing operation if the image can't be processed
// (e.g. height or width not divisible by 8). Use Build to get an error instead.
func (m *GPNet) ForwardGraph(ctx *context.Context, image *Node) *Node {
	return Forward(ctx, image, nil)
}

// Forward builds the GPNet graph on image, under the BuildScope of ctx, and records its ops in trace,
// if trace is not nil.
func Forward(ctx *context.Context, image *Node, trace *Trace) *Node {
	ctx = ctx.In(BuildScope)
	image.AssertRank(4) // [batch, height, width, channels]
	dims := image.Shape().Dimensions
	batchSize, height, width := dims[0], dims[1], dims[2]

	x := Backbone(ctx, image, trace)
	x = Segmentation(ctx.In("segmentation"), x, trace)
	density := DensityHead(ctx.In("head"), x, trace)
	density.AssertDims(batchSize, height/Downsampling, width/Downsampling, 1)
	return trace.RecordBlock(ctx, "density", density)
}

// CountGraph returns the estimated count of objects for each example in the batch,
// that is, the sum of the density map over its spatial and channel axes.
//
// The density map is shaped [batch, height, width, 1], and the returned counts are shaped [batch].
func CountGraph(density *Node) *Node {
	density.AssertRank(4)
	return ReduceSum(density, 1, 2, 3)
}

// SetParams overwrites the model hyperparameters with the values in params.
// Values are parsed according to the type of the hyperparameter default value.
//
// Keys that don't match any hyperparameter are reported as an error.
func (m *GPNet) SetParams(params parameters.Params) error {
	ctx := m.ctx
	var err error
	ctx.EnumerateParams(func(scope, key string, valueAny any) {
		if err != nil || scope != context.RootScope {
			return
		}
		var value any
		switch defaultValue := valueAny.(type) {
		case string:
			value, err = parameters.PopParamOr(params, key, defaultValue)
		case int:
			value, err = parameters.PopParamOr(params, key, defaultValue)
		case float64:
			value, err = parameters.PopParamOr(params, key, defaultValue)
		case float32:
			value, err = parameters.PopParamOr(params, key, defaultValue)
		case bool:
			value, err = parameters.PopParamOr(params, key, defaultValue)
		default:
			err = errors.Errorf("GPNet hyperparameter %q is of unknown type %T", key, defaultValue)
			return
		}
		if err != nil {
			err = errors.WithMessagef(err, "parsing %q (%T) for GPNet", key, valueAny)
			return
		}
		ctx.SetParam(key, value)
	})
	if err != nil {
		return err
	}
	if err = params.CheckAllUsed(); err != nil {
		return errors.WithMessage(err, "GPNet hyperparameters")
	}
	klog.V(1).Infof("Hyperparameters set: %s", m)
	return nil
}

// HyperparametersHelp lists all the hyperparameters with their current values.
func (m *GPNet) HyperparametersHelp() string {
	buf := &bytes.Buffer{}
	_, _ = fmt.Fprintf(buf, "GPNet hyperparameters:\n")
	m.ctx.EnumerateParams(func(scope, key string, value any) {
		if scope != context.RootScope {
			return
		}
		_, _ = fmt.Fprintf(buf, "\t%q: %v\n", key, value)
	})
	return buf.String()
}
