package gpnet

import (
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Param is a named learned parameter (a context variable) of the network.
type Param struct {
	Scope, Name string
	Shape       shapes.Shape
}

// Path returns the unique name of the parameter: its scope joined with its name.
func (p Param) Path() string {
	return strings.TrimSuffix(p.Scope, context.ScopeSeparator) + context.ScopeSeparator + p.Name
}

// Network is the result of building the GPNet graph: its input and output shapes, its named operations
// (in topological order) and its named parameters.
//
// The batch dimension of the shapes is the one used to build the graph (see ParamBatchSize), but the network
// works with any batch size.
type Network struct {
	InputShape, OutputShape shapes.Shape
	Ops                     []TracedOp
	Params                  []Param
}

// Build constructs the GPNet graph for images of the given dimensions, and returns its structure.
//
// It fails, without returning a partial graph, if any operation can't be built: e.g. height or width not
// divisible by Downsampling, or not enough channels for the configured reduction ratios. The error names the
// failing operation.
//
// The network variables are created in the model context (not yet initialized): building again with
// different dimensions, other than height and width, will fail since the variables shapes won't match.
func (m *GPNet) Build(backend backends.Backend, height, width, channels int) (*Network, error) {
	if height <= 0 || width <= 0 || channels <= 0 {
		return nil, errors.Errorf("invalid GPNet image dimensions %dx%dx%d, they must be > 0", height, width, channels)
	}
	batchSize := context.GetParamOr(m.ctx, ParamBatchSize, 1)
	inputShape := shapes.Make(dtypes.Float32, batchSize, height, width, channels)
	g := graph.NewGraph(backend, "gpnet")
	defer g.Finalize()

	trace := &Trace{}
	var output *graph.Node
	err := exceptions.TryCatch[error](func() {
		image := graph.Parameter(g, "image", inputShape)
		output = Forward(m.ctx, image, trace)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to build GPNet for images shaped %dx%dx%d",
			height, width, channels)
	}

	net := &Network{
		InputShape:  inputShape,
		OutputShape: output.Shape(),
		Ops:         trace.Ops,
	}
	m.ctx.In(BuildScope).EnumerateVariablesInScope(func(v *context.Variable) {
		net.Params = append(net.Params, Param{Scope: v.Scope(), Name: v.Name(), Shape: v.Shape()})
	})
	klog.V(1).Infof("Built %s: %d ops, %d parameters, output shaped %s", m, len(net.Ops), net.NumParams(),
		net.OutputShape)
	return net, nil
}

// NumParams returns the total number of learned scalar values.
func (net *Network) NumParams() int {
	var total int
	for _, p := range net.Params {
		total += p.Shape.Size()
	}
	return total
}

// ParamsMemory returns the number of bytes used by the parameters.
func (net *Network) ParamsMemory() uintptr {
	var total uintptr
	for _, p := range net.Params {
		total += p.Shape.Memory()
	}
	return total
}

// Blocks returns the block-level ops: each convolution layer, pooling, FEM, attention module and head layer.
func (net *Network) Blocks() []TracedOp {
	var blocks []TracedOp
	for _, op := range net.Ops {
		if op.Block {
			blocks = append(blocks, op)
		}
	}
	return blocks
}

// ParamsPerOp attributes each parameter to one of the given ops, and returns the number of learned values
// per op.
//
// A parameter is attributed to the op with the longest scope containing the parameter scope, and among
// ops with the same scope, to the first one. Parameters not contained in any op scope are not counted.
func (net *Network) ParamsPerOp(ops []TracedOp) []int {
	counts := make([]int, len(ops))
	for _, p := range net.Params {
		best := -1
		for ii, op := range ops {
			if !inScope(p.Scope, op.Scope) {
				continue
			}
			if best == -1 || len(op.Scope) > len(ops[best].Scope) {
				best = ii
			}
		}
		if best >= 0 {
			counts[best] += p.Shape.Size()
		}
	}
	return counts
}

// inScope returns whether scope is parent itself or one of its sub-scopes.
func inScope(scope, parent string) bool {
	if scope == parent {
		return true
	}
	parent = strings.TrimSuffix(parent, context.ScopeSeparator) + context.ScopeSeparator
	return strings.HasPrefix(scope, parent)
}
