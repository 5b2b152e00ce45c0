package gpnet

import (
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestFEM(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	x := randomTensor(2, 4, 4, 32)
	trace := &Trace{}
	outputs := context.ExecOnceN(backend, ctx, func(ctx *context.Context, inputs []*Node) []*Node {
		gate := FEMGate(ctx.In("gate"), inputs[0], 16, nil)
		output := FEM(ctx.In("fem"), inputs[0], trace)
		return []*Node{gate, output}
	}, x)
	gate, output := outputs[0], outputs[1]

	require.Equal(t, []int{2, 32}, gate.Shape().Dimensions)
	for ii, v := range tensors.CopyFlatData[float32](gate) {
		require.Truef(t, v >= 0 && v <= 1, "gate[%d]=%g not in [0, 1]", ii, v)
	}
	require.Equal(t, x.Shape().Dimensions, output.Shape().Dimensions)

	// Ops recorded with their scopes.
	op, found := trace.Find("/fem/squeeze/relu")
	require.True(t, found)
	require.Equal(t, []int{2, 2}, op.Shape.Dimensions)
	op, found = trace.Find("/fem/output")
	require.True(t, found)
	require.True(t, op.Block)
}

func TestFEMResidual(t *testing.T) {
	// The FEM output is x * (1 + gate): with positive x, it is between x and 2x.
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	x := randomTensor(1, 3, 5, 16)
	output := context.ExecOnce(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		return FEM(ctx, x, nil)
	}, x)
	xValues := tensors.CopyFlatData[float32](x)
	for ii, v := range tensors.CopyFlatData[float32](output) {
		require.GreaterOrEqualf(t, v, xValues[ii]-1e-6, "output[%d]", ii)
		require.LessOrEqualf(t, v, 2*xValues[ii]+1e-6, "output[%d]", ii)
	}
}

func TestFEMTooFewChannels(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.SetParam(ParamFEMReduction, 16)
	require.Panics(t, func() {
		_ = context.ExecOnce(backend, ctx, func(ctx *context.Context, x *Node) *Node {
			return FEM(ctx, x, nil)
		}, randomTensor(1, 4, 4, 8))
	})
}

func TestDepthwiseConv(t *testing.T) {
	// Only channel 0 is set: since channels don't mix and the biases are initialized to zero,
	// all the other output channels must be zero.
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	const channels = 4
	x := tensors.FromShape(shapes.Make(dtypes.Float32, 1, 5, 5, channels))
	tensors.MutableFlatData(x, func(flat []float32) {
		for ii := 0; ii < len(flat); ii += channels {
			flat[ii] = 1
		}
	})
	var numWeights int
	output := context.ExecOnce(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		output := DepthwiseConv(ctx.In("depthwise"), x, 3)
		ctx.EnumerateVariables(func(v *context.Variable) {
			numWeights += v.Shape().Size()
		})
		return output
	}, x)
	require.Equal(t, 3*3*channels+channels, numWeights)
	require.Equal(t, []int{1, 5, 5, channels}, output.Shape().Dimensions)

	values := tensors.CopyFlatData[float32](output)
	var channel0Sum float32
	for ii, v := range values {
		if ii%channels == 0 {
			channel0Sum += abs(v)
			continue
		}
		require.Equalf(t, float32(0), v, "output[%d] (channel %d)", ii, ii%channels)
	}
	require.Greater(t, channel0Sum, float32(0))
}

func TestDepthwiseConvKernels(t *testing.T) {
	// Channel c has a kernel of 3x3 values (c+1): with an input of ones, the center output is 9*(c+1),
	// which only holds if each channel is convolved with its own kernel.
	backend := graphtest.BuildTestBackend()
	ctx := context.New().Checked(false)
	const channels = 3
	kernel := make([][][][]float32, 3)
	for row := range kernel {
		kernel[row] = make([][][]float32, 3)
		for col := range kernel[row] {
			kernel[row][col] = [][]float32{make([]float32, channels)}
			for c := range channels {
				kernel[row][col][0][c] = float32(c + 1)
			}
		}
	}
	weightsVar := ctx.In("depthwise").VariableWithValue("weights", kernel)
	require.Equal(t, []int{3, 3, 1, channels}, weightsVar.Shape().Dimensions)

	x := tensors.FromShape(shapes.Make(dtypes.Float32, 1, 5, 5, channels))
	tensors.MutableFlatData(x, func(flat []float32) {
		for ii := range flat {
			flat[ii] = 1
		}
	})
	output := context.ExecOnce(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		return DepthwiseConv(ctx.In("depthwise"), x, 3)
	}, x)
	values := tensors.CopyFlatData[float32](output)
	center := (2*5 + 2) * channels
	for c := range channels {
		require.InDeltaf(t, float32(9*(c+1)), values[center+c], 1e-4, "channel %d", c)
	}
	// Corner only sees 2x2 of the kernel with "same" padding.
	for c := range channels {
		require.InDeltaf(t, float32(4*(c+1)), values[c], 1e-4, "corner channel %d", c)
	}
}
