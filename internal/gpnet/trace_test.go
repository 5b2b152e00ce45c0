package gpnet

import (
	"testing"

	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestTrace(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	g := graph.NewGraph(backend, "TestTrace")
	defer g.Finalize()
	ctx := context.New().In("model")
	x := graph.Parameter(g, "x", shapes.Make(dtypes.Float32, 2, 3))

	// A nil trace records nothing, and passes the node through.
	var nilTrace *Trace
	require.Equal(t, x, nilTrace.Record(ctx, "x", x))
	_, found := nilTrace.Find("/model/x")
	require.False(t, found)

	trace := &Trace{}
	y := trace.Record(ctx, "x", x)
	require.Equal(t, x, y)
	trace.RecordBlock(ctx.In("block"), "output", graph.Neg(x))
	require.Len(t, trace.Ops, 2)

	op, found := trace.Find("/model/block/output")
	require.True(t, found)
	require.True(t, op.Block)
	require.Equal(t, "/model/block", op.Scope)
	require.Equal(t, []int{2, 3}, op.Shape.Dimensions)
	require.Contains(t, trace.Ops[0].String(), "/model/x ")

	// Same path recorded twice.
	require.Panics(t, func() { trace.Record(ctx, "x", x) })
	require.NotPanics(t, func() { trace.Record(ctx.In("other"), "x", x) })
}

func TestBuildOpPathsUnique(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	net, err := New().Build(backend, 32, 24, 3)
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, op := range net.Ops {
		require.Falsef(t, seen[op.Path()], "op %q recorded twice", op.Path())
		seen[op.Path()] = true
	}

	// Blocks in topological order: first the backbone, last the density map.
	blocks := net.Blocks()
	require.Equal(t, "/gpnet/stage1/conv_0/relu", blocks[0].Path())
	require.Equal(t, "/gpnet/density", blocks[len(blocks)-1].Path())
	require.Equal(t, []int{1, 4, 3, 1}, blocks[len(blocks)-1].Shape.Dimensions)
}
