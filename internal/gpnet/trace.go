package gpnet

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
)

// TracedOp is one named operation of the GPNet graph, as recorded by a Trace.
type TracedOp struct {
	// Scope of the context where the op was created, e.g. "/gpnet/stage3/conv_1".
	// Variables created by the op live in this scope (or below it).
	Scope string

	// Name of the op within its scope, e.g. "relu", "scores", "weights".
	Name string

	// Shape of the op output.
	Shape shapes.Shape

	// Block is true for the ops that mark the output of a whole block (a stage, FEM, SAM, the head).
	Block bool
}

// Path returns the unique hierarchical identifier of the op: its scope joined with its name.
func (op TracedOp) Path() string {
	return strings.TrimSuffix(op.Scope, context.ScopeSeparator) + context.ScopeSeparator + op.Name
}

// String implements fmt.Stringer.
func (op TracedOp) String() string {
	return fmt.Sprintf("%s %s", op.Path(), op.Shape)
}

// Trace records the named operations of a graph while it is being built.
//
// A nil *Trace is valid and records nothing, so graph functions can take an optional trace.
type Trace struct {
	Ops []TracedOp

	paths map[string]struct{}
}

// Record appends the op named name, created in ctx's scope, and returns node unchanged, so it can be chained.
//
// It panics if the same path is recorded twice: op paths identify the operations uniquely.
func (t *Trace) Record(ctx *context.Context, name string, node *graph.Node) *graph.Node {
	return t.record(ctx, name, node, false)
}

// RecordBlock is like Record, but marks the op as the output of a whole block.
func (t *Trace) RecordBlock(ctx *context.Context, name string, node *graph.Node) *graph.Node {
	return t.record(ctx, name, node, true)
}

func (t *Trace) record(ctx *context.Context, name string, node *graph.Node, block bool) *graph.Node {
	if t == nil {
		return node
	}
	op := TracedOp{Scope: ctx.Scope(), Name: name, Shape: node.Shape(), Block: block}
	if t.paths == nil {
		t.paths = make(map[string]struct{})
	}
	path := op.Path()
	if _, found := t.paths[path]; found {
		exceptions.Panicf("operation %q recorded twice in the same graph", path)
	}
	t.paths[path] = struct{}{}
	t.Ops = append(t.Ops, op)
	return node
}

// Find returns the op with the given path, or false if not found.
func (t *Trace) Find(path string) (TracedOp, bool) {
	if t == nil {
		return TracedOp{}, false
	}
	for _, op := range t.Ops {
		if op.Path() == path {
			return op, true
		}
	}
	return TracedOp{}, false
}
