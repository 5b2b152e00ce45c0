package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/janpfeifer/gpnet/internal/gpnet"
)

// formatShape formats the shape of an activation with the batch dimension as None, e.g. "(None, 72, 40, 1)".
func formatShape(shape shapes.Shape) string {
	parts := make([]string, 0, shape.Rank())
	for axis, dim := range shape.Dimensions {
		if axis == 0 {
			parts = append(parts, "None")
			continue
		}
		parts = append(parts, strconv.Itoa(dim))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// summary renders the network structure: one row per block (or per op, if allOps), with its output shape
// and number of parameters, followed by the totals and the output shape.
func summary(net *gpnet.Network, allOps bool) string {
	ops := net.Blocks()
	if allOps {
		ops = net.Ops
	}
	paramsPerOp := net.ParamsPerOp(ops)

	bold := make(map[int]bool)
	table := newTable(bold, lipgloss.Left, lipgloss.Right, lipgloss.Right)
	table.Headers("Layer", "Output Shape", "# Params")
	table.Row("input", formatShape(net.InputShape), "0")
	for ii, op := range ops {
		if allOps && op.Block {
			bold[ii+1] = true
		}
		table.Row(strings.TrimPrefix(op.Path(), "/"), formatShape(op.Shape), humanize.Comma(int64(paramsPerOp[ii])))
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("GPNet"))
	sb.WriteString("\n")
	sb.WriteString(table.Render())
	sb.WriteString("\n")
	_, _ = fmt.Fprintf(&sb, "Total params: %s (%s)\n", humanize.Comma(int64(net.NumParams())),
		humanize.Bytes(uint64(net.ParamsMemory())))
	_, _ = fmt.Fprintf(&sb, "Parameter variables: %d\n", len(net.Params))
	_, _ = fmt.Fprintf(&sb, "Output shape: %s\n", formatShape(net.OutputShape))
	return sb.String()
}
