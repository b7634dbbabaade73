// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/inferbridge/pkg/core/optypes"
	"github.com/pkg/errors"
)

// WriteDot writes a Graphviz DOT description of the Function to w.
//
// Parameters are drawn as green boxes, Constants as grey ones and Results as blue ellipses.
// Edges are labeled with the shape they carry.
func (fn *Function) WriteDot(w io.Writer) error {
	var sb strings.Builder
	name := fn.name
	if name == "" {
		name = "function"
	}
	fmt.Fprintf(&sb, "digraph %q {\n", name)
	sb.WriteString("\trankdir=TB;\n\tnode [fontname=\"Helvetica\", fontsize=10];\n")
	for _, node := range fn.nodes {
		var attrs string
		switch node.opType {
		case optypes.Parameter:
			attrs = `shape=box, style=filled, fillcolor="#c7e9c0"`
		case optypes.Constant:
			attrs = `shape=box, style=filled, fillcolor="#e0e0e0"`
		case optypes.Result:
			attrs = `shape=ellipse, style=filled, fillcolor="#c6dbef"`
		default:
			attrs = "shape=ellipse"
		}
		label := fmt.Sprintf("%s\\n%s", node.name, node.opType)
		if node.IsConstant() {
			label += "\\n" + humanize.Bytes(uint64(len(node.payload)))
		}
		fmt.Fprintf(&sb, "\tn%d [label=%q, %s];\n", node.id, label, attrs)
	}
	for _, node := range fn.nodes {
		for _, input := range node.inputs {
			fmt.Fprintf(&sb, "\tn%d -> n%d [label=%q];\n", input.node.id, node.id, input.Shape().String())
		}
	}
	sb.WriteString("}\n")
	_, err := io.WriteString(w, sb.String())
	return errors.Wrapf(err, "failed to write DOT for Function %q", fn.name)
}
