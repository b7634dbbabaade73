// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/inferbridge/pkg/core/dtypes"
	"github.com/gomlx/inferbridge/pkg/core/optypes"
	"github.com/gomlx/inferbridge/pkg/core/shapes"
)

// NodeID is the position of a Node within its Function (or Builder), which is also a topological order.
type NodeID int

// Node is an operation in a Function.
//
// A Node produces one or more outputs (see Output), each with a fixed shape, and consumes the outputs of
// previously created nodes. Parameters and Constants have no inputs; Results have exactly one, their parent.
//
// Nodes are immutable once the Function they belong to is built.
type Node struct {
	builder *Builder // Only used while building, to check ownership.

	id           NodeID
	opType       optypes.OpType
	name         string
	inputs       []Output
	outputShapes []shapes.Shape

	// payload holds the raw bytes of a Constant, in host byte order.
	payload []byte

	// axis is used by ops that take an axis attribute (Split).
	axis int
}

// ID of the node within its Function.
func (n *Node) ID() NodeID { return n.id }

// OpType returns the operation performed by the node.
func (n *Node) OpType() optypes.OpType { return n.opType }

// Name is the friendly name of the node. It is unique within a Function, and it is what backends use to bind
// buffers to Parameters and to the producers of Results.
func (n *Node) Name() string { return n.name }

// NumInputs returns the number of input edges of the node.
func (n *Node) NumInputs() int { return len(n.inputs) }

// Input returns the i-th input edge of the node.
func (n *Node) Input(i int) Output { return n.inputs[i] }

// Inputs returns a copy of the node's input edges.
func (n *Node) Inputs() []Output { return slices.Clone(n.inputs) }

// NumOutputs returns the number of outputs of the node. Results have one output, the same value as their input.
func (n *Node) NumOutputs() int { return len(n.outputShapes) }

// Output returns a handle to the i-th output of the node.
func (n *Node) Output(i int) Output {
	return Output{node: n, index: i}
}

// OutputShape returns the shape of the i-th output.
func (n *Node) OutputShape(i int) shapes.Shape { return n.outputShapes[i] }

// Shape of the Node's output. It returns an invalid shape for nodes with multiple outputs.
func (n *Node) Shape() shapes.Shape {
	if n == nil || n.NumOutputs() != 1 {
		return shapes.Invalid()
	}
	return n.outputShapes[0]
}

// DType returns the DType of the node's shape.
func (n *Node) DType() dtypes.DType { return n.Shape().DType }

// Axis returns the axis attribute of ops that take one (Split).
func (n *Node) Axis() int { return n.axis }

// Payload returns the raw bytes of a Constant node, in host byte order, or nil for other nodes.
//
// The returned slice is shared with the Function, and must not be modified.
func (n *Node) Payload() []byte { return n.payload }

// IsParameter returns whether the node is a Parameter.
func (n *Node) IsParameter() bool { return n.opType == optypes.Parameter }

// IsConstant returns whether the node is a Constant.
func (n *Node) IsConstant() bool { return n.opType == optypes.Constant }

// IsResult returns whether the node is a Result.
func (n *Node) IsResult() bool { return n.opType == optypes.Result }

// Parent returns the output feeding into a Result node. It panics for other nodes.
func (n *Node) Parent() Output {
	if !n.IsResult() {
		panicf("Node.Parent() called on %s, which is not a Result", n)
	}
	return n.inputs[0]
}

// String implements fmt.Stringer, with a short description of the node.
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "#%d %s[%q](", n.id, n.opType, n.name)
	for ii, input := range n.inputs {
		if ii > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(input.Name())
	}
	sb.WriteString(") -> ")
	if n.NumOutputs() == 1 {
		sb.WriteString(n.outputShapes[0].String())
	} else {
		parts := make([]string, len(n.outputShapes))
		for ii, shape := range n.outputShapes {
			parts[ii] = shape.String()
		}
		fmt.Fprintf(&sb, "(%s)", strings.Join(parts, ", "))
	}
	if n.IsConstant() {
		fmt.Fprintf(&sb, " [%s]", humanize.Bytes(uint64(len(n.payload))))
	}
	return sb.String()
}

// Output is a handle to one of the outputs of a Node: it is the value that flows along an edge of the graph.
type Output struct {
	node  *Node
	index int
}

// Node that produces this output.
func (o Output) Node() *Node { return o.node }

// Index of this output among the node's outputs.
func (o Output) Index() int { return o.index }

// Shape of the output.
func (o Output) Shape() shapes.Shape { return o.node.outputShapes[o.index] }

// DType of the output.
func (o Output) DType() dtypes.DType { return o.Shape().DType }

// IsValid returns whether the output refers to an existing node output.
func (o Output) IsValid() bool {
	return o.node != nil && o.index >= 0 && o.index < len(o.node.outputShapes)
}

// Name of the output: the friendly name of its node, suffixed with ".<index>" if the node has multiple outputs.
//
// Backends don't have Result nodes: they name the buffer of a Result by the Name of the output feeding into it.
func (o Output) Name() string {
	if o.node.NumOutputs() > 1 {
		return o.node.name + "." + strconv.Itoa(o.index)
	}
	return o.node.name
}

// String implements fmt.Stringer.
func (o Output) String() string {
	if o.node == nil {
		return "Output(nil)"
	}
	return fmt.Sprintf("%s:%s", o.Name(), o.Shape())
}
