// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/inferbridge/pkg/core/optypes"
	"github.com/gomlx/inferbridge/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Function is an immutable computation graph: a list of Parameters (its inputs), a list of Results (its outputs)
// and the nodes connecting them.
//
// Nodes are stored in topological order: every node comes after the nodes it takes as input. Functions are
// created with a Builder, deserialized with Load/UnmarshalJSON, or derived from another Function with
// SubstituteConstant. A Function is never changed after created, and it is safe for concurrent reads.
type Function struct {
	name       string
	nodes      []*Node
	parameters []*Node
	results    []*Node
	byName     map[string]*Node
}

// newFunction prunes nodes not reachable from the results (Parameters are always kept), renumbers the remaining
// nodes in their topological order and freezes them.
func newFunction(name string, allNodes, parameters, results []*Node) *Function {
	used := make(map[*Node]bool, len(allNodes))
	var visit func(node *Node)
	visit = func(node *Node) {
		if used[node] {
			return
		}
		used[node] = true
		for _, input := range node.inputs {
			visit(input.node)
		}
	}
	for _, result := range results {
		visit(result)
	}
	for _, param := range parameters {
		used[param] = true
	}

	fn := &Function{
		name:       name,
		parameters: parameters,
		results:    results,
		byName:     make(map[string]*Node, len(used)),
	}
	fn.nodes = make([]*Node, 0, len(used))
	for _, node := range allNodes {
		if !used[node] {
			continue
		}
		node.id = NodeID(len(fn.nodes))
		node.builder = nil
		fn.nodes = append(fn.nodes, node)
		fn.byName[node.name] = node
	}
	return fn
}

// Name of the Function. It may be empty.
func (fn *Function) Name() string { return fn.name }

// NumNodes returns the number of nodes in the Function, including Parameters and Results.
func (fn *Function) NumNodes() int { return len(fn.nodes) }

// Nodes returns the nodes of the Function in topological order. The returned slice is a copy, but the nodes
// are shared and must not be modified.
func (fn *Function) Nodes() []*Node { return slices.Clone(fn.nodes) }

// Parameters returns the inputs of the Function, in the order they must be given.
func (fn *Function) Parameters() []*Node { return slices.Clone(fn.parameters) }

// NumParameters returns the number of Parameters of the Function.
func (fn *Function) NumParameters() int { return len(fn.parameters) }

// Results returns the Result nodes of the Function, in the order their values are returned.
func (fn *Function) Results() []*Node { return slices.Clone(fn.results) }

// NumResults returns the number of Results of the Function.
func (fn *Function) NumResults() int { return len(fn.results) }

// NodeByName returns the node with the given friendly name, if any.
func (fn *Function) NodeByName(name string) (*Node, bool) {
	node, found := fn.byName[name]
	return node, found
}

// ParameterIndex returns the position of the Parameter within the Function's inputs, or -1 if the node
// is not one of the Function's Parameters.
func (fn *Function) ParameterIndex(param *Node) int {
	return slices.Index(fn.parameters, param)
}

// ProducerName returns the name a backend uses for the buffer of the given Result: the name of the output
// that feeds into it (see Output.Name).
func (fn *Function) ProducerName(result *Node) string {
	return result.Parent().Name()
}

// SubstituteConstant returns a new Function where the given Constant node is replaced by a new Parameter
// with the same name and shape, appended to the list of Parameters. It also returns the new Parameter node.
//
// The original Function is not changed.
func (fn *Function) SubstituteConstant(constant *Node) (*Function, *Node, error) {
	if constant == nil || !constant.IsConstant() {
		return nil, nil, errors.Errorf("SubstituteConstant(%s): node is not a Constant", constant)
	}
	if constant.NumInputs() != 0 {
		return nil, nil, errors.Errorf("SubstituteConstant(%s): Constant has inputs", constant)
	}
	if int(constant.id) >= len(fn.nodes) || fn.nodes[constant.id] != constant {
		return nil, nil, errors.Errorf("SubstituteConstant(%s): node doesn't belong to Function %q", constant, fn.name)
	}

	clones := make(map[*Node]*Node, len(fn.nodes))
	nodes := make([]*Node, len(fn.nodes))
	var param *Node
	for ii, node := range fn.nodes {
		clone := &Node{
			id:           node.id,
			opType:       node.opType,
			name:         node.name,
			outputShapes: node.outputShapes,
			payload:      node.payload,
			axis:         node.axis,
		}
		if node == constant {
			clone.opType = optypes.Parameter
			clone.payload = nil
			param = clone
		}
		if len(node.inputs) > 0 {
			clone.inputs = make([]Output, len(node.inputs))
			for jj, input := range node.inputs {
				clone.inputs[jj] = Output{node: clones[input.node], index: input.index}
			}
		}
		clones[node] = clone
		nodes[ii] = clone
	}
	parameters := make([]*Node, 0, len(fn.parameters)+1)
	for _, p := range fn.parameters {
		parameters = append(parameters, clones[p])
	}
	parameters = append(parameters, param)
	results := make([]*Node, len(fn.results))
	for ii, r := range fn.results {
		results[ii] = clones[r]
	}
	return newFunction(fn.name, nodes, parameters, results), param, nil
}

// OpTypes returns the set of op types used by the Function, in the order they first appear.
func (fn *Function) OpTypes() []optypes.OpType {
	var ops []optypes.OpType
	for _, node := range fn.nodes {
		if !slices.Contains(ops, node.opType) {
			ops = append(ops, node.opType)
		}
	}
	return ops
}

// ResultShapes returns the shapes of the Results, in order.
func (fn *Function) ResultShapes() []shapes.Shape {
	shapesList := make([]shapes.Shape, len(fn.results))
	for ii, r := range fn.results {
		shapesList[ii] = r.Shape()
	}
	return shapesList
}

// String returns a multi-line listing of the Function.
func (fn *Function) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Function %q: %d parameters, %d results, %d nodes\n",
		fn.name, len(fn.parameters), len(fn.results), len(fn.nodes))
	for _, node := range fn.nodes {
		fmt.Fprintf(&sb, "\t%s\n", node)
	}
	return sb.String()
}
