// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"os"
	"slices"

	jsoniter "github.com/json-iterator/go"
	"github.com/gomlx/inferbridge/pkg/core/optypes"
	"github.com/gomlx/inferbridge/pkg/core/shapes"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type serializedEdge struct {
	Node  int `json:"node"`
	Index int `json:"index,omitempty"`
}

type serializedNode struct {
	Op      optypes.OpType   `json:"op"`
	Name    string           `json:"name"`
	Inputs  []serializedEdge `json:"inputs,omitempty"`
	Shapes  []shapes.Shape   `json:"shapes"`
	Payload []byte           `json:"payload,omitempty"`
	Axis    int              `json:"axis,omitempty"`
}

type serializedFunction struct {
	Name       string           `json:"name"`
	Nodes      []serializedNode `json:"nodes"`
	Parameters []int            `json:"parameters"`
	Results    []int            `json:"results"`
}

// MarshalJSON implements json.Marshaler. Constant payloads are encoded in base64.
func (fn *Function) MarshalJSON() ([]byte, error) {
	sf := serializedFunction{
		Name:       fn.name,
		Nodes:      make([]serializedNode, len(fn.nodes)),
		Parameters: make([]int, len(fn.parameters)),
		Results:    make([]int, len(fn.results)),
	}
	for ii, node := range fn.nodes {
		sn := serializedNode{
			Op:      node.opType,
			Name:    node.name,
			Shapes:  node.outputShapes,
			Payload: node.payload,
			Axis:    node.axis,
		}
		for _, input := range node.inputs {
			sn.Inputs = append(sn.Inputs, serializedEdge{Node: int(input.node.id), Index: input.index})
		}
		sf.Nodes[ii] = sn
	}
	for ii, param := range fn.parameters {
		sf.Parameters[ii] = int(param.id)
	}
	for ii, result := range fn.results {
		sf.Results[ii] = int(result.id)
	}
	return json.Marshal(sf)
}

// UnmarshalJSON implements json.Unmarshaler. It validates the structure of the graph: inputs must refer to
// earlier nodes, names must be unique, Results must have exactly one input of the same shape and Constant
// payloads must match their shapes.
func (fn *Function) UnmarshalJSON(data []byte) error {
	var sf serializedFunction
	if err := json.Unmarshal(data, &sf); err != nil {
		return errors.Wrap(err, "failed to decode Function")
	}
	nodes := make([]*Node, len(sf.Nodes))
	names := make(map[string]bool, len(sf.Nodes))
	for ii, sn := range sf.Nodes {
		if !sn.Op.IsValid() {
			return errors.Errorf("node #%d: invalid op %s", ii, sn.Op)
		}
		if sn.Name == "" || names[sn.Name] {
			return errors.Errorf("node #%d: empty or duplicate name %q", ii, sn.Name)
		}
		names[sn.Name] = true
		if len(sn.Shapes) == 0 {
			return errors.Errorf("node #%d %q: no output shapes", ii, sn.Name)
		}
		for _, shape := range sn.Shapes {
			if !shape.Ok() || !shape.DType.IsADType() {
				return errors.Errorf("node #%d %q: invalid shape %s", ii, sn.Name, shape)
			}
			for _, dim := range shape.Dimensions {
				if dim < 0 {
					return errors.Errorf("node #%d %q: negative dimension in %s", ii, sn.Name, shape)
				}
			}
		}
		node := &Node{
			id:           NodeID(ii),
			opType:       sn.Op,
			name:         sn.Name,
			outputShapes: sn.Shapes,
			axis:         sn.Axis,
		}
		for _, edge := range sn.Inputs {
			if edge.Node < 0 || edge.Node >= ii {
				return errors.Errorf("node #%d %q: input refers to node #%d, which is not a previous node",
					ii, sn.Name, edge.Node)
			}
			inputNode := nodes[edge.Node]
			if edge.Index < 0 || edge.Index >= inputNode.NumOutputs() {
				return errors.Errorf("node #%d %q: input refers to output #%d of %s", ii, sn.Name, edge.Index, inputNode)
			}
			node.inputs = append(node.inputs, Output{node: inputNode, index: edge.Index})
		}
		switch sn.Op {
		case optypes.Parameter:
			if len(node.inputs) != 0 || node.NumOutputs() != 1 {
				return errors.Errorf("node #%d %q: Parameters must have no inputs and one output", ii, sn.Name)
			}
		case optypes.Constant:
			if len(node.inputs) != 0 || node.NumOutputs() != 1 {
				return errors.Errorf("node #%d %q: Constants must have no inputs and one output", ii, sn.Name)
			}
			if len(sn.Payload) != node.outputShapes[0].ByteSize() {
				return errors.Errorf("node #%d %q: Constant of shape %s needs %d bytes, got %d",
					ii, sn.Name, node.outputShapes[0], node.outputShapes[0].ByteSize(), len(sn.Payload))
			}
			node.payload = sn.Payload
			if node.payload == nil {
				node.payload = []byte{}
			}
		case optypes.Result:
			if len(node.inputs) != 1 || node.NumOutputs() != 1 || !node.inputs[0].Shape().Equal(node.outputShapes[0]) {
				return errors.Errorf("node #%d %q: Results must have one input with the same shape", ii, sn.Name)
			}
		}
		nodes[ii] = node
	}

	collect := func(ids []int, opType optypes.OpType) ([]*Node, error) {
		list := make([]*Node, len(ids))
		seen := make(map[int]bool, len(ids))
		for ii, id := range ids {
			if id < 0 || id >= len(nodes) || nodes[id].opType != opType || seen[id] {
				return nil, errors.Errorf("%s #%d refers to invalid node #%d", opType, ii, id)
			}
			seen[id] = true
			list[ii] = nodes[id]
		}
		return list, nil
	}
	parameters, err := collect(sf.Parameters, optypes.Parameter)
	if err != nil {
		return err
	}
	results, err := collect(sf.Results, optypes.Result)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return errors.New("a Function needs at least one result")
	}
	for _, node := range nodes {
		if node.IsParameter() && !slices.Contains(parameters, node) {
			return errors.Errorf("Parameter %s is not listed among the Function's parameters", node)
		}
	}
	*fn = *newFunction(sf.Name, nodes, parameters, results)
	return nil
}

// Save the Function in JSON format to the given file.
func (fn *Function) Save(filePath string) error {
	data, err := fn.MarshalJSON()
	if err != nil {
		return errors.WithMessagef(err, "failed to serialize Function %q", fn.name)
	}
	if err = os.WriteFile(filePath, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to save Function %q to %q", fn.name, filePath)
	}
	return nil
}

// Load a Function saved in JSON format with Function.Save.
func Load(filePath string) (*Function, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read Function from %q", filePath)
	}
	fn := &Function{}
	if err = fn.UnmarshalJSON(data); err != nil {
		return nil, errors.WithMessagef(err, "failed to load Function from %q", filePath)
	}
	return fn, nil
}
