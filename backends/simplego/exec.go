// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/inferbridge/backends"
	"github.com/gomlx/inferbridge/pkg/core/graph"
	"github.com/gomlx/inferbridge/pkg/core/optypes"
	"github.com/gomlx/inferbridge/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// nodeExecutor executes a node with the given inputs, and returns newly allocated outputs.
// It may panic (with an error) on failure.
type nodeExecutor func(backend *Backend, node *graph.Node, inputs []*tensors.Tensor) ([]*tensors.Tensor, error)

// nodeExecutors holds the executor of each op type, registered by the exec_*.go files.
var nodeExecutors [optypes.Last]nodeExecutor

var _ backends.Network = (*Network)(nil)

// Network is a graph.Function validated for execution by the backend.
//
// It is immutable and can create any number of Requests.
type Network struct {
	backend *Backend
	fn      *graph.Function
	nodes   []*graph.Node

	inputs, outputs []backends.PortInfo
	inputIdx        map[string]int
	outputIdx       map[string][]int

	// constants hold the value of the Constant nodes, indexed by NodeID. They are never given to callers.
	constants []*tensors.Tensor

	// numUses is the number of times the outputs of each node are consumed, indexed by NodeID.
	numUses []int
}

func newNetwork(backend *Backend, fn *graph.Function) (*Network, error) {
	n := &Network{
		backend:   backend,
		fn:        fn,
		nodes:     fn.Nodes(),
		inputIdx:  make(map[string]int),
		outputIdx: make(map[string][]int),
	}
	n.constants = make([]*tensors.Tensor, len(n.nodes))
	n.numUses = make([]int, len(n.nodes))
	for _, node := range n.nodes {
		if err := validateNode(node); err != nil {
			n.Finalize()
			return nil, errors.WithMessagef(err, "failed to compile Function %q", fn.Name())
		}
		if node.IsConstant() {
			constant, err := tensors.FromBytes(node.Shape(), node.Payload())
			if err != nil {
				n.Finalize()
				return nil, errors.WithMessagef(err, "failed to compile Function %q", fn.Name())
			}
			n.constants[node.ID()] = constant
		}
		for _, input := range node.Inputs() {
			n.numUses[input.Node().ID()]++
		}
	}
	for ii, param := range fn.Parameters() {
		n.inputs = append(n.inputs, backends.PortInfo{Name: param.Name(), Shape: param.Shape()})
		n.inputIdx[param.Name()] = ii
	}
	for ii, result := range fn.Results() {
		name := fn.ProducerName(result)
		n.outputs = append(n.outputs, backends.PortInfo{Name: name, Shape: result.Shape()})
		n.outputIdx[name] = append(n.outputIdx[name], ii)
	}
	klog.V(2).Infof("simplego: compiled Function %q: %d nodes, %d inputs, %d outputs",
		fn.Name(), len(n.nodes), len(n.inputs), len(n.outputs))
	return n, nil
}

// Name of the compiled Function.
func (n *Network) Name() string { return n.fn.Name() }

// Inputs implements backends.Network.
func (n *Network) Inputs() []backends.PortInfo { return n.inputs }

// Outputs implements backends.Network. If more than one Result is fed by the same output, the name is repeated.
func (n *Network) Outputs() []backends.PortInfo { return n.outputs }

// NewRequest implements backends.Network.
func (n *Network) NewRequest() (backends.InferRequest, error) {
	if n.constants == nil {
		return nil, errors.Errorf("network %q was finalized", n.Name())
	}
	return &Request{
		network:      n,
		inputs:       make([]*tensors.Tensor, len(n.inputs)),
		boundOutputs: make(map[string]*tensors.Tensor),
		outputs:      make(map[string]*tensors.Tensor),
	}, nil
}

// Finalize releases the constants of the network.
func (n *Network) Finalize() {
	for _, constant := range n.constants {
		constant.Finalize()
	}
	n.constants = nil
}

var _ backends.InferRequest = (*Request)(nil)

// Request holds the bound buffers of one inference of a Network.
type Request struct {
	network *Network

	// inputs bound by the caller, indexed by parameter position.
	inputs []*tensors.Tensor

	// boundOutputs are output tensors given by the caller, to be written in place.
	boundOutputs map[string]*tensors.Tensor

	// outputs of the last call to Infer.
	outputs map[string]*tensors.Tensor
}

// SetBuffer binds tensor to the input or output with the given name. The tensor shape must match.
// A nil tensor unbinds an output.
//
// If the name is both an input and an output (a Parameter returned as a result), it binds the input.
func (r *Request) SetBuffer(name string, tensor *tensors.Tensor) error {
	if tensor == nil {
		if _, found := r.network.outputIdx[name]; found {
			delete(r.boundOutputs, name)
			return nil
		}
	}
	if err := tensor.CheckValid(); err != nil {
		return errors.WithMessagef(err, "SetBuffer(%q)", name)
	}
	if idx, found := r.network.inputIdx[name]; found {
		if want := r.network.inputs[idx].Shape; !want.Equal(tensor.Shape()) {
			return errors.Errorf("SetBuffer(%q): input requires shape %s, got %s", name, want, tensor.Shape())
		}
		r.inputs[idx] = tensor
		return nil
	}
	if idxs, found := r.network.outputIdx[name]; found {
		if want := r.network.outputs[idxs[0]].Shape; !want.Equal(tensor.Shape()) {
			return errors.Errorf("SetBuffer(%q): output requires shape %s, got %s", name, want, tensor.Shape())
		}
		r.boundOutputs[name] = tensor
		return nil
	}
	return errors.Errorf("SetBuffer(%q): network %q has no input or output with that name", name, r.network.Name())
}

// GetBuffer returns the bound input with the given name, or the output with the given name computed by the last
// Infer.
func (r *Request) GetBuffer(name string) (*tensors.Tensor, error) {
	if t, found := r.outputs[name]; found {
		return t, nil
	}
	if _, found := r.network.outputIdx[name]; found {
		return nil, errors.Errorf("GetBuffer(%q): output not available, Infer() must be called first", name)
	}
	if idx, found := r.network.inputIdx[name]; found {
		if r.inputs[idx] == nil {
			return nil, errors.Errorf("GetBuffer(%q): input was not set", name)
		}
		return r.inputs[idx], nil
	}
	return nil, errors.Errorf("GetBuffer(%q): network %q has no input or output with that name", name, r.network.Name())
}

// Finalize releases the bindings of the request. Bound tensors and outputs already returned are not finalized.
func (r *Request) Finalize() {
	clear(r.inputs)
	clear(r.boundOutputs)
	clear(r.outputs)
}

// Infer executes the network sequentially, in topological order.
//
// Outputs not bound with SetBuffer are freshly allocated on every call, and are owned by the caller.
func (r *Request) Infer() error {
	n := r.network
	if n.constants == nil {
		return errors.Errorf("network %q was finalized", n.Name())
	}
	for ii, input := range r.inputs {
		if input == nil {
			return errors.Errorf("Infer(): input %q was not set", n.inputs[ii].Name)
		}
		if err := input.CheckValid(); err != nil {
			return errors.WithMessagef(err, "Infer(): input %q", n.inputs[ii].Name)
		}
	}
	outputs := make(map[string]*tensors.Tensor, len(n.outputs))
	err := exceptions.TryCatch[error](func() { r.execute(outputs) })
	if err != nil {
		return errors.WithMessagef(err, "Infer() of network %q failed", n.Name())
	}
	r.outputs = outputs
	return nil
}

func (r *Request) execute(outputs map[string]*tensors.Tensor) {
	n := r.network
	values := make([][]*tensors.Tensor, len(n.nodes))
	owned := make([]bool, len(n.nodes))
	remainingUses := make([]int, len(n.nodes))
	copy(remainingUses, n.numUses)
	handedOut := make(map[*tensors.Tensor]bool)

	for _, node := range n.nodes {
		id := node.ID()
		switch node.OpType() {
		case optypes.Parameter:
			values[id] = []*tensors.Tensor{r.inputs[n.fn.ParameterIndex(node)]}
		case optypes.Constant:
			values[id] = []*tensors.Tensor{n.constants[id]}
		case optypes.Result:
			parent := node.Input(0)
			value := values[parent.Node().ID()][parent.Index()]
			name := parent.Name()
			if _, done := outputs[name]; done {
				break
			}
			if bound, found := r.boundOutputs[name]; found {
				if err := bound.CopyFrom(value); err != nil {
					panic(err)
				}
				outputs[name] = bound
			} else if owned[parent.Node().ID()] && !handedOut[value] {
				outputs[name] = value
				handedOut[value] = true
			} else {
				clone, err := value.Clone()
				if err != nil {
					panic(err)
				}
				outputs[name] = clone
			}
			klog.V(4).Infof("simplego: output %q -> %s", name, outputs[name].Shape())
		default:
			inputs := make([]*tensors.Tensor, node.NumInputs())
			for ii, input := range node.Inputs() {
				inputs[ii] = values[input.Node().ID()][input.Index()]
			}
			results, err := nodeExecutors[node.OpType()](n.backend, node, inputs)
			if err != nil {
				panic(errors.WithMessagef(err, "executing %s", node))
			}
			values[id] = results
			owned[id] = true
		}

		// Free intermediary values no longer needed.
		for _, input := range node.Inputs() {
			inputID := input.Node().ID()
			remainingUses[inputID]--
			if remainingUses[inputID] == 0 && owned[inputID] {
				for _, value := range values[inputID] {
					if !handedOut[value] {
						value.Finalize()
					}
				}
				values[inputID] = nil
			}
		}
	}
}
