// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/inferbridge/pkg/core/dtypes"
	"github.com/gomlx/inferbridge/pkg/core/optypes"
	"github.com/gomlx/inferbridge/pkg/core/shapes"
	"github.com/gomlx/inferbridge/pkg/core/tensors"
	"github.com/pkg/errors"
)

// panicf panics with an error with a stack-trace, the way graph building reports misuse.
func panicf(format string, args ...any) {
	exceptions.Panicf(format, args...)
}

// Builder constructs a Function.
//
// The op methods (Add, MatMul, Split, ...) check shapes and dtypes as the graph is built, and panic
// (with an error with a stack-trace) on misuse. Build converts any such panic into a returned error, so a
// graph construction function can be wrapped as:
//
//	b := graph.NewBuilder("axpy")
//	x := b.Parameter("x", shapes.Make(dtypes.Float32, 3))
//	a := graph.Const(b, "a", []float32{2, 2, 2}, 3)
//	fn, err := b.Build(b.Mul(a, x))
//
// A Builder can only be built once.
type Builder struct {
	name       string
	nodes      []*Node
	parameters []*Node
	names      map[string]*Node
	built      bool
}

// NewBuilder creates a builder for a Function with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:  name,
		names: make(map[string]*Node),
	}
}

// Name of the Function being built.
func (b *Builder) Name() string { return b.name }

func (b *Builder) assertBuilding() {
	if b.built {
		panicf("graph.Builder %q was already built, it can't be changed", b.name)
	}
}

func (b *Builder) assertOwned(outputs ...Output) {
	for ii, o := range outputs {
		if !o.IsValid() {
			panicf("input #%d is not a valid Output", ii)
		}
		if o.node.builder != b {
			panicf("input #%d (%s) belongs to a different Function builder than %q", ii, o.node, b.name)
		}
	}
}

// newNode appends a node to the builder. If name is empty, a unique name "<op>_<id>" is generated.
func (b *Builder) newNode(opType optypes.OpType, name string, inputs []Output, outputShapes ...shapes.Shape) *Node {
	b.assertBuilding()
	b.assertOwned(inputs...)
	if len(outputShapes) == 0 {
		panicf("%s must have at least one output", opType)
	}
	for ii, shape := range outputShapes {
		if !shape.Ok() {
			panicf("%s output #%d has an invalid shape", opType, ii)
		}
	}
	node := &Node{
		builder:      b,
		id:           NodeID(len(b.nodes)),
		opType:       opType,
		inputs:       slices.Clone(inputs),
		outputShapes: outputShapes,
	}
	if name == "" {
		name = fmt.Sprintf("%s_%d", strings.ToLower(opType.String()), node.id)
	}
	if other, found := b.names[name]; found {
		panicf("node name %q used by %s is already used by %s", name, opType, other)
	}
	node.name = name
	b.names[name] = node
	b.nodes = append(b.nodes, node)
	return node
}

// SetName changes the friendly name of the node producing o. Names must be unique within the Function.
// It returns o, for convenience.
func (b *Builder) SetName(o Output, name string) Output {
	b.assertBuilding()
	b.assertOwned(o)
	if name == "" {
		panicf("SetName(): name cannot be empty")
	}
	if other, found := b.names[name]; found && other != o.node {
		panicf("SetName(): name %q is already used by %s", name, other)
	}
	delete(b.names, o.node.name)
	o.node.name = name
	b.names[name] = o.node
	return o
}

// Parameter creates an input of the Function. Parameters are bound positionally, in the order they are created,
// and their names must be unique.
func (b *Builder) Parameter(name string, shape shapes.Shape) Output {
	if name == "" {
		panicf("Parameter(): name cannot be empty")
	}
	node := b.newNode(optypes.Parameter, name, nil, shape.Clone())
	b.parameters = append(b.parameters, node)
	return node.Output(0)
}

// Constant creates a node with a copy of the given raw data, in host byte order.
// data must have exactly shape.ByteSize() bytes.
//
// If name is empty, a unique one is generated.
func (b *Builder) Constant(name string, shape shapes.Shape, data []byte) Output {
	if len(data) != shape.ByteSize() {
		panicf("Constant(%q): shape %s takes %d bytes, but %d bytes given", name, shape, shape.ByteSize(), len(data))
	}
	node := b.newNode(optypes.Constant, name, nil, shape.Clone())
	node.payload = slices.Clone(data)
	if node.payload == nil {
		node.payload = []byte{}
	}
	return node.Output(0)
}

// ConstantFromTensor creates a Constant with a copy of the contents of tensor.
func (b *Builder) ConstantFromTensor(name string, tensor *tensors.Tensor) Output {
	var out Output
	err := tensor.ConstBytes(func(data []byte) {
		out = b.Constant(name, tensor.Shape(), data)
	})
	if err != nil {
		panic(errors.WithMessagef(err, "ConstantFromTensor(%q)", name))
	}
	return out
}

// Const creates a Constant from a flat slice of Go values and the dimensions of the shape.
func Const[T dtypes.Supported](b *Builder, name string, flat []T, dimensions ...int) Output {
	return b.ConstantFromTensor(name, tensors.FromFlatDataAndDimensions(flat, dimensions...))
}

// Build finishes the Function, with one Result per given output, in the given order.
//
// Nodes that don't contribute to any of the results are pruned, except Parameters: all of them are kept, in the
// order they were created.
//
// Any panic raised while building (by Build itself) is returned as an error.
func (b *Builder) Build(outputs ...Output) (fn *Function, err error) {
	err = exceptions.TryCatch[error](func() {
		fn = b.build(outputs)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to build Function %q", b.name)
	}
	return fn, nil
}

// BuildFn calls buildFn with a new Builder, and builds the Function with the outputs it returns.
// Panics raised during buildFn (e.g. shape mismatches) are returned as errors.
func BuildFn(name string, buildFn func(b *Builder) []Output) (fn *Function, err error) {
	b := NewBuilder(name)
	var outputs []Output
	err = exceptions.TryCatch[error](func() {
		outputs = buildFn(b)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to build Function %q", name)
	}
	return b.Build(outputs...)
}

func (b *Builder) build(outputs []Output) *Function {
	b.assertBuilding()
	if len(outputs) == 0 {
		panicf("a Function needs at least one result")
	}
	b.assertOwned(outputs...)
	results := make([]*Node, len(outputs))
	for ii, output := range outputs {
		results[ii] = b.newNode(optypes.Result, fmt.Sprintf("result_%d", ii), []Output{output}, output.Shape())
	}
	b.built = true
	return newFunction(b.name, b.nodes, b.parameters, results)
}
