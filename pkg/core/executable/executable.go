// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package executable prepares a graph.Function to be executed repeatedly on a device of a backend.
//
// New validates that every operation of the Function is supported by the backend, and then either:
//
//   - Detects that the Function is trivial: every Result is fed directly by a Parameter or by a Constant, or
//     it is empty (one of its dimensions is 0). Trivial Functions are never compiled: Call simply copies the
//     inputs or the constants to the outputs.
//   - Compiles the Function for the device. Functions without Parameters can't be bound to any input by most
//     devices: in that case the first Constant (not a 64-bit integer) is converted to a Parameter (it is
//     "hoisted"), and its value is automatically given on every Call.
//
// Call then binds the caller's tensors to the compiled network and executes it synchronously.
//
// An Executable is not safe for concurrent use: calls must be serialized by the caller.
package executable

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/inferbridge/backends"
	"github.com/gomlx/inferbridge/pkg/core/graph"
	"github.com/gomlx/inferbridge/pkg/core/optypes"
	"github.com/gomlx/inferbridge/pkg/core/shapes"
	"github.com/gomlx/inferbridge/pkg/core/tensors"
	"github.com/gomlx/inferbridge/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// HoistedParameter is a Constant that was converted to a Parameter when compiling a Function without
// Parameters. Its Tensor holds the value of the Constant, and it is owned by the Executable.
type HoistedParameter struct {
	Name   string
	Tensor *tensors.Tensor
}

// producerKind is how the value of a Result of a trivial Function is produced.
type producerKind int

const (
	producerInvalid producerKind = iota
	producerZeroDim
	producerParameter
	producerConstant
)

// trivialResult describes how Call produces one result of a trivial Function. It is resolved once in New.
type trivialResult struct {
	kind  producerKind
	shape shapes.Shape

	// paramIdx is the position of the Parameter in the Function, or -1 if it is not one of its Parameters.
	paramIdx int
	producer *graph.Node
}

// Executable is a Function prepared for execution on a device. See package documentation for details.
type Executable struct {
	backend backends.Backend
	device  string

	// function is the Function executed: the trivial one, or the one compiled, after hoisting.
	function *graph.Function

	// trivialResults is set if the Function is trivial.
	trivialResults []trivialResult

	// network and request are set if the Function is not trivial.
	network backends.Network
	request backends.InferRequest

	// outputNames of the network, by Result position.
	outputNames []string

	// inputNames of the network, as a set.
	inputNames sets.Set[string]

	// boundOutputs are the outputs bound to caller's tensors in the last Call.
	boundOutputs sets.Set[string]

	numInputs int
	hoisted   []HoistedParameter
	finalized bool
}

// New creates an Executable for the Function on the given device of the backend.
//
// Errors (see package errors) can be checked with errors.Is: ErrUnsupportedOperation, ErrNoHoistableInput and
// ErrCompilationFailed.
func New(backend backends.Backend, fn *graph.Function, device string, opts ...Option) (*Executable, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	e := &Executable{
		backend: backend,
		device:  device,
	}

	// Operations validation.
	klog.V(2).Infof("executable: validating Function %q (%d nodes) for backend %q", fn.Name(), fn.NumNodes(), backend.Name())
	if err := validateOperations(backend.Capabilities(), fn); err != nil {
		return nil, err
	}

	// Trivial Functions don't need to be compiled.
	if trivialResults, isTrivial := classifyTrivial(fn); isTrivial {
		klog.V(2).Infof("executable: Function %q is trivial, it won't be compiled", fn.Name())
		e.function = fn
		e.trivialResults = trivialResults
		e.numInputs = fn.NumParameters()
		return e, nil
	}

	// Functions without parameters: convert a Constant to a Parameter.
	if fn.NumParameters() == 0 {
		var err error
		fn, err = e.hoistParameter(fn)
		if err != nil {
			return nil, err
		}
	}

	// Compile.
	e.function = fn
	if err := e.compile(); err != nil {
		e.Finalize()
		return nil, err
	}
	if options.dumpDir != "" {
		e.dump(options.dumpDir)
	}
	return e, nil
}

// validateOperations checks that every node is supported, and reports all the unsupported op types.
func validateOperations(caps backends.Capabilities, fn *graph.Function) error {
	unsupported := sets.Make[optypes.OpType]()
	var firstNode *graph.Node
	for _, node := range fn.Nodes() {
		if caps.SupportsOp(node.OpType()) {
			continue
		}
		klog.V(0).Infof("executable: unsupported operation %s in node %q of Function %q",
			node.OpType(), node.Name(), fn.Name())
		if firstNode == nil {
			firstNode = node
		}
		unsupported.Insert(node.OpType())
	}
	if firstNode == nil {
		return nil
	}
	return errors.Wrapf(ErrUnsupportedOperation, "Function %q: node %q has operation %s, all unsupported operations: %v",
		fn.Name(), firstNode.Name(), firstNode.OpType(), sets.Sorted(unsupported))
}

// classifyTrivial returns how each Result is produced, if the Function is trivial.
func classifyTrivial(fn *graph.Function) ([]trivialResult, bool) {
	results := fn.Results()
	trivialResults := make([]trivialResult, len(results))
	for ii, result := range results {
		parent := result.Parent().Node()
		tr := trivialResult{shape: result.Shape(), producer: parent, paramIdx: -1}
		switch {
		case result.Shape().HasZeroDim():
			tr.kind = producerZeroDim
		case parent.IsParameter():
			tr.kind = producerParameter
			tr.paramIdx = fn.ParameterIndex(parent)
		case parent.IsConstant():
			tr.kind = producerConstant
		default:
			return nil, false
		}
		trivialResults[ii] = tr
	}
	return trivialResults, true
}

// hoistParameter replaces the first eligible Constant by a Parameter, and returns the new Function.
func (e *Executable) hoistParameter(fn *graph.Function) (*graph.Function, error) {
	for _, node := range fn.Nodes() {
		if !node.IsConstant() || node.NumInputs() != 0 || node.DType().Is64BitInt() {
			continue
		}
		value, err := tensors.FromBytes(node.Shape(), node.Payload())
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to hoist Constant %q of Function %q", node.Name(), fn.Name())
		}
		newFn, param, err := fn.SubstituteConstant(node)
		if err != nil {
			value.Finalize()
			return nil, errors.WithMessagef(err, "failed to hoist Constant %q of Function %q", node.Name(), fn.Name())
		}
		e.hoisted = append(e.hoisted, HoistedParameter{Name: param.Name(), Tensor: value})
		klog.V(1).Infof("executable: Function %q has no parameters, hoisted Constant %q (%s) to a Parameter",
			fn.Name(), node.Name(), node.Shape())
		return newFn, nil
	}
	return nil, errors.Wrapf(ErrNoHoistableInput, "Function %q", fn.Name())
}

// compile the Function and create the inference request.
func (e *Executable) compile() error {
	fn := e.function
	klog.V(2).Infof("executable: compiling Function %q for device %q", fn.Name(), e.device)
	var err error
	panicErr := exceptions.TryCatch[error](func() {
		e.network, err = e.backend.Compile(fn, e.device)
		if err == nil {
			e.request, err = e.network.NewRequest()
		}
	})
	if panicErr != nil {
		err = panicErr
	}
	if err != nil {
		return errors.Wrapf(ErrCompilationFailed, "Function %q on device %q of backend %q: %v",
			fn.Name(), e.device, e.backend.Name(), err)
	}
	e.inputNames = sets.Make[string]()
	for _, port := range e.network.Inputs() {
		e.inputNames.Insert(port.Name)
	}
	e.outputNames = make([]string, fn.NumResults())
	for ii, result := range fn.Results() {
		e.outputNames[ii] = fn.ProducerName(result)
	}
	e.boundOutputs = sets.Make[string]()
	e.numInputs = len(e.network.Inputs()) - len(e.hoisted)
	return nil
}

// IsTrivial returns whether the Function is trivial, and hence executed without the device.
func (e *Executable) IsTrivial() bool { return e.trivialResults != nil }

// Device the Executable was created for.
func (e *Executable) Device() string { return e.device }

// Function returns the Function executed. If a Constant was hoisted, it is the transformed Function.
func (e *Executable) Function() *graph.Function { return e.function }

// NumInputs returns the number of inputs Call expects, not counting the hoisted parameters.
func (e *Executable) NumInputs() int { return e.numInputs }

// NumOutputs returns the number of outputs returned by Call.
func (e *Executable) NumOutputs() int { return e.function.NumResults() }

// HoistedParameters returns the Constants converted to Parameters by New. It is empty if no Constant was hoisted.
// The tensors are owned by the Executable and must not be modified.
func (e *Executable) HoistedParameters() []HoistedParameter {
	return append([]HoistedParameter(nil), e.hoisted...)
}

// String implements fmt.Stringer.
func (e *Executable) String() string {
	kind := "compiled"
	if e.IsTrivial() {
		kind = "trivial"
	}
	return fmt.Sprintf("Executable(%q, %s, device=%q, %d inputs, %d outputs, %d hoisted)",
		e.function.Name(), kind, e.device, e.NumInputs(), e.NumOutputs(), len(e.hoisted))
}

// Finalize releases the compiled network, the inference request and the hoisted tensors.
// The Executable can't be used afterward.
func (e *Executable) Finalize() {
	if e.finalized {
		return
	}
	e.finalized = true
	if e.request != nil {
		e.request.Finalize()
		e.request = nil
	}
	if e.network != nil {
		e.network.Finalize()
		e.network = nil
	}
	for _, hoisted := range e.hoisted {
		hoisted.Tensor.Finalize()
	}
}
