// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package executable

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/inferbridge/pkg/core/tensors"
	"github.com/gomlx/inferbridge/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Call executes the Function with the given inputs, one per Parameter in order, and returns one tensor per Result.
//
// outputs is optional: if not empty, it must have one entry per Result. A non-nil entry is a pre-allocated tensor
// (with the Result's shape) where the value of the Result is written, and it is returned in the same position.
// For nil entries (or if outputs is empty) a new tensor is allocated, and it is owned by the caller.
// The outputs slice itself is not modified.
//
// Inputs are only read. The values of the hoisted parameters, if any, are given automatically.
//
// On error no new tensor is returned, and the Executable can still be used.
func (e *Executable) Call(inputs []*tensors.Tensor, outputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	if e.finalized {
		return nil, errors.Wrapf(ErrFinalized, "Call() on Function %q", e.function.Name())
	}
	if len(inputs) != e.numInputs {
		return nil, errors.Wrapf(ErrInputCountMismatch, "Function %q takes %d inputs (plus %d hoisted), %d given",
			e.function.Name(), e.numInputs, len(e.hoisted), len(inputs))
	}
	numResults := e.function.NumResults()
	if len(outputs) != 0 && len(outputs) != numResults {
		return nil, errors.Wrapf(ErrOutputCountMismatch, "Function %q has %d results, but %d output slots were given",
			e.function.Name(), numResults, len(outputs))
	}
	if err := e.checkShapes(inputs, outputs); err != nil {
		return nil, err
	}
	if e.IsTrivial() {
		klog.V(2).Infof("executable: calling trivial Function %q", e.function.Name())
		return e.callTrivial(inputs, outputs)
	}
	klog.V(2).Infof("executable: calling compiled Function %q on %q", e.function.Name(), e.device)
	return e.callCompiled(inputs, outputs)
}

func (e *Executable) checkShapes(inputs, outputs []*tensors.Tensor) error {
	params := e.function.Parameters()
	for ii, input := range inputs {
		if err := input.CheckValid(); err != nil {
			return errors.Wrapf(ErrShapeMismatch, "input #%d (%q): %v", ii, params[ii].Name(), err)
		}
		if !input.Shape().Equal(params[ii].Shape()) {
			return errors.Wrapf(ErrShapeMismatch, "input #%d (%q) has shape %s, but the parameter has shape %s",
				ii, params[ii].Name(), input.Shape(), params[ii].Shape())
		}
	}
	resultShapes := e.function.ResultShapes()
	for ii, output := range outputs {
		if output == nil {
			continue
		}
		if err := output.CheckValid(); err != nil {
			return errors.Wrapf(ErrShapeMismatch, "output #%d: %v", ii, err)
		}
		if !output.Shape().Equal(resultShapes[ii]) {
			return errors.Wrapf(ErrShapeMismatch, "output #%d has shape %s, but the result has shape %s",
				ii, output.Shape(), resultShapes[ii])
		}
	}
	return nil
}

// callCompiled binds the inputs and outputs to the inference request, and executes it.
func (e *Executable) callCompiled(inputs, outputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	ports := e.network.Inputs()
	for ii, input := range inputs {
		klog.V(4).Infof("executable: binding input #%d to %q", ii, ports[ii].Name)
		if err := e.request.SetBuffer(ports[ii].Name, input); err != nil {
			return nil, errors.Wrapf(ErrDeviceExecutionFailure, "binding input #%d (%q): %v", ii, ports[ii].Name, err)
		}
	}
	for _, hoisted := range e.hoisted {
		klog.V(4).Infof("executable: binding hoisted parameter %q", hoisted.Name)
		if err := e.request.SetBuffer(hoisted.Name, hoisted.Tensor); err != nil {
			return nil, errors.Wrapf(ErrDeviceExecutionFailure, "binding hoisted parameter %q: %v", hoisted.Name, err)
		}
	}

	// Pre-allocated outputs are bound by the name of their producer. Outputs produced directly by a Parameter
	// share the name of the input, and they are copied after execution instead.
	preallocated := sets.Make[string](len(outputs))
	for ii, output := range outputs {
		name := e.outputNames[ii]
		if output == nil || e.inputNames.Has(name) || preallocated.Has(name) {
			continue
		}
		klog.V(4).Infof("executable: binding output #%d to %q", ii, name)
		if err := e.request.SetBuffer(name, output); err != nil {
			return nil, errors.Wrapf(ErrDeviceExecutionFailure, "binding output #%d (%q): %v", ii, name, err)
		}
		preallocated.Insert(name)
	}
	for name := range e.boundOutputs {
		if !preallocated.Has(name) {
			if err := e.request.SetBuffer(name, nil); err != nil {
				return nil, errors.Wrapf(ErrDeviceExecutionFailure, "unbinding output %q: %v", name, err)
			}
		}
	}
	e.boundOutputs = preallocated

	err := exceptions.TryCatch[error](func() {
		if inferErr := e.request.Infer(); inferErr != nil {
			panic(inferErr)
		}
	})
	if err != nil {
		return nil, errors.Wrapf(ErrDeviceExecutionFailure, "Function %q on device %q: %v", e.function.Name(), e.device, err)
	}

	// Collect results: copy first into pre-allocated outputs that were not bound, and only then hand out
	// newly allocated tensors, so nothing is returned if something fails.
	results := make([]*tensors.Tensor, len(e.outputNames))
	deviceTensors := make([]*tensors.Tensor, len(e.outputNames))
	for ii, name := range e.outputNames {
		t, err := e.request.GetBuffer(name)
		if err != nil {
			return nil, errors.Wrapf(ErrDeviceExecutionFailure, "fetching output #%d (%q): %v", ii, name, err)
		}
		deviceTensors[ii] = t
		if len(outputs) > 0 && outputs[ii] != nil {
			if t != outputs[ii] {
				if err := outputs[ii].CopyFrom(t); err != nil {
					return nil, errors.Wrapf(ErrDeviceExecutionFailure, "copying output #%d (%q): %v", ii, name, err)
				}
			}
			results[ii] = outputs[ii]
		}
	}
	// Caller's tensors are marked first: a device buffer of an earlier nil slot may be one of them.
	handedOut := sets.Make[*tensors.Tensor](len(results))
	for _, t := range results {
		if t != nil {
			handedOut.Insert(t)
		}
	}
	for ii, t := range deviceTensors {
		if results[ii] != nil {
			continue
		}
		if handedOut.Has(t) || e.inputNames.Has(e.outputNames[ii]) {
			// The same tensor can't be owned twice, and inputs are never handed out as outputs.
			clone, err := t.Clone()
			if err != nil {
				return nil, errors.Wrapf(ErrDeviceExecutionFailure, "copying output #%d: %v", ii, err)
			}
			t = clone
		}
		klog.V(4).Infof("executable: output #%d (%q) allocated by the device: %s", ii, e.outputNames[ii], t.Shape())
		results[ii] = t
		handedOut.Insert(t)
	}
	return results, nil
}

// callTrivial produces the results without the device: copying inputs or constants, or allocating empty tensors.
func (e *Executable) callTrivial(inputs, outputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	results := make([]*tensors.Tensor, len(e.trivialResults))
	var allocated []*tensors.Tensor
	fail := func(err error) ([]*tensors.Tensor, error) {
		for _, t := range allocated {
			t.Finalize()
		}
		return nil, err
	}
	for ii, tr := range e.trivialResults {
		var output *tensors.Tensor
		if len(outputs) > 0 {
			output = outputs[ii]
		}
		switch tr.kind {
		case producerZeroDim:
			if output == nil {
				output = tensors.FromShape(tr.shape)
				allocated = append(allocated, output)
			}

		case producerParameter:
			if tr.paramIdx < 0 || tr.paramIdx >= len(inputs) {
				return fail(errors.Wrapf(ErrParameterNotFound, "result #%d is fed by Parameter %q, which is not an input of Function %q",
					ii, tr.producer.Name(), e.function.Name()))
			}
			input := inputs[tr.paramIdx]
			if output == nil {
				output = tensors.FromShape(input.Shape())
				allocated = append(allocated, output)
			}
			if err := copyBytes(output, input); err != nil {
				return fail(errors.WithMessagef(err, "result #%d, copying Parameter %q", ii, tr.producer.Name()))
			}

		case producerConstant:
			if output == nil {
				t, err := tensors.FromBytes(tr.shape, tr.producer.Payload())
				if err != nil {
					return fail(errors.WithMessagef(err, "result #%d, Constant %q", ii, tr.producer.Name()))
				}
				output = t
				allocated = append(allocated, output)
			} else if _, err := output.Write(tr.producer.Payload()); err != nil {
				return fail(errors.WithMessagef(err, "result #%d, copying Constant %q", ii, tr.producer.Name()))
			}

		default:
			return fail(errors.Wrapf(ErrInvalidTrivialGraph, "result #%d of Function %q is fed by %s",
				ii, e.function.Name(), tr.producer))
		}
		results[ii] = output
	}
	return results, nil
}

// copyBytes copies the whole payload of src to dst, which must have the same size in bytes.
func copyBytes(dst, src *tensors.Tensor) error {
	if dst == src {
		return nil
	}
	buf := make([]byte, src.SizeInBytes())
	if _, err := src.Read(buf); err != nil {
		return err
	}
	_, err := dst.Write(buf)
	return err
}
