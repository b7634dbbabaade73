// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package executable

import "github.com/pkg/errors"

// Errors returned by New and Executable.Call. They are always wrapped with more details, use errors.Is to
// check for them.
var (
	// ErrUnsupportedOperation is returned by New if a node of the Function is not supported by the backend.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrNoHoistableInput is returned by New if the Function has no Parameters, it is not trivial, and it has
	// no Constant that can be turned into a Parameter.
	ErrNoHoistableInput = errors.New("no parameter and no constant that can be used as input")

	// ErrCompilationFailed is returned by New if the backend fails to compile the Function.
	ErrCompilationFailed = errors.New("compilation failed")

	// ErrInputCountMismatch is returned by Call if the number of inputs doesn't match the Function's Parameters.
	ErrInputCountMismatch = errors.New("number of inputs mismatch")

	// ErrOutputCountMismatch is returned by Call if outputs is not empty and its length is not the number of
	// Results of the Function.
	ErrOutputCountMismatch = errors.New("number of outputs mismatch")

	// ErrShapeMismatch is returned by Call if an input or a pre-allocated output doesn't have the shape
	// of its slot.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrParameterNotFound is returned by Call, on a trivial Function, if a Result is fed by a Parameter that is
	// not one of the Function's Parameters.
	ErrParameterNotFound = errors.New("parameter not found")

	// ErrInvalidTrivialGraph is returned by Call, on a trivial Function, if a Result is fed by something other
	// than a Parameter or a Constant.
	ErrInvalidTrivialGraph = errors.New("invalid trivial graph")

	// ErrDeviceExecutionFailure is returned by Call if the backend fails to execute the compiled Function.
	ErrDeviceExecutionFailure = errors.New("device execution failure")

	// ErrFinalized is returned by Call after the Executable is finalized.
	ErrFinalized = errors.New("executable was finalized")
)
