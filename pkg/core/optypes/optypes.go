// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package optypes enumerates the operation types a graph Function node can have.
//
// It is a leaf package, shared by the graph (which builds nodes) and the backends (which
// declare, through their Capabilities, which of these operations they can execute).
//
// Notice: the enumeration is a superset of what any given backend supports. Backends declare the
// subset they implement, and a Function using anything outside it is rejected before compilation.
package optypes

import (
	"strconv"

	"github.com/pkg/errors"
)

// OpType is an enum of the operations a node in a graph Function can perform.
type OpType int

const (
	Invalid OpType = iota

	// Parameter, Constant and Result are the structural nodes of a Function.
	Parameter
	Constant
	Result

	Identity

	// Unary element-wise operations.
	Abs
	Neg
	Exp
	Log
	Sqrt
	Tanh
	Logistic
	Erf

	// Binary element-wise operations.
	Add
	Sub
	Mul
	Div
	Max
	Min
	Pow

	// Shape and type manipulation.
	ConvertDType
	Reshape
	Transpose
	Concatenate
	Split

	// Linear algebra, reductions and others.
	MatMul
	ReduceSum
	ReduceMax
	Gather
	Sort
	FFT

	// Last should always be kept the last, it is used as a counter/marker for OpType.
	Last
)

var opTypeNames = [...]string{
	Invalid:      "Invalid",
	Parameter:    "Parameter",
	Constant:     "Constant",
	Result:       "Result",
	Identity:     "Identity",
	Abs:          "Abs",
	Neg:          "Neg",
	Exp:          "Exp",
	Log:          "Log",
	Sqrt:         "Sqrt",
	Tanh:         "Tanh",
	Logistic:     "Logistic",
	Erf:          "Erf",
	Add:          "Add",
	Sub:          "Sub",
	Mul:          "Mul",
	Div:          "Div",
	Max:          "Max",
	Min:          "Min",
	Pow:          "Pow",
	ConvertDType: "ConvertDType",
	Reshape:      "Reshape",
	Transpose:    "Transpose",
	Concatenate:  "Concatenate",
	Split:        "Split",
	MatMul:       "MatMul",
	ReduceSum:    "ReduceSum",
	ReduceMax:    "ReduceMax",
	Gather:       "Gather",
	Sort:         "Sort",
	FFT:          "FFT",
	Last:         "Last",
}

var opTypeByName = func() map[string]OpType {
	m := make(map[string]OpType, len(opTypeNames))
	for op, name := range opTypeNames {
		m[name] = OpType(op)
	}
	return m
}()

// String implements fmt.Stringer.
func (op OpType) String() string {
	if op < 0 || op > Last {
		return "OpType(" + strconv.Itoa(int(op)) + ")"
	}
	return opTypeNames[op]
}

// IsValid returns whether op is one of the enumerated operations (excluding Invalid and Last).
func (op OpType) IsValid() bool {
	return op > Invalid && op < Last
}

// IsUnary returns whether op is an element-wise operation with one operand.
func (op OpType) IsUnary() bool {
	return op >= Abs && op <= Erf
}

// IsBinary returns whether op is an element-wise operation with two operands of the same shape.
func (op OpType) IsBinary() bool {
	return op >= Add && op <= Pow
}

// Parse returns the OpType for the given name, as printed by OpType.String.
func Parse(name string) (OpType, error) {
	op, found := opTypeByName[name]
	if !found || !op.IsValid() {
		return Invalid, errors.Errorf("unknown operation type %q", name)
	}
	return op, nil
}

// MarshalText implements encoding.TextMarshaler, so op types are serialized by name.
func (op OpType) MarshalText() ([]byte, error) {
	if !op.IsValid() {
		return nil, errors.Errorf("cannot marshal invalid %s", op)
	}
	return []byte(op.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (op *OpType) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}
