// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/gomlx/inferbridge/pkg/core/dtypes"
	"github.com/gomlx/inferbridge/pkg/core/optypes"
	"github.com/gomlx/inferbridge/pkg/core/shapes"
)

func (b *Builder) unary(opType optypes.OpType, x Output) Output {
	b.assertOwned(x)
	if !x.DType().IsFloat() && opType != optypes.Identity && opType != optypes.Abs && opType != optypes.Neg {
		panicf("%s requires a float operand, got %s", opType, x.Shape())
	}
	if x.DType() == dtypes.Bool && opType != optypes.Identity {
		panicf("%s doesn't accept booleans", opType)
	}
	return b.newNode(opType, "", []Output{x}, x.Shape().Clone()).Output(0)
}

func (b *Builder) binary(opType optypes.OpType, x, y Output) Output {
	b.assertOwned(x, y)
	if !x.Shape().Equal(y.Shape()) {
		panicf("%s requires operands of the same shape, got %s and %s", opType, x.Shape(), y.Shape())
	}
	if x.DType() == dtypes.Bool {
		panicf("%s doesn't accept booleans", opType)
	}
	return b.newNode(opType, "", []Output{x, y}, x.Shape().Clone()).Output(0)
}

// Identity returns a new node with the same value as x.
func (b *Builder) Identity(x Output) Output { return b.unary(optypes.Identity, x) }

// Abs returns the element-wise absolute value of x.
func (b *Builder) Abs(x Output) Output { return b.unary(optypes.Abs, x) }

// Neg returns the element-wise negation of x.
func (b *Builder) Neg(x Output) Output { return b.unary(optypes.Neg, x) }

// Exp returns the element-wise e^x. x must be a float.
func (b *Builder) Exp(x Output) Output { return b.unary(optypes.Exp, x) }

// Log returns the element-wise natural logarithm of x. x must be a float.
func (b *Builder) Log(x Output) Output { return b.unary(optypes.Log, x) }

// Sqrt returns the element-wise square root of x. x must be a float.
func (b *Builder) Sqrt(x Output) Output { return b.unary(optypes.Sqrt, x) }

// Tanh returns the element-wise hyperbolic tangent of x. x must be a float.
func (b *Builder) Tanh(x Output) Output { return b.unary(optypes.Tanh, x) }

// Logistic returns the element-wise 1/(1+e^-x), also known as sigmoid. x must be a float.
func (b *Builder) Logistic(x Output) Output { return b.unary(optypes.Logistic, x) }

// Add returns x+y element-wise. Operands must have the same shape.
func (b *Builder) Add(x, y Output) Output { return b.binary(optypes.Add, x, y) }

// Sub returns x-y element-wise. Operands must have the same shape.
func (b *Builder) Sub(x, y Output) Output { return b.binary(optypes.Sub, x, y) }

// Mul returns x*y element-wise. Operands must have the same shape.
func (b *Builder) Mul(x, y Output) Output { return b.binary(optypes.Mul, x, y) }

// Div returns x/y element-wise. Operands must have the same shape.
func (b *Builder) Div(x, y Output) Output { return b.binary(optypes.Div, x, y) }

// Max returns the element-wise maximum of x and y. Operands must have the same shape.
func (b *Builder) Max(x, y Output) Output { return b.binary(optypes.Max, x, y) }

// Min returns the element-wise minimum of x and y. Operands must have the same shape.
func (b *Builder) Min(x, y Output) Output { return b.binary(optypes.Min, x, y) }

// Pow returns x^y element-wise. Operands must have the same shape.
func (b *Builder) Pow(x, y Output) Output { return b.binary(optypes.Pow, x, y) }

// ConvertDType converts x to the given dtype.
func (b *Builder) ConvertDType(x Output, dtype dtypes.DType) Output {
	b.assertOwned(x)
	if !dtype.IsADType() {
		panicf("ConvertDType(): invalid dtype %s", dtype)
	}
	return b.newNode(optypes.ConvertDType, "", []Output{x}, shapes.Make(dtype, x.Shape().Dimensions...)).Output(0)
}

// Reshape x to the given dimensions. The total number of elements must be preserved.
func (b *Builder) Reshape(x Output, dimensions ...int) Output {
	b.assertOwned(x)
	shape := shapes.Make(x.DType(), dimensions...)
	if shape.Size() != x.Shape().Size() {
		panicf("Reshape(): can't reshape %s (%d elements) to %v (%d elements)",
			x.Shape(), x.Shape().Size(), dimensions, shape.Size())
	}
	return b.newNode(optypes.Reshape, "", []Output{x}, shape).Output(0)
}

// MatMul returns the matrix multiplication of the rank-2 operands x ([m, k]) and y ([k, n]).
func (b *Builder) MatMul(x, y Output) Output {
	b.assertOwned(x, y)
	xShape, yShape := x.Shape(), y.Shape()
	if xShape.Rank() != 2 || yShape.Rank() != 2 {
		panicf("MatMul(): operands must be rank-2, got %s and %s", xShape, yShape)
	}
	if xShape.DType != yShape.DType || xShape.DType == dtypes.Bool {
		panicf("MatMul(): operands must have the same numeric dtype, got %s and %s", xShape, yShape)
	}
	if xShape.Dimensions[1] != yShape.Dimensions[0] {
		panicf("MatMul(): contracting dimensions don't match: %s x %s", xShape, yShape)
	}
	shape := shapes.Make(xShape.DType, xShape.Dimensions[0], yShape.Dimensions[1])
	return b.newNode(optypes.MatMul, "", []Output{x, y}, shape).Output(0)
}

// Split x along axis into numSplits equal parts. It creates one node with numSplits outputs.
func (b *Builder) Split(x Output, axis, numSplits int) []Output {
	b.assertOwned(x)
	shape := x.Shape()
	if axis < 0 {
		axis += shape.Rank()
	}
	if axis < 0 || axis >= shape.Rank() {
		panicf("Split(): axis %d out of range for %s", axis, shape)
	}
	if numSplits <= 0 || shape.Dimensions[axis]%numSplits != 0 {
		panicf("Split(): dimension %d of axis %d of %s is not divisible in %d parts",
			shape.Dimensions[axis], axis, shape, numSplits)
	}
	partDims := slices.Clone(shape.Dimensions)
	partDims[axis] /= numSplits
	outputShapes := make([]shapes.Shape, numSplits)
	for ii := range outputShapes {
		outputShapes[ii] = shapes.Make(shape.DType, partDims...)
	}
	node := b.newNode(optypes.Split, "", []Output{x}, outputShapes...)
	node.axis = axis
	outputs := make([]Output, numSplits)
	for ii := range outputs {
		outputs[ii] = node.Output(ii)
	}
	return outputs
}

// Custom creates a node of any OpType with the given name (generated if empty), output shapes and inputs,
// with no checks beyond ownership of the inputs. It is meant for operations without a dedicated builder method,
// which backends may or may not support.
func (b *Builder) Custom(opType optypes.OpType, name string, outputShapes []shapes.Shape, inputs ...Output) []Output {
	switch opType {
	case optypes.Parameter, optypes.Constant, optypes.Result:
		panicf("Custom(): use the dedicated methods to create %s nodes", opType)
	}
	if !opType.IsValid() {
		panicf("Custom(): invalid op type %s", opType)
	}
	node := b.newNode(opType, name, inputs, outputShapes...)
	outputs := make([]Output, node.NumOutputs())
	for ii := range outputs {
		outputs[ii] = node.Output(ii)
	}
	return outputs
}
