// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/inferbridge/pkg/core/dtypes"
	"github.com/gomlx/inferbridge/pkg/core/graph"
	"github.com/gomlx/inferbridge/pkg/core/optypes"
	"github.com/gomlx/inferbridge/pkg/core/shapes"
	"github.com/pkg/errors"
)

// validateNode checks that the node is supported by the backend and that its output shapes are consistent
// with its inputs. Functions created with graph.Builder are always consistent, but deserialized ones may not be.
func validateNode(node *graph.Node) error {
	op := node.OpType()
	if !Capabilities.SupportsOp(op) {
		return errors.Errorf("operation %s (node %q) not supported by backend %q", op, node.Name(), BackendName)
	}
	usesBool := false
	for ii := range node.NumOutputs() {
		dtype := node.OutputShape(ii).DType
		if !Capabilities.SupportsDType(dtype) {
			return errors.Errorf("dtype %s (node %q) not supported by backend %q", dtype, node.Name(), BackendName)
		}
		usesBool = usesBool || dtype == dtypes.Bool
	}
	for _, input := range node.Inputs() {
		if !Capabilities.SupportsDType(input.DType()) {
			return errors.Errorf("dtype %s (input of node %q) not supported by backend %q",
				input.DType(), node.Name(), BackendName)
		}
		usesBool = usesBool || input.DType() == dtypes.Bool
	}
	if usesBool && !boolOps[op] {
		return errors.Errorf("operation %s (node %q) doesn't support booleans in backend %q", op, node.Name(), BackendName)
	}
	if err := checkShapes(node); err != nil {
		return errors.WithMessagef(err, "node %s", node)
	}
	return nil
}

func checkNumInputsOutputs(node *graph.Node, numInputs, numOutputs int) error {
	if node.NumInputs() != numInputs {
		return errors.Errorf("%s requires %d inputs, got %d", node.OpType(), numInputs, node.NumInputs())
	}
	if numOutputs > 0 && node.NumOutputs() != numOutputs {
		return errors.Errorf("%s requires %d outputs, got %d", node.OpType(), numOutputs, node.NumOutputs())
	}
	return nil
}

func checkShapes(node *graph.Node) error {
	op := node.OpType()
	switch {
	case op == optypes.Parameter || op == optypes.Constant:
		return checkNumInputsOutputs(node, 0, 1)

	case op == optypes.Result || op == optypes.Identity || op.IsUnary():
		if err := checkNumInputsOutputs(node, 1, 1); err != nil {
			return err
		}
		if !node.Input(0).Shape().Equal(node.Shape()) {
			return errors.Errorf("output shape %s differs from input shape %s", node.Shape(), node.Input(0).Shape())
		}
		switch op {
		case optypes.Exp, optypes.Log, optypes.Sqrt, optypes.Tanh, optypes.Logistic:
			if !node.DType().IsFloat() {
				return errors.Errorf("%s requires a float operand, got %s", op, node.Shape())
			}
		}
		return nil

	case op.IsBinary():
		if err := checkNumInputsOutputs(node, 2, 1); err != nil {
			return err
		}
		for _, input := range node.Inputs() {
			if !input.Shape().Equal(node.Shape()) {
				return errors.Errorf("operand shape %s differs from output shape %s", input.Shape(), node.Shape())
			}
		}
		return nil

	case op == optypes.ConvertDType:
		if err := checkNumInputsOutputs(node, 1, 1); err != nil {
			return err
		}
		if !node.Input(0).Shape().EqualDimensions(node.Shape()) {
			return errors.Errorf("output dimensions %s differ from input dimensions %s", node.Shape(), node.Input(0).Shape())
		}
		return nil

	case op == optypes.Reshape:
		if err := checkNumInputsOutputs(node, 1, 1); err != nil {
			return err
		}
		input := node.Input(0).Shape()
		if input.DType != node.DType() || input.Size() != node.Shape().Size() {
			return errors.Errorf("can't reshape %s to %s", input, node.Shape())
		}
		return nil

	case op == optypes.MatMul:
		if err := checkNumInputsOutputs(node, 2, 1); err != nil {
			return err
		}
		lhs, rhs, output := node.Input(0).Shape(), node.Input(1).Shape(), node.Shape()
		if lhs.Rank() != 2 || rhs.Rank() != 2 || lhs.DType != rhs.DType || lhs.Dimensions[1] != rhs.Dimensions[0] ||
			!output.Equal(shapes.Make(lhs.DType, lhs.Dimensions[0], rhs.Dimensions[1])) {
			return errors.Errorf("invalid shapes %s x %s -> %s", lhs, rhs, output)
		}
		return nil

	case op == optypes.Split:
		if err := checkNumInputsOutputs(node, 1, 0); err != nil {
			return err
		}
		input := node.Input(0).Shape()
		axis, numOutputs := node.Axis(), node.NumOutputs()
		if axis < 0 || axis >= input.Rank() || input.Dimensions[axis]%numOutputs != 0 {
			return errors.Errorf("can't split %s along axis %d in %d parts", input, axis, numOutputs)
		}
		part := input.Clone()
		part.Dimensions[axis] /= numOutputs
		for ii := range numOutputs {
			if !node.OutputShape(ii).Equal(part) {
				return errors.Errorf("output #%d has shape %s, expected %s", ii, node.OutputShape(ii), part)
			}
		}
		return nil
	}
	return errors.Errorf("no executor for %s", op)
}
