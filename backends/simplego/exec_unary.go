// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/inferbridge/pkg/core/dtypes"
	"github.com/gomlx/inferbridge/pkg/core/graph"
	"github.com/gomlx/inferbridge/pkg/core/optypes"
	"github.com/gomlx/inferbridge/pkg/core/tensors"
	"github.com/x448/float16"
)

func init() {
	for _, op := range []optypes.OpType{optypes.Abs, optypes.Neg, optypes.Exp, optypes.Log, optypes.Sqrt,
		optypes.Tanh, optypes.Logistic} {
		nodeExecutors[op] = execUnary
	}
	nodeExecutors[optypes.Identity] = execIdentity
}

// execIdentity returns a copy of its input.
func execIdentity(_ *Backend, _ *graph.Node, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	output, err := inputs[0].Clone()
	if err != nil {
		return nil, err
	}
	return []*tensors.Tensor{output}, nil
}

// execUnary executes the element-wise unary ops.
func execUnary(backend *Backend, node *graph.Node, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	input := inputs[0]
	output := tensors.FromShape(node.Shape())
	op := node.OpType()
	withData(inputs, []*tensors.Tensor{output}, func(in, out [][]byte) {
		backend.parallelFor(input.Size(), minParallelChunk, func(start, end int) {
			switch input.DType() {
			case dtypes.Int8:
				execUnaryGeneric(op, flat[int8](in[0])[start:end], flat[int8](out[0])[start:end])
			case dtypes.Int16:
				execUnaryGeneric(op, flat[int16](in[0])[start:end], flat[int16](out[0])[start:end])
			case dtypes.Int32:
				execUnaryGeneric(op, flat[int32](in[0])[start:end], flat[int32](out[0])[start:end])
			case dtypes.Int64:
				execUnaryGeneric(op, flat[int64](in[0])[start:end], flat[int64](out[0])[start:end])
			case dtypes.Uint8:
				execUnaryGeneric(op, flat[uint8](in[0])[start:end], flat[uint8](out[0])[start:end])
			case dtypes.Uint16:
				execUnaryGeneric(op, flat[uint16](in[0])[start:end], flat[uint16](out[0])[start:end])
			case dtypes.Uint32:
				execUnaryGeneric(op, flat[uint32](in[0])[start:end], flat[uint32](out[0])[start:end])
			case dtypes.Uint64:
				execUnaryGeneric(op, flat[uint64](in[0])[start:end], flat[uint64](out[0])[start:end])
			case dtypes.Float32:
				execUnaryGeneric(op, flat[float32](in[0])[start:end], flat[float32](out[0])[start:end])
			case dtypes.Float64:
				execUnaryGeneric(op, flat[float64](in[0])[start:end], flat[float64](out[0])[start:end])
			case dtypes.Float16:
				execUnaryFloat16(op, flat[float16.Float16](in[0])[start:end], flat[float16.Float16](out[0])[start:end])
			default:
				exceptions.Panicf("unsupported data type %s for %s", input.DType(), op)
			}
		})
	})
	return []*tensors.Tensor{output}, nil
}

func execUnaryGeneric[T numeric](op optypes.OpType, inputs, outputs []T) {
	switch op {
	case optypes.Abs:
		for ii, input := range inputs {
			if input < 0 {
				input = -input
			}
			outputs[ii] = input
		}
	case optypes.Neg:
		for ii, input := range inputs {
			outputs[ii] = -input
		}
	case optypes.Exp:
		for ii, input := range inputs {
			outputs[ii] = T(math.Exp(float64(input)))
		}
	case optypes.Log:
		for ii, input := range inputs {
			outputs[ii] = T(math.Log(float64(input)))
		}
	case optypes.Sqrt:
		for ii, input := range inputs {
			outputs[ii] = T(math.Sqrt(float64(input)))
		}
	case optypes.Tanh:
		for ii, input := range inputs {
			outputs[ii] = T(math.Tanh(float64(input)))
		}
	case optypes.Logistic:
		for ii, input := range inputs {
			outputs[ii] = T(1.0 / (1.0 + math.Exp(-float64(input))))
		}
	default:
		exceptions.Panicf("unary op %s not implemented", op)
	}
}

func execUnaryFloat16(op optypes.OpType, inputs, outputs []float16.Float16) {
	buf := make([]float32, len(inputs))
	float16ToFloat32(inputs, buf)
	execUnaryGeneric(op, buf, buf)
	float32ToFloat16(buf, outputs)
}
