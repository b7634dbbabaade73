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

// This file implements the element-wise binary operations. Operands always have the same shape: there is
// no implicit broadcasting.

func init() {
	for _, op := range []optypes.OpType{optypes.Add, optypes.Sub, optypes.Mul, optypes.Div, optypes.Max,
		optypes.Min, optypes.Pow} {
		nodeExecutors[op] = execBinary
	}
}

// execBinary executes the element-wise binary ops.
func execBinary(backend *Backend, node *graph.Node, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	output := tensors.FromShape(node.Shape())
	op := node.OpType()
	dtype := output.DType()
	withData(inputs, []*tensors.Tensor{output}, func(in, out [][]byte) {
		backend.parallelFor(output.Size(), minParallelChunk, func(start, end int) {
			switch dtype {
			case dtypes.Int8:
				execBinaryGeneric(op, flat[int8](in[0])[start:end], flat[int8](in[1])[start:end], flat[int8](out[0])[start:end])
			case dtypes.Int16:
				execBinaryGeneric(op, flat[int16](in[0])[start:end], flat[int16](in[1])[start:end], flat[int16](out[0])[start:end])
			case dtypes.Int32:
				execBinaryGeneric(op, flat[int32](in[0])[start:end], flat[int32](in[1])[start:end], flat[int32](out[0])[start:end])
			case dtypes.Int64:
				execBinaryGeneric(op, flat[int64](in[0])[start:end], flat[int64](in[1])[start:end], flat[int64](out[0])[start:end])
			case dtypes.Uint8:
				execBinaryGeneric(op, flat[uint8](in[0])[start:end], flat[uint8](in[1])[start:end], flat[uint8](out[0])[start:end])
			case dtypes.Uint16:
				execBinaryGeneric(op, flat[uint16](in[0])[start:end], flat[uint16](in[1])[start:end], flat[uint16](out[0])[start:end])
			case dtypes.Uint32:
				execBinaryGeneric(op, flat[uint32](in[0])[start:end], flat[uint32](in[1])[start:end], flat[uint32](out[0])[start:end])
			case dtypes.Uint64:
				execBinaryGeneric(op, flat[uint64](in[0])[start:end], flat[uint64](in[1])[start:end], flat[uint64](out[0])[start:end])
			case dtypes.Float32:
				execBinaryGeneric(op, flat[float32](in[0])[start:end], flat[float32](in[1])[start:end], flat[float32](out[0])[start:end])
			case dtypes.Float64:
				execBinaryGeneric(op, flat[float64](in[0])[start:end], flat[float64](in[1])[start:end], flat[float64](out[0])[start:end])
			case dtypes.Float16:
				execBinaryFloat16(op, flat[float16.Float16](in[0])[start:end], flat[float16.Float16](in[1])[start:end],
					flat[float16.Float16](out[0])[start:end])
			default:
				exceptions.Panicf("unsupported data type %s for %s", dtype, op)
			}
		})
	})
	return []*tensors.Tensor{output}, nil
}

// execBinaryGeneric applies op to lhs and rhs. Integer division by zero panics with a runtime error.
func execBinaryGeneric[T numeric](op optypes.OpType, lhs, rhs, outputs []T) {
	switch op {
	case optypes.Add:
		for ii := range outputs {
			outputs[ii] = lhs[ii] + rhs[ii]
		}
	case optypes.Sub:
		for ii := range outputs {
			outputs[ii] = lhs[ii] - rhs[ii]
		}
	case optypes.Mul:
		for ii := range outputs {
			outputs[ii] = lhs[ii] * rhs[ii]
		}
	case optypes.Div:
		for ii := range outputs {
			outputs[ii] = lhs[ii] / rhs[ii]
		}
	case optypes.Max:
		for ii := range outputs {
			outputs[ii] = max(lhs[ii], rhs[ii])
		}
	case optypes.Min:
		for ii := range outputs {
			outputs[ii] = min(lhs[ii], rhs[ii])
		}
	case optypes.Pow:
		for ii := range outputs {
			outputs[ii] = T(math.Pow(float64(lhs[ii]), float64(rhs[ii])))
		}
	default:
		exceptions.Panicf("binary op %s not implemented", op)
	}
}

func execBinaryFloat16(op optypes.OpType, lhs, rhs, outputs []float16.Float16) {
	lhs32 := make([]float32, len(lhs))
	rhs32 := make([]float32, len(rhs))
	float16ToFloat32(lhs, lhs32)
	float16ToFloat32(rhs, rhs32)
	execBinaryGeneric(op, lhs32, rhs32, lhs32)
	float32ToFloat16(lhs32, outputs)
}
