// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/inferbridge/pkg/core/dtypes"
	"github.com/gomlx/inferbridge/pkg/core/graph"
	"github.com/gomlx/inferbridge/pkg/core/optypes"
	"github.com/gomlx/inferbridge/pkg/core/tensors"
	"github.com/x448/float16"
)

func init() {
	nodeExecutors[optypes.Reshape] = execReshape
	nodeExecutors[optypes.Split] = execSplit
	nodeExecutors[optypes.MatMul] = execMatMul
}

// execReshape copies the data of the input into a tensor with the new shape.
func execReshape(_ *Backend, node *graph.Node, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	output := tensors.FromShape(node.Shape())
	if err := output.CopyFrom(inputs[0]); err != nil {
		return nil, err
	}
	return []*tensors.Tensor{output}, nil
}

// execSplit copies consecutive equal parts of the input along the split axis into each of the outputs.
func execSplit(_ *Backend, node *graph.Node, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	input := inputs[0]
	shape := input.Shape()
	axis := node.Axis()
	numOutputs := node.NumOutputs()
	outputs := make([]*tensors.Tensor, numOutputs)
	for ii := range outputs {
		outputs[ii] = tensors.FromShape(node.OutputShape(ii))
	}

	// The input is seen as [outerSize, numOutputs, partBytes]: each output gets its slice of the middle axis.
	outerSize := 1
	for _, dim := range shape.Dimensions[:axis] {
		outerSize *= dim
	}
	partBytes := node.OutputShape(0).ByteSize()
	if outerSize > 0 {
		partBytes /= outerSize
	}
	withData(inputs, outputs, func(in, out [][]byte) {
		src := in[0]
		for outer := range outerSize {
			for part := range numOutputs {
				srcStart := (outer*numOutputs + part) * partBytes
				copy(out[part][outer*partBytes:(outer+1)*partBytes], src[srcStart:srcStart+partBytes])
			}
		}
	})
	return outputs, nil
}

// execMatMul multiplies [m, k] x [k, n] matrices, splitting rows over the workers.
func execMatMul(backend *Backend, node *graph.Node, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	lhs, rhs := inputs[0], inputs[1]
	m, k := lhs.Shape().Dimensions[0], lhs.Shape().Dimensions[1]
	n := rhs.Shape().Dimensions[1]
	output := tensors.FromShape(node.Shape())
	minRows := max(1, minParallelChunk/max(1, k*n))
	withData(inputs, []*tensors.Tensor{output}, func(in, out [][]byte) {
		if output.DType() == dtypes.Float16 {
			execMatMulFloat16(backend, flat[float16.Float16](in[0]), flat[float16.Float16](in[1]),
				flat[float16.Float16](out[0]), m, k, n, minRows)
			return
		}
		backend.parallelFor(m, minRows, func(start, end int) {
			switch output.DType() {
			case dtypes.Int8:
				execMatMulGeneric(flat[int8](in[0]), flat[int8](in[1]), flat[int8](out[0]), k, n, start, end)
			case dtypes.Int16:
				execMatMulGeneric(flat[int16](in[0]), flat[int16](in[1]), flat[int16](out[0]), k, n, start, end)
			case dtypes.Int32:
				execMatMulGeneric(flat[int32](in[0]), flat[int32](in[1]), flat[int32](out[0]), k, n, start, end)
			case dtypes.Int64:
				execMatMulGeneric(flat[int64](in[0]), flat[int64](in[1]), flat[int64](out[0]), k, n, start, end)
			case dtypes.Uint8:
				execMatMulGeneric(flat[uint8](in[0]), flat[uint8](in[1]), flat[uint8](out[0]), k, n, start, end)
			case dtypes.Uint16:
				execMatMulGeneric(flat[uint16](in[0]), flat[uint16](in[1]), flat[uint16](out[0]), k, n, start, end)
			case dtypes.Uint32:
				execMatMulGeneric(flat[uint32](in[0]), flat[uint32](in[1]), flat[uint32](out[0]), k, n, start, end)
			case dtypes.Uint64:
				execMatMulGeneric(flat[uint64](in[0]), flat[uint64](in[1]), flat[uint64](out[0]), k, n, start, end)
			case dtypes.Float32:
				execMatMulGeneric(flat[float32](in[0]), flat[float32](in[1]), flat[float32](out[0]), k, n, start, end)
			case dtypes.Float64:
				execMatMulGeneric(flat[float64](in[0]), flat[float64](in[1]), flat[float64](out[0]), k, n, start, end)
			default:
				exceptions.Panicf("unsupported data type %s for %s", output.DType(), node.OpType())
			}
		})
	})
	return []*tensors.Tensor{output}, nil
}

// execMatMulGeneric computes the rows [rowStart, rowEnd) of the output.
func execMatMulGeneric[T numeric](lhs, rhs, output []T, k, n, rowStart, rowEnd int) {
	for row := rowStart; row < rowEnd; row++ {
		outRow := output[row*n : (row+1)*n]
		clear(outRow)
		for kk := range k {
			v := lhs[row*k+kk]
			rhsRow := rhs[kk*n : (kk+1)*n]
			for col, r := range rhsRow {
				outRow[col] += v * r
			}
		}
	}
}

// execMatMulFloat16 accumulates in float32.
func execMatMulFloat16(backend *Backend, lhs, rhs, output []float16.Float16, m, k, n, minRows int) {
	lhs32 := make([]float32, len(lhs))
	rhs32 := make([]float32, len(rhs))
	out32 := make([]float32, m*n)
	float16ToFloat32(lhs, lhs32)
	float16ToFloat32(rhs, rhs32)
	backend.parallelFor(m, minRows, func(start, end int) {
		execMatMulGeneric(lhs32, rhs32, out32, k, n, start, end)
	})
	float32ToFloat16(out32, output)
}
