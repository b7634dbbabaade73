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
	nodeExecutors[optypes.ConvertDType] = execConvertDType
}

// execConvertDType converts between any pair of supported dtypes, with Go conversion semantics.
// Float16 is converted through float32 and Bool through uint8 (true is 1); converting to Bool
// yields true for any non-zero value.
func execConvertDType(_ *Backend, node *graph.Node, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	input := inputs[0]
	output := tensors.FromShape(node.Shape())
	withData(inputs, []*tensors.Tensor{output}, func(in, out [][]byte) {
		src, dst, toDType := in[0], out[0], output.DType()
		switch input.DType() {
		case dtypes.Bool:
			asUint8 := make([]uint8, len(src))
			for ii, v := range flat[bool](src) {
				if v {
					asUint8[ii] = 1
				}
			}
			convertTo(asUint8, toDType, dst)
		case dtypes.Int8:
			convertTo(flat[int8](src), toDType, dst)
		case dtypes.Int16:
			convertTo(flat[int16](src), toDType, dst)
		case dtypes.Int32:
			convertTo(flat[int32](src), toDType, dst)
		case dtypes.Int64:
			convertTo(flat[int64](src), toDType, dst)
		case dtypes.Uint8:
			convertTo(flat[uint8](src), toDType, dst)
		case dtypes.Uint16:
			convertTo(flat[uint16](src), toDType, dst)
		case dtypes.Uint32:
			convertTo(flat[uint32](src), toDType, dst)
		case dtypes.Uint64:
			convertTo(flat[uint64](src), toDType, dst)
		case dtypes.Float16:
			src16 := flat[float16.Float16](src)
			asFloat32 := make([]float32, len(src16))
			float16ToFloat32(src16, asFloat32)
			convertTo(asFloat32, toDType, dst)
		case dtypes.Float32:
			convertTo(flat[float32](src), toDType, dst)
		case dtypes.Float64:
			convertTo(flat[float64](src), toDType, dst)
		default:
			exceptions.Panicf("unsupported data type %s for %s", input.DType(), node.OpType())
		}
	})
	return []*tensors.Tensor{output}, nil
}

func convertTo[From numeric](src []From, toDType dtypes.DType, dst []byte) {
	switch toDType {
	case dtypes.Bool:
		dstBool := flat[bool](dst)
		for ii, v := range src {
			dstBool[ii] = v != 0
		}
	case dtypes.Int8:
		convertFlat(src, flat[int8](dst))
	case dtypes.Int16:
		convertFlat(src, flat[int16](dst))
	case dtypes.Int32:
		convertFlat(src, flat[int32](dst))
	case dtypes.Int64:
		convertFlat(src, flat[int64](dst))
	case dtypes.Uint8:
		convertFlat(src, flat[uint8](dst))
	case dtypes.Uint16:
		convertFlat(src, flat[uint16](dst))
	case dtypes.Uint32:
		convertFlat(src, flat[uint32](dst))
	case dtypes.Uint64:
		convertFlat(src, flat[uint64](dst))
	case dtypes.Float16:
		dst16 := flat[float16.Float16](dst)
		for ii, v := range src {
			dst16[ii] = float16.Fromfloat32(float32(v))
		}
	case dtypes.Float32:
		convertFlat(src, flat[float32](dst))
	case dtypes.Float64:
		convertFlat(src, flat[float64](dst))
	default:
		exceptions.Panicf("unsupported data type %s for ConvertDType", toDType)
	}
}

func convertFlat[From, To numeric](src []From, dst []To) {
	for ii, v := range src {
		dst[ii] = To(v)
	}
}
