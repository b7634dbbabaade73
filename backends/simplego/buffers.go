// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"sync"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/inferbridge/pkg/core/dtypes"
	"github.com/gomlx/inferbridge/pkg/core/tensors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// numeric are the Go types the generic kernels are instantiated for. Float16 is handled by converting
// to float32.
type numeric interface {
	constraints.Integer | constraints.Float
}

// minParallelChunk is the minimum number of elements processed by a goroutine in element-wise ops.
var minParallelChunk = 32 * 1024

// flat reinterprets the raw bytes of a tensor as a slice of T. Tensor storage is always 8-byte aligned.
func flat[T dtypes.Supported](data []byte) []T {
	var zero T
	n := len(data) / int(unsafe.Sizeof(zero))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(data))), n)
}

// withData calls fn with the raw bytes of the inputs (read-only) and of the outputs (writable).
// outputs must not be among the inputs.
func withData(inputs, outputs []*tensors.Tensor, fn func(in, out [][]byte)) {
	in := make([][]byte, len(inputs))
	out := make([][]byte, len(outputs))
	var accessOutput func(ii int)
	accessOutput = func(ii int) {
		if ii == len(outputs) {
			fn(in, out)
			return
		}
		err := outputs[ii].MutableBytes(func(data []byte) {
			out[ii] = data
			accessOutput(ii + 1)
		})
		if err != nil {
			panic(err)
		}
	}
	var accessInput func(ii int)
	accessInput = func(ii int) {
		if ii == len(inputs) {
			accessOutput(0)
			return
		}
		err := inputs[ii].ConstBytes(func(data []byte) {
			in[ii] = data
			accessInput(ii + 1)
		})
		if err != nil {
			panic(err)
		}
	}
	accessInput(0)
}

// parallelFor splits [0, n) over the backend workers, in chunks of at least minChunk elements.
// Errors panicked by fn (including runtime errors) are re-panicked in the calling goroutine.
func (b *Backend) parallelFor(n, minChunk int, fn func(start, end int)) {
	var mu sync.Mutex
	var firstErr error
	b.workers.ParallelFor(n, minChunk, func(start, end int) {
		err := exceptions.TryCatch[error](func() { fn(start, end) })
		if err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}
	})
	if firstErr != nil {
		panic(firstErr)
	}
}

func float16ToFloat32(src []float16.Float16, dst []float32) {
	for ii, v := range src {
		dst[ii] = v.Float32()
	}
}

func float32ToFloat16(src []float32, dst []float16.Float16) {
	for ii, v := range src {
		dst[ii] = float16.Fromfloat32(v)
	}
}
