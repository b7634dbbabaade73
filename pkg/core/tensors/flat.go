// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"reflect"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/inferbridge/pkg/core/dtypes"
	"github.com/gomlx/inferbridge/pkg/core/shapes"
	"github.com/pkg/errors"
)

// bytesAsFlat reinterprets the raw bytes as a slice of T. data must be aligned (see alignedBytes).
func bytesAsFlat[T dtypes.Supported](data []byte) []T {
	var t T
	numElements := len(data) / int(unsafe.Sizeof(t))
	if numElements == 0 {
		return []T{}
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(data))), numElements)
}

// flatAsBytes reinterprets the flat slice as raw bytes.
func flatAsBytes[T dtypes.Supported](flat []T) []byte {
	if len(flat) == 0 {
		return []byte{}
	}
	var t T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(flat))), len(flat)*int(unsafe.Sizeof(t)))
}

func checkFlatDType[T dtypes.Supported](t *Tensor) error {
	dtype := dtypes.FromGenericsType[T]()
	if dtype != t.DType() {
		var v T
		return errors.Errorf("accessing tensor of dtype %s with Go type %T (dtype %s)", t.DType(), v, dtype)
	}
	return nil
}

// ConstFlatData calls accessFn with the flat data of the tensor as a []T, where T must match the tensor DType.
// accessFn must not modify or keep a reference to the slice after it returns.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	if err := checkFlatDType[T](t); err != nil {
		return errors.WithMessage(err, "ConstFlatData")
	}
	return t.ConstBytes(func(data []byte) {
		accessFn(bytesAsFlat[T](data))
	})
}

// MutableFlatData calls accessFn with the flat data of the tensor as a []T, where T must match the tensor DType.
// The slice can be modified in place, but accessFn must not keep a reference to it after it returns.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	if err := checkFlatDType[T](t); err != nil {
		return errors.WithMessage(err, "MutableFlatData")
	}
	return t.MutableBytes(func(data []byte) {
		accessFn(bytesAsFlat[T](data))
	})
}

// CopyFlatData returns a copy of the flat data of the tensor.
func CopyFlatData[T dtypes.Supported](t *Tensor) ([]T, error) {
	var flatCopy []T
	err := ConstFlatData(t, func(flat []T) {
		flatCopy = make([]T, len(flat))
		copy(flatCopy, flat)
	})
	return flatCopy, err
}

// MustCopyFlatData is like CopyFlatData, but panics on error.
func MustCopyFlatData[T dtypes.Supported](t *Tensor) []T {
	flat, err := CopyFlatData[T](t)
	if err != nil {
		panic(err)
	}
	return flat
}

// FromFlatDataAndDimensions creates a host tensor with the given dimensions, filled with a copy of the flattened
// values given in data. The number of elements of data must match the product of the dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(): data has %d elements, but shape %s requires %d",
			len(data), shape, shape.Size())
	}
	t := FromShape(shape)
	copy(t.data, flatAsBytes(data))
	return t
}

// FromScalar returns a scalar host tensor with the given value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return FromFlatDataAndDimensions([]T{value})
}

// ToScalar returns the scalar value of a tensor. It panics if the tensor is not a scalar of type T.
func ToScalar[T dtypes.Supported](t *Tensor) T {
	if !t.shape.IsScalar() {
		exceptions.Panicf("ToScalar(): tensor %s is not a scalar", t.shape)
	}
	return MustCopyFlatData[T](t)[0]
}

// FlatValues returns a copy of the tensor contents as a flat slice of the Go type matching its DType
// (e.g. []float32), returned as `any`.
func (t *Tensor) FlatValues() (any, error) {
	if err := t.CheckValid(); err != nil {
		return nil, err
	}
	goType := t.DType().GoType()
	flatV := reflect.MakeSlice(reflect.SliceOf(goType), t.Size(), t.Size())
	if t.Size() == 0 {
		return flatV.Interface(), nil
	}
	dst := unsafe.Slice((*byte)(flatV.UnsafePointer()), t.SizeInBytes())
	_, err := t.Read(dst)
	if err != nil {
		return nil, err
	}
	return flatV.Interface(), nil
}
