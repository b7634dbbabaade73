// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a `Tensor`, the buffer exchanged with compiled graph executables.
//
// A Tensor has a fixed shape (a data type and its axes' dimensions) and owns a flat, contiguous
// byte storage with the elements in row-major order and host byte order. It also records the
// device it is associated with: backends tag the tensors they allocate with the device that
// produced them; tensors created with FromShape are host tensors.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromBytes(shape shapes.Shape, data []byte): creates a tensor with a copy of the given raw data.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
//   - FromScalar[T dtypes.Supported](value T): creates a scalar tensor.
//
// The content is accessed at the byte level with Read/Write (whole payload copies) or
// ConstBytes/MutableBytes (in-place access), or as flat typed slices with ConstFlatData,
// MutableFlatData and CopyFlatData.
//
// A Tensor is safe for concurrent reads. Concurrent writes to the same Tensor are a caller error.
package tensors

import (
	"sync"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/inferbridge/pkg/core/dtypes"
	"github.com/gomlx/inferbridge/pkg/core/shapes"
	"github.com/pkg/errors"
)

// HostDevice is the device name of tensors allocated on the host.
const HostDevice = "host"

// Tensor represents a multidimensional array (from scalar with 0 dimensions, to arbitrarily large dimensions), defined
// by their shape, a data type (dtypes.DType) and its axes' dimensions, and their actual content stored as a flat (1D)
// array of bytes.
type Tensor struct {
	// shape of the tensor: it is immutable.
	shape shapes.Shape

	// device the storage is associated with.
	device string

	// mu protects data. Readers may nest, e.g. when the same tensor is given twice as input.
	mu sync.RWMutex

	// data holds shape.ByteSize() bytes, 8-bytes aligned. It is nil once finalized.
	data []byte
}

// alignedBytes allocates a zeroed byte slice of the given length, aligned to 8 bytes, so it can be
// reinterpreted as a slice of any of the supported dtypes.
func alignedBytes(length int) []byte {
	if length == 0 {
		return []byte{}
	}
	backing := make([]uint64, (length+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(backing))), length)
}

// FromShape returns a zero-initialized host Tensor of the given shape.
//
// Shapes with a zero dimension are valid and create an empty tensor.
func FromShape(shape shapes.Shape) *Tensor {
	return FromShapeOnDevice(shape, HostDevice)
}

// FromShapeOnDevice returns a zero-initialized Tensor of the given shape, associated with the given device.
func FromShapeOnDevice(shape shapes.Shape, device string) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	return &Tensor{
		shape:  shape.Clone(),
		device: device,
		data:   alignedBytes(shape.ByteSize()),
	}
}

// FromBytes returns a new host Tensor with a copy of data, that must have exactly shape.ByteSize() bytes.
func FromBytes(shape shapes.Shape, data []byte) (*Tensor, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("tensors.FromBytes(%s): invalid shape", shape)
	}
	if len(data) != shape.ByteSize() {
		return nil, errors.Errorf("tensors.FromBytes(%s): shape requires %d bytes, but %d bytes were given",
			shape, shape.ByteSize(), len(data))
	}
	t := FromShape(shape)
	copy(t.data, data)
	return t, nil
}

// MustFromBytes is like FromBytes, but panics on error.
func MustFromBytes(shape shapes.Shape, data []byte) *Tensor {
	t, err := FromBytes(shape, data)
	if err != nil {
		panic(err)
	}
	return t
}

// Shape of the tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
// It is a shortcut to `Tensor.Shape().DType`.
func (t *Tensor) DType() dtypes.DType {
	if t == nil {
		return dtypes.InvalidDType
	}
	return t.shape.DType
}

// Rank returns the rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// SizeInBytes returns the number of bytes used to store the tensor.
func (t *Tensor) SizeInBytes() int { return t.shape.ByteSize() }

// Memory returns the number of bytes used to store the tensor. An alias to Tensor.Shape().Memory().
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Device returns the name of the device the tensor storage is associated with.
func (t *Tensor) Device() string { return t.device }

// Ok returns whether the Tensor is in a valid state: it is not nil, and it hasn't been finalized.
func (t *Tensor) Ok() bool {
	if t == nil || !t.shape.Ok() {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.data != nil
}

// CheckValid returns an error if the tensor is nil or was finalized.
func (t *Tensor) CheckValid() error {
	if t == nil {
		return errors.New("tensor is nil")
	}
	if !t.Ok() {
		return errors.Errorf("tensor %s is invalid or was already finalized", t.shape)
	}
	return nil
}

// Finalize immediately frees the storage of the tensor. The tensor becomes invalid.
// It is a no-op for nil or already finalized tensors.
func (t *Tensor) Finalize() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = nil
}

// Read copies the whole payload of the tensor into dst, which must have at least SizeInBytes() bytes.
// It returns the number of bytes copied.
func (t *Tensor) Read(dst []byte) (int, error) {
	var n int
	err := t.ConstBytes(func(data []byte) {
		if len(dst) < len(data) {
			n = -1
			return
		}
		n = copy(dst, data)
	})
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.Errorf("Tensor.Read(): buffer of %d bytes is too small for tensor %s (%d bytes)",
			len(dst), t.shape, t.SizeInBytes())
	}
	return n, nil
}

// Write overwrites the whole payload of the tensor with src, which must have exactly SizeInBytes() bytes.
// It returns the number of bytes copied.
func (t *Tensor) Write(src []byte) (int, error) {
	if len(src) != t.SizeInBytes() {
		return 0, errors.Errorf("Tensor.Write(): %d bytes given, but tensor %s takes %d bytes",
			len(src), t.shape, t.SizeInBytes())
	}
	var n int
	err := t.MutableBytes(func(data []byte) {
		n = copy(data, src)
	})
	return n, err
}

// ConstBytes calls accessFn with the raw bytes of the tensor. accessFn must not modify
// or keep a reference to the bytes after it returns.
func (t *Tensor) ConstBytes(accessFn func(data []byte)) error {
	if t == nil {
		return errors.New("Tensor.ConstBytes(): tensor is nil")
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.data == nil {
		return errors.Errorf("Tensor.ConstBytes(): tensor %s was already finalized", t.shape)
	}
	accessFn(t.data)
	return nil
}

// MutableBytes calls accessFn with the raw bytes of the tensor, that can be modified in place.
// accessFn must not keep a reference to the bytes after it returns.
func (t *Tensor) MutableBytes(accessFn func(data []byte)) error {
	// Storage is host memory for every device implemented so far: same access path.
	if t == nil {
		return errors.New("Tensor.MutableBytes(): tensor is nil")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.data == nil {
		return errors.Errorf("Tensor.MutableBytes(): tensor %s was already finalized", t.shape)
	}
	accessFn(t.data)
	return nil
}

// CopyFrom overwrites the contents of t with the contents of src. Both must have the same size in bytes.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if t == src {
		return nil
	}
	if err := src.CheckValid(); err != nil {
		return errors.WithMessage(err, "Tensor.CopyFrom(): invalid source")
	}
	if src.SizeInBytes() != t.SizeInBytes() {
		return errors.Errorf("Tensor.CopyFrom(): source %s has %d bytes, destination %s has %d bytes",
			src.shape, src.SizeInBytes(), t.shape, t.SizeInBytes())
	}
	var err error
	srcErr := src.ConstBytes(func(data []byte) {
		_, err = t.Write(data)
	})
	if srcErr != nil {
		return srcErr
	}
	return err
}

// Clone returns a new tensor, on the same device, with a copy of the contents of t.
func (t *Tensor) Clone() (*Tensor, error) {
	clone := FromShapeOnDevice(t.shape, t.device)
	if err := clone.CopyFrom(t); err != nil {
		return nil, err
	}
	return clone, nil
}

// Equal checks weather t and otherTensor have the same shape and the same contents, byte by byte.
// Invalid tensors are never equal.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	if t.CheckValid() != nil || otherTensor.CheckValid() != nil {
		return false
	}
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	equal := true
	_ = t.ConstBytes(func(data0 []byte) {
		_ = otherTensor.ConstBytes(func(data1 []byte) {
			equal = string(data0) == string(data1)
		})
	})
	return equal
}
