// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes includes the DType enum for the element types supported by inferbridge.
//
// It is a trimmed fork of GoMLX's dtypes: only the types an inference device is expected to
// exchange with the host are kept. It includes converters to/from Go native types
// (and reflect.Type) and the Supported constraint used with generics.
package dtypes

import (
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// panicf panics with the formatted description.
//
// It is only used for "bugs in the code" -- when parameters don't follow the specifications.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

func init() {
	if strconv.IntSize != 32 && strconv.IntSize != 64 {
		panicf("cannot use int of %d bits -- only platforms with int32 or int64 are supported", strconv.IntSize)
	}

	// Add a mapping to the lower-case version of dtypes.
	keys := slices.Collect(maps.Keys(MapOfNames))
	for _, key := range keys {
		lowerKey := strings.ToLower(key)
		if _, found := MapOfNames[lowerKey]; found {
			continue
		}
		MapOfNames[lowerKey] = MapOfNames[key]
	}
}

// Supported lists the Go types that map to a DType.
type Supported interface {
	bool | float16.Float16 | float32 | float64 | int | int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64
}

// Number represents the Go numeric types that map to a DType.
type Number interface {
	float16.Float16 | float32 | float64 | int | int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64
}

// FromGenericsType returns the DType enum for the given type that this package knows about.
func FromGenericsType[T Supported]() DType {
	var t T
	switch (any(t)).(type) {
	case bool:
		return Bool
	case float16.Float16:
		return Float16
	case float32:
		return Float32
	case float64:
		return Float64
	case int:
		if strconv.IntSize == 32 {
			return Int32
		}
		return Int64
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	}
	return InvalidDType
}

// Pre-generated reflect.Type of the supported types.
var (
	float16Type = reflect.TypeOf(float16.Float16(0))
	goTypes     = map[DType]reflect.Type{
		Bool:    reflect.TypeOf(false),
		Int8:    reflect.TypeOf(int8(0)),
		Int16:   reflect.TypeOf(int16(0)),
		Int32:   reflect.TypeOf(int32(0)),
		Int64:   reflect.TypeOf(int64(0)),
		Uint8:   reflect.TypeOf(uint8(0)),
		Uint16:  reflect.TypeOf(uint16(0)),
		Uint32:  reflect.TypeOf(uint32(0)),
		Uint64:  reflect.TypeOf(uint64(0)),
		Float16: float16Type,
		Float32: reflect.TypeOf(float32(0)),
		Float64: reflect.TypeOf(float64(0)),
	}
)

// FromGoType returns the DType for the given reflect.Type, or InvalidDType if not supported.
func FromGoType(t reflect.Type) DType {
	if t == float16Type {
		return Float16
	}
	switch t.Kind() {
	case reflect.Int:
		if strconv.IntSize == 32 {
			return Int32
		}
		return Int64
	case reflect.Bool:
		return Bool
	case reflect.Int8:
		return Int8
	case reflect.Int16:
		return Int16
	case reflect.Int32:
		return Int32
	case reflect.Int64:
		return Int64
	case reflect.Uint8:
		return Uint8
	case reflect.Uint16:
		return Uint16
	case reflect.Uint32:
		return Uint32
	case reflect.Uint64:
		return Uint64
	case reflect.Float32:
		return Float32
	case reflect.Float64:
		return Float64
	default:
		return InvalidDType
	}
}

// FromAny introspects the underlying type of value and returns the corresponding DType.
func FromAny(value any) DType {
	return FromGoType(reflect.TypeOf(value))
}

// GoType returns the Go reflect.Type corresponding to the DType. It panics for invalid dtypes.
func (dtype DType) GoType() reflect.Type {
	t, found := goTypes[dtype]
	if !found {
		panicf("DType %s has no corresponding Go type", dtype)
	}
	return t
}

// Size returns the number of bytes used by one element of the given DType.
func (dtype DType) Size() int {
	switch dtype {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16, Float16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// Memory returns the number of bytes for the given DType. It's an alias to Size, converted to uintptr.
func (dtype DType) Memory() uintptr {
	return uintptr(dtype.Size())
}

// SizeForDimensions returns the size in bytes used for the given dimensions.
// It works also for scalars, where the list of dimensions is empty.
func (dtype DType) SizeForDimensions(dimensions ...int) int {
	numElements := 1
	for _, dim := range dimensions {
		numElements *= dim
	}
	return numElements * dtype.Size()
}

// IsFloat returns whether dtype is a floating point type.
func (dtype DType) IsFloat() bool {
	return dtype == Float16 || dtype == Float32 || dtype == Float64
}

// IsInt returns whether dtype is a signed or unsigned integer type.
func (dtype DType) IsInt() bool {
	return dtype.IsSigned() && !dtype.IsFloat() || dtype.IsUnsigned()
}

// IsSigned returns whether dtype is a signed integer or a float.
func (dtype DType) IsSigned() bool {
	switch dtype {
	case Int8, Int16, Int32, Int64, Float16, Float32, Float64:
		return true
	}
	return false
}

// IsUnsigned returns whether dtype is an unsigned integer type.
func (dtype DType) IsUnsigned() bool {
	return dtype == Uint8 || dtype == Uint16 || dtype == Uint32 || dtype == Uint64
}

// Is64BitInt returns whether dtype is Int64 or Uint64.
//
// Some inference devices can't take 64-bit integer inputs, see executable parameter hoisting.
func (dtype DType) Is64BitInt() bool {
	return dtype == Int64 || dtype == Uint64
}

// MarshalText implements encoding.TextMarshaler, so dtypes are serialized by name.
func (dtype DType) MarshalText() ([]byte, error) {
	if !dtype.IsADType() && dtype != InvalidDType {
		return nil, errors.Errorf("cannot marshal invalid DType(%d)", int(dtype))
	}
	return []byte(dtype.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (dtype *DType) UnmarshalText(text []byte) error {
	parsed, err := DTypeString(string(text))
	if err != nil {
		return err
	}
	*dtype = parsed
	return nil
}
