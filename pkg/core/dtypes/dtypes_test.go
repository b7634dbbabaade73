// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromGenericsType(t *testing.T) {
	assert.Equal(t, Float32, FromGenericsType[float32]())
	assert.Equal(t, Float16, FromGenericsType[float16.Float16]())
	assert.Equal(t, Uint64, FromGenericsType[uint64]())
	assert.Equal(t, Bool, FromGenericsType[bool]())
	assert.Equal(t, Int8, FromGenericsType[int8]())
}

func TestGoTypeRoundTrip(t *testing.T) {
	for dtype := Bool; dtype <= Float64; dtype++ {
		goType := dtype.GoType()
		assert.Equalf(t, dtype, FromGoType(goType), "dtype %s -> %s", dtype, goType)
		assert.Equalf(t, int(goType.Size()), dtype.Size(), "size of %s", dtype)
	}
	assert.Equal(t, InvalidDType, FromGoType(reflect.TypeOf("string")))
}

func TestNames(t *testing.T) {
	dtype, err := DTypeString("float32")
	require.NoError(t, err)
	assert.Equal(t, Float32, dtype)
	dtype, err = DTypeString("S64")
	require.NoError(t, err)
	assert.Equal(t, Int64, dtype)
	_, err = DTypeString("complex64")
	require.Error(t, err)

	text, err := Float16.MarshalText()
	require.NoError(t, err)
	var parsed DType
	require.NoError(t, parsed.UnmarshalText(text))
	assert.Equal(t, Float16, parsed)
}

func TestIs64BitInt(t *testing.T) {
	assert.True(t, Int64.Is64BitInt())
	assert.True(t, Uint64.Is64BitInt())
	assert.False(t, Int32.Is64BitInt())
	assert.False(t, Float64.Is64BitInt())
	assert.True(t, Uint8.IsInt())
	assert.True(t, Int32.IsInt())
	assert.False(t, Float32.IsInt())
	assert.Equal(t, 24, Float64.SizeForDimensions(3))
	assert.Equal(t, 4, Int32.SizeForDimensions())
}
