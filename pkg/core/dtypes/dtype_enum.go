// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

import (
	"strconv"

	"github.com/pkg/errors"
)

// DType is an enum that represents the element type of a tensor or of a graph node output.
//
// The numeric values follow the PJRT/XLA buffer type enumeration, so serialized graphs stay
// readable by other tools of the ecosystem.
type DType int32

const (
	// InvalidDType is the zero value, used for unset dtypes.
	InvalidDType DType = 0

	// Bool are two-state booleans, stored as one byte.
	Bool DType = 1

	// Int8 to Int64 are signed integral values of fixed width.
	Int8  DType = 2
	Int16 DType = 3
	Int32 DType = 4
	Int64 DType = 5

	// Uint8 to Uint64 are unsigned integral values of fixed width.
	Uint8  DType = 6
	Uint16 DType = 7
	Uint32 DType = 8
	Uint64 DType = 9

	// Float16 is the IEEE 754 half-precision float, see github.com/x448/float16.
	Float16 DType = 10
	Float32 DType = 11
	Float64 DType = 12
)

// Aliases using the XLA names.
const (
	PRED = Bool
	S8   = Int8
	S16  = Int16
	S32  = Int32
	S64  = Int64
	U8   = Uint8
	U16  = Uint16
	U32  = Uint32
	U64  = Uint64
	F16  = Float16
	F32  = Float32
	F64  = Float64
)

// MapOfNames maps names (and their lower-case versions, added in init) to the DType.
var MapOfNames = map[string]DType{
	"InvalidDType": InvalidDType,
	"Bool":         Bool,
	"PRED":         Bool,
	"Int8":         Int8,
	"S8":           Int8,
	"Int16":        Int16,
	"S16":          Int16,
	"Int32":        Int32,
	"S32":          Int32,
	"Int64":        Int64,
	"S64":          Int64,
	"Uint8":        Uint8,
	"U8":           Uint8,
	"Uint16":       Uint16,
	"U16":          Uint16,
	"Uint32":       Uint32,
	"U32":          Uint32,
	"Uint64":       Uint64,
	"U64":          Uint64,
	"Float16":      Float16,
	"F16":          Float16,
	"Float32":      Float32,
	"F32":          Float32,
	"Float64":      Float64,
	"F64":          Float64,
}

var dtypeNames = [...]string{
	InvalidDType: "InvalidDType",
	Bool:         "Bool",
	Int8:         "Int8",
	Int16:        "Int16",
	Int32:        "Int32",
	Int64:        "Int64",
	Uint8:        "Uint8",
	Uint16:       "Uint16",
	Uint32:       "Uint32",
	Uint64:       "Uint64",
	Float16:      "Float16",
	Float32:      "Float32",
	Float64:      "Float64",
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if dtype < 0 || int(dtype) >= len(dtypeNames) {
		return "DType(" + strconv.Itoa(int(dtype)) + ")"
	}
	return dtypeNames[dtype]
}

// IsADType returns whether dtype is one of the enumerated values.
func (dtype DType) IsADType() bool {
	return dtype > InvalidDType && int(dtype) < len(dtypeNames)
}

// DTypeString parses the name of a dtype, as printed by DType.String or one of its aliases.
func DTypeString(name string) (DType, error) {
	if dtype, found := MapOfNames[name]; found {
		return dtype, nil
	}
	return InvalidDType, errors.Errorf("%q is not a known DType", name)
}
