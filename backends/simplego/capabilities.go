// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/inferbridge/backends"
	"github.com/gomlx/inferbridge/pkg/core/dtypes"
	"github.com/gomlx/inferbridge/pkg/core/optypes"
)

// Capabilities of the SimpleGo backends: the set of supported operations and data types.
//
// Bool is only supported by the ops that move data around (see boolOps).
var Capabilities = backends.Capabilities{
	Operations: map[optypes.OpType]bool{
		optypes.Parameter: true,
		optypes.Constant:  true,
		optypes.Result:    true,
		optypes.Identity:  true,

		// Standard unary operations:
		optypes.Abs:      true,
		optypes.Neg:      true,
		optypes.Exp:      true,
		optypes.Log:      true,
		optypes.Sqrt:     true,
		optypes.Tanh:     true,
		optypes.Logistic: true,

		// Standard binary operations:
		optypes.Add: true,
		optypes.Sub: true,
		optypes.Mul: true,
		optypes.Div: true,
		optypes.Max: true,
		optypes.Min: true,
		optypes.Pow: true,

		// Other operations:
		optypes.ConvertDType: true,
		optypes.Reshape:      true,
		optypes.Split:        true,
		optypes.MatMul:       true,
	},

	DTypes: map[dtypes.DType]bool{
		dtypes.Bool:    true,
		dtypes.Int8:    true,
		dtypes.Int16:   true,
		dtypes.Int32:   true,
		dtypes.Int64:   true,
		dtypes.Uint8:   true,
		dtypes.Uint16:  true,
		dtypes.Uint32:  true,
		dtypes.Uint64:  true,
		dtypes.Float16: true,
		dtypes.Float32: true,
		dtypes.Float64: true,
	},
}

// boolOps are the operations that accept Bool operands.
var boolOps = map[optypes.OpType]bool{
	optypes.Parameter:    true,
	optypes.Constant:     true,
	optypes.Result:       true,
	optypes.Identity:     true,
	optypes.ConvertDType: true,
	optypes.Reshape:      true,
	optypes.Split:        true,
}
