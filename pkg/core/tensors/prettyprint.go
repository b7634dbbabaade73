// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"fmt"
	"reflect"
	"strings"
)

// MaxElementsToPrint is the number of leading elements printed by Tensor.String.
var MaxElementsToPrint = 8

// String implements fmt.Stringer. It prints the shape, the device and up to MaxElementsToPrint leading values.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil tensor>"
	}
	if !t.Ok() {
		return fmt.Sprintf("%s: <finalized>", t.shape)
	}
	return fmt.Sprintf("%s@%s: %s", t.shape, t.device, t.Summary(MaxElementsToPrint))
}

// Summary returns the first maxElements values of the tensor formatted as a flat list.
func (t *Tensor) Summary(maxElements int) string {
	flat, err := t.FlatValues()
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	flatV := reflect.ValueOf(flat)
	n := min(flatV.Len(), maxElements)
	parts := make([]string, 0, n+1)
	for ii := range n {
		parts = append(parts, fmt.Sprintf("%v", flatV.Index(ii).Interface()))
	}
	if flatV.Len() > n {
		parts = append(parts, "...")
	}
	return "[" + strings.Join(parts, " ") + "]"
}
