// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	// Sets are created empty.
	s := Make[int](10)
	assert.Len(t, s, 0)

	s.Insert(3, 7, 3)
	assert.Len(t, s, 2)
	assert.True(t, s.Has(3))
	assert.True(t, s.Has(7))
	assert.False(t, s.Has(5))
}

func TestSorted(t *testing.T) {
	s := Make[string]()
	s.Insert("c", "a", "b", "a")
	assert.Equal(t, []string{"a", "b", "c"}, Sorted(s))
	assert.Empty(t, Sorted(Make[int]()))
}
