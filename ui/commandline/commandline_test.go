// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"testing"
	"time"

	"github.com/gomlx/inferbridge/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.50s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "12.35ms", FormatDuration(12345678*time.Nanosecond))
	assert.Equal(t, "2m3s", FormatDuration(123*time.Second))
	assert.Equal(t, "0.00s", FormatDuration(0))
}

func TestMedianDuration(t *testing.T) {
	assert.Equal(t, time.Duration(0), MedianDuration(nil))
	durations := []time.Duration{3, 1, 2}
	assert.Equal(t, time.Duration(2), MedianDuration(durations))
	assert.Equal(t, []time.Duration{3, 1, 2}, durations, "input is not sorted in place")
	assert.Equal(t, time.Duration(25), MedianDuration([]time.Duration{10, 40, 20, 30}))
}

func TestHumanizeInt(t *testing.T) {
	assert.Equal(t, "7", humanizeInt(7))
	assert.Equal(t, "1_000", humanizeInt(int64(1000)))
	assert.Equal(t, "12_345_678", humanizeInt(uint32(12345678)))
}

func TestOutputsTable(t *testing.T) {
	outputs := []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3),
		tensors.FromScalar(int64(7)),
	}
	rendered := OutputsTable([]string{"logits", "count"}, outputs, 4)
	assert.Contains(t, rendered, "logits")
	assert.Contains(t, rendered, "(Float32)[2 3]")
	assert.Contains(t, rendered, "24 B")
	assert.Contains(t, rendered, "[1 2 3 4 ...]")
	assert.Contains(t, rendered, "count")
	assert.Contains(t, rendered, "[7]")

	outputs[1].Finalize()
	rendered = OutputsTable([]string{"logits", "count"}, outputs, 4)
	assert.Contains(t, rendered, "<invalid>")
}

func TestKeyValueTable(t *testing.T) {
	rendered := KeyValueTable([2]string{"backend", "go"}, [2]string{"device", "CPU"})
	assert.Contains(t, rendered, "backend")
	assert.Contains(t, rendered, "CPU")
}

func TestCallProgress(t *testing.T) {
	MaxUpdateFrequency = 0
	var buf bytes.Buffer
	extraCalls := 0
	p := newCallProgress(&buf, 3, func() (string, string) {
		extraCalls++
		return "Backend", "go"
	})
	for _, d := range []time.Duration{time.Millisecond, 3 * time.Millisecond, 2 * time.Millisecond} {
		p.Step(d)
	}
	p.Done()
	require.Len(t, p.Durations(), 3)
	assert.Equal(t, 2*time.Millisecond, MedianDuration(p.Durations()))
	assert.Positive(t, extraCalls)
	out := buf.String()
	assert.Contains(t, out, "Median call")
	assert.Contains(t, out, "3 of 3")
	assert.Contains(t, out, "Backend")
}
