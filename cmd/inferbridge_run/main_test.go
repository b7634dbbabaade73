// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/inferbridge/pkg/core/dtypes"
	"github.com/gomlx/inferbridge/pkg/core/graph"
	"github.com/gomlx/inferbridge/pkg/core/shapes"
	"github.com/gomlx/inferbridge/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saveTestFunction(t *testing.T) string {
	fn := must.M1(graph.BuildFn("logistic", func(b *graph.Builder) []graph.Output {
		x := b.Parameter("x", shapes.Make(dtypes.Float32, 2, 2))
		c := graph.Const(b, "c", []float32{1, 2, 3, 4}, 2, 2)
		return []graph.Output{
			b.SetName(b.Logistic(x), "probs"),
			b.SetName(b.Add(b.Exp(x), c), "shifted"),
		}
	}))
	graphPath := filepath.Join(t.TempDir(), "logistic.json")
	require.NoError(t, fn.Save(graphPath))
	return graphPath
}

func TestRun(t *testing.T) {
	commandline.MaxUpdateFrequency = 0
	graphPath := saveTestFunction(t)
	*flagBackend = "go"
	*flagRepeat = 3
	dumpDir := t.TempDir()
	*flagDumpDir = dumpDir
	defer func() { *flagDumpDir = "" }()
	require.NoError(t, run(graphPath))
	_, err := os.Stat(filepath.Join(dumpDir, "logistic.dot"))
	assert.NoError(t, err)

	*flagDot = true
	require.NoError(t, run(graphPath))
	*flagDot = false
}

func TestRunErrors(t *testing.T) {
	*flagBackend = "go"
	require.Error(t, run(filepath.Join(t.TempDir(), "missing.json")))

	graphPath := saveTestFunction(t)
	*flagDevice = "GPU"
	defer func() { *flagDevice = "CPU" }()
	require.Error(t, run(graphPath))
}
