// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/gomlx/inferbridge/pkg/core/dtypes"
	"github.com/gomlx/inferbridge/pkg/core/optypes"
	"github.com/gomlx/inferbridge/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildAxpy builds a*x+y, with a constant.
func buildAxpy(t *testing.T) *Function {
	b := NewBuilder("axpy")
	x := b.Parameter("x", shapes.Make(dtypes.Float32, 3))
	y := b.Parameter("y", shapes.Make(dtypes.Float32, 3))
	a := Const(b, "a", []float32{2, 2, 2}, 3)
	fn, err := b.Build(b.SetName(b.Add(b.Mul(a, x), y), "axpy_out"))
	require.NoError(t, err)
	return fn
}

func TestBuilder(t *testing.T) {
	fn := buildAxpy(t)
	assert.Equal(t, "axpy", fn.Name())
	require.Equal(t, 2, fn.NumParameters())
	assert.Equal(t, "x", fn.Parameters()[0].Name())
	assert.Equal(t, "y", fn.Parameters()[1].Name())
	require.Equal(t, 1, fn.NumResults())
	result := fn.Results()[0]
	assert.True(t, result.IsResult())
	assert.Equal(t, "axpy_out", fn.ProducerName(result))
	assert.True(t, result.Shape().Equal(shapes.Make(dtypes.Float32, 3)))

	// Topological order: every input comes before its consumer.
	for ii, node := range fn.Nodes() {
		assert.Equal(t, NodeID(ii), node.ID())
		for _, input := range node.Inputs() {
			assert.Less(t, input.Node().ID(), node.ID())
		}
	}
	assert.Equal(t, 0, fn.ParameterIndex(fn.Parameters()[0]))
	assert.Equal(t, -1, fn.ParameterIndex(result))
	node, found := fn.NodeByName("a")
	require.True(t, found)
	assert.True(t, node.IsConstant())
	assert.Len(t, node.Payload(), 12)
	assert.Contains(t, fn.String(), `Mul`)
	assert.ElementsMatch(t, []optypes.OpType{optypes.Parameter, optypes.Constant, optypes.Mul, optypes.Add, optypes.Result},
		fn.OpTypes())
	assert.Equal(t, []shapes.Shape{shapes.Make(dtypes.Float32, 3)}, fn.ResultShapes())
}

func TestBuilderPruning(t *testing.T) {
	b := NewBuilder("prune")
	x := b.Parameter("x", shapes.Make(dtypes.Float32, 2))
	unused := b.Parameter("unused", shapes.Make(dtypes.Int32, 5))
	_ = b.Neg(unused) // Not used by any result: pruned.
	fn, err := b.Build(b.Exp(x))
	require.NoError(t, err)
	assert.Equal(t, 2, fn.NumParameters(), "parameters are never pruned")
	assert.Equal(t, 4, fn.NumNodes()) // x, unused, exp, result.
	_, found := fn.NodeByName("neg_2")
	assert.False(t, found)
}

func TestBuilderErrors(t *testing.T) {
	t.Run("shape mismatch", func(t *testing.T) {
		_, err := BuildFn("bad", func(b *Builder) []Output {
			x := b.Parameter("x", shapes.Make(dtypes.Float32, 3))
			y := b.Parameter("y", shapes.Make(dtypes.Float32, 4))
			return []Output{b.Add(x, y)}
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "same shape")
	})
	t.Run("duplicate names", func(t *testing.T) {
		_, err := BuildFn("bad", func(b *Builder) []Output {
			x := b.Parameter("x", shapes.Make(dtypes.Float32, 3))
			_ = b.Parameter("x", shapes.Make(dtypes.Float32, 3))
			return []Output{x}
		})
		require.Error(t, err)
	})
	t.Run("no results", func(t *testing.T) {
		_, err := NewBuilder("empty").Build()
		require.Error(t, err)
	})
	t.Run("other builder", func(t *testing.T) {
		other := NewBuilder("other")
		y := other.Parameter("y", shapes.Make(dtypes.Float32, 3))
		_, err := BuildFn("bad", func(b *Builder) []Output {
			x := b.Parameter("x", shapes.Make(dtypes.Float32, 3))
			return []Output{b.Add(x, y)}
		})
		require.Error(t, err)
	})
	t.Run("built twice", func(t *testing.T) {
		b := NewBuilder("twice")
		x := b.Parameter("x", shapes.Make(dtypes.Float32, 3))
		_, err := b.Build(x)
		require.NoError(t, err)
		_, err = b.Build(x)
		require.Error(t, err)
	})
	t.Run("bad constant", func(t *testing.T) {
		_, err := BuildFn("bad", func(b *Builder) []Output {
			return []Output{b.Constant("c", shapes.Make(dtypes.Float32, 3), make([]byte, 5))}
		})
		require.Error(t, err)
	})
}

func TestMultiOutputNames(t *testing.T) {
	b := NewBuilder("split")
	x := b.Parameter("x", shapes.Make(dtypes.Float32, 4, 2))
	parts := b.Split(x, 0, 2)
	require.Len(t, parts, 2)
	b.SetName(parts[0], "halves")
	assert.True(t, parts[1].Shape().Equal(shapes.Make(dtypes.Float32, 2, 2)))
	fn, err := b.Build(parts[1], parts[0], x)
	require.NoError(t, err)
	results := fn.Results()
	assert.Equal(t, "halves.1", fn.ProducerName(results[0]))
	assert.Equal(t, "halves.0", fn.ProducerName(results[1]))
	assert.Equal(t, "x", fn.ProducerName(results[2]))
	assert.Equal(t, 2, results[0].Parent().Node().NumOutputs())
	assert.False(t, results[0].Parent().Node().Shape().Ok(), "multi-output nodes have no single shape")
}

func TestShapeInference(t *testing.T) {
	b := NewBuilder("shapes")
	x := b.Parameter("x", shapes.Make(dtypes.Float32, 2, 3))
	y := b.Parameter("y", shapes.Make(dtypes.Float32, 3, 4))
	assert.Equal(t, []int{2, 4}, b.MatMul(x, y).Shape().Dimensions)
	assert.Equal(t, []int{3, 2}, b.Reshape(x, 3, 2).Shape().Dimensions)
	assert.Equal(t, dtypes.Int32, b.ConvertDType(x, dtypes.Int32).DType())
	custom := b.Custom(optypes.FFT, "fft", []shapes.Shape{x.Shape()}, x)
	require.Len(t, custom, 1)
	assert.Equal(t, optypes.FFT, custom[0].Node().OpType())
	assert.Equal(t, "fft", custom[0].Node().Name())
}

func TestSubstituteConstant(t *testing.T) {
	b := NewBuilder("consts")
	c := Const(b, "c", []float32{1, 2, 3}, 3)
	fn, err := b.Build(b.Exp(c))
	require.NoError(t, err)
	require.Equal(t, 0, fn.NumParameters())

	constant, found := fn.NodeByName("c")
	require.True(t, found)
	substituted, param, err := fn.SubstituteConstant(constant)
	require.NoError(t, err)

	// Original is untouched.
	assert.True(t, constant.IsConstant())
	assert.Equal(t, 0, fn.NumParameters())

	require.Equal(t, 1, substituted.NumParameters())
	assert.Same(t, param, substituted.Parameters()[0])
	assert.True(t, param.IsParameter())
	assert.Equal(t, "c", param.Name())
	assert.Nil(t, param.Payload())
	assert.True(t, param.Shape().Equal(constant.Shape()))
	assert.Equal(t, fn.NumNodes(), substituted.NumNodes())
	exp, found := substituted.NodeByName(fn.Results()[0].Parent().Node().Name())
	require.True(t, found)
	assert.Same(t, param, exp.Input(0).Node())

	// Non-constants are rejected.
	_, _, err = fn.SubstituteConstant(fn.Results()[0])
	require.Error(t, err)
	// Nodes of other functions too.
	_, _, err = substituted.SubstituteConstant(constant)
	require.Error(t, err)
}

func TestSerialization(t *testing.T) {
	fn := buildAxpy(t)
	data, err := fn.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"op":"Mul"`)
	assert.Contains(t, string(data), `"dtype":"Float32"`)

	loaded := &Function{}
	require.NoError(t, loaded.UnmarshalJSON(data))
	assert.Equal(t, fn.String(), loaded.String())
	constant, found := loaded.NodeByName("a")
	require.True(t, found)
	original, _ := fn.NodeByName("a")
	assert.Equal(t, original.Payload(), constant.Payload())

	filePath := filepath.Join(t.TempDir(), "axpy.json")
	require.NoError(t, fn.Save(filePath))
	loaded, err = Load(filePath)
	require.NoError(t, err)
	assert.Equal(t, fn.String(), loaded.String())

	for name, bad := range map[string]string{
		"forward edge": `{"name":"f","nodes":[{"op":"Result","name":"r","inputs":[{"node":1}],` +
			`"shapes":[{"dtype":"Float32","dimensions":[]}]}],"parameters":[],"results":[0]}`,
		"no results":    `{"name":"f","nodes":[],"parameters":[],"results":[]}`,
		"bad payload": `{"name":"f","nodes":[{"op":"Constant","name":"c","payload":"AAA=",` +
			`"shapes":[{"dtype":"Float32","dimensions":[]}]}],"parameters":[],"results":[]}`,
		"unknown op": `{"name":"f","nodes":[{"op":"Foo","name":"c",` +
			`"shapes":[{"dtype":"Float32","dimensions":[]}]}],"parameters":[],"results":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			require.Error(t, (&Function{}).UnmarshalJSON([]byte(bad)))
		})
	}
}

func TestWriteDot(t *testing.T) {
	fn := buildAxpy(t)
	var buf bytes.Buffer
	require.NoError(t, fn.WriteDot(&buf))
	dot := buf.String()
	assert.Contains(t, dot, `digraph "axpy"`)
	assert.Contains(t, dot, "->")
	assert.Contains(t, dot, "(Float32)[3]")
}
