// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package executable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/inferbridge/backends"
	"github.com/gomlx/inferbridge/backends/simplego"
	"github.com/gomlx/inferbridge/pkg/core/dtypes"
	"github.com/gomlx/inferbridge/pkg/core/graph"
	"github.com/gomlx/inferbridge/pkg/core/optypes"
	"github.com/gomlx/inferbridge/pkg/core/shapes"
	"github.com/gomlx/inferbridge/pkg/core/tensors"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

// fakeBackend wraps the simplego backend, and injects failures.
type fakeBackend struct {
	backends.Backend
	compileErr   error
	compilePanic bool
	inferErr     error
	numCompiles  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{Backend: must.M1(simplego.New(""))}
}

func (b *fakeBackend) Compile(fn *graph.Function, device string) (backends.Network, error) {
	b.numCompiles++
	if b.compilePanic {
		panic(errors.New("backend crashed"))
	}
	if b.compileErr != nil {
		return nil, b.compileErr
	}
	network, err := b.Backend.Compile(fn, device)
	if err != nil {
		return nil, err
	}
	return &fakeNetwork{Network: network, backend: b}, nil
}

type fakeNetwork struct {
	backends.Network
	backend *fakeBackend
}

func (n *fakeNetwork) NewRequest() (backends.InferRequest, error) {
	request, err := n.Network.NewRequest()
	if err != nil {
		return nil, err
	}
	return &fakeRequest{InferRequest: request, backend: n.backend}, nil
}

type fakeRequest struct {
	backends.InferRequest
	backend *fakeBackend
	bound   map[string]*tensors.Tensor
}

func (r *fakeRequest) SetBuffer(name string, tensor *tensors.Tensor) error {
	if r.bound == nil {
		r.bound = make(map[string]*tensors.Tensor)
	}
	r.bound[name] = tensor
	return r.InferRequest.SetBuffer(name, tensor)
}

func (r *fakeRequest) Infer() error {
	if r.backend.inferErr != nil {
		return r.backend.inferErr
	}
	return r.InferRequest.Infer()
}

func goBackend(t *testing.T) backends.Backend {
	backend, err := simplego.New("")
	require.NoError(t, err)
	return backend
}

func TestUnsupportedOperation(t *testing.T) {
	b := graph.NewBuilder("fft")
	x := b.Parameter("x", shapes.Make(dtypes.Float32, 8))
	fft := b.Custom(optypes.FFT, "fft", []shapes.Shape{x.Shape()}, x)
	sorted := b.Custom(optypes.Sort, "sort", []shapes.Shape{x.Shape()}, fft[0])
	fn := must.M1(b.Build(sorted...))
	backend := newFakeBackend()
	e, err := New(backend, fn, "CPU")
	require.ErrorIs(t, err, ErrUnsupportedOperation)
	assert.Nil(t, e)
	assert.Contains(t, err.Error(), `"fft"`)
	assert.Contains(t, err.Error(), "Sort")
	assert.Zero(t, backend.numCompiles, "no compilation must be attempted")
}

func TestTrivialIdentity(t *testing.T) {
	b := graph.NewBuilder("identity")
	x := b.Parameter("x", shapes.Make(dtypes.Int32, 2, 2))
	fn := must.M1(b.Build(x))
	backend := newFakeBackend()
	e, err := New(backend, fn, "CPU")
	require.NoError(t, err)
	defer e.Finalize()
	assert.True(t, e.IsTrivial())
	assert.Zero(t, backend.numCompiles)
	assert.Equal(t, 1, e.NumInputs())

	input := tensors.FromFlatDataAndDimensions([]int32{1, 2, 3, 4}, 2, 2)
	outputs, err := e.Call([]*tensors.Tensor{input}, nil)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.NotSame(t, input, outputs[0])
	assert.True(t, input.Equal(outputs[0]))

	// Pre-allocated output.
	preallocated := tensors.FromShape(shapes.Make(dtypes.Int32, 2, 2))
	outputs, err = e.Call([]*tensors.Tensor{input}, []*tensors.Tensor{preallocated})
	require.NoError(t, err)
	assert.Same(t, preallocated, outputs[0])
	assert.Equal(t, []int32{1, 2, 3, 4}, tensors.MustCopyFlatData[int32](preallocated))

	_, err = e.Call(nil, nil)
	require.ErrorIs(t, err, ErrInputCountMismatch)
}

func TestTrivialConstant(t *testing.T) {
	b := graph.NewBuilder("constant")
	c := graph.Const(b, "c", []float64{1.5, -2, 3}, 3)
	fn := must.M1(b.Build(c))
	e := must.M1(New(goBackend(t), fn, "CPU"))
	defer e.Finalize()
	require.True(t, e.IsTrivial())
	assert.Empty(t, e.HoistedParameters(), "trivial functions are never hoisted")

	outputs, err := e.Call(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, -2, 3}, tensors.MustCopyFlatData[float64](outputs[0]))

	// Modifying the returned tensor doesn't change the Function.
	must.M(tensors.MutableFlatData(outputs[0], func(flat []float64) { flat[0] = 100 }))
	outputs, err = e.Call(nil, []*tensors.Tensor{nil})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, -2, 3}, tensors.MustCopyFlatData[float64](outputs[0]))

	preallocated := tensors.FromShape(shapes.Make(dtypes.Float64, 3))
	outputs, err = e.Call(nil, []*tensors.Tensor{preallocated})
	require.NoError(t, err)
	assert.Same(t, preallocated, outputs[0])
	assert.Equal(t, []float64{1.5, -2, 3}, tensors.MustCopyFlatData[float64](preallocated))
}

func TestTrivialZeroDim(t *testing.T) {
	b := graph.NewBuilder("empty")
	x := b.Parameter("x", shapes.Make(dtypes.Float32, 0, 3))
	y := b.Parameter("y", shapes.Make(dtypes.Float32, 0, 3))
	fn := must.M1(b.Build(b.Add(x, y), x))
	e := must.M1(New(goBackend(t), fn, "CPU"))
	defer e.Finalize()
	require.True(t, e.IsTrivial(), "results with a zero dimension don't need the device")

	empty := tensors.FromShape(shapes.Make(dtypes.Float32, 0, 3))
	for range 2 {
		outputs, err := e.Call([]*tensors.Tensor{empty, empty}, nil)
		require.NoError(t, err)
		require.Len(t, outputs, 2)
		for _, output := range outputs {
			assert.Equal(t, dtypes.Float32, output.DType())
			assert.Equal(t, []int{0, 3}, output.Shape().Dimensions)
			assert.Zero(t, output.SizeInBytes())
		}
	}
}

func TestTrivialErrors(t *testing.T) {
	b := graph.NewBuilder("trivial")
	x := b.Parameter("x", shapes.Make(dtypes.Float32, 2))
	fn := must.M1(b.Build(x))
	e := must.M1(New(goBackend(t), fn, "CPU"))
	defer e.Finalize()
	input := tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2)

	e.trivialResults[0].paramIdx = -1
	_, err := e.Call([]*tensors.Tensor{input}, nil)
	require.ErrorIs(t, err, ErrParameterNotFound)

	e.trivialResults[0].kind = producerInvalid
	_, err = e.Call([]*tensors.Tensor{input}, nil)
	require.ErrorIs(t, err, ErrInvalidTrivialGraph)
}

func TestCompiled(t *testing.T) {
	b := graph.NewBuilder("axpy")
	x := b.Parameter("x", shapes.Make(dtypes.Float32, 3))
	y := b.Parameter("y", shapes.Make(dtypes.Float32, 3))
	a := graph.Const(b, "a", []float32{2, 2, 2}, 3)
	fn := must.M1(b.Build(b.Add(b.Mul(a, x), y)))
	e, err := New(goBackend(t), fn, "CPU")
	require.NoError(t, err)
	defer e.Finalize()
	assert.False(t, e.IsTrivial())
	assert.Empty(t, e.HoistedParameters(), "functions with parameters are never hoisted")
	assert.Equal(t, 2, e.NumInputs())
	assert.Equal(t, "CPU", e.Device())

	// Fresh equal-valued inputs on every call yield byte-identical outputs.
	var previous *tensors.Tensor
	for range 3 {
		inputs := []*tensors.Tensor{
			tensors.FromFlatDataAndDimensions([]float32{1, 2, 3}, 3),
			tensors.FromFlatDataAndDimensions([]float32{10, 20, 30}, 3),
		}
		outputs, err := e.Call(inputs, nil)
		require.NoError(t, err)
		require.Len(t, outputs, 1)
		assert.Equal(t, []float32{12, 24, 36}, tensors.MustCopyFlatData[float32](outputs[0]))
		assert.Equal(t, []float32{1, 2, 3}, tensors.MustCopyFlatData[float32](inputs[0]), "inputs are not modified")
		if previous != nil {
			assert.NotSame(t, previous, outputs[0], "outputs are allocated on every call")
			assert.True(t, previous.Equal(outputs[0]))
		}
		previous = outputs[0]
	}
}

func TestCompiledPreallocatedOutputs(t *testing.T) {
	b := graph.NewBuilder("outputs")
	x := b.Parameter("x", shapes.Make(dtypes.Float32, 2))
	parts := b.Split(b.Neg(x), 0, 2)
	fn := must.M1(b.Build(parts[0], parts[1], x))
	e := must.M1(New(goBackend(t), fn, "CPU"))
	defer e.Finalize()
	require.False(t, e.IsTrivial())

	input := tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2)
	first := tensors.FromShape(shapes.Make(dtypes.Float32, 1))
	copyOfX := tensors.FromShape(shapes.Make(dtypes.Float32, 2))
	outputs, err := e.Call([]*tensors.Tensor{input}, []*tensors.Tensor{first, nil, copyOfX})
	require.NoError(t, err)
	assert.Same(t, first, outputs[0])
	assert.Same(t, copyOfX, outputs[2])
	assert.Equal(t, []float32{-1}, tensors.MustCopyFlatData[float32](first))
	assert.Equal(t, []float32{-2}, tensors.MustCopyFlatData[float32](outputs[1]))
	assert.Equal(t, []float32{1, 2}, tensors.MustCopyFlatData[float32](copyOfX))

	// Next call without pre-allocated outputs must not write to the previous ones.
	input2 := tensors.FromFlatDataAndDimensions([]float32{5, 6}, 2)
	outputs, err = e.Call([]*tensors.Tensor{input2}, nil)
	require.NoError(t, err)
	assert.NotSame(t, first, outputs[0])
	assert.Equal(t, []float32{-5}, tensors.MustCopyFlatData[float32](outputs[0]))
	assert.Equal(t, []float32{-1}, tensors.MustCopyFlatData[float32](first))
	assert.NotSame(t, input2, outputs[2], "inputs are never returned as outputs")
	assert.True(t, input2.Equal(outputs[2]))
}

func TestCompiledSharedProducer(t *testing.T) {
	b := graph.NewBuilder("shared")
	x := b.Parameter("x", shapes.Make(dtypes.Float32, 2))
	neg := b.Neg(x)
	fn := must.M1(b.Build(neg, neg))
	e := must.M1(New(goBackend(t), fn, "CPU"))
	defer e.Finalize()

	// The nil slot comes before the pre-allocated one sharing the same producer.
	input := tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2)
	preallocated := tensors.FromShape(shapes.Make(dtypes.Float32, 2))
	outputs, err := e.Call([]*tensors.Tensor{input}, []*tensors.Tensor{nil, preallocated})
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	assert.Same(t, preallocated, outputs[1])
	assert.NotSame(t, preallocated, outputs[0], "nil slots always get a new tensor")
	assert.Equal(t, []float32{-1, -2}, tensors.MustCopyFlatData[float32](outputs[0]))
	assert.Equal(t, []float32{-1, -2}, tensors.MustCopyFlatData[float32](preallocated))

	// Finalizing one output doesn't affect the other.
	preallocated.Finalize()
	assert.True(t, outputs[0].Ok())
	assert.Equal(t, []float32{-1, -2}, tensors.MustCopyFlatData[float32](outputs[0]))

	// Both slots nil: two independent tensors.
	outputs, err = e.Call([]*tensors.Tensor{input}, nil)
	require.NoError(t, err)
	assert.NotSame(t, outputs[0], outputs[1])
	assert.True(t, outputs[0].Equal(outputs[1]))
}

func TestHoisting(t *testing.T) {
	b := graph.NewBuilder("hoist")
	ids := graph.Const(b, "ids", []int64{1, 2}, 2)
	c := graph.Const(b, "c", []float32{0, 1}, 2)
	d := graph.Const(b, "d", []float32{1, 1}, 2)
	fn := must.M1(b.Build(b.Add(b.Exp(c), d), b.Neg(ids)))
	require.Zero(t, fn.NumParameters())

	e, err := New(goBackend(t), fn, "CPU")
	require.NoError(t, err)
	defer e.Finalize()
	require.False(t, e.IsTrivial())
	hoisted := e.HoistedParameters()
	require.Len(t, hoisted, 1, "only the first eligible constant is hoisted")
	assert.Equal(t, "c", hoisted[0].Name, "64-bit integer constants are never hoisted")
	assert.Equal(t, []float32{0, 1}, tensors.MustCopyFlatData[float32](hoisted[0].Tensor))
	assert.Equal(t, 0, e.NumInputs())
	assert.Equal(t, 1, e.Function().NumParameters())
	assert.Zero(t, fn.NumParameters(), "the original Function is not changed")
	constant, _ := fn.NodeByName("c")
	assert.True(t, constant.IsConstant())

	for range 2 {
		outputs, err := e.Call(nil, nil)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float32{2, 3.7182817}, tensors.MustCopyFlatData[float32](outputs[0]), 1e-5)
		assert.Equal(t, []int64{-1, -2}, tensors.MustCopyFlatData[int64](outputs[1]))
	}

	_, err = e.Call([]*tensors.Tensor{hoisted[0].Tensor}, nil)
	require.ErrorIs(t, err, ErrInputCountMismatch, "hoisted parameters are not given by the caller")
}

func TestNoHoistableInput(t *testing.T) {
	b := graph.NewBuilder("ints")
	x := graph.Const(b, "x", []int64{1, 2}, 2)
	y := graph.Const(b, "y", []uint64{3, 4}, 2)
	fn := must.M1(b.Build(b.Add(x, x), b.Neg(y)))
	backend := newFakeBackend()
	e, err := New(backend, fn, "CPU")
	require.ErrorIs(t, err, ErrNoHoistableInput)
	assert.Nil(t, e)
	assert.Zero(t, backend.numCompiles)
}

func TestCompilationFailed(t *testing.T) {
	b := graph.NewBuilder("neg")
	x := b.Parameter("x", shapes.Make(dtypes.Float32, 2))
	fn := must.M1(b.Build(b.Neg(x)))

	_, err := New(goBackend(t), fn, "GPU")
	require.ErrorIs(t, err, ErrCompilationFailed)

	backend := newFakeBackend()
	backend.compileErr = errors.New("out of device memory")
	_, err = New(backend, fn, "CPU")
	require.ErrorIs(t, err, ErrCompilationFailed)
	assert.Contains(t, err.Error(), "out of device memory")

	backend = newFakeBackend()
	backend.compilePanic = true
	_, err = New(backend, fn, "CPU")
	require.ErrorIs(t, err, ErrCompilationFailed)
	assert.Contains(t, err.Error(), "backend crashed")
}

func TestCallErrors(t *testing.T) {
	b := graph.NewBuilder("neg")
	x := b.Parameter("x", shapes.Make(dtypes.Float32, 2))
	fn := must.M1(b.Build(b.Neg(x)))
	backend := newFakeBackend()
	e := must.M1(New(backend, fn, "CPU"))
	input := tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2)

	_, err := e.Call(nil, nil)
	require.ErrorIs(t, err, ErrInputCountMismatch)
	_, err = e.Call([]*tensors.Tensor{input, input}, nil)
	require.ErrorIs(t, err, ErrInputCountMismatch)
	_, err = e.Call([]*tensors.Tensor{input}, []*tensors.Tensor{nil, nil})
	require.ErrorIs(t, err, ErrOutputCountMismatch)
	_, err = e.Call([]*tensors.Tensor{tensors.FromShape(shapes.Make(dtypes.Float64, 2))}, nil)
	require.ErrorIs(t, err, ErrShapeMismatch)
	_, err = e.Call([]*tensors.Tensor{input}, []*tensors.Tensor{tensors.FromShape(shapes.Make(dtypes.Float32, 3))})
	require.ErrorIs(t, err, ErrShapeMismatch)

	backend.inferErr = errors.New("device lost")
	_, err = e.Call([]*tensors.Tensor{input}, nil)
	require.ErrorIs(t, err, ErrDeviceExecutionFailure)
	assert.Contains(t, err.Error(), "device lost")

	// The executable is still usable after errors.
	backend.inferErr = nil
	outputs, err := e.Call([]*tensors.Tensor{input}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{-1, -2}, tensors.MustCopyFlatData[float32](outputs[0]))

	e.Finalize()
	_, err = e.Call([]*tensors.Tensor{input}, nil)
	require.ErrorIs(t, err, ErrFinalized)
	e.Finalize() // No-op.
}

func TestDump(t *testing.T) {
	dir := t.TempDir()
	b := graph.NewBuilder("dumped")
	x := b.Parameter("x", shapes.Make(dtypes.Float32, 2))
	fn := must.M1(b.Build(b.Exp(x)))
	e := must.M1(New(goBackend(t), fn, "CPU", WithDumpDir(dir)))
	defer e.Finalize()
	dot := must.M1(os.ReadFile(filepath.Join(dir, "dumped.dot")))
	assert.Contains(t, string(dot), "digraph")
	txt := must.M1(os.ReadFile(filepath.Join(dir, "dumped.txt")))
	assert.Contains(t, string(txt), `"x"`)
	assert.Contains(t, string(txt), "Operations: [Parameter Exp Result]")

	// Unnamed functions, dump enabled by the environment variable.
	t.Setenv(DumpDirEnvVar, dir)
	b = graph.NewBuilder("")
	x = b.Parameter("x", shapes.Make(dtypes.Float32, 2))
	fn = must.M1(b.Build(b.Neg(x)))
	e2 := must.M1(New(goBackend(t), fn, "CPU"))
	defer e2.Finalize()
	matches := must.M1(filepath.Glob(filepath.Join(dir, "function_*.dot")))
	assert.Len(t, matches, 1)

	// Failure to dump is not an error.
	e3, err := New(goBackend(t), fn, "CPU", WithDumpDir(filepath.Join(dir, "dumped.dot", "sub")))
	require.NoError(t, err)
	e3.Finalize()
}
