// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a simple, and not very fast, but very portable backend, that interprets
// a graph.Function in pure Go on the "CPU" device.
//
// It only implements the most popular dtypes and operations, see Capabilities.
//
// Configuration (the part after "go:" in INFERBRIDGE_BACKEND) is a comma-separated list of options:
//
//   - "parallelism=N": maximum number of goroutines used to split large element-wise operations.
//     0 disables parallelism and -1 makes it unlimited. The default is runtime.NumCPU().
package simplego

import (
	"strconv"
	"strings"

	"github.com/gomlx/inferbridge/backends"
	"github.com/gomlx/inferbridge/internal/workerspool"
	"github.com/gomlx/inferbridge/pkg/core/graph"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in INFERBRIDGE_BACKEND to specify this backend.
const BackendName = "go"

// DeviceName is the only device supported by the backend. Names are matched case-insensitively,
// with an optional ":0" suffix.
const DeviceName = "CPU"

// Registers New() as the constructor for the "go" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new SimpleGo Backend, see package documentation for the config format.
func New(config string) (backends.Backend, error) {
	b := newBackend()
	for _, option := range strings.Split(config, ",") {
		option = strings.TrimSpace(option)
		if option == "" {
			continue
		}
		key, value, _ := strings.Cut(option, "=")
		switch key {
		case "parallelism":
			parallelism, err := strconv.Atoi(value)
			if err != nil {
				return nil, errors.Wrapf(err, "backend %q: invalid value for parallelism in %q", BackendName, option)
			}
			b.workers.SetMaxParallelism(parallelism)
		default:
			return nil, errors.Errorf("backend %q: unknown configuration option %q", BackendName, option)
		}
	}
	klog.V(2).Infof("simplego backend created with parallelism=%d", b.workers.MaxParallelism())
	return b, nil
}

func newBackend() *Backend {
	return &Backend{workers: workerspool.New()}
}

// Backend implements the backends.Backend interface.
type Backend struct {
	// workers are used to split large element-wise operations.
	workers *workerspool.Pool
}

// Compile-time check that simplego.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return BackendName
}

// String implement fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "Simple Go Portable Backend"
}

// Capabilities returns information about what is supported by this backend.
func (b *Backend) Capabilities() backends.Capabilities {
	return Capabilities.Clone()
}

// Compile the Function for the device, which must be "CPU".
func (b *Backend) Compile(fn *graph.Function, device string) (backends.Network, error) {
	if !IsValidDevice(device) {
		return nil, errors.Errorf("backend %q: unknown device %q, only %q is supported", BackendName, device, DeviceName)
	}
	return newNetwork(b, fn)
}

// Finalize releases all the associated resources immediately, and makes the backend invalid.
func (b *Backend) Finalize() {}

// IsValidDevice returns whether device names the CPU: "CPU", "cpu" or "CPU:0".
func IsValidDevice(device string) bool {
	device = strings.TrimSuffix(device, ":0")
	return strings.EqualFold(device, DeviceName)
}
