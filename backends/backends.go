// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface an inference device needs to implement to run a graph.Function.
//
// A Backend compiles a Function for one of its devices into a Network, and a Network creates InferRequests,
// which hold the buffers bound to its inputs and outputs and run the inference.
//
// Buffers are bound by name: inputs by the name of the Function's Parameters, and outputs by the name of the
// output feeding each Result (see graph.Function.ProducerName).
//
// Backends register themselves with Register, usually in the init() function of their package, and are
// selected with New, see INFERBRIDGE_BACKEND.
package backends

import (
	"os"
	"strings"
	"sync"

	"github.com/gomlx/inferbridge/pkg/core/graph"
	"github.com/gomlx/inferbridge/pkg/core/shapes"
	"github.com/gomlx/inferbridge/pkg/core/tensors"
	"github.com/gomlx/inferbridge/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Backend is the API that needs to be implemented by an inference device.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "go" for the pure Go backend.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// Capabilities returns the operations and dtypes the backend supports.
	Capabilities() Capabilities

	// Compile the Function for the given device. The device name is backend specific.
	Compile(fn *graph.Function, device string) (Network, error)

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// PortInfo describes one input or output of a compiled Network.
type PortInfo struct {
	// Name used to bind buffers with InferRequest.SetBuffer and InferRequest.GetBuffer.
	Name string

	// Shape of the buffer.
	Shape shapes.Shape
}

// Network is a Function compiled for a device.
type Network interface {
	// Name of the compiled Function.
	Name() string

	// Inputs returns the inputs of the network, in the order of the Function's Parameters.
	Inputs() []PortInfo

	// Outputs returns the outputs of the network, in the order of the Function's Results.
	Outputs() []PortInfo

	// NewRequest creates an inference request for the network.
	NewRequest() (InferRequest, error)

	// Finalize releases the resources associated with the network.
	Finalize()
}

// InferRequest holds the buffers bound to a Network's inputs and outputs, and executes the inference.
//
// InferRequests are not safe for concurrent use.
type InferRequest interface {
	// SetBuffer binds the tensor to the input or output with the given name.
	// Tensors bound to outputs are written in place by Infer. A nil tensor removes a previous output binding,
	// and the output is allocated again by Infer.
	SetBuffer(name string, tensor *tensors.Tensor) error

	// Infer runs the network synchronously with the bound inputs.
	Infer() error

	// GetBuffer returns the tensor of the input or output with the given name: for outputs not bound with
	// SetBuffer, it is a tensor allocated by the last call to Infer.
	GetBuffer(name string) (*tensors.Tensor, error)

	// Finalize releases the resources of the request. Tensors bound with SetBuffer are not finalized.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	muRegistry             sync.Mutex
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
	klog.V(2).Infof("registered backend %q", name)
}

// List the names of the registered backends, sorted.
func List() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	return xslices.SortedKeys(registeredConstructors)
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific (e.g.: for the "go" backend, "parallelism=4").
const ConfigEnvVar = "INFERBRIDGE_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment INFERBRIDGE_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
func New() (Backend, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// MustNew returns a new default Backend, see New. It panics on error.
func MustNew() Backend {
	backend, err := New()
	if err != nil {
		panic(err)
	}
	return backend
}

// NewWithConfig takes a configuration string formatted as "<backend_name>:<backend_configuration>".
//
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific. If there is no ":", the whole config is taken as the
// backend name, and if config is empty the first registered backend is used.
func NewWithConfig(config string) (Backend, error) {
	muRegistry.Lock()
	if len(registeredConstructors) == 0 {
		muRegistry.Unlock()
		return nil, errors.New(`no registered backends -- maybe import the default ones with import _ "github.com/gomlx/inferbridge/backends/default"?`)
	}
	backendName := firstRegistered
	var backendConfig string
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if config != "" {
		backendName = config
	}
	constructor, found := registeredConstructors[backendName]
	muRegistry.Unlock()
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q given, registered backends: %v",
			backendName, config, List())
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create backend %q with config %q", backendName, backendConfig)
	}
	return backend, nil
}
