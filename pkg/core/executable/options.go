// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package executable

import "os"

// DumpDirEnvVar is the environment variable that, if set, enables WithDumpDir for every Executable created,
// with its value as the directory.
const DumpDirEnvVar = "INFERBRIDGE_DUMP_GRAPHS"

type options struct {
	dumpDir string
}

func defaultOptions() options {
	return options{dumpDir: os.Getenv(DumpDirEnvVar)}
}

// Option configures New.
type Option func(opts *options)

// WithDumpDir makes New write diagnostic files about the compiled Function to dir: "<name>.dot", a Graphviz plot
// of the Function, and "<name>.txt", with the inputs and outputs of the compiled network and the hoisted
// parameters. Unnamed Functions use a unique "function_<uuid>" name.
//
// An empty dir disables the dump, including the one enabled by the INFERBRIDGE_DUMP_GRAPHS environment variable.
// Failing to write the files is logged, and it is never an error.
func WithDumpDir(dir string) Option {
	return func(opts *options) {
		opts.dumpDir = dir
	}
}
