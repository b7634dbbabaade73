// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// inferbridge_run loads a serialized Function, compiles it into an Executable and calls it
// repeatedly with zero-valued inputs, reporting the durations and the outputs.
//
// Usage:
//
//	inferbridge_run [-backend go] [-device CPU] [-repeat N] [-dot] [-no_color] graph.json
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/inferbridge/backends"
	_ "github.com/gomlx/inferbridge/backends/default"
	"github.com/gomlx/inferbridge/pkg/core/executable"
	"github.com/gomlx/inferbridge/pkg/core/graph"
	"github.com/gomlx/inferbridge/pkg/core/tensors"
	"github.com/gomlx/inferbridge/pkg/support/fsutil"
	"github.com/gomlx/inferbridge/pkg/support/xslices"
	"github.com/gomlx/inferbridge/ui/commandline"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagBackend = flag.String("backend", "", fmt.Sprintf("Backend configuration, formatted as "+
		"\"<backend>:<config>\". If empty, $%s is used, or the first registered backend.", backends.ConfigEnvVar))
	flagDevice      = flag.String("device", "CPU", "Device to compile the Function for.")
	flagRepeat      = flag.Int("repeat", 1, "Number of times to call the executable.")
	flagDot         = flag.Bool("dot", false, "Print the Function in Graphviz DOT format and exit.")
	flagNoColor     = flag.Bool("no_color", false, "Disable colors and text styles in the output.")
	flagMaxElements = flag.Int("max_elements", 8, "Maximum number of leading values printed for each output.")
	flagDumpDir     = flag.String("dump", "", fmt.Sprintf("Directory where to write diagnostic files of the "+
		"compiled Function. Defaults to $%s.", executable.DumpDirEnvVar))
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing serialized Function (graph.json) to run. See 'inferbridge_run -help'")
		os.Exit(1)
	}
	if len(args) > 1 {
		klog.Errorf("Too many arguments. See 'inferbridge_run -help'.")
		os.Exit(1)
	}
	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	if err := run(args[0]); err != nil {
		klog.Errorf("Failed: %+v", err)
		os.Exit(1)
	}
}

func run(graphPath string) error {
	graphPath, err := fsutil.ReplaceTildeInDir(graphPath)
	if err != nil {
		return err
	}
	fn, err := graph.Load(graphPath)
	if err != nil {
		return err
	}
	if *flagDot {
		return fn.WriteDot(os.Stdout)
	}

	var backend backends.Backend
	if *flagBackend != "" {
		backend, err = backends.NewWithConfig(*flagBackend)
	} else {
		backend, err = backends.New()
	}
	if err != nil {
		return err
	}
	defer backend.Finalize()

	var opts []executable.Option
	if *flagDumpDir != "" {
		opts = append(opts, executable.WithDumpDir(*flagDumpDir))
	}
	exec, err := executable.New(backend, fn, *flagDevice, opts...)
	if err != nil {
		return err
	}
	defer exec.Finalize()

	inputs := zeroInputs(exec)
	defer func() {
		for _, input := range inputs {
			input.Finalize()
		}
	}()

	fmt.Println(commandline.TitleStyle.Render("Executable"))
	fmt.Println(commandline.KeyValueTable(
		[2]string{"function", fn.Name()},
		[2]string{"backend", backend.Name() + ": " + backend.Description()},
		[2]string{"device", exec.Device()},
		[2]string{"# nodes", humanize.Comma(int64(fn.NumNodes()))},
		[2]string{"# inputs", humanize.Comma(int64(exec.NumInputs()))},
		[2]string{"# hoisted", humanize.Comma(int64(len(exec.HoistedParameters())))},
		[2]string{"trivial", fmt.Sprintf("%v", exec.IsTrivial())},
	))

	numCalls := max(*flagRepeat, 1)
	progress := commandline.NewCallProgress(numCalls)
	var outputs []*tensors.Tensor
	for range numCalls {
		start := time.Now()
		// Outputs of the previous call are reused as pre-allocated outputs.
		outputs, err = exec.Call(inputs, outputs)
		if err != nil {
			progress.Done()
			return errors.WithMessagef(err, "calling %q", fn.Name())
		}
		progress.Step(time.Since(start))
	}
	progress.Done()
	median := commandline.MedianDuration(progress.Durations())

	results := fn.Results()
	names := xslices.Map(results, fn.ProducerName)
	fmt.Println(commandline.TitleStyle.Render(fmt.Sprintf("Outputs (median call %s)", commandline.FormatDuration(median))))
	fmt.Println(commandline.OutputsTable(names, outputs, *flagMaxElements))
	for _, output := range outputs {
		output.Finalize()
	}
	return nil
}

// zeroInputs allocates zero-valued tensors for each of the executable's inputs.
func zeroInputs(exec *executable.Executable) []*tensors.Tensor {
	params := exec.Function().Parameters()
	inputs := make([]*tensors.Tensor, exec.NumInputs())
	for ii := range inputs {
		inputs[ii] = tensors.FromShape(params[ii].Shape())
		klog.V(1).Infof("input %q: %s (%s)", params[ii].Name(), params[ii].Shape(),
			humanize.Bytes(uint64(params[ii].Shape().ByteSize())))
	}
	return inputs
}
