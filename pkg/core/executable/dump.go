// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package executable

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/inferbridge/pkg/support/fsutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// dump writes the diagnostic files of the compiled Function to dir. Failures are only logged.
func (e *Executable) dump(dir string) {
	name := e.function.Name()
	if name == "" {
		name = "function_" + uuid.NewString()
	}
	name = strings.ReplaceAll(name, string(filepath.Separator), "_")
	if err := e.writeDumpFiles(dir, name); err != nil {
		klog.Warningf("executable: failed to dump Function %q to %q: %+v", e.function.Name(), dir, err)
		return
	}
	klog.V(1).Infof("executable: dumped Function %q to %s", e.function.Name(), filepath.Join(dir, name+".{dot,txt}"))
}

func (e *Executable) writeDumpFiles(dir, name string) error {
	dir, err := fsutil.MkdirAll(dir)
	if err != nil {
		return err
	}

	dotPath := filepath.Join(dir, name+".dot")
	f, err := os.Create(dotPath)
	if err != nil {
		return errors.Wrapf(err, "creating %q", dotPath)
	}
	err = e.function.WriteDot(f)
	closeErr := f.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return errors.Wrapf(closeErr, "closing %q", dotPath)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Function %q compiled for device %q of backend %q (%s)\n",
		e.function.Name(), e.device, e.backend.Name(), e.backend.Description())
	fmt.Fprintf(&sb, "\nInputs (%d):\n", len(e.network.Inputs()))
	for ii, port := range e.network.Inputs() {
		fmt.Fprintf(&sb, "\t#%d %q: %s (%s)\n", ii, port.Name, port.Shape, humanize.Bytes(uint64(port.Shape.ByteSize())))
	}
	fmt.Fprintf(&sb, "\nOutputs (%d):\n", len(e.network.Outputs()))
	for ii, port := range e.network.Outputs() {
		fmt.Fprintf(&sb, "\t#%d %q: %s (%s)\n", ii, port.Name, port.Shape, humanize.Bytes(uint64(port.Shape.ByteSize())))
	}
	fmt.Fprintf(&sb, "\nOperations: %v\n", e.function.OpTypes())
	fmt.Fprintf(&sb, "\nHoisted parameters (%d):\n", len(e.hoisted))
	for _, hoisted := range e.hoisted {
		fmt.Fprintf(&sb, "\t%q: %s\n", hoisted.Name, hoisted.Tensor)
	}
	sb.WriteString("\n")
	sb.WriteString(e.function.String())

	txtPath := filepath.Join(dir, name+".txt")
	if err := os.WriteFile(txtPath, []byte(sb.String()), 0o644); err != nil {
		return errors.Wrapf(err, "writing %q", txtPath)
	}
	return nil
}
