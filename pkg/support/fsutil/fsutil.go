// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for working with the file system.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ReplaceTildeInDir by the user's home directory. Returns dir if it doesn't start with "~".
//
// Both "~/..." (current user) and "~name/..." are accepted. It returns an error if the user is unknown.
func ReplaceTildeInDir(dir string) (string, error) {
	if !strings.HasPrefix(dir, "~") {
		return dir, nil
	}
	userName, rest, _ := strings.Cut(dir[1:], "/")
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", dir)
	}
	return filepath.Join(usr.HomeDir, rest), nil
}

// MkdirAll expands a leading "~" in dir and creates it with any missing parents.
// It returns the expanded path.
func MkdirAll(dir string) (string, error) {
	dir, err := ReplaceTildeInDir(dir)
	if err != nil {
		return "", err
	}
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create directory %q", dir)
	}
	return dir, nil
}
