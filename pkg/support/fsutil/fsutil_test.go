// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceTildeInDir(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)

	got, err := ReplaceTildeInDir("/tmp/x")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", got)

	got, err = ReplaceTildeInDir("~/dumps")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(usr.HomeDir, "dumps"), got)

	got, err = ReplaceTildeInDir("~")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(usr.HomeDir), got)

	got, err = ReplaceTildeInDir("~" + usr.Username + "/a/b")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(usr.HomeDir, "a", "b"), got)

	_, err = ReplaceTildeInDir("~no_such_user_for_fsutil_test/x")
	require.Error(t, err)
}

func TestMkdirAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	got, err := MkdirAll(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Already existing directories are fine.
	_, err = MkdirAll(dir)
	require.NoError(t, err)
}
