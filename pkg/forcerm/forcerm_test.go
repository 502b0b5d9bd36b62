// SPDX-License-Identifier: Apache-2.0
/*
 * rootstrap: rebuild a POSIX root filesystem inside an app sandbox
 * Copyright (C) 2024-2026 The rootstrap Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package forcerm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopRunner records invocations and performs nothing, simulating a platform
// where every external tool silently fails.
type noopRunner struct {
	calls [][]string
}

func (r *noopRunner) Run(name string, arg ...string) error {
	r.calls = append(r.calls, append([]string{name}, arg...))
	return nil
}

// denyThenRemoveRunner fails rm -rf but lets plain rm -f work, simulating a
// sandbox where recursive removal is flaky but per-file removal is not.
type denyThenRemoveRunner struct{}

func (denyThenRemoveRunner) Run(name string, arg ...string) error {
	if len(arg) > 0 && arg[0] == "-f" {
		return os.Remove(arg[len(arg)-1])
	}
	return nil // rm -rf "succeeds" without doing anything
}

func TestRemoveMissingPath(t *testing.T) {
	rm := NewWithRunner(&noopRunner{})
	assert.NoError(t, rm.Remove(filepath.Join(t.TempDir(), "nope")))
}

func TestRemoveRegularFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "victim")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	runner := &noopRunner{}
	rm := NewWithRunner(runner)
	require.NoError(t, rm.Remove(path))
	assert.NoFileExists(t, path)
	// The first chain step must have sufficed; no shelling out.
	assert.Empty(t, runner.calls)
}

func TestRemoveDanglingSymlink(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "broken")
	require.NoError(t, os.Symlink(filepath.Join(dir, "no-such-target"), link))

	rm := NewWithRunner(&noopRunner{})
	require.NoError(t, rm.Remove(link))
	_, err := os.Lstat(link)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRemoveReadOnlyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stubborn")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o400))

	rm := NewWithRunner(&noopRunner{})
	require.NoError(t, rm.Remove(path))
	assert.NoFileExists(t, path)
}

func TestRemoveAllTree(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base")
	require.NoError(t, os.MkdirAll(filepath.Join(base, "rootfs", "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "rootfs", "bin", "busybox"), []byte("elf"), 0o755))
	require.NoError(t, os.Symlink("busybox", filepath.Join(base, "rootfs", "bin", "sh")))
	require.NoError(t, os.Symlink("missing", filepath.Join(base, "rootfs", "dangling")))

	rm := NewWithRunner(&noopRunner{})
	require.NoError(t, rm.RemoveAll(base))
	assert.NoDirExists(t, base)
}

func TestRemoveAllMissingPath(t *testing.T) {
	runner := &noopRunner{}
	rm := NewWithRunner(runner)
	require.NoError(t, rm.RemoveAll(filepath.Join(t.TempDir(), "never-existed")))
	// Nothing exists, so not even rm -rf should have been attempted.
	assert.Empty(t, runner.calls)
}

func TestRemoveAllEscalatesToExternal(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base")
	require.NoError(t, os.MkdirAll(filepath.Join(base, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "sub", "f"), []byte("x"), 0o644))

	rm := NewWithRunner(denyThenRemoveRunner{})
	require.NoError(t, rm.RemoveAll(base))
	assert.NoDirExists(t, base)
}

func TestRemoveAllRunsRecursiveRemoveFirst(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base")
	require.NoError(t, os.MkdirAll(base, 0o755))

	runner := &noopRunner{}
	rm := NewWithRunner(runner)
	require.NoError(t, rm.RemoveAll(base))
	require.NotEmpty(t, runner.calls)
	assert.Equal(t, []string{"rm", "-rf", base}, runner.calls[0])
}
