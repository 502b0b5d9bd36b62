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

package rootfs

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tarEntry struct {
	header  tar.Header
	content string
}

func buildTar(t *testing.T, entries []tarEntry) io.Reader {
	t.Helper()
	buf := new(bytes.Buffer)
	tw := tar.NewWriter(buf)
	for _, ent := range entries {
		hdr := ent.header
		if hdr.Typeflag == tar.TypeReg {
			hdr.Size = int64(len(ent.content))
		}
		require.NoError(t, tw.WriteHeader(&hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(ent.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf
}

func TestExtractRoundtrip(t *testing.T) {
	root := t.TempDir()
	stream := buildTar(t, []tarEntry{
		{header: tar.Header{Name: "etc/", Typeflag: tar.TypeDir, Mode: 0o700}},
		{header: tar.Header{Name: "etc/hostname", Typeflag: tar.TypeReg, Mode: 0o600}, content: "sandbox\n"},
		{header: tar.Header{Name: "bin/busybox", Typeflag: tar.TypeReg, Mode: 0o755}, content: "#!binary\n"},
		{header: tar.Header{Name: "bin/sh", Typeflag: tar.TypeSymlink, Linkname: "busybox"}},
		{header: tar.Header{Name: "bin/ls", Typeflag: tar.TypeLink, Linkname: "bin/busybox"}},
	})

	stats, err := NewExtractor(nil).Extract(root, stream)
	require.NoError(t, err)
	assert.Equal(t, Stats{Files: 2, Dirs: 1, Links: 2, Skipped: 0}, stats)

	// Directory mode normalised regardless of the archive's 0700.
	fi, err := os.Stat(filepath.Join(root, "etc"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), fi.Mode().Perm())

	// Plain file gets 0644, executable placement forces 0755.
	body, err := os.ReadFile(filepath.Join(root, "etc", "hostname"))
	require.NoError(t, err)
	assert.Equal(t, "sandbox\n", string(body))
	fi, err = os.Stat(filepath.Join(root, "etc", "hostname"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), fi.Mode().Perm())

	fi, err = os.Stat(filepath.Join(root, "bin", "busybox"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), fi.Mode().Perm())

	// Symlink preserved natively.
	target, err := os.Readlink(filepath.Join(root, "bin", "sh"))
	require.NoError(t, err)
	assert.Equal(t, "busybox", target)

	// Hardlink degraded to an independent, exec-mirrored copy.
	fi, err = os.Lstat(filepath.Join(root, "bin", "ls"))
	require.NoError(t, err)
	assert.True(t, fi.Mode().IsRegular())
	assert.NotZero(t, fi.Mode().Perm()&0o111)
	body, err = os.ReadFile(filepath.Join(root, "bin", "ls"))
	require.NoError(t, err)
	assert.Equal(t, "#!binary\n", string(body))
}

func TestExtractMissingParentDirectories(t *testing.T) {
	root := t.TempDir()
	stream := buildTar(t, []tarEntry{
		{header: tar.Header{Name: "usr/share/doc/README", Typeflag: tar.TypeReg, Mode: 0o644}, content: "hi"},
	})

	stats, err := NewExtractor(nil).Extract(root, stream)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)

	body, err := os.ReadFile(filepath.Join(root, "usr", "share", "doc", "README"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(body))
}

func TestExtractSkipsEscapingPaths(t *testing.T) {
	root := filepath.Join(t.TempDir(), "rootfs")
	stream := buildTar(t, []tarEntry{
		{header: tar.Header{Name: "../../evil", Typeflag: tar.TypeReg, Mode: 0o644}, content: "nope"},
		{header: tar.Header{Name: "safe", Typeflag: tar.TypeReg, Mode: 0o644}, content: "ok"},
	})

	stats, err := NewExtractor(nil).Extract(root, stream)
	require.NoError(t, err, "an unsafe entry must not abort the run")
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Files)

	_, err = os.Lstat(filepath.Join(filepath.Dir(root), "evil"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Lstat(filepath.Join(root, "safe"))
	assert.NoError(t, err)
}

func TestExtractSymlinkRedirectionConfined(t *testing.T) {
	root := filepath.Join(t.TempDir(), "rootfs")
	// A symlink pointing outside the root must not let a later entry that
	// traverses it escape.
	stream := buildTar(t, []tarEntry{
		{header: tar.Header{Name: "leak", Typeflag: tar.TypeSymlink, Linkname: "../../"}},
		{header: tar.Header{Name: "leak/escaped", Typeflag: tar.TypeReg, Mode: 0o644}, content: "nope"},
	})

	_, err := NewExtractor(nil).Extract(root, stream)
	require.NoError(t, err)

	_, err = os.Lstat(filepath.Join(filepath.Dir(root), "escaped"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExtractForwardHardlinkDegradesToSymlink(t *testing.T) {
	root := t.TempDir()
	stream := buildTar(t, []tarEntry{
		{header: tar.Header{Name: "bin/gzip", Typeflag: tar.TypeLink, Linkname: "bin/busybox"}},
		{header: tar.Header{Name: "bin/busybox", Typeflag: tar.TypeReg, Mode: 0o755}, content: "bb"},
	})

	stats, err := NewExtractor(nil).Extract(root, stream)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Links)

	// Target not seen yet at link time, so the entry still resolves via a
	// symlink instead of failing outright.
	fi, err := os.Lstat(filepath.Join(root, "bin", "gzip"))
	require.NoError(t, err)
	assert.NotZero(t, fi.Mode()&os.ModeSymlink)
	resolved, err := os.Stat(filepath.Join(root, "bin", "gzip"))
	require.NoError(t, err)
	assert.True(t, resolved.Mode().IsRegular())
}

func TestExtractClobbersExistingEntries(t *testing.T) {
	root := t.TempDir()
	// Occupy the destination with the wrong node types.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc", "passwd"), 0o755))
	require.NoError(t, os.Symlink("dangling", filepath.Join(root, "stale")))

	stream := buildTar(t, []tarEntry{
		{header: tar.Header{Name: "etc/passwd", Typeflag: tar.TypeReg, Mode: 0o644}, content: "root:x:0:0\n"},
		{header: tar.Header{Name: "stale", Typeflag: tar.TypeReg, Mode: 0o644}, content: "fresh"},
	})

	_, err := NewExtractor(nil).Extract(root, stream)
	require.NoError(t, err)

	body, err := os.ReadFile(filepath.Join(root, "etc", "passwd"))
	require.NoError(t, err)
	assert.Equal(t, "root:x:0:0\n", string(body))

	fi, err := os.Lstat(filepath.Join(root, "stale"))
	require.NoError(t, err)
	assert.True(t, fi.Mode().IsRegular())
}

func TestExtractRerunIsIdempotent(t *testing.T) {
	root := t.TempDir()
	entries := []tarEntry{
		{header: tar.Header{Name: "bin/", Typeflag: tar.TypeDir, Mode: 0o755}},
		{header: tar.Header{Name: "bin/busybox", Typeflag: tar.TypeReg, Mode: 0o755}, content: "bb"},
		{header: tar.Header{Name: "bin/sh", Typeflag: tar.TypeSymlink, Linkname: "busybox"}},
	}

	ex := NewExtractor(nil)
	_, err := ex.Extract(root, buildTar(t, entries))
	require.NoError(t, err)
	stats, err := ex.Extract(root, buildTar(t, entries))
	require.NoError(t, err)
	assert.Equal(t, Stats{Files: 1, Dirs: 1, Links: 1}, stats)

	target, err := os.Readlink(filepath.Join(root, "bin", "sh"))
	require.NoError(t, err)
	assert.Equal(t, "busybox", target)
}

func TestNormalizeEntryName(t *testing.T) {
	for _, tc := range []struct {
		in, want string
		unsafe   bool
	}{
		{in: "usr/bin/env", want: "usr/bin/env"},
		{in: "/etc/passwd", want: "etc/passwd"},
		{in: "./././var/log", want: "var/log"},
		{in: "etc/", want: "etc"},
		{in: "", want: ""},
		{in: ".", want: ""},
		{in: "./", want: ""},
		{in: "../etc", unsafe: true},
		{in: "usr/../../etc", unsafe: true},
	} {
		got, err := normalizeEntryName(tc.in)
		if tc.unsafe {
			assert.ErrorIs(t, err, ErrUnsafePath, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestWantsExec(t *testing.T) {
	assert.True(t, wantsExec("usr/bin/env", 0o644))
	assert.True(t, wantsExec("opt/app/run.sh", 0o644))
	assert.True(t, wantsExec("opt/app/server.js", 0o644))
	assert.True(t, wantsExec("srv/tool", 0o755))
	assert.False(t, wantsExec("etc/passwd", 0o644))
	assert.False(t, wantsExec("usr/share/doc/README", 0o444))
}

func TestCopyLinkTargetStrategy(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "busybox"), []byte("bb"), 0o755))

	ex := NewExtractor(nil)
	ec := newExtractionContext(root)

	// Relative target, resolved against the link's directory.
	dest := filepath.Join(root, "bin", "sh")
	require.NoError(t, copyLinkTarget(ex, ec, "bin/sh", dest, "busybox"))
	fi, err := os.Lstat(dest)
	require.NoError(t, err)
	assert.True(t, fi.Mode().IsRegular())
	assert.NotZero(t, fi.Mode().Perm()&0o111)

	// Absolute target, resolved against the rootfs rather than the host.
	dest = filepath.Join(root, "bin", "ash")
	require.NoError(t, copyLinkTarget(ex, ec, "bin/ash", dest, "/bin/busybox"))
	body, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "bb", string(body))

	// Missing target is an error, letting the chain move on.
	err = copyLinkTarget(ex, ec, "bin/vi", filepath.Join(root, "bin", "vi"), "missing")
	assert.Error(t, err)
}

func TestWrapperScriptStrategy(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	dest := filepath.Join(root, "bin", "node")

	require.NoError(t, wrapperScript(nil, nil, "bin/node", dest, "nodejs"))
	body, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\nexec nodejs \"$@\"\n", string(body))
	fi, err := os.Stat(dest)
	require.NoError(t, err)
	assert.NotZero(t, fi.Mode().Perm()&0o111)

	// Only entries under executable directories qualify for a wrapper.
	assert.True(t, linkStrategies[len(linkStrategies)-1].applies("usr/bin/node"))
	assert.False(t, linkStrategies[len(linkStrategies)-1].applies("usr/lib/libc.so"))
}
