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

package tarstream

import (
	"archive/tar"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTar builds a tar stream with the stock library. The production reader
// is deliberately independent of archive/tar, which makes it a convenient
// reference producer for tests.
func writeTar(t *testing.T, entries []tarEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, ent := range entries {
		hdr := &tar.Header{
			Name:     ent.name,
			Mode:     ent.mode,
			Size:     int64(len(ent.content)),
			Typeflag: ent.typeFlag,
			Linkname: ent.linkname,
		}
		require.NoError(t, tw.WriteHeader(hdr), "write header %s", ent.name)
		if len(ent.content) > 0 {
			_, err := tw.Write([]byte(ent.content))
			require.NoError(t, err, "write content %s", ent.name)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

type tarEntry struct {
	name     string
	typeFlag byte
	mode     int64
	content  string
	linkname string
}

func TestReaderBasicSequence(t *testing.T) {
	data := writeTar(t, []tarEntry{
		{name: "bin/", typeFlag: tar.TypeDir, mode: 0o755},
		{name: "bin/busybox", typeFlag: tar.TypeReg, mode: 0o755, content: strings.Repeat("x", 1025)},
		{name: "bin/sh", typeFlag: tar.TypeSymlink, mode: 0o777, linkname: "busybox"},
		{name: "bin/ash", typeFlag: tar.TypeLink, mode: 0o755, linkname: "bin/busybox"},
		{name: "etc/resolv.conf", typeFlag: tar.TypeReg, mode: 0o644, content: "nameserver 8.8.8.8\n"},
	})

	tr := NewReader(bytes.NewReader(data))

	ent, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "bin/", ent.Name)
	assert.Equal(t, KindDirectory, ent.Kind)

	ent, err = tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "bin/busybox", ent.Name)
	assert.Equal(t, KindRegular, ent.Kind)
	assert.EqualValues(t, 1025, ent.Size)
	assert.True(t, ent.IsExec())
	content, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Len(t, content, 1025)

	ent, err = tr.Next()
	require.NoError(t, err)
	assert.Equal(t, KindSymlink, ent.Kind)
	assert.Equal(t, "busybox", ent.Linkname)

	ent, err = tr.Next()
	require.NoError(t, err)
	assert.Equal(t, KindHardlink, ent.Kind)
	assert.Equal(t, "bin/busybox", ent.Linkname)

	ent, err = tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "etc/resolv.conf", ent.Name)
	content, err = io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, "nameserver 8.8.8.8\n", string(content))

	_, err = tr.Next()
	assert.ErrorIs(t, err, io.EOF)
	// The error must be sticky.
	_, err = tr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderSkipsUnreadContent(t *testing.T) {
	data := writeTar(t, []tarEntry{
		{name: "a", typeFlag: tar.TypeReg, mode: 0o644, content: strings.Repeat("a", 700)},
		{name: "b", typeFlag: tar.TypeReg, mode: 0o644, content: "bee"},
	})

	tr := NewReader(bytes.NewReader(data))

	_, err := tr.Next()
	require.NoError(t, err)
	// Read only part of "a"; Next must realign regardless.
	var partial [123]byte
	_, err = io.ReadFull(tr, partial[:])
	require.NoError(t, err)

	ent, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", ent.Name)
	content, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, "bee", string(content))
}

func TestReaderTruncatedHeaderIsEOF(t *testing.T) {
	data := writeTar(t, []tarEntry{
		{name: "a", typeFlag: tar.TypeReg, mode: 0o644, content: "hello"},
	})
	// Chop off the zero-block trailer plus part of what would be the next
	// header. Producers that omit trailing padding look exactly like this.
	data = data[:1024+100]

	tr := NewReader(bytes.NewReader(data))
	ent, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", ent.Name)

	_, err = tr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderEmptyStream(t *testing.T) {
	tr := NewReader(bytes.NewReader(nil))
	_, err := tr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderMalformedSizeField(t *testing.T) {
	// Hand-craft a header with garbage in the size slot. The entry must
	// decode with size 0 instead of failing the whole archive.
	var header [blockSize]byte
	copy(header[nameOff:], "weird")
	copy(header[modeOff:], "0644\x00")
	copy(header[sizeOff:], "notoctal\x00")
	header[typeOff] = '0'

	tr := NewReader(bytes.NewReader(header[:]))
	ent, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "weird", ent.Name)
	assert.EqualValues(t, 0, ent.Size)

	_, err = tr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderTrailingSlashDirectory(t *testing.T) {
	var header [blockSize]byte
	copy(header[nameOff:], "olddir/")
	copy(header[modeOff:], "0755\x00")
	copy(header[sizeOff:], "0\x00")
	header[typeOff] = '0' // type says regular, name says directory

	tr := NewReader(bytes.NewReader(header[:]))
	ent, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, KindDirectory, ent.Kind)
}

func TestReaderUnknownTypeSkipsContent(t *testing.T) {
	data := writeTar(t, []tarEntry{
		{name: "dev/null", typeFlag: tar.TypeChar, mode: 0o666},
		{name: "after", typeFlag: tar.TypeReg, mode: 0o644, content: "still here"},
	})

	tr := NewReader(bytes.NewReader(data))
	ent, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, ent.Kind)

	ent, err = tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "after", ent.Name)
	content, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, "still here", string(content))
}

func TestReaderLinkEntriesHaveNoContent(t *testing.T) {
	data := writeTar(t, []tarEntry{
		{name: "link", typeFlag: tar.TypeSymlink, mode: 0o777, linkname: "target"},
	})

	tr := NewReader(bytes.NewReader(data))
	_, err := tr.Next()
	require.NoError(t, err)
	n, err := tr.Read(make([]byte, 16))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}
