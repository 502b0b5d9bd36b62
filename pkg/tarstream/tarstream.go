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

// Package tarstream decodes a block-oriented tape-archive byte stream into a
// lazy sequence of entries. It is intentionally not built on archive/tar: the
// sandboxed filesystems this project targets are fed archives from a variety
// of producers, and we need byte-level control over how malformed headers are
// tolerated (unparseable size fields are coerced to zero, truncated trailers
// end the stream silently).
//
// The reader is forward-only and non-restartable. After Next returns an
// entry, the Reader itself reads that entry's content; any unread content and
// block padding is skipped on the following Next call, so consumers may
// partially read (or never read) an entry without desynchronising the stream.
//
// Decompression is the caller's problem: wrap the stream before constructing
// a Reader.
package tarstream

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/apex/log"
)

// blockSize is the fixed record granularity of the format. Headers occupy
// exactly one block and content is padded up to a block boundary.
const blockSize = 512

// Fixed offsets and widths of the header fields we consume.
const (
	nameOff = 0
	nameLen = 100

	modeOff = 100
	modeLen = 8

	sizeOff = 124
	sizeLen = 12

	typeOff = 156

	linkOff = 157
	linkLen = 100
)

// Kind classifies an archive entry.
type Kind int

const (
	// KindRegular is a regular file with content.
	KindRegular Kind = iota
	// KindDirectory is a directory.
	KindDirectory
	// KindSymlink is a symbolic link to Entry.Linkname.
	KindSymlink
	// KindHardlink is a hard link to the earlier entry named Entry.Linkname.
	KindHardlink
	// KindUnknown is any type flag we do not materialise (devices, FIFOs,
	// extension headers). Content is still skipped correctly.
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindHardlink:
		return "hardlink"
	}
	return "unknown"
}

// Entry is one decoded archive record. Entries are ephemeral: the fields are
// only valid until the next call to Reader.Next.
type Entry struct {
	// Name is the raw entry path as stored in the archive. No normalisation
	// or safety checking has been applied to it.
	Name string
	// Kind is the decoded entry type.
	Kind Kind
	// Size is the content length in bytes. Malformed size fields decode as 0.
	Size int64
	// Mode holds the permission bits from the header.
	Mode os.FileMode
	// Linkname is the link target; non-empty iff Kind is KindSymlink or
	// KindHardlink.
	Linkname string
}

// IsExec reports whether any execute bit is set in the entry mode.
func (e *Entry) IsExec() bool {
	return e.Mode&0o111 != 0
}

// Reader reads entries from a tar-formatted stream. It implements io.Reader
// for the content of the most recently returned entry.
type Reader struct {
	r         io.Reader
	remaining int64 // unread content bytes of the current entry
	padding   int64 // block padding after the current entry's content
	err       error // sticky error
}

// NewReader returns a Reader decoding entries from r. If the underlying
// stream is compressed it must be wrapped before being passed here.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next advances to the next entry in the stream, skipping any unread content
// of the current one. It returns io.EOF when the archive ends, which happens
// on an all-zero header block or when the stream is truncated mid-header
// (some producers omit the zero-block trailer entirely).
func (tr *Reader) Next() (*Entry, error) {
	if tr.err != nil {
		return nil, tr.err
	}

	// Skip whatever is left of the previous entry, padding included.
	if skip := tr.remaining + tr.padding; skip > 0 {
		if _, err := io.CopyN(io.Discard, tr.r, skip); err != nil {
			tr.err = io.EOF
			return nil, tr.err
		}
		tr.remaining, tr.padding = 0, 0
	}

	var header [blockSize]byte
	if _, err := io.ReadFull(tr.r, header[:]); err != nil {
		// Truncated or missing trailer. Treat as a clean end of archive.
		tr.err = io.EOF
		return nil, tr.err
	}
	if isZeroBlock(header[:]) {
		tr.err = io.EOF
		return nil, tr.err
	}

	entry := parseHeader(header[:])
	if entry.Kind == KindRegular || entry.Kind == KindUnknown {
		tr.remaining = entry.Size
		tr.padding = (blockSize - entry.Size%blockSize) % blockSize
	} else {
		// Links and directories carry no content blocks; some producers still
		// leave a stale size in the header, which must not desynchronise us.
		tr.remaining, tr.padding = 0, 0
	}
	return entry, nil
}

// Read reads the content of the current entry. It returns io.EOF once the
// entry's content is exhausted.
func (tr *Reader) Read(p []byte) (int, error) {
	if tr.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > tr.remaining {
		p = p[:tr.remaining]
	}
	n, err := tr.r.Read(p)
	tr.remaining -= int64(n)
	if err == io.EOF && tr.remaining > 0 {
		// The stream ended inside an entry's content.
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

func parseHeader(header []byte) *Entry {
	name := cstring(header[nameOff : nameOff+nameLen])
	linkname := cstring(header[linkOff : linkOff+linkLen])
	size := parseOctal(header[sizeOff : sizeOff+sizeLen])
	mode := parseOctal(header[modeOff : modeOff+modeLen])
	typeFlag := header[typeOff]

	kind := KindUnknown
	switch typeFlag {
	case '0', 0, ' ':
		kind = KindRegular
	case '1':
		kind = KindHardlink
	case '2':
		kind = KindSymlink
	case '5':
		kind = KindDirectory
	}
	// Old producers mark directories only with a trailing slash.
	if kind == KindRegular && strings.HasSuffix(name, "/") {
		kind = KindDirectory
	}
	if kind != KindSymlink && kind != KindHardlink {
		linkname = ""
	}

	return &Entry{
		Name:     name,
		Kind:     kind,
		Size:     size,
		Mode:     os.FileMode(mode) & os.ModePerm,
		Linkname: linkname,
	}
}

// cstring decodes a NUL-terminated string from a fixed-width header slot.
func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// parseOctal decodes an octal numeral from a fixed-width header slot. Parse
// failures decode as 0 rather than aborting the archive; producers in the
// wild emit blank and otherwise malformed size fields, and a skipped entry
// beats a bricked setup. Whether silently masking truncated archives this way
// is the right call is debatable, but it matches long-standing behaviour.
func parseOctal(b []byte) int64 {
	s := strings.TrimSpace(strings.Trim(cstring(b), " \x00"))
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 8, 64)
	if err != nil || n < 0 {
		log.Debugf("tarstream: coercing malformed octal field %q to 0", s)
		return 0
	}
	return n
}

func isZeroBlock(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
