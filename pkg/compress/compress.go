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

// Package compress provides transparent decompression for the outer layer of
// downloaded and bundled archive streams. The tar machinery itself never
// sees compression: callers sniff and unwrap the stream here first.
package compress

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// Algorithm is a streaming decompressor for one compression format.
type Algorithm interface {
	// Name returns the short name of the format ("gzip", "xz", ...).
	Name() string

	// Decompress wraps the compressed stream in a decompressing reader.
	Decompress(compressed io.Reader) (plain io.ReadCloser, _ error)
}

// magic associates a format's leading bytes with its Algorithm.
type magic struct {
	prefix []byte
	algo   Algorithm
}

var magics = []magic{
	{[]byte{0x1f, 0x8b}, Gzip},
	{[]byte{0xfd, '7', 'z', 'X', 'Z', 0x00}, Xz},
	{[]byte{0x28, 0xb5, 0x2f, 0xfd}, Zstd},
}

// peekSize is the longest magic prefix we need to sniff.
const peekSize = 6

// DetectReader sniffs the leading bytes of r and wraps it in the matching
// decompressor. Streams with no recognised magic are passed through
// unchanged, so plain tar archives work without any caller-side format
// knowledge. No bytes are consumed beyond what the decompressor itself reads.
func DetectReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(peekSize)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("sniff compression magic: %w", err)
	}
	for _, m := range magics {
		if bytes.HasPrefix(head, m.prefix) {
			plain, err := m.algo.Decompress(br)
			if err != nil {
				return nil, fmt.Errorf("%s decompress: %w", m.algo.Name(), err)
			}
			return plain, nil
		}
	}
	return io.NopCloser(br), nil
}
