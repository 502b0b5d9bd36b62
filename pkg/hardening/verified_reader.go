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

// Package hardening wraps untrusted input streams with integrity checks.
package hardening

import (
	"errors"
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"
)

// ErrDigestMismatch indicates that a VerifiedReader's stream hashed to
// something other than its expected digest.
var ErrDigestMismatch = errors.New("verified reader digest mismatch")

// VerifiedReader hashes everything read through it and fails the stream when
// the sum does not match ExpectedDigest. The mismatch is reported on the Read
// that observes EOF, and again by Verify, so callers that don't read to EOF
// must call Verify only after draining the stream themselves.
type VerifiedReader struct {
	// Reader is the underlying stream.
	Reader io.Reader

	// ExpectedDigest is compared against the stream's sum at EOF.
	ExpectedDigest digest.Digest

	digester digest.Digester
}

func (v *VerifiedReader) init() {
	if v.digester == nil {
		alg := v.ExpectedDigest.Algorithm()
		if !alg.Available() {
			panic(fmt.Sprintf("verified reader: unsupported hash algorithm %s", alg))
		}
		v.digester = alg.Digester()
	}
}

func (v *VerifiedReader) Read(p []byte) (int, error) {
	n, err := v.Reader.Read(p)
	v.init()
	if n > 0 {
		// hash.Hash writes never fail or come up short.
		if nWrite, err := v.digester.Hash().Write(p[:n]); nWrite != n || err != nil {
			panic(fmt.Sprintf("verified reader: short write to %s digester (err=%v)", v.ExpectedDigest.Algorithm(), err))
		}
	}
	if errors.Is(err, io.EOF) {
		if verr := v.Verify(); verr != nil {
			err = verr
		}
	}
	return n, err
}

// Verify compares the sum of everything read so far against ExpectedDigest.
func (v *VerifiedReader) Verify() error {
	v.init()
	if actual := v.digester.Digest(); actual != v.ExpectedDigest {
		return fmt.Errorf("%w: expected %s not %s", ErrDigestMismatch, v.ExpectedDigest, actual)
	}
	return nil
}
