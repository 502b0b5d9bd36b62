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

// Package fetch retrieves archive bytes for provisioning. A source is either
// an http(s) URL or a local file path; the rest of the system treats both as
// an opaque byte stream. Every fetched stream is digested so callers can log
// or pin the archive's SHA-256.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/rootstrap/rootstrap/internal/funchelpers"
	"github.com/rootstrap/rootstrap/internal/iohelpers"
)

// ErrTooSmall is returned when a completed download is smaller than the
// configured floor, which almost always means a truncated or error-page
// response rather than a real archive.
var ErrTooSmall = errors.New("fetched archive suspiciously small")

// Options configures a Client.
type Options struct {
	// ConnectTimeout bounds connection establishment. Defaults to 60s.
	ConnectTimeout time.Duration
	// ReadTimeout bounds waiting for response headers. Defaults to 120s.
	ReadTimeout time.Duration
	// UserAgent is sent on HTTP requests.
	UserAgent string
	// MinSize is the smallest believable archive size in bytes. Zero
	// disables the check.
	MinSize int64
}

func (o Options) fill() Options {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 60 * time.Second
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 120 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = "rootstrap"
	}
	return o
}

// Client fetches archives.
type Client struct {
	opts Options
	http *http.Client
}

// New returns a Client with the given options.
func New(opts Options) *Client {
	opts = opts.fill()
	return &Client{
		opts: opts,
		http: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout: opts.ConnectTimeout,
				}).DialContext,
				ResponseHeaderTimeout: opts.ReadTimeout,
			},
		},
	}
}

// IsLocal reports whether source names a local file rather than a URL.
func IsLocal(source string) bool {
	return !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://")
}

// Fetch copies the archive at source into dst, reporting progress through the
// optional callback as (bytesFetched, totalOrMinusOne). It returns the
// SHA-256 digest and total size of the fetched bytes.
func (c *Client) Fetch(ctx context.Context, source string, dst io.Writer, progress func(written, total int64)) (_ digest.Digest, _ int64, Err error) {
	var (
		body  io.Reader
		total int64 = -1
	)
	if IsLocal(source) {
		fh, err := os.Open(source)
		if err != nil {
			return "", 0, fmt.Errorf("open local archive: %w", err)
		}
		defer funchelpers.VerifyClose(&Err, fh)
		if fi, err := fh.Stat(); err == nil {
			total = fi.Size()
		}
		body = fh
	} else {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return "", 0, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			return "", 0, fmt.Errorf("fetch %s: %w", source, err)
		}
		defer funchelpers.VerifyClose(&Err, resp.Body)
		if resp.StatusCode != http.StatusOK {
			return "", 0, fmt.Errorf("fetch %s: unexpected HTTP status %s", source, resp.Status)
		}
		total = resp.ContentLength
		body = resp.Body
	}

	digester := digest.SHA256.Digester()
	counted := iohelpers.CountReader(body)
	sink := io.MultiWriter(dst, digester.Hash())

	// Copy in slabs so progress updates at a sane cadence without a
	// callback per Read.
	const slab = 256 * 1024
	for {
		_, err := io.CopyN(sink, counted, slab)
		if progress != nil {
			progress(counted.BytesRead(), total)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("copy archive body: %w", err)
		}
	}

	written := counted.BytesRead()
	if c.opts.MinSize > 0 && written < c.opts.MinSize {
		return "", 0, fmt.Errorf("%w: got %d bytes, expected at least %d", ErrTooSmall, written, c.opts.MinSize)
	}
	return digester.Digest(), written, nil
}
