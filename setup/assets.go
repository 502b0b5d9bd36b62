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

package setup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// AssetProvider supplies the binaries bundled alongside the application (the
// launcher, optionally a static busybox) rather than fetched over the
// network.
type AssetProvider interface {
	Open(name string) (io.ReadCloser, error)
}

// DirProvider serves assets from a directory on disk.
type DirProvider string

func (d DirProvider) Open(name string) (io.ReadCloser, error) {
	fh, err := os.Open(filepath.Join(string(d), filepath.Base(name)))
	if err != nil {
		return nil, fmt.Errorf("open asset %q: %w", name, err)
	}
	return fh, nil
}
