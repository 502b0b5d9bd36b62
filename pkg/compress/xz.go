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

package compress

import (
	"io"

	"github.com/ulikunitz/xz"
)

// Xz decompresses LZMA/XZ streams. Bundled launcher binaries ship
// xz-compressed to keep the application package small.
var Xz Algorithm = xzAlgo{}

type xzAlgo struct{}

func (x xzAlgo) Name() string {
	return "xz"
}

func (x xzAlgo) Decompress(compressed io.Reader) (io.ReadCloser, error) {
	plain, err := xz.NewReader(compressed)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(plain), nil
}
