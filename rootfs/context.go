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

// Stats summarises one extraction run.
type Stats struct {
	Files   int // regular files written
	Dirs    int // directories created or re-permissioned
	Links   int // symlink and hardlink entries materialised (by any strategy)
	Skipped int // entries dropped (unsafe paths, unknown kinds, failed links)
}

// extractionContext carries the per-run state threaded through every entry:
// the resolved destination root, the hardlink table mapping archive-relative
// names to on-disk paths, and the running counters. The hardlink table only
// ever contains regular files that this run wrote, so a hardlink entry can
// never be tricked into copying something outside the root.
type extractionContext struct {
	root      string
	hardlinks map[string]string
	stats     Stats
}

func newExtractionContext(root string) *extractionContext {
	return &extractionContext{
		root:      root,
		hardlinks: make(map[string]string),
	}
}

func (ec *extractionContext) registerFile(name, dest string) {
	ec.hardlinks[name] = dest
}

func (ec *extractionContext) hardlinkTarget(name string) (string, bool) {
	dest, ok := ec.hardlinks[name]
	return dest, ok
}
