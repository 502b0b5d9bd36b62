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
	"os"
	"path"
	"strings"
)

// Permissions are normalised rather than preserved: the sandbox runs
// everything as one uid, so ownership and setuid bits from the archive are
// meaningless and directories must always stay traversable.
const (
	dirMode        os.FileMode = 0o755
	execFileMode   os.FileMode = 0o755
	plainFileMode  os.FileMode = 0o644
	anyExecBits    os.FileMode = 0o111
	wrapperSheBang             = "#!/bin/sh\n"
)

// execDirPrefixes marks the directories whose contents are assumed to be
// executables even when the archive lost the mode bits in transit.
var execDirPrefixes = []string{
	"bin/",
	"sbin/",
	"usr/bin/",
	"usr/sbin/",
	"usr/local/bin/",
	"usr/local/sbin/",
	"usr/libexec/",
}

func inExecDir(name string) bool {
	for _, prefix := range execDirPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func scriptLike(name string) bool {
	switch path.Ext(name) {
	case ".sh", ".js":
		return true
	}
	return false
}

// wantsExec reports whether a regular file at the given archive-relative name
// should be materialised with execute permission.
func wantsExec(name string, mode os.FileMode) bool {
	return mode&anyExecBits != 0 || inExecDir(name) || scriptLike(name)
}

// fileMode collapses the archive mode into one of the two modes we actually
// write to disk.
func fileMode(name string, mode os.FileMode) os.FileMode {
	if wantsExec(name, mode) {
		return execFileMode
	}
	return plainFileMode
}
