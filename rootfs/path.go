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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// ErrUnsafePath is returned for entry names that would resolve outside the
// destination root. Callers skip such entries; they are never fatal to a run.
var ErrUnsafePath = errors.New("entry path escapes destination root")

// CleanPath makes a path safe for use with filepath.Join. This is done by not
// only cleaning the path, but also (if the path is relative) adding a leading
// '/' and cleaning it (then removing the leading '/'). This ensures that a
// path resulting from prepending another path will always resolve to
// lexically be a subdirectory of the prefixed path. This is all done
// lexically, so paths that include symlinks won't be safe as a result of
// using CleanPath.
//
// This function comes from runC (libcontainer/utils/utils.go).
func CleanPath(path string) string {
	if path == "" {
		return ""
	}

	// Ensure that all paths are cleaned (especially problematic ones like
	// "/../../../../../" which can cause lots of issues).
	path = filepath.Clean(path)

	// If the path isn't absolute, we need to do more processing to fix paths
	// such as "../../../../<etc>/some/path". We also shouldn't convert
	// absolute paths to relative ones.
	if !filepath.IsAbs(path) {
		path = filepath.Clean(string(os.PathSeparator) + path)
		// This can't fail, as (by definition) all paths are relative to root.
		path, _ = filepath.Rel(string(os.PathSeparator), path)
	}

	return filepath.Clean(path)
}

// normalizeEntryName converts a raw archive entry name into the relative form
// used for destination resolution and hardlink bookkeeping: no leading '/',
// no leading './' runs, and no '..' segments anywhere. Names that cannot be
// normalised safely return ErrUnsafePath; empty results mean the entry names
// the archive root itself and has nothing to materialise.
func normalizeEntryName(name string) (string, error) {
	name = strings.TrimPrefix(name, "/")
	for strings.HasPrefix(name, "./") {
		name = strings.TrimPrefix(name, "./")
	}
	name = strings.TrimSuffix(name, "/")
	if name == "" || name == "." {
		return "", nil
	}
	// Reject rather than lexically collapse '..': an archive that contains
	// parent references is either malformed or malicious, and silently
	// rewriting the path would materialise it somewhere the producer never
	// named.
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q contains '..'", ErrUnsafePath, name)
		}
	}
	return CleanPath(name), nil
}

// securePath resolves the on-disk destination for a normalised entry name,
// expanding any symlinks already materialised inside root so the result
// cannot land outside it. Like the extraction code it mirrors, only the
// directory component is resolved: the final component may itself be a
// symlink we are about to replace, and following it would defeat the clobber
// semantics.
func securePath(root, name string) (string, error) {
	unsafeDir, file := filepath.Split(name)
	dir, err := securejoin.SecureJoin(root, unsafeDir)
	if err != nil {
		return "", fmt.Errorf("%w: resolve %q in root: %v", ErrUnsafePath, name, err)
	}
	dest := filepath.Join(dir, file)
	// Belt and braces: SecureJoin already guarantees containment of dir, and
	// file cannot contain a separator after filepath.Split.
	if dest != root && !strings.HasPrefix(dest, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q resolved to %q", ErrUnsafePath, name, dest)
	}
	return dest, nil
}
