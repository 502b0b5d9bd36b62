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

// Package forcerm implements escalating file and subtree removal for
// filesystems that refuse ordinary deletes. Sandboxed mobile filesystems can
// reject unlink(2) on broken or foreign-created symlinks, leave read-only
// nodes behind after a crashed extraction, or fail a whole-subtree removal
// partway through -- and any individual removal technique can fail silently.
// Each operation therefore walks an ordered chain of primitives, stopping at
// the first one that actually made the node disappear. Callers get a clean
// slate or an error; they never get a diagnosis of which technique would
// have worked.
package forcerm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/apex/log"
)

// Remover deletes paths through an escalating chain of techniques.
type Remover struct {
	runner Runner
}

// New returns a Remover that shells out through the default ExecRunner for
// its external escalation steps.
func New() *Remover {
	return NewWithRunner(ExecRunner{})
}

// NewWithRunner returns a Remover using the given Runner for external
// commands.
func NewWithRunner(r Runner) *Remover {
	return &Remover{runner: r}
}

// gone reports whether nothing exists at path, without following symlinks. A
// dangling symlink counts as existing.
func gone(path string) bool {
	_, err := os.Lstat(path)
	return errors.Is(err, fs.ErrNotExist)
}

// removeStep is one technique for deleting a single path. Steps are assumed
// independent: a step may be attempted regardless of how earlier ones failed.
type removeStep struct {
	name string
	fn   func(rm *Remover, path string) error
}

var removeChain = []removeStep{
	// os.Remove unlinks symlinks without following them, which already
	// covers the common broken-symlink case.
	{"unlink", func(_ *Remover, path string) error {
		return os.Remove(path)
	}},
	// Read-only nodes left by a crashed run: make writable, retry.
	{"chmod+unlink", func(_ *Remover, path string) error {
		_ = os.Chmod(path, 0o700)
		return os.Remove(path)
	}},
	{"rm -f", func(rm *Remover, path string) error {
		return rm.runner.Run("rm", "-f", path)
	}},
	// Raw directory-entry removal for nodes rm refuses to touch.
	{"unlink(1)", func(rm *Remover, path string) error {
		return rm.runner.Run("unlink", path)
	}},
}

// Remove deletes the single node at path, trying each removal technique in
// turn until one of them makes it disappear. Removing a path that does not
// exist is not an error.
func (rm *Remover) Remove(path string) error {
	if gone(path) {
		return nil
	}
	for _, step := range removeChain {
		err := step.fn(rm, path)
		if gone(path) {
			if err != nil {
				// The primitive reported failure but the node is gone; that
				// counts as success on these filesystems.
				log.Debugf("forcerm: %s reported %v for %s but node is gone", step.name, err, path)
			}
			return nil
		}
		log.Debugf("forcerm: %s did not remove %s", step.name, path)
	}
	return fmt.Errorf("could not remove %s: all removal techniques failed", path)
}

// RemoveAll deletes path and everything beneath it. It first tries a single
// external recursive remove, then falls back to a depth-first
// children-before-parent traversal applying the single-path chain, and
// finally to typed sweep passes (files, then links, then directories) before
// removing the outermost path directly.
func (rm *Remover) RemoveAll(path string) error {
	if gone(path) {
		return nil
	}

	// Tier 1: one external recursive remove.
	_ = rm.runner.Run("rm", "-rf", path)
	if gone(path) {
		return nil
	}
	log.Debugf("forcerm: recursive rm left %s behind, walking subtree", path)

	// Tier 2: depth-first, children before parents, single-path chain on
	// every node. Per-node failures are tolerated here; later tiers and the
	// final existence check catch anything left over.
	for _, sub := range rm.collectDepthFirst(path) {
		if err := rm.Remove(sub); err != nil {
			log.Debugf("forcerm: %v", err)
		}
	}
	if gone(path) {
		return nil
	}

	// Tier 3: typed sweeps. Broken links can shadow files during traversal
	// and some filesystems only give up a directory once every non-directory
	// beneath it is gone, so sweep files, then links, then directories.
	rm.sweep(path, func(fi fs.FileInfo) bool { return fi.Mode().IsRegular() })
	rm.sweep(path, func(fi fs.FileInfo) bool { return fi.Mode()&os.ModeSymlink != 0 })
	rm.sweep(path, func(fi fs.FileInfo) bool { return fi.IsDir() })

	// Whatever remains should be the outermost path itself.
	_ = os.Remove(path)
	if !gone(path) {
		return fmt.Errorf("could not fully remove %s: nodes may remain", path)
	}
	return nil
}

// collectDepthFirst lists every node under root (root included), deepest
// first, without following symlinks.
func (rm *Remover) collectDepthFirst(root string) []string {
	var paths []string
	// WalkDir tolerates disappearing entries; traversal errors just mean we
	// cannot see that part of the tree, which a later tier may still remove.
	_ = filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			log.Debugf("forcerm: walk %s: %v", path, err)
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	// Deepest first == children before parents.
	sort.Slice(paths, func(i, j int) bool {
		return len(paths[i]) > len(paths[j])
	})
	return paths
}

// sweep applies the single-path chain to every node under root matched by
// want, deepest first.
func (rm *Remover) sweep(root string, want func(fs.FileInfo) bool) {
	for _, sub := range rm.collectDepthFirst(root) {
		if sub == root {
			continue
		}
		fi, err := os.Lstat(sub)
		if err != nil || !want(fi) {
			continue
		}
		if err := rm.Remove(sub); err != nil {
			log.Debugf("forcerm: sweep: %v", err)
		}
	}
}
