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

// Package rootfs materialises a streamed tar archive as a POSIX-looking root
// filesystem inside an unprivileged, single-uid sandbox directory. Entry
// kinds the platform cannot represent faithfully (hardlinks, sometimes even
// symlinks) are degraded through fallback strategies rather than failing the
// whole extraction, and every materialisation clobbers whatever currently
// occupies the destination path.
package rootfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/apex/log"

	"github.com/rootstrap/rootstrap/internal/funchelpers"
	"github.com/rootstrap/rootstrap/internal/system"
	"github.com/rootstrap/rootstrap/pkg/forcerm"
	"github.com/rootstrap/rootstrap/pkg/tarstream"
)

// Extractor unpacks tar streams into a destination root. The zero value is
// not usable; construct one with NewExtractor. An Extractor is stateless
// between runs and may be reused.
type Extractor struct {
	remover *forcerm.Remover
	runner  forcerm.Runner
}

// NewExtractor returns an Extractor that shells out through runner for the
// removal and link fallbacks that need an external process. A nil runner
// selects the real exec-based one.
func NewExtractor(runner forcerm.Runner) *Extractor {
	if runner == nil {
		runner = forcerm.ExecRunner{}
	}
	return &Extractor{
		remover: forcerm.NewWithRunner(runner),
		runner:  runner,
	}
}

// Extract reads tar entries from r until end-of-archive and materialises each
// one under root, creating root if needed. Per-entry problems (unsafe paths,
// unknown entry kinds, link targets that cannot be represented) are logged
// and counted in Stats.Skipped; only filesystem-level failures that leave the
// tree unusable abort the run.
func (ex *Extractor) Extract(root string, r io.Reader) (Stats, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return Stats{}, fmt.Errorf("resolve destination root: %w", err)
	}
	if err := os.MkdirAll(root, dirMode); err != nil {
		return Stats{}, fmt.Errorf("create destination root: %w", err)
	}

	ec := newExtractionContext(root)
	tr := tarstream.NewReader(r)
	for {
		entry, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ec.stats, fmt.Errorf("read archive entry: %w", err)
		}
		if err := ex.extractEntry(ec, entry, tr); err != nil {
			return ec.stats, fmt.Errorf("extract %q: %w", entry.Name, err)
		}
	}

	log.WithFields(log.Fields{
		"root":    root,
		"files":   ec.stats.Files,
		"dirs":    ec.stats.Dirs,
		"links":   ec.stats.Links,
		"skipped": ec.stats.Skipped,
	}).Debug("archive extraction finished")
	return ec.stats, nil
}

func (ex *Extractor) extractEntry(ec *extractionContext, entry *tarstream.Entry, tr *tarstream.Reader) error {
	name, err := normalizeEntryName(entry.Name)
	if err != nil {
		log.WithFields(log.Fields{
			"entry": entry.Name,
		}).Warnf("skipping entry with unsafe path: %v", err)
		ec.stats.Skipped++
		return nil
	}
	if name == "" {
		// The archive named its own root; nothing to do.
		return nil
	}
	dest, err := securePath(ec.root, name)
	if err != nil {
		log.WithFields(log.Fields{
			"entry": entry.Name,
		}).Warnf("skipping entry resolving outside root: %v", err)
		ec.stats.Skipped++
		return nil
	}

	switch entry.Kind {
	case tarstream.KindDirectory:
		if err := ex.makeDirectory(dest); err != nil {
			return err
		}
		ec.stats.Dirs++
	case tarstream.KindRegular:
		if err := ex.writeRegular(ec, name, dest, entry, tr); err != nil {
			return err
		}
		ec.stats.Files++
	case tarstream.KindHardlink:
		ex.makeHardlink(ec, name, dest, entry)
	case tarstream.KindSymlink:
		ex.makeSymlink(ec, name, dest, entry.Linkname)
	default:
		log.WithFields(log.Fields{
			"entry": entry.Name,
			"kind":  entry.Kind.String(),
		}).Debug("skipping entry of unsupported kind")
		ec.stats.Skipped++
	}
	return nil
}

// makeDirectory creates the directory (and any missing parents) and
// re-applies the normalised mode even if it already existed, so a restrictive
// mode from an earlier run or archive entry never blocks traversal.
func (ex *Extractor) makeDirectory(dest string) error {
	if fi, err := os.Lstat(dest); err == nil && !fi.IsDir() {
		if err := ex.remover.Remove(dest); err != nil {
			return fmt.Errorf("clobber non-directory: %w", err)
		}
	}
	if err := os.MkdirAll(dest, dirMode); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.Chmod(dest, dirMode); err != nil {
		return fmt.Errorf("set directory mode: %w", err)
	}
	return nil
}

// ensureParent makes sure the parent directory of dest exists and is
// traversable. Archives are not guaranteed to emit directory entries before
// their contents.
func (ex *Extractor) ensureParent(dest string) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	return os.Chmod(dir, dirMode)
}

func (ex *Extractor) writeRegular(ec *extractionContext, name, dest string, entry *tarstream.Entry, r io.Reader) (Err error) {
	if err := ex.ensureParent(dest); err != nil {
		return err
	}
	// Clobber whatever occupies the path. os.Create alone would follow a
	// stale symlink or fail on a directory.
	if _, err := os.Lstat(dest); err == nil {
		if err := ex.remover.Remove(dest); err != nil {
			return fmt.Errorf("clobber existing entry: %w", err)
		}
	}

	fh, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer funchelpers.VerifyClose(&Err, fh)

	if _, err := system.Copy(fh, r); err != nil {
		return fmt.Errorf("write file contents: %w", err)
	}
	if err := fh.Chmod(fileMode(name, entry.Mode)); err != nil {
		return fmt.Errorf("set file mode: %w", err)
	}

	ec.registerFile(name, dest)
	return nil
}

// makeHardlink degrades a hardlink entry to an independent copy of the target
// file, mirroring its execute bit. Hard links are not representable across
// the sandbox filesystems this runs on, and a copy behaves identically for
// everything a rootfs consumer does with one. Targets the run has not written
// yet fall through to the symlink strategies so the path still resolves to
// something.
func (ex *Extractor) makeHardlink(ec *extractionContext, name, dest string, entry *tarstream.Entry) {
	target, err := normalizeEntryName(entry.Linkname)
	if err != nil || target == "" {
		log.WithFields(log.Fields{
			"entry":  name,
			"target": entry.Linkname,
		}).Warn("skipping hardlink with unsafe target")
		ec.stats.Skipped++
		return
	}
	if src, ok := ec.hardlinkTarget(target); ok {
		exec := false
		if fi, err := os.Lstat(src); err == nil {
			exec = fi.Mode()&anyExecBits != 0
		}
		if err := ex.copyFile(src, dest, exec); err != nil {
			log.WithFields(log.Fields{
				"entry":  name,
				"target": target,
			}).Warnf("hardlink copy failed: %v", err)
			ec.stats.Skipped++
			return
		}
		ec.stats.Links++
		return
	}
	log.WithFields(log.Fields{
		"entry":  name,
		"target": target,
	}).Debug("hardlink target not seen yet, degrading to symlink")
	// Hardlink targets are archive-root-relative; a symlink resolves against
	// its own directory, so rebase the target before handing it over.
	rel, err := filepath.Rel(filepath.Dir(name), target)
	if err != nil {
		rel = target
	}
	ex.makeSymlink(ec, name, dest, rel)
}

// makeSymlink runs the fallback chain for a link entry. Total failure is
// logged and counted but never aborts the run: a rootfs with one unresolved
// link is still more usable than no rootfs at all.
func (ex *Extractor) makeSymlink(ec *extractionContext, name, dest, target string) {
	if target == "" {
		log.WithFields(log.Fields{"entry": name}).Warn("skipping link entry with empty target")
		ec.stats.Skipped++
		return
	}
	if err := ex.ensureParent(dest); err != nil {
		log.WithFields(log.Fields{"entry": name}).Warnf("link parent unavailable: %v", err)
		ec.stats.Skipped++
		return
	}
	if err := ex.materializeLink(ec, name, dest, target); err != nil {
		log.WithFields(log.Fields{
			"entry":  name,
			"target": target,
		}).Warnf("all link strategies failed: %v", err)
		ec.stats.Skipped++
		return
	}
	ec.stats.Links++
}

// Link materialises a single link inside root through the same fallback
// chain archive extraction uses. Used for post-extraction fixups such as
// ensuring bin/sh points at busybox.
func (ex *Extractor) Link(root, name, target string) error {
	name, err := normalizeEntryName(name)
	if err != nil {
		return err
	}
	dest, err := securePath(root, name)
	if err != nil {
		return err
	}
	if err := ex.ensureParent(dest); err != nil {
		return err
	}
	return ex.materializeLink(newExtractionContext(root), name, dest, target)
}

// copyFile writes an independent copy of src at dst, clobbering dst first.
func (ex *Extractor) copyFile(src, dst string, exec bool) (Err error) {
	if _, err := os.Lstat(dst); err == nil {
		if err := ex.remover.Remove(dst); err != nil {
			return fmt.Errorf("clobber existing entry: %w", err)
		}
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open copy source: %w", err)
	}
	defer funchelpers.VerifyClose(&Err, in)

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create copy destination: %w", err)
	}
	defer funchelpers.VerifyClose(&Err, out)

	if _, err := system.Copy(out, in); err != nil {
		return fmt.Errorf("copy contents: %w", err)
	}
	mode := plainFileMode
	if exec {
		mode = execFileMode
	}
	if err := out.Chmod(mode); err != nil {
		return fmt.Errorf("set copy mode: %w", err)
	}
	return nil
}
