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
	"fmt"
	"os"
	"path/filepath"

	"github.com/apex/log"
	securejoin "github.com/cyphar/filepath-securejoin"
)

// A linkStrategy is one way of materialising a link entry. Strategies run in
// order until one succeeds; before each attempt any partial artifact left by
// the previous one is force-removed.
type linkStrategy struct {
	name    string
	applies func(name string) bool
	run     func(ex *Extractor, ec *extractionContext, name, dest, target string) error
}

func always(string) bool { return true }

// linkStrategies is ordered from most to least faithful. Native symlinks fail
// on some sandboxed filesystems where an external ln still works; when
// neither does, a copy of the target preserves behaviour for readers, and for
// executables a wrapper script preserves behaviour for callers.
var linkStrategies = []linkStrategy{
	{name: "native symlink", applies: always, run: nativeSymlink},
	{name: "external ln", applies: always, run: externalLn},
	{name: "copy target", applies: always, run: copyLinkTarget},
	{name: "wrapper script", applies: inExecDir, run: wrapperScript},
}

func (ex *Extractor) materializeLink(ec *extractionContext, name, dest, target string) error {
	var firstErr error
	for _, strat := range linkStrategies {
		if !strat.applies(name) {
			continue
		}
		if _, err := os.Lstat(dest); err == nil {
			if err := ex.remover.Remove(dest); err != nil {
				return fmt.Errorf("clobber link destination: %w", err)
			}
		}
		err := strat.run(ex, ec, name, dest, target)
		if err == nil {
			log.WithFields(log.Fields{
				"entry":    name,
				"target":   target,
				"strategy": strat.name,
			}).Debug("link materialised")
			return nil
		}
		log.WithFields(log.Fields{
			"entry":    name,
			"strategy": strat.name,
		}).Debugf("link strategy failed: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return fmt.Errorf("no link strategy succeeded: %w", firstErr)
}

func nativeSymlink(_ *Extractor, _ *extractionContext, _, dest, target string) error {
	return os.Symlink(target, dest)
}

// externalLn shells out to the platform ln. Some environments deny the
// symlink syscall to the app process but allow it to spawned toybox/busybox
// binaries.
func externalLn(ex *Extractor, _ *extractionContext, _, dest, target string) error {
	if err := ex.runner.Run("ln", "-sf", target, dest); err != nil {
		return fmt.Errorf("run ln: %w", err)
	}
	if fi, err := os.Lstat(dest); err != nil || fi.Mode()&os.ModeSymlink == 0 {
		return fmt.Errorf("ln reported success but produced no symlink")
	}
	return nil
}

// copyLinkTarget materialises the link as an independent copy of its target,
// provided the target already exists as a regular file inside the root.
func copyLinkTarget(ex *Extractor, ec *extractionContext, name, dest, target string) error {
	src, err := resolveLinkTarget(ec.root, name, target)
	if err != nil {
		return err
	}
	fi, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("link target not materialised: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("link target %q is not a regular file", target)
	}
	exec := fi.Mode()&anyExecBits != 0 || wantsExec(name, 0)
	return ex.copyFile(src, dest, exec)
}

// wrapperScript writes a tiny shell shim that execs the link target. Only
// used for entries under executable directories, where the consumer invokes
// the path rather than reading it.
func wrapperScript(_ *Extractor, _ *extractionContext, _, dest, target string) error {
	script := wrapperSheBang + "exec " + target + " \"$@\"\n"
	if err := os.WriteFile(dest, []byte(script), execFileMode); err != nil {
		return fmt.Errorf("write wrapper script: %w", err)
	}
	// WriteFile's mode is masked by umask; make the exec bit unconditional.
	return os.Chmod(dest, execFileMode)
}

// resolveLinkTarget turns a link target (absolute-in-rootfs or relative to
// the link's directory) into an on-disk path confined to root.
func resolveLinkTarget(root, name, target string) (string, error) {
	var unsafe string
	if filepath.IsAbs(target) {
		unsafe = target
	} else {
		unsafe = filepath.Join(filepath.Dir(name), target)
	}
	resolved, err := securejoin.SecureJoin(root, unsafe)
	if err != nil {
		return "", fmt.Errorf("resolve link target %q: %w", target, err)
	}
	return resolved, nil
}
