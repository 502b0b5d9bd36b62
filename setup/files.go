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
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"

	"github.com/rootstrap/rootstrap/internal/funchelpers"
	"github.com/rootstrap/rootstrap/internal/system"
	"github.com/rootstrap/rootstrap/pkg/compress"
)

// defaultNameservers are written to etc/resolv.conf when the caller does not
// supply any. The rootfs archives this tool targets ship without one, and a
// shell without DNS looks broken in ways users cannot diagnose.
var defaultNameservers = []string{"8.8.8.8", "8.8.4.4"}

// profileContent is the generated login profile. The PATH export is load
// bearing: the launcher does not inherit a sane PATH from the host app, and
// busybox applets are unreachable without it. The first-run hook lets the
// archive ship one-time initialisation that runs inside the rootfs.
const profileContent = `# Login profile written during environment setup.
export PATH=/bin:/usr/bin:/sbin:/usr/sbin
export LANG=C.UTF-8
export PS1='\u@sandbox:\w\$ '
if [ -x "$HOME/.first_run" ]; then
    "$HOME/.first_run" && rm -f "$HOME/.first_run"
fi
cd "$HOME"
`

func (env *Environment) writeResolvConf() error {
	nameservers := env.opts.Nameservers
	if len(nameservers) == 0 {
		nameservers = defaultNameservers
	}
	var sb strings.Builder
	for _, ns := range nameservers {
		fmt.Fprintf(&sb, "nameserver %s\n", ns)
	}
	path := filepath.Join(env.RootfsDir(), "etc", "resolv.conf")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create etc: %w", err)
	}
	// resolv.conf is often a dangling symlink to a resolver the sandbox
	// doesn't have; clobber it rather than writing through it.
	if _, err := os.Lstat(path); err == nil {
		if err := env.remover.Remove(path); err != nil {
			return fmt.Errorf("replace resolv.conf: %w", err)
		}
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

func (env *Environment) writeProfile() error {
	home := filepath.Join(env.RootfsDir(), "root")
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("create root home: %w", err)
	}
	path := filepath.Join(home, ".profile")
	if _, err := os.Lstat(path); err == nil {
		// An archive-provided profile wins over ours.
		return nil
	}
	return os.WriteFile(path, []byte(profileContent), 0o644)
}

// fixupShell makes sure the rootfs has a working busybox and /bin/sh.
// Minimal archives ship only a busybox binary and rely on the extractor's
// link handling, which can have been degraded out of existence on hostile
// filesystems.
func (env *Environment) fixupShell() error {
	busybox := filepath.Join(env.RootfsDir(), "bin", "busybox")
	if fi, err := os.Stat(busybox); (err != nil || fi.Size() == 0) && env.opts.BusyboxAsset != "" {
		log.WithField("path", busybox).Info("rootfs busybox missing or empty, installing bundled copy")
		if err := env.installAsset(env.opts.BusyboxAsset, busybox); err != nil {
			return err
		}
	}

	shPath := filepath.Join(env.RootfsDir(), "bin", "sh")
	if _, err := os.Stat(shPath); err == nil {
		return nil
	}
	if _, err := os.Stat(busybox); err != nil {
		return fmt.Errorf("rootfs has no bin/sh and no busybox to build one from")
	}
	log.WithField("path", shPath).Debug("materialising bin/sh from busybox")
	return env.extractor.Link(env.RootfsDir(), "bin/sh", "busybox")
}

// installAsset copies a bundled asset to dst with executable permissions.
func (env *Environment) installAsset(name, dst string) (Err error) {
	raw, err := env.opts.Assets.Open(name)
	if err != nil {
		return err
	}
	defer funchelpers.VerifyClose(&Err, raw)

	// Bundled binaries may ship compressed to keep the bundle small.
	src, err := compress.DetectReader(raw)
	if err != nil {
		return fmt.Errorf("detect asset compression: %w", err)
	}
	defer funchelpers.VerifyClose(&Err, src)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create asset directory: %w", err)
	}
	if _, err := os.Lstat(dst); err == nil {
		if err := env.remover.Remove(dst); err != nil {
			return fmt.Errorf("replace asset %q: %w", name, err)
		}
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create asset %q: %w", name, err)
	}
	defer funchelpers.VerifyClose(&Err, out)

	if _, err := system.Copy(out, src); err != nil {
		return fmt.Errorf("write asset %q: %w", name, err)
	}
	return out.Chmod(0o755)
}

// ensureExec checks that path is an executable file, retrying with an
// explicit chmod before giving up. Some filesystems drop mode bits on copy.
func ensureExec(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.Mode()&0o111 != 0 {
		return nil
	}
	log.WithField("path", path).Warn("executable lost its mode bits, re-applying")
	if err := os.Chmod(path, 0o755); err != nil {
		return fmt.Errorf("restore exec bit: %w", err)
	}
	fi, err = os.Stat(path)
	if err != nil {
		return err
	}
	if fi.Mode()&0o111 == 0 {
		return fmt.Errorf("%s: filesystem refuses the exec bit", path)
	}
	return nil
}

// writeProbe verifies the directory accepts file creation and deletion,
// turning an opaque later failure into a diagnosable one.
func writeProbe(dir string) error {
	probe := filepath.Join(dir, ".write_probe")
	if err := os.WriteFile(probe, []byte("probe"), 0o644); err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("directory %s refuses deletion: %w", dir, err)
	}
	return nil
}
