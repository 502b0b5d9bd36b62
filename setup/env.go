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

import "path/filepath"

// Descriptor is the flattened view of an environment's on-disk layout,
// handed to layers (PTY hosts, UI) that must not depend on this package's
// behaviour, only its paths.
type Descriptor struct {
	BaseDir   string
	RootfsDir string
	BinDir    string
	TmpDir    string
	Launcher  string
}

// Describe returns the environment's Descriptor.
func (env *Environment) Describe() Descriptor {
	return Descriptor{
		BaseDir:   env.base,
		RootfsDir: env.RootfsDir(),
		BinDir:    env.BinDir(),
		TmpDir:    env.TmpDir(),
		Launcher:  env.LauncherPath(),
	}
}

// Directory and file names under the base directory. The layout is flat on
// purpose: everything the environment owns lives under one base so forced
// removal has a single subtree to attack.
const (
	rootfsDirName  = "rootfs"
	binDirName     = "bin"
	tmpDirName     = "tmp"
	cacheDirName   = "cache"
	completeMarker = ".setup_complete"
)

// RootfsDir is where the extracted root filesystem lives.
func (env *Environment) RootfsDir() string { return filepath.Join(env.base, rootfsDirName) }

// BinDir holds host-side binaries (the launcher, busybox) outside the rootfs.
func (env *Environment) BinDir() string { return filepath.Join(env.base, binDirName) }

// TmpDir is scratch space for the launcher and for downloads in flight.
func (env *Environment) TmpDir() string { return filepath.Join(env.base, tmpDirName) }

// CacheDir holds the downloaded archive between runs.
func (env *Environment) CacheDir() string { return filepath.Join(env.base, cacheDirName) }

// LauncherPath is the installed launcher binary.
func (env *Environment) LauncherPath() string {
	return filepath.Join(env.BinDir(), filepath.Base(env.opts.LauncherAsset))
}

func (env *Environment) markerPath() string {
	return filepath.Join(env.RootfsDir(), completeMarker)
}

// ShellCommand returns the argv that starts a login shell inside the rootfs
// through the launcher. The caller execs it with Environ().
func (env *Environment) ShellCommand() []string {
	return []string{
		env.LauncherPath(),
		"-0",
		"-r", env.RootfsDir(),
		"--link2symlink",
		"-b", "/dev",
		"-b", "/proc",
		"-b", "/sys",
		"-w", "/root",
		"/bin/sh",
		"-l",
	}
}

// Environ returns the environment for a shell started with ShellCommand.
func (env *Environment) Environ() []string {
	return []string{
		"HOME=/root",
		"USER=root",
		"TERM=xterm-256color",
		"LANG=C.UTF-8",
		"PATH=/bin:/usr/bin:/sbin:/usr/sbin",
		"PROOT_NO_SECCOMP=1",
		"PROOT_TMP_DIR=" + env.TmpDir(),
	}
}
