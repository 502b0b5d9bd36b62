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

// Package rootstrap provisions POSIX-looking root filesystems inside
// unprivileged app sandboxes. The heavy lifting lives in the setup and rootfs
// packages; this package is the thin embedding surface.
package rootstrap

import (
	"context"

	"github.com/rootstrap/rootstrap/setup"
)

const (
	// Version is the version of the binary.
	Version = "0.2.0"

	// VersionExtra is additional version information distributors may set.
	VersionExtra = ""
)

// FullVersion returns the full version string.
func FullVersion() string {
	version := Version
	if VersionExtra != "" {
		version += "+" + VersionExtra
	}
	return version
}

// Provision sets up (or resumes setting up) an environment at baseDir and
// returns a handle on it. It is the one-call embedding API; callers that need
// step-by-step control use setup.New directly.
func Provision(ctx context.Context, baseDir string, opts setup.Options, progress setup.ProgressFunc) (*setup.Environment, error) {
	env, err := setup.New(baseDir, opts)
	if err != nil {
		return nil, err
	}
	if err := env.Setup(ctx, progress); err != nil {
		return nil, err
	}
	return env, nil
}
