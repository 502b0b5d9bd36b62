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

package main

import (
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/urfave/cli"

	"github.com/rootstrap/rootstrap/setup"
)

var statusCommand = cli.Command{
	Name:   "status",
	Usage:  "report whether the environment is set up",
	Action: doStatus,
}

func doStatus(ctx *cli.Context) error {
	opts, err := buildOptions(ctx)
	if err != nil {
		return err
	}
	env, err := setup.New(ctx.GlobalString("root"), opts)
	if err != nil {
		return err
	}

	state := "incomplete"
	if env.IsComplete() {
		state = "complete"
	}
	fmt.Printf("state:    %s\n", state)
	fmt.Printf("base:     %s\n", env.BaseDir())
	fmt.Printf("rootfs:   %s (%s)\n", env.RootfsDir(), dirSummary(env.RootfsDir()))
	fmt.Printf("launcher: %s\n", env.LauncherPath())
	return nil
}

// dirSummary is a rough on-disk size for status output; a walk error just
// truncates the tally.
func dirSummary(dir string) string {
	var total int64
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "missing"
	}
	var walk func(string, []os.DirEntry)
	walk = func(dir string, entries []os.DirEntry) {
		for _, ent := range entries {
			path := dir + string(os.PathSeparator) + ent.Name()
			if ent.Type().IsRegular() {
				if fi, err := ent.Info(); err == nil {
					total += fi.Size()
				}
			} else if ent.IsDir() {
				if sub, err := os.ReadDir(path); err == nil {
					walk(path, sub)
				}
			}
		}
	}
	walk(dir, entries)
	return units.BytesSize(float64(total))
}
