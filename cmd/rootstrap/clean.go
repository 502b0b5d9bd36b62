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

	"github.com/urfave/cli"

	"github.com/rootstrap/rootstrap/setup"
)

var cleanCommand = cli.Command{
	Name:  "clean",
	Usage: "force-remove the environment",
	Description: `Removes everything under the environment base directory, escalating
through external tooling for files a plain removal cannot delete (read-only
modes, dangling symlinks, directories with hostile permissions).`,
	Action: doClean,
}

func doClean(ctx *cli.Context) error {
	opts, err := buildOptions(ctx)
	if err != nil {
		return err
	}
	env, err := setup.New(ctx.GlobalString("root"), opts)
	if err != nil {
		return err
	}
	if err := env.Reset(); err != nil {
		return fmt.Errorf("clean environment: %w", err)
	}
	fmt.Printf("environment at %s removed\n", env.BaseDir())
	return nil
}
