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
	"strings"

	"github.com/urfave/cli"
	"golang.org/x/sys/unix"

	"github.com/rootstrap/rootstrap/setup"
)

var shellCommand = cli.Command{
	Name:  "shell",
	Usage: "start a login shell inside the environment",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "print",
			Usage: "print the launch command instead of executing it",
		},
	},
	Action: doShell,
}

func doShell(ctx *cli.Context) error {
	opts, err := buildOptions(ctx)
	if err != nil {
		return err
	}
	env, err := setup.New(ctx.GlobalString("root"), opts)
	if err != nil {
		return err
	}
	if err := env.Check(); err != nil {
		return err
	}

	argv := env.ShellCommand()
	environ := env.Environ()
	if ctx.Bool("print") {
		fmt.Println(strings.Join(argv, " "))
		for _, kv := range environ {
			fmt.Println(kv)
		}
		return nil
	}
	// Replace the current process; on success this never returns.
	if err := unix.Exec(argv[0], argv, environ); err != nil {
		return fmt.Errorf("exec launcher: %w", err)
	}
	return nil
}
