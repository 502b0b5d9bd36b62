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

// Package main is the cli implementation of rootstrap.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/apex/log"
	logcli "github.com/apex/log/handlers/cli"
	"github.com/urfave/cli"

	"github.com/rootstrap/rootstrap"
)

const usage = `rootstrap rebuilds a POSIX root filesystem inside an app sandbox`

// Main is the underlying main() implementation. You can call this directly as
// though it were the command-line arguments of the rootstrap binary.
func Main(args []string) error {
	app := cli.NewApp()
	app.Name = "rootstrap"
	app.Usage = usage
	app.Version = rootstrap.FullVersion()

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "verbose",
			Usage: "alias for --log=info",
		},
		cli.StringFlag{
			Name:  "log",
			Usage: "set the log level (debug, info, [warn], error, fatal)",
			Value: "warn",
		},
		cli.StringFlag{
			Name:  "root",
			Usage: "base directory of the environment",
			Value: defaultBaseDir(),
		},
		cli.StringFlag{
			Name:  "config",
			Usage: "path to a TOML configuration file",
		},
	}

	app.Before = func(ctx *cli.Context) error {
		log.SetHandler(logcli.New(os.Stderr))

		if ctx.GlobalBool("verbose") {
			if ctx.GlobalIsSet("log") {
				return errors.New("--log=* and --verbose are mutually exclusive")
			}
			if err := ctx.GlobalSet("log", "info"); err != nil {
				// Should _never_ be reached.
				return fmt.Errorf("[internal error] failure auto-setting --log=info: %w", err)
			}
		}
		level, err := log.ParseLevel(ctx.GlobalString("log"))
		if err != nil {
			return fmt.Errorf("parsing log level: %w", err)
		}
		log.SetLevel(level)
		return nil
	}

	app.Commands = []cli.Command{
		setupCommand,
		statusCommand,
		shellCommand,
		cleanCommand,
	}

	err := app.Run(args)
	if err != nil {
		log.Debugf("%+v", err)
	}
	return err
}

func main() {
	if err := Main(os.Args); err != nil {
		log.Fatalf("%v", err)
	}
}

// defaultBaseDir picks a per-user base directory when --root is not given.
func defaultBaseDir() string {
	if dir := os.Getenv("ROOTSTRAP_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rootstrap"
	}
	return home + "/.rootstrap"
}
