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
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	pb "github.com/schollz/progressbar/v3"
	"github.com/urfave/cli"

	"github.com/rootstrap/rootstrap/setup"
)

var setupCommand = cli.Command{
	Name:  "setup",
	Usage: "download, extract and configure the environment",
	ArgsUsage: `

Builds (or resumes building) the environment under --root: installs the
launcher, downloads the root filesystem archive, extracts it, and writes the
configuration files a fresh rootfs is missing. Safe to re-run.`,

	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "url",
			Usage: "root filesystem archive (http(s) URL or local path)",
		},
		cli.StringFlag{
			Name:  "digest",
			Usage: "expected sha256 of the archive (e.g. sha256:abc...)",
		},
		cli.StringFlag{
			Name:  "launcher",
			Usage: "launcher asset name to install (e.g. proot)",
		},
		cli.StringFlag{
			Name:  "busybox",
			Usage: "busybox asset name, used to repair a missing bin/sh",
		},
		cli.StringFlag{
			Name:  "assets",
			Usage: "directory containing the bundled assets",
		},
		cli.StringSliceFlag{
			Name:  "dns",
			Usage: "nameserver to write to etc/resolv.conf (can be repeated)",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress the progress bar",
		},
	},

	Action: doSetup,
}

func doSetup(ctx *cli.Context) error {
	opts, err := buildOptions(ctx)
	if err != nil {
		return err
	}
	if opts.ArchiveURL == "" {
		return errors.New("no archive URL: pass --url or set archive_url in the config")
	}
	env, err := setup.New(ctx.GlobalString("root"), opts)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	progress := setup.ProgressFunc(nil)
	if !ctx.Bool("quiet") {
		bar := pb.NewOptions(100,
			pb.OptionSetWriter(os.Stderr),
			pb.OptionSetWidth(20),
			pb.OptionThrottle(65*time.Millisecond),
			pb.OptionFullWidth(),
			pb.OptionSetDescription("starting setup"),
			pb.OptionOnCompletion(func() {
				fmt.Fprint(os.Stderr, "\n")
			}),
			pb.OptionSetTheme(pb.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}))
		progress = func(message string, percent int) {
			bar.Describe(message)
			_ = bar.Set(percent)
		}
	}

	if err := env.Setup(runCtx, progress); err != nil {
		return err
	}
	fmt.Printf("environment ready at %s\n", env.BaseDir())
	return nil
}
