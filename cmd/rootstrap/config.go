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
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/opencontainers/go-digest"
	"github.com/urfave/cli"

	"github.com/rootstrap/rootstrap/pkg/fetch"
	"github.com/rootstrap/rootstrap/setup"
)

// config mirrors the [environment] table of the TOML configuration file.
// Command-line flags override anything set here.
type config struct {
	Environment struct {
		ArchiveURL     string   `toml:"archive_url"`
		ArchiveDigest  string   `toml:"archive_digest"`
		LauncherAsset  string   `toml:"launcher_asset"`
		BusyboxAsset   string   `toml:"busybox_asset"`
		AssetsDir      string   `toml:"assets_dir"`
		Nameservers    []string `toml:"nameservers"`
		MinArchiveSize string   `toml:"min_archive_size"`
		ConnectTimeout string   `toml:"connect_timeout"`
		ReadTimeout    string   `toml:"read_timeout"`
	} `toml:"environment"`
}

func loadConfig(path string) (config, error) {
	var conf config
	if path == "" {
		return conf, nil
	}
	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return conf, fmt.Errorf("load config %s: %w", path, err)
	}
	return conf, nil
}

// buildOptions merges the configuration file with command-line flags into
// setup.Options. Flags win.
func buildOptions(ctx *cli.Context) (setup.Options, error) {
	conf, err := loadConfig(ctx.GlobalString("config"))
	if err != nil {
		return setup.Options{}, err
	}
	env := conf.Environment

	pick := func(flag, fromConf string) string {
		if ctx.IsSet(flag) || fromConf == "" {
			return ctx.String(flag)
		}
		return fromConf
	}

	opts := setup.Options{
		ArchiveURL:    pick("url", env.ArchiveURL),
		LauncherAsset: pick("launcher", env.LauncherAsset),
		BusyboxAsset:  pick("busybox", env.BusyboxAsset),
		Nameservers:   env.Nameservers,
	}
	if ctx.IsSet("dns") {
		opts.Nameservers = ctx.StringSlice("dns")
	}

	if raw := pick("digest", env.ArchiveDigest); raw != "" {
		dgst, err := digest.Parse(raw)
		if err != nil {
			return setup.Options{}, fmt.Errorf("parse archive digest: %w", err)
		}
		opts.ArchiveDigest = dgst
	}

	if assetsDir := pick("assets", env.AssetsDir); assetsDir != "" {
		if fi, err := os.Stat(assetsDir); err != nil || !fi.IsDir() {
			return setup.Options{}, fmt.Errorf("assets directory %q is not a directory", assetsDir)
		}
		opts.Assets = setup.DirProvider(assetsDir)
	}

	opts.Fetch, err = buildFetchOptions(env.MinArchiveSize, env.ConnectTimeout, env.ReadTimeout)
	if err != nil {
		return setup.Options{}, err
	}

	return opts, nil
}

func buildFetchOptions(minSize, connectTimeout, readTimeout string) (fetch.Options, error) {
	var opts fetch.Options
	if minSize != "" {
		size, err := units.FromHumanSize(minSize)
		if err != nil {
			return opts, fmt.Errorf("parse min_archive_size: %w", err)
		}
		opts.MinSize = size
	}
	if connectTimeout != "" {
		d, err := time.ParseDuration(connectTimeout)
		if err != nil {
			return opts, fmt.Errorf("parse connect_timeout: %w", err)
		}
		opts.ConnectTimeout = d
	}
	if readTimeout != "" {
		d, err := time.ParseDuration(readTimeout)
		if err != nil {
			return opts, fmt.Errorf("parse read_timeout: %w", err)
		}
		opts.ReadTimeout = d
	}
	return opts, nil
}
