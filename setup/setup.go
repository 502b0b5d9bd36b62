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

// Package setup rebuilds a usable shell environment from scratch: it installs
// the bundled launcher, downloads and extracts a root filesystem archive,
// writes the configuration files a fresh rootfs is missing, and records
// completion so later runs can skip straight to launching. Every step is
// idempotent, so an interrupted setup resumes by re-running.
package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/docker/go-units"
	"github.com/opencontainers/go-digest"

	"github.com/rootstrap/rootstrap/internal/funchelpers"
	"github.com/rootstrap/rootstrap/pkg/compress"
	"github.com/rootstrap/rootstrap/pkg/fetch"
	"github.com/rootstrap/rootstrap/pkg/forcerm"
	"github.com/rootstrap/rootstrap/pkg/hardening"
	"github.com/rootstrap/rootstrap/rootfs"
)

// Options configures an Environment.
type Options struct {
	// ArchiveURL locates the root filesystem archive: an http(s) URL or a
	// local file path.
	ArchiveURL string

	// ArchiveDigest, when set, pins the archive's expected sha256. A
	// downloaded or cached archive with any other digest is discarded.
	ArchiveDigest digest.Digest

	// LauncherAsset names the launcher binary served by Assets. Empty means
	// no launcher is installed (the rootfs is extracted for use by some
	// other runner).
	LauncherAsset string

	// BusyboxAsset names a static busybox served by Assets, used to
	// reconstruct bin/sh when the archive's own shell did not survive
	// extraction.
	BusyboxAsset string

	// Nameservers overrides the resolvers written to etc/resolv.conf.
	Nameservers []string

	// Assets supplies the bundled binaries. Required when LauncherAsset or
	// BusyboxAsset is set.
	Assets AssetProvider

	// Runner executes external commands for forced removal and link
	// fallbacks. Nil selects the real exec-based runner.
	Runner forcerm.Runner

	// Fetch tunes the archive download (timeouts, minimum size).
	Fetch fetch.Options
}

// ErrNotSetup is returned by operations that need a completed environment.
var ErrNotSetup = errors.New("environment is not set up")

// Environment is a handle on one environment base directory and knows how to
// set it up, inspect it, and tear it down.
type Environment struct {
	base      string
	opts      Options
	fetch     *fetch.Client
	extractor *rootfs.Extractor
	remover   *forcerm.Remover
}

// New returns an Environment rooted at baseDir. Nothing is touched on disk
// until Setup or Reset runs.
func New(baseDir string, opts Options) (*Environment, error) {
	if baseDir == "" {
		return nil, errors.New("setup: base directory must not be empty")
	}
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("setup: resolve base directory: %w", err)
	}
	if (opts.LauncherAsset != "" || opts.BusyboxAsset != "") && opts.Assets == nil {
		return nil, errors.New("setup: asset names given without an asset provider")
	}
	runner := opts.Runner
	if runner == nil {
		runner = forcerm.ExecRunner{}
	}
	return &Environment{
		base:      base,
		opts:      opts,
		fetch:     fetch.New(opts.Fetch),
		extractor: rootfs.NewExtractor(runner),
		remover:   forcerm.NewWithRunner(runner),
	}, nil
}

// BaseDir returns the environment's base directory.
func (env *Environment) BaseDir() string { return env.base }

// IsComplete reports whether a previous Setup finished: the completion marker
// exists and the launcher (if one is configured) is still an executable file.
// It never mutates the filesystem.
func (env *Environment) IsComplete() bool {
	if _, err := os.Stat(env.markerPath()); err != nil {
		return false
	}
	if env.opts.LauncherAsset != "" {
		fi, err := os.Stat(env.LauncherPath())
		if err != nil || fi.Mode()&0o111 == 0 {
			return false
		}
	}
	return true
}

// Check returns ErrNotSetup unless the environment is complete.
func (env *Environment) Check() error {
	if !env.IsComplete() {
		return fmt.Errorf("%w: run setup first", ErrNotSetup)
	}
	return nil
}

// Setup builds the environment from scratch, reporting progress through
// progress (which may be nil). On failure the returned error names the step
// that failed; the partial state on disk is safe to Setup again or Reset.
func (env *Environment) Setup(ctx context.Context, progress ProgressFunc) error {
	pr := &progressEmitter{fn: progress}
	if env.IsComplete() {
		log.WithField("base", env.base).Debug("environment already complete")
		pr.emit("environment ready", 100)
		return nil
	}

	var archive string
	steps := []struct {
		step Step
		run  func() error
	}{
		{StepCleanup, env.stepCleanup},
		{StepLayout, env.stepLayout},
		{StepLauncher, env.stepLauncher},
		{StepDownload, func() (err error) {
			archive, err = env.stepDownload(ctx, pr)
			return err
		}},
		{StepExtract, func() error {
			err := env.stepExtract(archive)
			if err != nil {
				// A cached archive that cannot be extracted would wedge
				// every retry on the same bytes; discard it so the next run
				// re-fetches.
				if rmErr := env.remover.Remove(archive); rmErr != nil {
					log.WithField("archive", archive).Warnf("could not discard unusable archive: %v", rmErr)
				}
			}
			return err
		}},
		{StepConfigure, env.stepConfigure},
		{StepVerify, env.stepVerify},
		{StepFinalize, env.stepFinalize},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", s.step, err)
		}
		pr.step(s.step)
		log.WithField("step", s.step.String()).Debug("running setup step")
		if err := s.run(); err != nil {
			return fmt.Errorf("%s: %w", s.step, err)
		}
	}

	pr.emit("environment ready", 100)
	return nil
}

// Run is the callback-driven form of Setup: it runs the same steps and then
// fires cb.Done exactly once with the outcome.
func (env *Environment) Run(ctx context.Context, cb Callbacks) {
	err := env.Setup(ctx, cb.Progress)
	if cb.Done != nil {
		cb.Done(err)
	}
}

// Reset force-removes everything the environment owns, escalating through
// external tooling for nodes a plain removal cannot delete. The base
// directory itself is left in place.
func (env *Environment) Reset() error {
	var errs []error
	for _, dir := range []string{env.RootfsDir(), env.BinDir(), env.TmpDir(), env.CacheDir()} {
		if err := env.remover.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// stepCleanup removes the remains of an interrupted or superseded extraction.
// The cached archive survives so a resumed setup doesn't re-download.
func (env *Environment) stepCleanup() error {
	if _, err := os.Lstat(env.RootfsDir()); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	log.WithField("dir", env.RootfsDir()).Info("removing incomplete root filesystem")
	return env.remover.RemoveAll(env.RootfsDir())
}

func (env *Environment) stepLayout() error {
	for _, dir := range []string{env.RootfsDir(), env.BinDir(), env.TmpDir(), env.CacheDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	// Fail now, with a clear message, rather than half-way through an
	// extraction.
	if err := writeProbe(env.base); err != nil {
		return err
	}
	return writeProbe(env.TmpDir())
}

func (env *Environment) stepLauncher() error {
	if env.opts.LauncherAsset == "" {
		log.Debug("no launcher asset configured, skipping install")
		return nil
	}
	if err := env.installAsset(env.opts.LauncherAsset, env.LauncherPath()); err != nil {
		return err
	}
	return ensureExec(env.LauncherPath())
}

// stepDownload fetches the archive into the cache directory, reusing a cached
// copy when its digest still matches the pin. It returns the archive path.
func (env *Environment) stepDownload(ctx context.Context, pr *progressEmitter) (string, error) {
	if env.opts.ArchiveURL == "" {
		return "", errors.New("no archive URL configured")
	}
	dst := filepath.Join(env.CacheDir(), archiveFileName(env.opts.ArchiveURL))

	if fi, err := os.Stat(dst); err == nil && fi.Size() > 0 {
		ok, err := env.cachedArchiveUsable(dst)
		if err != nil {
			return "", err
		}
		if ok {
			log.WithField("archive", dst).Info("reusing cached archive")
			return dst, nil
		}
		log.WithField("archive", dst).Warn("cached archive failed verification, re-downloading")
		if err := env.remover.Remove(dst); err != nil {
			return "", fmt.Errorf("discard stale archive: %w", err)
		}
	}

	// Download to a scratch name and rename into the cache only once the
	// bytes are complete and verified: a failed or interrupted download must
	// never become a reusable cache entry.
	tmp := dst + ".partial"
	dgst, size, err := env.downloadTo(ctx, tmp, pr)
	if err != nil {
		if rmErr := env.remover.Remove(tmp); rmErr != nil {
			log.WithField("archive", tmp).Warnf("could not discard partial download: %v", rmErr)
		}
		return "", err
	}
	if env.opts.ArchiveDigest != "" && dgst != env.opts.ArchiveDigest {
		if rmErr := env.remover.Remove(tmp); rmErr != nil {
			log.WithField("archive", tmp).Warnf("could not discard mismatched archive: %v", rmErr)
		}
		return "", fmt.Errorf("archive digest mismatch: got %s, want %s", dgst, env.opts.ArchiveDigest)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", fmt.Errorf("commit archive to cache: %w", err)
	}
	log.WithFields(log.Fields{
		"archive": dst,
		"size":    units.BytesSize(float64(size)),
		"digest":  dgst.String(),
	}).Info("archive downloaded")
	return dst, nil
}

func (env *Environment) downloadTo(ctx context.Context, dst string, pr *progressEmitter) (_ digest.Digest, _ int64, Err error) {
	out, err := os.Create(dst)
	if err != nil {
		return "", 0, fmt.Errorf("create archive file: %w", err)
	}
	defer funchelpers.VerifyClose(&Err, out)

	lo, hi := StepDownload.percent(), StepExtract.percent()
	return env.fetch.Fetch(ctx, env.opts.ArchiveURL, out, func(written, total int64) {
		pct := lo
		msg := fmt.Sprintf("downloading root filesystem (%s)", units.BytesSize(float64(written)))
		if total > 0 {
			pct = lo + int(int64(hi-lo)*written/total)
			msg = fmt.Sprintf("downloading root filesystem (%s / %s)",
				units.BytesSize(float64(written)), units.BytesSize(float64(total)))
		}
		pr.emit(msg, pct)
	})
}

func (env *Environment) cachedArchiveUsable(path string) (_ bool, Err error) {
	if env.opts.ArchiveDigest == "" {
		return true, nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open cached archive: %w", err)
	}
	defer funchelpers.VerifyClose(&Err, fh)
	dgst, err := digest.FromReader(fh)
	if err != nil {
		return false, fmt.Errorf("digest cached archive: %w", err)
	}
	return dgst == env.opts.ArchiveDigest, nil
}

func (env *Environment) stepExtract(archive string) (Err error) {
	fh, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer funchelpers.VerifyClose(&Err, fh)

	var in io.Reader = fh
	if env.opts.ArchiveDigest != "" {
		// Catch the archive changing underneath us between the download
		// check and this read.
		in = &hardening.VerifiedReader{Reader: fh, ExpectedDigest: env.opts.ArchiveDigest}
	}

	rc, err := compress.DetectReader(in)
	if err != nil {
		return fmt.Errorf("detect archive compression: %w", err)
	}
	defer funchelpers.VerifyClose(&Err, rc)

	stats, err := env.extractor.Extract(env.RootfsDir(), rc)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"files":   stats.Files,
		"dirs":    stats.Dirs,
		"links":   stats.Links,
		"skipped": stats.Skipped,
	}).Info("root filesystem extracted")
	return nil
}

func (env *Environment) stepConfigure() error {
	if err := env.writeResolvConf(); err != nil {
		return err
	}
	if err := env.writeProfile(); err != nil {
		return err
	}
	return env.fixupShell()
}

func (env *Environment) stepVerify() error {
	if env.opts.LauncherAsset != "" {
		if err := ensureExec(env.LauncherPath()); err != nil {
			return fmt.Errorf("launcher: %w", err)
		}
	}
	for _, required := range []string{
		filepath.Join("bin", "sh"),
		filepath.Join("etc", "resolv.conf"),
		filepath.Join("root", ".profile"),
	} {
		if _, err := os.Stat(filepath.Join(env.RootfsDir(), required)); err != nil {
			return fmt.Errorf("rootfs is missing %s: %w", required, err)
		}
	}
	return writeProbe(env.RootfsDir())
}

// stepFinalize writes the zero-byte completion marker. Its existence is the
// whole persisted schema; removing the rootfs removes it.
func (env *Environment) stepFinalize() error {
	return os.WriteFile(env.markerPath(), nil, 0o644)
}

// archiveFileName derives the cache file name from the archive source.
func archiveFileName(source string) string {
	name := filepath.Base(strings.TrimRight(source, "/"))
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "rootfs.tar"
	}
	return name
}
