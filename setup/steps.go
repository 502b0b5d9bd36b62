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

import "fmt"

// Step identifies one phase of environment setup. Steps always run in
// declaration order, and a failed run reports the step it died in so a
// subsequent run can be reasoned about (every step is idempotent, so
// resuming is simply re-running).
type Step int

const (
	StepCleanup Step = iota
	StepLayout
	StepLauncher
	StepDownload
	StepExtract
	StepConfigure
	StepVerify
	StepFinalize
)

func (s Step) String() string {
	switch s {
	case StepCleanup:
		return "removing previous environment"
	case StepLayout:
		return "creating directory layout"
	case StepLauncher:
		return "installing launcher"
	case StepDownload:
		return "downloading root filesystem"
	case StepExtract:
		return "extracting root filesystem"
	case StepConfigure:
		return "writing configuration files"
	case StepVerify:
		return "verifying environment"
	case StepFinalize:
		return "finishing setup"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// percent is the progress value reported when the step begins. The download
// step interpolates between its own base and the extract step's base as bytes
// arrive.
func (s Step) percent() int {
	switch s {
	case StepCleanup:
		return 2
	case StepLayout:
		return 5
	case StepLauncher:
		return 10
	case StepDownload:
		return 20
	case StepExtract:
		return 70
	case StepConfigure:
		return 85
	case StepVerify:
		return 95
	case StepFinalize:
		return 99
	default:
		return 0
	}
}

// ProgressFunc receives human-readable status updates during Setup. percent
// is monotonically non-decreasing across one run and reaches 100 exactly once,
// on success.
type ProgressFunc func(message string, percent int)

// Callbacks is the notification surface for callers that drive setup from an
// event loop (a UI layer) rather than waiting on the call. Done fires exactly
// once per run, with nil on success.
type Callbacks struct {
	Progress ProgressFunc
	Done     func(err error)
}

// progressEmitter enforces the monotonicity contract so individual steps
// don't have to.
type progressEmitter struct {
	fn   ProgressFunc
	last int
}

func (p *progressEmitter) emit(message string, percent int) {
	if p.fn == nil {
		return
	}
	if percent < p.last {
		percent = p.last
	}
	p.last = percent
	p.fn(message, percent)
}

func (p *progressEmitter) step(s Step) {
	p.emit(s.String(), s.percent())
}
