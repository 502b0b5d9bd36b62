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

package forcerm

import (
	"io"
	"os/exec"
)

// Runner invokes an external command and waits for it to finish. Removal
// escalation shells out to the platform's rm/unlink/ln tools and only ever
// cares about "did the node go away afterwards", so the interface is as
// narrow as possible; tests substitute a fake.
type Runner interface {
	Run(name string, arg ...string) error
}

// ExecRunner is the default Runner, backed by os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(name string, arg ...string) error {
	cmd := exec.Command(name, arg...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run()
}
