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

// Package funchelpers contains small helpers for dealing with deferred
// functions that return errors.
package funchelpers

import "io"

// VerifyError makes deferring error-returning functions (most notably Close)
// more ergonomic with named return values:
//
//	func foo() (Err error) {
//		f, err := os.Create("foobar")
//		if err != nil {
//			return err
//		}
//		defer funchelpers.VerifyError(&Err, f.Close)
//		return nil
//	}
//
// The error from closeFn is only kept if no earlier error was recorded.
func VerifyError(Err *error, closeFn func() error) {
	if Err == nil {
		panic("VerifyError must be called with non-nil Err slot")
	}
	if err := closeFn(); err != nil && *Err == nil {
		*Err = err
	}
}

// VerifyClose is shorthand for VerifyError(Err, closer.Close).
func VerifyClose(Err *error, closer io.Closer) {
	VerifyError(Err, closer.Close)
}
