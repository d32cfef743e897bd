// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lookup

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Semantic negative results. These mean the verification legitimately
// failed, as opposed to the upstream being unreachable.
var (
	// ErrNotFound means the subject name does not resolve to any account
	ErrNotFound = errors.New("account not found")
	// ErrNoGroup means the resolved account is not in any guild
	ErrNoGroup = errors.New("player is not in any guild")
)

// WrongGroupError means the resolved account is in a guild other than the
// target guild
type WrongGroupError struct {
	GroupName string
}

func (e WrongGroupError) Error() string {
	return fmt.Sprintf("player is in a different guild: %s", e.GroupName)
}

// TimeoutError means the upstream call exceeded its time bound. It is kept
// distinct from semantic negatives for audit purposes, though both
// terminate a verification as failed.
type TimeoutError struct {
	Op string
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out", e.Op)
}

// UpstreamError means the upstream responded with a transport or server
// failure
type UpstreamError struct {
	Err        error
	Op         string
	StatusCode int
}

func (e UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s error: %s", e.Op, e.Err)
}

func (e UpstreamError) Unwrap() error {
	return e.Err
}

// Semantic returns true for negative results that represent a legitimate
// verification failure rather than an upstream dependency failure
func Semantic(err error) bool {
	var wrongGroupErr WrongGroupError
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNoGroup) ||
		errors.As(err, &wrongGroupErr)
}

// classifyTransport maps a transport-level error onto the lookup error
// taxonomy
func classifyTransport(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError{Op: op}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimeoutError{Op: op}
	}
	return UpstreamError{Op: op, Err: err}
}
