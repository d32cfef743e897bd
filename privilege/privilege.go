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

package privilege

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrForbidden means this process lacks permission to mutate the
	// privilege
	ErrForbidden = errors.New("insufficient permission to modify privilege")
	// ErrTargetNotFound means the identity is not resolvable within the
	// group
	ErrTargetNotFound = errors.New("identity not found in group")
)

// UpstreamError means the privilege backend failed in a way that is
// neither a permissions problem nor a missing target
type UpstreamError struct {
	Err        error
	StatusCode int
}

func (e UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf(
			"privilege backend error: status %d",
			e.StatusCode,
		)
	}
	return fmt.Sprintf("privilege backend error: %s", e.Err)
}

func (e UpstreamError) Unwrap() error {
	return e.Err
}

// Sink grants and revokes a named privilege for an identity within a
// group. Implementations must be idempotent: granting an already-held
// privilege and revoking an absent one are both no-op successes.
type Sink interface {
	Grant(ctx context.Context, identity, group, privilege string) error
	Revoke(ctx context.Context, identity, group, privilege string) error
	// Has reports whether the identity currently holds the privilege
	Has(ctx context.Context, identity, group, privilege string) (bool, error)
}
