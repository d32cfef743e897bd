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

package record

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"time"
)

// CodeLength is the number of digits in a verification code
const CodeLength = 6

var codeRegexp = regexp.MustCompile(
	fmt.Sprintf(`^[0-9]{%d}$`, CodeLength),
)

// Status is the lifecycle state of a verification record
type Status string

const (
	StatusPending    Status = "pending"
	StatusSubmitted  Status = "submitted"
	StatusProcessing Status = "processing"
	StatusVerified   Status = "verified"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
)

// statusTransitions is the set of legal state machine edges. The
// Pending to Submitted edge is driven by the external actor via the
// shared store and is only ever observed by this process.
var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusSubmitted, StatusExpired, StatusCancelled},
	StatusSubmitted:  {StatusProcessing, StatusExpired, StatusCancelled},
	StatusProcessing: {StatusVerified, StatusFailed},
}

// Valid returns true if the Status is a known state
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusProcessing,
		StatusVerified, StatusFailed, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for states that end the record lifecycle. A
// terminal record is immutable apart from removal by the retention sweep.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusVerified, StatusFailed, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition returns true if moving from the current status to the
// target status is a legal state machine edge
func (s Status) CanTransition(target Status) bool {
	for _, next := range statusTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Membership holds the result of a successful membership lookup
type Membership struct {
	GroupName string     `json:"group_name"`
	Rank      string     `json:"rank,omitempty"`
	JoinedAt  *time.Time `json:"joined_at,omitempty"`
}

// Record is a single verification attempt, keyed in the store by its code.
// The store is shared with an external actor (the game server plugin),
// which owns SubjectName and CreatedAt and drives the Pending to Submitted
// transition. All other mutation is owned by this process.
type Record struct {
	// Code is the record's identity and is not serialized in the record
	// body; the store keys the record mapping by code
	Code         string      `json:"-"`
	RequesterID  string      `json:"requester_id"`
	SubjectName  string      `json:"subject_name"`
	CreatedAt    time.Time   `json:"created_at"`
	Status       Status      `json:"status"`
	ResolvedID   string      `json:"resolved_id,omitempty"`
	ResolvedName string      `json:"resolved_name,omitempty"`
	Membership   *Membership `json:"membership,omitempty"`
	ErrorDetail  string      `json:"error_detail,omitempty"`
	VerifiedAt   *time.Time  `json:"verified_at,omitempty"`
}

// New creates a Pending record for the given requester and subject name
func New(code string, requesterID string, subjectName string) *Record {
	return &Record{
		Code:        code,
		RequesterID: requesterID,
		SubjectName: subjectName,
		CreatedAt:   time.Now().UTC(),
		Status:      StatusPending,
	}
}

// IsLive returns true while the record occupies a non-terminal state
func (r *Record) IsLive() bool {
	return !r.Status.IsTerminal()
}

// Transition moves the record to the target status if the edge is legal
func (r *Record) Transition(target Status) error {
	if !r.Status.CanTransition(target) {
		return TransitionError{From: r.Status, To: target}
	}
	r.Status = target
	return nil
}

// ApplyOwned copies the fields owned by this process from local onto r,
// where r is a freshly loaded on-disk copy of the same record. Fields
// owned by the external actor (subject name, creation time, requester)
// are left as found on disk. Returns false without mutating if the disk
// copy already reached a terminal state, since terminal records are final.
func (r *Record) ApplyOwned(local *Record) bool {
	if r.Status.IsTerminal() {
		return false
	}
	r.Status = local.Status
	r.ResolvedID = local.ResolvedID
	r.ResolvedName = local.ResolvedName
	r.Membership = local.Membership
	r.ErrorDetail = local.ErrorDetail
	r.VerifiedAt = local.VerifiedAt
	return true
}

// TransitionError is returned when a state machine edge is not legal
type TransitionError struct {
	From Status
	To   Status
}

func (e TransitionError) Error() string {
	return fmt.Sprintf(
		"illegal status transition: %s -> %s",
		e.From,
		e.To,
	)
}

// ValidCode returns true if the given string is a well-formed
// verification code (fixed-length numeric)
func ValidCode(code string) bool {
	return codeRegexp.MatchString(code)
}

// GenerateCode returns a random fixed-length numeric verification code.
// Uniqueness among live records is enforced by the caller against a
// fresh store read.
func GenerateCode() (string, error) {
	maxCode := new(big.Int).Exp(
		big.NewInt(10),
		big.NewInt(CodeLength),
		nil,
	)
	n, err := rand.Int(rand.Reader, maxCode)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}
