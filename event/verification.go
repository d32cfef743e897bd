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

package event

import "time"

const (
	// VerificationCreatedEventType is the event type for newly issued codes
	VerificationCreatedEventType = EventType("verification.created")
	// VerificationClaimedEventType is the event type for submissions claimed
	// for processing
	VerificationClaimedEventType = EventType("verification.claimed")
	// VerificationVerifiedEventType is the event type for successful
	// verifications
	VerificationVerifiedEventType = EventType("verification.verified")
	// VerificationFailedEventType is the event type for verifications that
	// reached a failure outcome
	VerificationFailedEventType = EventType("verification.failed")
	// VerificationExpiredEventType is the event type for codes that aged out
	// before submission
	VerificationExpiredEventType = EventType("verification.expired")
	// VerificationCancelledEventType is the event type for user-cancelled
	// codes
	VerificationCancelledEventType = EventType("verification.cancelled")
	// VerificationRemovedEventType is the event type for terminal records
	// removed by the retention sweep
	VerificationRemovedEventType = EventType("verification.removed")
)

// VerificationEvent describes a single transition in the lifecycle of a
// verification code. One struct covers every verification event type; the
// optional fields are populated where the transition provides them.
type VerificationEvent struct {
	// Code is the verification code the event refers to
	Code string
	// RequesterId is the identity that requested the code
	RequesterId string
	// SubjectName is the submitted account name, if any
	SubjectName string
	// Status is the record status after the transition
	Status string
	// RunId correlates events from a single processing pass
	RunId string
	// Detail carries the failure detail for failed outcomes
	Detail string
	// Upstream is true when a failure was caused by a dependency error
	// rather than a definitive negative answer
	Upstream bool
	// Timestamp is when the transition was observed
	Timestamp time.Time
}
