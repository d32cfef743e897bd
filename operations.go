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

package vouch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blinklabs-io/vouch/event"
	"github.com/blinklabs-io/vouch/record"
)

var (
	// ErrAlreadyPending is returned when a requester already has a live
	// verification. The existing record is returned alongside it.
	ErrAlreadyPending = errors.New("verification already pending")
	// ErrCodeNotFound is returned when no record exists for a code
	ErrCodeNotFound = errors.New("no record for code")
	// ErrNotForceable is returned when a record cannot be pushed into
	// processing because it already left the pending/submitted states
	ErrNotForceable = errors.New("record is not in a forceable state")
)

const codeGenerationAttempts = 100

// CreateVerification issues a fresh verification code for a requester. At
// most one live record may exist per requester; a second request returns
// the existing record with ErrAlreadyPending.
func (v *Verifier) CreateVerification(
	ctx context.Context,
	requesterId string,
	subjectName string,
) (*record.Record, error) {
	v.storeMu.Lock()
	defer v.storeMu.Unlock()
	records, err := v.recordStore.Load()
	if err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}
	for code, rec := range records {
		rec.Code = code
		if rec.RequesterID == requesterId && rec.IsLive() {
			return rec, ErrAlreadyPending
		}
	}
	code, err := uniqueCode(records)
	if err != nil {
		return nil, err
	}
	rec := record.New(code, requesterId, subjectName)
	records[code] = rec
	if err := v.recordStore.Save(records); err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}
	v.config.logger.Info(
		"verification created",
		"component", "verifier",
		"code", code,
		"requester_id", requesterId,
	)
	v.publishEvent(event.VerificationCreatedEventType, rec)
	return rec, nil
}

// CancelVerification cancels the requester's live record if it has not yet
// been claimed for processing. The returned bool reports whether a
// cancellable record existed; cancelling when none exists is not an error.
func (v *Verifier) CancelVerification(
	ctx context.Context,
	requesterId string,
) (bool, error) {
	v.storeMu.Lock()
	defer v.storeMu.Unlock()
	records, err := v.recordStore.Load()
	if err != nil {
		return false, fmt.Errorf("record store: %w", err)
	}
	for code, rec := range records {
		rec.Code = code
		if rec.RequesterID != requesterId {
			continue
		}
		if err := rec.Transition(record.StatusCancelled); err != nil {
			// Terminal or mid-processing records are not cancellable
			continue
		}
		if err := v.recordStore.Save(records); err != nil {
			return false, fmt.Errorf("record store: %w", err)
		}
		v.config.logger.Info(
			"verification cancelled",
			"component", "verifier",
			"code", code,
			"requester_id", requesterId,
		)
		v.publishEvent(event.VerificationCancelledEventType, rec)
		return true, nil
	}
	return false, nil
}

// VerificationStatus returns the requester's newest record from a fresh
// store read, or nil when the requester has none
func (v *Verifier) VerificationStatus(
	ctx context.Context,
	requesterId string,
) (*record.Record, error) {
	v.storeMu.Lock()
	defer v.storeMu.Unlock()
	records, err := v.recordStore.Load()
	if err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}
	var newest *record.Record
	for code, rec := range records {
		rec.Code = code
		if rec.RequesterID != requesterId {
			continue
		}
		if newest == nil || rec.CreatedAt.After(newest.CreatedAt) {
			newest = rec
		}
	}
	return newest, nil
}

// ForceVerify pushes a pending record straight to submitted and kicks the
// reconciler, bypassing the external actor. Intended for operators fixing
// up records by hand.
func (v *Verifier) ForceVerify(ctx context.Context, code string) error {
	v.storeMu.Lock()
	records, err := v.recordStore.Load()
	if err != nil {
		v.storeMu.Unlock()
		return fmt.Errorf("record store: %w", err)
	}
	rec, ok := records[code]
	if !ok {
		v.storeMu.Unlock()
		return ErrCodeNotFound
	}
	rec.Code = code
	switch rec.Status {
	case record.StatusPending:
		if err := rec.Transition(record.StatusSubmitted); err != nil {
			v.storeMu.Unlock()
			return err
		}
		if err := v.recordStore.Save(records); err != nil {
			v.storeMu.Unlock()
			return fmt.Errorf("record store: %w", err)
		}
	case record.StatusSubmitted:
		// Already submitted, just kick
	default:
		v.storeMu.Unlock()
		return fmt.Errorf(
			"%w: %s",
			ErrNotForceable,
			string(rec.Status),
		)
	}
	v.storeMu.Unlock()
	v.config.logger.Info(
		"verification forced",
		"component", "verifier",
		"code", code,
	)
	if v.reconciler != nil {
		v.reconciler.Kick()
	}
	return nil
}

func (v *Verifier) publishEvent(
	eventType event.EventType,
	rec *record.Record,
) {
	v.eventBus.Publish(
		eventType,
		event.NewEvent(
			eventType,
			event.VerificationEvent{
				Code:        rec.Code,
				RequesterId: rec.RequesterID,
				SubjectName: rec.SubjectName,
				Status:      string(rec.Status),
				Timestamp:   time.Now(),
			},
		),
	)
}

// uniqueCode generates a code not already present in the given mapping
func uniqueCode(records map[string]*record.Record) (string, error) {
	for range codeGenerationAttempts {
		code, err := record.GenerateCode()
		if err != nil {
			return "", err
		}
		if _, exists := records[code]; !exists {
			return code, nil
		}
	}
	return "", errors.New("failed to generate an unused code")
}
