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

package audit_test

import (
	"testing"
	"time"

	"github.com/blinklabs-io/vouch/audit"
	"github.com/blinklabs-io/vouch/event"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	auditLog, err := audit.NewLog(audit.LogConfig{})
	require.NoError(t, err)
	defer auditLog.Close()

	runId := uuid.NewString()
	err = auditLog.Record(audit.Entry{
		Code:        "123456",
		RequesterId: "user-1",
		SubjectName: "Steve",
		Outcome:     "verified",
		RunId:       runId,
	})
	require.NoError(t, err)
	err = auditLog.Record(audit.Entry{
		Code:        "654321",
		RequesterId: "user-2",
		SubjectName: "Alex",
		Outcome:     "failed",
		Detail:      "account not found",
		Kind:        audit.KindSemantic,
	})
	require.NoError(t, err)

	entries, err := auditLog.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first
	assert.Equal(t, "654321", entries[0].Code)
	assert.Equal(t, audit.KindSemantic, entries[0].Kind)
	assert.Equal(t, "123456", entries[1].Code)
	assert.Equal(t, runId, entries[1].RunId)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestByRequester(t *testing.T) {
	auditLog, err := audit.NewLog(audit.LogConfig{})
	require.NoError(t, err)
	defer auditLog.Close()

	for _, outcome := range []string{"pending", "submitted", "verified"} {
		require.NoError(t, auditLog.Record(audit.Entry{
			Code:        "111111",
			RequesterId: "user-1",
			Outcome:     outcome,
		}))
	}
	require.NoError(t, auditLog.Record(audit.Entry{
		Code:        "222222",
		RequesterId: "user-2",
		Outcome:     "pending",
	}))

	entries, err := auditLog.ByRequester("user-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "verified", entries[0].Outcome)
	assert.Equal(t, "pending", entries[2].Outcome)
}

func TestAttachRecordsEvents(t *testing.T) {
	auditLog, err := audit.NewLog(audit.LogConfig{})
	require.NoError(t, err)
	defer auditLog.Close()

	eventBus := event.NewEventBus(nil, nil)
	defer eventBus.Stop()
	auditLog.Attach(eventBus)

	eventBus.Publish(
		event.VerificationFailedEventType,
		event.NewEvent(
			event.VerificationFailedEventType,
			event.VerificationEvent{
				Code:        "123456",
				RequesterId: "user-1",
				SubjectName: "Steve",
				Status:      "failed",
				Detail:      "group membership lookup timed out",
				Upstream:    true,
				Timestamp:   time.Now(),
			},
		),
	)
	eventBus.Publish(
		event.VerificationVerifiedEventType,
		event.NewEvent(
			event.VerificationVerifiedEventType,
			event.VerificationEvent{
				Code:        "654321",
				RequesterId: "user-2",
				SubjectName: "Alex",
				Status:      "verified",
				Timestamp:   time.Now(),
			},
		),
	)

	// Delivery happens on the subscriber goroutine
	require.Eventually(t, func() bool {
		entries, err := auditLog.Recent(10)
		return err == nil && len(entries) == 2
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := auditLog.Recent(10)
	require.NoError(t, err)
	assert.Equal(t, "verified", entries[0].Outcome)
	assert.Equal(t, "", entries[0].Kind)
	assert.Equal(t, "failed", entries[1].Outcome)
	assert.Equal(t, audit.KindUpstream, entries[1].Kind)

	auditLog.Detach()
}
