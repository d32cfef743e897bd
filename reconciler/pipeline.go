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

package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blinklabs-io/vouch/event"
	"github.com/blinklabs-io/vouch/lookup"
	"github.com/blinklabs-io/vouch/privilege"
	"github.com/blinklabs-io/vouch/record"
	"github.com/google/uuid"
)

// fastPass claims every submitted record and runs the lookup pipeline for
// each claim. The claim (submitted to processing) is persisted before any
// external call starts, so a concurrent tick or a crash and restart cannot
// double-process a record.
func (r *Reconciler) fastPass(ctx context.Context) {
	r.storeMu.Lock()
	records, ok := r.loadRecords()
	if !ok {
		r.storeMu.Unlock()
		return
	}
	var claimed []*record.Record
	var inconsistent []*record.Record
	changed := false
	for code, rec := range records {
		rec.Code = code
		switch rec.Status {
		case record.StatusSubmitted:
			if err := rec.Transition(record.StatusProcessing); err != nil {
				continue
			}
			claimed = append(claimed, rec)
			changed = true
		default:
			if !rec.Status.Valid() {
				// A status we don't recognize means another writer went
				// off-script. Fail the record rather than guess.
				r.config.Logger.Warn(
					"record has unexpected status",
					"code", code,
					"status", string(rec.Status),
				)
				rec.Status = record.StatusFailed
				rec.ErrorDetail = "inconsistent state"
				inconsistent = append(inconsistent, rec)
				changed = true
			}
		}
	}
	if changed {
		if err := r.config.Store.Save(records); err != nil {
			// Claims were not committed, so nothing may be processed this
			// tick. The records are still submitted on disk and will be
			// claimed on the next tick.
			r.config.Logger.Error(
				"failed to persist claims",
				"error", err,
			)
			r.storeMu.Unlock()
			return
		}
	}
	r.storeMu.Unlock()

	for _, rec := range inconsistent {
		if r.metrics != nil {
			r.metrics.failedTotal.WithLabelValues("semantic").Inc()
		}
		r.publishEvent(event.VerificationFailedEventType, rec, "", false)
	}

	runIds := make(map[string]string, len(claimed))
	for _, rec := range claimed {
		runIds[rec.Code] = uuid.NewString()
		if r.metrics != nil {
			r.metrics.claimsTotal.Inc()
		}
		r.publishEvent(
			event.VerificationClaimedEventType,
			rec,
			runIds[rec.Code],
			false,
		)
	}

	for _, rec := range claimed {
		runId := runIds[rec.Code]
		startTime := time.Now()
		if r.metrics != nil {
			r.metrics.inFlight.Inc()
		}
		upstream := r.runPipeline(ctx, rec, runId)
		if r.metrics != nil {
			r.metrics.inFlight.Dec()
			r.metrics.pipelineDuration.Observe(
				time.Since(startTime).Seconds(),
			)
		}
		r.finalize(rec, runId, upstream)
	}
}

// runPipeline advances a claimed record to its terminal status in memory.
// It returns true when a failure was caused by an upstream dependency
// rather than a definitive negative answer. The caller persists the result
// via finalize.
func (r *Reconciler) runPipeline(
	ctx context.Context,
	rec *record.Record,
	runId string,
) bool {
	logger := r.config.Logger.With(
		"code", rec.Code,
		"run_id", runId,
	)
	logger.Info(
		"processing verification",
		"subject_name", rec.SubjectName,
	)
	// Identity resolution
	identity, err := r.config.Identity.Resolve(ctx, rec.SubjectName)
	if err != nil {
		logger.Info(
			"identity resolution failed",
			"error", err,
		)
		return r.failRecord(rec, err.Error(), !lookup.Semantic(err))
	}
	rec.ResolvedID = identity.ID
	rec.ResolvedName = identity.Name
	// Membership lookup
	membership, err := r.config.Membership.Lookup(ctx, identity.ID)
	if err != nil {
		logger.Info(
			"membership lookup failed",
			"error", err,
		)
		return r.failRecord(rec, err.Error(), !lookup.Semantic(err))
	}
	if !membership.InTargetGroup {
		logger.Info(
			"player is not in the target guild",
			"group_name", membership.GroupName,
		)
		return r.failRecord(rec, "player is not in the target guild", false)
	}
	// Privilege grant. A grant failure is a verification failure, not a
	// partial success.
	if err := r.config.Privileges.Grant(
		ctx,
		rec.RequesterID,
		r.config.PrivilegeGroup,
		r.config.PrivilegeId,
	); err != nil {
		logger.Warn(
			"privilege grant failed",
			"error", err,
		)
		semantic := errors.Is(err, privilege.ErrForbidden) ||
			errors.Is(err, privilege.ErrTargetNotFound)
		return r.failRecord(
			rec,
			fmt.Sprintf("privilege grant failed: %s", err),
			!semantic,
		)
	}
	now := time.Now().UTC()
	if err := rec.Transition(record.StatusVerified); err != nil {
		return r.failRecord(rec, "inconsistent state", false)
	}
	rec.Membership = &record.Membership{
		GroupName: membership.GroupName,
		Rank:      membership.Rank,
		JoinedAt:  membership.JoinedAt,
	}
	rec.VerifiedAt = &now
	logger.Info(
		"verification succeeded",
		"resolved_id", rec.ResolvedID,
		"resolved_name", rec.ResolvedName,
		"rank", membership.Rank,
	)
	return false
}

func (r *Reconciler) failRecord(
	rec *record.Record,
	detail string,
	upstream bool,
) bool {
	if err := rec.Transition(record.StatusFailed); err == nil {
		rec.ErrorDetail = detail
	}
	return upstream
}

// finalize persists a record's terminal status, merging onto a freshly
// loaded copy so fields owned by the external actor are never overwritten
// with stale data. Events are published after the store mutex is
// released so a slow subscriber cannot stall store writers.
func (r *Reconciler) finalize(
	rec *record.Record,
	runId string,
	upstream bool,
) {
	if !r.persistOutcome(rec, runId) {
		return
	}
	switch rec.Status {
	case record.StatusVerified:
		if r.metrics != nil {
			r.metrics.verifiedTotal.Inc()
		}
		r.publishEvent(event.VerificationVerifiedEventType, rec, runId, false)
	case record.StatusFailed:
		if r.metrics != nil {
			kind := "semantic"
			if upstream {
				kind = "upstream"
			}
			r.metrics.failedTotal.WithLabelValues(kind).Inc()
		}
		r.publishEvent(event.VerificationFailedEventType, rec, runId, upstream)
	}
}

// persistOutcome does the locked reload-merge-save portion of finalize
// and reports whether the pipeline's outcome was committed
func (r *Reconciler) persistOutcome(rec *record.Record, runId string) bool {
	r.storeMu.Lock()
	defer r.storeMu.Unlock()
	records, ok := r.loadRecords()
	if !ok {
		return false
	}
	diskCopy, ok := records[rec.Code]
	if !ok {
		r.config.Logger.Warn(
			"record disappeared during processing",
			"code", rec.Code,
			"run_id", runId,
		)
		return false
	}
	if !diskCopy.ApplyOwned(rec) {
		// The record reached a terminal state through another path while
		// the pipeline ran. Terminal states are final.
		r.config.Logger.Info(
			"record reached terminal state externally, keeping it",
			"code", rec.Code,
			"status", string(diskCopy.Status),
			"run_id", runId,
		)
		return false
	}
	if err := r.config.Store.Save(records); err != nil {
		r.config.Logger.Error(
			"failed to persist verification outcome",
			"code", rec.Code,
			"run_id", runId,
			"error", err,
		)
		return false
	}
	return true
}
