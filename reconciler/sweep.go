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
	"time"

	"github.com/blinklabs-io/vouch/event"
	"github.com/blinklabs-io/vouch/record"
)

// slowPass expires records that sat too long without being processed and
// removes terminal records past the retention window. Events are
// published after the store mutex is released so a slow subscriber
// cannot stall store writers.
func (r *Reconciler) slowPass(_ context.Context) {
	expired, removed := r.sweepRecords(time.Now())
	for _, rec := range expired {
		r.config.Logger.Info(
			"verification expired",
			"code", rec.Code,
			"requester_id", rec.RequesterID,
		)
		if r.metrics != nil {
			r.metrics.expiredTotal.Inc()
		}
		r.publishEvent(event.VerificationExpiredEventType, rec, "", false)
	}
	for _, rec := range removed {
		r.config.Logger.Debug(
			"removed record past retention",
			"code", rec.Code,
			"status", string(rec.Status),
		)
		if r.metrics != nil {
			r.metrics.removedTotal.Inc()
		}
		r.publishEvent(event.VerificationRemovedEventType, rec, "", false)
	}
}

// sweepRecords does the locked load-sweep-save portion of slowPass and
// returns the committed expirations and removals
func (r *Reconciler) sweepRecords(
	now time.Time,
) (expired []*record.Record, removed []*record.Record) {
	r.storeMu.Lock()
	defer r.storeMu.Unlock()
	records, ok := r.loadRecords()
	if !ok {
		return nil, nil
	}
	changed := false
	live := 0
	for code, rec := range records {
		rec.Code = code
		switch rec.Status {
		case record.StatusPending, record.StatusSubmitted:
			if now.Sub(rec.CreatedAt) > r.config.ExpiryWindow {
				if err := rec.Transition(record.StatusExpired); err != nil {
					continue
				}
				expired = append(expired, rec)
				changed = true
			} else {
				live++
			}
		case record.StatusProcessing:
			live++
		default:
			if rec.Status.IsTerminal() &&
				now.Sub(rec.CreatedAt) > r.config.RetentionWindow {
				delete(records, code)
				removed = append(removed, rec)
				changed = true
			}
		}
	}
	if r.metrics != nil {
		r.metrics.liveRecords.Set(float64(live))
	}
	if changed {
		if err := r.config.Store.Save(records); err != nil {
			// Not committed; the sweep recomputes from disk next tick
			r.config.Logger.Error(
				"failed to persist sweep",
				"error", err,
			)
			return nil, nil
		}
	}
	return expired, removed
}
