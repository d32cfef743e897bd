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
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/vouch/event"
	"github.com/blinklabs-io/vouch/lookup"
	"github.com/blinklabs-io/vouch/privilege"
	"github.com/blinklabs-io/vouch/record"
	"github.com/blinklabs-io/vouch/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultFastInterval    = 10 * time.Second
	DefaultSlowInterval    = 60 * time.Second
	DefaultExpiryWindow    = 30 * time.Minute
	DefaultRetentionWindow = 24 * time.Hour
)

// IdentityResolver resolves a submitted account name to a stable identity
type IdentityResolver interface {
	Resolve(ctx context.Context, name string) (*lookup.Identity, error)
}

// MembershipLookup checks group membership for a resolved identity
type MembershipLookup interface {
	Lookup(ctx context.Context, accountId string) (*lookup.MembershipResult, error)
}

type ReconcilerConfig struct {
	Logger       *slog.Logger
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
	Store        store.Store
	Identity     IdentityResolver
	Membership   MembershipLookup
	Privileges   privilege.Sink
	// PrivilegeGroup and PrivilegeId name the group and privilege granted
	// to the requester on successful verification
	PrivilegeGroup  string
	PrivilegeId     string
	FastInterval    time.Duration
	SlowInterval    time.Duration
	ExpiryWindow    time.Duration
	RetentionWindow time.Duration
	// StoreMutex serializes store writes with other writers in this
	// process. The reconciler allocates its own when nil.
	StoreMutex *sync.Mutex
}

// Reconciler drives verification records through their lifecycle against a
// shared record store. A fast loop claims submitted records and runs the
// lookup pipeline; a slow loop expires stale records and removes terminal
// records past the retention window.
//
// The store is shared with an external actor that flips records from
// pending to submitted, so every write cycle reloads the store and merges
// only the fields this process owns before persisting.
type Reconciler struct {
	config     ReconcilerConfig
	metrics    *reconcilerMetrics
	fastTicker *time.Ticker
	slowTicker *time.Ticker
	stopCh     chan struct{}
	kickCh chan struct{}
	// storeMu serializes store writes between the two loops and any other
	// in-process writer
	storeMu *sync.Mutex
	mu      sync.Mutex
}

type reconcilerMetrics struct {
	claimsTotal      prometheus.Counter
	verifiedTotal    prometheus.Counter
	failedTotal      *prometheus.CounterVec
	expiredTotal     prometheus.Counter
	removedTotal     prometheus.Counter
	liveRecords      prometheus.Gauge
	inFlight         prometheus.Gauge
	pipelineDuration prometheus.Histogram
}

func New(cfg ReconcilerConfig) *Reconciler {
	if cfg.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	cfg.Logger = cfg.Logger.With("component", "reconciler")
	if cfg.FastInterval == 0 {
		cfg.FastInterval = DefaultFastInterval
	}
	if cfg.SlowInterval == 0 {
		cfg.SlowInterval = DefaultSlowInterval
	}
	if cfg.ExpiryWindow == 0 {
		cfg.ExpiryWindow = DefaultExpiryWindow
	}
	if cfg.RetentionWindow == 0 {
		cfg.RetentionWindow = DefaultRetentionWindow
	}
	if cfg.StoreMutex == nil {
		cfg.StoreMutex = &sync.Mutex{}
	}
	r := &Reconciler{
		config:  cfg,
		storeMu: cfg.StoreMutex,
		kickCh:  make(chan struct{}, 1),
	}
	if cfg.PromRegistry != nil {
		r.initMetrics(cfg.PromRegistry)
	}
	return r
}

func (r *Reconciler) initMetrics(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	r.metrics = &reconcilerMetrics{
		claimsTotal: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "vouch_reconciler_claims_total",
			Help: "submitted records claimed for processing",
		}),
		verifiedTotal: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "vouch_reconciler_verified_total",
			Help: "records that reached verified",
		}),
		failedTotal: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vouch_reconciler_failed_total",
				Help: "records that reached failed by cause kind",
			},
			[]string{"kind"},
		),
		expiredTotal: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "vouch_reconciler_expired_total",
			Help: "records expired by the sweep",
		}),
		removedTotal: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "vouch_reconciler_removed_total",
			Help: "terminal records removed by the retention sweep",
		}),
		liveRecords: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "vouch_reconciler_live_records",
			Help: "records in a non-terminal state at last sweep",
		}),
		inFlight: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "vouch_reconciler_in_flight",
			Help: "pipeline executions currently running",
		}),
		pipelineDuration: promautoFactory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vouch_reconciler_pipeline_duration_seconds",
				Help:    "duration of a single pipeline execution",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// Start launches the fast and slow loops. Each loop single-threads its own
// body; the two loops run concurrently with each other and serialize their
// store writes.
func (r *Reconciler) Start(ctx context.Context) error {
	fastTicker := time.NewTicker(r.config.FastInterval)
	slowTicker := time.NewTicker(r.config.SlowInterval)
	stopCh := make(chan struct{})
	r.mu.Lock()
	r.fastTicker = fastTicker
	r.slowTicker = slowTicker
	r.stopCh = stopCh
	r.mu.Unlock()
	go func(t *time.Ticker, stop <-chan struct{}) {
		defer t.Stop()
		for {
			select {
			case <-t.C:
				r.fastPass(ctx)
			case <-r.kickCh:
				r.fastPass(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}(fastTicker, stopCh)
	go func(t *time.Ticker, stop <-chan struct{}) {
		defer t.Stop()
		for {
			select {
			case <-t.C:
				r.slowPass(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}(slowTicker, stopCh)
	return nil
}

// Stop gracefully shuts down the reconciler loops
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fastTicker != nil {
		r.fastTicker.Stop()
		r.slowTicker.Stop()
		if r.stopCh != nil {
			close(r.stopCh)
		}
		r.fastTicker = nil
		r.slowTicker = nil
		r.stopCh = nil
	}
}

// Kick requests an immediate fast pass without waiting for the next tick.
// It is a no-op if a kick is already queued.
func (r *Reconciler) Kick() {
	select {
	case r.kickCh <- struct{}{}:
	default:
	}
}

// ProcessOnce runs a single fast pass synchronously. Safe to call while
// the loops are running; store writes are serialized.
func (r *Reconciler) ProcessOnce(ctx context.Context) {
	r.fastPass(ctx)
}

// SweepOnce runs a single slow pass synchronously
func (r *Reconciler) SweepOnce(ctx context.Context) {
	r.slowPass(ctx)
}

// loadRecords loads the store, treating an unavailable store as having no
// records this tick
func (r *Reconciler) loadRecords() (map[string]*record.Record, bool) {
	records, err := r.config.Store.Load()
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			r.config.Logger.Warn(
				"record store unavailable, skipping pass",
				"error", err,
			)
		} else {
			r.config.Logger.Error(
				"failed to load record store",
				"error", err,
			)
		}
		return nil, false
	}
	return records, true
}

func (r *Reconciler) publishEvent(
	eventType event.EventType,
	rec *record.Record,
	runId string,
	upstream bool,
) {
	if r.config.EventBus == nil {
		return
	}
	r.config.EventBus.Publish(
		eventType,
		event.NewEvent(
			eventType,
			event.VerificationEvent{
				Code:        rec.Code,
				RequesterId: rec.RequesterID,
				SubjectName: rec.SubjectName,
				Status:      string(rec.Status),
				RunId:       runId,
				Detail:      rec.ErrorDetail,
				Upstream:    upstream,
				Timestamp:   time.Now(),
			},
		),
	)
}
