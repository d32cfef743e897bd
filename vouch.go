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
	"sync"
	"time"

	"github.com/blinklabs-io/vouch/audit"
	"github.com/blinklabs-io/vouch/event"
	"github.com/blinklabs-io/vouch/lookup"
	"github.com/blinklabs-io/vouch/privilege"
	"github.com/blinklabs-io/vouch/reconciler"
	"github.com/blinklabs-io/vouch/store"
	"golang.org/x/time/rate"

	// Register the built-in record store plugins
	_ "github.com/blinklabs-io/vouch/store/plugin/badger"
	_ "github.com/blinklabs-io/vouch/store/plugin/jsonfile"
)

// Verifier coordinates the identity verification workflow between the
// requester-facing operations and the background reconciliation loops. Both
// sides rendezvous through the shared record store.
type Verifier struct {
	config        Config
	eventBus      *event.EventBus
	recordStore   store.Store
	auditLog      *audit.Log
	reconciler    *reconciler.Reconciler
	shutdownFuncs []func(context.Context) error
	storeMu       sync.Mutex
	done          chan struct{}
	runCancel     context.CancelFunc
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Verifier, error) {
	eventBus := event.NewEventBus(cfg.promRegistry, cfg.logger)
	v := &Verifier{
		config:   cfg,
		eventBus: eventBus,
		done:     make(chan struct{}),
	}
	if err := v.configValidate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	// Open the record store so requester-facing operations work before
	// (and without) Run
	recordStore := cfg.recordStore
	if recordStore == nil {
		var err error
		recordStore, err = store.New(cfg.storePlugin)
		if err != nil {
			return nil, fmt.Errorf("failed to open record store: %w", err)
		}
	}
	if err := recordStore.Start(); err != nil {
		return nil, fmt.Errorf("failed to start record store: %w", err)
	}
	v.recordStore = recordStore
	return v, nil
}

func (v *Verifier) configValidate() error {
	if v.config.recordStore == nil && v.config.storePlugin == "" {
		return errors.New("no record store configured")
	}
	if v.config.privilegeSink == nil && v.config.privilegeToken == "" {
		return errors.New(
			"no privilege sink configured: provide a token or a sink",
		)
	}
	return nil
}

// Run starts the background loops and blocks until Stop is called
func (v *Verifier) Run() error {
	// Configure tracing
	if v.config.tracing {
		if err := v.setupTracing(); err != nil {
			return err
		}
	}
	// Open audit log
	auditLog, err := audit.NewLog(audit.LogConfig{
		Logger:       v.config.logger,
		PromRegistry: v.config.promRegistry,
		DataDir:      v.config.auditDataDir,
	})
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	v.auditLog = auditLog
	v.auditLog.Attach(v.eventBus)
	// Build lookup clients
	var limiter *rate.Limiter
	if v.config.lookupRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(v.config.lookupRateLimit), 1)
	}
	identityClient := lookup.NewIdentityClient(lookup.IdentityClientConfig{
		Logger:  v.config.logger,
		Limiter: limiter,
		BaseUrl: v.config.identityBaseUrl,
	})
	membershipClient := lookup.NewMembershipClient(
		lookup.MembershipClientConfig{
			Logger:        v.config.logger,
			Limiter:       limiter,
			BaseUrl:       v.config.membershipBaseUrl,
			ApiKey:        v.config.membershipApiKey,
			TargetGroupId: v.config.targetGroupId,
		},
	)
	// Build privilege sink
	privilegeSink := v.config.privilegeSink
	if privilegeSink == nil {
		privilegeSink = privilege.NewDiscordSink(privilege.DiscordSinkConfig{
			Logger:  v.config.logger,
			Token:   v.config.privilegeToken,
			BaseUrl: v.config.privilegeBaseUrl,
		})
	}
	// Configure reconciler
	v.reconciler = reconciler.New(reconciler.ReconcilerConfig{
		Logger:          v.config.logger,
		EventBus:        v.eventBus,
		PromRegistry:    v.config.promRegistry,
		Store:           v.recordStore,
		Identity:        identityClient,
		Membership:      membershipClient,
		Privileges:      privilegeSink,
		PrivilegeGroup:  v.config.privilegeGroup,
		PrivilegeId:     v.config.privilegeId,
		FastInterval:    v.config.fastInterval,
		SlowInterval:    v.config.slowInterval,
		ExpiryWindow:    v.config.expiryWindow,
		RetentionWindow: v.config.retentionWindow,
		StoreMutex:      &v.storeMu,
	})
	v.logStartupSummary()
	ctx, cancel := context.WithCancel(context.Background())
	v.runCancel = cancel
	if err := v.reconciler.Start(ctx); err != nil {
		cancel()
		return err
	}

	// Wait for shutdown signal
	<-v.done
	return nil
}

// logStartupSummary logs a count of records by liveness found in the store
// at startup
func (v *Verifier) logStartupSummary() {
	v.storeMu.Lock()
	defer v.storeMu.Unlock()
	records, err := v.recordStore.Load()
	if err != nil {
		v.config.logger.Warn(
			"record store not readable at startup",
			"error", err,
		)
		return
	}
	live := 0
	terminal := 0
	for _, rec := range records {
		if rec.IsLive() {
			live++
		} else {
			terminal++
		}
	}
	v.config.logger.Info(
		"record store loaded",
		"live_records", live,
		"terminal_records", terminal,
	)
}

func (v *Verifier) Stop() error {
	var err error
	v.shutdownOnce.Do(func() {
		err = v.shutdown()
	})
	return err
}

func (v *Verifier) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if v.config.shutdownTimeout > 0 {
		shutdownTimeout = v.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	v.config.logger.Debug("starting graceful shutdown")

	// Phase 1: stop producing new work
	if v.reconciler != nil {
		v.reconciler.Stop()
	}
	if v.runCancel != nil {
		v.runCancel()
	}

	// Phase 2: flush and close the audit log
	if v.auditLog != nil {
		if closeErr := v.auditLog.Close(); closeErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("audit log close: %w", closeErr),
			)
		}
	}

	// Phase 3: close the record store
	if v.recordStore != nil {
		if stopErr := v.recordStore.Stop(); stopErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("record store shutdown: %w", stopErr),
			)
		}
	}

	// Phase 4: cleanup resources
	for _, fn := range v.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	v.shutdownFuncs = nil

	if v.eventBus != nil {
		v.eventBus.Stop()
	}

	v.config.logger.Debug("graceful shutdown complete")
	close(v.done)
	return err
}
