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

package audit

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/blinklabs-io/vouch/event"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// Kind classifies the cause of a failure outcome. Semantic failures are
// definitive negative answers from a dependency, upstream failures mean the
// dependency itself misbehaved and the outcome says nothing about the
// subject.
const (
	KindSemantic = "semantic"
	KindUpstream = "upstream"
)

// Entry is a single audit log row recording one verification lifecycle
// transition.
type Entry struct {
	ID          uint      `gorm:"primarykey"`
	Timestamp   time.Time `gorm:"index"`
	Code        string    `gorm:"index"`
	RequesterId string    `gorm:"index"`
	SubjectName string
	Outcome     string
	Detail      string
	Kind        string
	RunId       string
}

func (Entry) TableName() string {
	return "audit_entries"
}

type LogConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// DataDir is where the sqlite database lives. An in-memory database is
	// used when empty.
	DataDir string
}

// Log is a SQLite-backed audit trail for verification outcomes. It records
// every lifecycle transition it observes, either directly via Record or by
// subscribing to an event bus via Attach.
type Log struct {
	config  LogConfig
	db      *gorm.DB
	metrics *logMetrics
	subIds  map[event.EventType]event.EventSubscriberId
	bus     *event.EventBus
}

type logMetrics struct {
	entriesTotal *prometheus.CounterVec
}

// NewLog creates a SQLite audit log. Uses an in-memory database if DataDir
// is empty.
func NewLog(cfg LogConfig) (*Log, error) {
	if cfg.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	cfg.Logger = cfg.Logger.With("component", "audit")
	var auditDb *gorm.DB
	var err error
	if cfg.DataDir == "" {
		// cache=shared allows multiple connections to share the same in-memory database
		auditDb, err = gorm.Open(
			sqlite.Open("file::memory:?cache=shared"),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(cfg.DataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(cfg.DataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		auditDbPath := filepath.Join(
			cfg.DataDir,
			"audit.sqlite",
		)
		// WAL journal mode so readers don't block the recorder
		auditConnOpts := "_pragma=journal_mode(WAL)"
		auditDb, err = gorm.Open(
			sqlite.Open(
				fmt.Sprintf("file:%s?%s", auditDbPath, auditConnOpts),
			),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	}
	// Configure tracing for GORM
	if err := auditDb.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}
	if err := auditDb.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	l := &Log{
		config: cfg,
		db:     auditDb,
		subIds: make(map[event.EventType]event.EventSubscriberId),
	}
	if cfg.PromRegistry != nil {
		l.initMetrics(cfg.PromRegistry)
	}
	return l, nil
}

func (l *Log) initMetrics(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	l.metrics = &logMetrics{
		entriesTotal: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vouch_audit_entries_total",
				Help: "audit log entries recorded by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Record appends a single entry to the audit log
func (l *Log) Record(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if result := l.db.Create(&entry); result.Error != nil {
		l.config.Logger.Error(
			"failed to record audit entry",
			"code", entry.Code,
			"error", result.Error,
		)
		return result.Error
	}
	if l.metrics != nil {
		l.metrics.entriesTotal.WithLabelValues(entry.Outcome).Inc()
	}
	return nil
}

// Recent returns up to limit entries ordered newest first
func (l *Log) Recent(limit int) ([]Entry, error) {
	var entries []Entry
	result := l.db.
		Order("id DESC").
		Limit(limit).
		Find(&entries)
	if result.Error != nil {
		return nil, result.Error
	}
	return entries, nil
}

// ByRequester returns all entries for a requester ordered newest first
func (l *Log) ByRequester(requesterId string) ([]Entry, error) {
	var entries []Entry
	result := l.db.
		Where("requester_id = ?", requesterId).
		Order("id DESC").
		Find(&entries)
	if result.Error != nil {
		return nil, result.Error
	}
	return entries, nil
}

// Attach subscribes the audit log to verification lifecycle events on the
// given event bus. Detach must be called before the log is closed.
func (l *Log) Attach(eventBus *event.EventBus) {
	l.bus = eventBus
	for _, evtType := range []event.EventType{
		event.VerificationCreatedEventType,
		event.VerificationClaimedEventType,
		event.VerificationVerifiedEventType,
		event.VerificationFailedEventType,
		event.VerificationExpiredEventType,
		event.VerificationCancelledEventType,
		event.VerificationRemovedEventType,
	} {
		l.subIds[evtType] = eventBus.SubscribeFunc(
			evtType,
			l.handleEvent,
		)
	}
}

// Detach unsubscribes the audit log from the event bus
func (l *Log) Detach() {
	if l.bus == nil {
		return
	}
	for evtType, subId := range l.subIds {
		l.bus.Unsubscribe(evtType, subId)
		delete(l.subIds, evtType)
	}
	l.bus = nil
}

func (l *Log) handleEvent(evt event.Event) {
	verifyEvt, ok := evt.Data.(event.VerificationEvent)
	if !ok {
		l.config.Logger.Warn(
			"unexpected event payload",
			"type", evt.Type,
		)
		return
	}
	kind := ""
	if evt.Type == event.VerificationFailedEventType {
		kind = KindSemantic
		if verifyEvt.Upstream {
			kind = KindUpstream
		}
	}
	//nolint:errcheck
	l.Record(Entry{
		Timestamp:   verifyEvt.Timestamp,
		Code:        verifyEvt.Code,
		RequesterId: verifyEvt.RequesterId,
		SubjectName: verifyEvt.SubjectName,
		Outcome:     verifyEvt.Status,
		Detail:      verifyEvt.Detail,
		Kind:        kind,
		RunId:       verifyEvt.RunId,
	})
}

// Close detaches from the event bus and closes the underlying database
func (l *Log) Close() error {
	l.Detach()
	sqlDb, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDb.Close()
}
