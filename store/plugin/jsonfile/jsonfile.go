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

package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/blinklabs-io/vouch/record"
	"github.com/blinklabs-io/vouch/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RecordStoreJsonFile stores verification records as a single
// human-inspectable JSON file, keyed by code. The file is the rendezvous
// point with the game server plugin, which reads and rewrites it on its
// own schedule, so every load tolerates a missing, empty, or partially
// written file, and every save goes through a temp file plus rename so
// the other actor never observes half a write from this side.
type RecordStoreJsonFile struct {
	logger       *slog.Logger
	promRegistry prometheus.Registerer
	metrics      *jsonFileMetrics
	path         string
}

type jsonFileMetrics struct {
	loadErrors prometheus.Counter
	saveErrors prometheus.Counter
}

// New creates a JSON file record store at the configured path
func New(opts ...RecordStoreJsonFileOptionFunc) (*RecordStoreJsonFile, error) {
	s := &RecordStoreJsonFile{
		path: DefaultPath,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		// Create logger to throw away logs
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if s.path == "" {
		return nil, errors.New("no store path configured")
	}
	if s.promRegistry != nil {
		s.initMetrics()
	}
	return s, nil
}

func (s *RecordStoreJsonFile) initMetrics() {
	promautoFactory := promauto.With(s.promRegistry)
	s.metrics = &jsonFileMetrics{}
	s.metrics.loadErrors = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "vouch_store_load_errors_total",
		Help: "number of failed record store loads",
	})
	s.metrics.saveErrors = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "vouch_store_save_errors_total",
		Help: "number of failed record store saves",
	})
}

func (s *RecordStoreJsonFile) Start() error {
	// Make sure the parent directory exists. The file itself may be
	// created by either actor.
	parentDir := filepath.Dir(s.path)
	if _, err := os.Stat(parentDir); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read store dir: %w", err)
		}
		if err := os.MkdirAll(parentDir, 0o755); err != nil {
			return fmt.Errorf("failed to create store dir: %w", err)
		}
	}
	s.logger.Info(
		"using shared record store",
		"component", "store",
		"path", s.path,
	)
	return nil
}

func (s *RecordStoreJsonFile) Stop() error {
	return nil
}

func (s *RecordStoreJsonFile) Load() (map[string]*record.Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Not created yet by either actor
			return map[string]*record.Record{}, nil
		}
		if s.metrics != nil {
			s.metrics.loadErrors.Inc()
		}
		return nil, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	if len(data) == 0 {
		return map[string]*record.Record{}, nil
	}
	records := map[string]*record.Record{}
	if err := json.Unmarshal(data, &records); err != nil {
		// The other actor may have been mid-write; treat as no records
		// available this tick
		if s.metrics != nil {
			s.metrics.loadErrors.Inc()
		}
		return nil, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	for code, r := range records {
		if r == nil {
			delete(records, code)
			continue
		}
		r.Code = code
	}
	return records, nil
}

func (s *RecordStoreJsonFile) Save(records map[string]*record.Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return store.WriteError{Err: err}
	}
	// Write to a temp file in the same directory and rename into place so
	// the other actor never reads a torn write
	tmpFile, err := os.CreateTemp(filepath.Dir(s.path), ".vouch-store-*")
	if err != nil {
		if s.metrics != nil {
			s.metrics.saveErrors.Inc()
		}
		return store.WriteError{Err: err}
	}
	tmpPath := tmpFile.Name()
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		if s.metrics != nil {
			s.metrics.saveErrors.Inc()
		}
		return store.WriteError{Err: err}
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		if s.metrics != nil {
			s.metrics.saveErrors.Inc()
		}
		return store.WriteError{Err: err}
	}
	// Readable by the other actor's process
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		if s.metrics != nil {
			s.metrics.saveErrors.Inc()
		}
		return store.WriteError{Err: err}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		if s.metrics != nil {
			s.metrics.saveErrors.Inc()
		}
		return store.WriteError{Err: err}
	}
	return nil
}
