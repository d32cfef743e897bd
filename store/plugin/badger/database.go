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

package badger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blinklabs-io/vouch/record"
	"github.com/blinklabs-io/vouch/store"
	badger "github.com/dgraph-io/badger/v4"
)

const recordKeyPrefix = "record_"

// RecordStoreBadger keeps verification records in a local BadgerDB. It
// cannot be shared with another process the way the JSON file store can,
// so it only suits deployments where the game server plugin is pointed at
// this process through some other bridge. The store contract is otherwise
// identical: full-mapping load and save keyed by code.
type RecordStoreBadger struct {
	db        *badger.DB
	logger    *slog.Logger
	gcTicker  *time.Ticker
	gcStopCh  chan struct{}
	dataDir   string
	gcWg      sync.WaitGroup
	gcEnabled bool
}

// New creates a new database
func New(opts ...RecordStoreBadgerOptionFunc) (*RecordStoreBadger, error) {
	db := &RecordStoreBadger{
		gcEnabled: true,
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		db.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	var recordDb *badger.DB
	var err error
	if db.dataDir == "" {
		// No dataDir, use in-memory config
		badgerOpts := badger.DefaultOptions("").
			WithLogger(newBadgerLogger(db.logger)).
			// The default INFO logging is a bit verbose
			WithLoggingLevel(badger.WARNING).
			WithInMemory(true)
		recordDb, err = badger.Open(badgerOpts)
		if err != nil {
			return nil, err
		}
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(db.dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(db.dataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		recordDir := filepath.Join(
			db.dataDir,
			"records",
		)
		badgerOpts := badger.DefaultOptions(recordDir).
			WithLogger(newBadgerLogger(db.logger)).
			WithLoggingLevel(badger.WARNING)
		recordDb, err = badger.Open(badgerOpts)
		if err != nil {
			return nil, err
		}
	}
	db.db = recordDb
	// Configure GC
	if db.gcEnabled {
		db.gcTicker = time.NewTicker(5 * time.Minute)
		db.gcStopCh = make(chan struct{})
		db.gcWg.Add(1)
		go db.valueLogGc(db.gcTicker, db.gcStopCh)
	}
	return db, nil
}

func (d *RecordStoreBadger) valueLogGc(t *time.Ticker, stop <-chan struct{}) {
	defer d.gcWg.Done()
	for {
		select {
		case <-t.C:
		again:
			err := d.db.RunValueLogGC(0.5)
			if err != nil {
				// Log any actual errors
				if !errors.Is(err, badger.ErrNoRewrite) {
					d.logger.Warn(
						fmt.Sprintf("record DB: GC failure: %s", err),
						"component", "store",
					)
				}
			} else {
				// Run it again if it just ran successfully
				goto again
			}
		case <-stop:
			return
		}
	}
}

// Start implements the plugin.Plugin interface
func (d *RecordStoreBadger) Start() error {
	// Database is already started in New(), so this is a no-op
	return nil
}

// Stop implements the plugin.Plugin interface
func (d *RecordStoreBadger) Stop() error {
	return d.Close()
}

func (d *RecordStoreBadger) Close() error {
	// Stop GC ticker if it exists
	if d.gcTicker != nil {
		d.gcTicker.Stop()
		if d.gcStopCh != nil {
			close(d.gcStopCh)
			d.gcStopCh = nil
		}
		// Wait for GC goroutine to finish
		d.gcWg.Wait()
		d.gcTicker = nil
	}
	return d.db.Close()
}

func (d *RecordStoreBadger) Load() (map[string]*record.Record, error) {
	records := map[string]*record.Record{}
	err := d.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = []byte(recordKeyPrefix)
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			code := string(item.Key()[len(recordKeyPrefix):])
			err := item.Value(func(val []byte) error {
				var r record.Record
				if err := json.Unmarshal(val, &r); err != nil {
					return err
				}
				r.Code = code
				records[code] = &r
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return records, nil
}

func (d *RecordStoreBadger) Save(records map[string]*record.Record) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		// Remove keys for records no longer in the mapping
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = []byte(recordKeyPrefix)
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		var staleKeys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			code := string(key[len(recordKeyPrefix):])
			if _, ok := records[code]; !ok {
				staleKeys = append(staleKeys, key)
			}
		}
		it.Close()
		for _, key := range staleKeys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for code, r := range records {
			val, err := json.Marshal(r)
			if err != nil {
				return err
			}
			key := []byte(recordKeyPrefix + code)
			if err := txn.Set(key, val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return store.WriteError{Err: err}
	}
	return nil
}
