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

package store

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/vouch/record"
	"github.com/blinklabs-io/vouch/store/plugin"
)

// ErrUnavailable is returned by Load when the store medium cannot be read
// or parsed this instant. The caller treats it as "no records available
// this tick" rather than a fatal condition, since the other actor may be
// mid-write.
var ErrUnavailable = errors.New("record store unavailable")

// WriteError is returned by Save on I/O failure. The in-memory state must
// not be considered committed until a save succeeds; the caller retries on
// its next tick.
type WriteError struct {
	Err error
}

func (e WriteError) Error() string {
	return fmt.Sprintf("record store write failed: %s", e.Err)
}

func (e WriteError) Unwrap() error {
	return e.Err
}

// Store is the shared verification record store. Both this process and an
// uncontrolled external actor read and write it at arbitrary times, so
// callers must reload immediately before mutating and must merge at field
// granularity (record.ApplyOwned) rather than overwrite whole records.
type Store interface {
	plugin.Plugin
	// Load returns the full mapping of code to record. A missing or empty
	// medium yields an empty mapping; an unreadable medium yields
	// ErrUnavailable.
	Load() (map[string]*record.Record, error)
	// Save persists the full mapping, replacing the previous contents
	Save(map[string]*record.Record) error
}

// New starts the named store plugin and returns it as a Store
func New(pluginName string) (Store, error) {
	p, err := plugin.StartPlugin(pluginName)
	if err != nil {
		return nil, err
	}
	s, ok := p.(Store)
	if !ok {
		return nil, fmt.Errorf(
			"plugin '%s' does not implement the record store interface",
			pluginName,
		)
	}
	return s, nil
}
