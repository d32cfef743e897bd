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
	"sync"

	"github.com/blinklabs-io/vouch/store/plugin"
)

// DefaultPath is where verification records are kept when no path is
// configured. The game server plugin must be pointed at the same file.
const DefaultPath = "verification_codes.json"

var (
	cmdlineOptions struct {
		path string
	}
	cmdlineOptionsMutex sync.RWMutex
)

// initCmdlineOptions sets default values for cmdlineOptions
func initCmdlineOptions() {
	cmdlineOptionsMutex.Lock()
	defer cmdlineOptionsMutex.Unlock()
	cmdlineOptions.path = DefaultPath
}

// Register plugin
func init() {
	initCmdlineOptions()
	plugin.Register(
		plugin.PluginEntry{
			Name:               "jsonfile",
			Description:        "shared JSON file record store",
			NewFromOptionsFunc: NewFromCmdlineOptions,
			Options: []plugin.PluginOption{
				{
					Name:         "path",
					Type:         plugin.PluginOptionTypeString,
					Description:  "location of the shared record file",
					DefaultValue: DefaultPath,
					Dest:         &(cmdlineOptions.path),
				},
			},
		},
	)
}

func NewFromCmdlineOptions() plugin.Plugin {
	cmdlineOptionsMutex.RLock()
	opts := []RecordStoreJsonFileOptionFunc{
		WithPath(cmdlineOptions.path),
	}
	cmdlineOptionsMutex.RUnlock()
	s, err := New(opts...)
	if err != nil {
		// Return a plugin that defers the error to Start()
		return plugin.NewErrorPlugin(err)
	}
	return s
}
