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
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

type RecordStoreJsonFileOptionFunc func(*RecordStoreJsonFile)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) RecordStoreJsonFileOptionFunc {
	return func(s *RecordStoreJsonFile) {
		s.logger = logger
	}
}

// WithPromRegistry specifies the prometheus registry to use for metrics
func WithPromRegistry(
	registry prometheus.Registerer,
) RecordStoreJsonFileOptionFunc {
	return func(s *RecordStoreJsonFile) {
		s.promRegistry = registry
	}
}

// WithPath specifies the location of the shared record file
func WithPath(path string) RecordStoreJsonFileOptionFunc {
	return func(s *RecordStoreJsonFile) {
		s.path = path
	}
}
