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
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/vouch/privilege"
	"github.com/blinklabs-io/vouch/store"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultStorePlugin = "jsonfile"
)

type Config struct {
	promRegistry prometheus.Registerer
	logger       *slog.Logger
	// recordStore takes precedence over storePlugin when set
	recordStore store.Store
	// privilegeSink takes precedence over the Discord sink when set
	privilegeSink     privilege.Sink
	storePlugin       string
	auditDataDir      string
	identityBaseUrl   string
	membershipBaseUrl string
	membershipApiKey  string
	targetGroupId     string
	privilegeToken    string
	privilegeBaseUrl  string
	privilegeGroup    string
	privilegeId       string
	lookupRateLimit   float64
	fastInterval      time.Duration
	slowInterval      time.Duration
	expiryWindow      time.Duration
	retentionWindow   time.Duration
	shutdownTimeout   time.Duration
	tracing           bool
	tracingStdout     bool
}

type ConfigOptionFunc func(*Config)

// NewConfig creates a new vouch config with the specified options applied
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
		storePlugin: DefaultStorePlugin,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithRecordStore specifies a pre-built record store, bypassing the store
// plugin system
func WithRecordStore(recordStore store.Store) ConfigOptionFunc {
	return func(c *Config) {
		c.recordStore = recordStore
	}
}

// WithStorePlugin specifies the record store plugin to use
func WithStorePlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.storePlugin = plugin
	}
}

// WithAuditDataDir specifies where the audit database lives. An in-memory
// database is used when empty
func WithAuditDataDir(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.auditDataDir = dataDir
	}
}

// WithIdentityBaseUrl overrides the identity resolution service URL
func WithIdentityBaseUrl(baseUrl string) ConfigOptionFunc {
	return func(c *Config) {
		c.identityBaseUrl = baseUrl
	}
}

// WithMembershipBaseUrl overrides the membership lookup service URL
func WithMembershipBaseUrl(baseUrl string) ConfigOptionFunc {
	return func(c *Config) {
		c.membershipBaseUrl = baseUrl
	}
}

// WithMembershipApiKey specifies the API key for the membership lookup
// service
func WithMembershipApiKey(apiKey string) ConfigOptionFunc {
	return func(c *Config) {
		c.membershipApiKey = apiKey
	}
}

// WithTargetGroupId specifies the group (guild) that subjects must be a
// member of to verify
func WithTargetGroupId(groupId string) ConfigOptionFunc {
	return func(c *Config) {
		c.targetGroupId = groupId
	}
}

// WithPrivilegeSink specifies a pre-built privilege sink, bypassing the
// Discord sink
func WithPrivilegeSink(sink privilege.Sink) ConfigOptionFunc {
	return func(c *Config) {
		c.privilegeSink = sink
	}
}

// WithPrivilegeToken specifies the bot token for the privilege sink
func WithPrivilegeToken(token string) ConfigOptionFunc {
	return func(c *Config) {
		c.privilegeToken = token
	}
}

// WithPrivilegeBaseUrl overrides the privilege sink service URL
func WithPrivilegeBaseUrl(baseUrl string) ConfigOptionFunc {
	return func(c *Config) {
		c.privilegeBaseUrl = baseUrl
	}
}

// WithPrivilegeGroup specifies the group (guild) in which the privilege is
// granted
func WithPrivilegeGroup(group string) ConfigOptionFunc {
	return func(c *Config) {
		c.privilegeGroup = group
	}
}

// WithPrivilegeId specifies the privilege (role) granted on successful
// verification
func WithPrivilegeId(privilegeId string) ConfigOptionFunc {
	return func(c *Config) {
		c.privilegeId = privilegeId
	}
}

// WithLookupRateLimit caps outbound lookup calls per second. Zero uses the
// lookup clients' defaults
func WithLookupRateLimit(perSecond float64) ConfigOptionFunc {
	return func(c *Config) {
		c.lookupRateLimit = perSecond
	}
}

// WithFastInterval specifies the cadence of the processing loop
func WithFastInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.fastInterval = interval
	}
}

// WithSlowInterval specifies the cadence of the expiry/retention sweep
func WithSlowInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.slowInterval = interval
	}
}

// WithExpiryWindow specifies how long a record may sit unprocessed before
// it expires
func WithExpiryWindow(window time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.expiryWindow = window
	}
}

// WithRetentionWindow specifies how long terminal records are kept before
// removal
func WithRetentionWindow(window time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.retentionWindow = window
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}
