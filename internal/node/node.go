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

package node

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blinklabs-io/vouch"
	"github.com/blinklabs-io/vouch/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")

	fastInterval, err := parseDuration("fast interval", cfg.FastInterval)
	if err != nil {
		return err
	}
	slowInterval, err := parseDuration("slow interval", cfg.SlowInterval)
	if err != nil {
		return err
	}
	expiryWindow, err := parseDuration("expiry window", cfg.ExpiryWindow)
	if err != nil {
		return err
	}
	retentionWindow, err := parseDuration(
		"retention window",
		cfg.RetentionWindow,
	)
	if err != nil {
		return err
	}
	shutdownTimeout := 30 * time.Second // Default timeout
	if cfg.ShutdownTimeout != "" {
		shutdownTimeout, err = parseDuration(
			"shutdown timeout",
			cfg.ShutdownTimeout,
		)
		if err != nil {
			return err
		}
	}

	v, err := vouch.New(
		vouch.NewConfig(
			vouch.WithLogger(logger),
			vouch.WithStorePlugin(cfg.StorePlugin),
			vouch.WithAuditDataDir(cfg.AuditPath),
			vouch.WithIdentityBaseUrl(cfg.IdentityUrl),
			vouch.WithMembershipBaseUrl(cfg.MembershipUrl),
			vouch.WithMembershipApiKey(cfg.MembershipApiKey),
			vouch.WithTargetGroupId(cfg.TargetGroupId),
			vouch.WithPrivilegeToken(cfg.DiscordToken),
			vouch.WithPrivilegeBaseUrl(cfg.DiscordUrl),
			vouch.WithPrivilegeGroup(cfg.GuildId),
			vouch.WithPrivilegeId(cfg.RoleId),
			vouch.WithLookupRateLimit(cfg.LookupRateLimit),
			vouch.WithFastInterval(fastInterval),
			vouch.WithSlowInterval(slowInterval),
			vouch.WithExpiryWindow(expiryWindow),
			vouch.WithRetentionWindow(retentionWindow),
			vouch.WithShutdownTimeout(shutdownTimeout),
			// Enable metrics with default prometheus registry
			vouch.WithPrometheusRegistry(prometheus.DefaultRegisterer),
			vouch.WithTracing(cfg.Tracing),
			vouch.WithTracingStdout(cfg.TracingStdout),
		),
	)
	if err != nil {
		return err
	}
	// Metrics and debug listener
	http.Handle("/metrics", promhttp.Handler())
	logger.Info(
		"serving prometheus metrics on "+fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		"component",
		"node",
	)
	metricsServer := &http.Server{
		Addr: fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", "node",
			)
			os.Exit(1)
		}
	}()
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Run verifier in goroutine
	errChan := make(chan error, 1)
	go func() {
		err := v.Run()
		select {
		case errChan <- err:
		case <-signalCtx.Done():
		}
	}()

	// Wait for signal or error
	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")

		// Shutdown metrics server
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}

		// Shutdown verifier
		if err := v.Stop(); err != nil {
			logger.Error("shutdown errors occurred", "error", err)
			return err
		}
		logger.Info("shutdown complete")
		return nil

	case err := <-errChan:
		if err == nil {
			logger.Info("verifier stopped")
			// Graceful cleanup
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				shutdownTimeout,
			)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown error", "error", err)
			}
			if err := v.Stop(); err != nil {
				logger.Error("shutdown errors occurred", "error", err)
				return err
			}
			return nil
		}
		logger.Error("verifier error", "error", err)
		signalCtxStop()

		// Shutdown verifier resources
		if stopErr := v.Stop(); stopErr != nil {
			logger.Error(
				"shutdown errors occurred during error cleanup",
				"error",
				stopErr,
			)
		}

		// Cleanup on error
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("metrics server shutdown error", "error", shutdownErr)
		}

		return err
	}
}
