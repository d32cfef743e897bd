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

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blinklabs-io/vouch/internal/secrets"
	"github.com/blinklabs-io/vouch/store/plugin"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "vouch.config"

const (
	DefaultStorePlugin     = "jsonfile"
	DefaultShutdownTimeout = "30s"
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type tempConfig struct {
	Config *Config                   `yaml:"config,omitempty"`
	Store  map[string]map[string]any `yaml:"store,omitempty"`
}

type Config struct {
	StorePlugin          string  `yaml:"storePlugin"          envconfig:"VOUCH_STORE_PLUGIN"`
	AuditPath            string  `yaml:"auditPath"                                           split_words:"true"`
	IdentityUrl          string  `yaml:"identityUrl"                                         split_words:"true"`
	MembershipUrl        string  `yaml:"membershipUrl"                                       split_words:"true"`
	MembershipApiKey     string  `yaml:"membershipApiKey"                                    split_words:"true"`
	MembershipApiKeyFile string  `yaml:"membershipApiKeyFile"                                split_words:"true"`
	TargetGroupId        string  `yaml:"targetGroupId"                                       split_words:"true"`
	DiscordToken         string  `yaml:"discordToken"                                        split_words:"true"`
	DiscordTokenFile     string  `yaml:"discordTokenFile"                                    split_words:"true"`
	DiscordUrl           string  `yaml:"discordUrl"                                          split_words:"true"`
	GuildId              string  `yaml:"guildId"                                             split_words:"true"`
	RoleId               string  `yaml:"roleId"                                              split_words:"true"`
	BindAddr             string  `yaml:"bindAddr"                                            split_words:"true"`
	FastInterval         string  `yaml:"fastInterval"                                        split_words:"true"`
	SlowInterval         string  `yaml:"slowInterval"                                        split_words:"true"`
	ExpiryWindow         string  `yaml:"expiryWindow"                                        split_words:"true"`
	RetentionWindow      string  `yaml:"retentionWindow"                                     split_words:"true"`
	ShutdownTimeout      string  `yaml:"shutdownTimeout"                                     split_words:"true"`
	LookupRateLimit      float64 `yaml:"lookupRateLimit"                                     split_words:"true"`
	MetricsPort          uint    `yaml:"metricsPort"                                         split_words:"true"`
	Tracing              bool    `yaml:"tracing"`
	TracingStdout        bool    `yaml:"tracingStdout"                                       split_words:"true"`
}

var globalConfig = &Config{
	StorePlugin:     DefaultStorePlugin,
	BindAddr:        "0.0.0.0",
	MetricsPort:     12799,
	ShutdownTimeout: DefaultShutdownTimeout,
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.vouch/vouch.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".vouch", "vouch.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/vouch/vouch.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/vouch/vouch.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}

		// First unmarshal into temp config to handle the store plugin
		// section
		var tempCfg tempConfig
		err = yaml.Unmarshal(buf, &tempCfg)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}

		// If config section exists, use it for main config
		if tempCfg.Config != nil {
			// Overlay config values onto existing defaults
			configBytes, err := yaml.Marshal(tempCfg.Config)
			if err != nil {
				return nil, fmt.Errorf("error re-marshalling config: %w", err)
			}
			err = yaml.Unmarshal(configBytes, globalConfig)
			if err != nil {
				return nil, fmt.Errorf("error parsing config section: %w", err)
			}
		} else {
			// Otherwise unmarshal the whole file as main config
			err = yaml.Unmarshal(buf, globalConfig)
			if err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		}

		// Process store plugin configuration
		if tempCfg.Store != nil {
			if err := plugin.ProcessConfig(tempCfg.Store); err != nil {
				return nil, fmt.Errorf(
					"error processing store plugin config: %w",
					err,
				)
			}
		}
	}
	// Process environment variables
	err := envconfig.Process("vouch", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}

	// Process store plugin environment variables
	err = plugin.ProcessEnvVars()
	if err != nil {
		return nil, fmt.Errorf(
			"error processing plugin environment variables: %w",
			err,
		)
	}

	// Resolve file-based secrets
	if globalConfig.MembershipApiKey == "" &&
		globalConfig.MembershipApiKeyFile != "" {
		val, err := secrets.LoadFile(globalConfig.MembershipApiKeyFile)
		if err != nil {
			return nil, fmt.Errorf("membership API key: %w", err)
		}
		globalConfig.MembershipApiKey = val
	}
	if globalConfig.DiscordToken == "" &&
		globalConfig.DiscordTokenFile != "" {
		val, err := secrets.LoadFile(globalConfig.DiscordTokenFile)
		if err != nil {
			return nil, fmt.Errorf("discord token: %w", err)
		}
		globalConfig.DiscordToken = val
	}

	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}
