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

package plugin

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

type Plugin interface {
	Start() error
	Stop() error
}

// ErrorPlugin is a plugin that always returns an error on Start()
type ErrorPlugin struct {
	Err error
}

func (e *ErrorPlugin) Start() error {
	return e.Err
}

func (e *ErrorPlugin) Stop() error {
	return nil
}

// NewErrorPlugin creates a new error plugin that returns the given error on Start()
func NewErrorPlugin(err error) Plugin {
	return &ErrorPlugin{Err: err}
}

type PluginOptionType int

const (
	PluginOptionTypeNone PluginOptionType = iota
	PluginOptionTypeString
	PluginOptionTypeBool
	PluginOptionTypeInt
	PluginOptionTypeUint
)

// PluginOption describes a single configurable option for a plugin. Dest
// must be a pointer of the type matching Type; values are populated from
// cmdline flags and environment variables before plugin instantiation.
type PluginOption struct {
	Dest         any
	DefaultValue any
	Name         string
	Description  string
	Type         PluginOptionType
}

type PluginEntry struct {
	NewFromOptionsFunc func() Plugin
	Name               string
	Description        string
	Options            []PluginOption
}

var pluginEntries []PluginEntry

// Register adds a plugin to the registry. It's called from plugin
// package init() functions, before any flag or env processing.
func Register(entry PluginEntry) {
	pluginEntries = append(pluginEntries, entry)
}

// GetPlugins returns all registered plugin entries
func GetPlugins() []PluginEntry {
	return pluginEntries[:]
}

// GetPlugin instantiates the named plugin from the registry, or returns
// nil if no such plugin is registered
func GetPlugin(name string) Plugin {
	for _, entry := range pluginEntries {
		if entry.Name == name {
			return entry.NewFromOptionsFunc()
		}
	}
	return nil
}

// StartPlugin gets a plugin from the registry and starts it
func StartPlugin(name string) (Plugin, error) {
	p := GetPlugin(name)
	if p == nil {
		return nil, fmt.Errorf("store plugin '%s' not found", name)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf(
			"failed to start store plugin '%s': %w",
			name,
			err,
		)
	}
	return p, nil
}

// PopulateCmdlineOptions adds a flag per plugin option to the given flag
// set, in the form --store-<plugin>-<option>
func PopulateCmdlineOptions(fs *pflag.FlagSet) error {
	for _, entry := range pluginEntries {
		for _, opt := range entry.Options {
			flagName := fmt.Sprintf(
				"store-%s-%s",
				entry.Name,
				opt.Name,
			)
			switch opt.Type {
			case PluginOptionTypeString:
				dest, ok := opt.Dest.(*string)
				if !ok {
					return fmt.Errorf(
						"option %s: expected *string destination",
						flagName,
					)
				}
				defaultValue, _ := opt.DefaultValue.(string)
				fs.StringVar(dest, flagName, defaultValue, opt.Description)
			case PluginOptionTypeBool:
				dest, ok := opt.Dest.(*bool)
				if !ok {
					return fmt.Errorf(
						"option %s: expected *bool destination",
						flagName,
					)
				}
				defaultValue, _ := opt.DefaultValue.(bool)
				fs.BoolVar(dest, flagName, defaultValue, opt.Description)
			case PluginOptionTypeInt:
				dest, ok := opt.Dest.(*int)
				if !ok {
					return fmt.Errorf(
						"option %s: expected *int destination",
						flagName,
					)
				}
				defaultValue, _ := opt.DefaultValue.(int)
				fs.IntVar(dest, flagName, defaultValue, opt.Description)
			case PluginOptionTypeUint:
				dest, ok := opt.Dest.(*uint64)
				if !ok {
					return fmt.Errorf(
						"option %s: expected *uint64 destination",
						flagName,
					)
				}
				defaultValue, _ := opt.DefaultValue.(uint64)
				fs.Uint64Var(dest, flagName, defaultValue, opt.Description)
			default:
				return fmt.Errorf(
					"unknown option type %d for option %s",
					opt.Type,
					flagName,
				)
			}
		}
	}
	return nil
}

// ProcessEnvVars overrides plugin options from environment variables of
// the form VOUCH_STORE_<PLUGIN>_<OPTION>
func ProcessEnvVars() error {
	for _, entry := range pluginEntries {
		for _, opt := range entry.Options {
			envName := strings.ToUpper(
				strings.NewReplacer("-", "_").Replace(
					fmt.Sprintf(
						"vouch_store_%s_%s",
						entry.Name,
						opt.Name,
					),
				),
			)
			envValue, ok := os.LookupEnv(envName)
			if !ok {
				continue
			}
			switch opt.Type {
			case PluginOptionTypeString:
				dest, ok := opt.Dest.(*string)
				if !ok {
					return fmt.Errorf(
						"option %s: expected *string destination",
						opt.Name,
					)
				}
				*dest = envValue
			case PluginOptionTypeBool:
				dest, ok := opt.Dest.(*bool)
				if !ok {
					return fmt.Errorf(
						"option %s: expected *bool destination",
						opt.Name,
					)
				}
				boolValue, err := strconv.ParseBool(envValue)
				if err != nil {
					return fmt.Errorf(
						"invalid value for %s: %w",
						envName,
						err,
					)
				}
				*dest = boolValue
			case PluginOptionTypeInt:
				dest, ok := opt.Dest.(*int)
				if !ok {
					return fmt.Errorf(
						"option %s: expected *int destination",
						opt.Name,
					)
				}
				intValue, err := strconv.Atoi(envValue)
				if err != nil {
					return fmt.Errorf(
						"invalid value for %s: %w",
						envName,
						err,
					)
				}
				*dest = intValue
			case PluginOptionTypeUint:
				dest, ok := opt.Dest.(*uint64)
				if !ok {
					return fmt.Errorf(
						"option %s: expected *uint64 destination",
						opt.Name,
					)
				}
				uintValue, err := strconv.ParseUint(envValue, 10, 64)
				if err != nil {
					return fmt.Errorf(
						"invalid value for %s: %w",
						envName,
						err,
					)
				}
				*dest = uintValue
			default:
				return fmt.Errorf(
					"unknown option type %d for option %s",
					opt.Type,
					opt.Name,
				)
			}
		}
	}
	return nil
}

// ProcessConfig populates plugin options from a config file's store
// section, keyed by plugin name and then option name
func ProcessConfig(pluginConfig map[string]map[string]any) error {
	for _, entry := range pluginEntries {
		options, ok := pluginConfig[strings.ToLower(entry.Name)]
		if !ok {
			continue
		}
		for _, opt := range entry.Options {
			value, ok := options[strings.ToLower(opt.Name)]
			if !ok {
				continue
			}
			switch opt.Type {
			case PluginOptionTypeString:
				dest, ok := opt.Dest.(*string)
				if !ok {
					return fmt.Errorf(
						"option %s: expected *string destination",
						opt.Name,
					)
				}
				stringValue, ok := value.(string)
				if !ok {
					return fmt.Errorf(
						"invalid value for %s.%s: expected string",
						entry.Name,
						opt.Name,
					)
				}
				*dest = stringValue
			case PluginOptionTypeBool:
				dest, ok := opt.Dest.(*bool)
				if !ok {
					return fmt.Errorf(
						"option %s: expected *bool destination",
						opt.Name,
					)
				}
				boolValue, ok := value.(bool)
				if !ok {
					return fmt.Errorf(
						"invalid value for %s.%s: expected bool",
						entry.Name,
						opt.Name,
					)
				}
				*dest = boolValue
			case PluginOptionTypeInt:
				dest, ok := opt.Dest.(*int)
				if !ok {
					return fmt.Errorf(
						"option %s: expected *int destination",
						opt.Name,
					)
				}
				intValue, ok := value.(int)
				if !ok {
					return fmt.Errorf(
						"invalid value for %s.%s: expected int",
						entry.Name,
						opt.Name,
					)
				}
				*dest = intValue
			case PluginOptionTypeUint:
				dest, ok := opt.Dest.(*uint64)
				if !ok {
					return fmt.Errorf(
						"option %s: expected *uint64 destination",
						opt.Name,
					)
				}
				switch v := value.(type) {
				case int:
					if v < 0 {
						return fmt.Errorf(
							"invalid value for %s.%s: negative",
							entry.Name,
							opt.Name,
						)
					}
					*dest = uint64(v)
				case uint64:
					*dest = v
				default:
					return fmt.Errorf(
						"invalid value for %s.%s: expected uint",
						entry.Name,
						opt.Name,
					)
				}
			default:
				return fmt.Errorf(
					"unknown option type %d for option %s",
					opt.Type,
					opt.Name,
				)
			}
		}
	}
	return nil
}
