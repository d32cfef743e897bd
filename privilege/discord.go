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

package privilege

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultDiscordBaseUrl = "https://discord.com/api/v10"
	DefaultDiscordTimeout = 10 * time.Second
)

type DiscordSinkConfig struct {
	Logger *slog.Logger
	// Token is the bot token used for authorization
	Token   string
	BaseUrl string
	Timeout time.Duration
}

// DiscordSink grants privileges as Discord guild roles over the REST API.
// Identity is a Discord user id, group a Discord guild id, and privilege
// a role id.
type DiscordSink struct {
	config     DiscordSinkConfig
	httpClient *http.Client
}

func NewDiscordSink(cfg DiscordSinkConfig) *DiscordSink {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.BaseUrl == "" {
		cfg.BaseUrl = DefaultDiscordBaseUrl
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultDiscordTimeout
	}
	cfg.Logger = cfg.Logger.With("component", "privilege")
	return &DiscordSink{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (s *DiscordSink) Has(
	ctx context.Context,
	identity, group, privilege string,
) (bool, error) {
	roles, err := s.memberRoles(ctx, identity, group)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if role == privilege {
			return true, nil
		}
	}
	return false, nil
}

func (s *DiscordSink) Grant(
	ctx context.Context,
	identity, group, privilege string,
) error {
	held, err := s.Has(ctx, identity, group, privilege)
	if err != nil {
		return err
	}
	if held {
		// Already granted
		return nil
	}
	if err := s.modifyRole(ctx, http.MethodPut, identity, group, privilege); err != nil {
		return err
	}
	s.config.Logger.Info(
		"granted privilege",
		"identity", identity,
		"group", group,
		"privilege", privilege,
	)
	return nil
}

func (s *DiscordSink) Revoke(
	ctx context.Context,
	identity, group, privilege string,
) error {
	held, err := s.Has(ctx, identity, group, privilege)
	if err != nil {
		return err
	}
	if !held {
		// Nothing to revoke
		return nil
	}
	if err := s.modifyRole(ctx, http.MethodDelete, identity, group, privilege); err != nil {
		return err
	}
	s.config.Logger.Info(
		"revoked privilege",
		"identity", identity,
		"group", group,
		"privilege", privilege,
	)
	return nil
}

func (s *DiscordSink) memberRoles(
	ctx context.Context,
	identity, group string,
) ([]string, error) {
	reqUrl := fmt.Sprintf(
		"%s/guilds/%s/members/%s",
		s.config.BaseUrl,
		group,
		identity,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqUrl, nil)
	if err != nil {
		return nil, UpstreamError{Err: err}
	}
	req.Header.Set("Authorization", "Bot "+s.config.Token)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, UpstreamError{Err: err}
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		// Decoded below
	case http.StatusNotFound:
		return nil, ErrTargetNotFound
	case http.StatusForbidden:
		return nil, ErrForbidden
	default:
		return nil, UpstreamError{StatusCode: resp.StatusCode}
	}
	var respBody struct {
		Roles []string `json:"roles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return nil, UpstreamError{Err: err}
	}
	return respBody.Roles, nil
}

func (s *DiscordSink) modifyRole(
	ctx context.Context,
	method string,
	identity, group, privilege string,
) error {
	reqUrl := fmt.Sprintf(
		"%s/guilds/%s/members/%s/roles/%s",
		s.config.BaseUrl,
		group,
		identity,
		privilege,
	)
	req, err := http.NewRequestWithContext(ctx, method, reqUrl, nil)
	if err != nil {
		return UpstreamError{Err: err}
	}
	req.Header.Set("Authorization", "Bot "+s.config.Token)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return UpstreamError{Err: err}
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrTargetNotFound
	case http.StatusForbidden:
		return ErrForbidden
	default:
		return UpstreamError{StatusCode: resp.StatusCode}
	}
}
