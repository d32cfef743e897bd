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

package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultIdentityBaseUrl = "https://api.mojang.com"
	DefaultLookupTimeout   = 10 * time.Second
)

// Identity is the result of resolving a subject name to a stable account
type Identity struct {
	// ID is the stable account identifier
	ID string
	// Name is the canonical spelling of the account name
	Name string
}

type IdentityClientConfig struct {
	Logger *slog.Logger
	// Limiter bounds the request rate against the rate-limited upstream.
	// Defaults to one request per second.
	Limiter *rate.Limiter
	BaseUrl string
	Timeout time.Duration
}

// IdentityClient resolves human-supplied account names to stable account
// identifiers via a Mojang-style profile API. Calls are timeout-bounded
// and rate-limited; there is no retry within a call.
type IdentityClient struct {
	config     IdentityClientConfig
	httpClient *http.Client
}

func NewIdentityClient(cfg IdentityClientConfig) *IdentityClient {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.BaseUrl == "" {
		cfg.BaseUrl = DefaultIdentityBaseUrl
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultLookupTimeout
	}
	if cfg.Limiter == nil {
		cfg.Limiter = rate.NewLimiter(rate.Every(time.Second), 1)
	}
	cfg.Logger = cfg.Logger.With("component", "lookup")
	return &IdentityClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Resolve looks up the stable account id and canonical name for the given
// subject name. Returns ErrNotFound if no such account exists.
func (c *IdentityClient) Resolve(
	ctx context.Context,
	name string,
) (*Identity, error) {
	if err := c.config.Limiter.Wait(ctx); err != nil {
		return nil, classifyTransport("identity resolution", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	reqUrl := fmt.Sprintf(
		"%s/users/profiles/minecraft/%s",
		c.config.BaseUrl,
		url.PathEscape(name),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqUrl, nil)
	if err != nil {
		return nil, UpstreamError{Op: "identity resolution", Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport("identity resolution", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		// Resolved below
	case http.StatusNotFound, http.StatusNoContent:
		return nil, ErrNotFound
	default:
		return nil, UpstreamError{
			Op:         "identity resolution",
			StatusCode: resp.StatusCode,
		}
	}
	var respBody struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return nil, UpstreamError{Op: "identity resolution", Err: err}
	}
	if respBody.ID == "" {
		return nil, UpstreamError{
			Op:  "identity resolution",
			Err: fmt.Errorf("empty account id in response"),
		}
	}
	c.config.Logger.Debug(
		"resolved subject name",
		"name", name,
		"id", respBody.ID,
		"canonical_name", respBody.Name,
	)
	return &Identity{
		ID:   respBody.ID,
		Name: respBody.Name,
	}, nil
}
