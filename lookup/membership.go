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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const DefaultMembershipBaseUrl = "https://api.hypixel.net"

// MembershipResult is the outcome of a successful membership lookup
type MembershipResult struct {
	JoinedAt      *time.Time
	GroupName     string
	Rank          string
	InTargetGroup bool
}

type MembershipClientConfig struct {
	Logger  *slog.Logger
	Limiter *rate.Limiter
	BaseUrl string
	// ApiKey authenticates against the guild API
	ApiKey string
	// TargetGroupId is the guild the subject must belong to
	TargetGroupId string
	Timeout       time.Duration
}

// MembershipClient checks guild membership and rank for a resolved
// account via a Hypixel-style guild API
type MembershipClient struct {
	config     MembershipClientConfig
	httpClient *http.Client
}

func NewMembershipClient(cfg MembershipClientConfig) *MembershipClient {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.BaseUrl == "" {
		cfg.BaseUrl = DefaultMembershipBaseUrl
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultLookupTimeout
	}
	if cfg.Limiter == nil {
		cfg.Limiter = rate.NewLimiter(rate.Every(time.Second), 1)
	}
	cfg.Logger = cfg.Logger.With("component", "lookup")
	return &MembershipClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Lookup checks whether the given account id belongs to the target guild
// and returns rank and join metadata when it does. Returns ErrNoGroup or
// a WrongGroupError as semantic negatives.
func (c *MembershipClient) Lookup(
	ctx context.Context,
	accountId string,
) (*MembershipResult, error) {
	if err := c.config.Limiter.Wait(ctx); err != nil {
		return nil, classifyTransport("membership lookup", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	reqUrl := fmt.Sprintf(
		"%s/guild?%s",
		c.config.BaseUrl,
		url.Values{
			"key":    []string{c.config.ApiKey},
			"player": []string{accountId},
		}.Encode(),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqUrl, nil)
	if err != nil {
		return nil, UpstreamError{Op: "membership lookup", Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport("membership lookup", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, UpstreamError{
			Op:         "membership lookup",
			StatusCode: resp.StatusCode,
		}
	}
	var respBody struct {
		Guild *struct {
			Id      string `json:"_id"`
			Name    string `json:"name"`
			Members []struct {
				Uuid   string `json:"uuid"`
				Rank   string `json:"rank"`
				Joined int64  `json:"joined"`
			} `json:"members"`
		} `json:"guild"`
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return nil, UpstreamError{Op: "membership lookup", Err: err}
	}
	if !respBody.Success {
		return nil, UpstreamError{
			Op:  "membership lookup",
			Err: errors.New("guild API request unsuccessful"),
		}
	}
	if respBody.Guild == nil {
		return nil, ErrNoGroup
	}
	if respBody.Guild.Id != c.config.TargetGroupId {
		return nil, WrongGroupError{GroupName: respBody.Guild.Name}
	}
	result := &MembershipResult{
		InTargetGroup: true,
		GroupName:     respBody.Guild.Name,
	}
	for _, member := range respBody.Guild.Members {
		if member.Uuid != accountId {
			continue
		}
		result.Rank = member.Rank
		if member.Joined > 0 {
			joinedAt := time.UnixMilli(member.Joined).UTC()
			result.JoinedAt = &joinedAt
		}
		break
	}
	c.config.Logger.Debug(
		"membership lookup succeeded",
		"id", accountId,
		"guild", result.GroupName,
		"rank", result.Rank,
	)
	return result, nil
}
