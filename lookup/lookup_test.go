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

package lookup_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blinklabs-io/vouch/lookup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

func TestIdentityResolve(t *testing.T) {
	srv := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(
				t,
				"/users/profiles/minecraft/Alice",
				r.URL.Path,
			)
			fmt.Fprint(w, `{"id": "U1", "name": "Alice"}`)
		}),
	)
	defer srv.Close()
	client := lookup.NewIdentityClient(lookup.IdentityClientConfig{
		BaseUrl: srv.URL,
		Limiter: testLimiter(),
	})
	identity, err := client.Resolve(context.Background(), "Alice")
	require.NoError(t, err)
	assert.Equal(t, "U1", identity.ID)
	assert.Equal(t, "Alice", identity.Name)
}

func TestIdentityNotFound(t *testing.T) {
	srv := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}),
	)
	defer srv.Close()
	client := lookup.NewIdentityClient(lookup.IdentityClientConfig{
		BaseUrl: srv.URL,
		Limiter: testLimiter(),
	})
	_, err := client.Resolve(context.Background(), "NoSuchPlayer")
	require.Error(t, err)
	assert.True(t, errors.Is(err, lookup.ErrNotFound))
	assert.True(t, lookup.Semantic(err))
}

func TestIdentityUpstreamError(t *testing.T) {
	srv := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}),
	)
	defer srv.Close()
	client := lookup.NewIdentityClient(lookup.IdentityClientConfig{
		BaseUrl: srv.URL,
		Limiter: testLimiter(),
	})
	_, err := client.Resolve(context.Background(), "Alice")
	require.Error(t, err)
	var upstreamErr lookup.UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, http.StatusInternalServerError, upstreamErr.StatusCode)
	assert.False(t, lookup.Semantic(err))
}

func TestIdentityTimeoutDistinctFromNotFound(t *testing.T) {
	srv := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			fmt.Fprint(w, `{"id": "U1", "name": "Alice"}`)
		}),
	)
	defer srv.Close()
	client := lookup.NewIdentityClient(lookup.IdentityClientConfig{
		BaseUrl: srv.URL,
		Timeout: 50 * time.Millisecond,
		Limiter: testLimiter(),
	})
	_, err := client.Resolve(context.Background(), "Alice")
	require.Error(t, err)
	var timeoutErr lookup.TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.False(t, errors.Is(err, lookup.ErrNotFound))
	assert.False(t, lookup.Semantic(err))
	assert.Contains(t, err.Error(), "timed out")
}

func membershipServer(
	t *testing.T,
	guildJson string,
) *httptest.Server {
	t.Helper()
	return httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/guild", r.URL.Path)
			assert.Equal(t, "test-key", r.URL.Query().Get("key"))
			fmt.Fprint(w, guildJson)
		}),
	)
}

func TestMembershipInTargetGroup(t *testing.T) {
	srv := membershipServer(t, `{
		"success": true,
		"guild": {
			"_id": "G1",
			"name": "Test Guild",
			"members": [
				{"uuid": "U1", "rank": "Officer", "joined": 1709294400000}
			]
		}
	}`)
	defer srv.Close()
	client := lookup.NewMembershipClient(lookup.MembershipClientConfig{
		BaseUrl:       srv.URL,
		ApiKey:        "test-key",
		TargetGroupId: "G1",
		Limiter:       testLimiter(),
	})
	result, err := client.Lookup(context.Background(), "U1")
	require.NoError(t, err)
	assert.True(t, result.InTargetGroup)
	assert.Equal(t, "Test Guild", result.GroupName)
	assert.Equal(t, "Officer", result.Rank)
	require.NotNil(t, result.JoinedAt)
	assert.Equal(
		t,
		time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		*result.JoinedAt,
	)
}

func TestMembershipNoGroup(t *testing.T) {
	srv := membershipServer(t, `{"success": true, "guild": null}`)
	defer srv.Close()
	client := lookup.NewMembershipClient(lookup.MembershipClientConfig{
		BaseUrl:       srv.URL,
		ApiKey:        "test-key",
		TargetGroupId: "G1",
		Limiter:       testLimiter(),
	})
	_, err := client.Lookup(context.Background(), "U1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, lookup.ErrNoGroup))
	assert.True(t, lookup.Semantic(err))
}

func TestMembershipWrongGroup(t *testing.T) {
	srv := membershipServer(t, `{
		"success": true,
		"guild": {"_id": "G2", "name": "Other Guild", "members": []}
	}`)
	defer srv.Close()
	client := lookup.NewMembershipClient(lookup.MembershipClientConfig{
		BaseUrl:       srv.URL,
		ApiKey:        "test-key",
		TargetGroupId: "G1",
		Limiter:       testLimiter(),
	})
	_, err := client.Lookup(context.Background(), "U1")
	require.Error(t, err)
	var wrongGroupErr lookup.WrongGroupError
	require.True(t, errors.As(err, &wrongGroupErr))
	assert.Equal(t, "Other Guild", wrongGroupErr.GroupName)
	assert.True(t, lookup.Semantic(err))
}

func TestMembershipUnsuccessfulResponse(t *testing.T) {
	srv := membershipServer(t, `{"success": false}`)
	defer srv.Close()
	client := lookup.NewMembershipClient(lookup.MembershipClientConfig{
		BaseUrl:       srv.URL,
		ApiKey:        "test-key",
		TargetGroupId: "G1",
		Limiter:       testLimiter(),
	})
	_, err := client.Lookup(context.Background(), "U1")
	require.Error(t, err)
	var upstreamErr lookup.UpstreamError
	assert.True(t, errors.As(err, &upstreamErr))
}
