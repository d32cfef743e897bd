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

package vouch_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	vouch "github.com/blinklabs-io/vouch"
	"github.com/blinklabs-io/vouch/record"
	"github.com/blinklabs-io/vouch/store/plugin/jsonfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	granted map[string]bool
}

func (s *recordingSink) key(identity, group, priv string) string {
	return identity + "/" + group + "/" + priv
}

func (s *recordingSink) Grant(_ context.Context, identity, group, priv string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.granted == nil {
		s.granted = make(map[string]bool)
	}
	s.granted[s.key(identity, group, priv)] = true
	return nil
}

func (s *recordingSink) Revoke(_ context.Context, identity, group, priv string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.granted, s.key(identity, group, priv))
	return nil
}

func (s *recordingSink) Has(_ context.Context, identity, group, priv string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.granted[s.key(identity, group, priv)], nil
}

func newJsonStore(t *testing.T, path string) *jsonfile.RecordStoreJsonFile {
	t.Helper()
	s, err := jsonfile.New(jsonfile.WithPath(path))
	require.NoError(t, err)
	return s
}

func testVerifier(t *testing.T, extraOpts ...vouch.ConfigOptionFunc) (*vouch.Verifier, string) {
	t.Helper()
	storePath := filepath.Join(t.TempDir(), "codes.json")
	opts := []vouch.ConfigOptionFunc{
		vouch.WithRecordStore(newJsonStore(t, storePath)),
		vouch.WithPrivilegeSink(&recordingSink{}),
	}
	opts = append(opts, extraOpts...)
	v, err := vouch.New(vouch.NewConfig(opts...))
	require.NoError(t, err)
	return v, storePath
}

func TestCreateVerification(t *testing.T) {
	v, _ := testVerifier(t)
	ctx := context.Background()

	rec, err := v.CreateVerification(ctx, "R1", "Alice")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, record.StatusPending, rec.Status)
	assert.True(t, record.ValidCode(rec.Code))
	assert.Equal(t, "R1", rec.RequesterID)
	assert.Equal(t, "Alice", rec.SubjectName)

	// A second request for the same requester returns the live record
	rec2, err := v.CreateVerification(ctx, "R1", "Alice")
	require.ErrorIs(t, err, vouch.ErrAlreadyPending)
	require.NotNil(t, rec2)
	assert.Equal(t, rec.Code, rec2.Code)

	// A different requester gets its own code
	rec3, err := v.CreateVerification(ctx, "R2", "Bob")
	require.NoError(t, err)
	assert.NotEqual(t, rec.Code, rec3.Code)
}

func TestConcurrentCreateSingleLiveRecord(t *testing.T) {
	v, _ := testVerifier(t)
	ctx := context.Background()

	const attempts = 10
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := range attempts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = v.CreateVerification(ctx, "R1", "Alice")
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
		} else if !errors.Is(err, vouch.ErrAlreadyPending) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, created)

	rec, err := v.VerificationStatus(ctx, "R1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, record.StatusPending, rec.Status)
}

func TestCancelVerification(t *testing.T) {
	v, _ := testVerifier(t)
	ctx := context.Background()

	_, err := v.CreateVerification(ctx, "R1", "Alice")
	require.NoError(t, err)

	cancelled, err := v.CancelVerification(ctx, "R1")
	require.NoError(t, err)
	assert.True(t, cancelled)

	rec, err := v.VerificationStatus(ctx, "R1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, record.StatusCancelled, rec.Status)

	// Cancelling again is a no-op
	cancelled, err = v.CancelVerification(ctx, "R1")
	require.NoError(t, err)
	assert.False(t, cancelled)

	// A fresh code may now be created
	_, err = v.CreateVerification(ctx, "R1", "Alice")
	require.NoError(t, err)
}

func TestVerificationStatusNone(t *testing.T) {
	v, _ := testVerifier(t)
	rec, err := v.VerificationStatus(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestForceVerify(t *testing.T) {
	v, _ := testVerifier(t)
	ctx := context.Background()

	rec, err := v.CreateVerification(ctx, "R1", "Alice")
	require.NoError(t, err)

	require.NoError(t, v.ForceVerify(ctx, rec.Code))
	got, err := v.VerificationStatus(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusSubmitted, got.Status)

	// Forcing a submitted record again is fine
	require.NoError(t, v.ForceVerify(ctx, rec.Code))

	assert.ErrorIs(
		t,
		v.ForceVerify(ctx, "000000"),
		vouch.ErrCodeNotFound,
	)
}

func TestForceVerifyTerminal(t *testing.T) {
	v, _ := testVerifier(t)
	ctx := context.Background()

	rec, err := v.CreateVerification(ctx, "R1", "Alice")
	require.NoError(t, err)
	_, err = v.CancelVerification(ctx, "R1")
	require.NoError(t, err)

	assert.ErrorIs(
		t,
		v.ForceVerify(ctx, rec.Code),
		vouch.ErrNotForceable,
	)
}

// fakeUpstreams serves both the identity resolution API and the membership
// lookup API for end-to-end tests
func fakeUpstreams(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(
		"GET /users/profiles/minecraft/{name}",
		func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck
				"id":   "U1",
				"name": r.PathValue("name"),
			})
		},
	)
	mux.HandleFunc(
		"GET /guild",
		func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{
				"success": true,
				"guild": {
					"_id": "target-guild",
					"name": "TestGuild",
					"members": [
						{"uuid": "U1", "rank": "Officer", "joined": 1709294400000}
					]
				}
			}`)
		},
	)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEndToEndVerification(t *testing.T) {
	upstreams := fakeUpstreams(t)
	sink := &recordingSink{}
	storePath := filepath.Join(t.TempDir(), "codes.json")
	v, err := vouch.New(vouch.NewConfig(
		vouch.WithRecordStore(newJsonStore(t, storePath)),
		vouch.WithPrivilegeSink(sink),
		vouch.WithIdentityBaseUrl(upstreams.URL),
		vouch.WithMembershipBaseUrl(upstreams.URL),
		vouch.WithMembershipApiKey("test-key"),
		vouch.WithTargetGroupId("target-guild"),
		vouch.WithPrivilegeGroup("G1"),
		vouch.WithPrivilegeId("role-1"),
		vouch.WithLookupRateLimit(1000),
		vouch.WithFastInterval(20*time.Millisecond),
		vouch.WithSlowInterval(time.Hour),
	))
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() {
		runDone <- v.Run()
	}()
	defer func() {
		require.NoError(t, v.Stop())
		select {
		case err := <-runDone:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after Stop")
		}
	}()

	ctx := context.Background()
	rec, err := v.CreateVerification(ctx, "R1", "Alice")
	require.NoError(t, err)

	// Simulate the external actor flipping the record to submitted via its
	// own handle on the shared file
	external := newJsonStore(t, storePath)
	records, err := external.Load()
	require.NoError(t, err)
	require.NoError(
		t,
		records[rec.Code].Transition(record.StatusSubmitted),
	)
	require.NoError(t, external.Save(records))

	require.Eventually(t, func() bool {
		got, err := v.VerificationStatus(ctx, "R1")
		return err == nil && got != nil &&
			got.Status == record.StatusVerified
	}, 5*time.Second, 20*time.Millisecond)

	got, err := v.VerificationStatus(ctx, "R1")
	require.NoError(t, err)
	require.NotNil(t, got.Membership)
	assert.Equal(t, "Officer", got.Membership.Rank)
	assert.Equal(t, "TestGuild", got.Membership.GroupName)
	held, err := sink.Has(ctx, "R1", "G1", "role-1")
	require.NoError(t, err)
	assert.True(t, held)
}
