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

package jsonfile_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blinklabs-io/vouch/record"
	"github.com/blinklabs-io/vouch/store"
	"github.com/blinklabs-io/vouch/store/plugin/jsonfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) (*jsonfile.RecordStoreJsonFile, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "verification_codes.json")
	s, err := jsonfile.New(jsonfile.WithPath(path))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() }) //nolint:errcheck
	return s, path
}

func TestLoadMissingFile(t *testing.T) {
	s, _ := testStore(t)
	records, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLoadEmptyFile(t *testing.T) {
	s, path := testStore(t)
	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))
	records, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLoadCorruptFile(t *testing.T) {
	s, path := testStore(t)
	// Simulates the other actor being mid-write
	require.NoError(
		t,
		os.WriteFile(path, []byte(`{"123456": {"requester`), 0o644),
	)
	_, err := s.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}

func TestRoundTrip(t *testing.T) {
	s, _ := testStore(t)
	joinedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	verifiedAt := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	records := map[string]*record.Record{
		"123456": {
			Code:         "123456",
			RequesterID:  "R1",
			SubjectName:  "Alice",
			CreatedAt:    time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
			Status:       record.StatusVerified,
			ResolvedID:   "U1",
			ResolvedName: "Alice",
			Membership: &record.Membership{
				GroupName: "Test Guild",
				Rank:      "Officer",
				JoinedAt:  &joinedAt,
			},
			VerifiedAt: &verifiedAt,
		},
		"654321": {
			Code:        "654321",
			RequesterID: "R2",
			SubjectName: "Bob",
			CreatedAt:   time.Date(2025, 6, 1, 9, 5, 0, 0, time.UTC),
			Status:      record.StatusPending,
		},
	}
	require.NoError(t, s.Save(records))
	loaded, err := s.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, records["123456"], loaded["123456"])
	assert.Equal(t, records["654321"], loaded["654321"])
}

func TestLoadPopulatesCode(t *testing.T) {
	s, path := testStore(t)
	// Mapping key is the only place the code lives in the file
	raw := []byte(`{
  "111222": {
    "requester_id": "R1",
    "subject_name": "Alice",
    "created_at": "2025-06-01T09:00:00Z",
    "status": "pending"
  }
}`)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	records, err := s.Load()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "111222", records["111222"].Code)
}

func TestSaveSurvivesConcurrentExternalWrite(t *testing.T) {
	s, path := testStore(t)
	records := map[string]*record.Record{
		"123456": record.New("123456", "R1", "Alice"),
	}
	require.NoError(t, s.Save(records))

	// External actor flips the record to submitted between our load and
	// the next save cycle
	external, err := s.Load()
	require.NoError(t, err)
	external["123456"].Status = record.StatusSubmitted
	data, err := json.Marshal(external)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	// Read-merge-write: reload, apply only owned fields, save
	fresh, err := s.Load()
	require.NoError(t, err)
	local := &record.Record{
		Code:        "123456",
		Status:      record.StatusProcessing,
		RequesterID: "R1",
	}
	require.True(t, fresh["123456"].ApplyOwned(local))
	require.NoError(t, s.Save(fresh))

	final, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, record.StatusProcessing, final["123456"].Status)
	// External actor's fields survived the write cycle
	assert.Equal(t, "Alice", final["123456"].SubjectName)
}

func TestFileIsHumanInspectable(t *testing.T) {
	s, path := testStore(t)
	require.NoError(t, s.Save(map[string]*record.Record{
		"123456": record.New("123456", "R1", "Alice"),
	}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Indented JSON, keyed by code
	assert.Contains(t, string(data), "\"123456\"")
	assert.Contains(t, string(data), "\n  ")
}
