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

package secrets_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/blinklabs-io/vouch/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFilePlaintext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("  hunter2\n"), 0o600))
	val, err := secrets.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", val)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := secrets.LoadFile(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading secret file")
}

func TestLoadFileBadEncryptedContent(t *testing.T) {
	// Content claiming SOPS encryption but carrying no valid metadata
	// must fail rather than be returned as the secret
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(
		t,
		os.WriteFile(path, []byte("sops:\n  not: metadata\n"), 0o600),
	)
	_, err := secrets.LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypting secret file")
}

func TestEncryptRequiresMasterKeys(t *testing.T) {
	t.Setenv("VOUCH_GCP_KMS_RESOURCE_ID", "")
	t.Setenv("VOUCH_AWS_KMS_KEY_ARNS", "")
	_, err := secrets.Encrypt([]byte("hunter2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "master key")
}
