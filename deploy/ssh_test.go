// Copyright 2026 The Crawlvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package deploy

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/tycoon-systems/crawlvisor/ecosystem"
)

func writeKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "deploy test")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0600))
	return path
}

func TestAuthNeedsKeyOrAgent(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	_, _, err := authMethods(productionTarget(), "")
	assert.ErrorIs(t, err, ErrNoAuth)

	// An unreachable agent is the same as none.
	_, _, err = authMethods(productionTarget(), filepath.Join(t.TempDir(), "nope.sock"))
	assert.ErrorIs(t, err, ErrNoAuth)
}

func TestAuthWithKey(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	tgt := productionTarget()
	tgt.Key = writeKey(t)
	methods, closer, err := authMethods(tgt, "")
	require.NoError(t, err)
	assert.Len(t, methods, 1)
	assert.Nil(t, closer)

	tgt.Key = filepath.Join(t.TempDir(), "missing")
	_, _, err = authMethods(tgt, "")
	assert.Error(t, err)
}

func TestClientConfig(t *testing.T) {
	kh := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(kh, nil, 0600))

	tgt := productionTarget()
	tgt.User = "ubuntu"
	cfg, err := ClientConfig(tgt, nil, SSHOptions{KnownHosts: kh})
	require.NoError(t, err)
	assert.Equal(t, "ubuntu", cfg.User)
	assert.NotNil(t, cfg.HostKeyCallback)
	assert.NotZero(t, cfg.Timeout)

	_, err = ClientConfig(tgt, nil, SSHOptions{KnownHosts: filepath.Join(t.TempDir(), "absent")})
	assert.Error(t, err)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	p, err := expandHome("~/.ssh/id_ed25519")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".ssh/id_ed25519"), p)

	p, err = expandHome("/etc/ssh/key")
	require.NoError(t, err)
	assert.Equal(t, "/etc/ssh/key", p)
}

func TestDefaultDialerLocal(t *testing.T) {
	r, err := DefaultDialer(context.Background(), ecosystem.Target{Host: "localhost"})
	require.NoError(t, err)
	assert.IsType(t, LocalRunner{}, r)
}
