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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, Config{
		Listen:     "127.0.0.1:8321",
		Descriptor: "ecosystem.json",
		Name:       "crawlvisord",
		Enable:     true,
		MaxConns:   64,
	}, cfg)
}

func TestFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crawlvisord.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"listen: 0.0.0.0:9000\ndescriptor: /srv/app/ecosystem.yaml\nmax_conns: 8\n"), 0644))
	t.Setenv("CRAWLVISOR_MAX_CONNS", "16")
	t.Setenv("CRAWLVISOR_ENABLE", "false")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "/srv/app/ecosystem.yaml", cfg.Descriptor)
	assert.Equal(t, 16, cfg.MaxConns)
	assert.False(t, cfg.Enable)
}

func TestOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	v := New()
	v.Set(KeyListen, "localhost:7000")
	v.Set(KeyDevelopment, true)
	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "localhost:7000", cfg.Listen)
	assert.True(t, cfg.Development)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	v := New()
	v.Set(KeyListen, "no-port")
	_, err := Load(v, "")
	assert.Error(t, err)

	v = New()
	v.Set(KeyMaxConns, -1)
	_, err = Load(v, "")
	assert.Error(t, err)

	_, err = Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
