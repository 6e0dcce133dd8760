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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tycoon-systems/crawlvisor"
	"github.com/tycoon-systems/crawlvisor/ecosystem"
	"github.com/tycoon-systems/crawlvisor/rest"
)

const testDescriptor = `{
  "apps": [
    {
      "name": "worker",
      "script": "run.sh",
      "interpreter": "sh",
      "env": {
        "NODE_ENV": "production"
      }
    }
  ],
  "deploy": {
    "production": {
      "host": "localhost",
      "repo": "/srv/git/worker.git",
      "path": "/srv/my app",
      "ref": "origin/main"
    }
  }
}
`

func writeDescriptor(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ecosystem.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.sh"), []byte("sleep 60\n"), 0644))
	return path
}

func execute(args ...string) (string, string, error) {
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestValidate(t *testing.T) {
	path := writeDescriptor(t, testDescriptor)
	out, _, err := execute("validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok (1 apps, deploy targets: production)")

	bad := writeDescriptor(t, `{"apps": [{"name": "worker"}], "deploy": {}}`)
	_, errOut, err := execute("validate", bad)
	assert.ErrorIs(t, err, errInvalid)
	assert.Contains(t, errOut, "apps[0].script")
	assert.Contains(t, errOut, "apps[0].interpreter")
	assert.Contains(t, errOut, "deploy.production")
}

func TestValidatePaths(t *testing.T) {
	path := writeDescriptor(t, strings.Replace(testDescriptor, "run.sh", "missing.sh", 1))
	_, errOut, err := execute("validate", path)
	assert.ErrorIs(t, err, errInvalid)
	assert.Contains(t, errOut, "apps[0].script")

	_, _, err = execute("validate", "--no-paths", path)
	assert.NoError(t, err)
}

func TestFmt(t *testing.T) {
	path := writeDescriptor(t, testDescriptor)

	out, _, err := execute("fmt", path)
	require.NoError(t, err)
	assert.Equal(t, testDescriptor, out)

	out, _, err = execute("fmt", "--to", "yaml", path)
	require.NoError(t, err)
	assert.Contains(t, out, "name: worker")

	out, _, err = execute("fmt", "-t", "toml", "-w", path)
	require.NoError(t, err)
	written := strings.TrimSpace(out)
	assert.Equal(t, strings.TrimSuffix(path, ".json")+".toml", written)
	back, err := ecosystem.Load(written)
	require.NoError(t, err)
	orig, err := ecosystem.Load(path)
	require.NoError(t, err)
	assert.Equal(t, orig, back)

	_, _, err = execute("fmt", "--to", "xml", path)
	assert.ErrorIs(t, err, ecosystem.ErrBadFormat)
}

func TestDeployDryRun(t *testing.T) {
	path := writeDescriptor(t, testDescriptor)
	out, _, err := execute("deploy", "-f", path, "--dry-run")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "setup"))
	assert.Contains(t, lines[0], "'/srv/my app'")
	assert.Contains(t, lines[1], "fetch --all --prune")
	assert.Contains(t, lines[2], "reset --hard origin/main")

	_, _, err = execute("deploy", "-f", path, "--dry-run", "staging")
	assert.Error(t, err)
}

func TestDeployJSONKeepsStdoutClean(t *testing.T) {
	bin := t.TempDir()
	git := "#!/bin/sh\necho \"git $*\"\n[ \"$1\" = clone ] && mkdir -p \"$3\"\nexit 0\n"
	require.NoError(t, os.WriteFile(filepath.Join(bin, "git"), []byte(git), 0755))
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))

	body := fmt.Sprintf(`{
  "apps": [{"name": "worker", "script": "run.sh"}],
  "deploy": {
    "production": {
      "host": "localhost",
      "repo": "/srv/git/worker.git",
      "path": %q,
      "ref": "origin/main",
      "post-deploy": "echo deployed"
    }
  }
}
`, t.TempDir())
	path := writeDescriptor(t, body)

	out, errOut, err := execute("deploy", "-f", path, "--json")
	require.NoError(t, err)

	var res struct {
		Env   string `json:"env"`
		Steps []struct {
			Output string `json:"output"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.Equal(t, "production", res.Env)
	require.Len(t, res.Steps, 4)
	assert.Contains(t, res.Steps[1].Output, "git -C")
	assert.Equal(t, "deployed\n", res.Steps[3].Output)

	assert.Contains(t, errOut, "fetch --all --prune")
	assert.Contains(t, errOut, "deployed")
}

type fakeProv struct {
	name   string
	logger *log.Logger
}

func (p *fakeProv) Name() string        { return p.name }
func (p *fakeProv) Description() string { return "fake " + p.name }
func (p *fakeProv) Start() error {
	p.logger.Printf("fake %s started", p.name)
	return nil
}
func (p *fakeProv) Stop()        {}
func (p *fakeProv) Check() error { return nil }

func (p *fakeProv) Property(n crawlvisor.PropertyName) (interface{}, error) {
	return nil, crawlvisor.ErrBadPropName
}

func (p *fakeProv) SetProperty(n crawlvisor.PropertyName, v interface{}) error {
	if n == crawlvisor.PropLogger {
		p.logger = v.(*log.Logger)
	}
	return nil
}

func withDaemon(t *testing.T) (*crawlvisor.Manager, string) {
	t.Helper()
	m := crawlvisor.NewManager("clitest")
	m.SetLogger(log.New(io.Discard, "", 0))
	d, err := ecosystem.Load(writeDescriptor(t, testDescriptor))
	require.NoError(t, err)
	require.NoError(t, m.LoadDescriptor(d, t.TempDir()))
	require.NoError(t, m.AddService(crawlvisor.NewService(&fakeProv{name: "crawler"})))

	ts := httptest.NewServer(rest.NewHandler(m, nil))
	t.Cleanup(func() {
		ts.Close()
		m.Shutdown()
	})
	return m, ts.URL
}

func TestServiceCommands(t *testing.T) {
	m, addr := withDaemon(t)

	out, _, err := execute("-a", addr, "services")
	require.NoError(t, err)
	assert.Equal(t, "crawler\nworker\n", out)

	_, _, err = execute("-a", addr, "enable", "crawler")
	require.NoError(t, err)
	s, err := m.FindService("crawler")
	require.NoError(t, err)
	assert.True(t, s.Running())

	out, _, err = execute("-a", addr, "status")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "crawler"))
	assert.Contains(t, lines[0], "running")
	assert.Contains(t, lines[1], "disabled")

	out, _, err = execute("-a", addr, "info", "crawler")
	require.NoError(t, err)
	assert.Contains(t, out, "Desc:      fake crawler")
	assert.Contains(t, out, "Status:    running")

	out, _, err = execute("-a", addr, "log", "crawler")
	require.NoError(t, err)
	assert.Contains(t, out, "fake crawler started")

	_, _, err = execute("-a", addr, "restart", "crawler")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Restarts())

	_, _, err = execute("-a", addr, "disable", "crawler")
	require.NoError(t, err)
	assert.False(t, s.Enabled())

	_, _, err = execute("-a", addr, "clear", "crawler")
	require.NoError(t, err)

	_, _, err = execute("-a", addr, "info", "nosuch")
	assert.Error(t, err)
}

func TestEnvironmentAddress(t *testing.T) {
	_, addr := withDaemon(t)
	t.Setenv("CRAWLVISOR_ADDR", addr)
	out, _, err := execute("services")
	require.NoError(t, err)
	assert.Contains(t, out, "worker")
}

func TestFmtRemote(t *testing.T) {
	_, addr := withDaemon(t)
	out, _, err := execute("-a", addr, "fmt", "--remote")
	require.NoError(t, err)
	assert.Equal(t, testDescriptor, out)

	out, _, err = execute("-a", addr, "fmt", "--remote", "--to", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "interpreter: sh")
}

func TestBadAuth(t *testing.T) {
	_, _, err := execute("-u", "nocolon", "services")
	assert.Error(t, err)
}
