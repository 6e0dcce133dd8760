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

package ecosystem

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T, name string) *Descriptor {
	t.Helper()
	d, err := Load(filepath.Join("testdata", name))
	require.NoError(t, err)
	return d
}

func TestLoadLiteralDescriptor(t *testing.T) {
	d := loadFixture(t, "ecosystem.json")

	require.Len(t, d.Apps, 1)
	app := d.Apps[0]
	assert.Equal(t, "tycoon-crawler", app.Name)
	assert.Equal(t, "run_scraper.sh", app.Script)
	assert.Equal(t, "/bin/bash", app.Interpreter)
	assert.Equal(t, map[string]string{"NODE_ENV": "production"}, app.Env)
	assert.True(t, app.Watch)
	assert.Equal(t, []string{"node_modules", "logs"}, app.IgnoreWatch)

	prod, ok := d.Target(Production)
	require.True(t, ok)
	assert.Equal(t, "3.22.158.110", prod.Host)
	assert.Equal(t, "https://github.com/Tycoon-Systems-Corp/tycoon-web-crawler-python-base", prod.Repo)
	assert.Equal(t, "/home/ubuntu/tycoon-web-crawler-python-base", prod.Path)
	assert.Equal(t, "origin/main", prod.Ref)

	assert.NoError(t, d.Validate())
}

func TestRoundTripIsByteEqual(t *testing.T) {
	cases := map[string]Format{
		"ecosystem.json": JSON,
		"ecosystem.yaml": YAML,
		"ecosystem.toml": TOML,
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			orig, err := os.ReadFile(filepath.Join("testdata", name))
			require.NoError(t, err)

			d, err := Decode(bytes.NewReader(orig), f)
			require.NoError(t, err)
			out, err := d.Marshal(f)
			require.NoError(t, err)
			assert.Equal(t, string(orig), string(out))
		})
	}
}

func TestFormatsAgree(t *testing.T) {
	want := loadFixture(t, "ecosystem.json")
	for _, name := range []string{"ecosystem.yaml", "ecosystem.toml"} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want, loadFixture(t, name))
		})
	}
}

func TestEncodeIsIdempotent(t *testing.T) {
	d := loadFixture(t, "ecosystem.json")
	for _, f := range []Format{JSON, YAML, TOML} {
		t.Run(f.String(), func(t *testing.T) {
			first, err := d.Marshal(f)
			require.NoError(t, err)
			again, err := Decode(bytes.NewReader(first), f)
			require.NoError(t, err)
			assert.Equal(t, d, again)
			second, err := again.Marshal(f)
			require.NoError(t, err)
			assert.Equal(t, string(first), string(second))
		})
	}
}

func TestOptionalFieldsSurvive(t *testing.T) {
	off := false
	d := &Descriptor{
		Apps: []App{{
			Name:        "worker",
			Script:      "worker.sh",
			Interpreter: "sh",
			Args:        []string{"--fast"},
			Cwd:         "crawler",
			AutoRestart: &off,
			MaxRestarts: 3,
			KillTimeout: 1500,
			WatchDelay:  200,
		}},
		Deploy: map[string]Target{
			Production: {
				Host:       "example.com",
				Repo:       "git@github.com:acme/worker.git",
				Path:       "/srv/worker",
				Ref:        "origin/main",
				User:       "deploy",
				Port:       2222,
				Key:        "~/.ssh/id_ed25519",
				PostDeploy: "make install",
			},
		},
	}
	for _, f := range []Format{JSON, YAML, TOML} {
		b, err := d.Marshal(f)
		require.NoError(t, err)
		back, err := Decode(bytes.NewReader(b), f)
		require.NoError(t, err)
		assert.Equal(t, d, back, f.String())
	}
	b, err := d.Marshal(JSON)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"post-deploy": "make install"`)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"apps": [], "bogus": 1}`), JSON)
	assert.Error(t, err)
	_, err = Decode(strings.NewReader("apps: []\nbogus: 1\n"), YAML)
	assert.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	cases := map[string]Format{
		"ecosystem.json": JSON,
		"a/b/eco.yaml":   YAML,
		"eco.YML":        YAML,
		"eco.toml":       TOML,
	}
	for path, want := range cases {
		got, err := FormatFromPath(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}
	_, err := FormatFromPath("ecosystem.config.js")
	assert.ErrorIs(t, err, ErrBadFormat)
	_, err = FormatFromPath("ecosystem")
	assert.ErrorIs(t, err, ErrBadFormat)
}

func TestSaveReplacesFile(t *testing.T) {
	d := loadFixture(t, "ecosystem.json")
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0644))

	require.NoError(t, d.Save(path))
	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, d, back)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSaveKeepsPermissions(t *testing.T) {
	d := loadFixture(t, "ecosystem.json")
	dir := t.TempDir()

	fresh := filepath.Join(dir, "fresh.json")
	require.NoError(t, d.Save(fresh))
	fi, err := os.Stat(fresh)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), fi.Mode().Perm())

	shared := filepath.Join(dir, "shared.toml")
	require.NoError(t, os.WriteFile(shared, []byte("stale"), 0664))
	require.NoError(t, os.Chmod(shared, 0664))
	require.NoError(t, d.Save(shared))
	fi, err = os.Stat(shared)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0664), fi.Mode().Perm())
}

func TestAccessorsReturnCopies(t *testing.T) {
	d := loadFixture(t, "ecosystem.json")
	app, ok := d.App("tycoon-crawler")
	require.True(t, ok)
	app.Env["NODE_ENV"] = "development"
	app.IgnoreWatch[0] = "src"

	assert.Equal(t, "production", d.Apps[0].Env["NODE_ENV"])
	assert.Equal(t, "node_modules", d.Apps[0].IgnoreWatch[0])

	c := d.Clone()
	c.Apps[0].Name = "other"
	assert.Equal(t, "tycoon-crawler", d.Apps[0].Name)

	_, ok = d.App("missing")
	assert.False(t, ok)
}

func TestAppDefaults(t *testing.T) {
	a := App{Name: "x", Cwd: "sub"}
	assert.True(t, a.Restarts())
	assert.Equal(t, DefaultMaxRestarts, a.RestartLimit())
	assert.Equal(t, DefaultKillTimeout, a.KillTimeoutDuration())
	assert.Equal(t, DefaultWatchDelay, a.WatchDelayDuration())
	assert.Equal(t, filepath.Join("/srv", "sub"), a.WorkDir("/srv"))
	assert.Equal(t, "/srv", App{}.WorkDir("/srv"))

	a.Env = map[string]string{"B": "2", "A": "1"}
	assert.Equal(t, []string{"A=1", "B=2"}, a.Environ())

	tgt := Target{Host: "3.22.158.110", Path: "/home/ubuntu/app"}
	assert.Equal(t, "3.22.158.110:22", tgt.Address())
	assert.Equal(t, "/home/ubuntu/app/source", tgt.SourceDir())
	assert.False(t, tgt.Local())
	assert.True(t, Target{Host: "localhost"}.Local())
}
