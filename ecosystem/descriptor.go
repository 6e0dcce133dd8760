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

// Package ecosystem describes the deployment descriptor consumed by
// crawlvisor.  A descriptor names one or more applications (how to launch
// them, what environment they get, whether file changes restart them) and
// one or more deploy targets (where the source is pulled from, and where
// it is checked out).
//
// The layout follows the familiar process-manager "ecosystem" file:
//
//	{
//	  "apps": [
//	    {
//	      "name": "tycoon-crawler",
//	      "script": "run_scraper.sh",
//	      "interpreter": "/bin/bash",
//	      "env": {"NODE_ENV": "production"},
//	      "watch": true,
//	      "ignore_watch": ["node_modules", "logs"]
//	    }
//	  ],
//	  "deploy": {
//	    "production": {
//	      "host": "3.22.158.110",
//	      "repo": "https://github.com/...",
//	      "path": "/home/ubuntu/...",
//	      "ref": "origin/main"
//	    }
//	  }
//	}
//
// Descriptors may also be written as YAML or TOML with the same keys.
// A loaded descriptor is never modified; accessors hand out copies.
package ecosystem

import (
	"net"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Production is the name of the canonical deploy target.
const Production = "production"

const (
	DefaultMaxRestarts = 10
	DefaultKillTimeout = 10 * time.Second
	DefaultWatchDelay  = time.Second
)

// Descriptor is the whole deployment descriptor.
type Descriptor struct {
	Apps   []App             `json:"apps" yaml:"apps" toml:"apps"`
	Deploy map[string]Target `json:"deploy,omitempty" yaml:"deploy,omitempty" toml:"deploy,omitempty"`
}

// App describes a single supervised process.
type App struct {
	Name        string            `json:"name" yaml:"name" toml:"name"`
	Script      string            `json:"script" yaml:"script" toml:"script"`
	Interpreter string            `json:"interpreter" yaml:"interpreter" toml:"interpreter"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	Cwd         string            `json:"cwd,omitempty" yaml:"cwd,omitempty" toml:"cwd,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
	Watch       bool              `json:"watch,omitempty" yaml:"watch,omitempty" toml:"watch,omitempty"`
	IgnoreWatch []string          `json:"ignore_watch,omitempty" yaml:"ignore_watch,omitempty" toml:"ignore_watch,omitempty"`

	// Restart policy.  Zero values select the defaults.
	AutoRestart *bool `json:"autorestart,omitempty" yaml:"autorestart,omitempty" toml:"autorestart,omitempty"`
	MaxRestarts int   `json:"max_restarts,omitempty" yaml:"max_restarts,omitempty" toml:"max_restarts,omitempty"`
	KillTimeout int   `json:"kill_timeout,omitempty" yaml:"kill_timeout,omitempty" toml:"kill_timeout,omitempty"` // msec
	WatchDelay  int   `json:"watch_delay,omitempty" yaml:"watch_delay,omitempty" toml:"watch_delay,omitempty"`    // msec
}

// Target is a named remote environment for pull based deployment.
type Target struct {
	Host       string `json:"host" yaml:"host" toml:"host"`
	Repo       string `json:"repo" yaml:"repo" toml:"repo"`
	Path       string `json:"path" yaml:"path" toml:"path"`
	Ref        string `json:"ref" yaml:"ref" toml:"ref"`
	User       string `json:"user,omitempty" yaml:"user,omitempty" toml:"user,omitempty"`
	Port       int    `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty"`
	Key        string `json:"key,omitempty" yaml:"key,omitempty" toml:"key,omitempty"`
	PostDeploy string `json:"post-deploy,omitempty" yaml:"post-deploy,omitempty" toml:"post-deploy,omitempty"`
}

// AppNames returns the application names, in declaration order.
func (d *Descriptor) AppNames() []string {
	names := make([]string, 0, len(d.Apps))
	for _, a := range d.Apps {
		names = append(names, a.Name)
	}
	return names
}

// App looks up an application by name.
func (d *Descriptor) App(name string) (App, bool) {
	for _, a := range d.Apps {
		if a.Name == name {
			return a.clone(), true
		}
	}
	return App{}, false
}

// Target looks up a deploy target by environment name.
func (d *Descriptor) Target(env string) (Target, bool) {
	t, ok := d.Deploy[env]
	return t, ok
}

// Environments returns the deploy target names, sorted.
func (d *Descriptor) Environments() []string {
	envs := make([]string, 0, len(d.Deploy))
	for e := range d.Deploy {
		envs = append(envs, e)
	}
	sort.Strings(envs)
	return envs
}

// Clone returns a deep copy.
func (d *Descriptor) Clone() *Descriptor {
	nd := &Descriptor{}
	if d.Apps != nil {
		nd.Apps = make([]App, 0, len(d.Apps))
		for _, a := range d.Apps {
			nd.Apps = append(nd.Apps, a.clone())
		}
	}
	if d.Deploy != nil {
		nd.Deploy = make(map[string]Target, len(d.Deploy))
		for k, v := range d.Deploy {
			nd.Deploy[k] = v
		}
	}
	return nd
}

func (a App) clone() App {
	if a.Args != nil {
		a.Args = append([]string{}, a.Args...)
	}
	if a.IgnoreWatch != nil {
		a.IgnoreWatch = append([]string{}, a.IgnoreWatch...)
	}
	if a.Env != nil {
		env := make(map[string]string, len(a.Env))
		for k, v := range a.Env {
			env[k] = v
		}
		a.Env = env
	}
	if a.AutoRestart != nil {
		v := *a.AutoRestart
		a.AutoRestart = &v
	}
	return a
}

// WorkDir returns the directory the app runs in.  A relative cwd is
// resolved against base, and an empty one means base itself.
func (a App) WorkDir(base string) string {
	if a.Cwd == "" {
		return base
	}
	if filepath.IsAbs(a.Cwd) {
		return a.Cwd
	}
	return filepath.Join(base, a.Cwd)
}

// Environ returns the app environment as sorted KEY=VALUE pairs.
func (a App) Environ() []string {
	keys := make([]string, 0, len(a.Env))
	for k := range a.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+a.Env[k])
	}
	return env
}

// Restarts reports whether the app is restarted after it fails.
func (a App) Restarts() bool {
	if a.AutoRestart == nil {
		return true
	}
	return *a.AutoRestart
}

// RestartLimit is the number of starts permitted per minute.
func (a App) RestartLimit() int {
	if a.MaxRestarts <= 0 {
		return DefaultMaxRestarts
	}
	return a.MaxRestarts
}

func (a App) KillTimeoutDuration() time.Duration {
	if a.KillTimeout <= 0 {
		return DefaultKillTimeout
	}
	return time.Duration(a.KillTimeout) * time.Millisecond
}

func (a App) WatchDelayDuration() time.Duration {
	if a.WatchDelay <= 0 {
		return DefaultWatchDelay
	}
	return time.Duration(a.WatchDelay) * time.Millisecond
}

// Address returns host:port for the SSH connection.
func (t Target) Address() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Local reports whether the target is this machine.
func (t Target) Local() bool {
	switch t.Host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// SourceDir is where the repository is checked out on the target.  Paths
// on the target are always slash separated.
func (t Target) SourceDir() string {
	return path.Join(t.Path, "source")
}
