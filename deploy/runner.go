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
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/tycoon-systems/crawlvisor/ecosystem"
)

// Runner runs shell commands on a deploy target.
type Runner interface {
	// Run executes cmd with /bin/sh semantics, copying its output to
	// stdout and stderr.  A non-zero exit status is an error.
	Run(ctx context.Context, cmd string, stdout, stderr io.Writer) error

	// Close releases the connection to the target.
	Close() error
}

// Dialer opens a Runner for a target.
type Dialer func(ctx context.Context, t ecosystem.Target) (Runner, error)

// DefaultDialer runs commands locally for local targets, and over SSH
// otherwise.
func DefaultDialer(ctx context.Context, t ecosystem.Target) (Runner, error) {
	if t.Local() {
		return LocalRunner{}, nil
	}
	return DialSSH(ctx, t, SSHOptions{})
}

// LocalRunner runs commands on this machine.
type LocalRunner struct {
	// Dir is the working directory; empty means the current one.
	Dir string
}

func (r LocalRunner) Run(ctx context.Context, cmd string, stdout, stderr io.Writer) error {
	c := exec.CommandContext(ctx, "/bin/sh", "-c", cmd)
	c.Dir = r.Dir
	c.Stdout = stdout
	c.Stderr = stderr
	c.Cancel = func() error {
		return c.Process.Signal(syscall.SIGTERM)
	}
	c.WaitDelay = 5 * time.Second
	return c.Run()
}

func (LocalRunner) Close() error {
	return nil
}
