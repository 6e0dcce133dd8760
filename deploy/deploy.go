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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tycoon-systems/crawlvisor/ecosystem"
)

var ErrUnknownTarget = errors.New("Unknown deploy target")

// StepError reports the step a deploy stopped at.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("deploy step %s: %v", e.Step.Name, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// StepResult is the outcome of one step.
type StepResult struct {
	Step     Step          `json:"step"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Result describes a deploy run.  Steps holds every step that was
// attempted; a failed run ends with the failing step.
type Result struct {
	ID       uuid.UUID    `json:"id"`
	Env      string       `json:"env"`
	Host     string       `json:"host"`
	Ref      string       `json:"ref"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Steps    []StepResult `json:"steps"`
}

// Succeeded reports whether every step ran without error.
func (r *Result) Succeeded() bool {
	for _, s := range r.Steps {
		if s.Error != "" {
			return false
		}
	}
	return len(r.Steps) != 0
}

// Deployer deploys the targets of a descriptor.
type Deployer struct {
	desc   *ecosystem.Descriptor
	dial   Dialer
	logger *zap.Logger
	stdout io.Writer
	stderr io.Writer
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithDialer replaces DefaultDialer.
func WithDialer(dial Dialer) Option {
	return func(d *Deployer) {
		d.dial = dial
	}
}

// WithLogger sets the logger for step progress.
func WithLogger(l *zap.Logger) Option {
	return func(d *Deployer) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithOutput copies command output to the given writers as it arrives,
// in addition to recording it in the result.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(d *Deployer) {
		d.stdout = stdout
		d.stderr = stderr
	}
}

// New returns a Deployer for the targets in desc.  The descriptor is
// copied.
func New(desc *ecosystem.Descriptor, opts ...Option) *Deployer {
	d := &Deployer{
		desc:   desc.Clone(),
		dial:   DefaultDialer,
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// output collects stdout and stderr of a step, which may be written
// concurrently.
type output struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (o *output) Write(b []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.Write(b)
}

func (o *output) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}

func tee(buf *output, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

// Deploy runs the plan for the named target.  It stops at the first
// failing step, which is returned as a *StepError.  The result is returned
// whenever the plan got as far as connecting to the target.
func (d *Deployer) Deploy(ctx context.Context, env string) (*Result, error) {
	t, ok := d.desc.Target(env)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, env)
	}
	if e := t.Validate(env); e != nil {
		return nil, e
	}
	steps, e := Plan(t)
	if e != nil {
		return nil, e
	}

	res := &Result{
		ID:      uuid.New(),
		Env:     env,
		Host:    t.Host,
		Ref:     t.Ref,
		Started: time.Now(),
	}
	logger := d.logger.With(
		zap.String("deploy_id", res.ID.String()),
		zap.String("env", env),
		zap.String("host", t.Host),
	)
	logger.Info("deploy starting", zap.String("repo", t.Repo), zap.String("ref", t.Ref))

	runner, e := d.dial(ctx, t)
	if e != nil {
		deploysTotal.WithLabelValues(env, "failure").Inc()
		logger.Error("connect failed", zap.Error(e))
		return nil, fmt.Errorf("connect to %s: %w", t.Host, e)
	}
	defer runner.Close()

	for _, st := range steps {
		var out output
		sr := StepResult{Step: st, Started: time.Now()}
		logger.Debug("running step", zap.String("step", st.Name), zap.String("command", st.Command))

		e := runner.Run(ctx, st.Command, tee(&out, d.stdout), tee(&out, d.stderr))

		sr.Duration = time.Since(sr.Started)
		sr.Output = out.String()
		stepDuration.WithLabelValues(st.Name).Observe(sr.Duration.Seconds())
		if e != nil {
			sr.Error = e.Error()
			res.Steps = append(res.Steps, sr)
			res.Finished = time.Now()
			deploysTotal.WithLabelValues(env, "failure").Inc()
			logger.Error("step failed", zap.String("step", st.Name), zap.Error(e))
			return res, &StepError{Step: st, Err: e}
		}
		res.Steps = append(res.Steps, sr)
		logger.Info("step done", zap.String("step", st.Name), zap.Duration("duration", sr.Duration))
	}

	res.Finished = time.Now()
	deploysTotal.WithLabelValues(env, "success").Inc()
	logger.Info("deploy finished", zap.Duration("duration", res.Finished.Sub(res.Started)))
	return res, nil
}
