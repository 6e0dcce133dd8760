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

package crawlvisor

import (
	"bytes"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tycoon-systems/crawlvisor/ecosystem"
)

const (
	PropProcessFailOnExit PropertyName = "_ProcFailOnExit" // bool
	PropProcessStopTime   PropertyName = "_ProcStopTime"   // time.Duration
	PropProcessPid        PropertyName = "_ProcPid"        // int, read-only
	PropProcessDir        PropertyName = "_ProcDir"        // string, read-only
)

// Process is an operating system process, implementing Provider.  A new
// exec.Cmd is built from the template for every start, since an exec.Cmd
// cannot be reused.
type Process struct {
	name       string      // service name, must be set
	desc       string      // description
	path       string      // executable
	args       []string    // argv, including argv[0]
	dir        string      // working directory
	env        []string    // full environment, nil inherits ours
	logger     *log.Logger // log for messages, stdout, and stderr
	reason     error       // why we failed
	failed     bool        // true if we are in failure state
	stopped    bool        // true if we were stopped
	notify     func()      // called when the process exits on its own
	stopTime   time.Duration
	failOnExit bool
	cmd        *exec.Cmd

	lock   sync.Mutex
	waiter sync.WaitGroup
}

// lineWriter hands complete lines of child output to the logger.
type lineWriter struct {
	prefix string
	logger *log.Logger
	buf    []byte
	lock   sync.Mutex
}

func (w *lineWriter) Write(b []byte) (int, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.buf = append(w.buf, b...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.logger.Print(w.prefix, string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(b), nil
}

// flush logs a trailing partial line.
func (w *lineWriter) flush() {
	w.lock.Lock()
	defer w.lock.Unlock()
	if len(w.buf) != 0 {
		w.logger.Print(w.prefix, string(w.buf))
		w.buf = nil
	}
}

func (p *Process) Name() string {
	return p.name
}

func (p *Process) Description() string {
	return p.desc
}

func (p *Process) doWait(cmd *exec.Cmd, outputs ...*lineWriter) {
	e := cmd.Wait()
	for _, w := range outputs {
		w.flush()
	}
	p.lock.Lock()
	exited := false
	if !p.stopped {
		if e != nil {
			p.failed = true
			p.reason = e
			p.logger.Printf("Failed: %v", e)
			exited = true
		} else if p.failOnExit {
			p.reason = ErrUnexpectedExit
			p.failed = true
			p.logger.Printf("Failed: %v", ErrUnexpectedExit)
			exited = true
		}
	}
	notify := p.notify
	p.lock.Unlock()
	p.waiter.Done()

	if exited && notify != nil {
		notify()
	}
}

func (p *Process) Start() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.stopped = false
	p.failed = false
	p.reason = nil

	stdout := &lineWriter{prefix: "stdout> ", logger: p.logger}
	stderr := &lineWriter{prefix: "stderr> ", logger: p.logger}
	cmd := &exec.Cmd{
		Path:   p.path,
		Args:   append([]string{}, p.args...),
		Dir:    p.dir,
		Env:    p.env,
		Stdout: stdout,
		Stderr: stderr,
		// Grandchildren holding our pipes open must not stall Wait.
		WaitDelay: time.Second,
	}

	if e := cmd.Start(); e != nil {
		p.failed = true
		p.reason = e
		return e
	}
	p.cmd = cmd
	p.waiter.Add(1)
	go p.doWait(cmd, stdout, stderr)
	return nil
}

func (p *Process) shutdown() {
	if proc := p.cmd.Process; proc != nil && p.cmd.ProcessState == nil {
		if e := proc.Signal(syscall.SIGTERM); e != nil {
			p.logger.Printf("Failed sending SIGTERM: %v", e)
		}
	}
}

func (p *Process) kill() {
	if p.cmd == nil {
		return
	}
	if proc := p.cmd.Process; proc != nil {
		if e := proc.Kill(); e != nil {
			p.logger.Printf("Failed killing: %v", e)
		}
	}
}

// Stop sends SIGTERM and waits for the process to exit.  If it has not
// exited after the stop time, it is killed.
func (p *Process) Stop() {
	p.lock.Lock()
	p.stopped = true
	if p.cmd != nil {
		var timer *time.Timer
		p.shutdown()
		if p.stopTime > 0 {
			timer = time.AfterFunc(p.stopTime, func() {
				p.logger.Printf("Graceful shutdown timed out")
				p.lock.Lock()
				p.kill()
				p.lock.Unlock()
			})
		}
		p.lock.Unlock()
		p.waiter.Wait()
		p.lock.Lock()
		if timer != nil {
			timer.Stop()
		}
	}
	p.cmd = nil
	p.lock.Unlock()
}

func (p *Process) Check() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.failed {
		return p.reason
	}
	return nil
}

func (p *Process) SetProperty(n PropertyName, v interface{}) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	switch n {
	case PropLogger:
		if v, ok := v.(*log.Logger); ok {
			p.logger = v
			return nil
		}
		return ErrBadPropType
	case PropNotify:
		if v, ok := v.(func()); ok {
			p.notify = v
			return nil
		}
		return ErrBadPropType
	case PropProcessFailOnExit:
		if v, ok := v.(bool); ok {
			p.failOnExit = v
			return nil
		}
		return ErrBadPropType
	case PropProcessStopTime:
		if v, ok := v.(time.Duration); ok {
			p.stopTime = v
			return nil
		}
		return ErrBadPropType
	case PropProcessPid, PropProcessDir:
		return ErrPropReadOnly
	}
	return ErrBadPropName
}

func (p *Process) Property(n PropertyName) (interface{}, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	switch n {
	case PropLogger:
		return p.logger, nil
	case PropProcessFailOnExit:
		return p.failOnExit, nil
	case PropProcessStopTime:
		return p.stopTime, nil
	case PropProcessDir:
		return p.dir, nil
	case PropProcessPid:
		if p.cmd != nil && p.cmd.Process != nil && p.cmd.ProcessState == nil {
			return p.cmd.Process.Pid, nil
		}
		return 0, nil
	}
	return nil, ErrBadPropName
}

// mergeEnv overlays extra KEY=VALUE pairs on base.  Later entries win, and
// the order of first appearance is kept.
func mergeEnv(base, extra []string) []string {
	idx := make(map[string]int, len(base)+len(extra))
	rv := make([]string, 0, len(base)+len(extra))
	for _, kv := range append(append([]string{}, base...), extra...) {
		k := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k = kv[:i]
		}
		if i, ok := idx[k]; ok {
			rv[i] = kv
			continue
		}
		idx[k] = len(rv)
		rv = append(rv, kv)
	}
	return rv
}

// NewProcessFromApp builds a service that runs the app's script under its
// interpreter, in the app's working directory (cwd resolved against dir),
// with the app environment layered over ours.
func NewProcessFromApp(app ecosystem.App, dir string) *Service {
	wd := app.WorkDir(dir)
	interp := app.Interpreter
	if resolved, e := ecosystem.ResolveInterpreter(interp, wd); e == nil {
		interp = resolved
	}
	p := &Process{
		name:       app.Name,
		desc:       app.Interpreter + " " + app.Script,
		path:       interp,
		args:       append([]string{app.Interpreter, app.Script}, app.Args...),
		dir:        wd,
		env:        mergeEnv(os.Environ(), app.Environ()),
		logger:     log.New(os.Stderr, "", log.LstdFlags),
		stopTime:   app.KillTimeoutDuration(),
		failOnExit: true,
	}
	s := NewService(p)
	s.SetProperty(PropRestart, app.Restarts())
	s.SetProperty(PropRateLimit, app.RestartLimit())
	return s
}

// NewProcess wraps an arbitrary command.  Only the Path, Args, Dir and Env
// of cmd are used.
func NewProcess(name string, cmd *exec.Cmd) *Service {
	p := &Process{
		name:     name,
		desc:     name + " process: " + cmd.Path,
		path:     cmd.Path,
		args:     append([]string{}, cmd.Args...),
		dir:      cmd.Dir,
		env:      cmd.Env,
		logger:   log.New(os.Stderr, "", log.LstdFlags),
		stopTime: time.Second * 10,
	}
	if len(p.args) == 0 {
		p.args = []string{cmd.Path}
	}
	return NewService(p)
}
