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
	"context"
	"log"
	"time"
)

// Service wraps a Provider with the supervision state machine: enabling,
// starting, health checking, rate limited self-healing, and logging.
// Applications interact with services only through this type.
//
// Service methods are not thread safe until the service is added to a
// Manager.  From then on the Manager's lock protects all state.
//
// The logical states are:
//
//	              +------------+
//	    +--------->  Disabled  <--------+
//	    |         +-----+------+        |
//	    |               | Enable        |
//	+---+----+    +-----V------+        |
//	|        |    |            |        | Disable
//	| Failed +---->  Starting  |        |
//	|        |    |            |        |
//	+---A----+    +-----+------+        |
//	    |               |               |
//	    |           +---V---+           |
//	    +-----------+  Run  +-----------+
//	     Check/exit +-------+
//
// A failed service with the restart property set is started again by the
// manager's monitor, subject to the rate limit.
type Service struct {
	prov       Provider
	mgr        *Manager
	name       string
	desc       string
	enabled    bool
	running    bool
	stopping   bool
	failed     bool
	restart    bool
	checking   bool
	err        error
	stamp      time.Time
	started    time.Time
	reason     string
	starts     int
	restarts   int
	rateLog    bool
	rateLimit  int
	ratePeriod time.Duration
	startTimes []time.Time
	notify     func()
	serial     int64
	slog       *Log
	mlog       *MultiLogger
	mgrLog     *log.Logger
}

// Name returns the service name.  For descriptor backed services this is
// the app name, which is unique within a manager.
func (s *Service) Name() string {
	return s.name
}

// Description returns a short description of the service.
func (s *Service) Description() string {
	return s.desc
}

// Status returns the most recent status message, and the time when the
// status was recorded.
func (s *Service) Status() (string, time.Time) {
	if m := s.mgr; m != nil {
		m.lock()
		defer m.unlock()
	}
	return s.reason, s.stamp
}

// Enabled checks if a service is enabled.
func (s *Service) Enabled() bool {
	m := s.mgr
	if m == nil {
		return false
	}
	m.lock()
	defer m.unlock()
	return s.enabled
}

// Running checks if a service is running.  This will be false if the
// service has failed for any reason.
func (s *Service) Running() bool {
	m := s.mgr
	if m == nil {
		return false
	}
	m.lock()
	defer m.unlock()
	return s.running && !s.stopping
}

// Failed returns true if the service is in a failure state.
func (s *Service) Failed() bool {
	m := s.mgr
	if m == nil {
		return false
	}
	m.lock()
	defer m.unlock()
	return s.failed
}

// Restarts returns how many times the service has been started again since
// it was enabled.
func (s *Service) Restarts() int {
	if m := s.mgr; m != nil {
		m.lock()
		defer m.unlock()
	}
	return s.restarts
}

// Uptime is the time since the last successful start, or zero when the
// service is not running.
func (s *Service) Uptime() time.Duration {
	if m := s.mgr; m != nil {
		m.lock()
		defer m.unlock()
	}
	if !s.running {
		return 0
	}
	return time.Since(s.started)
}

// Serial changes whenever the service changes state.
func (s *Service) Serial() int64 {
	if m := s.mgr; m != nil {
		m.lock()
		defer m.unlock()
	}
	return s.serial
}

// Enable enables the service and starts it.
func (s *Service) Enable() error {
	if s.mgr == nil {
		return ErrNoManager
	}
	s.mgr.lock()
	defer s.mgr.unlock()

	if s.enabled {
		return nil
	}
	s.logf("Enabling service %s", s.name)
	s.enabled = true
	s.starts = 0
	s.restarts = 0
	s.setStatus("Waiting to start")
	s.start("Enabled service")
	return nil
}

// Disable disables the service, stopping it.  It also clears the error
// state.
func (s *Service) Disable() error {
	if s.mgr == nil {
		return ErrNoManager
	}
	s.mgr.lock()
	defer s.mgr.unlock()

	if !s.enabled {
		return nil
	}
	s.logf("Disabling service %s", s.name)
	s.enabled = false
	s.failed = false
	s.err = nil
	s.stop("Disabled service")
	s.setStatus("Disabled service")
	return nil
}

// Restart stops and starts the service again, clearing any failure.  It
// does nothing to a disabled service.
func (s *Service) Restart() error {
	return s.restartFor("Restarted service")
}

func (s *Service) restartFor(detail string) error {
	if s.mgr == nil {
		return ErrNoManager
	}
	s.mgr.lock()
	defer s.mgr.unlock()

	if !s.enabled {
		return nil
	}
	s.logf("Restarting service %s: %s", s.name, detail)
	s.stop(detail)
	s.starts = 0
	s.failed = false
	s.err = nil
	s.restarts++
	s.start(detail)
	if s.failed {
		return s.err
	}
	return nil
}

// Clear clears any error condition in the service, and starts it if it is
// enabled but not running.
func (s *Service) Clear() {
	if s.mgr == nil {
		return
	}
	s.mgr.lock()
	defer s.mgr.unlock()

	if s.failed {
		s.logf("Clearing fault on %s", s.name)
		s.setStatus("Cleared fault")
	}
	s.starts = 0
	s.failed = false
	s.err = nil
	s.start("Cleared fault")
}

// Check runs the provider's health check.  If it fails, the service is
// stopped and put into the failed state, and the error is returned.
func (s *Service) Check() error {
	if s.mgr == nil {
		return ErrNoManager
	}
	s.mgr.lock()
	defer s.mgr.unlock()
	return s.checkService()
}

func (s *Service) SetProperty(n PropertyName, v interface{}) error {
	if m := s.mgr; m != nil {
		m.lock()
		defer m.unlock()
	}

	switch n {
	case PropLogger:
		if v, ok := v.(*log.Logger); ok {
			s.mlog.AddLogger(v)
			return nil
		}
		return ErrBadPropType
	case PropRestart:
		v, ok := v.(bool)
		if !ok {
			return ErrBadPropType
		}
		s.restart = v
	case PropRateLimit:
		v, ok := v.(int)
		if !ok {
			return ErrBadPropType
		}
		s.starts = 0
		s.startTimes = nil
		if v > 0 {
			s.startTimes = make([]time.Time, v)
		}
		s.rateLimit = v
	case PropRatePeriod:
		v, ok := v.(time.Duration)
		if !ok {
			return ErrBadPropType
		}
		s.starts = 0
		s.ratePeriod = v
	case PropName:
		if s.mgr != nil {
			return ErrPropReadOnly
		}
		v, ok := v.(string)
		if !ok {
			return ErrBadPropType
		}
		s.name = v
	case PropDescription:
		v, ok := v.(string)
		if !ok {
			return ErrBadPropType
		}
		s.desc = v
	case PropNotify:
		// The provider's notify hook belongs to us (see NewService).
		v, ok := v.(func())
		if !ok {
			return ErrBadPropType
		}
		s.notify = v
		return nil
	default:
		return s.prov.SetProperty(n, v)
	}

	// The provider sees properties we handled, but gets no veto.
	s.prov.SetProperty(n, v)
	return nil
}

func (s *Service) GetProperty(n PropertyName) (interface{}, error) {
	if m := s.mgr; m != nil {
		m.lock()
		defer m.unlock()
	}

	switch n {
	case PropLogger:
		return s.mlog.Logger(), nil
	case PropRestart:
		return s.restart, nil
	case PropRateLimit:
		return s.rateLimit, nil
	case PropRatePeriod:
		return s.ratePeriod, nil
	case PropName:
		return s.name, nil
	case PropDescription:
		return s.desc, nil
	case PropNotify:
		return s.notify, nil
	}
	return s.prov.Property(n)
}

// GetLog returns the service log records newer than the last ID seen (see
// Log.Records).
func (s *Service) GetLog(last int64) ([]LogRecord, int64) {
	return s.slog.Records(last)
}

// WatchLog waits for the service log to change (see Log.Watch).
func (s *Service) WatchLog(ctx context.Context, last int64) int64 {
	return s.slog.Watch(ctx, last)
}

// setManager is called with the manager lock held, when the service is
// added to the manager.
func (s *Service) setManager(mgr *Manager) {
	if s.mgr != nil {
		// This is a serious programmer mistake
		panic("Already added to a manager")
	}
	s.mgrLog = log.New(mgr.mlog, "["+s.name+"] ", 0)
	s.mlog.AddLogger(s.mgrLog)
	s.mgr = mgr
	s.setStatus("Added service")
	s.logf("Added service %s to %s: %s", s.name, mgr.Name(), s.desc)
	mgr.services[s.name] = s
}

func (s *Service) delManager() {
	if s.mgr == nil {
		return
	}
	delete(s.mgr.services, s.name)
	s.mlog.DelLogger(s.mgrLog)
	s.setStatus("Removed service")
	s.mgr = nil
}

func (s *Service) logf(fmt string, v ...interface{}) {
	s.mlog.Logger().Printf(fmt, v...)
}

// setStatus records a status change.  Call with the manager lock held.
func (s *Service) setStatus(reason string) {
	s.reason = reason
	s.stamp = time.Now()
	if m := s.mgr; m != nil {
		s.serial = m.bumpSerial()
	}
	runningGauge.WithLabelValues(s.name).Set(boolGauge(s.running))
}

func (s *Service) start(detail string) {
	if s.running || s.stopping || !s.enabled {
		return
	}
	if e := s.tooQuickly(); e != nil {
		return
	}
	if s.rateLimit > 0 {
		s.startTimes[s.starts%s.rateLimit] = time.Now()
	}
	s.starts++
	if e := s.prov.Start(); e != nil {
		s.logf("Failed to start %s: %v", s.name, e)
		s.err = e
		s.failed = true
		serviceFailures.WithLabelValues(s.name).Inc()
		s.setStatus("Failed to start: " + e.Error())
		return
	}
	s.running = true
	s.failed = false
	s.err = nil
	s.started = time.Now()
	serviceStarts.WithLabelValues(s.name).Inc()
	s.logf("Started %s: %s", s.name, detail)
	s.setStatus("Started: " + detail)
}

func (s *Service) stop(detail string) {
	if !s.running || s.stopping {
		return
	}
	s.stopping = true
	s.prov.Stop()
	s.running = false
	s.stopping = false
	s.logf("Stopped %s: %s", s.name, detail)
	s.setStatus("Stopped: " + detail)
}

func (s *Service) checkService() error {
	if s.failed {
		return s.err
	}
	if !s.running {
		return ErrNotRunning
	}
	s.checking = true
	defer func() { s.checking = false }()
	if e := s.prov.Check(); e != nil {
		s.logf("Service %s faulted: %v", s.name, e)
		s.failed = true
		s.err = e
		serviceFailures.WithLabelValues(s.name).Inc()
		s.stop("Faulted: " + e.Error())
		return e
	}
	return nil
}

// A service is restarting too quickly if it starts more than rateLimit
// times within ratePeriod.  Once that threshold is hit, we wait for a full
// additional period before starting again, halving the effective rate for
// a misbehaving service.
func (s *Service) tooQuickly() error {
	if s.rateLimit == 0 || s.starts < s.rateLimit {
		return nil
	}

	idx := (s.starts - 1) % s.rateLimit
	end := s.startTimes[idx]
	if time.Now().Before(end.Add(s.ratePeriod)) {
		if !s.rateLog {
			s.logf("Service %s restarting too quickly", s.name)
			s.setStatus(ErrRateLimited.Error())
		}
		s.rateLog = true
		return ErrRateLimited
	}

	if !s.rateLog {
		return nil
	}

	// Still cooling down from an earlier limit?
	idx = (s.starts - 2) % s.rateLimit
	end = s.startTimes[idx]
	if time.Now().Before(end.Add(s.ratePeriod)) {
		return ErrRateLimited
	}
	s.rateLog = false
	return nil
}

// selfHeal restarts a failed service that has the restart property.  A
// start refused by the rate limit leaves the service failed, so that the
// monitor tries again once the period has passed.  Call with the manager
// lock held.
func (s *Service) selfHeal() {
	if !s.failed || !s.restart || !s.enabled {
		return
	}
	if e := s.tooQuickly(); e != nil {
		return
	}
	s.logf("Attempting self-healing")
	s.restarts++
	s.start("Self-healing attempt")
}

// doNotify is handed to the provider as its PropNotify hook.  Providers
// call it from their own goroutines when they notice a change, e.g. a
// process exit, so that we can react without waiting for the monitor.
func (s *Service) doNotify() {
	go func() {
		var cb func()
		if m := s.mgr; m != nil {
			m.lock()
			m.notify(s)
			cb = s.notify
			m.unlock()
		} else {
			cb = s.notify
		}
		if cb != nil {
			go cb()
		}
	}()
}

// NewService allocates a service instance from a Provider.  Providers use
// this in their own constructors, so that applications only ever see a
// Service.
func NewService(p Provider) *Service {
	s := &Service{prov: p}
	s.ratePeriod = time.Minute
	s.rateLimit = 10
	s.startTimes = make([]time.Time, s.rateLimit)
	s.name = p.Name()
	s.desc = p.Description()
	s.mlog = NewMultiLogger()
	s.slog = NewLog(MaxLogRecords)
	s.mlog.AddLogger(log.New(s.slog, "", 0))
	s.prov.SetProperty(PropLogger, log.New(s.mlog, "", 0))
	p.SetProperty(PropNotify, s.doNotify)
	return s
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
