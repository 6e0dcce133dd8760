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
	"os"
	"sort"
	"sync"
	"time"

	"github.com/tycoon-systems/crawlvisor/ecosystem"
)

// monitorInterval is a "prime" number of milliseconds, to keep the checks
// from lining up with other periodic activity.
const monitorInterval = time.Millisecond * 587

// Manager supervises a set of services.  It runs a monitor that checks
// every enabled service periodically and heals those that failed, keeps a
// manager wide log, and hands out serial numbers so that clients can wait
// for changes.
type Manager struct {
	services   map[string]*Service
	watchers   map[string]*Watcher
	desc       *ecosystem.Descriptor
	name       string
	logger     *log.Logger
	log        *Log
	mlog       *MultiLogger
	monitoring bool
	done       chan struct{}
	serial     int64
	listSerial int64
	listStamp  time.Time
	createTime time.Time
	updateTime time.Time
	mx         sync.Mutex
	cvs        map[*sync.Cond]bool
}

type ManagerInfo struct {
	Name       string
	Serial     int64
	UpdateTime time.Time
	CreateTime time.Time
}

func (m *Manager) lock() {
	m.mx.Lock()
}

func (m *Manager) unlock() {
	m.mx.Unlock()
}

func (m *Manager) wakeUp() {
	// NB: The lock must be held here, or woken goroutines may not see
	// the updated serial number.
	for cv := range m.cvs {
		cv.Broadcast()
	}
}

// bumpSerial increments the serial and notifies watchers.  It returns
// the new serial number, so that it can be stored in services.
// Call with lock held.
func (m *Manager) bumpSerial() int64 {
	m.updateTime = time.Now()
	m.serial++
	m.wakeUp()
	return m.serial
}

// watchSerial waits for *src to differ from old, or for ctx to be done.
// The current value is returned either way.
func (m *Manager) watchSerial(ctx context.Context, old int64, src *int64) int64 {
	cv := sync.NewCond(&m.mx)
	stop := context.AfterFunc(ctx, func() {
		m.lock()
		cv.Broadcast()
		m.unlock()
	})
	defer stop()

	m.lock()
	m.cvs[cv] = true
	for *src == old && ctx.Err() == nil {
		cv.Wait()
	}
	rv := *src
	delete(m.cvs, cv)
	m.unlock()
	return rv
}

// WatchSerial monitors for a change in the global serial number.
func (m *Manager) WatchSerial(ctx context.Context, old int64) int64 {
	return m.watchSerial(ctx, old, &m.serial)
}

// WatchServices monitors for a change in the list of services.
func (m *Manager) WatchServices(ctx context.Context, old int64) int64 {
	return m.watchSerial(ctx, old, &m.listSerial)
}

// Serial returns the global serial number.  This is incremented
// anytime a service has a state change.
func (m *Manager) Serial() int64 {
	m.lock()
	defer m.unlock()
	return m.serial
}

// Name returns the name the manager was allocated with.
func (m *Manager) Name() string {
	return m.name
}

// GetInfo returns a consistent snapshot of top-level information.
func (m *Manager) GetInfo() *ManagerInfo {
	m.lock()
	defer m.unlock()
	return &ManagerInfo{
		Name:       m.name,
		Serial:     m.serial,
		CreateTime: m.createTime,
		UpdateTime: m.updateTime,
	}
}

// AddService registers a service with the manager.  Service names must be
// unique.
func (m *Manager) AddService(s *Service) error {
	m.lock()
	defer m.unlock()
	if _, ok := m.services[s.name]; ok {
		return ErrDuplicate
	}
	s.setManager(m)
	m.listSerial = m.bumpSerial()
	m.listStamp = time.Now()
	return nil
}

// DeleteService removes a disabled service from the manager.
func (m *Manager) DeleteService(s *Service) error {
	m.lock()
	if s.enabled {
		m.unlock()
		return ErrIsEnabled
	}
	w := m.watchers[s.name]
	delete(m.watchers, s.name)
	s.delManager()
	m.listSerial = m.bumpSerial()
	m.listStamp = time.Now()
	m.unlock()

	if w != nil {
		w.Stop()
	}
	return nil
}

// Services returns all services sorted by name, together with the list
// serial and the time the list last changed.
func (m *Manager) Services() ([]*Service, int64, time.Time) {
	m.lock()
	rv := make([]*Service, 0, len(m.services))
	for _, s := range m.services {
		rv = append(rv, s)
	}
	ts := m.listStamp
	sn := m.listSerial
	m.unlock()
	sort.Slice(rv, func(i, j int) bool { return rv[i].name < rv[j].name })
	return rv, sn, ts
}

// FindService looks a service up by name.
func (m *Manager) FindService(name string) (*Service, error) {
	m.lock()
	defer m.unlock()
	if s, ok := m.services[name]; ok {
		return s, nil
	}
	return nil, ErrNotFound
}

// Watching reports whether a file watcher is attached to the named
// service.
func (m *Manager) Watching(name string) bool {
	m.lock()
	defer m.unlock()
	_, ok := m.watchers[name]
	return ok
}

// Descriptor returns a copy of the descriptor loaded by LoadDescriptor, or
// nil if none was loaded.
func (m *Manager) Descriptor() *ecosystem.Descriptor {
	m.lock()
	defer m.unlock()
	if m.desc == nil {
		return nil
	}
	return m.desc.Clone()
}

// SetLogger establishes where manager messages go, in addition to the
// manager log.  It replaces the default, which writes to stderr.
func (m *Manager) SetLogger(l *log.Logger) {
	if m.logger != nil {
		m.mlog.DelLogger(m.logger)
	}
	m.logger = l
	if l != nil {
		m.mlog.AddLogger(l)
	}
}

func (m *Manager) monitor() {
	tick := time.NewTicker(monitorInterval)
	defer tick.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-tick.C:
		}
		m.lock()
		if m.monitoring {
			for _, s := range m.services {
				if s.enabled {
					if e := s.checkService(); e != nil {
						s.selfHeal()
					}
				}
			}
		}
		m.unlock()
	}
}

// notify is called asynchronously by services when their provider reports
// a change.  It must never run as part of a synchronous Check, which is
// what the checking flag guards against.
func (m *Manager) notify(s *Service) {
	if s.checking {
		return
	}
	if s.enabled {
		if e := s.checkService(); e != nil {
			s.selfHeal()
		}
	}
}

func (m *Manager) logf(format string, v ...interface{}) {
	m.mlog.Logger().Printf(format, v...)
}

func (m *Manager) StopMonitoring() {
	m.lock()
	m.monitoring = false
	m.unlock()
	m.logf("*** Crawlvisor stopping monitoring: %s ***", m.name)
}

func (m *Manager) StartMonitoring() {
	m.logf("*** Crawlvisor starting monitoring: %s ***", m.name)
	m.lock()
	m.monitoring = true
	m.unlock()
}

// Shutdown stops every watcher and service, ends monitoring, and removes
// all services from the manager.  The manager cannot be reused.
func (m *Manager) Shutdown() {
	m.lock()
	watchers := m.watchers
	m.watchers = make(map[string]*Watcher)
	m.unlock()
	for _, w := range watchers {
		w.Stop()
	}

	m.lock()
	m.monitoring = false
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	for _, s := range m.services {
		s.enabled = false
		s.stop("Shutting down")
		s.delManager()
	}
	m.listSerial = m.bumpSerial()
	m.unlock()
	m.logf("*** Crawlvisor shut down: %s ***", m.name)
}

func (m *Manager) GetLog(last int64) ([]LogRecord, int64) {
	return m.log.Records(last)
}

func (m *Manager) WatchLog(ctx context.Context, old int64) int64 {
	return m.log.Watch(ctx, old)
}

func NewManager(name string) *Manager {
	if name == "" {
		name = "crawlvisor"
	}
	// The origin serial number is the current time in nsec.  A restarted
	// manager then never hands out a serial a client already cached,
	// assuming fewer than one change per nanosecond.
	m := &Manager{name: name, serial: time.Now().UnixNano()}
	m.services = make(map[string]*Service)
	m.watchers = make(map[string]*Watcher)
	m.cvs = make(map[*sync.Cond]bool)
	m.done = make(chan struct{})
	m.createTime = time.Now()
	m.updateTime = m.createTime
	m.listSerial = m.serial
	m.mlog = NewMultiLogger()
	m.log = NewLog(MaxLogRecords)
	m.mlog.AddLogger(log.New(m.log, "", 0))
	m.SetLogger(log.New(os.Stderr, "", log.LstdFlags))
	go m.monitor()
	return m
}
