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
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// debounce collects bursts of file events (an editor save, a git checkout)
// into a single restart.
const debounce = 250 * time.Millisecond

// alwaysIgnored holds directories that never trigger a restart.
var alwaysIgnored = []string{".git"}

// ignorePattern is a doublestar glob.  Patterns that may match at any
// depth are checked against each path component as well.
type ignorePattern struct {
	glob     string
	anywhere bool
}

// Watcher restarts a service when files below its working directory
// change.  Paths matching an ignore pattern are neither watched nor
// reported.  A pattern without a slash matches any path component, so
// "node_modules" ignores node_modules directories at any depth.  A pattern
// with a slash, or starting with "./", is a doublestar glob matched against
// the path relative to the watched directory.  Restarts are limited to one
// per delay.
type Watcher struct {
	svc     *Service
	dir     string
	ignore  []ignorePattern
	delay   time.Duration
	limiter *rate.Limiter
	logger  *log.Logger
	fsw     *fsnotify.Watcher
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewWatcher returns a watcher for s.  It does nothing until started.
func NewWatcher(s *Service, dir string, ignore []string, delay time.Duration) *Watcher {
	if delay <= 0 {
		delay = time.Second
	}
	dir = filepath.Clean(dir)
	pats := make([]ignorePattern, 0, len(ignore)+len(alwaysIgnored))
	for _, p := range append(append([]string{}, alwaysIgnored...), ignore...) {
		anchored := false
		if filepath.IsAbs(p) {
			r, e := filepath.Rel(dir, p)
			if e != nil || strings.HasPrefix(r, "..") {
				continue
			}
			p, anchored = r, true
		}
		p = filepath.ToSlash(p)
		if strings.HasPrefix(p, "./") {
			p, anchored = p[2:], true
		}
		p = strings.TrimSuffix(p, "/")
		if p == "" || p == "." {
			continue
		}
		pats = append(pats, ignorePattern{
			glob:     p,
			anywhere: !anchored && !strings.Contains(p, "/"),
		})
	}
	return &Watcher{
		svc:     s,
		dir:     dir,
		ignore:  pats,
		delay:   delay,
		limiter: rate.NewLimiter(rate.Every(delay), 1),
		logger:  s.mlog.Logger(),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Ignored reports whether a path, absolute or relative to the watched
// directory, matches an ignore pattern.
func (w *Watcher) Ignored(path string) bool {
	rel := path
	if filepath.IsAbs(path) {
		r, e := filepath.Rel(w.dir, path)
		if e != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			return false
		}
		rel = r
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == "" {
		return false
	}
	comps := strings.Split(rel, "/")
	for _, pat := range w.ignore {
		for i := range comps {
			if ok, _ := doublestar.Match(pat.glob, strings.Join(comps[:i+1], "/")); ok {
				return true
			}
			if pat.anywhere {
				if ok, _ := doublestar.Match(pat.glob, comps[i]); ok {
					return true
				}
			}
		}
	}
	return false
}

// addTree watches root and every directory below it that is not ignored.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Vanished or unreadable entries are not fatal.
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.dir && w.Ignored(path) {
			return filepath.SkipDir
		}
		if e := w.fsw.Add(path); e != nil {
			w.logger.Printf("Failed to watch %s: %v", path, e)
		}
		return nil
	})
}

// Start begins watching.  It returns once the directory tree is
// registered; events are handled in the background until Stop.
func (w *Watcher) Start() error {
	fsw, e := fsnotify.NewWatcher()
	if e != nil {
		return e
	}
	w.fsw = fsw
	if e := w.addTree(w.dir); e != nil {
		fsw.Close()
		w.fsw = nil
		return e
	}
	w.logger.Printf("Watching %s for changes", w.dir)
	go w.loop()
	return nil
}

// Stop ends watching and waits for the event loop to finish.  It may be
// called more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.done)
		if w.fsw != nil {
			w.fsw.Close()
			<-w.stopped
		}
	})
}

func (w *Watcher) loop() {
	defer close(w.stopped)

	var flush <-chan time.Time
	pending := false
	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod || w.Ignored(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if fi, e := os.Stat(ev.Name); e == nil && fi.IsDir() {
					w.addTree(ev.Name)
				}
			}
			pending = true
			if flush == nil {
				flush = time.After(debounce)
			}

		case e, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Watch error: %v", e)

		case <-flush:
			flush = nil
			if !pending {
				continue
			}
			if !w.limiter.Allow() {
				flush = time.After(w.delay)
				continue
			}
			pending = false
			w.restart()
		}
	}
}

func (w *Watcher) restart() {
	watchRestarts.WithLabelValues(w.svc.Name()).Inc()
	if e := w.svc.restartFor("Files changed"); e != nil {
		w.logger.Printf("Restart after change failed: %v", e)
	}
}

// Watch attaches a file watcher to a registered service.
func (m *Manager) Watch(s *Service, dir string, ignore []string, delay time.Duration) error {
	m.lock()
	if s.mgr != m {
		m.unlock()
		return ErrNotFound
	}
	if _, ok := m.watchers[s.name]; ok {
		m.unlock()
		return ErrDuplicate
	}
	m.unlock()

	w := NewWatcher(s, dir, ignore, delay)
	if e := w.Start(); e != nil {
		return e
	}
	m.lock()
	m.watchers[s.name] = w
	m.unlock()
	return nil
}
