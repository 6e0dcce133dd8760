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
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestWatcherIgnored(t *testing.T) {
	Convey("Ignore patterns", t, func() {
		s := NewService(&testS{name: "test:ignore"})
		w := NewWatcher(s, "/srv/app", []string{"node_modules", "logs/", "./build", "**/*.tmp", "data/*.csv"}, 0)

		cases := map[string]bool{
			"/srv/app":                          false,
			"/srv/app/run_scraper.sh":           false,
			"/srv/app/node_modules":             true,
			"/srv/app/node_modules/x/index.js":  true,
			"/srv/app/pkg/node_modules/y.js":    true,
			"/srv/app/logs/crawl.log":           true,
			"/srv/app/catalogs/a.txt":           false,
			"/srv/app/build/out":                true,
			"/srv/app/src/build/out":            false,
			"/srv/app/a/b/c.tmp":                true,
			"/srv/app/data/items.csv":           true,
			"/srv/app/data/deep/items.csv":      false,
			"/srv/app/.git/HEAD":                true,
			"/elsewhere/node_modules/something": false,
			"spiders/tycoon.py":                 false,
			"logs":                              true,
		}
		for path, want := range cases {
			So(w.Ignored(path), ShouldEqual, want)
		}
	})
}

func TestWatcherRestarts(t *testing.T) {
	Convey("Given a watched service", t,
		WithManager(t, "Watch", func(m *Manager) {
			dir := t.TempDir()
			So(os.MkdirAll(filepath.Join(dir, "logs"), 0755), ShouldBeNil)
			So(os.WriteFile(filepath.Join(dir, "main.sh"), []byte("echo 1\n"), 0644), ShouldBeNil)

			s1 := NewService(&testS{name: "test:watched"})
			So(m.AddService(s1), ShouldBeNil)
			So(s1.Enable(), ShouldBeNil)
			So(m.Watch(s1, dir, []string{"logs"}, 50*time.Millisecond), ShouldBeNil)
			So(m.Watching("test:watched"), ShouldBeTrue)

			Convey("Watching twice is refused", func() {
				So(m.Watch(s1, dir, nil, 0), ShouldEqual, ErrDuplicate)
			})

			Convey("A change restarts it", func() {
				So(os.WriteFile(filepath.Join(dir, "main.sh"), []byte("echo 2\n"), 0644), ShouldBeNil)
				So(eventually(func() bool { return s1.Restarts() >= 1 }), ShouldBeTrue)
				So(s1.Running(), ShouldBeTrue)
				So(eventually(logHas(s1, "Files changed")), ShouldBeTrue)
			})

			Convey("New directories are watched too", func() {
				sub := filepath.Join(dir, "spiders")
				So(os.Mkdir(sub, 0755), ShouldBeNil)
				So(eventually(func() bool { return s1.Restarts() >= 1 }), ShouldBeTrue)
				n := s1.Restarts()
				// Let the limiter refill before the next change.
				time.Sleep(100 * time.Millisecond)
				So(os.WriteFile(filepath.Join(sub, "tycoon.py"), []byte("pass\n"), 0644), ShouldBeNil)
				So(eventually(func() bool { return s1.Restarts() > n }), ShouldBeTrue)
			})

			Convey("Ignored paths do not", func() {
				So(os.WriteFile(filepath.Join(dir, "logs", "crawl.log"), []byte("x\n"), 0644), ShouldBeNil)
				time.Sleep(500 * time.Millisecond)
				So(s1.Restarts(), ShouldEqual, 0)
			})

			Convey("Deleting the service stops the watcher", func() {
				So(s1.Disable(), ShouldBeNil)
				So(m.DeleteService(s1), ShouldBeNil)
				So(m.Watching("test:watched"), ShouldBeFalse)
			})
		}))
}

func TestWatchUnknownService(t *testing.T) {
	Convey("Watching a service of another manager fails", t,
		WithManager(t, "WatchUnknown", func(m *Manager) {
			s1 := NewService(&testS{name: "test:stray"})
			So(m.Watch(s1, t.TempDir(), nil, 0), ShouldEqual, ErrNotFound)
		}))
}

func TestWatcherMissingDir(t *testing.T) {
	Convey("Given a watcher on a missing directory", t, func() {
		s := NewService(&testS{name: "test:missing"})
		w := NewWatcher(s, filepath.Join(t.TempDir(), "gone"), nil, 0)

		Convey("Start fails and Stop still returns", func() {
			So(w.Start(), ShouldNotBeNil)
			done := make(chan struct{})
			go func() {
				w.Stop()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				So("Stop blocked", ShouldBeEmpty)
			}
		})
	})
}
