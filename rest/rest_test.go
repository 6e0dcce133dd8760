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

package rest

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/tycoon-systems/crawlvisor"
	"github.com/tycoon-systems/crawlvisor/ecosystem"
)

type fakeProv struct {
	name   string
	logger *log.Logger
	sync.Mutex
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

func withServer(t *testing.T, fn func(m *crawlvisor.Manager, c *Client, url string)) func() {
	return func() {
		m := crawlvisor.NewManager("resttest")
		m.SetLogger(log.New(io.Discard, "", 0))
		for _, n := range []string{"crawler", "indexer"} {
			So(m.AddService(crawlvisor.NewService(&fakeProv{name: n})), ShouldBeNil)
		}
		ts := httptest.NewServer(NewHandler(m, nil))
		Reset(func() {
			ts.Close()
			m.Shutdown()
		})
		fn(m, NewClient(nil, ts.URL), ts.URL)
	}
}

func TestRest(t *testing.T) {
	ctx := context.Background()

	Convey("Given a server", t, withServer(t, func(m *crawlvisor.Manager, c *Client, url string) {

		Convey("Manager info is served at the root", func() {
			info, e := c.Info(ctx)
			So(e, ShouldBeNil)
			So(info.Name, ShouldEqual, "resttest")
			So(info.Serial, ShouldEqual, m.Serial())
			So(info.Etag(), ShouldNotBeEmpty)
		})

		Convey("Services are listed by name", func() {
			names, e := c.Services(ctx)
			So(e, ShouldBeNil)
			So(names, ShouldResemble, []string{"crawler", "indexer"})

			Convey("And cached", func() {
				again, e := c.Services(ctx)
				So(e, ShouldBeNil)
				So(again, ShouldResemble, names)
			})
		})

		Convey("Services can be enabled", func() {
			So(c.EnableService(ctx, "crawler"), ShouldBeNil)
			info, e := c.GetService(ctx, "crawler")
			So(e, ShouldBeNil)
			So(info.Enabled, ShouldBeTrue)
			So(info.Running, ShouldBeTrue)
			So(info.Description, ShouldEqual, "fake crawler")
			So(info.Status, ShouldStartWith, "Started")

			Convey("Restarted", func() {
				So(c.RestartService(ctx, "crawler"), ShouldBeNil)
				info, e := c.GetService(ctx, "crawler")
				So(e, ShouldBeNil)
				So(info.Restarts, ShouldEqual, 1)
			})

			Convey("And disabled", func() {
				So(c.DisableService(ctx, "crawler"), ShouldBeNil)
				So(c.ClearService(ctx, "crawler"), ShouldBeNil)
				info, e := c.GetService(ctx, "crawler")
				So(e, ShouldBeNil)
				So(info.Enabled, ShouldBeFalse)
				So(info.Running, ShouldBeFalse)
			})
		})

		Convey("Unknown services are 404", func() {
			_, e := c.GetService(ctx, "nope")
			var ae *Error
			So(errors.As(e, &ae), ShouldBeTrue)
			So(ae.Code, ShouldEqual, http.StatusNotFound)
			So(c.EnableService(ctx, "nope"), ShouldNotBeNil)
		})

		Convey("Watching a service returns on change", func() {
			last, e := c.GetService(ctx, "indexer")
			So(e, ShouldBeNil)
			go func() {
				time.Sleep(50 * time.Millisecond)
				s, _ := m.FindService("indexer")
				s.Enable()
			}()
			wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			next, e := c.WatchService(wctx, "indexer", last)
			So(e, ShouldBeNil)
			So(next.Enabled, ShouldBeTrue)
			So(next.Etag(), ShouldNotEqual, last.Etag())
		})

		Convey("A cancelled watch returns the context error", func() {
			last, e := c.GetService(ctx, "indexer")
			So(e, ShouldBeNil)
			wctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
			defer cancel()
			_, e = c.WatchService(wctx, "indexer", last)
			So(errors.Is(e, context.DeadlineExceeded), ShouldBeTrue)
		})

		Convey("Logs are served", func() {
			So(c.EnableService(ctx, "crawler"), ShouldBeNil)
			l, e := c.GetLog(ctx, "crawler")
			So(e, ShouldBeNil)
			So(len(l.Records), ShouldBeGreaterThan, 0)

			found := false
			for _, r := range l.Records {
				if strings.Contains(r.Text, "fake crawler started") {
					found = true
				}
			}
			So(found, ShouldBeTrue)

			ml, e := c.GetLog(ctx, "")
			So(e, ShouldBeNil)
			So(len(ml.Records), ShouldBeGreaterThan, 0)

			Convey("Watching the log sees new lines", func() {
				go func() {
					time.Sleep(50 * time.Millisecond)
					c2 := NewClient(nil, url)
					c2.RestartService(ctx, "crawler")
				}()
				next, e := c.WatchLog(ctx, "crawler", l)
				So(e, ShouldBeNil)
				So(next.Etag(), ShouldNotEqual, l.Etag())
			})
		})

		Convey("The descriptor is 404 until loaded", func() {
			_, e := c.Descriptor(ctx, ecosystem.JSON)
			So(e, ShouldNotBeNil)

			path := filepath.Join("..", "ecosystem", "testdata", "ecosystem.json")
			want, e := os.ReadFile(path)
			So(e, ShouldBeNil)
			d, e := ecosystem.Load(path)
			So(e, ShouldBeNil)
			So(m.LoadDescriptor(d, t.TempDir()), ShouldBeNil)

			got, e := c.Descriptor(ctx, ecosystem.JSON)
			So(e, ShouldBeNil)
			So(string(got), ShouldEqual, string(want))

			info, e := c.GetService(ctx, "tycoon-crawler")
			So(e, ShouldBeNil)
			So(info.Watching, ShouldBeTrue)

			y, e := c.Descriptor(ctx, ecosystem.YAML)
			So(e, ShouldBeNil)
			So(string(y), ShouldContainSubstring, "name: tycoon-crawler")
		})

		Convey("Metrics are exposed", func() {
			_, e := c.Services(ctx)
			So(e, ShouldBeNil)
			res, e := http.Get(url + "/metrics")
			So(e, ShouldBeNil)
			defer res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusOK)
			b, _ := io.ReadAll(res.Body)
			So(string(b), ShouldContainSubstring, "crawlvisor_http_requests_total")
		})
	}))
}

func TestWaitService(t *testing.T) {
	Convey("Waiting on a service", t, func() {
		m := crawlvisor.NewManager("waittest")
		m.SetLogger(log.New(io.Discard, "", 0))
		svc := crawlvisor.NewService(&fakeProv{name: "crawler"})
		So(m.AddService(svc), ShouldBeNil)
		Reset(m.Shutdown)
		h := NewHandler(m, nil)

		finished := func(old int64) bool {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			h.waitService(ctx, svc, old)
			return ctx.Err() == nil
		}

		Convey("Returns at once when the service already moved", func() {
			old := svc.Serial()
			So(svc.Enable(), ShouldBeNil)
			So(finished(old), ShouldBeTrue)
		})

		Convey("Returns when the service changes", func() {
			old := svc.Serial()
			go func() {
				time.Sleep(20 * time.Millisecond)
				svc.Enable()
			}()
			So(finished(old), ShouldBeTrue)
			So(svc.Serial(), ShouldNotEqual, old)
		})

		Convey("Ignores changes to other services", func() {
			other := crawlvisor.NewService(&fakeProv{name: "indexer"})
			So(m.AddService(other), ShouldBeNil)
			old := svc.Serial()
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			go other.Enable()
			h.waitService(ctx, svc, old)
			So(ctx.Err(), ShouldNotBeNil)
			So(svc.Serial(), ShouldEqual, old)
		})
	})
}

func TestNotModified(t *testing.T) {
	Convey("Conditional requests", t, withServer(t, func(m *crawlvisor.Manager, c *Client, url string) {
		res, e := http.Get(url + "/services")
		So(e, ShouldBeNil)
		res.Body.Close()
		tag := res.Header.Get("Etag")
		So(tag, ShouldNotBeEmpty)

		req, _ := http.NewRequest("GET", url+"/services", nil)
		req.Header.Set("If-None-Match", tag)
		res, e = http.DefaultClient.Do(req)
		So(e, ShouldBeNil)
		res.Body.Close()
		So(res.StatusCode, ShouldEqual, http.StatusNotModified)
	}))
}

func TestServe(t *testing.T) {
	Convey("Serve honors shutdown", t, func() {
		m := crawlvisor.NewManager("servetest")
		m.SetLogger(log.New(io.Discard, "", 0))
		defer m.Shutdown()

		l, e := net.Listen("tcp", "127.0.0.1:0")
		So(e, ShouldBeNil)
		srv := NewServer(l.Addr().String(), NewHandler(m, nil))
		done := make(chan error, 1)
		go func() {
			done <- Serve(srv, l, 2)
		}()

		c := NewClient(nil, "http://"+l.Addr().String())
		info, e := c.Info(context.Background())
		So(e, ShouldBeNil)
		So(info.Name, ShouldEqual, "servetest")

		So(srv.Shutdown(context.Background()), ShouldBeNil)
		So(<-done, ShouldBeNil)
	})
}
