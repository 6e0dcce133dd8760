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
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/tycoon-systems/crawlvisor/ecosystem"
)

type LogInfo struct {
	Name    string
	Records []LogRecord
	etag    string
}

// Etag identifies this snapshot.
func (l *LogInfo) Etag() string {
	return l.etag
}

// Client talks to a crawlvisor daemon.  It caches the last copy of every
// resource it fetched, so that unchanged resources are not transferred
// again.  Watch methods long poll: they return when the resource differs
// from the copy passed in, when the server gives up waiting, or when the
// context is done.
type Client struct {
	user   string // HTTP Basic-Auth
	pass   string
	base   string // URI to root of tree on server
	auth   bool
	client *http.Client

	// Cached data
	manager  *ManagerInfo
	services map[string]*ServiceInfo
	names    []string // service names
	etag     string   // etag for list of services
	logs     map[string]*LogInfo
	lock     sync.Mutex
}

// SetAuth sets credentials for a server behind an authenticating proxy.
func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) url(name string) string {
	if name == "" {
		return c.base + "/services"
	}
	return c.base + "/services/" + url.PathEscape(name)
}

func (c *Client) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, e := http.NewRequestWithContext(ctx, method, url, nil)
	if e != nil {
		return nil, e
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	return req, nil
}

// apiError turns a failed response into an *Error, using the server's
// message when there is one.
func apiError(res *http.Response) error {
	e := &Error{}
	if b, err := io.ReadAll(res.Body); err == nil && json.Unmarshal(b, e) == nil && e.Message != "" {
		e.Code = res.StatusCode
		return e
	}
	return &Error{Code: res.StatusCode, Message: res.Status}
}

// poll issues a GET against the URL, decoding the body into v.  If etag is
// set it is sent as a cache validator, and if wait is also set the server
// is asked to hold the request for up to wait seconds until the resource
// changes.  The new Etag is returned, or "" if the resource did not
// change (in which case v is untouched).
func (c *Client) poll(ctx context.Context, url string, etag string, wait int, v interface{}) (string, error) {
	req, e := c.newRequest(ctx, http.MethodGet, url)
	if e != nil {
		return "", e
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}
	res, e := c.client.Do(req)
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if res.StatusCode != http.StatusOK {
		return "", apiError(res)
	}
	if e := json.NewDecoder(res.Body).Decode(v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

func (c *Client) pollInfo(ctx context.Context, wait int, last *ManagerInfo) (*ManagerInfo, error) {
	otag := ""
	if last != nil {
		otag = last.etag
	} else {
		wait = 0
	}
	v := &ManagerInfo{}
	etag, e := c.poll(ctx, c.base+"/", otag, wait, v)
	if e != nil {
		return nil, e
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if etag == "" {
		if c.manager != nil && c.manager.etag == otag {
			return c.manager, nil
		}
		return last, nil
	}
	v.etag = etag
	c.manager = v
	return v, nil
}

// Info returns the manager information.
func (c *Client) Info(ctx context.Context) (*ManagerInfo, error) {
	return c.pollInfo(ctx, 0, nil)
}

// WatchInfo waits for the manager serial to move past last.
func (c *Client) WatchInfo(ctx context.Context, last *ManagerInfo) (*ManagerInfo, error) {
	return c.pollInfo(ctx, MaxPollTime, last)
}

func (c *Client) pollServices(ctx context.Context, wait int) ([]string, error) {
	v := []string{}

	c.lock.Lock()
	otag := c.etag
	onames := c.names
	c.lock.Unlock()
	if otag == "" {
		wait = 0
	}

	etag, e := c.poll(ctx, c.url(""), otag, wait, &v)
	if e != nil {
		return nil, e
	}
	if etag == "" || etag == otag {
		return onames, nil
	}
	services := make(map[string]*ServiceInfo)

	c.lock.Lock()
	c.etag = etag
	c.names = v
	// Keep cached entries only for services that still exist.
	for _, n := range v {
		if svc, ok := c.services[n]; ok {
			services[n] = svc
		}
	}
	c.services = services
	c.lock.Unlock()

	return v, nil
}

// Services returns the names of the services known to the server.
func (c *Client) Services(ctx context.Context) ([]string, error) {
	return c.pollServices(ctx, 0)
}

// WatchServices waits for the list of services to change, then returns it.
func (c *Client) WatchServices(ctx context.Context) ([]string, error) {
	return c.pollServices(ctx, MaxPollTime)
}

func (c *Client) pollService(ctx context.Context, name string, wait int, last *ServiceInfo) (*ServiceInfo, error) {
	v := &ServiceInfo{}
	c.lock.Lock()
	osvc, ok := c.services[name]
	c.lock.Unlock()

	otag := ""
	if last == nil {
		wait = 0
	} else if ok && last.etag != osvc.etag {
		// The cache is newer than what the caller has seen.
		return osvc, nil
	} else {
		otag = last.etag
	}

	etag, e := c.poll(ctx, c.url(name), otag, wait, v)
	if e != nil {
		c.lock.Lock()
		delete(c.services, name)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		return last, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.services[name] = v
	c.lock.Unlock()
	return v, nil
}

// GetService returns the current state of a service.
func (c *Client) GetService(ctx context.Context, name string) (*ServiceInfo, error) {
	return c.pollService(ctx, name, 0, nil)
}

// WatchService waits for the service to differ from last.
func (c *Client) WatchService(ctx context.Context, name string, last *ServiceInfo) (*ServiceInfo, error) {
	return c.pollService(ctx, name, MaxPollTime, last)
}

func (c *Client) post(ctx context.Context, url string) error {
	req, e := c.newRequest(ctx, http.MethodPost, url)
	if e != nil {
		return e
	}
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return apiError(res)
	}
	return nil
}

func (c *Client) postService(ctx context.Context, name string, action string) error {
	return c.post(ctx, c.url(name)+"/"+action)
}

func (c *Client) EnableService(ctx context.Context, name string) error {
	return c.postService(ctx, name, "enable")
}

func (c *Client) DisableService(ctx context.Context, name string) error {
	return c.postService(ctx, name, "disable")
}

func (c *Client) ClearService(ctx context.Context, name string) error {
	return c.postService(ctx, name, "clear")
}

func (c *Client) RestartService(ctx context.Context, name string) error {
	return c.postService(ctx, name, "restart")
}

func (c *Client) pollLog(ctx context.Context, name string, wait int, last *LogInfo) (*LogInfo, error) {
	v := &LogInfo{Name: name}

	c.lock.Lock()
	cached, ok := c.logs[name]
	c.lock.Unlock()

	otag := ""
	if last == nil {
		wait = 0
	} else if ok && last.etag != cached.etag {
		return cached, nil
	} else {
		otag = last.etag
	}

	url := c.url(name) + "/log"
	if name == "" {
		url = c.base + "/log"
	}

	etag, e := c.poll(ctx, url, otag, wait, &v.Records)
	if e != nil {
		c.lock.Lock()
		delete(c.logs, name)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		return last, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.logs[name] = v
	c.lock.Unlock()

	return v, nil
}

// GetLog returns the log of the named service, or the manager log if name
// is empty.
func (c *Client) GetLog(ctx context.Context, name string) (*LogInfo, error) {
	return c.pollLog(ctx, name, 0, nil)
}

// WatchLog waits for the log to differ from last.
func (c *Client) WatchLog(ctx context.Context, name string, last *LogInfo) (*LogInfo, error) {
	return c.pollLog(ctx, name, MaxPollTime, last)
}

// Descriptor fetches the descriptor the daemon loaded, in canonical form.
func (c *Client) Descriptor(ctx context.Context, f ecosystem.Format) ([]byte, error) {
	req, e := c.newRequest(ctx, http.MethodGet, c.base+"/descriptor?format="+f.String())
	if e != nil {
		return nil, e
	}
	res, e := c.client.Do(req)
	if e != nil {
		return nil, e
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, apiError(res)
	}
	return io.ReadAll(res.Body)
}

// NewClient returns a Client handle.  The transport may be nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t *http.Transport, baseURI string) *Client {
	c := &Client{
		base:     strings.TrimSuffix(baseURI, "/"),
		client:   &http.Client{},
		services: make(map[string]*ServiceInfo),
		logs:     make(map[string]*LogInfo),
	}
	if t != nil {
		c.client.Transport = t
	}
	return c
}
