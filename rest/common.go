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

// Package rest exposes a crawlvisor Manager over HTTP, and provides a
// client for it.
//
// Every GET resource carries an Etag.  A client that already holds the
// current Etag can ask the server to hold the request until the resource
// changes, by sending the Etag in PollEtagHeader and the longest wait, in
// seconds, in PollTimeHeader.  If nothing changes in that time, and the
// request also carried If-None-Match, the reply is 304 Not Modified.
package rest

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tycoon-systems/crawlvisor"
)

const (
	mimeJson = "application/json; charset=UTF-8"
	mimeYaml = "application/yaml; charset=UTF-8"
	mimeToml = "application/toml; charset=UTF-8"

	PollEtagHeader = "X-Crawlvisor-Poll-Etag"
	PollTimeHeader = "X-Crawlvisor-Poll-Time"

	// MaxPollTime caps a long poll, in seconds.
	MaxPollTime = 300
)

var ok struct{}

type LogRecord = crawlvisor.LogRecord

// ManagerInfo is served at the root of the tree.
type ManagerInfo struct {
	Name       string    `json:"name"`
	Serial     int64     `json:"serial,string"`
	CreateTime time.Time `json:"created"`
	UpdateTime time.Time `json:"updated"`
	etag       string
}

// Etag identifies this snapshot.
func (m *ManagerInfo) Etag() string {
	return m.etag
}

type ServiceInfo struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Enabled     bool          `json:"enabled"`
	Running     bool          `json:"running"`
	Failed      bool          `json:"failed"`
	Watching    bool          `json:"watching"`
	Restarts    int           `json:"restarts"`
	Uptime      time.Duration `json:"uptime"`
	Pid         int           `json:"pid,omitempty"`
	Status      string        `json:"status"`
	TimeStamp   time.Time     `json:"tstamp"`
	etag        string
}

// Etag identifies this snapshot.
func (s *ServiceInfo) Etag() string {
	return s.etag
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func makeEtag(serial int64) string {
	return `"` + strconv.FormatInt(serial, 10) + `"`
}

// pollParams returns the Etag the client is waiting on, and for how long.
// A zero duration means the client does not want to wait.
func pollParams(r *http.Request) (string, time.Duration) {
	tag := r.Header.Get(PollEtagHeader)
	secs, e := strconv.Atoi(r.Header.Get(PollTimeHeader))
	if tag == "" || e != nil || secs <= 0 {
		return "", 0
	}
	if secs > MaxPollTime {
		secs = MaxPollTime
	}
	return tag, time.Duration(secs) * time.Second
}

// notModified reports whether the client's cached copy is current.
func notModified(r *http.Request, etag string) bool {
	for _, t := range strings.Split(r.Header.Get("If-None-Match"), ",") {
		if t = strings.TrimSpace(t); t == etag || t == "*" {
			return true
		}
	}
	return false
}
