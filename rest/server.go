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
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/tycoon-systems/crawlvisor"
	"github.com/tycoon-systems/crawlvisor/ecosystem"
)

// Handler wraps a Manager, adding http.Handler functionality.
type Handler struct {
	m      *crawlvisor.Manager
	r      *mux.Router
	logger *zap.Logger
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	h.logger.Error("internal error", zap.Error(e))
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		h.internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

// writeTagged writes v with its Etag, or 304 if the client has it already.
func (h *Handler) writeTagged(w http.ResponseWriter, r *http.Request, etag string, v interface{}) {
	w.Header().Set("Etag", etag)
	if notModified(r, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.writeJson(w, v)
}

func errorFor(e error) *Error {
	switch {
	case errors.Is(e, crawlvisor.ErrNotFound), errors.Is(e, crawlvisor.ErrNoManager):
		return &Error{http.StatusNotFound, crawlvisor.ErrNotFound.Error()}
	case errors.Is(e, crawlvisor.ErrRateLimited):
		return &Error{http.StatusTooManyRequests, e.Error()}
	}
	return &Error{http.StatusBadRequest, e.Error()}
}

func (h *Handler) getInfo(w http.ResponseWriter, r *http.Request) {
	info := h.m.GetInfo()
	if tag, wait := pollParams(r); tag == makeEtag(info.Serial) {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		h.m.WatchSerial(ctx, info.Serial)
		cancel()
		info = h.m.GetInfo()
	}
	h.writeTagged(w, r, makeEtag(info.Serial), &ManagerInfo{
		Name:       info.Name,
		Serial:     info.Serial,
		CreateTime: info.CreateTime,
		UpdateTime: info.UpdateTime,
	})
}

func (h *Handler) listServices(w http.ResponseWriter, r *http.Request) {
	svcs, serial, _ := h.m.Services()
	if tag, wait := pollParams(r); tag == makeEtag(serial) {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		h.m.WatchServices(ctx, serial)
		cancel()
		svcs, serial, _ = h.m.Services()
	}
	l := make([]string, 0, len(svcs))
	for _, svc := range svcs {
		l = append(l, svc.Name())
	}
	h.writeTagged(w, r, makeEtag(serial), l)
}

func (h *Handler) findService(r *http.Request) (*crawlvisor.Service, *Error) {
	svc, e := h.m.FindService(mux.Vars(r)["service"])
	if e != nil {
		return nil, errorFor(e)
	}
	return svc, nil
}

func (h *Handler) serviceInfo(svc *crawlvisor.Service) *ServiceInfo {
	info := &ServiceInfo{
		Name:        svc.Name(),
		Description: svc.Description(),
		Enabled:     svc.Enabled(),
		Running:     svc.Running(),
		Failed:      svc.Failed(),
		Watching:    h.m.Watching(svc.Name()),
		Restarts:    svc.Restarts(),
		Uptime:      svc.Uptime(),
	}
	if v, e := svc.GetProperty(crawlvisor.PropProcessPid); e == nil {
		info.Pid, _ = v.(int)
	}
	info.Status, info.TimeStamp = svc.Status()
	return info
}

// waitService waits for the service serial to move past old.  Services
// change only when the manager serial does, so we wait on that.  The
// manager serial is read first, so a change landing between the two reads
// still ends the wait.
func (h *Handler) waitService(ctx context.Context, svc *crawlvisor.Service, old int64) {
	for ctx.Err() == nil {
		ms := h.m.Serial()
		if svc.Serial() != old {
			return
		}
		h.m.WatchSerial(ctx, ms)
	}
}

func (h *Handler) getService(w http.ResponseWriter, r *http.Request) {
	svc, e := h.findService(r)
	if e != nil {
		h.writeError(w, e)
		return
	}
	serial := svc.Serial()
	if tag, wait := pollParams(r); tag == makeEtag(serial) {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		h.waitService(ctx, svc, serial)
		cancel()
		serial = svc.Serial()
	}
	h.writeTagged(w, r, makeEtag(serial), h.serviceInfo(svc))
}

func (h *Handler) serviceAction(action func(*crawlvisor.Service) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc, e := h.findService(r); e != nil {
			h.writeError(w, e)
		} else if err := action(svc); err != nil {
			h.writeError(w, errorFor(err))
		} else {
			h.writeJson(w, ok)
		}
	}
}

func (h *Handler) writeLog(w http.ResponseWriter, r *http.Request,
	get func(int64) ([]LogRecord, int64), watch func(context.Context, int64) int64) {

	_, id := get(-1)
	if tag, wait := pollParams(r); tag == makeEtag(id) {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		watch(ctx, id)
		cancel()
	}
	recs, id := get(-1)
	if recs == nil {
		recs = []LogRecord{}
	}
	h.writeTagged(w, r, makeEtag(id), recs)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	if svc, e := h.findService(r); e != nil {
		h.writeError(w, e)
	} else {
		h.writeLog(w, r, svc.GetLog, svc.WatchLog)
	}
}

func (h *Handler) getManagerLog(w http.ResponseWriter, r *http.Request) {
	h.writeLog(w, r, h.m.GetLog, h.m.WatchLog)
}

func (h *Handler) getDescriptor(w http.ResponseWriter, r *http.Request) {
	d := h.m.Descriptor()
	if d == nil {
		h.writeError(w, &Error{http.StatusNotFound, "No descriptor loaded"})
		return
	}
	f := ecosystem.JSON
	if s := r.URL.Query().Get("format"); s != "" {
		var e error
		if f, e = ecosystem.ParseFormat(s); e != nil {
			h.writeError(w, &Error{http.StatusBadRequest, e.Error()})
			return
		}
	}
	b, e := d.Marshal(f)
	if e != nil {
		h.internalError(w, e)
		return
	}
	switch f {
	case ecosystem.YAML:
		w.Header().Set("Content-Type", mimeYaml)
	case ecosystem.TOML:
		w.Header().Set("Content-Type", mimeToml)
	default:
		w.Header().Set("Content-Type", mimeJson)
	}
	w.Write(b)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

// NewHandler returns the API for m.  A nil logger discards access logs.
func NewHandler(m *crawlvisor.Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := mux.NewRouter()
	h := &Handler{m: m, r: r, logger: logger}
	r.Use(h.instrument)
	r.HandleFunc("/", h.getInfo).Methods("GET")
	r.HandleFunc("/services", h.listServices).Methods("GET")
	r.HandleFunc("/services/{service}", h.getService).Methods("GET")
	r.HandleFunc("/services/{service}/enable", h.serviceAction((*crawlvisor.Service).Enable)).Methods("POST")
	r.HandleFunc("/services/{service}/disable", h.serviceAction((*crawlvisor.Service).Disable)).Methods("POST")
	r.HandleFunc("/services/{service}/restart", h.serviceAction((*crawlvisor.Service).Restart)).Methods("POST")
	r.HandleFunc("/services/{service}/clear", h.serviceAction(func(s *crawlvisor.Service) error {
		s.Clear()
		return nil
	})).Methods("POST")
	r.HandleFunc("/services/{service}/log", h.getLog).Methods("GET")
	r.HandleFunc("/log", h.getManagerLog).Methods("GET")
	r.HandleFunc("/descriptor", h.getDescriptor).Methods("GET")
	r.Handle("/metrics", crawlvisor.MetricsHandler()).Methods("GET")
	return h
}

// Serve accepts connections on l, at most maxConns at a time (zero for no
// limit), until the server is shut down.
func Serve(srv *http.Server, l net.Listener, maxConns int) error {
	if maxConns > 0 {
		l = netutil.LimitListener(l, maxConns)
	}
	e := srv.Serve(l)
	if errors.Is(e, http.ErrServerClosed) {
		return nil
	}
	return e
}

// NewServer returns an http.Server for h.  Write timeouts must leave room
// for long polls.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      (MaxPollTime + 30) * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
