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
	"bufio"
	"bytes"
	"context"
	"log"
	"sync"
	"time"
)

const (
	MaxLogRecords = 1000
)

type LogRecord struct {
	Id   int64     `json:"id,string"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Log is a bounded ring of log lines.  Every line gets an increasing ID,
// and the ID of the newest line doubles as an Etag for pollers.
type Log struct {
	records    []LogRecord
	numRecords int
	maxRecords int
	id         int64
	cvs        map[*sync.Cond]bool
	mx         sync.Mutex
}

func (l *Log) lock() {
	l.mx.Lock()
}

func (l *Log) unlock() {
	l.mx.Unlock()
}

// Write implements the io.Writer consumed by log.Logger.  Each line of the
// input becomes its own record.
func (l *Log) Write(b []byte) (int, error) {
	now := time.Now()
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(nil, len(b)+1)

	l.lock()
	for sc.Scan() {
		idx := l.numRecords % l.maxRecords
		l.id++
		l.records[idx] = LogRecord{Id: l.id, Time: now, Text: sc.Text()}
		// NB: numRecords keeps counting past maxRecords; modulo
		// maxRecords it is the next slot to fill.
		l.numRecords++
	}
	for cv := range l.cvs {
		cv.Broadcast()
	}
	l.unlock()
	return len(b), nil
}

func (l *Log) Clear() {
	l.lock()
	l.numRecords = 0
	// IDs must not go backwards, or a poller holding an old Etag would
	// miss the change.  We presume fewer than one record per nanosecond.
	l.id = time.Now().UnixNano()
	for cv := range l.cvs {
		cv.Broadcast()
	}
	l.unlock()
}

// Records returns the stored records, oldest first, and the current ID.
// If last equals the current ID nothing has changed, and nil is returned
// without copying anything.
func (l *Log) Records(last int64) ([]LogRecord, int64) {
	l.lock()
	defer l.unlock()

	if l.id == last {
		return nil, last
	}
	cnt := l.numRecords
	if cnt > l.maxRecords {
		cnt = l.maxRecords
	}
	recs := make([]LogRecord, 0, cnt)
	for i := l.numRecords - cnt; i < l.numRecords; i++ {
		recs = append(recs, l.records[i%l.maxRecords])
	}
	return recs, l.id
}

// Lines is Records without the metadata.
func (l *Log) Lines() []string {
	recs, _ := l.Records(0)
	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		lines = append(lines, r.Text)
	}
	return lines
}

// Watch waits until the log ID differs from last, or until ctx is done.
// The (possibly unchanged) ID is returned.
func (l *Log) Watch(ctx context.Context, last int64) int64 {
	cv := sync.NewCond(&l.mx)
	stop := context.AfterFunc(ctx, func() {
		l.lock()
		cv.Broadcast()
		l.unlock()
	})
	defer stop()

	l.lock()
	l.cvs[cv] = true
	for l.id == last && ctx.Err() == nil {
		cv.Wait()
	}
	delete(l.cvs, cv)
	last = l.id
	l.unlock()
	return last
}

// NewLog returns a Log holding at most max records.  A max of zero
// selects MaxLogRecords.
func NewLog(max int) *Log {
	if max <= 0 {
		max = MaxLogRecords
	}
	return &Log{
		records:    make([]LogRecord, max),
		maxRecords: max,
		id:         time.Now().UnixNano(),
		cvs:        make(map[*sync.Cond]bool),
	}
}

// MultiLogger fans a single log.Logger out to several destinations.  Each
// destination keeps its own prefix and flags.  Writes are expected to be
// whole lines, which is what log.Logger delivers.
type MultiLogger struct {
	log     *log.Logger
	loggers []*log.Logger
	lock    sync.Mutex
}

func (l *MultiLogger) Write(b []byte) (int, error) {
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(nil, len(b)+1)
	l.lock.Lock()
	for sc.Scan() {
		for _, logger := range l.loggers {
			logger.Println(sc.Text())
		}
	}
	l.lock.Unlock()
	return len(b), nil
}

// AddLogger registers a destination.  Adding the same logger twice is a
// no-op.
func (l *MultiLogger) AddLogger(logger *log.Logger) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for _, x := range l.loggers {
		if x == logger {
			return
		}
	}
	l.loggers = append(l.loggers, logger)
}

// DelLogger removes a destination.
func (l *MultiLogger) DelLogger(logger *log.Logger) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for i, x := range l.loggers {
		if x == logger {
			l.loggers = append(l.loggers[:i], l.loggers[i+1:]...)
			break
		}
	}
}

// Logger returns the fan-out logger itself.
func (l *MultiLogger) Logger() *log.Logger {
	return l.log
}

func NewMultiLogger() *MultiLogger {
	m := &MultiLogger{}
	m.log = log.New(m, "", 0)
	return m
}
