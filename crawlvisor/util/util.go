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

// Package util holds formatting helpers shared by the crawlvisor commands.
package util

import (
	"fmt"
	"sort"
	"time"

	"github.com/tycoon-systems/crawlvisor/rest"
)

func Status(s *rest.ServiceInfo) string {
	if !s.Enabled {
		return "disabled"
	}
	if s.Failed {
		return "failed"
	}
	if s.Running {
		return "running"
	}
	return "standby"
}

// FormatDuration prints d as h:mm:ss.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)

	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

// Counts tallies services by Status.
type Counts struct {
	Running  int
	Failed   int
	Standby  int
	Disabled int
	Watching int
}

func Count(items []*rest.ServiceInfo) Counts {
	var c Counts
	for _, s := range items {
		switch Status(s) {
		case "running":
			c.Running++
		case "failed":
			c.Failed++
		case "standby":
			c.Standby++
		default:
			c.Disabled++
		}
		if s.Watching {
			c.Watching++
		}
	}
	return c
}

// SortServices orders failed services first, then enabled ones, then the
// rest, each group by name.
func SortServices(items []*rest.ServiceInfo) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Failed != b.Failed {
			return a.Failed
		}
		if a.Enabled != b.Enabled {
			return a.Enabled
		}
		return a.Name < b.Name
	})
}
