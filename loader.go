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
	"fmt"

	"github.com/tycoon-systems/crawlvisor/ecosystem"
)

// LoadDescriptor registers a process service for every app in d.  Relative
// working directories, interpreters and scripts are resolved against dir.
// Apps with watch set get a Watcher on their working directory.  Services
// are added disabled; the caller decides when to enable them.
//
// The descriptor is validated first, and nothing is registered if it is
// invalid or if any app name is already taken.
func (m *Manager) LoadDescriptor(d *ecosystem.Descriptor, dir string) error {
	if e := d.Validate(); e != nil {
		return e
	}
	m.lock()
	for _, a := range d.Apps {
		if _, ok := m.services[a.Name]; ok {
			m.unlock()
			return fmt.Errorf("%w: %s", ErrDuplicate, a.Name)
		}
	}
	m.desc = d.Clone()
	m.unlock()

	for _, a := range d.Apps {
		s := NewProcessFromApp(a, dir)
		if e := m.AddService(s); e != nil {
			return e
		}
		if !a.Watch {
			continue
		}
		wd := a.WorkDir(dir)
		if e := m.Watch(s, wd, a.IgnoreWatch, a.WatchDelayDuration()); e != nil {
			// The service still runs, it just won't restart on change.
			m.logf("Cannot watch %s for %s: %v", wd, a.Name, e)
		}
	}
	return nil
}
