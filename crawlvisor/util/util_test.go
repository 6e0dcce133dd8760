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

package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tycoon-systems/crawlvisor/rest"
)

func TestStatus(t *testing.T) {
	assert.Equal(t, "disabled", Status(&rest.ServiceInfo{Failed: true}))
	assert.Equal(t, "failed", Status(&rest.ServiceInfo{Enabled: true, Failed: true}))
	assert.Equal(t, "running", Status(&rest.ServiceInfo{Enabled: true, Running: true}))
	assert.Equal(t, "standby", Status(&rest.ServiceInfo{Enabled: true}))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0:00:00", FormatDuration(0))
	assert.Equal(t, "0:00:00", FormatDuration(-time.Second))
	assert.Equal(t, "1:02:03", FormatDuration(time.Hour+2*time.Minute+3*time.Second+400*time.Millisecond))
	assert.Equal(t, "49:00:00", FormatDuration(49*time.Hour))
}

func TestSortAndCount(t *testing.T) {
	items := []*rest.ServiceInfo{
		{Name: "zeta"},
		{Name: "beta", Enabled: true, Running: true, Watching: true},
		{Name: "alpha", Enabled: true},
		{Name: "omega", Enabled: true, Failed: true},
	}
	SortServices(items)
	var names []string
	for _, s := range items {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"omega", "alpha", "beta", "zeta"}, names)
	assert.Equal(t, Counts{Running: 1, Failed: 1, Standby: 1, Disabled: 1, Watching: 1}, Count(items))
}
