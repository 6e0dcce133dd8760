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
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	serviceStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlvisor_service_starts_total",
			Help: "Total number of successful service starts, labeled by service.",
		},
		[]string{"service"},
	)

	serviceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlvisor_service_failures_total",
			Help: "Total number of failed starts and failed health checks, labeled by service.",
		},
		[]string{"service"},
	)

	watchRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlvisor_watch_restarts_total",
			Help: "Total number of restarts triggered by file changes, labeled by service.",
		},
		[]string{"service"},
	)

	runningGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crawlvisor_services_running",
			Help: "1 if the service is running, 0 otherwise.",
		},
		[]string{"service"},
	)
)

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
