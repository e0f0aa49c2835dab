/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "plugin_loader"

// Metrics holds the Prometheus collectors updated by a Manager.
type Metrics struct {
	discovered    prometheus.Counter
	accepted      prometheus.Counter
	rejected      *prometheus.CounterVec
	registrations *prometheus.CounterVec
	loads         *prometheus.CounterVec
	entries       *prometheus.CounterVec
	catalogSize   prometheus.Gauge
	running       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		discovered: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "discovered_total",
			Help:      "Files found under the plugin directory.",
		}),
		accepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "accepted_total",
			Help:      "Candidates that passed validation.",
		}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rejected_total",
			Help:      "Candidates or plugins dropped, by reason.",
		}, []string{"reason"}),
		registrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "registrations_total",
			Help:      "Allow-list registration attempts, by result.",
		}, []string{"result"}),
		loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "loads_total",
			Help:      "Module load attempts, by result.",
		}, []string{"result"}),
		entries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "entry_calls_total",
			Help:      "Entry point invocations, by result.",
		}, []string{"result"}),
		catalogSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "catalog_size",
			Help:      "Accepted plugins currently held.",
		}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "running",
			Help:      "Plugins whose entry point returned normally.",
		}),
	}
}
