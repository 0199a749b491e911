// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package launchpad

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/launchpad/engine/internal/model"
)

// PrometheusMetrics is the default MetricsCollector, publishing counters
// and histograms for checkouts, completions, and queue depth.
type PrometheusMetrics struct {
	checkouts     *prometheus.CounterVec
	completions   *prometheus.CounterVec
	completionDur *prometheus.HistogramVec
	queueDepth    prometheus.Gauge
}

// NewPrometheusMetrics registers launchpad metrics against reg. Pass
// prometheus.DefaultRegisterer to publish on the default /metrics handler.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		checkouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "launchpad_checkouts_total",
			Help: "Total tasks checked out, by worker category",
		}, []string{"category"}),
		completions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "launchpad_completions_total",
			Help: "Total task completions, by terminal state",
		}, []string{"state"}),
		completionDur: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "launchpad_completion_duration_seconds",
			Help:    "Time spent applying a completion under the workflow lock",
			Buckets: prometheus.DefBuckets,
		}, []string{"state"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "launchpad_queue_depth",
			Help: "Tasks currently READY or RESERVED awaiting checkout",
		}),
	}
}

func (m *PrometheusMetrics) RecordCheckout(_ context.Context, _ int, category string) {
	if category == "" {
		category = "default"
	}
	m.checkouts.WithLabelValues(category).Inc()
}

func (m *PrometheusMetrics) RecordComplete(_ context.Context, _ int, state model.State, duration time.Duration) {
	m.completions.WithLabelValues(string(state)).Inc()
	m.completionDur.WithLabelValues(string(state)).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) IncrementQueueDepth() { m.queueDepth.Inc() }
func (m *PrometheusMetrics) DecrementQueueDepth() { m.queueDepth.Dec() }
