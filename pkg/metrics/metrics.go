// Copyright 2025 Storymill Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	JobsTotal          *prometheus.CounterVec
	StepAttemptsTotal  *prometheus.CounterVec
	StepDuration       *prometheus.HistogramVec
	BridgeCallsTotal   *prometheus.CounterVec
	BridgeCallDuration *prometheus.HistogramVec
	WorkerRestarts     *prometheus.CounterVec
	CheckpointsTotal   prometheus.Counter
}

// NewMetrics creates and registers all engine collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storymill",
			Name:      "jobs_total",
			Help:      "Jobs reaching a terminal status, by kind and status.",
		}, []string{"kind", "status"}),
		StepAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storymill",
			Name:      "step_attempts_total",
			Help:      "Step executor invocations, by step and outcome.",
		}, []string{"step", "outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storymill",
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of step executor invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"step"}),
		BridgeCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storymill",
			Name:      "bridge_calls_total",
			Help:      "Bridge calls, by channel, operation and outcome.",
		}, []string{"channel", "operation", "outcome"}),
		BridgeCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storymill",
			Name:      "bridge_call_duration_seconds",
			Help:      "Duration of bridge calls including queueing on the channel.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 16),
		}, []string{"channel", "operation"}),
		WorkerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storymill",
			Name:      "worker_restarts_total",
			Help:      "Worker process replacements, by channel.",
		}, []string{"channel"}),
		CheckpointsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storymill",
			Name:      "checkpoints_written_total",
			Help:      "Checkpoints written after successful steps.",
		}),
	}

	registry.MustRegister(
		m.JobsTotal,
		m.StepAttemptsTotal,
		m.StepDuration,
		m.BridgeCallsTotal,
		m.BridgeCallDuration,
		m.WorkerRestarts,
		m.CheckpointsTotal,
	)
	return m
}

// Registry exposes the registry for the scrape server.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
