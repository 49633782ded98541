/*
Copyright 2024 The WinCC PG Gateway Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics declares the gateway's Prometheus instrumentation,
// registered once at startup and shared by reference across connections.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the gateway's counters and histograms. GraphQLCallsTotal
// and GraphQLCallLatency are registered but no code path records them.
type Metrics struct {
	ConnectionsTotal   prometheus.Counter
	ConnectionsActive  prometheus.Gauge
	QueriesTotal       *prometheus.CounterVec
	QueryErrorsTotal   *prometheus.CounterVec
	GraphQLCallsTotal  *prometheus.CounterVec
	GraphQLCallLatency *prometheus.HistogramVec
}

// New creates and registers a Metrics set against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "winccpg",
			Name:      "connections_total",
			Help:      "Total accepted client connections.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "winccpg",
			Name:      "connections_active",
			Help:      "Currently open client connections.",
		}),
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "winccpg",
			Name:      "queries_total",
			Help:      "Total statements received, by query protocol (simple or extended).",
		}, []string{"kind"}),
		QueryErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "winccpg",
			Name:      "query_errors_total",
			Help:      "Total statement errors, by taxonomy kind.",
		}, []string{"kind"}),
		GraphQLCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "winccpg",
			Name:      "graphql_calls_total",
			Help:      "Total GraphQL operations issued, by operation name.",
		}, []string{"operation"}),
		GraphQLCallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "winccpg",
			Name:      "graphql_call_duration_seconds",
			Help:      "GraphQL operation latency, by operation name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(
		m.ConnectionsTotal,
		m.ConnectionsActive,
		m.QueriesTotal,
		m.QueryErrorsTotal,
		m.GraphQLCallsTotal,
		m.GraphQLCallLatency,
	)
	return m
}
