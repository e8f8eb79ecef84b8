/*
Copyright 2024 Alexandre Mahdhaoui

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

package xenserver

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alexandremahdhaoui/xenmachinery/pkg/machinery"
)

const (
	metricsNamespace = "xenmachinery"

	opInitialize = "initialize"
	opStart      = "start"
	opStop       = "stop"
	opStatus     = "status"
	opClose      = "close"

	resultSuccess = "success"
)

// Metrics instruments Backend operations. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the backend metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{ //nolint:exhaustruct
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Number of machinery operations by operation and result.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{ //nolint:exhaustruct
			Namespace: metricsNamespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of machinery operations, hypervisor calls included.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),
	}

	reg.MustRegister(m.operations, m.duration)

	return m
}

// observe is meant to be deferred with a pointer to the named error result.
func (m *Metrics) observe(operation string, start time.Time, err *error) {
	if m == nil {
		return
	}

	result := resultSuccess
	if err != nil && *err != nil {
		result = resultOf(*err)
	}

	m.operations.WithLabelValues(operation, result).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

var resultLabels = []struct {
	kind  error
	label string
}{
	{machinery.ErrConfiguration, "configuration_error"},
	{machinery.ErrConnection, "connection_error"},
	{machinery.ErrMissingMachine, "missing_machine"},
	{machinery.ErrMissingSnapshot, "missing_snapshot"},
	{machinery.ErrAlreadyRunning, "already_running"},
	{machinery.ErrRevert, "revert_error"},
	{machinery.ErrStart, "start_error"},
	{machinery.ErrStop, "stop_error"},
	{machinery.ErrStatus, "status_error"},
	{machinery.ErrNotInitialized, "not_initialized"},
}

func resultOf(err error) string {
	for _, rl := range resultLabels {
		if errors.Is(err, rl.kind) {
			return rl.label
		}
	}
	return "error"
}
