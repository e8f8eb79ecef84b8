//go:build unit

package xenserver

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandremahdhaoui/xenmachinery/pkg/machinery"
)

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	observe := func(op string, err error) {
		m.observe(op, time.Now(), &err)
	}

	observe(opInitialize, nil)
	observe(opStart, nil)
	observe(opStart, machinery.NewError(machinery.ErrAlreadyRunning, "vm-1", "", nil))
	observe(opStop, machinery.NewError(machinery.ErrStop, "vm-1", "", errors.New("boom")))
	observe(opStatus, errors.New("not a machinery error"))

	expected := `
# HELP xenmachinery_operations_total Number of machinery operations by operation and result.
# TYPE xenmachinery_operations_total counter
xenmachinery_operations_total{operation="initialize",result="success"} 1
xenmachinery_operations_total{operation="start",result="already_running"} 1
xenmachinery_operations_total{operation="start",result="success"} 1
xenmachinery_operations_total{operation="status",result="error"} 1
xenmachinery_operations_total{operation="stop",result="stop_error"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "xenmachinery_operations_total"))
	assert.Equal(t, 4, testutil.CollectAndCount(m.duration))
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	err := errors.New("boom")

	assert.NotPanics(t, func() { m.observe(opStart, time.Now(), &err) })
}

func TestResultOf(t *testing.T) {
	for _, rl := range resultLabels {
		t.Run(rl.label, func(t *testing.T) {
			err := machinery.NewError(rl.kind, "vm-1", "", nil)
			assert.Equal(t, rl.label, resultOf(err))
		})
	}
}
