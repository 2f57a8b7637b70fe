package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWatcherMetrics()
	require.NoError(t, m.Register(reg))

	m.PendingSeen.Inc()
	m.ActiveRaces.Set(2)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PendingSeen))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveRaces))

	// second registration of the same collectors must fail
	assert.Error(t, m.Register(reg))
}
