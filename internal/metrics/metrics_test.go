package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Login("success")
	m.Login("success")
	m.Login("invalid_credentials")
	m.TokensPurged(3)
	m.TokensPurged(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LoginsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoginsTotal.WithLabelValues("invalid_credentials")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TokensPurgedTotal))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Login("success")
		m.ResetRequest("sent")
		m.ResetRedeem("ok")
		m.TokensPurged(1)
	})
}
