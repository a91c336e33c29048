package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Increment(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Increment(ResultSuccess)
	m.Increment(ResultSuccess)
	m.Increment(ResultCooldown)
	m.TxRetry()

	if got := testutil.ToFloat64(m.IncrementsTotal.WithLabelValues(ResultSuccess)); got != 2 {
		t.Errorf("success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.IncrementsTotal.WithLabelValues(ResultCooldown)); got != 1 {
		t.Errorf("cooldown = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TxRetriesTotal); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Increment(ResultSuccess)
	m.TxRetry()
}
