package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_AllVariablesNonNil(t *testing.T) {
	t.Parallel()

	vars := []struct {
		name string
		val  any
	}{
		{"APIRequestsTotal", APIRequestsTotal},
		{"APIRetriesTotal", APIRetriesTotal},
		{"APITokenRefreshes", APITokenRefreshes},
		{"APIRateLimitWaits", APIRateLimitWaits},
		{"APIRequestLatency", APIRequestLatency},
		{"RecordsValidated", RecordsValidated},
		{"ValidationWarnings", ValidationWarnings},
		{"StoreRowsUpserted", StoreRowsUpserted},
		{"StoreErrors", StoreErrors},
		{"RunsTotal", RunsTotal},
		{"RunLatency", RunLatency},
	}

	for _, v := range vars {
		assert.NotNilf(t, v.val, "%s should not be nil", v.name)
	}
}

func TestMetrics_CounterIncrementNoPanic(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { APIRequestsTotal.WithLabelValues("200").Inc() })
	assert.NotPanics(t, func() { APIRetriesTotal.WithLabelValues("throttle").Inc() })
	assert.NotPanics(t, func() { RecordsValidated.WithLabelValues("valid").Add(2) })
	assert.NotPanics(t, func() { StoreErrors.WithLabelValues("upsert").Inc() })
	assert.NotPanics(t, func() { RunsTotal.WithLabelValues("mock", "ok").Inc() })
	assert.NotPanics(t, func() { RunLatency.WithLabelValues("mock").Observe(0.2) })
	assert.NotPanics(t, func() { APIRequestLatency.Observe(0.1) })
}

func TestMetrics_CounterValue(t *testing.T) {
	c := RunsTotal.WithLabelValues("test-mode", "failed")
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}
