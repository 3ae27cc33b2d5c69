package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTransfer_CountsBytesOnlyOnSuccess(t *testing.T) {
	before := testutil.ToFloat64(transferBytesTotal.WithLabelValues(Inbound))

	RecordTransfer(Inbound, 512, true)
	RecordTransfer(Inbound, 4096, false)

	assert.Equal(t, before+512, testutil.ToFloat64(transferBytesTotal.WithLabelValues(Inbound)))
	assert.GreaterOrEqual(t, testutil.ToFloat64(transfersTotal.WithLabelValues(Inbound, "error")), 1.0)
}

func TestSetCacheUsage(t *testing.T) {
	SetCacheUsage(3<<20, 7)

	assert.Equal(t, float64(3<<20), testutil.ToFloat64(cacheBytes))
	assert.Equal(t, 7.0, testutil.ToFloat64(cacheEntries))
}
