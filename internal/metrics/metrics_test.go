package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(singleton().allocations.WithLabelValues("capacity_exceeded"))
	Allocation("capacity_exceeded")
	Allocation("capacity_exceeded")
	require.Equal(t, before+2, testutil.ToFloat64(singleton().allocations.WithLabelValues("capacity_exceeded")))

	CacheLookup("capacity", "hit")
	require.GreaterOrEqual(t, testutil.ToFloat64(singleton().cacheLookups.WithLabelValues("capacity", "hit")), 1.0)

	ReconcilePass(150 * time.Millisecond)
	require.Equal(t, 1, testutil.CollectAndCount(singleton().reconcileDuration))
}
