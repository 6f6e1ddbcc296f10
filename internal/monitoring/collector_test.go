package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratacore/stratifier/internal/shares"
)

func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) bool {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return true
		}
	}
	return false
}

func TestCollectorRecordShareOutcome(t *testing.T) {
	c, err := NewCollector()
	require.NoError(t, err)

	c.RecordShareOutcome(shares.Accepted)
	c.RecordShareOutcome(shares.RejectHighHash)

	assert.True(t, gatherMetric(t, c.client.GetRegistry(), "stratifier_shares_total"))
}

func TestCollectorObserveLatency(t *testing.T) {
	c, err := NewCollector()
	require.NoError(t, err)

	c.ObserveLatency(shares.LatencyStats{
		Count: 10,
		P50:   5 * time.Millisecond,
		P95:   9 * time.Millisecond,
		P99:   12 * time.Millisecond,
	})

	assert.True(t, gatherMetric(t, c.client.GetRegistry(), "stratifier_share_latency_seconds"))
	assert.True(t, gatherMetric(t, c.client.GetRegistry(), "stratifier_share_latency_p99_seconds"))
}

func TestCollectorExportPoolHashrate(t *testing.T) {
	c, err := NewCollector()
	require.NoError(t, err)

	hm := NewHashmeter(time.Second)
	hm.RecordShare(1, 0, 0, 1.0)
	c.ExportPoolHashrate(hm)

	assert.True(t, gatherMetric(t, c.client.GetRegistry(), "stratifier_pool_hashrate"))
}

func TestCollectorRunTicksUntilStop(t *testing.T) {
	c, err := NewCollector()
	require.NoError(t, err)

	hm := NewHashmeter(5 * time.Millisecond)
	stop := make(chan struct{})

	done := make(chan struct{})
	go func() {
		c.Run(hm, 2*time.Millisecond, stop)
		close(done)
	}()

	time.Sleep(15 * time.Millisecond)
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after stop channel closed")
	}
}

func TestItoaHandlesZeroAndNegative(t *testing.T) {
	assert.Equal(t, "0", itoa(0))
	assert.Equal(t, "42", itoa(42))
	assert.Equal(t, "-7", itoa(-7))
}
