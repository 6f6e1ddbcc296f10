package monitoring

import (
	"net/http"
	"time"

	"github.com/stratacore/stratifier/internal/shares"
)

// Collector bridges the hashmeter and share-pipeline latency stats into the
// Prometheus registry exposed by PrometheusClientImpl.
type Collector struct {
	client *PrometheusClientImpl
}

// NewCollector wraps a Prometheus client for pool metrics export. No
// upstream Prometheus URL is ever configured here: the stratifier only
// exports metrics, it never queries one back.
func NewCollector() (*Collector, error) {
	client, err := NewPrometheusClient("")
	if err != nil {
		return nil, err
	}
	return &Collector{client: client}, nil
}

// Handler returns the HTTP handler to mount at the metrics scrape endpoint.
func (c *Collector) Handler() http.Handler {
	return c.client.GetHandler()
}

// RecordShareOutcome increments the shares-by-outcome counter.
func (c *Collector) RecordShareOutcome(outcome shares.Outcome) {
	_ = c.client.RecordCounter("stratifier_shares_total", map[string]string{
		"outcome": outcome.String(),
	}, 1)
}

// RecordBlockFound increments the block-candidate counter.
func (c *Collector) RecordBlockFound() {
	_ = c.client.RecordCounter("stratifier_blocks_found_total", nil, 1)
}

// ObserveLatency exports the rolling share-processing latency distribution
// as both a histogram sample and percentile gauges.
func (c *Collector) ObserveLatency(snap shares.LatencyStats) {
	_ = c.client.RecordHistogram("stratifier_share_latency_seconds", nil, snap.P50.Seconds())
	_ = c.client.RecordGauge("stratifier_share_latency_p50_seconds", nil, snap.P50.Seconds())
	_ = c.client.RecordGauge("stratifier_share_latency_p95_seconds", nil, snap.P95.Seconds())
	_ = c.client.RecordGauge("stratifier_share_latency_p99_seconds", nil, snap.P99.Seconds())
}

// ExportPoolHashrate publishes the pool-wide hashrate gauge.
func (c *Collector) ExportPoolHashrate(h *Hashmeter) {
	_ = c.client.RecordGauge("stratifier_pool_hashrate", nil, h.PoolHashrate())
}

// ExportWorkerHashrate publishes a single worker's hashrate gauge, labelled
// by worker id.
func (c *Collector) ExportWorkerHashrate(workerID int64, hashrate float64) {
	_ = c.client.RecordGauge("stratifier_worker_hashrate", map[string]string{
		"worker_id": itoa(workerID),
	}, hashrate)
}

// ExportConnections publishes the current connected/authorised client
// gauges.
func (c *Collector) ExportConnections(total, authorised int64) {
	_ = c.client.RecordGauge("stratifier_clients_connected", nil, float64(total))
	_ = c.client.RecordGauge("stratifier_clients_authorised", nil, float64(authorised))
}

func itoa(id int64) string {
	if id == 0 {
		return "0"
	}
	neg := id < 0
	if neg {
		id = -id
	}
	buf := [20]byte{}
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = byte('0' + id%10)
		id /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Run ticks the hashmeter and flushes its gauges on the given interval until
// stop is closed. Intended to be started alongside the watchdog's own
// recurring pass.
func (c *Collector) Run(hm *Hashmeter, tick time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			hm.Tick()
			c.ExportPoolHashrate(hm)
		}
	}
}
