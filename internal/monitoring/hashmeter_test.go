package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHashmeterAccumulatesAndTicks(t *testing.T) {
	hm := NewHashmeter(10 * time.Second)
	hm.RecordShare(1, 100, 10, 65536)

	acc := hm.scope(hm.clients, 1)
	acc.mu.Lock()
	unaccounted := acc.unaccounted
	acc.mu.Unlock()
	assert.Equal(t, 65536.0, unaccounted)

	acc.tick(time.Now().Add(10*time.Second), 10*time.Second)
	assert.Greater(t, hm.ClientHashrate(1), 0.0)
}

func TestHashmeterForgetClientDropsAccumulator(t *testing.T) {
	hm := NewHashmeter(time.Second)
	hm.RecordShare(5, 0, 0, 1.0)
	assert.Contains(t, hm.clients, int64(5))

	hm.ForgetClient(5)
	assert.NotContains(t, hm.clients, int64(5))
}

func TestHashmeterWorkerAggregatesAcrossClients(t *testing.T) {
	hm := NewHashmeter(time.Second)
	hm.RecordShare(1, 200, 0, 1.0)
	hm.RecordShare(2, 200, 0, 1.0)

	acc := hm.scope(hm.workers, 200)
	acc.mu.Lock()
	unaccounted := acc.unaccounted
	acc.mu.Unlock()
	assert.Equal(t, 2.0, unaccounted)
}

func TestUAStatsSubscribeUnsubscribeLifecycle(t *testing.T) {
	hm := NewHashmeter(time.Second)

	norm, allowed := hm.SubscribeUA("cgminer/4.11.1")
	assert.True(t, allowed)
	assert.Equal(t, "cgminer", norm)
	assert.Equal(t, int64(1), hm.UACounts()["cgminer"])

	norm2, allowed2 := hm.SubscribeUA("cgminer/4.9")
	assert.True(t, allowed2)
	assert.Equal(t, int64(2), hm.UACounts()["cgminer"])

	hm.UnsubscribeUA(norm2)
	assert.Equal(t, int64(1), hm.UACounts()["cgminer"])

	hm.UnsubscribeUA(norm)
	_, exists := hm.UACounts()["cgminer"]
	assert.False(t, exists)
}

func TestUAStatsWhitespaceNormalizesToOther(t *testing.T) {
	hm := NewHashmeter(time.Second)
	norm, allowed := hm.SubscribeUA("   ")
	assert.True(t, allowed)
	assert.Equal(t, "Other", norm)
}

func TestUAStatsWhitelistRejectsNonMatchingPrefix(t *testing.T) {
	hm := NewHashmeterWithWhitelist(time.Second, []string{"cgminer", "bfgminer"})

	_, allowed := hm.SubscribeUA("cgminer/4.11.1")
	assert.True(t, allowed)

	_, allowed2 := hm.SubscribeUA("evilminer/1.0")
	assert.False(t, allowed2)
}

func TestExponentialDecayBounds(t *testing.T) {
	assert.InDelta(t, 1.0, exponentialDecay(0, 10), 1e-9)
	assert.Equal(t, 0.0, exponentialDecay(10, 0))
	assert.Less(t, exponentialDecay(100, 10), 0.01)
}
