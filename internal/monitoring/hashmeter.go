package monitoring

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/stratacore/stratifier/internal/stratum/hashrate"
	"github.com/stratacore/stratifier/internal/useragent"
)

// emaAccumulator is one exponentially-weighted difficulty-shares-per-second
// scope (a single client, worker, user, UA bucket, or the whole pool). Each
// accepted share's difficulty is added to unaccounted; each tick moves
// unaccounted into dsps with a decay weighted by how long the tick window
// was, then zeroes unaccounted.
type emaAccumulator struct {
	mu          sync.Mutex
	unaccounted float64
	dsps        float64
	lastTick    time.Time
}

func newEMAAccumulator() *emaAccumulator {
	return &emaAccumulator{lastTick: time.Now()}
}

func (e *emaAccumulator) addDifficulty(diff float64) {
	e.mu.Lock()
	e.unaccounted += diff
	e.mu.Unlock()
}

// tick folds unaccounted difficulty into the EMA using the standard
// decay_time smoothing constant: the shorter the elapsed interval relative
// to decayTime, the less weight the new sample carries.
func (e *emaAccumulator) tick(now time.Time, decayTime time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	elapsed := now.Sub(e.lastTick).Seconds()
	e.lastTick = now
	if elapsed <= 0 {
		return
	}

	rate := e.unaccounted / elapsed
	e.unaccounted = 0

	alpha := 1 - exponentialDecay(elapsed, decayTime.Seconds())
	e.dsps = e.dsps + alpha*(rate-e.dsps)
}

// exponentialDecay returns e^(-elapsed/tau), the fraction of the old EMA
// value that survives one tick of length elapsed against time constant tau.
func exponentialDecay(elapsed, tau float64) float64 {
	if tau <= 0 {
		return 0
	}
	return math.Exp(-elapsed / tau)
}

// hashrate converts the accumulator's difficulty-shares-per-second reading
// into hashes/sec: each accepted difficulty-1 share represents 2^32 hashes
// of search space on average.
func (e *emaAccumulator) hashrate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dsps * hashrate.Diff1Target
}

// =============================================================================
// Hashmeter
// =============================================================================

// Hashmeter rolls per-client, per-worker, per-user and pool-wide EMA
// hashrate windows, ticked periodically by the watchdog.
type Hashmeter struct {
	DecayTime time.Duration

	mu      sync.Mutex
	clients map[int64]*emaAccumulator
	workers map[int64]*emaAccumulator
	users   map[int64]*emaAccumulator
	pool    *emaAccumulator

	ua *uaStats
}

// NewHashmeter creates a hashmeter with the given EMA smoothing window.
func NewHashmeter(decayTime time.Duration) *Hashmeter {
	return &Hashmeter{
		DecayTime: decayTime,
		clients:   make(map[int64]*emaAccumulator),
		workers:   make(map[int64]*emaAccumulator),
		users:     make(map[int64]*emaAccumulator),
		pool:      newEMAAccumulator(),
		ua:        newUAStats(nil),
	}
}

// NewHashmeterWithWhitelist creates a hashmeter whose user-agent aggregation
// rejects subscribes whose normalised UA is not a prefix match of any
// pattern in whitelist. A nil or empty whitelist accepts everything.
func NewHashmeterWithWhitelist(decayTime time.Duration, whitelist []string) *Hashmeter {
	hm := NewHashmeter(decayTime)
	hm.ua = newUAStats(whitelist)
	return hm
}

// RecordShare credits an accepted share's difficulty to the client, worker,
// user and pool-wide scopes.
func (h *Hashmeter) RecordShare(clientID, workerID, userID int64, diff float64) {
	h.scope(h.clients, clientID).addDifficulty(diff)
	if workerID != 0 {
		h.scope(h.workers, workerID).addDifficulty(diff)
	}
	if userID != 0 {
		h.scope(h.users, userID).addDifficulty(diff)
	}
	h.pool.addDifficulty(diff)
}

func (h *Hashmeter) scope(m map[int64]*emaAccumulator, id int64) *emaAccumulator {
	h.mu.Lock()
	defer h.mu.Unlock()
	acc, ok := m[id]
	if !ok {
		acc = newEMAAccumulator()
		m[id] = acc
	}
	return acc
}

// Tick folds every scope's unaccounted shares into its EMA. Called by the
// watchdog's recurring pass.
func (h *Hashmeter) Tick() {
	now := time.Now()
	h.mu.Lock()
	accs := make([]*emaAccumulator, 0, len(h.clients)+len(h.workers)+len(h.users)+1)
	for _, a := range h.clients {
		accs = append(accs, a)
	}
	for _, a := range h.workers {
		accs = append(accs, a)
	}
	for _, a := range h.users {
		accs = append(accs, a)
	}
	accs = append(accs, h.pool)
	h.mu.Unlock()

	for _, a := range accs {
		a.tick(now, h.DecayTime)
	}
}

// PoolHashrate returns the current pool-wide hashrate estimate in hashes/sec.
func (h *Hashmeter) PoolHashrate() float64 { return h.pool.hashrate() }

// ClientHashrate returns a connected client's hashrate estimate, or 0 if the
// client has never submitted a share.
func (h *Hashmeter) ClientHashrate(clientID int64) float64 {
	h.mu.Lock()
	acc, ok := h.clients[clientID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	return acc.hashrate()
}

// WorkerHashrate returns a worker's aggregated hashrate across all of its
// connected client instances.
func (h *Hashmeter) WorkerHashrate(workerID int64) float64 {
	h.mu.Lock()
	acc, ok := h.workers[workerID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	return acc.hashrate()
}

// ForgetClient drops a disconnected client's accumulator, as the watchdog
// does for dropped registry entries.
func (h *Hashmeter) ForgetClient(clientID int64) {
	h.mu.Lock()
	delete(h.clients, clientID)
	h.mu.Unlock()
}

// SubscribeUA records a new client's normalised user-agent, returning false
// if a configured whitelist rejects it (the caller should refuse the
// subscribe).
func (h *Hashmeter) SubscribeUA(ua string) (normalized string, allowed bool) {
	return h.ua.subscribe(ua)
}

// UnsubscribeUA releases a disconnected client's user-agent count.
func (h *Hashmeter) UnsubscribeUA(normalized string) {
	h.ua.unsubscribe(normalized)
}

// UACounts returns a snapshot of the current normalised-UA population.
func (h *Hashmeter) UACounts() map[string]int64 {
	return h.ua.snapshot()
}

// =============================================================================
// User-agent aggregation
// =============================================================================

// uaStats is the persistent normalised-UA population map: subscribe/
// unsubscribe adjust a reference count, and the entry is removed once the
// count reaches zero.
type uaStats struct {
	mu        sync.Mutex
	counts    map[string]int64
	whitelist []string
}

func newUAStats(whitelist []string) *uaStats {
	return &uaStats{counts: make(map[string]int64), whitelist: whitelist}
}

func (u *uaStats) subscribe(ua string) (string, bool) {
	normalized := useragent.Normalize(ua)
	if len(u.whitelist) > 0 && !matchesWhitelist(normalized, u.whitelist) {
		return normalized, false
	}

	u.mu.Lock()
	u.counts[normalized]++
	u.mu.Unlock()
	return normalized, true
}

func (u *uaStats) unsubscribe(normalized string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.counts[normalized] <= 1 {
		delete(u.counts, normalized)
		return
	}
	u.counts[normalized]--
}

func (u *uaStats) snapshot() map[string]int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string]int64, len(u.counts))
	for k, v := range u.counts {
		out[k] = v
	}
	return out
}

func matchesWhitelist(normalized string, whitelist []string) bool {
	for _, pattern := range whitelist {
		if strings.HasPrefix(normalized, pattern) {
			return true
		}
	}
	return false
}

