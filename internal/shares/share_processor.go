// Package shares implements the share-validation pipeline: gatekeeping,
// workbase pin, header reconstruction, job-id-aware difficulty selection,
// dedup-window checking, block-candidate detection, scoring, and latency
// measurement.
package shares

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/stratacore/stratifier/internal/database"
	"github.com/stratacore/stratifier/internal/registry"
	"github.com/stratacore/stratifier/internal/workbase"
)

// Outcome is the closed set of share-submission results (the failure
// taxonomy plus Accepted), surfaced to miners as stable strings.
type Outcome int

const (
	Accepted Outcome = iota
	RejectUnauthorized
	RejectNotSubscribed
	RejectStale
	RejectDuplicate
	RejectHighHash
	RejectLowDifficulty
	RejectInvalidParams
	RejectBadWorker
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "Accepted"
	case RejectUnauthorized:
		return "Unauthorized"
	case RejectNotSubscribed:
		return "Not subscribed"
	case RejectStale:
		return "Stale"
	case RejectDuplicate:
		return "Duplicate share"
	case RejectHighHash:
		return "High hash"
	case RejectLowDifficulty:
		return "Low difficulty"
	case RejectInvalidParams:
		return "Invalid parameters"
	case RejectBadWorker:
		return "Bad username/worker"
	default:
		return "Unknown"
	}
}

// Share is a decoded mining.submit, kept close to the wire parameters and
// extended with the bookkeeping fields ProcessShare fills in for storage and
// statistics once the pipeline has run.
type Share struct {
	ClientID   int64
	WorkbaseID int64
	Enonce2    []byte
	NTime      uint32
	Nonce      uint32
	WorkerName string

	// Filled in by ProcessShare.
	MinerID    int64
	UserID     int64
	Hash       string
	Difficulty float64
	IsValid    bool
	Timestamp  time.Time
}

// ShareValidationResult mirrors the pipeline outcome in the shape the batch
// processor and callers already expect.
type ShareValidationResult struct {
	IsValid bool
	Hash    string
	Error   string
}

// ShareProcessingResult represents the result of complete share processing.
type ShareProcessingResult struct {
	Success        bool
	ProcessedShare *Share
	Outcome        Outcome
	BlockFound     bool
	Error          string
}

// ShareStatistics represents overall share processing statistics.
type ShareStatistics struct {
	TotalShares     int64
	ValidShares     int64
	InvalidShares   int64
	TotalDifficulty float64
	LastUpdated     time.Time
}

// MinerStatistics represents per-miner share statistics.
type MinerStatistics struct {
	MinerID         int64
	TotalShares     int64
	ValidShares     int64
	InvalidShares   int64
	TotalDifficulty float64
	LastShare       time.Time
}

// InvalidStreakThreshold is the number of consecutive above-target shares
// that marks a client for lazy drop.
const InvalidStreakThreshold = 50

// SharePersister is the pipeline's only dependency on durable storage; a
// *database.ShareBatchInserter satisfies it in production.
type SharePersister interface {
	Insert(share *database.Share)
}

// ShareProcessor validates and scores stratum share submissions against the
// live workbase set and client registry.
type ShareProcessor struct {
	Workbases *workbase.Manager
	Clients   *registry.Registry
	Persister SharePersister // optional; nil disables share persistence

	dedup   *dedupWindow
	latency *latencyTracker

	statsMutex sync.RWMutex
	stats      ShareStatistics
	minerStats map[int64]*MinerStatistics
}

// NewShareProcessor creates a share processor with no workbase manager or
// client registry bound, which puts it in the statistics-only mode used by
// the unit tests that exercise the legacy direct-Share entry points.
func NewShareProcessor() *ShareProcessor {
	return &ShareProcessor{
		dedup:      newDedupWindow(),
		latency:    newLatencyTracker(),
		minerStats: make(map[int64]*MinerStatistics),
		stats:      ShareStatistics{LastUpdated: time.Now()},
	}
}

// NewPipeline creates a share processor wired to the live workbase manager
// and client registry, as used by the stratum server.
func NewPipeline(workbases *workbase.Manager, clients *registry.Registry) *ShareProcessor {
	sp := NewShareProcessor()
	sp.Workbases = workbases
	sp.Clients = clients
	return sp
}

// SetPersister wires a durable sink every processed share (accepted or
// rejected) is recorded to. Called once at startup; nil leaves persistence
// disabled (the statistics-only test construction path).
func (sp *ShareProcessor) SetPersister(p SharePersister) {
	sp.Persister = p
}

// EvictWorkbase drops the dedup window entries for a retired workbase id;
// called by the watchdog sweep once a workbase is freed.
func (sp *ShareProcessor) EvictWorkbase(id int64) {
	sp.dedup.evict(id)
}

// LatencySnapshot returns the current share-processing latency distribution.
func (sp *ShareProcessor) LatencySnapshot() LatencyStats {
	return sp.latency.snapshot()
}

// ValidateShare runs the full pipeline against the live registry/workbase
// manager and reports only the pass/fail outcome. Unlike ProcessShare it does
// not record latency, update the share counts or per-miner rollups, or
// persist the share; the pipeline's own side effects (dedup-window insert,
// client share counters, pool-wide difficulty credit) still take place.
func (sp *ShareProcessor) ValidateShare(share *Share) ShareValidationResult {
	res := sp.submit(share)
	out := ShareValidationResult{IsValid: res.Outcome == Accepted}
	if res.Outcome != Accepted {
		out.Error = res.Outcome.String()
	} else {
		out.Hash = hex.EncodeToString(res.hash[:])
	}
	return out
}

// ProcessShare runs the full pipeline and updates statistics.
func (sp *ShareProcessor) ProcessShare(share *Share) ShareProcessingResult {
	start := time.Now()
	res := sp.submit(share)
	sp.latency.record(time.Since(start))

	share.IsValid = res.Outcome == Accepted
	if share.IsValid {
		share.Hash = hex.EncodeToString(res.hash[:])
	}
	share.Timestamp = time.Now()

	sp.updateStatistics(share)
	sp.persist(share)

	out := ShareProcessingResult{
		Success:        share.IsValid,
		ProcessedShare: share,
		Outcome:        res.Outcome,
		BlockFound:     res.blockFound,
	}
	if !share.IsValid {
		out.Error = res.Outcome.String()
	}
	return out
}

type pipelineResult struct {
	Outcome    Outcome
	hash       [32]byte
	blockFound bool
}

// submit runs the validation pipeline's gatekeeping through scoring stages.
// Latency is recorded by the caller, which controls the measurement window.
func (sp *ShareProcessor) submit(share *Share) pipelineResult {
	if share == nil {
		return pipelineResult{Outcome: RejectInvalidParams}
	}
	if sp.Clients == nil || sp.Workbases == nil {
		// Statistics-only mode (legacy direct construction in tests): accept
		// whatever difficulty is already attached to the share.
		if share.Difficulty <= 0 {
			return pipelineResult{Outcome: RejectLowDifficulty}
		}
		return pipelineResult{Outcome: Accepted}
	}

	// Stage 1: gatekeeping.
	client, ok := sp.Clients.Get(share.ClientID)
	if !ok {
		return pipelineResult{Outcome: RejectStale}
	}
	switch client.State() {
	case registry.StateNew:
		return pipelineResult{Outcome: RejectNotSubscribed}
	case registry.StateAuthorised:
		// proceed
	default:
		return pipelineResult{Outcome: RejectStale}
	}
	if share.WorkerName != "" && share.WorkerName != client.WorkerName {
		return pipelineResult{Outcome: RejectBadWorker}
	}

	// Stage 2: workbase pin.
	wb, err := sp.Workbases.Lookup(share.WorkbaseID)
	if err != nil {
		return pipelineResult{Outcome: RejectStale}
	}
	defer wb.Unpin()

	// Stage 3: header construction.
	enonce1 := make([]byte, 8)
	binary.BigEndian.PutUint64(enonce1, client.Enonce1)
	if wb.Enonce1ConstLen > 0 && wb.Enonce1ConstLen <= len(enonce1) {
		enonce1 = enonce1[len(enonce1)-wb.Enonce1ConstLen:]
	}
	hash, _ := wb.ComputeHeaderHash(enonce1, share.Enonce2, share.NTime, share.Nonce)

	// Stage 4: difficulty selection.
	diff := client.EffectiveDiff(share.WorkbaseID)
	if diff <= 0 {
		return pipelineResult{Outcome: RejectLowDifficulty, hash: hash}
	}

	// Stage 5: validation and classification.
	clientTarget := targetForDifficulty(diff)
	if !hashMeetsTarget(hash, clientTarget) {
		client.RecordInvalid(InvalidStreakThreshold)
		return pipelineResult{Outcome: RejectHighHash, hash: hash}
	}

	fp := fingerprint{
		WorkbaseID: share.WorkbaseID,
		Enonce1:    client.Enonce1,
		Enonce2:    hex.EncodeToString(share.Enonce2),
		NTime:      share.NTime,
		Nonce:      share.Nonce,
	}
	if !sp.dedup.checkAndInsert(fp) {
		return pipelineResult{Outcome: RejectDuplicate, hash: hash}
	}

	blockFound := hashMeetsTarget(hash, new(big.Int).SetBytes(wb.NetworkTarget[:]))

	client.Touch()
	client.RecordValid()
	client.DiffMu.Lock()
	client.SSDC++
	client.LastShare = time.Now()
	client.DiffMu.Unlock()

	share.Difficulty = diff
	sp.creditPool(diff)

	return pipelineResult{Outcome: Accepted, hash: hash, blockFound: blockFound}
}

// persist queues share for durable storage, recording both accepted and
// rejected submissions so is_valid reflects the real outcome.
func (sp *ShareProcessor) persist(share *Share) {
	if sp.Persister == nil {
		return
	}
	var enonce1 uint64
	if sp.Clients != nil {
		if c, ok := sp.Clients.Get(share.ClientID); ok {
			enonce1 = c.Enonce1
		}
	}
	sp.Persister.Insert(&database.Share{
		WorkerID:   share.MinerID,
		UserID:     share.UserID,
		WorkbaseID: share.WorkbaseID,
		Difficulty: share.Difficulty,
		IsValid:    share.IsValid,
		Timestamp:  share.Timestamp,
		Enonce1:    enonce1,
		Enonce2:    hex.EncodeToString(share.Enonce2),
		NTime:      share.NTime,
		Nonce:      share.Nonce,
		Hash:       share.Hash,
	})
}

func (sp *ShareProcessor) creditPool(diff float64) {
	sp.statsMutex.Lock()
	defer sp.statsMutex.Unlock()
	sp.stats.TotalDifficulty += diff
}

// GetStatistics returns overall share processing statistics.
func (sp *ShareProcessor) GetStatistics() ShareStatistics {
	sp.statsMutex.RLock()
	defer sp.statsMutex.RUnlock()
	return sp.stats
}

// GetMinerStatistics returns statistics for a specific miner.
func (sp *ShareProcessor) GetMinerStatistics(minerID int64) MinerStatistics {
	sp.statsMutex.RLock()
	defer sp.statsMutex.RUnlock()

	if stats, exists := sp.minerStats[minerID]; exists {
		return *stats
	}
	return MinerStatistics{MinerID: minerID}
}

// updateStatistics updates share processing statistics. Unlike creditPool
// (the pool-wide accumulator scored inside submit), this also tracks the
// accept/reject counts and per-miner rollups once a Share carries a MinerID.
func (sp *ShareProcessor) updateStatistics(share *Share) {
	sp.statsMutex.Lock()
	defer sp.statsMutex.Unlock()

	sp.stats.TotalShares++
	if share.IsValid {
		sp.stats.ValidShares++
	} else {
		sp.stats.InvalidShares++
	}
	sp.stats.LastUpdated = time.Now()

	if share.MinerID == 0 {
		return
	}
	minerStats, exists := sp.minerStats[share.MinerID]
	if !exists {
		minerStats = &MinerStatistics{MinerID: share.MinerID}
		sp.minerStats[share.MinerID] = minerStats
	}
	minerStats.TotalShares++
	if share.IsValid {
		minerStats.ValidShares++
		minerStats.TotalDifficulty += share.Difficulty
	} else {
		minerStats.InvalidShares++
	}
	minerStats.LastShare = share.Timestamp
}

// =============================================================================
// Target math
// =============================================================================

// diff1Target is the canonical difficulty-1 target (compact bits 0x1d00ffff
// expanded: mantissa 0xffff shifted by 8*(0x1d-3) bits).
var diff1Target = new(big.Int).Lsh(big.NewInt(0xffff), 208)

// targetForDifficulty computes the big-endian target a header hash must be
// at or under to satisfy the given (possibly fractional) difficulty.
func targetForDifficulty(diff float64) *big.Int {
	if diff <= 0 {
		return big.NewInt(0)
	}
	t := new(big.Float).SetInt(diff1Target)
	t.Quo(t, big.NewFloat(diff))
	result, _ := t.Int(nil)
	return result
}

// hashMeetsTarget reports whether a header hash, reversed into the
// conventional big-endian block-hash byte order, is at or under target.
func hashMeetsTarget(hash [32]byte, target *big.Int) bool {
	rev := make([]byte, 32)
	for i := range hash {
		rev[i] = hash[31-i]
	}
	h := new(big.Int).SetBytes(rev)
	return h.Cmp(target) <= 0
}

// =============================================================================
// Dedup window
// =============================================================================

type fingerprint struct {
	WorkbaseID int64
	Enonce1    uint64
	Enonce2    string
	NTime      uint32
	Nonce      uint32
}

// dedupWindow tracks, per workbase id, the set of share fingerprints already
// seen; entries for a workbase are dropped wholesale when that workbase is
// retired (EvictWorkbase), keeping memory bounded by the live workbase set.
type dedupWindow struct {
	mu   sync.Mutex
	seen map[int64]map[fingerprint]struct{}
}

func newDedupWindow() *dedupWindow {
	return &dedupWindow{seen: make(map[int64]map[fingerprint]struct{})}
}

// checkAndInsert returns false if fp was already present (a duplicate), true
// if it was newly inserted.
func (d *dedupWindow) checkAndInsert(fp fingerprint) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.seen[fp.WorkbaseID]
	if !ok {
		m = make(map[fingerprint]struct{})
		d.seen[fp.WorkbaseID] = m
	}
	if _, dup := m[fp]; dup {
		return false
	}
	m[fp] = struct{}{}
	return true
}

func (d *dedupWindow) evict(workbaseID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, workbaseID)
}

// =============================================================================
// Latency tracking
// =============================================================================

// LatencyStats is a point-in-time snapshot of the share-processing latency
// distribution.
type LatencyStats struct {
	Count int64
	Min   time.Duration
	Max   time.Duration
	Sum   time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
}

const latencyWindowSize = 100

// latencyTracker maintains a rolling window of the most recent latency
// samples (for percentile computation) alongside lifetime min/max/sum.
type latencyTracker struct {
	mu      sync.Mutex
	samples [latencyWindowSize]time.Duration
	next    int
	count   int64
	min     time.Duration
	max     time.Duration
	sum     time.Duration
}

func newLatencyTracker() *latencyTracker { return &latencyTracker{} }

func (lt *latencyTracker) record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if lt.count == 0 || d < lt.min {
		lt.min = d
	}
	if d > lt.max {
		lt.max = d
	}
	lt.sum += d
	lt.count++

	lt.samples[lt.next%latencyWindowSize] = d
	lt.next++
}

func (lt *latencyTracker) snapshot() LatencyStats {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	n := lt.count
	if n > latencyWindowSize {
		n = latencyWindowSize
	}
	sorted := make([]time.Duration, n)
	copy(sorted, lt.samples[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	pick := func(p float64) time.Duration {
		if n == 0 {
			return 0
		}
		idx := int(p * float64(n-1))
		return sorted[idx]
	}

	return LatencyStats{
		Count: lt.count,
		Min:   lt.min,
		Max:   lt.max,
		Sum:   lt.sum,
		P50:   pick(0.50),
		P95:   pick(0.95),
		P99:   pick(0.99),
	}
}
