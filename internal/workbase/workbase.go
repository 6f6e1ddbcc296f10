// Package workbase materialises consensus-node block templates into the
// immutable-after-publish artifacts ("workbases") that stratum jobs are
// derived from: coinbase assembly, merkle branch precomputation, and the
// 80-byte header scaffold.
package workbase

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/stratacore/stratifier/internal/stratum/merkle"
)

var (
	ErrNotFound  = errors.New("workbase: id not found")
	ErrRetired   = errors.New("workbase: retired")
	ErrNilPinned = errors.New("workbase: nil workbase cannot be pinned")
)

// WorkbaseRetention is how long a superseded workbase is kept alive for late
// share lookups before it becomes eligible for retirement. Resolved as an
// absolute-age policy rather than a height-delta one.
const WorkbaseRetention = 2 * time.Minute

// Template is the fully-formed block template handed to Ingest by the
// (out of scope) consensus-node RPC client.
type Template struct {
	Height          uint32
	PrevHash        [32]byte
	Version         uint32
	NBits           uint32
	NTime           uint32
	NetworkTarget   [32]byte
	CoinbaseValue   uint64
	WitnessCommit   []byte // optional SegWit witness commitment output script, nil if none
	TxHashes        [][]byte
	CoinbaseAuxFlag []byte // pool signature / aux data embedded in coinbase scriptSig
}

// PayoutOutput is one output of the generated coinbase transaction.
type PayoutOutput struct {
	Script []byte
	Value  uint64
}

// Workbase is an immutable (post-publish) materialisation of a Template.
// Fields here must never be mutated after Publish; mutate via a new Workbase
// and republish instead.
type Workbase struct {
	ID       int64
	Created  time.Time
	Height   uint32
	PrevHash [32]byte
	Version  uint32
	NBits    uint32
	NTime    uint32

	NetworkTarget [32]byte
	NetworkDiff   float64

	CoinbasePrefix []byte // up to the extranetwork insertion point (coinb1)
	CoinbaseSuffix []byte // after the extranonce (coinb2)
	Enonce1ConstLen int
	Enonce2Len      int

	MerkleBranch [][]byte // precomputed sibling hashes for the coinbase path

	TxHashes [][]byte // needed for full block assembly on a candidate

	Incomplete bool // true when received via federation before full txn data arrives

	readers int32
	mu      sync.Mutex
}

// Pin increments the reader count; callers must Unpin when done. Pin never
// blocks and is safe to call concurrently with Retire.
func (w *Workbase) Pin() error {
	if w == nil {
		return ErrNilPinned
	}
	w.mu.Lock()
	w.readers++
	w.mu.Unlock()
	return nil
}

// Unpin decrements the reader count.
func (w *Workbase) Unpin() {
	if w == nil {
		return
	}
	w.mu.Lock()
	if w.readers > 0 {
		w.readers--
	}
	w.mu.Unlock()
}

func (w *Workbase) readerCount() int32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readers
}

// DonationConfig controls the pool's self-payout split on every coinbase.
type DonationConfig struct {
	// Percent is clamped to [0.1, 99.9] by NormalizeDonationPercent before use.
	Percent float64
	Script  []byte
}

// NormalizeDonationPercent clamps a donation percentage into [0.1, 99.9].
func NormalizeDonationPercent(pct float64) float64 {
	if pct < 0.1 {
		return 0.1
	}
	if pct > 99.9 {
		return 99.9
	}
	return pct
}

// Manager owns the published/retained set of workbases and assigns ids.
type Manager struct {
	mu       sync.RWMutex
	current  *Workbase
	byID     map[int64]*Workbase
	nextID   int64
	allowLow bool // allow_low_diff: pass network diff through below 1.0

	PoolPayout   PayoutOutput
	DonationCfg  DonationConfig
	merkle       *merkle.Builder
}

// NewManager creates an empty workbase manager.
func NewManager(pool PayoutOutput, donation DonationConfig, allowLowDiff bool) *Manager {
	return &Manager{
		byID:        make(map[int64]*Workbase),
		nextID:      1,
		allowLow:    allowLowDiff,
		PoolPayout:  pool,
		DonationCfg: donation,
		merkle:      merkle.NewBuilder(),
	}
}

// NormalizePoolDiff rounds a pool difficulty value: fractional diffs
// below 1.0 are preserved exactly; at or above 1.0 they are rounded to the
// nearest integer. Idempotent by construction.
func NormalizePoolDiff(x float64) float64 {
	if x < 1.0 {
		return x
	}
	return roundHalfUp(x)
}

func roundHalfUp(x float64) float64 {
	if x >= 0 {
		return float64(int64(x + 0.5))
	}
	return -float64(int64(-x + 0.5))
}

// NormalizeNetworkDiff applies the allow_low_diff clamp: below 1.0 is
// clamped to 1.0 unless the pool explicitly allows low-difficulty networks
// (e.g. regtest).
func (m *Manager) NormalizeNetworkDiff(diff float64) float64 {
	if !m.allowLow && diff < 1.0 {
		return 1.0
	}
	return diff
}

// Ingest builds a new Workbase from a Template: assembles the coinbase
// (BIP34 height push, extranonce insertion slot, witness commitment,
// donation-clamped pool payout), precomputes merkle branches, and returns
// the workbase without publishing it.
func (m *Manager) Ingest(t Template, enonce1ConstLen, enonce2Len int, networkDiff float64) (*Workbase, error) {
	prefix, suffix := m.buildCoinbase(t)

	branch := m.merkle.BuildBranch(t.TxHashes)

	wb := &Workbase{
		Created:         time.Now(),
		Height:          t.Height,
		PrevHash:        t.PrevHash,
		Version:         t.Version,
		NBits:           t.NBits,
		NTime:           t.NTime,
		NetworkTarget:   t.NetworkTarget,
		NetworkDiff:     m.NormalizeNetworkDiff(networkDiff),
		CoinbasePrefix:  prefix,
		CoinbaseSuffix:  suffix,
		Enonce1ConstLen: enonce1ConstLen,
		Enonce2Len:      enonce2Len,
		MerkleBranch:    branch,
		TxHashes:        t.TxHashes,
	}
	return wb, nil
}

// buildCoinbase assembles the coinbase prefix/suffix around the extranonce
// insertion point. The prefix carries the BIP34 minimally-encoded height
// push plus any pool signature; the suffix carries the witness commitment
// (if any) and the payout outputs (pool + donation split).
func (m *Manager) buildCoinbase(t Template) (prefix, suffix []byte) {
	prefix = append(prefix, serializeBIP34Height(t.Height)...)
	if len(t.CoinbaseAuxFlag) > 0 {
		prefix = append(prefix, t.CoinbaseAuxFlag...)
	}

	donationPct := NormalizeDonationPercent(m.DonationCfg.Percent)
	donationValue := uint64(float64(t.CoinbaseValue) * donationPct / 100.0)
	poolValue := t.CoinbaseValue - donationValue

	if len(t.WitnessCommit) > 0 {
		suffix = append(suffix, encodeTxOut(0, t.WitnessCommit)...)
	}
	suffix = append(suffix, encodeTxOut(poolValue, m.PoolPayout.Script)...)
	if donationValue > 0 && len(m.DonationCfg.Script) > 0 {
		suffix = append(suffix, encodeTxOut(donationValue, m.DonationCfg.Script)...)
	}
	return prefix, suffix
}

// encodeTxOut encodes a single transaction output: 8-byte LE value followed
// by a varint-prefixed script.
func encodeTxOut(value uint64, script []byte) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	buf = append(buf, encodeVarInt(uint64(len(script)))...)
	buf = append(buf, script...)
	return buf
}

func encodeVarInt(n uint64) []byte {
	switch {
	case n < 0xfd:
		return []byte{byte(n)}
	case n <= 0xffff:
		b := make([]byte, 3)
		b[0] = 0xfd
		binary.LittleEndian.PutUint16(b[1:], uint16(n))
		return b
	case n <= 0xffffffff:
		b := make([]byte, 5)
		b[0] = 0xfe
		binary.LittleEndian.PutUint32(b[1:], uint32(n))
		return b
	default:
		b := make([]byte, 9)
		b[0] = 0xff
		binary.LittleEndian.PutUint64(b[1:], n)
		return b
	}
}

// serializeBIP34Height returns the minimal-encoding script push of a block
// height, per BIP34 (used as the first element of the coinbase scriptSig).
func serializeBIP34Height(height uint32) []byte {
	if height == 0 {
		return []byte{0x01, 0x00}
	}
	var b []byte
	h := height
	for h > 0 {
		b = append(b, byte(h&0xff))
		h >>= 8
	}
	if b[len(b)-1]&0x80 != 0 {
		b = append(b, 0x00)
	}
	return append([]byte{byte(len(b))}, b...)
}

// Publish assigns the next monotone id and atomically replaces the current
// workbase pointer. Previous workbases remain retained (for late-share
// lookups) until Retire drops them.
func (m *Manager) Publish(wb *Workbase) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	wb.ID = m.nextID
	m.nextID++
	m.byID[wb.ID] = wb
	m.current = wb
	return wb.ID
}

// Current returns the currently published workbase, or nil if none yet.
func (m *Manager) Current() *Workbase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CurrentID returns the id of the current workbase, or 0 if none.
func (m *Manager) CurrentID() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return 0
	}
	return m.current.ID
}

// Lookup finds a retained workbase by id and pins it for the caller. The
// caller must Unpin when finished. Returns ErrNotFound if the id is unknown
// or already freed.
func (m *Manager) Lookup(id int64) (*Workbase, error) {
	m.mu.RLock()
	wb, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	_ = wb.Pin()
	return wb, nil
}

// Retire drops workbases older than WorkbaseRetention whose reader count has
// reached zero. Workbases past retention with outstanding readers are left
// in place and retried on the next tick. Returns the ids actually dropped so
// a caller (the watchdog sweep) can evict their dedup-window state too.
func (m *Manager) Retire() (retired []int64) {
	cutoff := time.Now().Add(-WorkbaseRetention)

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, wb := range m.byID {
		if wb == m.current {
			continue
		}
		if wb.Created.After(cutoff) {
			continue
		}
		if wb.readerCount() > 0 {
			continue
		}
		delete(m.byID, id)
		retired = append(retired, id)
	}
	return retired
}

// ComputeHeaderHash assembles the 80-byte header from a workbase, a client's
// extranonces, a submitted ntime and nonce, and returns its double-SHA-256
// digest along with the merkle root used. Endianness follows the wire
// protocol: version/ntime/nbits/nonce are little-endian 32-bit words.
func (wb *Workbase) ComputeHeaderHash(enonce1, enonce2 []byte, ntime, nonce uint32) (hash [32]byte, merkleRoot []byte) {
	coinbase := make([]byte, 0, len(wb.CoinbasePrefix)+len(enonce1)+len(enonce2)+len(wb.CoinbaseSuffix))
	coinbase = append(coinbase, wb.CoinbasePrefix...)
	coinbase = append(coinbase, enonce1...)
	coinbase = append(coinbase, enonce2...)
	coinbase = append(coinbase, wb.CoinbaseSuffix...)

	coinbaseHash := doubleSha256(coinbase)

	b := merkle.NewBuilder()
	root := b.ComputeRoot(coinbaseHash, wb.MerkleBranch)

	header := make([]byte, 80)
	binary.LittleEndian.PutUint32(header[0:4], wb.Version)
	copy(header[4:36], reverse32(wb.PrevHash))
	copy(header[36:68], reverseBytes(root))
	binary.LittleEndian.PutUint32(header[68:72], ntime)
	binary.LittleEndian.PutUint32(header[72:76], wb.NBits)
	binary.LittleEndian.PutUint32(header[76:80], nonce)

	hash = sha256.Sum256(header)
	hash = sha256.Sum256(hash[:])
	return hash, root
}

func doubleSha256(data []byte) []byte {
	h1 := sha256.Sum256(data)
	h2 := sha256.Sum256(h1[:])
	return h2[:]
}

func reverse32(b [32]byte) []byte {
	return reverseBytes(b[:])
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}
