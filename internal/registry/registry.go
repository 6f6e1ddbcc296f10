package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultShardCount is a power of two so the shard index can be
	// computed with a fast mask.
	DefaultShardCount          = 64
	DefaultMaxConnectionsPerIP = 100
)

var (
	ErrIPLimitReached     = errors.New("registry: per-IP connection limit reached")
	ErrUnknownClient      = errors.New("registry: client not found")
	ErrDuplicateEnonce1   = errors.New("registry: extranonce1 already assigned")
)

type shard struct {
	mu      sync.RWMutex
	clients map[int64]*Client
}

// Config configures the registry's limits.
type Config struct {
	ShardCount          int
	MaxConnectionsPerIP int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ShardCount:          DefaultShardCount,
		MaxConnectionsPerIP: DefaultMaxConnectionsPerIP,
	}
}

// Stats is a point-in-time snapshot of registry-wide counters.
type Stats struct {
	TotalAdmitted int64
	Active        int64
	Authorised    int64
	RejectedByIP  int64
}

// Registry is the sharded, FNV-1a-hashed client map; enonce1 uniqueness
// across all admitted clients is also enforced here.
type Registry struct {
	cfg    Config
	shards []*shard

	ipCounts  map[string]int32
	ipCountMu sync.Mutex

	enonce1s  map[uint64]struct{}
	enonce1Mu sync.Mutex
	nextEnonce1 uint64

	stats Stats
}

// New creates a new client registry.
func New(cfg Config) *Registry {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = DefaultShardCount
	}
	cfg.ShardCount = nextPowerOf2(cfg.ShardCount)
	if cfg.MaxConnectionsPerIP <= 0 {
		cfg.MaxConnectionsPerIP = DefaultMaxConnectionsPerIP
	}

	r := &Registry{
		cfg:      cfg,
		shards:   make([]*shard, cfg.ShardCount),
		ipCounts: make(map[string]int32),
		enonce1s: make(map[uint64]struct{}),
		nextEnonce1: 1,
	}
	for i := range r.shards {
		r.shards[i] = &shard{clients: make(map[int64]*Client)}
	}
	return r
}

// Admit registers a new client, enforcing the per-IP connection limit.
func (r *Registry) Admit(c *Client) error {
	r.ipCountMu.Lock()
	if r.ipCounts[c.RemoteIP] >= int32(r.cfg.MaxConnectionsPerIP) {
		r.ipCountMu.Unlock()
		atomic.AddInt64(&r.stats.RejectedByIP, 1)
		return ErrIPLimitReached
	}
	r.ipCounts[c.RemoteIP]++
	r.ipCountMu.Unlock()

	s := r.shardFor(c.ID)
	s.mu.Lock()
	s.clients[c.ID] = c
	s.mu.Unlock()

	atomic.AddInt64(&r.stats.TotalAdmitted, 1)
	atomic.AddInt64(&r.stats.Active, 1)
	return nil
}

// NextEnonce1 returns the next pool-wide unique extranonce1 value,
// guaranteeing no two admitted clients share an enonce1.
func (r *Registry) NextEnonce1() uint64 {
	r.enonce1Mu.Lock()
	defer r.enonce1Mu.Unlock()
	v := r.nextEnonce1
	r.nextEnonce1++
	r.enonce1s[v] = struct{}{}
	return v
}

// Get looks up a client by id without pinning it; callers that intend to
// hold onto the result beyond the current lock scope must call Pin.
func (r *Registry) Get(id int64) (*Client, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	c, ok := s.clients[id]
	s.mu.RUnlock()
	return c, ok
}

// Remove deletes the registry entry for id if present. This is the
// zombie-cleanup action and should only be invoked once the caller has
// established the client is dropped, absent from the connector, and its
// refcount is exactly 1 (the registry's own reference during iteration).
func (r *Registry) Remove(id int64) {
	s := r.shardFor(id)
	s.mu.Lock()
	c, ok := s.clients[id]
	if ok {
		delete(s.clients, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	atomic.AddInt64(&r.stats.Active, -1)
	if c.State() == StateAuthorised {
		atomic.AddInt64(&r.stats.Authorised, -1)
	}
	r.ipCountMu.Lock()
	r.ipCounts[c.RemoteIP]--
	if r.ipCounts[c.RemoteIP] <= 0 {
		delete(r.ipCounts, c.RemoteIP)
	}
	r.ipCountMu.Unlock()
}

// OnAuthorised should be called once a client successfully authorises, to
// keep the authorised-count statistic current.
func (r *Registry) OnAuthorised() {
	atomic.AddInt64(&r.stats.Authorised, 1)
}

// Snapshot returns registry-wide counters (lock-free atomic reads).
func (r *Registry) Snapshot() Stats {
	return Stats{
		TotalAdmitted: atomic.LoadInt64(&r.stats.TotalAdmitted),
		Active:        atomic.LoadInt64(&r.stats.Active),
		Authorised:    atomic.LoadInt64(&r.stats.Authorised),
		RejectedByIP:  atomic.LoadInt64(&r.stats.RejectedByIP),
	}
}

// ForEach snapshots the set of ids under each shard's lock, releases it,
// then invokes fn for each (re-looked-up) client. This lets fn perform I/O
// or pin/unpin without holding any shard lock: snapshot under lock, act
// outside it.
func (r *Registry) ForEach(fn func(*Client)) {
	for _, s := range r.shards {
		s.mu.RLock()
		ids := make([]int64, 0, len(s.clients))
		for id := range s.clients {
			ids = append(ids, id)
		}
		s.mu.RUnlock()

		for _, id := range ids {
			if c, ok := r.Get(id); ok {
				fn(c)
			}
		}
	}
}

// SweepZombies applies the zombie-cleanup rule: a client marked
// dropped, absent from the connector (per isLive), and with refcount 1 (only
// this sweep's own transient reference) is removed from the registry.
// Clients the connector still reports alive are left for the connector to
// close; clients with more outstanding references are retried next tick.
func (r *Registry) SweepZombies(isLive func(id int64) bool) (removed int) {
	r.ForEach(func(c *Client) {
		if c.State() != StateDropped {
			return
		}
		if isLive(c.ID) {
			return
		}
		c.Pin()
		defer c.Unpin()
		if c.RefCount() == 1 {
			r.Remove(c.ID)
			removed++
		}
	})
	return removed
}

// SweepIdle marks clients idle longer than dropIdle for drop. dropIdle <= 0
// disables idle detection entirely.
func (r *Registry) SweepIdle(dropIdle time.Duration) (marked int) {
	if dropIdle <= 0 {
		return 0
	}
	r.ForEach(func(c *Client) {
		if c.State() == StateDropped {
			return
		}
		if c.IdleFor() > dropIdle {
			c.MarkDropped()
			marked++
		}
	})
	return marked
}

func (r *Registry) shardFor(id int64) *shard {
	h := fnv1a(uint64(id))
	return r.shards[h&uint64(len(r.shards)-1)]
}

func fnv1a(id uint64) uint64 {
	hash := uint64(14695981039346656037)
	for i := 0; i < 8; i++ {
		hash ^= id & 0xff
		hash *= 1099511628211
		id >>= 8
	}
	return hash
}

func nextPowerOf2(n int) int {
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n++
	return n
}
