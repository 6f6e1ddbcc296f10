// Package federation implements upstream/downstream trust relationships
// between cooperating stratifier processes: a polled peer roster, a
// Redis-backed shared namespace for cross-process dedup and incomplete
// workbase state, and signed peer-trust tokens for the privileged channel.
package federation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TrustLevel describes how much a peer is allowed to bypass local
// validation.
type TrustLevel int

const (
	// TrustNone is an unrecognised peer; no privileged channel.
	TrustNone TrustLevel = iota
	// TrustDownstream accepts remote workinfo and share outcomes from this
	// peer but never defers dedup to it.
	TrustDownstream
	// TrustUpstream is authoritative: its share outcomes and block
	// announcements are trusted, and it is admitted to the privileged
	// dedup-bypass channel, since each party dedups its own space.
	TrustUpstream
)

func (t TrustLevel) String() string {
	switch t {
	case TrustDownstream:
		return "downstream"
	case TrustUpstream:
		return "upstream"
	default:
		return "none"
	}
}

// Peer describes one federation member.
type Peer struct {
	ID       string
	Name     string
	Endpoint string
	Trust    TrustLevel
}

// PeerSource loads the current peer roster from wherever it is stored.
// Implementations decouple the poll/observer loop below from any particular
// backing store.
type PeerSource interface {
	LoadPeers(ctx context.Context) ([]Peer, error)
}

// Roster polls a PeerSource on an interval and notifies observers whenever
// the peer set changes. Grounded on the network config loader's poll +
// observer shape, repurposed from "network config" to "federation peer
// roster".
type Roster struct {
	source PeerSource

	mu    sync.RWMutex
	peers map[string]Peer

	observerMu sync.Mutex
	observers  []func(added, removed []Peer)

	pollInterval time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewRoster creates a Roster backed by source, polling every interval.
func NewRoster(source PeerSource, interval time.Duration) *Roster {
	ctx, cancel := context.WithCancel(context.Background())
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Roster{
		source:       source,
		peers:        make(map[string]Peer),
		pollInterval: interval,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start loads the initial roster and begins background polling.
func (r *Roster) Start() error {
	peers, err := r.source.LoadPeers(r.ctx)
	if err != nil {
		return fmt.Errorf("federation: failed to load initial peer roster: %w", err)
	}

	r.mu.Lock()
	for _, p := range peers {
		r.peers[p.ID] = p
	}
	r.mu.Unlock()

	go r.pollForChanges()
	return nil
}

// Stop ends background polling.
func (r *Roster) Stop() {
	r.cancel()
}

// Peer returns the known peer for id, if any.
func (r *Roster) Peer(id string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// Peers returns a snapshot of the current roster.
func (r *Roster) Peers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// RegisterObserver registers a callback invoked with added/removed peers
// whenever the roster changes.
func (r *Roster) RegisterObserver(callback func(added, removed []Peer)) {
	r.observerMu.Lock()
	defer r.observerMu.Unlock()
	r.observers = append(r.observers, callback)
}

func (r *Roster) pollForChanges() {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			peers, err := r.source.LoadPeers(r.ctx)
			if err != nil {
				continue // keep using the current roster on a transient error
			}
			r.reconcile(peers)
		}
	}
}

func (r *Roster) reconcile(fresh []Peer) {
	freshByID := make(map[string]Peer, len(fresh))
	for _, p := range fresh {
		freshByID[p.ID] = p
	}

	r.mu.Lock()
	var added, removed []Peer
	for id, p := range freshByID {
		if _, ok := r.peers[id]; !ok {
			added = append(added, p)
		}
	}
	for id, p := range r.peers {
		if _, ok := freshByID[id]; !ok {
			removed = append(removed, p)
		}
	}
	r.peers = freshByID
	r.mu.Unlock()

	if len(added) > 0 || len(removed) > 0 {
		r.notifyObservers(added, removed)
	}
}

func (r *Roster) notifyObservers(added, removed []Peer) {
	r.observerMu.Lock()
	observers := make([]func(added, removed []Peer), len(r.observers))
	copy(observers, r.observers)
	r.observerMu.Unlock()

	for _, observer := range observers {
		go observer(added, removed)
	}
}

// StaticPeerSource serves a fixed, in-memory peer list. Useful for
// single-binary deployments that configure their federation peers directly
// rather than through a polled store.
type StaticPeerSource struct {
	peers []Peer
}

// NewStaticPeerSource returns a PeerSource that always returns peers.
func NewStaticPeerSource(peers []Peer) *StaticPeerSource {
	return &StaticPeerSource{peers: peers}
}

// LoadPeers implements PeerSource.
func (s *StaticPeerSource) LoadPeers(ctx context.Context) ([]Peer, error) {
	out := make([]Peer, len(s.peers))
	copy(out, s.peers)
	return out, nil
}
