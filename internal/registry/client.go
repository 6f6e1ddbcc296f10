// Package registry implements the client registry: the stratum connection
// state machine (new -> subscribed -> authorising -> authorised), reference
// counting for safe deferred removal, and per-IP connection limits.
package registry

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the client's position in the subscribe/authorise lifecycle.
type State int32

const (
	StateNew State = iota
	StateSubscribed
	StateAuthorising
	StateAuthorised
	StateDropped
)

// Client is one connected stratum session. Fields guarded by DiffMu must
// only be read/written while holding it; everything else is either
// immutable after creation or only mutated under the registry's lock.
type Client struct {
	ID       int64
	RemoteIP string

	Enonce1 uint64 // unique extranr1 assigned at subscribe time

	state int32 // atomic State

	WorkerName string
	UserID     int64
	WorkerID   int64

	// diff-selection state, guarded by DiffMu
	DiffMu          sync.Mutex
	Diff            float64
	OldDiff         float64
	DiffChangeJobID int64
	SSDC            int64 // shares since diff change
	LastDiffChange  time.Time
	WorkerMinDiff   float64 // per-worker floor resolved at authorize time, 0 if none

	SuggestedDiff   float64
	PasswordDiffSet bool

	FirstShare time.Time
	LastShare  time.Time
	// Reject, FirstInvalid and InvalidStreak track the share-pipeline's
	// invalid-streak bookkeeping; guarded by DiffMu since a share submission
	// always already holds it for the diff read.
	Reject       int32 // 0 normal, 2 once the streak is sustained (lazy-drop flag)
	FirstInvalid time.Time
	InvalidStreak int32

	connected time.Time
	lastSeen  int64 // unix nano, atomic

	refCount int32 // outstanding Pin()s beyond the registry's own map entry

	AuthFailures   int32
	BackoffUntil   int64 // unix nano, atomic
}

// NewClient creates a new, unsubscribed client.
func NewClient(id int64, remoteIP string) *Client {
	now := time.Now()
	return &Client{
		ID:        id,
		RemoteIP:  remoteIP,
		state:     int32(StateNew),
		connected: now,
		lastSeen:  now.UnixNano(),
	}
}

func (c *Client) State() State { return State(atomic.LoadInt32(&c.state)) }

func (c *Client) setState(s State) { atomic.StoreInt32(&c.state, int32(s)) }

// MarkSubscribed transitions new -> subscribed and assigns the extranonce1.
func (c *Client) MarkSubscribed(enonce1 uint64) {
	c.Enonce1 = enonce1
	c.setState(StateSubscribed)
}

// MarkAuthorising transitions subscribed -> authorising.
func (c *Client) MarkAuthorising() { c.setState(StateAuthorising) }

// MarkAuthorised transitions authorising -> authorised and resets backoff.
func (c *Client) MarkAuthorised() {
	c.setState(StateAuthorised)
	atomic.StoreInt32(&c.AuthFailures, 0)
	atomic.StoreInt64(&c.BackoffUntil, 0)
}

// MarkAuthFailed reverts to subscribed and arms/escalates the backoff.
func (c *Client) MarkAuthFailed(maxBackoff time.Duration) {
	c.setState(StateSubscribed)
	n := atomic.AddInt32(&c.AuthFailures, 1)
	delay := time.Duration(1<<uint(min(n-1, 10))) * time.Second
	if delay > maxBackoff {
		delay = maxBackoff
	}
	atomic.StoreInt64(&c.BackoffUntil, time.Now().Add(delay).UnixNano())
}

func min(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

// InBackoff reports whether the client is still within its auth backoff window.
func (c *Client) InBackoff() bool {
	until := atomic.LoadInt64(&c.BackoffUntil)
	return until > 0 && time.Now().UnixNano() < until
}

// MarkDropped transitions any state -> dropped. Idempotent.
func (c *Client) MarkDropped() { c.setState(StateDropped) }

// Touch records share/message activity for idle-detection purposes.
func (c *Client) Touch() {
	atomic.StoreInt64(&c.lastSeen, time.Now().UnixNano())
}

// IdleFor returns how long it has been since the client was last active.
func (c *Client) IdleFor() time.Duration {
	last := atomic.LoadInt64(&c.lastSeen)
	return time.Since(time.Unix(0, last))
}

// Pin increments the reference count; callers holding a Client pointer
// outside the registry's lock must Pin before use and Unpin after, so the
// zombie-cleanup rule (refcount==1 meaning "only the registry's own
// iteration holds it") stays correct.
func (c *Client) Pin() { atomic.AddInt32(&c.refCount, 1) }

// Unpin decrements the reference count.
func (c *Client) Unpin() { atomic.AddInt32(&c.refCount, -1) }

// RefCount returns the current outstanding reference count.
func (c *Client) RefCount() int32 { return atomic.LoadInt32(&c.refCount) }

// EffectiveDiff returns the difficulty that applies to a share, which
// depends on whether its job id is before or at-or-after the job id the
// pending diff change takes effect at.
func (c *Client) EffectiveDiff(jobID int64) float64 {
	c.DiffMu.Lock()
	defer c.DiffMu.Unlock()
	if jobID >= c.DiffChangeJobID {
		return c.Diff
	}
	return c.OldDiff
}

// RecordInvalid advances the invalid-share streak. The first invalid share
// in a new streak stamps FirstInvalid; once the streak reaches
// threshold, Reject is set to 2 so the watchdog lazily drops the connection
// instead of the pipeline tearing it down mid-submit.
func (c *Client) RecordInvalid(threshold int32) (sustained bool) {
	c.DiffMu.Lock()
	defer c.DiffMu.Unlock()
	if c.InvalidStreak == 0 {
		c.FirstInvalid = time.Now()
	}
	c.InvalidStreak++
	if c.InvalidStreak >= threshold {
		c.Reject = 2
		sustained = true
	}
	return sustained
}

// RecordValid clears the invalid-share streak after an accepted share.
func (c *Client) RecordValid() {
	c.DiffMu.Lock()
	defer c.DiffMu.Unlock()
	c.InvalidStreak = 0
	c.Reject = 0
}

// SetDiff commits a new difficulty, recording the job id at which it first
// applies. applyToCurrentJob is true for mining.suggest_difficulty/password
// diff (applies to the in-flight job); false for ordinary vardiff (applies
// to the next job).
func (c *Client) SetDiff(newDiff float64, currentWorkbaseID int64, applyToCurrentJob bool) {
	c.DiffMu.Lock()
	defer c.DiffMu.Unlock()
	c.OldDiff = c.Diff
	c.Diff = newDiff
	if applyToCurrentJob {
		c.DiffChangeJobID = currentWorkbaseID
	} else {
		c.DiffChangeJobID = currentWorkbaseID + 1
	}
	c.SSDC = 0
	c.LastDiffChange = time.Now()
}
