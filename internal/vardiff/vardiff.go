// Package vardiff implements the per-client variable-difficulty controller:
// a dsps EWMA, three cadence tiers, a hysteresis deadband, and pool-wide
// clamps.
package vardiff

import (
	"math"
	"time"
)

// Config holds pool-wide vardiff policy.
type Config struct {
	PoolMinDiff    float64
	PoolMaxDiff    float64 // 0 disables the ceiling
	DecayInterval  time.Duration // the window dsps is computed over (e.g. 1m)
}

// DefaultConfig returns sane production defaults.
func DefaultConfig() Config {
	return Config{
		PoolMinDiff:   1.0,
		PoolMaxDiff:   0,
		DecayInterval: time.Minute,
	}
}

// Tier identifies which cadence a client's vardiff check is evaluated at.
type Tier int

const (
	TierNormal Tier = iota
	TierFast
	TierUltraFast
)

// Period returns the minimum interval between retarget checks at this tier.
func (t Tier) Period() time.Duration {
	switch t {
	case TierUltraFast:
		return 15 * time.Second
	case TierFast:
		return 60 * time.Second
	default:
		return 300 * time.Second
	}
}

// SelectTier implements the three-tier cadence rule: ultra-fast when ssdc is
// high and the last change was very recent, fast when ssdc is moderately
// high, normal otherwise.
func SelectTier(ssdc int64, sinceLastChange time.Duration) Tier {
	if ssdc >= 144 && sinceLastChange < 15*time.Second {
		return TierUltraFast
	}
	if ssdc >= 72 {
		return TierFast
	}
	return TierNormal
}

// State is the per-client mutable vardiff state the controller acts upon.
// It intentionally mirrors only the fields the controller needs, not the
// full registry.Client, so the decision function stays pure and testable
// without timers.
type State struct {
	Diff            float64
	WorkerMinDiff   float64 // 0 if no per-worker override
	SSDC            int64
	LastDiffChange  time.Time
	ConnectedAt     time.Time
}

// Decay applies the exponential decay_time update to move unaccounted
// difficulty shares into the dsps accumulator: f' = (f + fadd/fsecs*p) / (1+p)
// where p = 1 - 1/exp(min(fsecs/interval, 36)). A non-positive fsecs is a
// no-op (guards div-by-zero / clock-backwards).
func Decay(f, fadd, fsecs float64, interval time.Duration) float64 {
	if fsecs <= 0 {
		return f
	}
	ratio := fsecs / interval.Seconds()
	if ratio > 36 {
		ratio = 36
	}
	p := 1 - 1/math.Exp(ratio)
	return (f + fadd/fsecs*p) / (1 + p)
}

// TimeBias returns a monotone-non-decreasing value in [0,1) used to
// blend hysteresis-sensitive adjustments.
func TimeBias(tdiff, period float64) float64 {
	if tdiff < 0 {
		tdiff = 0
	}
	if period <= 0 {
		period = 1
	}
	ratio := tdiff / period
	if ratio > 36 {
		ratio = 36
	}
	return 1 - 1/math.Exp(ratio)
}

// optimalMultiplier returns 2.4 when a per-worker minimum difficulty is in
// effect, else 3.33, the two target-shares-per-minute cadence constants.
func optimalMultiplier(workerMinDiff float64) float64 {
	if workerMinDiff > 0 {
		return 2.4
	}
	return 3.33
}

// Decision is the outcome of Evaluate: either no-op (Changed=false) or a new
// difficulty with the job-id-application semantics the caller must record.
type Decision struct {
	Changed           bool
	NewDiff           float64
	ApplyToCurrentJob bool // always false for ordinary vardiff adjustments
}

// Evaluate runs the per-share vardiff decision: compute the optimal diff
// from dsps; return a no-op if it already matches the current diff, if drr
// falls in the hysteresis deadband, or on the cold-start first share; then
// clamp it to the pool/worker bounds. It does not check how long ago the
// last change was (the dispatcher's maybeRetarget gates calls by cadence
// tier), and now is not read. dsps must already reflect the latest Decay
// call for this client.
func (c Config) Evaluate(st State, dsps float64, now time.Time) Decision {
	optimal := dsps * optimalMultiplier(st.WorkerMinDiff)
	if optimal < 1.0 {
		// preserve fractional diffs for low-hashrate devices
	} else {
		optimal = roundHalfUp(optimal)
	}

	// Step 1: already at target.
	if math.Abs(st.Diff-optimal) < 1e-6 {
		return Decision{}
	}

	// Step 2: hysteresis deadband.
	if st.Diff > 0 {
		drr := dsps / st.Diff
		if drr > 0.15 && drr < 0.4 {
			return Decision{}
		}
	}

	// Step 3: cold-start grace period — never lower on the very first
	// share after (re)connect.
	if st.SSDC == 1 && optimal < st.Diff {
		return Decision{}
	}

	// Step 4: clamp.
	if optimal < c.PoolMinDiff {
		optimal = c.PoolMinDiff
	}
	if st.WorkerMinDiff > optimal {
		optimal = st.WorkerMinDiff
	}
	if c.PoolMaxDiff > 0 && optimal > c.PoolMaxDiff {
		optimal = c.PoolMaxDiff
	}

	// Step 5: guard against non-positive / non-finite results.
	if optimal <= 0 || math.IsNaN(optimal) || math.IsInf(optimal, 0) {
		return Decision{}
	}

	return Decision{Changed: true, NewDiff: optimal, ApplyToCurrentJob: false}
}

// EvaluateSuggestedDiff handles mining.suggest_difficulty / password-embedded
// diff: clamp to pool mindiff only, never maxdiff, since a miner requesting
// an unusually high difficulty is trusted at its own risk. No-ops within
// epsilon of the current diff or existing suggestion, else applies to the
// *current* job.
func (c Config) EvaluateSuggestedDiff(currentDiff, currentSuggestion, requested float64) Decision {
	clamped := requested
	if clamped < c.PoolMinDiff {
		clamped = c.PoolMinDiff
	}
	if math.Abs(clamped-currentDiff) < 1e-6 || math.Abs(clamped-currentSuggestion) < 1e-6 {
		return Decision{}
	}
	return Decision{Changed: true, NewDiff: clamped, ApplyToCurrentJob: true}
}

func roundHalfUp(x float64) float64 {
	if x >= 0 {
		return math.Floor(x + 0.5)
	}
	return -math.Floor(-x + 0.5)
}
