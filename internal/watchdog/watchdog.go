// Package watchdog runs the pool's recurring maintenance sweep: dropping
// idle and zombie clients, retiring superseded workbases (and their
// dedup-window state alongside them), and ticking the hashmeter so exported
// hashrate gauges stay current.
package watchdog

import (
	"errors"
	"sync"
	"time"

	"github.com/stratacore/stratifier/internal/monitoring"
	"github.com/stratacore/stratifier/internal/registry"
	"github.com/stratacore/stratifier/internal/shares"
	"github.com/stratacore/stratifier/internal/workbase"
)

// Config holds the watchdog's sweep cadence and idle-drop policy.
type Config struct {
	// Interval is how often the sweep runs.
	Interval time.Duration
	// DropIdle is how long a client may go without activity before it is
	// marked dropped. <= 0 disables idle detection.
	DropIdle time.Duration
}

// DefaultConfig returns the sweep cadence used when a pool doesn't override
// it: every 30 seconds.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		DropIdle: 10 * time.Minute,
	}
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	return nil
}

// IsLiveFunc reports whether a client id is still known to the connection
// layer. Clients the connector no longer tracks are eligible for zombie
// cleanup once the registry has marked them dropped.
type IsLiveFunc func(id int64) bool

// Watchdog ties the registry, workbase manager, share pipeline, and
// hashmeter together into one recurring sweep: a ticker loop with a stop
// channel that runs a fixed set of sweep functions every tick.
type Watchdog struct {
	config Config

	clients   *registry.Registry
	workbases *workbase.Manager
	pipeline  *shares.ShareProcessor
	hashmeter *monitoring.Hashmeter
	collector *monitoring.Collector
	isLive    IsLiveFunc

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a Watchdog. isLive may be nil, in which case zombie sweeping
// treats every dropped client as no longer live (suitable when the
// connection layer always removes its own side synchronously).
func New(config Config, clients *registry.Registry, workbases *workbase.Manager, pipeline *shares.ShareProcessor, hashmeter *monitoring.Hashmeter, collector *monitoring.Collector, isLive IsLiveFunc) *Watchdog {
	if isLive == nil {
		isLive = func(int64) bool { return false }
	}
	return &Watchdog{
		config:    config,
		clients:   clients,
		workbases: workbases,
		pipeline:  pipeline,
		hashmeter: hashmeter,
		collector: collector,
		isLive:    isLive,
	}
}

// Start begins the recurring sweep in a background goroutine. Calling Start
// twice without an intervening Stop is a no-op.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.running = true

	go w.loop(w.stop, w.done)
}

// Stop ends the sweep and waits for the in-flight tick, if any, to finish.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	stop, done := w.stop, w.done
	w.running = false
	w.mu.Unlock()

	close(stop)
	<-done
}

func (w *Watchdog) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// SweepReport summarises one sweep pass, useful for logging and tests.
type SweepReport struct {
	ZombiesRemoved    int
	ClientsMarkedIdle int
	WorkbasesRetired  int
}

// Sweep runs one maintenance pass immediately: zombie cleanup, idle-drop
// marking, workbase retirement (with matching dedup eviction), and a
// hashmeter tick. Safe to call directly (e.g. from tests or an admin
// command) without waiting for the ticker.
func (w *Watchdog) Sweep() SweepReport {
	var report SweepReport

	if w.clients != nil {
		report.ZombiesRemoved = w.clients.SweepZombies(w.isLive)
		report.ClientsMarkedIdle = w.clients.SweepIdle(w.config.DropIdle)
	}

	if w.workbases != nil {
		retired := w.workbases.Retire()
		report.WorkbasesRetired = len(retired)
		if w.pipeline != nil {
			for _, id := range retired {
				w.pipeline.EvictWorkbase(id)
			}
		}
	}

	if w.hashmeter != nil {
		w.hashmeter.Tick()
		if w.collector != nil {
			w.collector.ExportPoolHashrate(w.hashmeter)
		}
	}

	return report
}
