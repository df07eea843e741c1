package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-sequencer/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// SnapshotProvider provides a current point-in-time view of a
// SequenceManager's queues. *core.SequenceManager satisfies this via
// its Snapshot method.
type SnapshotProvider interface {
	Snapshot() core.Snapshot
}

// SnapshotPoller periodically exports a SnapshotProvider's per-queue
// Snapshot() into Prometheus gauges, for state a counter/histogram
// can't express well (current depth, fence state, enabled state).
type SnapshotPoller struct {
	interval time.Duration

	mu        sync.RWMutex
	providers map[string]SnapshotProvider

	pendingImmediate *prom.GaugeVec
	pendingDelayed   *prom.GaugeVec
	fenceActive      *prom.GaugeVec
	enabled          *prom.GaugeVec
	nextWakeUpSecs   *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its
// collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	pendingImmediate := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "sequencer",
		Name:      "queue_pending_immediate",
		Help:      "Pending immediate tasks per queue.",
	}, []string{"manager", "queue"})
	pendingDelayed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "sequencer",
		Name:      "queue_pending_delayed",
		Help:      "Pending delayed tasks per queue.",
	}, []string{"manager", "queue"})
	fenceActive := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "sequencer",
		Name:      "queue_fence_active",
		Help:      "Whether a queue currently has an active fence (1=active, 0=none).",
	}, []string{"manager", "queue"})
	enabled := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "sequencer",
		Name:      "queue_enabled",
		Help:      "Whether a queue is currently enabled (1=enabled, 0=disabled).",
	}, []string{"manager", "queue"})
	nextWakeUpSecs := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "sequencer",
		Name:      "queue_next_wake_up_seconds",
		Help:      "Seconds from now until a queue's next scheduled wake-up; absent if none scheduled.",
	}, []string{"manager", "queue"})

	var err error
	if pendingImmediate, err = registerCollector(reg, pendingImmediate); err != nil {
		return nil, err
	}
	if pendingDelayed, err = registerCollector(reg, pendingDelayed); err != nil {
		return nil, err
	}
	if fenceActive, err = registerCollector(reg, fenceActive); err != nil {
		return nil, err
	}
	if enabled, err = registerCollector(reg, enabled); err != nil {
		return nil, err
	}
	if nextWakeUpSecs, err = registerCollector(reg, nextWakeUpSecs); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:         interval,
		providers:        make(map[string]SnapshotProvider),
		pendingImmediate: pendingImmediate,
		pendingDelayed:   pendingDelayed,
		fenceActive:      fenceActive,
		enabled:          enabled,
		nextWakeUpSecs:   nextWakeUpSecs,
	}, nil
}

// AddManager adds or replaces a SnapshotProvider by name, typically a
// *core.SequenceManager.
func (p *SnapshotPoller) AddManager(name string, provider SnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "manager")
	p.mu.Lock()
	p.providers[name] = provider
	p.mu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := time.Now()
	for managerName, provider := range p.providers {
		snap := provider.Snapshot()
		for _, q := range snap.Queues {
			p.pendingImmediate.WithLabelValues(managerName, q.Name).Set(float64(q.ImmediatePendingTasks))
			p.pendingDelayed.WithLabelValues(managerName, q.Name).Set(float64(q.DelayedPendingTasks))
			if q.HasActiveFence {
				p.fenceActive.WithLabelValues(managerName, q.Name).Set(1)
			} else {
				p.fenceActive.WithLabelValues(managerName, q.Name).Set(0)
			}
			if q.Enabled {
				p.enabled.WithLabelValues(managerName, q.Name).Set(1)
			} else {
				p.enabled.WithLabelValues(managerName, q.Name).Set(0)
			}
			if q.NextWakeUp != nil {
				p.nextWakeUpSecs.WithLabelValues(managerName, q.Name).Set(q.NextWakeUp.Sub(now).Seconds())
			}
		}
	}
}
