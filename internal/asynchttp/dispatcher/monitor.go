package dispatcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/lifecycle"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/reactor"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/registry"
	"github.com/bdurand/asynchttp-dispatcher/internal/config"
	"github.com/bdurand/asynchttp-dispatcher/internal/obs"
)

// monitorTick is the Monitor's sleep granularity (spec.md §4.9: "a
// dedicated thread sleeping ≈100ms between checks").
const monitorTick = 100 * time.Millisecond

// Monitor is the dispatcher's background heartbeat and garbage
// collection loop (spec.md §4.9). It owns no state of its own beyond
// the two elapsed-time checks; all actual bookkeeping lives in the
// Registry it drives. Modeled on the teacher's internal/reaper.Reaper
// goroutine shape: one ticker, one loop, one collaborator call per
// tick, though here split into two independently-gated cycles rather
// than the reaper's single scan.
type Monitor struct {
	cfg       *config.Config
	registry  *registry.Registry
	reactor   *reactor.Reactor
	lifecycle *lifecycle.Manager
	logger    *zap.Logger
}

// NewMonitor builds a Monitor.
func NewMonitor(cfg *config.Config, reg *registry.Registry, reac *reactor.Reactor, lc *lifecycle.Manager, logger *zap.Logger) *Monitor {
	return &Monitor{cfg: cfg, registry: reg, reactor: reac, lifecycle: lc, logger: logger}
}

// Run ticks at monitorTick, refreshing inflight heartbeats and running
// one orphan-GC cycle whenever heartbeat_interval has elapsed since the
// last of each (spec.md §4.9 steps 1-2). It stays quiet outside
// running/draining so a stopped or starting dispatcher never touches
// the registry.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(monitorTick)
	defer ticker.Stop()

	var lastHeartbeat, lastGC time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := m.lifecycle.State()
			if st != lifecycle.Running && st != lifecycle.Draining {
				continue
			}
			now := time.Now()
			if now.Sub(lastHeartbeat) >= m.cfg.HeartbeatInterval {
				m.refreshHeartbeats(ctx)
				lastHeartbeat = now
			}
			if now.Sub(lastGC) >= m.cfg.HeartbeatInterval {
				m.runGCCycle(ctx)
				lastGC = now
			}
		}
	}
}

// refreshHeartbeats re-stamps every currently inflight task's score in
// the registry's heartbeat index (spec.md §4.9 step 1).
func (m *Monitor) refreshHeartbeats(ctx context.Context) {
	ids := m.reactor.InflightIDs()
	if err := m.registry.UpdateHeartbeats(ctx, ids); err != nil {
		m.logger.Error("monitor: heartbeat refresh failed", obs.Err(err))
	}
}

// runGCCycle attempts the distributed GC lock and, only if acquired,
// runs one CleanupOrphans pass before releasing it (spec.md §4.9 step
// 2, §4.6's "acquire; run; release" protocol).
func (m *Monitor) runGCCycle(ctx context.Context) {
	acquired, err := m.registry.AcquireGCLock(ctx)
	if err != nil {
		m.logger.Error("monitor: acquire gc lock failed", obs.Err(err))
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := m.registry.ReleaseGCLock(ctx); err != nil {
			m.logger.Error("monitor: release gc lock failed", obs.Err(err))
		}
	}()

	count, err := m.registry.CleanupOrphans(ctx, m.cfg.OrphanThreshold, m.logger)
	if err != nil {
		m.logger.Error("monitor: cleanup orphans failed", obs.Err(err))
		return
	}
	if count > 0 {
		m.logger.Info("monitor: recovered orphaned tasks", obs.Int("count", count))
	}
}
