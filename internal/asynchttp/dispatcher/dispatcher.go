// Package dispatcher implements the Dispatcher facade (spec.md §4.8):
// the single entry point embedding users call Start/Enqueue/Drain/Stop
// on, wiring together the lifecycle state machine, the reactor's
// admission loop, and the InflightRegistry's background Monitor. It
// also carries the two collaborators that bypass the reactor entirely:
// RequestTemplate (pure construction helper, spec.md §4.10) and
// SynchronousExecutor (inline single-task execution, spec.md §4.11).
//
// Grounded on the teacher's cmd/job-queue-system/main.go role dispatch
// (producer/worker/reaper all started as sibling goroutines under one
// cancelable context, joined on shutdown) generalized into a single
// reusable facade type instead of a one-shot main function.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/clientpool"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/lifecycle"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/payload"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/reactor"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/registry"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/task"
	"github.com/bdurand/asynchttp-dispatcher/internal/config"
	"github.com/bdurand/asynchttp-dispatcher/internal/obs"
)

// ErrNotRunning is returned by Enqueue when the dispatcher has not been
// started, or is draining/stopping (spec.md §4.8 Enqueue: "require
// running").
var ErrNotRunning = errors.New("asynchttp: dispatcher is not running")

// ErrRefused is returned by Enqueue when inflight_count has already
// reached max_connections (spec.md §4.8's admission check); tasks still
// pending in the reactor's channel are not counted.
var ErrRefused = errors.New("asynchttp: dispatcher refused task: at capacity")

// joinTimeout bounds how long Stop waits for the reactor and monitor
// goroutines to observe context cancellation before giving up and
// logging a warning; it is not itself part of the caller-supplied
// shutdown timeout.
const joinTimeout = time.Second

// Dispatcher is the AsyncHTTP Dispatcher's public façade.
type Dispatcher struct {
	cfg       *config.Config
	lifecycle *lifecycle.Manager
	reactor   *reactor.Reactor
	monitor   *Monitor
	registry  *registry.Registry
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a Dispatcher from its already-constructed collaborators.
// Callers own the lifetime of pool, reg, and ext; New does not close
// them.
func New(cfg *config.Config, pool *clientpool.Pool, reg *registry.Registry, ext *payload.Externalizer, logger *zap.Logger) *Dispatcher {
	lc := lifecycle.New()
	reac := reactor.New(cfg, pool, reg, ext, lc, logger)
	mon := NewMonitor(cfg, reg, reac, lc, logger)
	return &Dispatcher{
		cfg:       cfg,
		lifecycle: lc,
		reactor:   reac,
		monitor:   mon,
		registry:  reg,
		logger:    logger,
	}
}

// State reports the dispatcher's current lifecycle position.
func (d *Dispatcher) State() lifecycle.State { return d.lifecycle.State() }

// ReactorSnapshot reports (inflight_count, max_connections), exposed
// for the admin HTTP surface's status endpoint.
func (d *Dispatcher) ReactorSnapshot() (int, int) { return d.reactor.Snapshot() }

// Start transitions stopped|draining -> starting, launches the reactor
// and monitor goroutines, and blocks until the reactor has entered its
// main loop (spec.md §4.8: "Start: idempotent; blocks until the reactor
// goroutine signals ready"). A no-op if already starting/running.
func (d *Dispatcher) Start() {
	if !d.lifecycle.TryStart() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.reactor.Run(ctx)
	}()
	go func() {
		defer d.wg.Done()
		d.monitor.Run(ctx)
	}()

	<-d.lifecycle.ReactorReady()
}

// Drain transitions running -> draining: Enqueue starts refusing new
// work, but admitted tasks keep running to completion (spec.md §4.8
// Drain: "valid only from running").
func (d *Dispatcher) Drain() bool {
	return d.lifecycle.TryDrain()
}

// Enqueue admits t for processing, applying the admission check from
// spec.md §4.8: the dispatcher must be running, and inflight_count must
// be below max_connections.
func (d *Dispatcher) Enqueue(t *task.Task) error {
	if !d.lifecycle.IsRunning() {
		return ErrNotRunning
	}
	inflight, max := d.reactor.Snapshot()
	if inflight >= max {
		obs.RequestsRefused.Inc()
		return ErrRefused
	}
	d.reactor.Enqueue(t)
	return nil
}

// WaitForIdle blocks until inflight_count reaches zero or timeout
// elapses, returning whether it reached zero (spec.md §4.8).
func (d *Dispatcher) WaitForIdle(timeout time.Duration) bool {
	return lifecycle.WaitUntil(timeout, func() bool {
		inflight, _ := d.reactor.Snapshot()
		return inflight == 0
	})
}

// WaitForProcessing blocks until inflight_count is at least one or
// timeout elapses (spec.md §4.8), the mirror image of WaitForIdle used
// by tests and callers that need to observe a task actually admitted
// before asserting on it.
func (d *Dispatcher) WaitForProcessing(timeout time.Duration) bool {
	return lifecycle.WaitUntil(timeout, func() bool {
		inflight, _ := d.reactor.Snapshot()
		return inflight > 0
	})
}

// Stop transitions to stopping, waits up to timeout for outstanding
// tasks to reach a terminal state, then re-enqueues (via each task's
// Handler.Retry) anything still outstanding, releases this process's
// GC lock if held, and joins the reactor/monitor goroutines before
// marking the dispatcher stopped (spec.md §4.8 Stop, §5's "terminal or
// retried-exactly-once" shutdown guarantee).
func (d *Dispatcher) Stop(timeout time.Duration) {
	if !d.lifecycle.TryStop() {
		return
	}

	d.WaitForIdle(timeout)

	for _, t := range d.reactor.OutstandingTasks() {
		if _, err := t.Retry(); err != nil {
			d.logger.Error("dispatcher: retry on shutdown failed", obs.TaskID(t.ID()), obs.Err(err))
		}
	}

	if err := d.registry.ReleaseGCLock(context.Background()); err != nil {
		d.logger.Error("dispatcher: release gc lock on shutdown failed", obs.Err(err))
	}

	if d.cancel != nil {
		d.cancel()
	}

	joined := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(joinTimeout):
		d.logger.Warn("dispatcher: reactor/monitor goroutines did not join in time")
	}

	d.lifecycle.MarkStopped()
}
