package dispatcher

import (
	"context"

	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/clientpool"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/payload"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/reactor"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/task"
	"github.com/bdurand/asynchttp-dispatcher/internal/config"
)

// SynchronousExecutor runs a single RequestTask to completion inline,
// in the caller's own goroutine, bypassing the reactor's admission
// queue and the InflightRegistry entirely (spec.md §4.11: "for callers
// that need a blocking call, not fire-and-forget dispatch"). It shares
// the reactor's timeout, redirect and classification rules by calling
// the same reactor.Drive function the reactor's fibers use, rather than
// duplicating the HTTP-issue/redirect/classify sequence. It makes no
// max_connections admission check: Execute never refuses a task, and
// its tasks are not counted in the reactor's inflight_count.
type SynchronousExecutor struct {
	cfg          *config.Config
	pool         *clientpool.Pool
	externalizer *payload.Externalizer
}

// NewSynchronousExecutor builds a SynchronousExecutor sharing a pool
// and externalizer with the rest of the dispatcher, so synchronous and
// asynchronous calls draw from the same per-host connection budget.
func NewSynchronousExecutor(cfg *config.Config, pool *clientpool.Pool, ext *payload.Externalizer) *SynchronousExecutor {
	return &SynchronousExecutor{cfg: cfg, pool: pool, externalizer: ext}
}

// Execute drives t, and any redirect followers it produces, to a
// terminal state before returning. t's Handler callbacks fire exactly
// as they would under the reactor. ctx bounds the whole call, including
// every redirect hop; a nil ctx behaves like context.Background().
func (s *SynchronousExecutor) Execute(ctx context.Context, t *task.Task) {
	t.Enqueued()
	reactor.Drive(ctx, s.cfg, s.pool, s.externalizer, t)
}
