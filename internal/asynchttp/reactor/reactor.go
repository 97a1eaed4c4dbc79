// Package reactor implements the Reactor (spec.md §4.3): the single
// dedicated goroutine that owns the pending/inflight task maps and
// spawns one goroutine per admitted task to drive it to a terminal
// state. It is modeled on the teacher's internal/worker.Worker.runOne
// loop (circuit-breaker gating before issuing a call, metrics
// increments around each attempt, zap logging of failures) but
// restructured per spec.md around a single admission loop plus
// per-task "fiber" goroutines rather than a fixed pool of worker
// goroutines pulling from a queue.
package reactor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/clientpool"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/lifecycle"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/model"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/payload"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/registry"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/task"
	"github.com/bdurand/asynchttp-dispatcher/internal/config"
	"github.com/bdurand/asynchttp-dispatcher/internal/obs"
)

// Reactor is the dispatcher's single-threaded-by-contract scheduler
// (spec.md §4.3). Admission happens on one goroutine (Run); each
// admitted task's HTTP exchange, including any redirect hops, runs on
// its own goroutine, which the spec treats as a cooperatively
// scheduled fiber — the Go runtime already parks a goroutine at I/O
// without consuming an OS thread, so no explicit fiber scheduler is
// needed to satisfy that property.
type Reactor struct {
	cfg          *config.Config
	pool         *clientpool.Pool
	registry     *registry.Registry
	externalizer *payload.Externalizer
	lifecycle    *lifecycle.Manager
	logger       *zap.Logger

	enqueueCh chan *task.Task

	// runCtx is the context passed to Run, captured before the admission
	// loop starts so every per-task fiber it spawns issues its HTTP
	// exchange under the same cancellation as the reactor itself:
	// Dispatcher.Stop's cancel() then actually aborts in-flight requests
	// instead of leaving them to finish on their own after shutdown has
	// already retried them (spec.md §8 invariant #1).
	runCtx context.Context

	mu       sync.Mutex
	pending  map[string]*task.Task
	inflight map[string]*task.Task
}

// New builds a Reactor. The enqueue channel is given a generous fixed
// buffer rather than spec.md's literal "unbounded channel" — Go has no
// unbounded channel primitive, and the dispatcher's admission control
// (comparing inflight_count against max_connections before calling
// Enqueue) is what actually bounds outstanding work; this buffer only
// needs to absorb the burst between admission and the reactor goroutine
// picking it up.
func New(cfg *config.Config, pool *clientpool.Pool, reg *registry.Registry, ext *payload.Externalizer, lc *lifecycle.Manager, logger *zap.Logger) *Reactor {
	return &Reactor{
		cfg:          cfg,
		pool:         pool,
		registry:     reg,
		externalizer: ext,
		lifecycle:    lc,
		logger:       logger,
		enqueueCh:    make(chan *task.Task, cfg.MaxConnections*4),
		pending:      make(map[string]*task.Task),
		inflight:     make(map[string]*task.Task),
	}
}

// Enqueue admits t into the reactor. Callers are expected to have
// already checked capacity (spec.md §4.8 Enqueue's admission check);
// Enqueue itself never refuses.
func (r *Reactor) Enqueue(t *task.Task) {
	t.Enqueued()
	r.enqueueCh <- t
}

// Snapshot reports (inflight_count, max_connections), published to the
// inflight gauges every INFLIGHT_UPDATE_INTERVAL (spec.md §4.3 step 1).
// inflight_count here is tasks already handed to the reactor (in
// r.inflight), not pending channel depth (spec.md §4.8: admission is
// "counted against inflight_count ... not against pending channel
// depth").
func (r *Reactor) Snapshot() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight), r.cfg.MaxConnections
}

// InflightIDs returns a snapshot of task ids currently inflight, used
// by the Monitor's heartbeat refresh (spec.md §4.9).
func (r *Reactor) InflightIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.inflight))
	for id := range r.inflight {
		ids = append(ids, id)
	}
	return ids
}

// OutstandingTasks returns every task that has not yet reached a
// terminal state, pending or inflight, for the Dispatcher's shutdown
// re-enqueue path (spec.md §4.3 "Cancellation").
func (r *Reactor) OutstandingTasks() []*task.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*task.Task, 0, len(r.pending)+len(r.inflight))
	for _, t := range r.pending {
		out = append(out, t)
	}
	for _, t := range r.inflight {
		out = append(out, t)
	}
	return out
}

// Run is the reactor's main admission loop. It blocks on the enqueue
// channel rather than spec.md's literal "poll with ≈100ms timeout,
// sleep ≈10ms if empty" — that polling shape exists in the spec to
// accommodate a cooperative runtime with no native blocking receive;
// a Go channel receive already blocks efficiently without busy-waiting,
// so the poll/sleep pair collapses to a single select.
func (r *Reactor) Run(ctx context.Context) {
	r.runCtx = ctx
	r.lifecycle.MarkRunning()
	obs.StartInflightSampler(ctx, r.Snapshot)

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-r.enqueueCh:
			r.admit(t)
		}
	}
}

func (r *Reactor) admit(t *task.Task) {
	r.mu.Lock()
	r.pending[t.ID()] = t
	r.mu.Unlock()
	go r.processRequest(t)
}

// processRequest drives t (and any redirect followers, in the same
// goroutine) to a terminal state, following spec.md §4.3 step 4
// exactly: register, mark started, build and issue the request,
// handle redirects in a loop, classify the outcome, then clean up on
// every exit path.
func (r *Reactor) processRequest(t *task.Task) {
	registerCtx := context.Background()

	r.mu.Lock()
	delete(r.pending, t.ID())
	r.inflight[t.ID()] = t
	r.mu.Unlock()

	if err := r.registry.Register(registerCtx, t.ID(), t.RetryJob()); err != nil {
		r.logger.Error("reactor: register inflight failed", obs.TaskID(t.ID()), obs.Err(err))
	}

	defer func() {
		r.mu.Lock()
		delete(r.inflight, t.ID())
		r.mu.Unlock()
		if err := r.registry.Unregister(context.Background(), t.ID()); err != nil {
			r.logger.Error("reactor: unregister inflight failed", obs.TaskID(t.ID()), obs.Err(err))
		}
	}()

	Drive(r.runCtx, r.cfg, r.pool, r.externalizer, t)
}

// Drive runs t, and any redirect followers it produces, to a terminal
// state in the calling goroutine (spec.md §4.3 step 4's issue/redirect/
// classify sequence). It is shared by the reactor's per-task fiber and
// the SynchronousExecutor, so both apply the same request timeout,
// redirect and classification rules. Drive performs no max_connections
// admission check; that check happens only in Dispatcher.Enqueue.
func Drive(ctx context.Context, cfg *config.Config, pool *clientpool.Pool, ext *payload.Externalizer, t *task.Task) {
	if ctx == nil {
		ctx = context.Background()
	}
	t.Started()
	obs.RequestsStarted.Inc()

	current := t
	for {
		resp, follower, err := issue(ctx, cfg, pool, ext, current)
		if err != nil {
			current.Errored(classifyErrored(current, err))
			obs.RequestsErrored.Inc()
			return
		}
		if follower != nil {
			obs.RequestsRedirected.Inc()
			current = follower
			continue
		}

		duration, _ := current.Duration()
		if current.RaiseErrorResponses() && !resp.IsSuccess() {
			httpErr := model.NewHTTPError(resp, current.Request().URL(), current.Request().Method(), current.ID(), duration, current.CallbackArgs())
			current.Errored(httpErr)
			obs.RequestsErrored.Inc()
			return
		}

		current.Completed(resp)
		obs.RequestsCompleted.Inc()
		return
	}
}

// classifyErrored upgrades a RedirectTo sentinel error into a full
// *model.RedirectError (task.Classify only recognizes already-built
// ErrorValue types, not the package-private sentinel RedirectTo
// returns); every other cause passes through to task.Errored's own
// classification.
func classifyErrored(t *task.Task, err error) error {
	kind, ok := task.RedirectErrorKind(err)
	if !ok {
		return err
	}
	duration, _ := t.Duration()
	return model.NewRedirectError(kind, t.Redirects(), t.Request().URL(), t.Request().Method(), t.ID(), duration, t.CallbackArgs())
}

// issue performs one HTTP exchange for t. A non-nil follower means a
// redirect hop should continue in the same fiber (spec.md §4.3 step
// h); a non-nil error with no follower is a terminal failure.
func issue(parent context.Context, cfg *config.Config, pool *clientpool.Pool, ext *payload.Externalizer, t *task.Task) (*model.Response, *task.Task, error) {
	req := t.Request()

	timeout := cfg.RequestTimeout
	if to := req.Timeout(); to != nil {
		timeout = *to
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method()), req.URL(), bodyReader(req))
	if err != nil {
		return nil, nil, fmt.Errorf("asynchttp: build request: %w", err)
	}
	req.Headers().Each(func(k, v string) { httpReq.Header.Add(k, v) })
	if httpReq.Header.Get("X-Request-Id") == "" {
		httpReq.Header.Set("X-Request-Id", t.ID())
	}
	if httpReq.Header.Get("User-Agent") == "" {
		ua := cfg.UserAgent
		if ua == "" {
			ua = "asynchttp-dispatcher"
		}
		httpReq.Header.Set("User-Agent", ua)
	}

	key := clientKey(req.ParsedURL())
	client := pool.Get(key)
	if cb := pool.Breaker(key); cb != nil && !cb.Allow() {
		return nil, nil, fmt.Errorf("asynchttp: circuit open for %s", key)
	}
	if lim := pool.Limiter(key); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}

	httpResp, err := client.Do(httpReq)
	if cb := pool.Breaker(key); cb != nil {
		cb.Record(err == nil)
	}
	if err != nil {
		return nil, nil, err
	}
	defer httpResp.Body.Close()

	body, err := readLimited(httpResp, cfg.MaxResponseSize)
	if err != nil {
		return nil, nil, err
	}

	if httpResp.StatusCode >= 300 && httpResp.StatusCode < 400 {
		location := httpResp.Header.Get("Location")
		follower, rerr := t.RedirectTo(location, httpResp.StatusCode)
		if rerr == nil {
			return nil, follower, nil
		}
		return nil, nil, rerr
	}

	headers := model.NewHeader()
	for k, vs := range httpResp.Header {
		for _, v := range vs {
			headers.Add(k, v)
		}
	}

	bodyPayload, err := payload.BuildResponseBody(ctx, ext, httpResp.Header.Get("Content-Type"), "", body)
	if err != nil {
		return nil, nil, fmt.Errorf("asynchttp: encode response body: %w", err)
	}

	duration, _ := t.Duration()
	resp := &model.Response{
		Status:       httpResp.StatusCode,
		Headers:      headers,
		Body:         bodyPayload,
		Duration:     duration,
		RequestID:    t.ID(),
		URL:          req.URL(),
		Method:       req.Method(),
		CallbackArgs: t.CallbackArgs(),
		Redirects:    t.Redirects(),
	}
	return resp, nil, nil
}

func bodyReader(req *model.Request) io.Reader {
	if !req.HasBody() {
		return nil
	}
	return bytes.NewReader(req.Body())
}

func clientKey(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

// readLimited streams resp.Body, rejecting it as task.ErrResponseTooLarge
// if Content-Length declares more than max or the stream itself yields
// more than max bytes (spec.md §4.3 step g).
func readLimited(resp *http.Response, max int64) ([]byte, error) {
	if max > 0 && resp.ContentLength > max {
		return nil, task.ErrResponseTooLarge
	}
	if max <= 0 {
		return io.ReadAll(resp.Body)
	}
	limited := io.LimitReader(resp.Body, max+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, task.ErrResponseTooLarge
	}
	return data, nil
}
