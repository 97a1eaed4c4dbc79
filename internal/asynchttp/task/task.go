// Package task implements RequestTask, the mutable, single-owner
// lifecycle object that wraps a Request as it moves through
// created -> enqueued -> started -> (completed | errored) (spec.md §3,
// §4.2).
package task

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/model"
	"github.com/bdurand/asynchttp-dispatcher/internal/jobqueue"
)

// Clock abstracts monotonic time so tests can control elapsed duration
// without sleeping (spec.md "Clock (2%)").
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Handler is the per-task TaskHandler collaborator (spec.md §6): it
// knows how to emit the terminal callback job and how to re-enqueue the
// producer job on shutdown/orphan recovery.
type Handler interface {
	OnComplete(response *model.Response, callbackClass string)
	OnError(err error, callbackClass string)
	Retry() (jid string, err error)
}

// state is the lifecycle position of a RequestTask. It is observable
// only via methods (Enqueued/Started/Completed/Errored), never as an
// exposed enum field, per spec.md §3.
type state int

const (
	stateCreated state = iota
	stateEnqueued
	stateStarted
	stateCompleted
	stateErrored
	// stateRetried marks a task handed to Retry() at shutdown or orphan
	// recovery (spec.md §8 invariant #1: "never both" a terminal
	// callback and a retry). Once in this state, Completed/Errored are
	// permanently suppressed even if the in-flight request that raced
	// with the retry eventually resolves.
	stateRetried
)

// Task is a mutable, single-owner RequestTask. Ownership: created by the
// producer, handed to the dispatcher at Enqueue; only the reactor fiber
// executing it mutates timestamps and terminal fields afterward.
type Task struct {
	mu sync.Mutex

	id      string
	request *model.Request

	handler       Handler
	callbackClass string
	callbackArgs  map[string]any

	raiseErrorResponses bool
	defaultMaxRedirects int
	redirects           []string

	// retryJob is the payload InflightRegistry.Register stashes
	// alongside this task's heartbeat entry, used verbatim by
	// CleanupOrphans to re-enqueue the task if its owning process dies
	// before reaching a terminal state (spec.md §4.6).
	retryJob jobqueue.Job

	clock Clock

	enqueuedAt time.Time
	startedAt  time.Time
	completedAt time.Time

	st       state
	response *model.Response
	err      error
}

// New constructs a root RequestTask (id is a fresh UUID). retryJob is
// the job re-pushed onto the JobQueue if this task is ever recovered
// as an orphan; its JID is overwritten with the task's own id once
// assigned, so CleanupOrphans's re-enqueued job is traceable back to
// the original task.
func New(request *model.Request, handler Handler, callbackClass string, callbackArgs map[string]any, raiseErrorResponses bool, defaultMaxRedirects int, retryJob jobqueue.Job, clock Clock) *Task {
	if clock == nil {
		clock = SystemClock{}
	}
	id := uuid.NewString()
	retryJob.JID = id
	return &Task{
		id:                  id,
		request:             request,
		handler:             handler,
		callbackClass:       callbackClass,
		callbackArgs:        model.StringifyCallbackArgs(callbackArgs).(map[string]any),
		raiseErrorResponses: raiseErrorResponses,
		defaultMaxRedirects: defaultMaxRedirects,
		retryJob:            retryJob,
		clock:               clock,
		st:                  stateCreated,
	}
}

// RetryJob returns the payload to register with InflightRegistry for
// this task.
func (t *Task) RetryJob() jobqueue.Job { return t.retryJob }

func (t *Task) ID() string               { return t.id }
func (t *Task) Request() *model.Request  { return t.request }
func (t *Task) Handler() Handler         { return t.handler }
func (t *Task) CallbackClass() string    { return t.callbackClass }
func (t *Task) CallbackArgs() map[string]any { return t.callbackArgs }
func (t *Task) Redirects() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.redirects...)
}

// MaxRedirects resolves the effective redirect cap: the request's own
// value if set, else the configured default (spec.md §3).
func (t *Task) MaxRedirects() int {
	if mr := t.request.MaxRedirects(); mr != nil {
		return *mr
	}
	return t.defaultMaxRedirects
}

// IsEnqueued, IsStarted, IsTerminal observe lifecycle position without
// exposing the state value itself.
func (t *Task) IsEnqueued() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st >= stateEnqueued
}

func (t *Task) IsStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st >= stateStarted
}

func (t *Task) IsTerminal() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st == stateCompleted || t.st == stateErrored || t.st == stateRetried
}

// Response and Err return the terminal outcome, if any. At most one is
// non-nil (spec.md §3 "terminal outcome: at most one of response or error").
func (t *Task) Response() *model.Response {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.response
}

func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// EnqueuedAt, StartedAt, CompletedAt are monotonic timestamps (spec.md §3).
func (t *Task) EnqueuedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enqueuedAt
}

func (t *Task) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt
}

func (t *Task) CompletedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completedAt
}

// Enqueued transitions created -> enqueued.
func (t *Task) Enqueued() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.st != stateCreated {
		return
	}
	t.enqueuedAt = t.clock.Now()
	t.st = stateEnqueued
}

// Started transitions enqueued -> started.
func (t *Task) Started() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.st != stateEnqueued {
		return
	}
	t.startedAt = t.clock.Now()
	t.st = stateStarted
}

// Duration returns (completed_at ?? now) - started_at once started, nil
// (zero value, ok=false) otherwise (spec.md §4.2).
func (t *Task) Duration() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startedAt.IsZero() {
		return 0, false
	}
	end := t.completedAt
	if end.IsZero() {
		end = t.clock.Now()
	}
	return end.Sub(t.startedAt), true
}

// Completed sets the terminal response and emits the completion
// callback via the task handler (spec.md §4.2).
func (t *Task) Completed(response *model.Response) {
	t.mu.Lock()
	if t.st == stateCompleted || t.st == stateErrored || t.st == stateRetried {
		t.mu.Unlock()
		return
	}
	t.completedAt = t.clock.Now()
	t.st = stateCompleted
	t.response = response
	handler := t.handler
	callbackClass := t.callbackClass
	t.mu.Unlock()

	if handler != nil {
		handler.OnComplete(response, callbackClass)
	}
}

// Errored wraps non-ErrorValue causes into a TransportError using the
// classification rule (spec.md §4.7), then emits the error callback.
func (t *Task) Errored(cause error) {
	wrapped := Classify(cause, t)

	t.mu.Lock()
	if t.st == stateCompleted || t.st == stateErrored || t.st == stateRetried {
		t.mu.Unlock()
		return
	}
	t.completedAt = t.clock.Now()
	t.st = stateErrored
	t.err = wrapped
	handler := t.handler
	callbackClass := t.callbackClass
	t.mu.Unlock()

	if handler != nil {
		handler.OnError(wrapped, callbackClass)
	}
}

// Retry marks the task retried and hands it back to its Handler's
// producer-requeue path, exactly once. It is the shutdown/orphan-
// recovery counterpart to Completed/Errored: once a task has been
// retried, any still-running request goroutine that later reaches
// Completed or Errored finds the task already in a final state and
// no-ops, so a task is terminal-or-retried but never both (spec.md §8
// invariant #1).
func (t *Task) Retry() (string, error) {
	t.mu.Lock()
	if t.st == stateCompleted || t.st == stateErrored || t.st == stateRetried {
		t.mu.Unlock()
		return "", nil
	}
	t.completedAt = t.clock.Now()
	t.st = stateRetried
	handler := t.handler
	t.mu.Unlock()

	if handler == nil {
		return "", nil
	}
	return handler.Retry()
}

// RedirectTo builds the follower RequestTask for a 3xx response,
// applying the method/body rewrite rules and the "<root>/<hop>" id
// derivation from spec.md §4.2. Hop count exceeded and recursion are
// returned as redirect errors that the reactor turns into a
// RedirectError via Errored; a missing Location is returned as a plain
// error, which Classify turns into a Transport{unknown} error.
func (t *Task) RedirectTo(location string, status int) (*Task, error) {
	t.mu.Lock()
	redirects := append([]string(nil), t.redirects...)
	rootID := t.rootID()
	hop := len(redirects) + 1
	t.mu.Unlock()

	if location == "" {
		return nil, fmt.Errorf("asynchttp: redirect response missing Location header")
	}
	if len(redirects) >= t.MaxRedirects() {
		return nil, redirectError{kind: model.RedirectTooMany}
	}

	newReq, err := t.request.WithRedirect(location, status)
	if err != nil {
		return nil, err
	}

	visited := append(redirects, t.request.URL())
	for _, seen := range visited {
		if seen == newReq.URL() {
			return nil, redirectError{kind: model.RedirectRecursive}
		}
	}

	follower := &Task{
		id:                  fmt.Sprintf("%s/%d", rootID, hop+1),
		request:             newReq,
		handler:             t.handler,
		callbackClass:       t.callbackClass,
		callbackArgs:        t.callbackArgs,
		raiseErrorResponses: t.raiseErrorResponses,
		defaultMaxRedirects: t.defaultMaxRedirects,
		redirects:           visited,
		retryJob:            t.retryJob,
		clock:               t.clock,
		st:                  stateStarted,
		startedAt:           t.StartedAt(),
	}
	return follower, nil
}

// RaiseErrorResponses reports whether non-2xx status should terminate
// the task as an error (spec.md §4.7).
func (t *Task) RaiseErrorResponses() bool { return t.raiseErrorResponses }

// rootID strips any "/<hop>" suffix chain back to the originating id.
func (t *Task) rootID() string {
	if idx := strings.Index(t.id, "/"); idx >= 0 {
		return t.id[:idx]
	}
	return t.id
}

// redirectError is an internal sentinel carrying just enough context
// for the reactor to build a full model.RedirectError once it knows the
// task's final visited list.
type redirectError struct{ kind model.RedirectKind }

func (e redirectError) Error() string { return "asynchttp: redirect " + string(e.kind) }

// RedirectErrorKind extracts the kind from an error produced by
// RedirectTo, if any.
func RedirectErrorKind(err error) (model.RedirectKind, bool) {
	if re, ok := err.(redirectError); ok {
		return re.kind, true
	}
	return "", false
}
