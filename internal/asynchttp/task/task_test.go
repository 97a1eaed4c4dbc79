package task

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/model"
	"github.com/bdurand/asynchttp-dispatcher/internal/jobqueue"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type recordingHandler struct {
	completed *model.Response
	errored   error
	retried   int
}

func (h *recordingHandler) OnComplete(r *model.Response, class string) { h.completed = r }
func (h *recordingHandler) OnError(err error, class string)            { h.errored = err }
func (h *recordingHandler) Retry() (string, error) {
	h.retried++
	return "jid-retry", nil
}

func newTestRequest(t *testing.T) *model.Request {
	t.Helper()
	req, err := model.NewRequest(model.MethodGet, "http://example.test/a")
	require.NoError(t, err)
	return req
}

func TestLifecycleOrdering(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	h := &recordingHandler{}
	tk := New(newTestRequest(t), h, "Cb", nil, false, 5, jobqueue.Job{Class: "HTTPRequest"}, clock)

	assert.False(t, tk.IsEnqueued())
	tk.Enqueued()
	assert.True(t, tk.IsEnqueued())
	assert.False(t, tk.IsStarted())

	clock.advance(10 * time.Millisecond)
	tk.Started()
	assert.True(t, tk.IsStarted())

	clock.advance(25 * time.Millisecond)
	resp := &model.Response{Status: 200, Headers: model.NewHeader()}
	tk.Completed(resp)

	assert.True(t, tk.IsTerminal())
	require.NotNil(t, h.completed)
	assert.Equal(t, 200, h.completed.Status)

	dur, ok := tk.Duration()
	require.True(t, ok)
	assert.Equal(t, 25*time.Millisecond, dur)
	assert.True(t, !tk.EnqueuedAt().After(tk.StartedAt()))
	assert.True(t, !tk.StartedAt().After(tk.CompletedAt()))
}

func TestCompletedThenErroredIsNoOp(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	h := &recordingHandler{}
	tk := New(newTestRequest(t), h, "Cb", nil, false, 5, jobqueue.Job{Class: "HTTPRequest"}, clock)
	tk.Enqueued()
	tk.Started()
	tk.Completed(&model.Response{Status: 200, Headers: model.NewHeader()})
	tk.Errored(errors.New("too late"))

	assert.NotNil(t, h.completed)
	assert.Nil(t, h.errored)
}

func TestErroredWrapsUnknownCause(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	h := &recordingHandler{}
	tk := New(newTestRequest(t), h, "Cb", nil, false, 5, jobqueue.Job{Class: "HTTPRequest"}, clock)
	tk.Enqueued()
	tk.Started()
	tk.Errored(errors.New("boom"))

	require.NotNil(t, h.errored)
	var te *model.TransportError
	require.ErrorAs(t, h.errored, &te)
	assert.Equal(t, model.TransportUnknown, te.Kind)
}

func TestRedirectToRewritesMethodForStandardRedirect(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	h := &recordingHandler{}
	req, err := model.NewRequest(model.MethodPost, "http://example.test/a", model.WithBody([]byte("X")))
	require.NoError(t, err)
	tk := New(req, h, "Cb", nil, false, 5, jobqueue.Job{Class: "HTTPRequest"}, clock)
	tk.Started()

	follower, err := tk.RedirectTo("/b", 302)
	require.NoError(t, err)
	assert.Equal(t, model.MethodGet, follower.Request().Method())
	assert.False(t, follower.Request().HasBody())
	assert.Equal(t, []string{"http://example.test/a"}, follower.Redirects())
	assert.Equal(t, tk.ID()+"/2", follower.ID())
}

func TestRedirectToPreservesBodyForPermanentStatus(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	h := &recordingHandler{}
	req, err := model.NewRequest(model.MethodPost, "http://example.test/a", model.WithBody([]byte("X")))
	require.NoError(t, err)
	tk := New(req, h, "Cb", nil, false, 5, jobqueue.Job{Class: "HTTPRequest"}, clock)
	tk.Started()

	follower, err := tk.RedirectTo("/b", 307)
	require.NoError(t, err)
	assert.Equal(t, model.MethodPost, follower.Request().Method())
	assert.Equal(t, []byte("X"), follower.Request().Body())
}

func TestRedirectToTooManyHops(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	h := &recordingHandler{}
	req, err := model.NewRequest(model.MethodGet, "http://example.test/a")
	require.NoError(t, err)
	tk := New(req, h, "Cb", nil, false, 0, jobqueue.Job{Class: "HTTPRequest"}, clock)
	tk.Started()

	_, err = tk.RedirectTo("/b", 302)
	require.Error(t, err)
	kind, ok := RedirectErrorKind(err)
	require.True(t, ok)
	assert.Equal(t, model.RedirectTooMany, kind)
}

func TestRedirectToRecursive(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	h := &recordingHandler{}
	req, err := model.NewRequest(model.MethodGet, "http://example.test/a")
	require.NoError(t, err)
	tk := New(req, h, "Cb", nil, false, 5, jobqueue.Job{Class: "HTTPRequest"}, clock)
	tk.Started()

	_, err = tk.RedirectTo("http://example.test/a", 302)
	require.Error(t, err)
	kind, ok := RedirectErrorKind(err)
	require.True(t, ok)
	assert.Equal(t, model.RedirectRecursive, kind)
}
