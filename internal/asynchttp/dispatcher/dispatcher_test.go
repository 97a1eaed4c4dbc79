package dispatcher

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/clientpool"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/model"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/payload"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/registry"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/task"
	"github.com/bdurand/asynchttp-dispatcher/internal/config"
	"github.com/bdurand/asynchttp-dispatcher/internal/jobqueue"
	"github.com/bdurand/asynchttp-dispatcher/internal/kv"
)

type recordingHandler struct {
	mu         sync.Mutex
	completed  *model.Response
	errored    error
	done       chan struct{}
	retryCalls int
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{done: make(chan struct{}, 1)}
}

func (h *recordingHandler) OnComplete(r *model.Response, class string) {
	h.mu.Lock()
	h.completed = r
	h.mu.Unlock()
	h.done <- struct{}{}
}

func (h *recordingHandler) OnError(err error, class string) {
	h.mu.Lock()
	h.errored = err
	h.mu.Unlock()
	h.done <- struct{}{}
}

func (h *recordingHandler) Retry() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retryCalls++
	return "retry-jid", nil
}

func (h *recordingHandler) retryCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.retryCalls
}

func testConfig() *config.Config {
	return &config.Config{
		MaxConnections:        2,
		RequestTimeout:        2 * time.Second,
		ShutdownTimeout:       time.Second,
		MaxResponseSize:       1 << 20,
		ConnectionPoolSize:    10,
		ConnectionTimeout:     time.Second,
		PayloadStoreThreshold: 1 << 20,
		MaxRedirects:          5,
		HeartbeatInterval:     50 * time.Millisecond,
		OrphanThreshold:       200 * time.Millisecond,
	}
}

func newTestDispatcher(t *testing.T, cfg *config.Config) (*Dispatcher, *jobqueue.Memory) {
	t.Helper()
	pool, err := clientpool.New(cfg)
	require.NoError(t, err)
	store, err := payload.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ext := payload.NewExternalizer(store, cfg.PayloadStoreThreshold)
	jq := jobqueue.NewMemory()
	reg := registry.New(kv.NewMemory(), jq, "test-process", cfg.InflightTTL(), cfg.GCLockTTL())
	return New(cfg, pool, reg, ext, zap.NewNop()), jq
}

func TestEnqueueRefusesWhenNotRunning(t *testing.T) {
	cfg := testConfig()
	d, _ := newTestDispatcher(t, cfg)

	req, err := model.NewRequest(model.MethodGet, "http://example.com")
	require.NoError(t, err)
	h := newRecordingHandler()
	tk := task.New(req, h, "Callback", nil, false, cfg.MaxRedirects, jobqueue.Job{Class: "HTTPRequest"}, nil)

	err = d.Enqueue(tk)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestEnqueueRefusesAtCapacity(t *testing.T) {
	blockCh := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		<-blockCh
		w.Write([]byte("ok"))
	}))
	defer srv.Close()
	defer close(blockCh)

	cfg := testConfig()
	cfg.MaxConnections = 1
	d, _ := newTestDispatcher(t, cfg)
	d.Start()
	defer d.Stop(cfg.ShutdownTimeout)

	req, err := model.NewRequest(model.MethodGet, srv.URL)
	require.NoError(t, err)

	h1 := newRecordingHandler()
	tk1 := task.New(req, h1, "Callback", nil, false, cfg.MaxRedirects, jobqueue.Job{Class: "HTTPRequest"}, nil)
	require.NoError(t, d.Enqueue(tk1))
	require.True(t, d.WaitForProcessing(time.Second))

	h2 := newRecordingHandler()
	tk2 := task.New(req, h2, "Callback", nil, false, cfg.MaxRedirects, jobqueue.Job{Class: "HTTPRequest"}, nil)
	err = d.Enqueue(tk2)
	assert.ErrorIs(t, err, ErrRefused)
}

func TestStartEnqueueWaitForIdleStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	cfg := testConfig()
	d, _ := newTestDispatcher(t, cfg)
	d.Start()

	req, err := model.NewRequest(model.MethodGet, srv.URL)
	require.NoError(t, err)
	h := newRecordingHandler()
	tk := task.New(req, h, "Callback", nil, false, cfg.MaxRedirects, jobqueue.Job{Class: "HTTPRequest"}, nil)

	require.NoError(t, d.Enqueue(tk))

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task completion")
	}

	require.True(t, d.WaitForIdle(time.Second))
	d.Stop(cfg.ShutdownTimeout)
	assert.Equal(t, 0, h.retryCount())
}

func TestStopRetriesOutstandingTasksOnTimeout(t *testing.T) {
	blockCh := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		<-blockCh
		w.Write([]byte("ok"))
	}))
	defer srv.Close()
	defer close(blockCh)

	cfg := testConfig()
	d, _ := newTestDispatcher(t, cfg)
	d.Start()

	req, err := model.NewRequest(model.MethodGet, srv.URL)
	require.NoError(t, err)
	h := newRecordingHandler()
	tk := task.New(req, h, "Callback", nil, false, cfg.MaxRedirects, jobqueue.Job{Class: "HTTPRequest"}, nil)
	require.NoError(t, d.Enqueue(tk))
	require.True(t, d.WaitForProcessing(time.Second))

	d.Stop(50 * time.Millisecond)

	assert.Equal(t, 1, h.retryCount())
}
