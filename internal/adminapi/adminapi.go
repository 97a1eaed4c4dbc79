// Package adminapi exposes a small operational control surface over a
// running Dispatcher: status inspection and a drain trigger for
// operators performing a rolling restart. Grounded on the teacher's
// internal/admin-api package, trimmed from its full RBAC/audit/rate-
// limit/OpenAPI surface (out of scope for this dispatcher, which has no
// destructive queue operations to gate) down to the routing idiom
// itself: gorilla/mux's method-scoped route registration, taken from
// internal/admin-api/exactly_once_handler.go's RegisterRoutes.
package adminapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/dispatcher"
)

// Server is the admin HTTP surface for one Dispatcher.
type Server struct {
	addr   string
	disp   *dispatcher.Dispatcher
	logger *zap.Logger
	srv    *http.Server
}

// NewServer builds a Server bound to disp, not yet listening.
func NewServer(addr string, disp *dispatcher.Dispatcher, logger *zap.Logger) *Server {
	return &Server{addr: addr, disp: disp, logger: logger}
}

// Start builds the route table and begins listening in a background
// goroutine, mirroring the teacher's Server.Start (ListenAndServe
// backgrounded, errors logged rather than propagated past startup).
func (s *Server) Start() {
	router := mux.NewRouter()
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/drain", s.handleDrain).Methods(http.MethodPost)

	s.srv = &http.Server{Addr: s.addr, Handler: router}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("adminapi: server exited", zap.Error(err))
		}
	}()
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

type statusResponse struct {
	State    string `json:"state"`
	Inflight int    `json:"inflight"`
	Capacity int    `json:"capacity"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	inflight, capacity := s.disp.ReactorSnapshot()
	resp := statusResponse{
		State:    s.disp.State().String(),
		Inflight: inflight,
		Capacity: capacity,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	ok := s.disp.Drain()
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "drain is only valid from the running state"})
		return
	}
	_, _ = fmt.Fprintln(w, `{"drained":true}`)
}
