package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hochfrequenz/bulkloader/internal/domain"
	"github.com/hochfrequenz/bulkloader/internal/history"
)

// Orchestrator is the batch engine the server fronts
type Orchestrator interface {
	Submit(ctx context.Context, input []domain.HospitalRecord) (*domain.BatchResult, error)
	Resume(ctx context.Context, batchID string) (*domain.BatchResult, error)
	Progress(batchID string) (*domain.BatchProgress, error)
	ListResumable() []domain.ResumableSummary
	Abandon(batchID string) error
	Purge(maxAge time.Duration) (int, error)
}

// RunLister exposes the per-batch run audit trail. May be nil.
type RunLister interface {
	ListRuns(limit int) ([]history.Run, error)
	ListRunsForBatch(batchID string) ([]history.Run, error)
}

// Server is the HTTP API server
type Server struct {
	orch    Orchestrator
	runs    RunLister
	addr    string
	maxRows int
	mux     *http.ServeMux
	sseHub  *SSEHub
	wsHub   *WSHub
}

// NewServer creates a new API server. runs may be nil to disable the
// history endpoints.
func NewServer(orch Orchestrator, runs RunLister, addr string, maxRows int) *Server {
	s := &Server{
		orch:    orch,
		runs:    runs,
		addr:    addr,
		maxRows: maxRows,
		mux:     http.NewServeMux(),
		sseHub:  NewSSEHub(),
		wsHub:   NewWSHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.healthHandler())
	s.mux.HandleFunc("/api/batches", s.submitHandler())
	s.mux.HandleFunc("/api/batches/resumable", s.listResumableHandler())
	s.mux.HandleFunc("/api/batches/purge", s.purgeHandler())
	s.mux.HandleFunc("/api/batches/", s.batchHandler())
	s.mux.HandleFunc("/api/history", s.historyHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
}

// Handler returns the route tree, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go s.sseHub.Run()
	go s.wsHub.Run()
	return http.ListenAndServe(s.addr, s.mux)
}

// Publish forwards a live-progress event to every SSE client and to
// websocket subscribers of the affected batch
func (s *Server) Publish(event string, data interface{}) {
	e := SSEEvent{Type: event, Data: data}
	s.sseHub.Broadcast(e)
	if id := batchIDOf(data); id != "" {
		s.wsHub.Send(id, e)
	}
}

func batchIDOf(data interface{}) string {
	switch v := data.(type) {
	case *domain.BatchProgress:
		return v.BatchID
	case map[string]interface{}:
		if id, ok := v["batch_id"].(string); ok {
			return id
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
