package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/bulkloader/internal/domain"
	"github.com/hochfrequenz/bulkloader/internal/history"
	"github.com/hochfrequenz/bulkloader/internal/orchestrator"
)

type mockOrch struct {
	submitted   [][]domain.HospitalRecord
	submitRes   *domain.BatchResult
	resumeErr   error
	resumeRes   *domain.BatchResult
	progress    map[string]*domain.BatchProgress
	resumable   []domain.ResumableSummary
	abandonErr  error
	abandoned   []string
	purgeMaxAge time.Duration
	purgeCount  int
}

func (m *mockOrch) Submit(ctx context.Context, input []domain.HospitalRecord) (*domain.BatchResult, error) {
	m.submitted = append(m.submitted, input)
	if m.submitRes != nil {
		return m.submitRes, nil
	}
	return &domain.BatchResult{BatchID: "b1", Total: len(input), ProcessedCount: len(input)}, nil
}

func (m *mockOrch) Resume(ctx context.Context, batchID string) (*domain.BatchResult, error) {
	if m.resumeErr != nil {
		return nil, m.resumeErr
	}
	if m.resumeRes != nil {
		return m.resumeRes, nil
	}
	return &domain.BatchResult{BatchID: batchID, ResumeCount: 1}, nil
}

func (m *mockOrch) Progress(batchID string) (*domain.BatchProgress, error) {
	if p, ok := m.progress[batchID]; ok {
		return p, nil
	}
	return nil, orchestrator.ErrNotFound
}

func (m *mockOrch) ListResumable() []domain.ResumableSummary {
	return m.resumable
}

func (m *mockOrch) Abandon(batchID string) error {
	if m.abandonErr != nil {
		return m.abandonErr
	}
	m.abandoned = append(m.abandoned, batchID)
	return nil
}

func (m *mockOrch) Purge(maxAge time.Duration) (int, error) {
	m.purgeMaxAge = maxAge
	return m.purgeCount, nil
}

type mockRuns struct {
	runs []history.Run
}

func (m *mockRuns) ListRuns(limit int) ([]history.Run, error) { return m.runs, nil }
func (m *mockRuns) ListRunsForBatch(batchID string) ([]history.Run, error) {
	var out []history.Run
	for _, r := range m.runs {
		if r.BatchID == batchID {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestServer(orch *mockOrch, runs RunLister) *Server {
	return NewServer(orch, runs, ":0", 20)
}

func TestSubmitHandler_RawCSV(t *testing.T) {
	orch := &mockOrch{}
	server := newTestServer(orch, nil)

	csv := "name,address,phone\nGeneral Hospital,123 Main St,555-0123\n"
	req := httptest.NewRequest("POST", "/api/batches", strings.NewReader(csv))
	req.Header.Set("Content-Type", "text/csv")
	w := httptest.NewRecorder()

	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
	}
	if len(orch.submitted) != 1 || len(orch.submitted[0]) != 1 {
		t.Fatalf("submitted = %+v", orch.submitted)
	}
	if orch.submitted[0][0].Name != "General Hospital" {
		t.Errorf("record = %+v", orch.submitted[0][0])
	}

	var res domain.BatchResult
	json.NewDecoder(w.Body).Decode(&res)
	if res.BatchID != "b1" {
		t.Errorf("batch_id = %q", res.BatchID)
	}
}

func TestSubmitHandler_InvalidCSV(t *testing.T) {
	server := newTestServer(&mockOrch{}, nil)

	req := httptest.NewRequest("POST", "/api/batches", strings.NewReader("phone\n555-0123\n"))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSubmitHandler_MethodNotAllowed(t *testing.T) {
	server := newTestServer(&mockOrch{}, nil)

	req := httptest.NewRequest("GET", "/api/batches", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestGetBatchHandler(t *testing.T) {
	orch := &mockOrch{
		progress: map[string]*domain.BatchProgress{
			"b1": {BatchID: "b1", Status: domain.BatchCompleted, Total: 2},
		},
	}
	server := newTestServer(orch, nil)

	req := httptest.NewRequest("GET", "/api/batches/b1", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var p domain.BatchProgress
	json.NewDecoder(w.Body).Decode(&p)
	if p.BatchID != "b1" || p.Status != domain.BatchCompleted {
		t.Errorf("progress = %+v", p)
	}
}

func TestGetBatchHandler_NotFound(t *testing.T) {
	server := newTestServer(&mockOrch{}, nil)

	req := httptest.NewRequest("GET", "/api/batches/nope", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestResumeHandler(t *testing.T) {
	server := newTestServer(&mockOrch{}, nil)

	req := httptest.NewRequest("POST", "/api/batches/b1/resume", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var res domain.BatchResult
	json.NewDecoder(w.Body).Decode(&res)
	if res.ResumeCount != 1 {
		t.Errorf("resume_count = %d, want 1", res.ResumeCount)
	}
}

func TestResumeHandler_NotResumable(t *testing.T) {
	server := newTestServer(&mockOrch{resumeErr: orchestrator.ErrNotResumable}, nil)

	req := httptest.NewRequest("POST", "/api/batches/b1/resume", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestResumeHandler_NotFound(t *testing.T) {
	server := newTestServer(&mockOrch{resumeErr: orchestrator.ErrNotFound}, nil)

	req := httptest.NewRequest("POST", "/api/batches/b1/resume", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestListResumableHandler(t *testing.T) {
	orch := &mockOrch{
		resumable: []domain.ResumableSummary{
			{BatchID: "b1", Total: 5, FailedCount: 2, ResumeFromRow: 4},
		},
	}
	server := newTestServer(orch, nil)

	req := httptest.NewRequest("GET", "/api/batches/resumable", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body struct {
		Batches []domain.ResumableSummary `json:"resumable_batches"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if len(body.Batches) != 1 || body.Batches[0].ResumeFromRow != 4 {
		t.Errorf("body = %+v", body)
	}
}

func TestAbandonHandler(t *testing.T) {
	orch := &mockOrch{}
	server := newTestServer(orch, nil)

	req := httptest.NewRequest("DELETE", "/api/batches/b1", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(orch.abandoned) != 1 || orch.abandoned[0] != "b1" {
		t.Errorf("abandoned = %v", orch.abandoned)
	}
}

func TestAbandonHandler_NotFound(t *testing.T) {
	server := newTestServer(&mockOrch{abandonErr: orchestrator.ErrNotFound}, nil)

	req := httptest.NewRequest("DELETE", "/api/batches/nope", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestPurgeHandler(t *testing.T) {
	orch := &mockOrch{purgeCount: 2}
	server := newTestServer(orch, nil)

	req := httptest.NewRequest("POST", "/api/batches/purge?max_age_hours=48", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if orch.purgeMaxAge != 48*time.Hour {
		t.Errorf("maxAge = %v, want 48h", orch.purgeMaxAge)
	}

	var res PurgeResponse
	json.NewDecoder(w.Body).Decode(&res)
	if res.Removed != 2 {
		t.Errorf("removed = %d, want 2", res.Removed)
	}
}

func TestPurgeHandler_BadAge(t *testing.T) {
	server := newTestServer(&mockOrch{}, nil)

	req := httptest.NewRequest("POST", "/api/batches/purge?max_age_hours=-1", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestBatchHistoryHandler(t *testing.T) {
	runs := &mockRuns{runs: []history.Run{
		{BatchID: "b1", Kind: history.RunInitial, Status: "resumable", Processed: 3, Failed: 2},
		{BatchID: "b1", Kind: history.RunResume, Status: "completed", Processed: 5, Activated: true},
		{BatchID: "b2", Kind: history.RunInitial, Status: "completed"},
	}}
	server := newTestServer(&mockOrch{}, runs)

	req := httptest.NewRequest("GET", "/api/batches/b1/history", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp []RunResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp) != 2 {
		t.Fatalf("got %d runs, want 2", len(resp))
	}
	if resp[1].Kind != "resume" || !resp[1].Activated {
		t.Errorf("run = %+v", resp[1])
	}
}

func TestHistoryHandler_Unavailable(t *testing.T) {
	server := newTestServer(&mockOrch{}, nil)

	req := httptest.NewRequest("GET", "/api/history", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	server := newTestServer(&mockOrch{}, nil)

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
