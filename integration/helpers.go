//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hochfrequenz/bulkloader/internal/checkpoint"
	"github.com/hochfrequenz/bulkloader/internal/directory"
	"github.com/hochfrequenz/bulkloader/internal/history"
	"github.com/hochfrequenz/bulkloader/internal/orchestrator"
	"github.com/hochfrequenz/bulkloader/internal/progress"
)

// fakeDirectory is an in-memory stand-in for the remote hospital
// directory service. Names listed in failNames are rejected with a 422
// until cleared.
type fakeDirectory struct {
	mu        sync.Mutex
	nextID    int64
	hospitals map[int64]directory.Hospital
	failNames map[string]bool
	activated map[string]bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		hospitals: make(map[int64]directory.Hospital),
		failNames: make(map[string]bool),
		activated: make(map[string]bool),
	}
}

func (f *fakeDirectory) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/hospitals/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/hospitals/" {
			f.create(w, r)
			return
		}
		if r.Method == http.MethodPatch && strings.HasSuffix(r.URL.Path, "/activate") {
			f.activate(w, r)
			return
		}
		http.NotFound(w, r)
	})

	return mux
}

func (f *fakeDirectory) create(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name    string `json:"name"`
		Address string `json:"address"`
		Phone   string `json:"phone"`
		BatchID string `json:"creation_batch_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNames[payload.Name] {
		http.Error(w, "simulated validation failure", http.StatusUnprocessableEntity)
		return
	}

	f.nextID++
	h := directory.Hospital{
		ID:              f.nextID,
		Name:            payload.Name,
		Address:         payload.Address,
		Phone:           payload.Phone,
		CreationBatchID: payload.BatchID,
	}
	f.hospitals[h.ID] = h

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(h)
}

func (f *fakeDirectory) activate(w http.ResponseWriter, r *http.Request) {
	batchID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/hospitals/batch/"), "/activate")

	f.mu.Lock()
	defer f.mu.Unlock()

	f.activated[batchID] = true
	for id, h := range f.hospitals {
		if h.CreationBatchID == batchID {
			h.Active = true
			f.hospitals[id] = h
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (f *fakeDirectory) setFailing(name string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNames[name] = failing
}

func (f *fakeDirectory) isActivated(batchID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activated[batchID]
}

func (f *fakeDirectory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hospitals)
}

// testStack is a fully wired engine against a fake directory service
type testStack struct {
	dir         *fakeDirectory
	server      *httptest.Server
	orch        *orchestrator.Orchestrator
	checkpoints *checkpoint.Store
	runs        *history.Store
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	dir := newFakeDirectory()
	server := httptest.NewServer(dir.handler())
	t.Cleanup(server.Close)

	checkpoints, err := checkpoint.New(filepath.Join(t.TempDir(), "checkpoints"))
	if err != nil {
		t.Fatal(err)
	}

	runs, err := history.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { runs.Close() })

	client := directory.NewHTTPClient(server.URL, 0, 0)
	orch := orchestrator.New(client, progress.New(), checkpoints, runs, orchestrator.Options{
		MaxRows:       20,
		MaxConcurrent: 5,
	})

	return &testStack{
		dir:         dir,
		server:      server,
		orch:        orch,
		checkpoints: checkpoints,
		runs:        runs,
	}
}
