package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/bulkloader/internal/history"
	"github.com/hochfrequenz/bulkloader/internal/orchestrator"
	"github.com/hochfrequenz/bulkloader/internal/parser"
)

// PurgeResponse reports how many batches a purge removed
type PurgeResponse struct {
	Removed     int     `json:"removed"`
	MaxAgeHours float64 `json:"max_age_hours"`
}

// RunResponse is the API shape of one processing run
type RunResponse struct {
	BatchID    string `json:"batch_id"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	Processed  int    `json:"processed"`
	Failed     int    `json:"failed"`
	Activated  bool   `json:"activated"`
}

func runToResponse(r history.Run) RunResponse {
	return RunResponse{
		BatchID:    r.BatchID,
		Kind:       string(r.Kind),
		Status:     r.Status,
		StartedAt:  r.StartedAt.Format(time.RFC3339),
		FinishedAt: r.FinishedAt.Format(time.RFC3339),
		Processed:  r.Processed,
		Failed:     r.Failed,
		Activated:  r.Activated,
	}
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// csvBody extracts the CSV payload from either a multipart upload
// (field "file") or a raw request body
func csvBody(r *http.Request) (io.ReadCloser, error) {
	ct := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err == nil && strings.HasPrefix(mediaType, "multipart/") {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return nil, err
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, errors.New(`multipart upload requires a "file" field`)
		}
		return file, nil
	}
	return r.Body, nil
}

func (s *Server) submitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		body, err := csvBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		defer body.Close()

		records, err := parser.ParseCSV(body, s.maxRows)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		result, err := s.orch.Submit(r.Context(), records)
		if err != nil {
			switch {
			case errors.Is(err, orchestrator.ErrEmptyBatch),
				errors.Is(err, orchestrator.ErrBatchTooLarge):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) listResumableHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"resumable_batches": s.orch.ListResumable(),
		})
	}
}

func (s *Server) purgeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		hours := 24.0
		if v := r.URL.Query().Get("max_age_hours"); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "max_age_hours must be a positive number")
				return
			}
			hours = parsed
		}

		removed, err := s.orch.Purge(time.Duration(hours * float64(time.Hour)))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, PurgeResponse{Removed: removed, MaxAgeHours: hours})
	}
}

// batchHandler routes /api/batches/{id} and its sub-resources
func (s *Server) batchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/batches/")
		if path == "" {
			writeError(w, http.StatusBadRequest, "batch ID required")
			return
		}

		batchID, action, _ := strings.Cut(path, "/")

		switch action {
		case "":
			switch r.Method {
			case http.MethodGet:
				s.getBatch(w, batchID)
			case http.MethodDelete:
				s.abandonBatch(w, batchID)
			default:
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			}
		case "resume":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			s.resumeBatch(w, r, batchID)
		case "history":
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			s.batchHistory(w, batchID)
		case "ws":
			s.serveBatchWS(w, r, batchID)
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	}
}

func (s *Server) getBatch(w http.ResponseWriter, batchID string) {
	progress, err := s.orch.Progress(batchID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNotFound) {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) resumeBatch(w http.ResponseWriter, r *http.Request, batchID string) {
	result, err := s.orch.Resume(r.Context(), batchID)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrNotFound):
			writeError(w, http.StatusNotFound, "batch not found")
		case errors.Is(err, orchestrator.ErrNotResumable):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) abandonBatch(w http.ResponseWriter, batchID string) {
	if err := s.orch.Abandon(batchID); err != nil {
		if errors.Is(err, orchestrator.ErrNotFound) {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "abandoned", "batch_id": batchID})
}

func (s *Server) batchHistory(w http.ResponseWriter, batchID string) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history not available")
		return
	}

	runs, err := s.runs.ListRunsForBatch(batchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]RunResponse, len(runs))
	for i, run := range runs {
		resp[i] = runToResponse(run)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) historyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.runs == nil {
			writeError(w, http.StatusServiceUnavailable, "run history not available")
			return
		}

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, _ = strconv.Atoi(v)
		}

		runs, err := s.runs.ListRuns(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := make([]RunResponse, len(runs))
		for i, run := range runs {
			resp[i] = runToResponse(run)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
