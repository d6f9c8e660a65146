package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hochfrequenz/bulkloader/internal/domain"
)

// Hospital is a record as returned by the directory service
type Hospital struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Address         string `json:"address"`
	Phone           string `json:"phone,omitempty"`
	CreationBatchID string `json:"creation_batch_id"`
	Active          bool   `json:"active"`
	CreatedAt       string `json:"created_at,omitempty"`
}

// Client is the capability the orchestrator needs from the remote
// directory service. Create is not idempotent: a retry after an
// ambiguous failure may produce a duplicate.
type Client interface {
	Create(ctx context.Context, rec domain.HospitalRecord, batchID string) (*Hospital, error)
	Activate(ctx context.Context, batchID string) error
	ListByBatch(ctx context.Context, batchID string) ([]Hospital, error)
}

// HTTPClient talks to the directory service over HTTP
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client with pooled connections and the given
// per-call and connect timeouts
func NewHTTPClient(baseURL string, timeout, connectTimeout time.Duration) *HTTPClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}

	return &HTTPClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

type createRequest struct {
	Name            string `json:"name"`
	Address         string `json:"address"`
	Phone           string `json:"phone,omitempty"`
	CreationBatchID string `json:"creation_batch_id"`
}

// Create submits one record tagged with the batch ID
func (c *HTTPClient) Create(ctx context.Context, rec domain.HospitalRecord, batchID string) (*Hospital, error) {
	payload, err := json.Marshal(createRequest{
		Name:            rec.Name,
		Address:         rec.Address,
		Phone:           rec.Phone,
		CreationBatchID: batchID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/hospitals/", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("create", resp)
	}

	var h Hospital
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decoding create response: %w", err)
	}
	return &h, nil
}

// Activate flips every record already tagged with the batch ID to active
func (c *HTTPClient) Activate(ctx context.Context, batchID string) error {
	url := fmt.Sprintf("%s/hospitals/batch/%s/activate", c.baseURL, batchID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("activate", resp)
	}
	return nil
}

// ListByBatch returns all records tagged with the batch ID
func (c *HTTPClient) ListByBatch(ctx context.Context, batchID string) ([]Hospital, error) {
	url := fmt.Sprintf("%s/hospitals/batch/%s", c.baseURL, batchID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("list", resp)
	}

	var hospitals []Hospital
	if err := json.NewDecoder(resp.Body).Decode(&hospitals); err != nil {
		return nil, fmt.Errorf("decoding list response: %w", err)
	}
	return hospitals, nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if len(body) > 0 {
		return fmt.Errorf("directory %s returned %d: %s", op, resp.StatusCode, body)
	}
	return fmt.Errorf("directory %s returned %d", op, resp.StatusCode)
}
