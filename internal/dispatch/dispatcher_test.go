package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hochfrequenz/bulkloader/internal/directory"
	"github.com/hochfrequenz/bulkloader/internal/domain"
	"github.com/hochfrequenz/bulkloader/internal/progress"
)

// fakeClient counts in-flight calls and fails configured rows
type fakeClient struct {
	mu        sync.Mutex
	inFlight  int32
	maxSeen   int32
	nextID    int64
	failNames map[string]bool
	delay     time.Duration
}

func (f *fakeClient) Create(ctx context.Context, rec domain.HospitalRecord, batchID string) (*directory.Hospital, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)

	for {
		prev := atomic.LoadInt32(&f.maxSeen)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxSeen, prev, cur) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.failNames[rec.Name] {
		return nil, errors.New("simulated create failure")
	}

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.mu.Unlock()
	return &directory.Hospital{ID: id, Name: rec.Name, CreationBatchID: batchID}, nil
}

func (f *fakeClient) Activate(ctx context.Context, batchID string) error { return nil }

func (f *fakeClient) ListByBatch(ctx context.Context, batchID string) ([]directory.Hospital, error) {
	return nil, nil
}

func setup(n int, failNames ...string) (*fakeClient, *progress.Tracker, []RowRecord) {
	client := &fakeClient{failNames: make(map[string]bool)}
	for _, name := range failNames {
		client.failNames[name] = true
	}

	tracker := progress.New()
	input := make([]domain.HospitalRecord, n)
	rows := make([]RowRecord, n)
	for i := range input {
		input[i] = domain.HospitalRecord{Name: fmt.Sprintf("Hospital %d", i+1), Address: "addr"}
		rows[i] = RowRecord{Row: i + 1, Record: input[i]}
	}
	tracker.CreateBatch("b1", input)
	return client, tracker, rows
}

func TestRun_OneOutcomePerRow(t *testing.T) {
	client, tracker, rows := setup(5, "Hospital 4", "Hospital 5")
	d := New(client, tracker, 2)

	outcomes, err := d.Run(context.Background(), "b1", rows)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 5 {
		t.Fatalf("got %d outcomes, want 5", len(outcomes))
	}

	seen := make(map[int]bool)
	for _, o := range outcomes {
		if seen[o.Row] {
			t.Errorf("row %d has more than one outcome", o.Row)
		}
		seen[o.Row] = true
	}

	b := tracker.Snapshot("b1")
	if b.ProcessedCount != 3 || b.FailedCount != 2 {
		t.Errorf("counts = %d/%d, want 3/2", b.ProcessedCount, b.FailedCount)
	}
	if b.Record(4).Status != domain.RecordFailed || b.Record(4).ErrorMessage == "" {
		t.Error("failed row should carry an error message")
	}
	if b.Record(1).Status != domain.RecordCreated || b.Record(1).RemoteID == nil {
		t.Error("successful row should carry a remote ID")
	}
}

func TestRun_ConcurrencyCap(t *testing.T) {
	client, tracker, rows := setup(10)
	client.delay = 20 * time.Millisecond
	d := New(client, tracker, 3)

	if _, err := d.Run(context.Background(), "b1", rows); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if max := atomic.LoadInt32(&client.maxSeen); max > 3 {
		t.Errorf("max in-flight = %d, want <= 3", max)
	}
}

func TestRun_CapNotAboveRowCount(t *testing.T) {
	client, tracker, rows := setup(2)
	client.delay = 20 * time.Millisecond
	d := New(client, tracker, 10)

	if _, err := d.Run(context.Background(), "b1", rows); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if max := atomic.LoadInt32(&client.maxSeen); max > 2 {
		t.Errorf("max in-flight = %d, want <= 2 for a 2-row round", max)
	}
}

func TestRun_FailureDoesNotAbortSiblings(t *testing.T) {
	client, tracker, rows := setup(4, "Hospital 1")
	d := New(client, tracker, 4)

	outcomes, err := d.Run(context.Background(), "b1", rows)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed outcomes = %d, want 1 (siblings must complete)", failed)
	}
}

func TestRun_RecordsProcessingTime(t *testing.T) {
	client, tracker, rows := setup(1)
	client.delay = 10 * time.Millisecond
	d := New(client, tracker, 1)

	d.Run(context.Background(), "b1", rows)

	rec := tracker.Snapshot("b1").Record(1)
	if rec.ProcessingSeconds <= 0 {
		t.Error("processing time should be recorded on the row")
	}
}

func TestRun_EmptyRound(t *testing.T) {
	client, tracker, _ := setup(1)
	d := New(client, tracker, 5)

	outcomes, err := d.Run(context.Background(), "b1", nil)
	if err != nil || outcomes != nil {
		t.Errorf("empty round should be a no-op, got %v, %v", outcomes, err)
	}
}

func TestRun_ContextCancelAbortsRound(t *testing.T) {
	client, tracker, rows := setup(10)
	client.delay = 50 * time.Millisecond
	d := New(client, tracker, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	_, err := d.Run(ctx, "b1", rows)
	if err == nil {
		t.Fatal("expected round-level error when context expires")
	}
}

func TestRun_OnRecordHook(t *testing.T) {
	client, tracker, rows := setup(2)
	d := New(client, tracker, 2)

	var mu sync.Mutex
	statuses := make(map[domain.RecordStatus]int)
	d.OnRecord = func(batchID string, rec domain.RecordProgress) {
		mu.Lock()
		statuses[rec.Status]++
		mu.Unlock()
	}

	d.Run(context.Background(), "b1", rows)

	if statuses[domain.RecordProcessing] != 2 || statuses[domain.RecordCreated] != 2 {
		t.Errorf("hook saw %v, want 2 processing and 2 created", statuses)
	}
}
