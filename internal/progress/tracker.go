package progress

import (
	"sync"
	"time"

	"github.com/hochfrequenz/bulkloader/internal/domain"
)

// Tracker is the in-memory source of truth for batch progress while the
// owning process is alive. Each batch carries its own lock, so concurrent
// operations on different batches never contend; the outer RWMutex only
// guards the map itself.
type Tracker struct {
	mu      sync.RWMutex
	batches map[string]*entry
}

type entry struct {
	mu    sync.Mutex
	batch *domain.BatchProgress
}

// New creates an empty Tracker
func New() *Tracker {
	return &Tracker{batches: make(map[string]*entry)}
}

// CreateBatch initializes tracking for a new batch with every record
// pending. The validated input is retained so a resume can reconstruct
// submission requests without re-parsing.
func (t *Tracker) CreateBatch(batchID string, input []domain.HospitalRecord) *domain.BatchProgress {
	records := make([]domain.RecordProgress, len(input))
	for i, rec := range input {
		records[i] = domain.RecordProgress{
			Row:    i + 1,
			Name:   rec.Name,
			Status: domain.RecordPending,
		}
	}

	b := &domain.BatchProgress{
		BatchID:       batchID,
		Status:        domain.BatchInitializing,
		Total:         len(input),
		Records:       records,
		StartTime:     time.Now(),
		CurrentStep:   "Initialized batch processing",
		OriginalInput: append([]domain.HospitalRecord(nil), input...),
	}

	t.mu.Lock()
	t.batches[batchID] = &entry{batch: b}
	t.mu.Unlock()

	return b.Clone()
}

// Put inserts or replaces a batch, used when loading a checkpoint back
// into memory
func (t *Tracker) Put(b *domain.BatchProgress) {
	t.mu.Lock()
	t.batches[b.BatchID] = &entry{batch: b.Clone()}
	t.mu.Unlock()
}

func (t *Tracker) get(batchID string) *entry {
	t.mu.RLock()
	e := t.batches[batchID]
	t.mu.RUnlock()
	return e
}

// Update runs fn against the batch under its lock. The read-modify-write
// sequence is indivisible per batch key. Returns false if the batch is
// not tracked.
func (t *Tracker) Update(batchID string, fn func(*domain.BatchProgress)) bool {
	e := t.get(batchID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.batch)
	return true
}

// SetStatus updates the batch-level status and step label
func (t *Tracker) SetStatus(batchID string, status domain.BatchStatus, step string) bool {
	return t.Update(batchID, func(b *domain.BatchProgress) {
		b.Status = status
		if step != "" {
			b.CurrentStep = step
		}
	})
}

// RecordUpdate carries the fields to apply to a single row
type RecordUpdate struct {
	Status            domain.RecordStatus
	RemoteID          *int64
	ErrorMessage      string
	ProcessingSeconds float64
}

// UpdateRecord applies an update to one row and recomputes the aggregate
// counters from the full record set
func (t *Tracker) UpdateRecord(batchID string, row int, u RecordUpdate) bool {
	return t.Update(batchID, func(b *domain.BatchProgress) {
		rec := b.Record(row)
		if rec == nil {
			return
		}
		rec.Status = u.Status
		rec.RemoteID = u.RemoteID
		rec.ErrorMessage = u.ErrorMessage
		if u.ProcessingSeconds > 0 {
			rec.ProcessingSeconds = u.ProcessingSeconds
		}
		b.Recount()
	})
}

// Complete marks a batch completed, freezing its completion time. When
// activated, every created record is upgraded to created_and_activated.
func (t *Tracker) Complete(batchID string, activated bool) bool {
	return t.Update(batchID, func(b *domain.BatchProgress) {
		b.Status = domain.BatchCompleted
		b.Activated = activated
		b.IsResumable = false
		b.CurrentStep = "Batch processing completed"
		if b.CompletionTime == nil {
			now := time.Now()
			b.CompletionTime = &now
		}
		if activated {
			for i := range b.Records {
				if b.Records[i].Status == domain.RecordCreated {
					b.Records[i].Status = domain.RecordActivated
				}
			}
		}
		b.Recount()
	})
}

// MarkResumable routes a batch to the resumable state. resumeFrom <= 0
// means "compute it from the record set".
func (t *Tracker) MarkResumable(batchID, reason string, resumeFrom int) bool {
	return t.Update(batchID, func(b *domain.BatchProgress) {
		b.Status = domain.BatchResumable
		b.IsResumable = true
		b.FailureReason = reason
		b.CurrentStep = "Batch interrupted, resumable"
		if resumeFrom > 0 {
			b.ResumeFromRow = resumeFrom
		} else {
			b.ResumeFromRow = b.NextResumeRow()
		}
		b.Recount()
	})
}

// Snapshot returns a deep copy of the batch, or nil if untracked
func (t *Tracker) Snapshot(batchID string) *domain.BatchProgress {
	e := t.get(batchID)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batch.Clone()
}

// Remove drops a batch from memory
func (t *Tracker) Remove(batchID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.batches[batchID]; !ok {
		return false
	}
	delete(t.batches, batchID)
	return true
}

// List returns snapshots of all tracked batches
func (t *Tracker) List() []*domain.BatchProgress {
	t.mu.RLock()
	entries := make([]*entry, 0, len(t.batches))
	for _, e := range t.batches {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	out := make([]*domain.BatchProgress, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.batch.Clone())
		e.mu.Unlock()
	}
	return out
}

// Cleanup removes batches whose start time is older than maxAge and
// returns their IDs. Age is the only criterion; status is ignored.
func (t *Tracker) Cleanup(maxAge time.Duration) []string {
	cutoff := time.Now().Add(-maxAge)

	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []string
	for id, e := range t.batches {
		e.mu.Lock()
		expired := e.batch.StartTime.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(t.batches, id)
			removed = append(removed, id)
		}
	}
	return removed
}
