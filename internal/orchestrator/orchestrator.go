package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/bulkloader/internal/checkpoint"
	"github.com/hochfrequenz/bulkloader/internal/directory"
	"github.com/hochfrequenz/bulkloader/internal/dispatch"
	"github.com/hochfrequenz/bulkloader/internal/domain"
	"github.com/hochfrequenz/bulkloader/internal/history"
	"github.com/hochfrequenz/bulkloader/internal/progress"
)

var (
	// ErrNotFound means the batch exists neither in memory nor on disk
	ErrNotFound = errors.New("batch not found")
	// ErrNotResumable means the batch is not in the resumable state
	ErrNotResumable = errors.New("batch is not resumable")
	// ErrEmptyBatch means the input contained no records
	ErrEmptyBatch = errors.New("no records in batch")
	// ErrBatchTooLarge means the input exceeded the configured row cap
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
)

// EventSink receives progress events for live observation. Implementations
// must not block.
type EventSink interface {
	Publish(event string, data interface{})
}

// NoopSink discards all events
type NoopSink struct{}

// Publish does nothing
func (NoopSink) Publish(event string, data interface{}) {}

// RunStore persists one row per finished dispatch round for auditing.
// A nil RunStore disables history.
type RunStore interface {
	SaveRun(run history.Run) error
}

// Options configures an Orchestrator
type Options struct {
	MaxRows       int // input rejection threshold
	MaxConcurrent int // dispatch concurrency cap
}

// Orchestrator owns the full batch lifecycle: dispatch, activation,
// checkpointing, resume, abandonment and retention.
type Orchestrator struct {
	tracker     *progress.Tracker
	checkpoints *checkpoint.Store
	client      directory.Client
	dispatcher  *dispatch.Dispatcher
	runs        RunStore
	events      EventSink
	opts        Options
}

// New creates an Orchestrator. runs may be nil to disable run history.
func New(client directory.Client, tracker *progress.Tracker, checkpoints *checkpoint.Store, runs RunStore, opts Options) *Orchestrator {
	if opts.MaxRows < 1 {
		opts.MaxRows = 20
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 10
	}

	o := &Orchestrator{
		tracker:     tracker,
		checkpoints: checkpoints,
		client:      client,
		runs:        runs,
		events:      NoopSink{},
		opts:        opts,
	}
	o.dispatcher = dispatch.New(client, tracker, opts.MaxConcurrent)
	o.dispatcher.OnRecord = func(batchID string, rec domain.RecordProgress) {
		o.events.Publish("record_update", map[string]interface{}{
			"batch_id": batchID,
			"record":   rec,
		})
	}
	return o
}

// SetEvents installs a live-progress sink
func (o *Orchestrator) SetEvents(sink EventSink) {
	if sink != nil {
		o.events = sink
	}
}

// Submit runs a full batch: create every record under the concurrency
// cap, then evaluate activation. Per-row failures are reflected in the
// result, not returned as an error; only input rejection and a
// round-level abort produce an error. After a round-level abort the
// batch remains queryable and resumable.
func (o *Orchestrator) Submit(ctx context.Context, input []domain.HospitalRecord) (*domain.BatchResult, error) {
	if len(input) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(input) > o.opts.MaxRows {
		return nil, fmt.Errorf("%w: %d records, maximum is %d", ErrBatchTooLarge, len(input), o.opts.MaxRows)
	}

	batchID := uuid.NewString()
	start := time.Now()

	o.tracker.CreateBatch(batchID, input)
	o.publishBatch(batchID)

	o.tracker.SetStatus(batchID, domain.BatchValidating, "Validating input")
	o.tracker.SetStatus(batchID, domain.BatchProcessing, fmt.Sprintf("Submitting %d records", len(input)))

	rows := make([]dispatch.RowRecord, len(input))
	for i, rec := range input {
		rows[i] = dispatch.RowRecord{Row: i + 1, Record: rec}
	}

	if _, err := o.dispatcher.Run(ctx, batchID, rows); err != nil {
		o.abortRound(batchID, err)
		o.recordRun(batchID, history.RunInitial, start)
		return nil, fmt.Errorf("dispatch round aborted: %w", err)
	}

	o.settleRound(ctx, batchID)
	o.recordRun(batchID, history.RunInitial, start)
	return o.result(batchID, start)
}

// Resume re-enters the dispatch path for a resumable batch, submitting
// only the rows that have not yet succeeded. A batch whose rows all
// succeeded but whose activation failed goes straight back to the
// activation gate.
func (o *Orchestrator) Resume(ctx context.Context, batchID string) (*domain.BatchResult, error) {
	snap := o.tracker.Snapshot(batchID)
	if snap == nil {
		loaded, err := o.checkpoints.Load(batchID)
		if err != nil {
			if errors.Is(err, checkpoint.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		o.tracker.Put(loaded)
		snap = o.tracker.Snapshot(batchID)
	}

	if snap.Status != domain.BatchResumable || !snap.IsResumable {
		return nil, fmt.Errorf("%w: batch %s is %s", ErrNotResumable, batchID, snap.Status)
	}

	start := time.Now()
	o.tracker.Update(batchID, func(b *domain.BatchProgress) {
		b.ResumeCount++
		b.Status = domain.BatchProcessing
		b.CurrentStep = fmt.Sprintf("Resuming from row %d", b.ResumeFromRow)
	})
	o.publishBatch(batchID)

	rows := resumeRows(snap)
	if len(rows) > 0 {
		if _, err := o.dispatcher.Run(ctx, batchID, rows); err != nil {
			o.abortRound(batchID, err)
			o.recordRun(batchID, history.RunResume, start)
			return nil, fmt.Errorf("resume round aborted: %w", err)
		}
	}

	o.settleRound(ctx, batchID)
	o.recordRun(batchID, history.RunResume, start)
	return o.result(batchID, start)
}

// resumeRows rebuilds the submission payload for every unresolved row
// from the retained original input
func resumeRows(b *domain.BatchProgress) []dispatch.RowRecord {
	var rows []dispatch.RowRecord
	for _, row := range b.UnresolvedRows() {
		if row < 1 || row > len(b.OriginalInput) {
			continue
		}
		rows = append(rows, dispatch.RowRecord{Row: row, Record: b.OriginalInput[row-1]})
	}
	return rows
}

// settleRound routes a finished dispatch round: failed rows make the
// batch resumable, a clean round goes through the activation gate.
func (o *Orchestrator) settleRound(ctx context.Context, batchID string) {
	snap := o.tracker.Snapshot(batchID)
	if snap == nil {
		return
	}

	if snap.FailedCount > 0 {
		reason := fmt.Sprintf("%d of %d rows failed", snap.FailedCount, snap.Total)
		o.tracker.MarkResumable(batchID, reason, 0)
		o.writeCheckpoint(batchID)
		o.publishBatch(batchID)
		return
	}

	o.evaluateActivation(ctx, batchID, snap)
	o.publishBatch(batchID)
}

// evaluateActivation is the all-or-nothing activation gate. Precondition
// (checked by the caller): zero failed rows. Activation failure is its
// own resumable trigger, distinct from per-row failure: no row is marked
// failed, and the resume point is the first unactivated successful row.
func (o *Orchestrator) evaluateActivation(ctx context.Context, batchID string, snap *domain.BatchProgress) {
	if snap.ProcessedCount == 0 {
		// Nothing eligible; activation not required.
		o.tracker.Complete(batchID, false)
		o.finishCheckpoint(batchID)
		return
	}

	o.tracker.SetStatus(batchID, domain.BatchActivating, "Activating batch")

	if err := o.client.Activate(ctx, batchID); err != nil {
		reason := fmt.Sprintf("activation failed: %v", err)
		o.tracker.MarkResumable(batchID, reason, snap.FirstUnactivatedRow())
		o.writeCheckpoint(batchID)
		return
	}

	o.tracker.Complete(batchID, true)
	o.finishCheckpoint(batchID)
}

// abortRound handles a round-level failure: the whole batch becomes
// resumable regardless of how many rows had already succeeded
func (o *Orchestrator) abortRound(batchID string, cause error) {
	o.tracker.MarkResumable(batchID, fmt.Sprintf("round aborted: %v", cause), 0)
	o.writeCheckpoint(batchID)
	o.publishBatch(batchID)
}

// writeCheckpoint persists the batch synchronously. A failed write is
// logged and absorbed: the in-memory state stays authoritative for this
// process lifetime.
func (o *Orchestrator) writeCheckpoint(batchID string) {
	o.tracker.Update(batchID, func(b *domain.BatchProgress) {
		now := time.Now()
		b.LastCheckpointTime = &now
	})
	snap := o.tracker.Snapshot(batchID)
	if snap == nil {
		return
	}
	if err := o.checkpoints.Save(snap); err != nil {
		log.Printf("checkpoint write failed for batch %s: %v", batchID, err)
	}
}

// finishCheckpoint removes the on-disk snapshot of a completed batch;
// it is no longer resumable so keeping it would only confuse the
// resumable listing
func (o *Orchestrator) finishCheckpoint(batchID string) {
	if err := o.checkpoints.Delete(batchID); err != nil {
		log.Printf("checkpoint delete failed for batch %s: %v", batchID, err)
	}
}

func (o *Orchestrator) result(batchID string, start time.Time) (*domain.BatchResult, error) {
	snap := o.tracker.Snapshot(batchID)
	if snap == nil {
		return nil, ErrNotFound
	}
	return &domain.BatchResult{
		BatchID:           snap.BatchID,
		Total:             snap.Total,
		ProcessedCount:    snap.ProcessedCount,
		FailedCount:       snap.FailedCount,
		ProcessingSeconds: time.Since(start).Seconds(),
		Activated:         snap.Activated,
		Resumable:         snap.Status == domain.BatchResumable,
		ResumeCount:       snap.ResumeCount,
		Records:           snap.Records,
	}, nil
}

func (o *Orchestrator) recordRun(batchID string, kind history.RunKind, start time.Time) {
	if o.runs == nil {
		return
	}
	snap := o.tracker.Snapshot(batchID)
	if snap == nil {
		return
	}
	err := o.runs.SaveRun(history.Run{
		BatchID:    batchID,
		Kind:       kind,
		Status:     string(snap.Status),
		StartedAt:  start,
		FinishedAt: time.Now(),
		Processed:  snap.ProcessedCount,
		Failed:     snap.FailedCount,
		Activated:  snap.Activated,
	})
	if err != nil {
		log.Printf("recording run for batch %s: %v", batchID, err)
	}
}

func (o *Orchestrator) publishBatch(batchID string) {
	if snap := o.tracker.Snapshot(batchID); snap != nil {
		o.events.Publish("batch_update", snap)
	}
}

// Progress returns the current snapshot of a batch, falling back to the
// durable checkpoint for batches not resident in memory
func (o *Orchestrator) Progress(batchID string) (*domain.BatchProgress, error) {
	if snap := o.tracker.Snapshot(batchID); snap != nil {
		return snap, nil
	}
	b, err := o.checkpoints.Load(batchID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// ListResumable merges resumable batches from memory and disk. Memory
// wins on conflict since it is the fresher view.
func (o *Orchestrator) ListResumable() []domain.ResumableSummary {
	byID := make(map[string]domain.ResumableSummary)

	if onDisk, err := o.checkpoints.List(); err == nil {
		for _, b := range onDisk {
			if b.Status == domain.BatchResumable && b.IsResumable {
				byID[b.BatchID] = summarize(b, false)
			}
		}
	} else {
		log.Printf("listing checkpoints: %v", err)
	}

	for _, b := range o.tracker.List() {
		if b.Status == domain.BatchResumable && b.IsResumable {
			byID[b.BatchID] = summarize(b, true)
		}
	}

	out := make([]domain.ResumableSummary, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	return out
}

func summarize(b *domain.BatchProgress, inMemory bool) domain.ResumableSummary {
	return domain.ResumableSummary{
		BatchID:            b.BatchID,
		Total:              b.Total,
		ProcessedCount:     b.ProcessedCount,
		FailedCount:        b.FailedCount,
		ResumeFromRow:      b.ResumeFromRow,
		ResumeCount:        b.ResumeCount,
		FailureReason:      b.FailureReason,
		LastCheckpointTime: b.LastCheckpointTime,
		InMemory:           inMemory,
	}
}

// Abandon removes a batch from memory and disk
func (o *Orchestrator) Abandon(batchID string) error {
	inMemory := o.tracker.Remove(batchID)

	onDisk := false
	if _, err := o.checkpoints.Load(batchID); err == nil {
		onDisk = true
	}
	if err := o.checkpoints.Delete(batchID); err != nil {
		return err
	}

	if !inMemory && !onDisk {
		return ErrNotFound
	}
	return nil
}

// Purge removes every batch older than maxAge from memory and disk,
// including batches only present on disk, and returns the count removed.
// Age is measured from start_time; status is irrelevant.
func (o *Orchestrator) Purge(maxAge time.Duration) (int, error) {
	removed := make(map[string]bool)

	for _, id := range o.tracker.Cleanup(maxAge) {
		removed[id] = true
		if err := o.checkpoints.Delete(id); err != nil {
			log.Printf("purging checkpoint for %s: %v", id, err)
		}
	}

	cutoff := time.Now().Add(-maxAge)
	onDisk, err := o.checkpoints.List()
	if err != nil {
		return len(removed), err
	}
	for _, b := range onDisk {
		if b.StartTime.Before(cutoff) {
			if err := o.checkpoints.Delete(b.BatchID); err != nil {
				log.Printf("purging checkpoint for %s: %v", b.BatchID, err)
				continue
			}
			removed[b.BatchID] = true
		}
	}

	return len(removed), nil
}
