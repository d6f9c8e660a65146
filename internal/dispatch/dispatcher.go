package dispatch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/bulkloader/internal/directory"
	"github.com/hochfrequenz/bulkloader/internal/domain"
	"github.com/hochfrequenz/bulkloader/internal/progress"
)

// RowRecord pairs a stable 1-based row number with its input payload
type RowRecord struct {
	Row    int
	Record domain.HospitalRecord
}

// Outcome is the result of one row's submission in a dispatch round
type Outcome struct {
	Row      int
	RemoteID *int64
	Err      error
	Elapsed  time.Duration
}

// Dispatcher runs one bounded-concurrency submission pass over a set of
// rows. Every row gets exactly one outcome per round; outcome order
// across rows is not guaranteed.
type Dispatcher struct {
	client        directory.Client
	tracker       *progress.Tracker
	maxConcurrent int

	// OnRecord, when set, is invoked after each row status change is
	// written to the tracker. Used for live progress feeds.
	OnRecord func(batchID string, rec domain.RecordProgress)
}

// New creates a Dispatcher submitting through client and reporting
// through tracker
func New(client directory.Client, tracker *progress.Tracker, maxConcurrent int) *Dispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		client:        client,
		tracker:       tracker,
		maxConcurrent: maxConcurrent,
	}
}

// Run submits every row with at most min(maxConcurrent, len(rows))
// submissions in flight. Per-row errors are absorbed into their outcome
// and never abort sibling submissions; the returned error is non-nil
// only when the round itself was interrupted by the context.
func (d *Dispatcher) Run(ctx context.Context, batchID string, rows []RowRecord) ([]Outcome, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	limit := d.maxConcurrent
	if len(rows) < limit {
		limit = len(rows)
	}

	outcomes := make([]Outcome, len(rows))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, rr := range rows {
		i, rr := i, rr
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = Outcome{Row: rr.Row, Err: err}
				return err
			}
			outcomes[i] = d.submit(ctx, batchID, rr)
			return nil
		})
	}

	err := g.Wait()
	return outcomes, err
}

func (d *Dispatcher) submit(ctx context.Context, batchID string, rr RowRecord) Outcome {
	d.report(batchID, rr.Row, progress.RecordUpdate{Status: domain.RecordProcessing})

	start := time.Now()
	created, err := d.client.Create(ctx, rr.Record, batchID)
	elapsed := time.Since(start)

	if err != nil {
		d.report(batchID, rr.Row, progress.RecordUpdate{
			Status:            domain.RecordFailed,
			ErrorMessage:      err.Error(),
			ProcessingSeconds: elapsed.Seconds(),
		})
		return Outcome{Row: rr.Row, Err: err, Elapsed: elapsed}
	}

	d.report(batchID, rr.Row, progress.RecordUpdate{
		Status:            domain.RecordCreated,
		RemoteID:          &created.ID,
		ProcessingSeconds: elapsed.Seconds(),
	})
	return Outcome{Row: rr.Row, RemoteID: &created.ID, Elapsed: elapsed}
}

func (d *Dispatcher) report(batchID string, row int, u progress.RecordUpdate) {
	d.tracker.UpdateRecord(batchID, row, u)
	if d.OnRecord != nil {
		if b := d.tracker.Snapshot(batchID); b != nil {
			if rec := b.Record(row); rec != nil {
				d.OnRecord(batchID, *rec)
			}
		}
	}
}
