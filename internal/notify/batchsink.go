package notify

import (
	"fmt"
	"log"
	"sync"

	"github.com/hochfrequenz/bulkloader/internal/domain"
)

// BatchSink turns live batch events into notifications. It notifies
// once per terminal transition: a batch completing, failing, or
// parking as resumable.
type BatchSink struct {
	notifier Notifier

	mu   sync.Mutex
	seen map[string]domain.BatchStatus
}

// NewBatchSink wraps a notifier as an event sink
func NewBatchSink(notifier Notifier) *BatchSink {
	return &BatchSink{
		notifier: notifier,
		seen:     make(map[string]domain.BatchStatus),
	}
}

// Publish inspects a batch event and sends a notification when the
// batch reaches a reportable state it has not been in before
func (b *BatchSink) Publish(event string, data interface{}) {
	if event != "batch_update" {
		return
	}
	batch, ok := data.(*domain.BatchProgress)
	if !ok {
		return
	}

	status := batch.Status
	if status != domain.BatchCompleted && status != domain.BatchFailed && status != domain.BatchResumable {
		return
	}

	b.mu.Lock()
	if b.seen[batch.BatchID] == status {
		b.mu.Unlock()
		return
	}
	b.seen[batch.BatchID] = status
	b.mu.Unlock()

	n := b.build(batch)
	if err := b.notifier.Send(n); err != nil {
		log.Printf("notifying for batch %s: %v", batch.BatchID, err)
	}
}

func (b *BatchSink) build(batch *domain.BatchProgress) Notification {
	switch batch.Status {
	case domain.BatchCompleted:
		return Notification{
			Title:   "Batch completed",
			Message: fmt.Sprintf("%d/%d records processed and activated", batch.ProcessedCount, batch.Total),
			Type:    NotifySuccess,
			BatchID: batch.BatchID,
		}
	case domain.BatchResumable:
		return Notification{
			Title:   "Batch needs attention",
			Message: fmt.Sprintf("%s. Resume from row %d.", batch.FailureReason, batch.ResumeFromRow),
			Type:    NotifyWarning,
			BatchID: batch.BatchID,
		}
	default:
		return Notification{
			Title:   "Batch failed",
			Message: batch.FailureReason,
			Type:    NotifyError,
			BatchID: batch.BatchID,
		}
	}
}
