package domain

import (
	"testing"
	"time"
)

func makeBatch(statuses ...RecordStatus) *BatchProgress {
	b := &BatchProgress{
		BatchID:   "test-batch",
		Status:    BatchProcessing,
		Total:     len(statuses),
		StartTime: time.Now(),
	}
	for i, s := range statuses {
		b.Records = append(b.Records, RecordProgress{Row: i + 1, Status: s})
	}
	return b
}

func TestRecount(t *testing.T) {
	tests := []struct {
		name          string
		statuses      []RecordStatus
		wantProcessed int
		wantFailed    int
	}{
		{"all pending", []RecordStatus{RecordPending, RecordPending}, 0, 0},
		{"mixed", []RecordStatus{RecordCreated, RecordFailed, RecordProcessing}, 1, 1},
		{"activated counts as processed", []RecordStatus{RecordActivated, RecordCreated}, 2, 0},
		{"all failed", []RecordStatus{RecordFailed, RecordFailed}, 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := makeBatch(tt.statuses...)
			b.Recount()
			if b.ProcessedCount != tt.wantProcessed {
				t.Errorf("ProcessedCount = %d, want %d", b.ProcessedCount, tt.wantProcessed)
			}
			if b.FailedCount != tt.wantFailed {
				t.Errorf("FailedCount = %d, want %d", b.FailedCount, tt.wantFailed)
			}
			if b.ProcessedCount+b.FailedCount > b.Total {
				t.Errorf("processed+failed = %d exceeds total %d", b.ProcessedCount+b.FailedCount, b.Total)
			}
		})
	}
}

func TestNextResumeRow(t *testing.T) {
	tests := []struct {
		name     string
		statuses []RecordStatus
		want     int
	}{
		{"no successes", []RecordStatus{RecordFailed, RecordFailed}, 1},
		{"rows 1-3 succeeded", []RecordStatus{RecordCreated, RecordCreated, RecordCreated, RecordFailed, RecordFailed}, 4},
		{"gap in successes", []RecordStatus{RecordCreated, RecordFailed, RecordCreated}, 4},
		{"all activated", []RecordStatus{RecordActivated, RecordActivated}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := makeBatch(tt.statuses...)
			if got := b.NextResumeRow(); got != tt.want {
				t.Errorf("NextResumeRow() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUnresolvedRows(t *testing.T) {
	b := makeBatch(RecordCreated, RecordFailed, RecordCreated, RecordFailed, RecordPending)
	b.ResumeFromRow = 2

	got := b.UnresolvedRows()
	want := []int{2, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("UnresolvedRows() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("UnresolvedRows()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestUnresolvedRows_SkipsSucceeded(t *testing.T) {
	b := makeBatch(RecordCreated, RecordActivated, RecordCreated)
	b.ResumeFromRow = 1

	if rows := b.UnresolvedRows(); len(rows) != 0 {
		t.Errorf("UnresolvedRows() = %v, want empty for all-succeeded batch", rows)
	}
}

func TestFirstUnactivatedRow(t *testing.T) {
	b := makeBatch(RecordActivated, RecordCreated, RecordCreated)
	if got := b.FirstUnactivatedRow(); got != 2 {
		t.Errorf("FirstUnactivatedRow() = %d, want 2", got)
	}

	b = makeBatch(RecordActivated, RecordActivated)
	if got := b.FirstUnactivatedRow(); got != 1 {
		t.Errorf("FirstUnactivatedRow() = %d, want 1 when nothing is stuck", got)
	}
}

func TestClone_Independent(t *testing.T) {
	b := makeBatch(RecordCreated, RecordFailed)
	b.OriginalInput = []HospitalRecord{{Name: "General Hospital", Address: "123 Main St"}}

	c := b.Clone()
	c.Records[0].Status = RecordFailed
	c.OriginalInput[0].Name = "changed"

	if b.Records[0].Status != RecordCreated {
		t.Error("mutating clone records affected the original")
	}
	if b.OriginalInput[0].Name != "General Hospital" {
		t.Error("mutating clone input affected the original")
	}
}

func TestStatusPredicates(t *testing.T) {
	if !RecordCreated.IsSuccess() || !RecordActivated.IsSuccess() {
		t.Error("created and created_and_activated should be success states")
	}
	if RecordFailed.IsSuccess() || RecordProcessing.IsSuccess() || RecordPending.IsSuccess() {
		t.Error("non-terminal or failed states must not count as success")
	}
	if !BatchCompleted.IsTerminal() || !BatchFailed.IsTerminal() {
		t.Error("completed and failed are terminal")
	}
	if BatchResumable.IsTerminal() {
		t.Error("resumable is not terminal; it can re-enter processing")
	}
}
