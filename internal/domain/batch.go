package domain

import "time"

// HospitalRecord is the validated input payload for one row
type HospitalRecord struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone,omitempty"`
}

// RecordProgress tracks the submission state of one input row
type RecordProgress struct {
	Row               int          `json:"row"`
	Name              string       `json:"name"`
	Status            RecordStatus `json:"status"`
	RemoteID          *int64       `json:"remote_id,omitempty"`
	ErrorMessage      string       `json:"error_message,omitempty"`
	ProcessingSeconds float64      `json:"processing_time_seconds,omitempty"`
}

// BatchProgress is the full tracked state of one batch. It is the unit
// persisted by the checkpoint store, so every field carries a JSON tag.
type BatchProgress struct {
	BatchID            string           `json:"batch_id"`
	Status             BatchStatus      `json:"status"`
	Total              int              `json:"total"`
	ProcessedCount     int              `json:"processed_count"`
	FailedCount        int              `json:"failed_count"`
	Records            []RecordProgress `json:"records"`
	StartTime          time.Time        `json:"start_time"`
	CompletionTime     *time.Time       `json:"completion_time,omitempty"`
	Activated          bool             `json:"activated"`
	CurrentStep        string           `json:"current_step,omitempty"`
	IsResumable        bool             `json:"is_resumable"`
	ResumeFromRow      int              `json:"resume_from_row,omitempty"`
	FailureReason      string           `json:"failure_reason,omitempty"`
	ResumeCount        int              `json:"resume_count"`
	LastCheckpointTime *time.Time       `json:"last_checkpoint_time,omitempty"`
	OriginalInput      []HospitalRecord `json:"original_input"`
}

// Record returns the record at the given 1-based row, or nil
func (b *BatchProgress) Record(row int) *RecordProgress {
	for i := range b.Records {
		if b.Records[i].Row == row {
			return &b.Records[i]
		}
	}
	return nil
}

// Recount recomputes the aggregate counters from the full record set.
// Recomputing instead of incrementing keeps the counters correct
// regardless of the order concurrent row updates land in.
func (b *BatchProgress) Recount() {
	processed, failed := 0, 0
	for i := range b.Records {
		switch {
		case b.Records[i].Status.IsSuccess():
			processed++
		case b.Records[i].Status == RecordFailed:
			failed++
		}
	}
	b.ProcessedCount = processed
	b.FailedCount = failed
}

// NextResumeRow returns 1 + the highest row with a terminal success
// status, or 1 when no row has succeeded
func (b *BatchProgress) NextResumeRow() int {
	maxRow := 0
	for i := range b.Records {
		if b.Records[i].Status.IsSuccess() && b.Records[i].Row > maxRow {
			maxRow = b.Records[i].Row
		}
	}
	return maxRow + 1
}

// FirstUnactivatedRow returns the lowest row stuck in created (not yet
// activated), or 1 when there is none
func (b *BatchProgress) FirstUnactivatedRow() int {
	for i := range b.Records {
		if b.Records[i].Status == RecordCreated {
			return b.Records[i].Row
		}
	}
	return 1
}

// UnresolvedRows returns the rows at or after ResumeFromRow whose status
// is not a terminal success. These are the candidates for a resume round.
func (b *BatchProgress) UnresolvedRows() []int {
	var rows []int
	for i := range b.Records {
		r := &b.Records[i]
		if r.Row >= b.ResumeFromRow && !r.Status.IsSuccess() {
			rows = append(rows, r.Row)
		}
	}
	return rows
}

// ElapsedSeconds returns the wall-clock duration of the batch so far,
// frozen at completion
func (b *BatchProgress) ElapsedSeconds() float64 {
	if b.CompletionTime != nil {
		return b.CompletionTime.Sub(b.StartTime).Seconds()
	}
	return time.Since(b.StartTime).Seconds()
}

// Clone returns a deep copy safe to hand out without holding the
// batch lock
func (b *BatchProgress) Clone() *BatchProgress {
	c := *b
	c.Records = make([]RecordProgress, len(b.Records))
	copy(c.Records, b.Records)
	c.OriginalInput = make([]HospitalRecord, len(b.OriginalInput))
	copy(c.OriginalInput, b.OriginalInput)
	if b.CompletionTime != nil {
		t := *b.CompletionTime
		c.CompletionTime = &t
	}
	if b.LastCheckpointTime != nil {
		t := *b.LastCheckpointTime
		c.LastCheckpointTime = &t
	}
	return &c
}

// BatchResult is the caller-facing outcome of one submit or resume
type BatchResult struct {
	BatchID           string           `json:"batch_id"`
	Total             int              `json:"total"`
	ProcessedCount    int              `json:"processed_count"`
	FailedCount       int              `json:"failed_count"`
	ProcessingSeconds float64          `json:"processing_time_seconds"`
	Activated         bool             `json:"activated"`
	Resumable         bool             `json:"resumable"`
	ResumeCount       int              `json:"resume_count"`
	Records           []RecordProgress `json:"records"`
}

// ResumableSummary is one entry in the resumable batch listing, merged
// from memory and disk
type ResumableSummary struct {
	BatchID            string     `json:"batch_id"`
	Total              int        `json:"total"`
	ProcessedCount     int        `json:"processed_count"`
	FailedCount        int        `json:"failed_count"`
	ResumeFromRow      int        `json:"resume_from_row"`
	ResumeCount        int        `json:"resume_count"`
	FailureReason      string     `json:"failure_reason,omitempty"`
	LastCheckpointTime *time.Time `json:"last_checkpoint_time,omitempty"`
	InMemory           bool       `json:"in_memory"`
}
