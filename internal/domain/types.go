package domain

// RecordStatus represents the lifecycle state of a single record submission
type RecordStatus string

const (
	RecordPending    RecordStatus = "pending"
	RecordProcessing RecordStatus = "processing"
	RecordCreated    RecordStatus = "created"
	RecordActivated  RecordStatus = "created_and_activated"
	RecordFailed     RecordStatus = "failed"
)

// IsSuccess reports whether the status is a terminal success state
func (s RecordStatus) IsSuccess() bool {
	return s == RecordCreated || s == RecordActivated
}

// BatchStatus represents the lifecycle state of a batch
type BatchStatus string

const (
	BatchInitializing BatchStatus = "initializing"
	BatchValidating   BatchStatus = "validating"
	BatchProcessing   BatchStatus = "processing"
	BatchActivating   BatchStatus = "activating"
	BatchCompleted    BatchStatus = "completed"
	BatchFailed       BatchStatus = "failed"
	BatchResumable    BatchStatus = "resumable"
)

// IsTerminal reports whether no further transitions are possible
// without an explicit resume
func (s BatchStatus) IsTerminal() bool {
	return s == BatchCompleted || s == BatchFailed
}
