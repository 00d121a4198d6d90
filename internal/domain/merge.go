package domain

import "time"

// MergeStatus is the lifecycle status of a merge operation
type MergeStatus string

const (
	MergeStatusPending   MergeStatus = "pending"
	MergeStatusRunning   MergeStatus = "running"
	MergeStatusCompleted MergeStatus = "completed"
	MergeStatusFailed    MergeStatus = "failed"
	MergeStatusCancelled MergeStatus = "cancelled"
)

// IsFinal reports whether the operation can no longer progress
func (s MergeStatus) IsFinal() bool {
	return s == MergeStatusCompleted || s == MergeStatusFailed || s == MergeStatusCancelled
}

// MergeOperation moves the waiting sessions of a source queue to the tail
// of a target queue, preserving the source's relative order. A user already
// holding a non-terminal session in the target keeps it; their source
// session is dropped as a duplicate. At most one non-final operation may
// involve a given queue at a time.
type MergeOperation struct {
	ID                string      `json:"id"`
	SourceQueueID     string      `json:"source_queue_id"`
	TargetQueueID     string      `json:"target_queue_id"`
	Status            MergeStatus `json:"status"`
	TotalSessions     int64       `json:"total_sessions"`
	MovedSessions     int64       `json:"moved_sessions"`
	DroppedDuplicates int64       `json:"dropped_duplicates"`
	Error             string      `json:"error,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	StartedAt         time.Time   `json:"started_at,omitempty"`
	FinishedAt        time.Time   `json:"finished_at,omitempty"`
}

// Validate validates the merge operation request
func (m *MergeOperation) Validate() error {
	if m.SourceQueueID == "" || m.TargetQueueID == "" {
		return ErrInvalidQueueID
	}
	if m.SourceQueueID == m.TargetQueueID {
		return ErrMergeSameQueue
	}
	return nil
}
