package domain

import "time"

// SessionEventType identifies the kind of event published to the
// notification boundary
type SessionEventType string

const (
	EventSessionReleased SessionEventType = "session.released"
	EventSessionDropped  SessionEventType = "session.dropped"

	EventMergeStarted   SessionEventType = "queue.merge_started"
	EventMergeProgress  SessionEventType = "queue.merge_progress"
	EventMergeCompleted SessionEventType = "queue.merge_completed"
	EventMergeFailed    SessionEventType = "queue.merge_failed"
	EventMergeCancelled SessionEventType = "queue.merge_cancelled"
)

// SessionEvent is the envelope for all events on the session-events topic
type SessionEvent struct {
	EventID   string           `json:"event_id"`
	EventType SessionEventType `json:"event_type"`
	Version   string           `json:"version"`
	Timestamp time.Time        `json:"timestamp"`
	Data      interface{}      `json:"data"`

	queueID string
}

// EventVersion is the current event schema version
const EventVersion = "1.0"

// SessionReleasedData is the payload of a session.released event
type SessionReleasedData struct {
	QueueID    string    `json:"queue_id"`
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	AccessPass string    `json:"access_pass,omitempty"`
	ReleasedAt time.Time `json:"released_at"`
}

// SessionDroppedData is the payload of a session.dropped event
type SessionDroppedData struct {
	QueueID   string    `json:"queue_id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason"`
	DroppedAt time.Time `json:"dropped_at"`
}

// MergeEventData is the payload of queue.merge_* events
type MergeEventData struct {
	OperationID       string `json:"operation_id"`
	SourceQueueID     string `json:"source_queue_id"`
	TargetQueueID     string `json:"target_queue_id"`
	MovedSessions     int64  `json:"moved_sessions"`
	DroppedDuplicates int64  `json:"dropped_duplicates"`
	TotalSessions     int64  `json:"total_sessions"`
	Error             string `json:"error,omitempty"`
}

// NewSessionEvent builds an event envelope keyed by queue id, so all
// events of one queue land on the same partition in order.
func NewSessionEvent(eventType SessionEventType, eventID, queueID string, timestamp time.Time, data interface{}) *SessionEvent {
	return &SessionEvent{
		EventID:   eventID,
		EventType: eventType,
		Version:   EventVersion,
		Timestamp: timestamp,
		Data:      data,
		queueID:   queueID,
	}
}

// Key returns the partition key for this event
func (e *SessionEvent) Key() string { return e.queueID }
