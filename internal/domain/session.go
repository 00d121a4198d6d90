package domain

import "time"

// SessionState is the state of a session in its queue
type SessionState string

const (
	SessionStateWaiting  SessionState = "waiting"
	SessionStateServing  SessionState = "serving"
	SessionStateReleased SessionState = "released"
	SessionStateDropped  SessionState = "dropped"
)

// String returns the state as a string
func (s SessionState) String() string { return string(s) }

// IsTerminal reports whether no further transition is possible
func (s SessionState) IsTerminal() bool {
	return s == SessionStateReleased || s == SessionStateDropped
}

// validTransitions is the single source of truth for the session state
// machine. Anything not listed here is rejected.
var validTransitions = map[SessionState][]SessionState{
	SessionStateWaiting: {SessionStateServing, SessionStateDropped},
	SessionStateServing: {SessionStateReleased, SessionStateDropped},
}

// CanTransition reports whether from -> to is a legal state change
func CanTransition(from, to SessionState) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Drop reasons recorded on dropped sessions
const (
	DropReasonWaitingTimeout  = "waiting_timeout"
	DropReasonServingTimeout  = "serving_timeout"
	DropReasonLeft            = "left"
	DropReasonMergedDuplicate = "merged_duplicate"
)

// Session is one user's membership record in a queue.
// Seq is the monotonic per-queue join sequence; the user-facing position
// is always derived as the count of still-waiting sessions with a smaller
// Seq, so removals never renumber anything.
type Session struct {
	ID              string       `json:"id"`
	QueueID         string       `json:"queue_id"`
	UserID          string       `json:"user_id"`
	State           SessionState `json:"state"`
	Seq             int64        `json:"seq"`
	JoinedAt        time.Time    `json:"joined_at"`
	LastHeartbeatAt time.Time    `json:"last_heartbeat_at"`
	ServingStartedAt time.Time   `json:"serving_started_at,omitempty"`
	ReleasedAt      time.Time    `json:"released_at,omitempty"`
	DroppedAt       time.Time    `json:"dropped_at,omitempty"`
	DropReason      string       `json:"drop_reason,omitempty"`
}

// Transition applies a state change, enforcing the transition table
func (s *Session) Transition(to SessionState, now time.Time) error {
	if !CanTransition(s.State, to) {
		return ErrInvalidStateTransition
	}

	switch to {
	case SessionStateServing:
		s.ServingStartedAt = now
		s.LastHeartbeatAt = now
	case SessionStateReleased:
		s.ReleasedAt = now
	case SessionStateDropped:
		s.DroppedAt = now
	}
	s.State = to
	return nil
}

// Validate validates session identity fields
func (s *Session) Validate() error {
	if s.QueueID == "" {
		return ErrInvalidQueueID
	}
	if s.UserID == "" {
		return ErrInvalidUserID
	}
	return nil
}
