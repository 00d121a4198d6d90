package dto

import (
	"time"

	"github.com/waitroomlab/waitroom/internal/domain"
	"github.com/waitroomlab/waitroom/internal/service"
)

// JoinRequest is the body for joining a queue
type JoinRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// JoinResponse is returned when a user joins (or re-joins) a queue
type JoinResponse struct {
	SessionID            string `json:"session_id"`
	QueueID              string `json:"queue_id"`
	UserID               string `json:"user_id"`
	State                string `json:"state"`
	Position             int64  `json:"position"`
	TotalWaiting         int64  `json:"total_waiting"`
	EstimatedWaitSeconds int64  `json:"estimated_wait_seconds"`
	AlreadyJoined        bool   `json:"already_joined"`
}

// FromJoinOutcome maps a join outcome to its response
func FromJoinOutcome(o *service.JoinOutcome) *JoinResponse {
	return &JoinResponse{
		SessionID:            o.Session.ID,
		QueueID:              o.Session.QueueID,
		UserID:               o.Session.UserID,
		State:                string(o.Session.State),
		Position:             o.Position,
		TotalWaiting:         o.TotalWaiting,
		EstimatedWaitSeconds: int64(o.EstimatedWait.Seconds()),
		AlreadyJoined:        o.AlreadyJoined,
	}
}

// PositionResponse is a position poll result
type PositionResponse struct {
	SessionID            string `json:"session_id"`
	State                string `json:"state"`
	Position             int64  `json:"position"`
	TotalWaiting         int64  `json:"total_waiting"`
	EstimatedWaitSeconds int64  `json:"estimated_wait_seconds"`
}

// FromPositionOutcome maps a position outcome to its response
func FromPositionOutcome(o *service.PositionOutcome) *PositionResponse {
	return &PositionResponse{
		SessionID:            o.Session.ID,
		State:                string(o.Session.State),
		Position:             o.Position,
		TotalWaiting:         o.TotalWaiting,
		EstimatedWaitSeconds: int64(o.EstimatedWait.Seconds()),
	}
}

// SessionResponse is the full public view of a session
type SessionResponse struct {
	SessionID        string     `json:"session_id"`
	QueueID          string     `json:"queue_id"`
	UserID           string     `json:"user_id"`
	State            string     `json:"state"`
	JoinedAt         time.Time  `json:"joined_at"`
	LastHeartbeatAt  time.Time  `json:"last_heartbeat_at"`
	ServingStartedAt *time.Time `json:"serving_started_at,omitempty"`
	ReleasedAt       *time.Time `json:"released_at,omitempty"`
	DroppedAt        *time.Time `json:"dropped_at,omitempty"`
	DropReason       string     `json:"drop_reason,omitempty"`
}

// FromSession maps a domain session to its response
func FromSession(s *domain.Session) *SessionResponse {
	return &SessionResponse{
		SessionID:        s.ID,
		QueueID:          s.QueueID,
		UserID:           s.UserID,
		State:            string(s.State),
		JoinedAt:         s.JoinedAt,
		LastHeartbeatAt:  s.LastHeartbeatAt,
		ServingStartedAt: timeOrNil(s.ServingStartedAt),
		ReleasedAt:       timeOrNil(s.ReleasedAt),
		DroppedAt:        timeOrNil(s.DroppedAt),
		DropReason:       s.DropReason,
	}
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// ValidatePassRequest is the body for validating an access pass
type ValidatePassRequest struct {
	Pass string `json:"pass" binding:"required"`
}

// ValidatePassResponse is returned for a valid access pass
type ValidatePassResponse struct {
	Valid     bool      `json:"valid"`
	UserID    string    `json:"user_id"`
	QueueID   string    `json:"queue_id"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FromPassClaims maps validated pass claims to their response
func FromPassClaims(claims *service.PassClaims) *ValidatePassResponse {
	resp := &ValidatePassResponse{
		Valid:     true,
		UserID:    claims.UserID,
		QueueID:   claims.QueueID,
		SessionID: claims.SessionID,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	return resp
}
