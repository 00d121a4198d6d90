package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/waitroomlab/waitroom/internal/domain"
	"github.com/waitroomlab/waitroom/internal/metrics"
	"github.com/waitroomlab/waitroom/internal/repository"
	"github.com/waitroomlab/waitroom/pkg/clock"
	"github.com/waitroomlab/waitroom/pkg/logger"
)

// SessionService handles the per-session lifecycle: heartbeats,
// voluntary leave, completion, and reaper-driven drops.
type SessionService struct {
	sessionRepo repository.SessionRepository
	passes      *AccessPassService
	publisher   EventPublisher
	clk         clock.Clock
	retention   time.Duration
	log         *logger.Logger
}

// NewSessionService creates a new session service
func NewSessionService(
	sessionRepo repository.SessionRepository,
	passes *AccessPassService,
	publisher EventPublisher,
	clk clock.Clock,
	retention time.Duration,
	log *logger.Logger,
) *SessionService {
	return &SessionService{
		sessionRepo: sessionRepo,
		passes:      passes,
		publisher:   publisher,
		clk:         clk,
		retention:   retention,
		log:         log,
	}
}

// Get returns a session by id
func (s *SessionService) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, domain.ErrInvalidSessionID
	}
	return s.sessionRepo.GetSession(ctx, sessionID)
}

// Heartbeat refreshes a session's liveness and re-arms its retention
// window. Heartbeating a session that just went terminal is not an
// error: the client learns the terminal state from the returned record.
func (s *SessionService) Heartbeat(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, domain.ErrInvalidSessionID
	}
	return s.sessionRepo.Heartbeat(ctx, sessionID, s.clk.Now(), s.retention)
}

// Complete finishes a serving session, transitioning it to released
func (s *SessionService) Complete(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, domain.ErrInvalidSessionID
	}
	session, err := s.sessionRepo.Complete(ctx, sessionID, s.clk.Now())
	if err != nil {
		return nil, err
	}
	metrics.SessionsCompleted.WithLabelValues(session.QueueID).Inc()
	return session, nil
}

// Leave voluntarily drops a session from the queue. Leaving an already
// terminal session is a no-op that returns the terminal record, so
// client retries never see a conflict.
func (s *SessionService) Leave(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.Drop(ctx, sessionID, domain.DropReasonLeft)
	if errors.Is(err, domain.ErrInvalidStateTransition) {
		current, getErr := s.sessionRepo.GetSession(ctx, sessionID)
		if getErr == nil && current.State.IsTerminal() {
			return current, nil
		}
	}
	return session, err
}

// Drop force-drops a session with the given reason and emits a
// session.dropped event. Racing a concurrent promotion or drop is
// expected: the first commit wins and the loser sees an invalid
// transition, which callers treat as a no-op signal.
func (s *SessionService) Drop(ctx context.Context, sessionID, reason string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, domain.ErrInvalidSessionID
	}

	now := s.clk.Now()
	session, err := s.sessionRepo.Drop(ctx, sessionID, reason, now)
	if err != nil {
		return nil, err
	}

	metrics.SessionsDropped.WithLabelValues(session.QueueID, reason).Inc()

	event := domain.NewSessionEvent(domain.EventSessionDropped, uuid.New().String(), session.QueueID, now,
		&domain.SessionDroppedData{
			QueueID:   session.QueueID,
			SessionID: session.ID,
			UserID:    session.UserID,
			Reason:    reason,
			DroppedAt: now,
		})
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Error(fmt.Sprintf("Failed to publish dropped event for session %s: %v", session.ID, err))
		metrics.EventPublishFailures.Inc()
	}

	return session, nil
}

// ValidatePass checks an admission pass and returns its claims
func (s *SessionService) ValidatePass(ctx context.Context, pass string) (*PassClaims, error) {
	if pass == "" {
		return nil, domain.ErrInvalidAccessPass
	}
	claims, err := s.passes.Validate(ctx, pass)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidAccessPass) {
			metrics.AccessPassRejections.Inc()
		}
		return nil, err
	}
	return claims, nil
}
