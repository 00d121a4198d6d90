package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waitroomlab/waitroom/internal/domain"
	"github.com/waitroomlab/waitroom/internal/metrics"
	"github.com/waitroomlab/waitroom/internal/repository"
	"github.com/waitroomlab/waitroom/pkg/clock"
	"github.com/waitroomlab/waitroom/pkg/logger"
)

// JoinOutcome is the result of an admission attempt
type JoinOutcome struct {
	Session       *domain.Session
	Position      int64
	TotalWaiting  int64
	EstimatedWait time.Duration
	AlreadyJoined bool
}

// PositionOutcome is a position poll result
type PositionOutcome struct {
	Session       *domain.Session
	Position      int64
	TotalWaiting  int64
	EstimatedWait time.Duration
}

// AdmissionConfig holds admission tuning knobs
type AdmissionConfig struct {
	// SessionRetention bounds how long terminal session records stay
	// queryable before the store may evict them.
	SessionRetention time.Duration
	// EstimatedWaitPerUser is the fallback wait estimate per position
	// for queues without an automatic release rate.
	EstimatedWaitPerUser time.Duration
}

// AdmissionService coordinates joins, position polls, and release
// batches. Release batches for the same queue are serialized in-process
// with a per-queue mutex; cross-instance atomicity comes from the
// store's compound operations.
type AdmissionService struct {
	sessionRepo repository.SessionRepository
	queueRepo   repository.QueueRepository
	passes      *AccessPassService
	publisher   EventPublisher
	clk         clock.Clock
	config      AdmissionConfig
	log         *logger.Logger

	mu       sync.Mutex
	queueMus map[string]*sync.Mutex
}

// NewAdmissionService creates a new admission service
func NewAdmissionService(
	sessionRepo repository.SessionRepository,
	queueRepo repository.QueueRepository,
	passes *AccessPassService,
	publisher EventPublisher,
	clk clock.Clock,
	config AdmissionConfig,
	log *logger.Logger,
) *AdmissionService {
	return &AdmissionService{
		sessionRepo: sessionRepo,
		queueRepo:   queueRepo,
		passes:      passes,
		publisher:   publisher,
		clk:         clk,
		config:      config,
		log:         log,
		queueMus:    make(map[string]*sync.Mutex),
	}
}

func (s *AdmissionService) queueMutex(queueID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.queueMus[queueID]
	if !ok {
		mu = &sync.Mutex{}
		s.queueMus[queueID] = mu
	}
	return mu
}

// Join admits a user into a queue's waiting line. Joining is
// idempotent per (queue, user): a repeat join returns the existing
// live session and its current position.
func (s *AdmissionService) Join(ctx context.Context, queueID, userID string) (*JoinOutcome, error) {
	if queueID == "" {
		return nil, domain.ErrInvalidQueueID
	}
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}

	queue, err := s.queueRepo.GetQueue(ctx, queueID)
	if err != nil {
		return nil, err
	}
	if !queue.AcceptsJoins() {
		return nil, domain.ErrQueueClosed
	}

	result, err := s.sessionRepo.Join(ctx, repository.JoinParams{
		QueueID:   queueID,
		UserID:    userID,
		Now:       s.clk.Now(),
		Retention: s.config.SessionRetention,
	})
	if err != nil {
		return nil, err
	}

	outcome := &JoinOutcome{Session: result.Session, AlreadyJoined: result.Existing}
	if result.Session.State == domain.SessionStateWaiting {
		pos, err := s.sessionRepo.Position(ctx, queueID, result.Session.ID)
		if err != nil {
			return nil, err
		}
		outcome.Position = pos.Position
		outcome.TotalWaiting = pos.TotalWaiting
		outcome.EstimatedWait = s.estimateWait(queue, pos.Position)
	}

	if !result.Existing {
		metrics.SessionsJoined.WithLabelValues(queueID).Inc()
	}
	return outcome, nil
}

// Position reports a session's derived position and an estimated wait
func (s *AdmissionService) Position(ctx context.Context, queueID, sessionID string) (*PositionOutcome, error) {
	if sessionID == "" {
		return nil, domain.ErrInvalidSessionID
	}

	pos, err := s.sessionRepo.Position(ctx, queueID, sessionID)
	if err != nil {
		return nil, err
	}
	session, err := s.sessionRepo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	outcome := &PositionOutcome{
		Session:      session,
		Position:     pos.Position,
		TotalWaiting: pos.TotalWaiting,
	}
	if pos.State == domain.SessionStateWaiting {
		queue, err := s.queueRepo.GetQueue(ctx, queueID)
		if err != nil {
			return nil, err
		}
		outcome.EstimatedWait = s.estimateWait(queue, pos.Position)
	}
	return outcome, nil
}

// estimateWait projects how long a session at the given position will
// wait. Rate-driven queues divide position by throughput; manual-release
// queues fall back to a flat per-user estimate.
func (s *AdmissionService) estimateWait(queue *domain.Queue, position int64) time.Duration {
	if position <= 0 {
		return 0
	}
	if queue.ReleaseRatePerMinute > 0 {
		return time.Duration(float64(position) / float64(queue.ReleaseRatePerMinute) * float64(time.Minute))
	}
	return time.Duration(position) * s.config.EstimatedWaitPerUser
}

// ReleaseQueue runs one release batch for a queue: refill the token
// bucket, promote eligible sessions to serving, issue access passes,
// and emit session.released events. The queue's settings are the
// caller's responsibility to read fresh. Event and pass failures are
// logged but never undo the committed promotion.
func (s *AdmissionService) ReleaseQueue(ctx context.Context, queue *domain.Queue) ([]*domain.Session, error) {
	if !queue.IsActive() {
		return nil, nil
	}

	mu := s.queueMutex(queue.ID)
	mu.Lock()
	defer mu.Unlock()

	now := s.clk.Now()
	released, err := s.sessionRepo.ReleaseBatch(ctx, repository.ReleaseBatchParams{
		QueueID:              queue.ID,
		Capacity:             queue.Capacity,
		ReleaseRatePerMinute: queue.ReleaseRatePerMinute,
		Now:                  now,
	})
	if err != nil {
		return nil, err
	}

	for _, session := range released {
		pass, err := s.passes.Issue(ctx, session, now)
		if err != nil {
			s.log.Error(fmt.Sprintf("Failed to issue access pass for session %s: %v", session.ID, err))
		}
		s.publishReleased(ctx, session, pass, now)
	}

	if len(released) > 0 {
		metrics.SessionsReleased.WithLabelValues(queue.ID).Add(float64(len(released)))
	}
	return released, nil
}

func (s *AdmissionService) publishReleased(ctx context.Context, session *domain.Session, pass string, now time.Time) {
	event := domain.NewSessionEvent(domain.EventSessionReleased, uuid.New().String(), session.QueueID, now,
		&domain.SessionReleasedData{
			QueueID:    session.QueueID,
			SessionID:  session.ID,
			UserID:     session.UserID,
			AccessPass: pass,
			ReleasedAt: now,
		})
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Error(fmt.Sprintf("Failed to publish released event for session %s: %v", session.ID, err))
		metrics.EventPublishFailures.Inc()
	}
}
