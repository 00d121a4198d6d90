package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/waitroomlab/waitroom/internal/domain"
	"github.com/waitroomlab/waitroom/internal/repository"
	"github.com/waitroomlab/waitroom/internal/service"
	"github.com/waitroomlab/waitroom/pkg/clock"
	"github.com/waitroomlab/waitroom/pkg/logger"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type expiryFixture struct {
	worker   *ExpiryWorker
	sessions *repository.MemorySessionRepository
	queues   *MockQueueRepository
	clk      *clock.Fake
}

func newExpiryFixture() *expiryFixture {
	sessions := repository.NewMemorySessionRepository()
	queues := new(MockQueueRepository)
	clk := clock.NewFake(testStart)
	svc := service.NewSessionService(sessions, nil, service.NewNoOpEventPublisher(), clk, 24*time.Hour, logger.Get())
	w := NewExpiryWorker(svc, sessions, queues, clk, time.Second, 100, logger.Get())
	return &expiryFixture{worker: w, sessions: sessions, queues: queues, clk: clk}
}

func (f *expiryFixture) join(t *testing.T, queueID, userID string) *domain.Session {
	t.Helper()
	result, err := f.sessions.Join(context.Background(), repository.JoinParams{
		QueueID: queueID, UserID: userID, Now: f.clk.Now(),
	})
	assert.NoError(t, err)
	return result.Session
}

func TestExpiryWorker_DropsStaleWaiting(t *testing.T) {
	f := newExpiryFixture()
	queue := &domain.Queue{
		ID: "q1", Capacity: 10, Status: domain.QueueStatusActive,
		WaitingTimeout: 5 * time.Minute,
	}
	f.queues.On("ListQueues", mock.Anything, "").Return([]*domain.Queue{queue}, nil)
	ctx := context.Background()

	stale := f.join(t, "q1", "u1")
	f.clk.Advance(3 * time.Minute)
	fresh := f.join(t, "q1", "u2")

	f.clk.Advance(3 * time.Minute)
	f.worker.Sweep(ctx)

	dropped, err := f.sessions.GetSession(ctx, stale.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.SessionStateDropped, dropped.State)
	assert.Equal(t, domain.DropReasonWaitingTimeout, dropped.DropReason)

	kept, err := f.sessions.GetSession(ctx, fresh.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.SessionStateWaiting, kept.State)

	stats := f.worker.GetStats()
	assert.Equal(t, int64(1), stats.Sweeps)
	assert.Equal(t, int64(1), stats.Dropped)
}

func TestExpiryWorker_DropsStaleServing(t *testing.T) {
	f := newExpiryFixture()
	queue := &domain.Queue{
		ID: "q1", Capacity: 10, Status: domain.QueueStatusActive,
		ServingTimeout: 10 * time.Minute,
	}
	f.queues.On("ListQueues", mock.Anything, "").Return([]*domain.Queue{queue}, nil)
	ctx := context.Background()

	f.join(t, "q1", "u1")
	_, err := f.sessions.ReleaseBatch(ctx, repository.ReleaseBatchParams{
		QueueID: "q1", Capacity: 10, ReleaseRatePerMinute: 600, Now: f.clk.Now(),
	})
	assert.NoError(t, err)
	f.clk.Advance(time.Second)
	released, err := f.sessions.ReleaseBatch(ctx, repository.ReleaseBatchParams{
		QueueID: "q1", Capacity: 10, ReleaseRatePerMinute: 600, Now: f.clk.Now(),
	})
	assert.NoError(t, err)
	assert.Len(t, released, 1)

	f.clk.Advance(11 * time.Minute)
	f.worker.Sweep(ctx)

	dropped, err := f.sessions.GetSession(ctx, released[0].ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.SessionStateDropped, dropped.State)
	assert.Equal(t, domain.DropReasonServingTimeout, dropped.DropReason)

	// the freed slot is available on the next batch
	stats, err := f.sessions.Counts(ctx, "q1", f.clk.Now())
	assert.NoError(t, err)
	assert.Equal(t, int64(0), stats.ServingCount)
}

func TestExpiryWorker_HeartbeatKeepsSessionAlive(t *testing.T) {
	f := newExpiryFixture()
	queue := &domain.Queue{
		ID: "q1", Capacity: 10, Status: domain.QueueStatusActive,
		WaitingTimeout: 5 * time.Minute,
	}
	f.queues.On("ListQueues", mock.Anything, "").Return([]*domain.Queue{queue}, nil)
	ctx := context.Background()

	s := f.join(t, "q1", "u1")

	f.clk.Advance(4 * time.Minute)
	_, err := f.sessions.Heartbeat(ctx, s.ID, f.clk.Now(), 24*time.Hour)
	assert.NoError(t, err)

	f.clk.Advance(4 * time.Minute)
	f.worker.Sweep(ctx)

	kept, err := f.sessions.GetSession(ctx, s.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.SessionStateWaiting, kept.State)
}

func TestExpiryWorker_LostRaceIsCounted(t *testing.T) {
	f := newExpiryFixture()
	queue := &domain.Queue{ID: "q1", Capacity: 10, Status: domain.QueueStatusActive}
	queues := new(MockQueueRepository)
	sessions := new(raceSessionRepo)
	sessions.MemorySessionRepository = f.sessions
	clk := f.clk

	svc := service.NewSessionService(sessions, nil, service.NewNoOpEventPublisher(), clk, 24*time.Hour, logger.Get())
	w := NewExpiryWorker(svc, sessions, queues, clk, time.Second, 100, logger.Get())
	queues.On("ListQueues", mock.Anything, "").Return([]*domain.Queue{queue}, nil)
	ctx := context.Background()

	result, err := f.sessions.Join(ctx, repository.JoinParams{QueueID: "q1", UserID: "u1", Now: clk.Now()})
	assert.NoError(t, err)
	sessions.staleOverride = []string{result.Session.ID}

	// Drop the session between the scan and the reaper's drop
	_, err = f.sessions.Drop(ctx, result.Session.ID, domain.DropReasonLeft, clk.Now())
	assert.NoError(t, err)

	w.Sweep(ctx)

	stats := w.GetStats()
	assert.Equal(t, int64(0), stats.Dropped)
	assert.GreaterOrEqual(t, stats.Races, int64(1))
}

// raceSessionRepo forces StaleSessions to report a fixed set so tests
// can stage scan-then-drop races.
type raceSessionRepo struct {
	*repository.MemorySessionRepository
	staleOverride []string
}

func (r *raceSessionRepo) StaleSessions(ctx context.Context, queueID string, state domain.SessionState, cutoff time.Time, limit int) ([]string, error) {
	if state == domain.SessionStateWaiting {
		return r.staleOverride, nil
	}
	return nil, nil
}
