package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/waitroomlab/waitroom/internal/domain"
	"github.com/waitroomlab/waitroom/internal/metrics"
	"github.com/waitroomlab/waitroom/internal/repository"
	"github.com/waitroomlab/waitroom/internal/service"
	"github.com/waitroomlab/waitroom/pkg/clock"
	"github.com/waitroomlab/waitroom/pkg/logger"
)

// ExpiryWorker reaps sessions whose heartbeats went silent. Waiting
// sessions past the queue's waiting timeout and serving sessions past
// the serving timeout are dropped, which frees their capacity on the
// next release batch. Closed queues are swept too so they drain.
type ExpiryWorker struct {
	sessions    *service.SessionService
	sessionRepo repository.SessionRepository
	queueRepo   repository.QueueRepository
	clk         clock.Clock
	interval    time.Duration
	batchSize   int
	log         *logger.Logger

	sweeps  atomic.Int64
	dropped atomic.Int64
	races   atomic.Int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ExpiryWorkerStats holds counters since the worker started
type ExpiryWorkerStats struct {
	Sweeps  int64 `json:"sweeps"`
	Dropped int64 `json:"dropped"`
	Races   int64 `json:"races"`
}

// NewExpiryWorker creates a new expiry worker
func NewExpiryWorker(
	sessions *service.SessionService,
	sessionRepo repository.SessionRepository,
	queueRepo repository.QueueRepository,
	clk clock.Clock,
	interval time.Duration,
	batchSize int,
	log *logger.Logger,
) *ExpiryWorker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpiryWorker{
		sessions:    sessions,
		sessionRepo: sessionRepo,
		queueRepo:   queueRepo,
		clk:         clk,
		interval:    interval,
		batchSize:   batchSize,
		log:         log,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the sweep loop
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
	w.log.Info(fmt.Sprintf("Expiry worker started with interval %s batch size %d", w.interval, w.batchSize))
}

// Stop stops the worker and waits for the current sweep
func (w *ExpiryWorker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Expiry worker stopped")
}

// GetStats returns counters since the worker started
func (w *ExpiryWorker) GetStats() ExpiryWorkerStats {
	return ExpiryWorkerStats{
		Sweeps:  w.sweeps.Load(),
		Dropped: w.dropped.Load(),
		Races:   w.races.Load(),
	}
}

func (w *ExpiryWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass over all queues
func (w *ExpiryWorker) Sweep(ctx context.Context) {
	w.sweeps.Add(1)
	start := time.Now()
	defer func() {
		metrics.ExpirySweepDuration.Observe(time.Since(start).Seconds())
	}()

	queues, err := w.queueRepo.ListQueues(ctx, "")
	if err != nil {
		w.log.Error(fmt.Sprintf("Expiry sweep failed to list queues: %v", err))
		return
	}

	now := w.clk.Now()
	for _, queue := range queues {
		w.sweepQueue(ctx, queue, domain.SessionStateWaiting, now.Add(-queue.GetWaitingTimeout()), domain.DropReasonWaitingTimeout)
		w.sweepQueue(ctx, queue, domain.SessionStateServing, now.Add(-queue.GetServingTimeout()), domain.DropReasonServingTimeout)
	}
}

func (w *ExpiryWorker) sweepQueue(ctx context.Context, queue *domain.Queue, state domain.SessionState, cutoff time.Time, reason string) {
	stale, err := w.sessionRepo.StaleSessions(ctx, queue.ID, state, cutoff, w.batchSize)
	if err != nil {
		w.log.Error(fmt.Sprintf("Expiry scan failed for queue %s state %s: %v", queue.ID, state, err))
		return
	}

	for _, sessionID := range stale {
		if _, err := w.sessions.Drop(ctx, sessionID, reason); err != nil {
			// A session promoted, completed, or dropped since the
			// scan loses the race; first commit wins.
			if errors.Is(err, domain.ErrInvalidStateTransition) || errors.Is(err, domain.ErrSessionNotFound) {
				w.races.Add(1)
				w.log.Debug(fmt.Sprintf("Expiry skipped session %s: %v", sessionID, err))
				continue
			}
			w.log.Error(fmt.Sprintf("Expiry drop failed for session %s: %v", sessionID, err))
			continue
		}
		w.dropped.Add(1)
	}
}
