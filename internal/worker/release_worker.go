package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/waitroomlab/waitroom/internal/domain"
	"github.com/waitroomlab/waitroom/internal/metrics"
	"github.com/waitroomlab/waitroom/internal/repository"
	"github.com/waitroomlab/waitroom/internal/service"
	"github.com/waitroomlab/waitroom/pkg/clock"
	"github.com/waitroomlab/waitroom/pkg/logger"
	"github.com/waitroomlab/waitroom/pkg/telemetry"
)

// ReleaseWorker drives the admission flow: every tick it re-reads the
// live queue configs and runs one release batch per queue. Queues are
// processed concurrently; a queue whose previous batch is still running
// is skipped so slow batches delay only their own queue.
type ReleaseWorker struct {
	admission   *service.AdmissionService
	queueRepo   repository.QueueRepository
	sessionRepo repository.SessionRepository
	interval    time.Duration
	clk         clock.Clock
	log         *logger.Logger

	mu       sync.Mutex
	inFlight map[string]bool

	ticks    atomic.Int64
	released atomic.Int64
	errors   atomic.Int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ReleaseWorkerStats holds counters since the worker started
type ReleaseWorkerStats struct {
	Ticks    int64 `json:"ticks"`
	Released int64 `json:"released"`
	Errors   int64 `json:"errors"`
}

// NewReleaseWorker creates a new release worker
func NewReleaseWorker(
	admission *service.AdmissionService,
	queueRepo repository.QueueRepository,
	sessionRepo repository.SessionRepository,
	interval time.Duration,
	clk clock.Clock,
	log *logger.Logger,
) *ReleaseWorker {
	if interval <= 0 {
		interval = time.Second
	}
	return &ReleaseWorker{
		admission:   admission,
		queueRepo:   queueRepo,
		sessionRepo: sessionRepo,
		interval:    interval,
		clk:         clk,
		log:         log,
		inFlight:    make(map[string]bool),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the release loop
func (w *ReleaseWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
	w.log.Info(fmt.Sprintf("Release worker started with interval %s", w.interval))
}

// Stop stops the worker and waits for in-flight batches
func (w *ReleaseWorker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Release worker stopped")
}

// GetStats returns counters since the worker started
func (w *ReleaseWorker) GetStats() ReleaseWorkerStats {
	return ReleaseWorkerStats{
		Ticks:    w.ticks.Load(),
		Released: w.released.Load(),
		Errors:   w.errors.Load(),
	}
}

func (w *ReleaseWorker) run(ctx context.Context) {
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
			w.ticks.Add(1)
			w.Tick(ctx)
		}
	}
}

// Tick runs one release pass over all live queues
func (w *ReleaseWorker) Tick(ctx context.Context) {
	queues, err := w.queueRepo.ListActiveQueues(ctx)
	if err != nil {
		w.errors.Add(1)
		w.log.Error(fmt.Sprintf("Release tick failed to list queues: %v", err))
		return
	}

	for _, queue := range queues {
		if !w.markInFlight(queue.ID) {
			continue
		}
		w.wg.Add(1)
		go func(q *domain.Queue) {
			defer w.wg.Done()
			defer w.clearInFlight(q.ID)
			w.releaseQueue(ctx, q)
		}(queue)
	}
}

func (w *ReleaseWorker) releaseQueue(ctx context.Context, q *domain.Queue) {
	ctx, span := telemetry.StartSpan(ctx, "release_batch",
		trace.WithAttributes(attribute.String("queue.id", q.ID)))
	defer span.End()

	start := time.Now()
	released, err := w.admission.ReleaseQueue(ctx, q)
	metrics.ReleaseBatchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		w.errors.Add(1)
		w.log.Error(fmt.Sprintf("Release batch failed for queue %s: %v", q.ID, err))
		return
	}
	if len(released) > 0 {
		w.released.Add(int64(len(released)))
		w.log.Info(fmt.Sprintf("Released %d sessions from queue %s", len(released), q.ID))
	}

	if stats, err := w.sessionRepo.Counts(ctx, q.ID, w.clk.Now()); err == nil {
		metrics.WaitingSessions.WithLabelValues(q.ID).Set(float64(stats.WaitingCount))
		metrics.ServingSessions.WithLabelValues(q.ID).Set(float64(stats.ServingCount))
	}
}

func (w *ReleaseWorker) markInFlight(queueID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inFlight[queueID] {
		return false
	}
	w.inFlight[queueID] = true
	return true
}

func (w *ReleaseWorker) clearInFlight(queueID string) {
	w.mu.Lock()
	delete(w.inFlight, queueID)
	w.mu.Unlock()
}
