package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waitroomlab/waitroom/internal/domain"
	"github.com/waitroomlab/waitroom/internal/metrics"
	"github.com/waitroomlab/waitroom/internal/repository"
	"github.com/waitroomlab/waitroom/internal/service"
	"github.com/waitroomlab/waitroom/pkg/clock"
	"github.com/waitroomlab/waitroom/pkg/logger"
)

// MergeWorker executes queued merge operations. A merge moves the
// source queue's waiting line to the tail of the target queue in
// chunks, checking for cancellation between chunks. Users already in
// the target keep their earlier spot; their source session is dropped
// as a duplicate.
type MergeWorker struct {
	queueRepo   repository.QueueRepository
	sessionRepo repository.SessionRepository
	publisher   service.EventPublisher
	clk         clock.Clock
	interval    time.Duration
	chunkSize   int
	log         *logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMergeWorker creates a new merge worker
func NewMergeWorker(
	queueRepo repository.QueueRepository,
	sessionRepo repository.SessionRepository,
	publisher service.EventPublisher,
	clk clock.Clock,
	interval time.Duration,
	chunkSize int,
	log *logger.Logger,
) *MergeWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &MergeWorker{
		queueRepo:   queueRepo,
		sessionRepo: sessionRepo,
		publisher:   publisher,
		clk:         clk,
		interval:    interval,
		chunkSize:   chunkSize,
		log:         log,
		stopCh:      make(chan struct{}),
	}
}

// Start begins polling for pending merges
func (w *MergeWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
	w.log.Info(fmt.Sprintf("Merge worker started with interval %s chunk size %d", w.interval, w.chunkSize))
}

// Stop stops the worker and waits for the current merge
func (w *MergeWorker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Merge worker stopped")
}

func (w *MergeWorker) run(ctx context.Context) {
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
			w.Poll(ctx)
		}
	}
}

// Poll claims and runs the oldest pending merge, if any
func (w *MergeWorker) Poll(ctx context.Context) {
	op, err := w.queueRepo.ClaimPendingMerge(ctx)
	if err != nil {
		w.log.Error(fmt.Sprintf("Failed to claim pending merge: %v", err))
		return
	}
	if op == nil {
		return
	}
	w.Run(ctx, op)
}

// Run executes a claimed merge operation to completion
func (w *MergeWorker) Run(ctx context.Context, op *domain.MergeOperation) {
	w.log.Info(fmt.Sprintf("Starting merge %s: %s -> %s", op.ID, op.SourceQueueID, op.TargetQueueID))
	w.publishMergeEvent(ctx, domain.EventMergeStarted, op, "")

	var moved, dups int64
	for {
		if w.cancelled(ctx, op.ID) {
			w.log.Info(fmt.Sprintf("Merge %s cancelled after moving %d sessions", op.ID, moved))
			w.publishMergeEvent(ctx, domain.EventMergeCancelled, w.snapshot(op, moved, dups), "")
			return
		}

		result, err := w.sessionRepo.MergeChunk(ctx, repository.MergeChunkParams{
			SourceQueueID: op.SourceQueueID,
			TargetQueueID: op.TargetQueueID,
			Limit:         w.chunkSize,
			Now:           w.clk.Now(),
		})
		if err != nil {
			w.fail(ctx, op, moved, dups, err)
			return
		}

		moved += result.Moved
		dups += result.DroppedDuplicates
		metrics.MergeSessionsMoved.Add(float64(result.Moved))

		if err := w.queueRepo.UpdateMergeProgress(ctx, op.ID, result.Moved, result.DroppedDuplicates); err != nil {
			if !errors.Is(err, domain.ErrMergeNotFound) {
				w.log.Warn(fmt.Sprintf("Failed to record merge %s progress: %v", op.ID, err))
			}
		}

		if result.Remaining == 0 {
			break
		}
		w.publishMergeEvent(ctx, domain.EventMergeProgress, w.snapshot(op, moved, dups), "")
	}

	if err := w.queueRepo.FinishMerge(ctx, op.ID, domain.MergeStatusCompleted, ""); err != nil {
		w.log.Error(fmt.Sprintf("Failed to finish merge %s: %v", op.ID, err))
	}
	w.log.Info(fmt.Sprintf("Completed merge %s: moved=%d duplicates=%d", op.ID, moved, dups))
	w.publishMergeEvent(ctx, domain.EventMergeCompleted, w.snapshot(op, moved, dups), "")
}

func (w *MergeWorker) fail(ctx context.Context, op *domain.MergeOperation, moved, dups int64, cause error) {
	w.log.Error(fmt.Sprintf("Merge %s failed: %v", op.ID, cause))
	if err := w.queueRepo.FinishMerge(ctx, op.ID, domain.MergeStatusFailed, cause.Error()); err != nil {
		w.log.Error(fmt.Sprintf("Failed to mark merge %s failed: %v", op.ID, err))
	}
	w.publishMergeEvent(ctx, domain.EventMergeFailed, w.snapshot(op, moved, dups), cause.Error())
}

func (w *MergeWorker) cancelled(ctx context.Context, mergeID string) bool {
	op, err := w.queueRepo.GetMerge(ctx, mergeID)
	if err != nil {
		return false
	}
	return op.Status == domain.MergeStatusCancelled
}

func (w *MergeWorker) snapshot(op *domain.MergeOperation, moved, dups int64) *domain.MergeOperation {
	copied := *op
	copied.MovedSessions = moved
	copied.DroppedDuplicates = dups
	return &copied
}

func (w *MergeWorker) publishMergeEvent(ctx context.Context, eventType domain.SessionEventType, op *domain.MergeOperation, errMsg string) {
	now := w.clk.Now()
	event := domain.NewSessionEvent(eventType, uuid.New().String(), op.TargetQueueID, now,
		&domain.MergeEventData{
			OperationID:       op.ID,
			SourceQueueID:     op.SourceQueueID,
			TargetQueueID:     op.TargetQueueID,
			MovedSessions:     op.MovedSessions,
			DroppedDuplicates: op.DroppedDuplicates,
			TotalSessions:     op.TotalSessions,
			Error:             errMsg,
		})
	if err := w.publisher.Publish(ctx, event); err != nil {
		w.log.Error(fmt.Sprintf("Failed to publish %s event for merge %s: %v", eventType, op.ID, err))
		metrics.EventPublishFailures.Inc()
	}
}
