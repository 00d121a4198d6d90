package repository

import (
	"context"

	"github.com/waitroomlab/waitroom/internal/domain"
)

// QueueRepository persists queue configuration, templates, and merge
// operations. Queue settings are the control plane: workers re-read
// them every tick so capacity and rate changes apply without restarts.
type QueueRepository interface {
	CreateQueue(ctx context.Context, queue *domain.Queue) error
	GetQueue(ctx context.Context, queueID string) (*domain.Queue, error)
	UpdateQueue(ctx context.Context, queue *domain.Queue) error
	SetQueueStatus(ctx context.Context, queueID string, status domain.QueueStatus) error
	ListQueues(ctx context.Context, tenantID string) ([]*domain.Queue, error)
	ListActiveQueues(ctx context.Context) ([]*domain.Queue, error)

	CreateTemplate(ctx context.Context, template *domain.QueueTemplate) error
	GetTemplate(ctx context.Context, templateID string) (*domain.QueueTemplate, error)
	UpdateTemplate(ctx context.Context, template *domain.QueueTemplate) error
	ListTemplates(ctx context.Context, tenantID string) ([]*domain.QueueTemplate, error)
	IncrementTemplateUseCount(ctx context.Context, templateID string) error

	CreateMerge(ctx context.Context, op *domain.MergeOperation) error
	GetMerge(ctx context.Context, mergeID string) (*domain.MergeOperation, error)
	ListMerges(ctx context.Context, queueID string) ([]*domain.MergeOperation, error)
	// ClaimPendingMerge atomically moves the oldest pending merge to
	// running and returns it, or returns nil when none is pending.
	ClaimPendingMerge(ctx context.Context) (*domain.MergeOperation, error)
	UpdateMergeProgress(ctx context.Context, mergeID string, moved, droppedDuplicates int64) error
	FinishMerge(ctx context.Context, mergeID string, status domain.MergeStatus, errMsg string) error
	// CancelMerge cancels a pending or running merge. A running merge
	// stops at the next chunk boundary.
	CancelMerge(ctx context.Context, mergeID string) error
}
