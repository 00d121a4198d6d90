package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/waitroomlab/waitroom/internal/domain"
	"github.com/waitroomlab/waitroom/internal/repository"
	"github.com/waitroomlab/waitroom/pkg/clock"
	"github.com/waitroomlab/waitroom/pkg/logger"
)

// QueueAdminService is the operator control plane: queue lifecycle,
// templates, merges, and stats.
type QueueAdminService struct {
	queueRepo   repository.QueueRepository
	sessionRepo repository.SessionRepository
	admission   *AdmissionService
	clk         clock.Clock
	log         *logger.Logger
}

// NewQueueAdminService creates a new queue admin service
func NewQueueAdminService(
	queueRepo repository.QueueRepository,
	sessionRepo repository.SessionRepository,
	admission *AdmissionService,
	clk clock.Clock,
	log *logger.Logger,
) *QueueAdminService {
	return &QueueAdminService{
		queueRepo:   queueRepo,
		sessionRepo: sessionRepo,
		admission:   admission,
		clk:         clk,
		log:         log,
	}
}

// --- Queues ---

// CreateQueueParams holds the settings for a new queue
type CreateQueueParams struct {
	TenantID             string
	Name                 string
	Capacity             int
	ReleaseRatePerMinute int
	WaitingTimeout       int // seconds, 0 = default
	ServingTimeout       int // seconds, 0 = default
}

// CreateQueue creates a new active queue
func (s *QueueAdminService) CreateQueue(ctx context.Context, params CreateQueueParams) (*domain.Queue, error) {
	now := s.clk.Now()
	queue := &domain.Queue{
		ID:                   uuid.New().String(),
		TenantID:             params.TenantID,
		Name:                 params.Name,
		Capacity:             params.Capacity,
		ReleaseRatePerMinute: params.ReleaseRatePerMinute,
		Status:               domain.QueueStatusActive,
		WaitingTimeout:       secondsToDuration(params.WaitingTimeout),
		ServingTimeout:       secondsToDuration(params.ServingTimeout),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := queue.Validate(); err != nil {
		return nil, err
	}
	if err := s.queueRepo.CreateQueue(ctx, queue); err != nil {
		return nil, err
	}

	s.log.Info(fmt.Sprintf("Created queue %s name=%s capacity=%d rate=%d/min",
		queue.ID, queue.Name, queue.Capacity, queue.ReleaseRatePerMinute))
	return queue, nil
}

// CreateQueueFromTemplate creates a queue carrying a template's settings
func (s *QueueAdminService) CreateQueueFromTemplate(ctx context.Context, templateID, name string) (*domain.Queue, error) {
	template, err := s.queueRepo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !template.IsActive {
		return nil, domain.ErrTemplateInactive
	}

	queue := domain.NewQueueFromTemplate(template, uuid.New().String(), name, s.clk.Now())
	if err := queue.Validate(); err != nil {
		return nil, err
	}
	if err := s.queueRepo.CreateQueue(ctx, queue); err != nil {
		return nil, err
	}
	if err := s.queueRepo.IncrementTemplateUseCount(ctx, templateID); err != nil {
		s.log.Warn(fmt.Sprintf("Failed to bump use count for template %s: %v", templateID, err))
	}

	s.log.Info(fmt.Sprintf("Created queue %s from template %s", queue.ID, templateID))
	return queue, nil
}

// GetQueue returns a queue by id
func (s *QueueAdminService) GetQueue(ctx context.Context, queueID string) (*domain.Queue, error) {
	if queueID == "" {
		return nil, domain.ErrInvalidQueueID
	}
	return s.queueRepo.GetQueue(ctx, queueID)
}

// ListQueues lists queues, optionally filtered by tenant
func (s *QueueAdminService) ListQueues(ctx context.Context, tenantID string) ([]*domain.Queue, error) {
	return s.queueRepo.ListQueues(ctx, tenantID)
}

// UpdateQueueParams holds mutable queue settings. Changes take effect
// on the next scheduler tick without draining the queue.
type UpdateQueueParams struct {
	Name                 string
	Capacity             int
	ReleaseRatePerMinute int // >0 = set, 0 = keep, -1 = switch to manual release
	WaitingTimeout       int // seconds, 0 = keep current
	ServingTimeout       int // seconds, 0 = keep current
}

// UpdateQueue updates a queue's settings
func (s *QueueAdminService) UpdateQueue(ctx context.Context, queueID string, params UpdateQueueParams) (*domain.Queue, error) {
	queue, err := s.queueRepo.GetQueue(ctx, queueID)
	if err != nil {
		return nil, err
	}

	if params.Name != "" {
		queue.Name = params.Name
	}
	if params.Capacity > 0 {
		queue.Capacity = params.Capacity
	}
	if params.ReleaseRatePerMinute > 0 {
		queue.ReleaseRatePerMinute = params.ReleaseRatePerMinute
	} else if params.ReleaseRatePerMinute < 0 {
		queue.ReleaseRatePerMinute = 0
	}
	if params.WaitingTimeout > 0 {
		queue.WaitingTimeout = secondsToDuration(params.WaitingTimeout)
	}
	if params.ServingTimeout > 0 {
		queue.ServingTimeout = secondsToDuration(params.ServingTimeout)
	}

	if err := queue.Validate(); err != nil {
		return nil, err
	}
	if err := s.queueRepo.UpdateQueue(ctx, queue); err != nil {
		return nil, err
	}
	return queue, nil
}

// PauseQueue holds the release flow. Joins and heartbeats continue.
func (s *QueueAdminService) PauseQueue(ctx context.Context, queueID string) error {
	return s.setStatus(ctx, queueID, domain.QueueStatusPaused)
}

// ResumeQueue resumes the release flow of a paused queue
func (s *QueueAdminService) ResumeQueue(ctx context.Context, queueID string) error {
	return s.setStatus(ctx, queueID, domain.QueueStatusActive)
}

// CloseQueue stops new joins. Sessions already inside keep flowing
// until they finish or time out.
func (s *QueueAdminService) CloseQueue(ctx context.Context, queueID string) error {
	return s.setStatus(ctx, queueID, domain.QueueStatusClosed)
}

func (s *QueueAdminService) setStatus(ctx context.Context, queueID string, status domain.QueueStatus) error {
	if queueID == "" {
		return domain.ErrInvalidQueueID
	}
	if err := s.queueRepo.SetQueueStatus(ctx, queueID, status); err != nil {
		return err
	}
	s.log.Info(fmt.Sprintf("Queue %s status set to %s", queueID, status))
	return nil
}

// Stats returns live occupancy counters for a queue
func (s *QueueAdminService) Stats(ctx context.Context, queueID string) (*domain.QueueStats, error) {
	if _, err := s.queueRepo.GetQueue(ctx, queueID); err != nil {
		return nil, err
	}
	return s.sessionRepo.Counts(ctx, queueID, s.clk.Now())
}

// ReleaseNow runs an immediate release batch outside the scheduler tick
func (s *QueueAdminService) ReleaseNow(ctx context.Context, queueID string) ([]*domain.Session, error) {
	queue, err := s.queueRepo.GetQueue(ctx, queueID)
	if err != nil {
		return nil, err
	}
	return s.admission.ReleaseQueue(ctx, queue)
}

// --- Templates ---

// CreateTemplateParams holds the settings for a new queue template
type CreateTemplateParams struct {
	TenantID             string
	Name                 string
	Description          string
	Capacity             int
	ReleaseRatePerMinute int
	WaitingTimeout       int // seconds, 0 = default
	ServingTimeout       int // seconds, 0 = default
	Visibility           string
}

// CreateTemplate creates a reusable queue template
func (s *QueueAdminService) CreateTemplate(ctx context.Context, params CreateTemplateParams) (*domain.QueueTemplate, error) {
	now := s.clk.Now()
	visibility := domain.TemplateVisibility(params.Visibility)
	if visibility == "" {
		visibility = domain.TemplateVisibilityPrivate
	}

	template := &domain.QueueTemplate{
		ID:                   uuid.New().String(),
		TenantID:             params.TenantID,
		Name:                 params.Name,
		Description:          params.Description,
		Capacity:             params.Capacity,
		ReleaseRatePerMinute: params.ReleaseRatePerMinute,
		WaitingTimeout:       secondsToDuration(params.WaitingTimeout),
		ServingTimeout:       secondsToDuration(params.ServingTimeout),
		Visibility:           visibility,
		IsActive:             true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if template.WaitingTimeout == 0 {
		template.WaitingTimeout = domain.DefaultWaitingTimeout
	}
	if template.ServingTimeout == 0 {
		template.ServingTimeout = domain.DefaultServingTimeout
	}
	if err := template.Validate(); err != nil {
		return nil, err
	}
	if err := s.queueRepo.CreateTemplate(ctx, template); err != nil {
		return nil, err
	}
	return template, nil
}

// GetTemplate returns a template by id
func (s *QueueAdminService) GetTemplate(ctx context.Context, templateID string) (*domain.QueueTemplate, error) {
	return s.queueRepo.GetTemplate(ctx, templateID)
}

// ListTemplates lists templates visible to a tenant
func (s *QueueAdminService) ListTemplates(ctx context.Context, tenantID string) ([]*domain.QueueTemplate, error) {
	return s.queueRepo.ListTemplates(ctx, tenantID)
}

// DeactivateTemplate retires a template from further use
func (s *QueueAdminService) DeactivateTemplate(ctx context.Context, templateID string) (*domain.QueueTemplate, error) {
	template, err := s.queueRepo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	template.IsActive = false
	if err := s.queueRepo.UpdateTemplate(ctx, template); err != nil {
		return nil, err
	}
	return template, nil
}

// --- Merges ---

// RequestMerge enqueues a merge of the source queue's waiting line
// into the target queue. The merge worker picks it up asynchronously.
func (s *QueueAdminService) RequestMerge(ctx context.Context, sourceQueueID, targetQueueID string) (*domain.MergeOperation, error) {
	if sourceQueueID == targetQueueID {
		return nil, domain.ErrMergeSameQueue
	}
	if _, err := s.queueRepo.GetQueue(ctx, sourceQueueID); err != nil {
		return nil, err
	}
	if _, err := s.queueRepo.GetQueue(ctx, targetQueueID); err != nil {
		return nil, err
	}

	// At most one non-final merge may involve a queue on either side.
	for _, queueID := range []string{sourceQueueID, targetQueueID} {
		ops, err := s.queueRepo.ListMerges(ctx, queueID)
		if err != nil {
			return nil, err
		}
		for _, existing := range ops {
			if !existing.Status.IsFinal() {
				return nil, domain.ErrMergeConflict
			}
		}
	}

	stats, err := s.sessionRepo.Counts(ctx, sourceQueueID, s.clk.Now())
	if err != nil {
		return nil, err
	}

	op := &domain.MergeOperation{
		ID:            uuid.New().String(),
		SourceQueueID: sourceQueueID,
		TargetQueueID: targetQueueID,
		Status:        domain.MergeStatusPending,
		TotalSessions: stats.WaitingCount,
		CreatedAt:     s.clk.Now(),
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if err := s.queueRepo.CreateMerge(ctx, op); err != nil {
		return nil, err
	}

	// Close the source so new joins land elsewhere while the merge drains.
	if err := s.queueRepo.SetQueueStatus(ctx, sourceQueueID, domain.QueueStatusClosed); err != nil {
		return nil, fmt.Errorf("merge %s created but failed to close source queue: %w", op.ID, err)
	}

	s.log.Info(fmt.Sprintf("Requested merge %s: %s -> %s (%d waiting)",
		op.ID, sourceQueueID, targetQueueID, op.TotalSessions))
	return op, nil
}

// GetMerge returns a merge operation by id
func (s *QueueAdminService) GetMerge(ctx context.Context, mergeID string) (*domain.MergeOperation, error) {
	return s.queueRepo.GetMerge(ctx, mergeID)
}

// ListMerges lists merge operations, optionally filtered by queue
func (s *QueueAdminService) ListMerges(ctx context.Context, queueID string) ([]*domain.MergeOperation, error) {
	return s.queueRepo.ListMerges(ctx, queueID)
}

// CancelMerge cancels a pending or running merge. Sessions already
// moved stay in the target queue.
func (s *QueueAdminService) CancelMerge(ctx context.Context, mergeID string) error {
	return s.queueRepo.CancelMerge(ctx, mergeID)
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
