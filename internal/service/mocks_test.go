package service

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/waitroomlab/waitroom/internal/domain"
)

// MockQueueRepository is a mock of repository.QueueRepository
type MockQueueRepository struct {
	mock.Mock
}

func (m *MockQueueRepository) CreateQueue(ctx context.Context, queue *domain.Queue) error {
	args := m.Called(ctx, queue)
	return args.Error(0)
}

func (m *MockQueueRepository) GetQueue(ctx context.Context, queueID string) (*domain.Queue, error) {
	args := m.Called(ctx, queueID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Queue), args.Error(1)
}

func (m *MockQueueRepository) UpdateQueue(ctx context.Context, queue *domain.Queue) error {
	args := m.Called(ctx, queue)
	return args.Error(0)
}

func (m *MockQueueRepository) SetQueueStatus(ctx context.Context, queueID string, status domain.QueueStatus) error {
	args := m.Called(ctx, queueID, status)
	return args.Error(0)
}

func (m *MockQueueRepository) ListQueues(ctx context.Context, tenantID string) ([]*domain.Queue, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Queue), args.Error(1)
}

func (m *MockQueueRepository) ListActiveQueues(ctx context.Context) ([]*domain.Queue, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Queue), args.Error(1)
}

func (m *MockQueueRepository) CreateTemplate(ctx context.Context, template *domain.QueueTemplate) error {
	args := m.Called(ctx, template)
	return args.Error(0)
}

func (m *MockQueueRepository) GetTemplate(ctx context.Context, templateID string) (*domain.QueueTemplate, error) {
	args := m.Called(ctx, templateID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueueTemplate), args.Error(1)
}

func (m *MockQueueRepository) UpdateTemplate(ctx context.Context, template *domain.QueueTemplate) error {
	args := m.Called(ctx, template)
	return args.Error(0)
}

func (m *MockQueueRepository) ListTemplates(ctx context.Context, tenantID string) ([]*domain.QueueTemplate, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.QueueTemplate), args.Error(1)
}

func (m *MockQueueRepository) IncrementTemplateUseCount(ctx context.Context, templateID string) error {
	args := m.Called(ctx, templateID)
	return args.Error(0)
}

func (m *MockQueueRepository) CreateMerge(ctx context.Context, op *domain.MergeOperation) error {
	args := m.Called(ctx, op)
	return args.Error(0)
}

func (m *MockQueueRepository) GetMerge(ctx context.Context, mergeID string) (*domain.MergeOperation, error) {
	args := m.Called(ctx, mergeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MergeOperation), args.Error(1)
}

func (m *MockQueueRepository) ListMerges(ctx context.Context, queueID string) ([]*domain.MergeOperation, error) {
	args := m.Called(ctx, queueID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.MergeOperation), args.Error(1)
}

func (m *MockQueueRepository) ClaimPendingMerge(ctx context.Context) (*domain.MergeOperation, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MergeOperation), args.Error(1)
}

func (m *MockQueueRepository) UpdateMergeProgress(ctx context.Context, mergeID string, moved, droppedDuplicates int64) error {
	args := m.Called(ctx, mergeID, moved, droppedDuplicates)
	return args.Error(0)
}

func (m *MockQueueRepository) FinishMerge(ctx context.Context, mergeID string, status domain.MergeStatus, errMsg string) error {
	args := m.Called(ctx, mergeID, status, errMsg)
	return args.Error(0)
}

func (m *MockQueueRepository) CancelMerge(ctx context.Context, mergeID string) error {
	args := m.Called(ctx, mergeID)
	return args.Error(0)
}

// capturePublisher records published events for assertions
type capturePublisher struct {
	mu     sync.Mutex
	events []*domain.SessionEvent
}

func (p *capturePublisher) Publish(ctx context.Context, event *domain.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) Events() []*domain.SessionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*domain.SessionEvent, len(p.events))
	copy(out, p.events)
	return out
}

func (p *capturePublisher) ByType(eventType domain.SessionEventType) []*domain.SessionEvent {
	var out []*domain.SessionEvent
	for _, e := range p.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
