package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/waitroomlab/waitroom/internal/domain"
	"github.com/waitroomlab/waitroom/internal/repository"
	"github.com/waitroomlab/waitroom/pkg/clock"
	"github.com/waitroomlab/waitroom/pkg/logger"
)

type adminFixture struct {
	svc      *QueueAdminService
	queues   *MockQueueRepository
	sessions *repository.MemorySessionRepository
	clk      *clock.Fake
}

func newAdminFixture() *adminFixture {
	sessions := repository.NewMemorySessionRepository()
	queues := new(MockQueueRepository)
	clk := clock.NewFake(testStart)
	passes := newTestPassService(sessions, clk)
	admission := NewAdmissionService(sessions, queues, passes, &capturePublisher{}, clk, AdmissionConfig{
		SessionRetention:     24 * time.Hour,
		EstimatedWaitPerUser: 3 * time.Second,
	}, logger.Get())
	svc := NewQueueAdminService(queues, sessions, admission, clk, logger.Get())
	return &adminFixture{svc: svc, queues: queues, sessions: sessions, clk: clk}
}

func TestAdmin_CreateQueue(t *testing.T) {
	f := newAdminFixture()
	f.queues.On("CreateQueue", mock.Anything, mock.AnythingOfType("*domain.Queue")).Return(nil)

	queue, err := f.svc.CreateQueue(context.Background(), CreateQueueParams{
		TenantID:             "tenant-1",
		Name:                 "Checkout",
		Capacity:             50,
		ReleaseRatePerMinute: 120,
		WaitingTimeout:       300,
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, queue.ID)
	assert.Equal(t, domain.QueueStatusActive, queue.Status)
	assert.Equal(t, 5*time.Minute, queue.WaitingTimeout)
	assert.Equal(t, testStart, queue.CreatedAt)
	f.queues.AssertExpectations(t)
}

func TestAdmin_CreateQueue_InvalidCapacity(t *testing.T) {
	f := newAdminFixture()

	_, err := f.svc.CreateQueue(context.Background(), CreateQueueParams{Name: "Bad", Capacity: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidCapacity)
	f.queues.AssertNotCalled(t, "CreateQueue", mock.Anything, mock.Anything)
}

func TestAdmin_CreateQueueFromTemplate(t *testing.T) {
	f := newAdminFixture()
	template := &domain.QueueTemplate{
		ID:                   "tpl-1",
		TenantID:             "tenant-1",
		Name:                 "Flash Sale",
		Capacity:             200,
		ReleaseRatePerMinute: 300,
		WaitingTimeout:       2 * time.Minute,
		ServingTimeout:       8 * time.Minute,
		Visibility:           domain.TemplateVisibilityPublic,
		IsActive:             true,
	}
	f.queues.On("GetTemplate", mock.Anything, "tpl-1").Return(template, nil)
	f.queues.On("CreateQueue", mock.Anything, mock.AnythingOfType("*domain.Queue")).Return(nil)
	f.queues.On("IncrementTemplateUseCount", mock.Anything, "tpl-1").Return(nil)

	queue, err := f.svc.CreateQueueFromTemplate(context.Background(), "tpl-1", "Black Friday")
	assert.NoError(t, err)
	assert.Equal(t, "Black Friday", queue.Name)
	assert.Equal(t, 200, queue.Capacity)
	assert.Equal(t, 300, queue.ReleaseRatePerMinute)
	assert.Equal(t, 2*time.Minute, queue.WaitingTimeout)
	f.queues.AssertExpectations(t)
}

func TestAdmin_CreateQueueFromTemplate_Inactive(t *testing.T) {
	f := newAdminFixture()
	f.queues.On("GetTemplate", mock.Anything, "tpl-1").Return(&domain.QueueTemplate{
		ID: "tpl-1", Capacity: 10, IsActive: false,
	}, nil)

	_, err := f.svc.CreateQueueFromTemplate(context.Background(), "tpl-1", "Nope")
	assert.ErrorIs(t, err, domain.ErrTemplateInactive)
	f.queues.AssertNotCalled(t, "CreateQueue", mock.Anything, mock.Anything)
}

func TestAdmin_UpdateQueue(t *testing.T) {
	f := newAdminFixture()
	existing := &domain.Queue{
		ID: "q1", Name: "Old", Capacity: 10, ReleaseRatePerMinute: 60,
		Status: domain.QueueStatusActive,
	}
	f.queues.On("GetQueue", mock.Anything, "q1").Return(existing, nil)
	f.queues.On("UpdateQueue", mock.Anything, mock.AnythingOfType("*domain.Queue")).Return(nil)

	updated, err := f.svc.UpdateQueue(context.Background(), "q1", UpdateQueueParams{
		Capacity: 25,
	})
	assert.NoError(t, err)
	assert.Equal(t, 25, updated.Capacity)
	// untouched fields keep their values
	assert.Equal(t, "Old", updated.Name)
	assert.Equal(t, 60, updated.ReleaseRatePerMinute)
}

func TestAdmin_UpdateQueue_SwitchToManualRelease(t *testing.T) {
	f := newAdminFixture()
	existing := &domain.Queue{
		ID: "q1", Name: "Q", Capacity: 10, ReleaseRatePerMinute: 60,
		Status: domain.QueueStatusActive,
	}
	f.queues.On("GetQueue", mock.Anything, "q1").Return(existing, nil)
	f.queues.On("UpdateQueue", mock.Anything, mock.AnythingOfType("*domain.Queue")).Return(nil)

	updated, err := f.svc.UpdateQueue(context.Background(), "q1", UpdateQueueParams{
		ReleaseRatePerMinute: -1,
	})
	assert.NoError(t, err)
	assert.Equal(t, 0, updated.ReleaseRatePerMinute)
}

func TestAdmin_QueueLifecycle(t *testing.T) {
	f := newAdminFixture()
	f.queues.On("SetQueueStatus", mock.Anything, "q1", domain.QueueStatusPaused).Return(nil)
	f.queues.On("SetQueueStatus", mock.Anything, "q1", domain.QueueStatusActive).Return(nil)
	f.queues.On("SetQueueStatus", mock.Anything, "q1", domain.QueueStatusClosed).Return(nil)

	ctx := context.Background()
	assert.NoError(t, f.svc.PauseQueue(ctx, "q1"))
	assert.NoError(t, f.svc.ResumeQueue(ctx, "q1"))
	assert.NoError(t, f.svc.CloseQueue(ctx, "q1"))
	f.queues.AssertExpectations(t)

	assert.ErrorIs(t, f.svc.PauseQueue(ctx, ""), domain.ErrInvalidQueueID)
}

func TestAdmin_Stats(t *testing.T) {
	f := newAdminFixture()
	f.queues.On("GetQueue", mock.Anything, "q1").Return(&domain.Queue{
		ID: "q1", Capacity: 10, Status: domain.QueueStatusActive,
	}, nil)
	ctx := context.Background()

	for _, user := range []string{"u1", "u2", "u3"} {
		_, err := f.sessions.Join(ctx, repository.JoinParams{QueueID: "q1", UserID: user, Now: f.clk.Now()})
		assert.NoError(t, err)
	}

	stats, err := f.svc.Stats(ctx, "q1")
	assert.NoError(t, err)
	assert.Equal(t, int64(3), stats.WaitingCount)
	assert.Equal(t, int64(0), stats.ServingCount)
}

func TestAdmin_ReleaseNow(t *testing.T) {
	f := newAdminFixture()
	queue := &domain.Queue{
		ID: "q1", Capacity: 10, ReleaseRatePerMinute: 600,
		Status: domain.QueueStatusActive,
	}
	f.queues.On("GetQueue", mock.Anything, "q1").Return(queue, nil)
	ctx := context.Background()

	_, err := f.sessions.Join(ctx, repository.JoinParams{QueueID: "q1", UserID: "u1", Now: f.clk.Now()})
	assert.NoError(t, err)

	// warm tick, then a tick with tokens available
	_, err = f.svc.ReleaseNow(ctx, "q1")
	assert.NoError(t, err)
	f.clk.Advance(time.Second)
	released, err := f.svc.ReleaseNow(ctx, "q1")
	assert.NoError(t, err)
	assert.Len(t, released, 1)
}

func TestAdmin_CreateTemplate_Defaults(t *testing.T) {
	f := newAdminFixture()
	f.queues.On("CreateTemplate", mock.Anything, mock.AnythingOfType("*domain.QueueTemplate")).Return(nil)

	template, err := f.svc.CreateTemplate(context.Background(), CreateTemplateParams{
		TenantID: "tenant-1",
		Name:     "Standard",
		Capacity: 100,
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.TemplateVisibilityPrivate, template.Visibility)
	assert.Equal(t, domain.DefaultWaitingTimeout, template.WaitingTimeout)
	assert.Equal(t, domain.DefaultServingTimeout, template.ServingTimeout)
	assert.True(t, template.IsActive)
}

func TestAdmin_DeactivateTemplate(t *testing.T) {
	f := newAdminFixture()
	f.queues.On("GetTemplate", mock.Anything, "tpl-1").Return(&domain.QueueTemplate{
		ID: "tpl-1", Capacity: 10, IsActive: true,
	}, nil)
	f.queues.On("UpdateTemplate", mock.Anything, mock.AnythingOfType("*domain.QueueTemplate")).Return(nil)

	template, err := f.svc.DeactivateTemplate(context.Background(), "tpl-1")
	assert.NoError(t, err)
	assert.False(t, template.IsActive)
}

func TestAdmin_RequestMerge(t *testing.T) {
	f := newAdminFixture()
	f.queues.On("GetQueue", mock.Anything, "src").Return(&domain.Queue{
		ID: "src", Capacity: 10, Status: domain.QueueStatusActive,
	}, nil)
	f.queues.On("GetQueue", mock.Anything, "dst").Return(&domain.Queue{
		ID: "dst", Capacity: 10, Status: domain.QueueStatusActive,
	}, nil)
	f.queues.On("ListMerges", mock.Anything, mock.AnythingOfType("string")).Return(nil, nil)
	f.queues.On("CreateMerge", mock.Anything, mock.AnythingOfType("*domain.MergeOperation")).Return(nil)
	f.queues.On("SetQueueStatus", mock.Anything, "src", domain.QueueStatusClosed).Return(nil)
	ctx := context.Background()

	for _, user := range []string{"u1", "u2"} {
		_, err := f.sessions.Join(ctx, repository.JoinParams{QueueID: "src", UserID: user, Now: f.clk.Now()})
		assert.NoError(t, err)
	}

	op, err := f.svc.RequestMerge(ctx, "src", "dst")
	assert.NoError(t, err)
	assert.Equal(t, domain.MergeStatusPending, op.Status)
	assert.Equal(t, int64(2), op.TotalSessions)
	f.queues.AssertCalled(t, "SetQueueStatus", mock.Anything, "src", domain.QueueStatusClosed)
}

func TestAdmin_RequestMerge_ConflictsWithActiveMerge(t *testing.T) {
	f := newAdminFixture()
	f.queues.On("GetQueue", mock.Anything, mock.AnythingOfType("string")).Return(&domain.Queue{
		ID: "src", Capacity: 10, Status: domain.QueueStatusActive,
	}, nil)
	f.queues.On("ListMerges", mock.Anything, "src").Return([]*domain.MergeOperation{
		{ID: "m1", SourceQueueID: "src", TargetQueueID: "other", Status: domain.MergeStatusRunning},
	}, nil)

	_, err := f.svc.RequestMerge(context.Background(), "src", "dst")
	assert.ErrorIs(t, err, domain.ErrMergeConflict)
	f.queues.AssertNotCalled(t, "CreateMerge", mock.Anything, mock.Anything)
}

func TestAdmin_RequestMerge_SameQueue(t *testing.T) {
	f := newAdminFixture()

	_, err := f.svc.RequestMerge(context.Background(), "q1", "q1")
	assert.ErrorIs(t, err, domain.ErrMergeSameQueue)
}

func TestAdmin_RequestMerge_UnknownQueue(t *testing.T) {
	f := newAdminFixture()
	f.queues.On("GetQueue", mock.Anything, "src").Return(nil, domain.ErrQueueNotFound)

	_, err := f.svc.RequestMerge(context.Background(), "src", "dst")
	assert.ErrorIs(t, err, domain.ErrQueueNotFound)
}
