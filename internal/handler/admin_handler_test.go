package handler

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/waitroomlab/waitroom/internal/domain"
	"github.com/waitroomlab/waitroom/internal/repository"
	"github.com/waitroomlab/waitroom/internal/service"
	"github.com/waitroomlab/waitroom/pkg/clock"
	"github.com/waitroomlab/waitroom/pkg/logger"
)

// fakeQueueRepo is an in-memory QueueRepository for control-plane tests.
type fakeQueueRepo struct {
	queues    map[string]*domain.Queue
	templates map[string]*domain.QueueTemplate
	merges    map[string]*domain.MergeOperation
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{
		queues:    make(map[string]*domain.Queue),
		templates: make(map[string]*domain.QueueTemplate),
		merges:    make(map[string]*domain.MergeOperation),
	}
}

func (f *fakeQueueRepo) CreateQueue(ctx context.Context, queue *domain.Queue) error {
	if _, ok := f.queues[queue.ID]; ok {
		return domain.ErrQueueAlreadyExists
	}
	f.queues[queue.ID] = queue
	return nil
}

func (f *fakeQueueRepo) GetQueue(ctx context.Context, queueID string) (*domain.Queue, error) {
	queue, ok := f.queues[queueID]
	if !ok {
		return nil, domain.ErrQueueNotFound
	}
	return queue, nil
}

func (f *fakeQueueRepo) UpdateQueue(ctx context.Context, queue *domain.Queue) error {
	if _, ok := f.queues[queue.ID]; !ok {
		return domain.ErrQueueNotFound
	}
	f.queues[queue.ID] = queue
	return nil
}

func (f *fakeQueueRepo) SetQueueStatus(ctx context.Context, queueID string, status domain.QueueStatus) error {
	queue, ok := f.queues[queueID]
	if !ok {
		return domain.ErrQueueNotFound
	}
	queue.Status = status
	return nil
}

func (f *fakeQueueRepo) ListQueues(ctx context.Context, tenantID string) ([]*domain.Queue, error) {
	out := make([]*domain.Queue, 0, len(f.queues))
	for _, queue := range f.queues {
		if tenantID == "" || queue.TenantID == tenantID {
			out = append(out, queue)
		}
	}
	return out, nil
}

func (f *fakeQueueRepo) ListActiveQueues(ctx context.Context) ([]*domain.Queue, error) {
	out := make([]*domain.Queue, 0, len(f.queues))
	for _, queue := range f.queues {
		if queue.IsActive() {
			out = append(out, queue)
		}
	}
	return out, nil
}

func (f *fakeQueueRepo) CreateTemplate(ctx context.Context, template *domain.QueueTemplate) error {
	f.templates[template.ID] = template
	return nil
}

func (f *fakeQueueRepo) GetTemplate(ctx context.Context, templateID string) (*domain.QueueTemplate, error) {
	template, ok := f.templates[templateID]
	if !ok {
		return nil, domain.ErrTemplateNotFound
	}
	return template, nil
}

func (f *fakeQueueRepo) UpdateTemplate(ctx context.Context, template *domain.QueueTemplate) error {
	if _, ok := f.templates[template.ID]; !ok {
		return domain.ErrTemplateNotFound
	}
	f.templates[template.ID] = template
	return nil
}

func (f *fakeQueueRepo) ListTemplates(ctx context.Context, tenantID string) ([]*domain.QueueTemplate, error) {
	out := make([]*domain.QueueTemplate, 0, len(f.templates))
	for _, template := range f.templates {
		if tenantID == "" || template.TenantID == tenantID {
			out = append(out, template)
		}
	}
	return out, nil
}

func (f *fakeQueueRepo) IncrementTemplateUseCount(ctx context.Context, templateID string) error {
	template, ok := f.templates[templateID]
	if !ok {
		return domain.ErrTemplateNotFound
	}
	template.UseCount++
	return nil
}

func (f *fakeQueueRepo) CreateMerge(ctx context.Context, op *domain.MergeOperation) error {
	f.merges[op.ID] = op
	return nil
}

func (f *fakeQueueRepo) GetMerge(ctx context.Context, mergeID string) (*domain.MergeOperation, error) {
	op, ok := f.merges[mergeID]
	if !ok {
		return nil, domain.ErrMergeNotFound
	}
	return op, nil
}

func (f *fakeQueueRepo) ListMerges(ctx context.Context, queueID string) ([]*domain.MergeOperation, error) {
	out := make([]*domain.MergeOperation, 0, len(f.merges))
	for _, op := range f.merges {
		if queueID == "" || op.SourceQueueID == queueID || op.TargetQueueID == queueID {
			out = append(out, op)
		}
	}
	return out, nil
}

func (f *fakeQueueRepo) ClaimPendingMerge(ctx context.Context) (*domain.MergeOperation, error) {
	for _, op := range f.merges {
		if op.Status == domain.MergeStatusPending {
			op.Status = domain.MergeStatusRunning
			return op, nil
		}
	}
	return nil, nil
}

func (f *fakeQueueRepo) UpdateMergeProgress(ctx context.Context, mergeID string, moved, droppedDuplicates int64) error {
	op, ok := f.merges[mergeID]
	if !ok {
		return domain.ErrMergeNotFound
	}
	op.MovedSessions = moved
	op.DroppedDuplicates = droppedDuplicates
	return nil
}

func (f *fakeQueueRepo) FinishMerge(ctx context.Context, mergeID string, status domain.MergeStatus, errMsg string) error {
	op, ok := f.merges[mergeID]
	if !ok {
		return domain.ErrMergeNotFound
	}
	op.Status = status
	op.Error = errMsg
	return nil
}

func (f *fakeQueueRepo) CancelMerge(ctx context.Context, mergeID string) error {
	op, ok := f.merges[mergeID]
	if !ok {
		return domain.ErrMergeNotFound
	}
	if op.Status.IsFinal() {
		return domain.ErrMergeNotCancellable
	}
	op.Status = domain.MergeStatusCancelled
	return nil
}

type adminHandlerFixture struct {
	*handlerFixture
	queues *fakeQueueRepo
}

func newAdminHandlerFixture(queues ...*domain.Queue) *adminHandlerFixture {
	sessions := repository.NewMemorySessionRepository()
	queueRepo := newFakeQueueRepo()
	for _, q := range queues {
		queueRepo.queues[q.ID] = q
	}
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	passes := service.NewAccessPassService(service.AccessPassConfig{
		Secret: []byte("handler-test-secret-32-chars-min!"),
		Issuer: "waitroom-test",
		TTL:    time.Hour,
	}, sessions, clk)
	publisher := service.NewNoOpEventPublisher()
	admission := service.NewAdmissionService(sessions, queueRepo, passes, publisher, clk,
		service.AdmissionConfig{SessionRetention: 24 * time.Hour, EstimatedWaitPerUser: 3 * time.Second},
		logger.Get())
	admin := service.NewQueueAdminService(queueRepo, sessions, admission, clk, logger.Get())

	router := gin.New()
	NewAdminHandler(admin).RegisterRoutes(router)
	NewSessionHandler(admission, service.NewSessionService(sessions, passes, publisher, clk, 24*time.Hour, logger.Get())).
		RegisterRoutes(router.Group("/public"))

	return &adminHandlerFixture{
		handlerFixture: &handlerFixture{router: router, sessions: sessions, clk: clk},
		queues:         queueRepo,
	}
}

func TestAdminHandler_CreateQueue(t *testing.T) {
	f := newAdminHandlerFixture()

	w := f.do(http.MethodPost, "/queues", `{"name":"Flash Sale","capacity":50,"release_rate_per_minute":120}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Flash Sale", dataField(t, w, "name"))
	assert.Equal(t, float64(50), dataField(t, w, "capacity"))
	assert.Equal(t, string(domain.QueueStatusActive), dataField(t, w, "status"))
	assert.NotEmpty(t, dataField(t, w, "id"))
}

func TestAdminHandler_CreateQueue_RejectsZeroCapacity(t *testing.T) {
	f := newAdminHandlerFixture()

	w := f.do(http.MethodPost, "/queues", `{"name":"Flash Sale","capacity":0}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_UpdateQueue(t *testing.T) {
	f := newAdminHandlerFixture(testQueue())

	w := f.do(http.MethodPatch, "/queues/q1", `{"capacity":25}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(25), dataField(t, w, "capacity"))
	assert.Equal(t, "Checkout", dataField(t, w, "name"))
}

func TestAdminHandler_PauseResumeClose(t *testing.T) {
	f := newAdminHandlerFixture(testQueue())

	paused := f.do(http.MethodPost, "/queues/q1/pause", "")
	assert.Equal(t, http.StatusOK, paused.Code)
	assert.Equal(t, string(domain.QueueStatusPaused), dataField(t, paused, "status"))

	resumed := f.do(http.MethodPost, "/queues/q1/resume", "")
	assert.Equal(t, string(domain.QueueStatusActive), dataField(t, resumed, "status"))

	closed := f.do(http.MethodPost, "/queues/q1/close", "")
	assert.Equal(t, string(domain.QueueStatusClosed), dataField(t, closed, "status"))
}

func TestAdminHandler_Stats(t *testing.T) {
	f := newAdminHandlerFixture(testQueue())
	for i := 1; i <= 3; i++ {
		f.do(http.MethodPost, "/public/queues/q1/join", fmt.Sprintf(`{"user_id":"u%d"}`, i))
	}

	w := f.do(http.MethodGet, "/queues/q1/stats", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), dataField(t, w, "waiting_count"))
	assert.Equal(t, float64(0), dataField(t, w, "serving_count"))
}

func TestAdminHandler_ReleaseNow(t *testing.T) {
	f := newAdminHandlerFixture(testQueue())
	f.do(http.MethodPost, "/public/queues/q1/join", `{"user_id":"u1"}`)
	f.do(http.MethodPost, "/public/queues/q1/join", `{"user_id":"u2"}`)

	// First call arms the release bucket; a second call after one
	// second has a token to spend at 60/min.
	f.do(http.MethodPost, "/queues/q1/release", "")
	f.clk.Advance(time.Second)

	w := f.do(http.MethodPost, "/queues/q1/release", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), dataField(t, w, "released"))
}

func TestAdminHandler_Templates(t *testing.T) {
	f := newAdminHandlerFixture()

	created := f.do(http.MethodPost, "/templates",
		`{"name":"Standard Drop","capacity":100,"release_rate_per_minute":300,"visibility":"public"}`)
	assert.Equal(t, http.StatusCreated, created.Code)
	assert.Equal(t, true, dataField(t, created, "is_active"))
	templateID := dataField(t, created, "id").(string)

	queue := f.do(http.MethodPost, "/queues/from-template",
		fmt.Sprintf(`{"template_id":"%s","name":"Sneaker Drop"}`, templateID))
	assert.Equal(t, http.StatusCreated, queue.Code)
	assert.Equal(t, "Sneaker Drop", dataField(t, queue, "name"))
	assert.Equal(t, float64(100), dataField(t, queue, "capacity"))

	fetched := f.do(http.MethodGet, "/templates/"+templateID, "")
	assert.Equal(t, float64(1), dataField(t, fetched, "use_count"))

	deactivated := f.do(http.MethodPost, "/templates/"+templateID+"/deactivate", "")
	assert.Equal(t, false, dataField(t, deactivated, "is_active"))
}

func TestAdminHandler_Merges(t *testing.T) {
	src := testQueue()
	dst := testQueue()
	dst.ID = "q2"
	dst.Name = "Overflow"
	f := newAdminHandlerFixture(src, dst)
	f.do(http.MethodPost, "/public/queues/q1/join", `{"user_id":"u1"}`)
	f.do(http.MethodPost, "/public/queues/q1/join", `{"user_id":"u2"}`)

	created := f.do(http.MethodPost, "/merges", `{"source_queue_id":"q1","target_queue_id":"q2"}`)
	assert.Equal(t, http.StatusCreated, created.Code)
	assert.Equal(t, string(domain.MergeStatusPending), dataField(t, created, "status"))
	assert.Equal(t, float64(2), dataField(t, created, "total_sessions"))
	mergeID := dataField(t, created, "id").(string)

	cancelled := f.do(http.MethodPost, "/merges/"+mergeID+"/cancel", "")
	assert.Equal(t, http.StatusOK, cancelled.Code)
	assert.Equal(t, string(domain.MergeStatusCancelled), dataField(t, cancelled, "status"))
}

func TestAdminHandler_Merge_SameQueue(t *testing.T) {
	f := newAdminHandlerFixture(testQueue())

	w := f.do(http.MethodPost, "/merges", `{"source_queue_id":"q1","target_queue_id":"q1"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
