package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/waitroomlab/waitroom/internal/domain"
	"github.com/waitroomlab/waitroom/internal/repository"
	"github.com/waitroomlab/waitroom/internal/service"
	"github.com/waitroomlab/waitroom/pkg/clock"
	"github.com/waitroomlab/waitroom/pkg/logger"
	"github.com/waitroomlab/waitroom/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubQueueRepo serves queue lookups from a fixed map; the embedded
// interface panics on anything the visitor surface never touches.
type stubQueueRepo struct {
	repository.QueueRepository
	queues map[string]*domain.Queue
}

func (s *stubQueueRepo) GetQueue(ctx context.Context, queueID string) (*domain.Queue, error) {
	queue, ok := s.queues[queueID]
	if !ok {
		return nil, domain.ErrQueueNotFound
	}
	return queue, nil
}

type handlerFixture struct {
	router   *gin.Engine
	sessions *repository.MemorySessionRepository
	clk      *clock.Fake
}

func newHandlerFixture(queues ...*domain.Queue) *handlerFixture {
	sessions := repository.NewMemorySessionRepository()
	byID := make(map[string]*domain.Queue, len(queues))
	for _, q := range queues {
		byID[q.ID] = q
	}
	queueRepo := &stubQueueRepo{queues: byID}
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
	sessionSvc := service.NewSessionService(sessions, passes, publisher, clk, 24*time.Hour, logger.Get())

	router := gin.New()
	NewSessionHandler(admission, sessionSvc).RegisterRoutes(router)
	return &handlerFixture{router: router, sessions: sessions, clk: clk}
}

func (f *handlerFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var envelope response.Response
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope
}

func dataField(t *testing.T, w *httptest.ResponseRecorder, field string) interface{} {
	t.Helper()
	envelope := decodeEnvelope(t, w)
	data, ok := envelope.Data.(map[string]interface{})
	assert.True(t, ok, "expected object data, got %T", envelope.Data)
	return data[field]
}

func testQueue() *domain.Queue {
	return &domain.Queue{
		ID: "q1", Name: "Checkout", Capacity: 10, ReleaseRatePerMinute: 60,
		Status: domain.QueueStatusActive,
	}
}

func TestSessionHandler_Join(t *testing.T) {
	f := newHandlerFixture(testQueue())

	w := f.do(http.MethodPost, "/queues/q1/join", `{"user_id":"u1"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	envelope := decodeEnvelope(t, w)
	assert.True(t, envelope.Success)
	assert.Equal(t, float64(1), dataField(t, w, "position"))
	assert.NotEmpty(t, dataField(t, w, "session_id"))
}

func TestSessionHandler_Join_RepeatIsOK(t *testing.T) {
	f := newHandlerFixture(testQueue())

	first := f.do(http.MethodPost, "/queues/q1/join", `{"user_id":"u1"}`)
	assert.Equal(t, http.StatusCreated, first.Code)

	second := f.do(http.MethodPost, "/queues/q1/join", `{"user_id":"u1"}`)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, dataField(t, first, "session_id"), dataField(t, second, "session_id"))
}

func TestSessionHandler_Join_ClosedQueue(t *testing.T) {
	closed := testQueue()
	closed.Status = domain.QueueStatusClosed
	f := newHandlerFixture(closed)

	w := f.do(http.MethodPost, "/queues/q1/join", `{"user_id":"u1"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
	envelope := decodeEnvelope(t, w)
	assert.False(t, envelope.Success)
	assert.Equal(t, "QUEUE_CLOSED", envelope.Error.Code)
}

func TestSessionHandler_Join_MissingUserID(t *testing.T) {
	f := newHandlerFixture(testQueue())

	w := f.do(http.MethodPost, "/queues/q1/join", `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHandler_Join_UnknownQueue(t *testing.T) {
	f := newHandlerFixture(testQueue())

	w := f.do(http.MethodPost, "/queues/missing/join", `{"user_id":"u1"}`)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandler_Position(t *testing.T) {
	f := newHandlerFixture(testQueue())

	for i := 1; i <= 3; i++ {
		f.do(http.MethodPost, "/queues/q1/join", fmt.Sprintf(`{"user_id":"u%d"}`, i))
	}
	joined := f.do(http.MethodPost, "/queues/q1/join", `{"user_id":"u4"}`)
	sessionID := dataField(t, joined, "session_id").(string)

	w := f.do(http.MethodGet, "/queues/q1/sessions/"+sessionID+"/position", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(4), dataField(t, w, "position"))
	assert.Equal(t, float64(4), dataField(t, w, "total_waiting"))
}

func TestSessionHandler_Position_UnknownSession(t *testing.T) {
	f := newHandlerFixture(testQueue())

	w := f.do(http.MethodGet, "/queues/q1/sessions/nope/position", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandler_HeartbeatAndLeave(t *testing.T) {
	f := newHandlerFixture(testQueue())

	joined := f.do(http.MethodPost, "/queues/q1/join", `{"user_id":"u1"}`)
	sessionID := dataField(t, joined, "session_id").(string)

	hb := f.do(http.MethodPost, "/sessions/"+sessionID+"/heartbeat", "")
	assert.Equal(t, http.StatusOK, hb.Code)

	left := f.do(http.MethodPost, "/sessions/"+sessionID+"/leave", "")
	assert.Equal(t, http.StatusOK, left.Code)
	assert.Equal(t, string(domain.SessionStateDropped), dataField(t, left, "state"))
}

func TestSessionHandler_Complete_BeforeRelease(t *testing.T) {
	f := newHandlerFixture(testQueue())

	joined := f.do(http.MethodPost, "/queues/q1/join", `{"user_id":"u1"}`)
	sessionID := dataField(t, joined, "session_id").(string)

	w := f.do(http.MethodPost, "/sessions/"+sessionID+"/complete", "")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_STATE", decodeEnvelope(t, w).Error.Code)
}

func TestSessionHandler_ValidatePass_Invalid(t *testing.T) {
	f := newHandlerFixture(testQueue())

	w := f.do(http.MethodPost, "/passes/validate", `{"pass":"not-a-real-pass"}`)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_ACCESS_PASS", decodeEnvelope(t, w).Error.Code)
}
