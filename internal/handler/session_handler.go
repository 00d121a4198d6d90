package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/waitroomlab/waitroom/internal/dto"
	"github.com/waitroomlab/waitroom/internal/service"
	"github.com/waitroomlab/waitroom/pkg/response"
)

// SessionHandler exposes the visitor-facing admission API
type SessionHandler struct {
	admission *service.AdmissionService
	sessions  *service.SessionService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(admission *service.AdmissionService, sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{admission: admission, sessions: sessions}
}

// RegisterRoutes registers the visitor routes
func (h *SessionHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/queues/:queueId/join", h.Join)
	r.GET("/queues/:queueId/sessions/:sessionId/position", h.Position)
	r.GET("/sessions/:sessionId", h.Get)
	r.POST("/sessions/:sessionId/heartbeat", h.Heartbeat)
	r.POST("/sessions/:sessionId/complete", h.Complete)
	r.POST("/sessions/:sessionId/leave", h.Leave)
	r.POST("/passes/validate", h.ValidatePass)
}

// Join handles POST /queues/:queueId/join
func (h *SessionHandler) Join(c *gin.Context) {
	var req dto.JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	outcome, err := h.admission.Join(c.Request.Context(), c.Param("queueId"), req.UserID)
	if err != nil {
		handleError(c, err)
		return
	}

	if outcome.AlreadyJoined {
		response.Success(c, dto.FromJoinOutcome(outcome))
		return
	}
	response.Created(c, dto.FromJoinOutcome(outcome))
}

// Position handles GET /queues/:queueId/sessions/:sessionId/position
func (h *SessionHandler) Position(c *gin.Context) {
	outcome, err := h.admission.Position(c.Request.Context(), c.Param("queueId"), c.Param("sessionId"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromPositionOutcome(outcome))
}

// Get handles GET /sessions/:sessionId
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromSession(session))
}

// Heartbeat handles POST /sessions/:sessionId/heartbeat
func (h *SessionHandler) Heartbeat(c *gin.Context) {
	session, err := h.sessions.Heartbeat(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromSession(session))
}

// Complete handles POST /sessions/:sessionId/complete
func (h *SessionHandler) Complete(c *gin.Context) {
	session, err := h.sessions.Complete(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromSession(session))
}

// Leave handles POST /sessions/:sessionId/leave
func (h *SessionHandler) Leave(c *gin.Context) {
	session, err := h.sessions.Leave(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromSession(session))
}

// ValidatePass handles POST /passes/validate
func (h *SessionHandler) ValidatePass(c *gin.Context) {
	var req dto.ValidatePassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	claims, err := h.sessions.ValidatePass(c.Request.Context(), req.Pass)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromPassClaims(claims))
}
