package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/waitroomlab/waitroom/internal/dto"
	"github.com/waitroomlab/waitroom/internal/service"
	"github.com/waitroomlab/waitroom/pkg/response"
)

// AdminHandler exposes the operator control plane: queue lifecycle,
// templates, merges, and stats.
type AdminHandler struct {
	admin *service.QueueAdminService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(admin *service.QueueAdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// RegisterRoutes registers the admin routes
func (h *AdminHandler) RegisterRoutes(r gin.IRouter) {
	queues := r.Group("/queues")
	{
		queues.POST("", h.CreateQueue)
		queues.POST("/from-template", h.CreateQueueFromTemplate)
		queues.GET("", h.ListQueues)
		queues.GET("/:queueId", h.GetQueue)
		queues.PATCH("/:queueId", h.UpdateQueue)
		queues.POST("/:queueId/pause", h.PauseQueue)
		queues.POST("/:queueId/resume", h.ResumeQueue)
		queues.POST("/:queueId/close", h.CloseQueue)
		queues.GET("/:queueId/stats", h.Stats)
		queues.POST("/:queueId/release", h.ReleaseNow)
	}

	templates := r.Group("/templates")
	{
		templates.POST("", h.CreateTemplate)
		templates.GET("", h.ListTemplates)
		templates.GET("/:templateId", h.GetTemplate)
		templates.POST("/:templateId/deactivate", h.DeactivateTemplate)
	}

	merges := r.Group("/merges")
	{
		merges.POST("", h.RequestMerge)
		merges.GET("", h.ListMerges)
		merges.GET("/:mergeId", h.GetMerge)
		merges.POST("/:mergeId/cancel", h.CancelMerge)
	}
}

// CreateQueue handles POST /queues
func (h *AdminHandler) CreateQueue(c *gin.Context) {
	var req dto.CreateQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	queue, err := h.admin.CreateQueue(c.Request.Context(), service.CreateQueueParams{
		TenantID:             req.TenantID,
		Name:                 req.Name,
		Capacity:             req.Capacity,
		ReleaseRatePerMinute: req.ReleaseRatePerMinute,
		WaitingTimeout:       req.WaitingTimeout,
		ServingTimeout:       req.ServingTimeout,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Created(c, dto.FromQueue(queue))
}

// CreateQueueFromTemplate handles POST /queues/from-template
func (h *AdminHandler) CreateQueueFromTemplate(c *gin.Context) {
	var req dto.CreateQueueFromTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	queue, err := h.admin.CreateQueueFromTemplate(c.Request.Context(), req.TemplateID, req.Name)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Created(c, dto.FromQueue(queue))
}

// ListQueues handles GET /queues
func (h *AdminHandler) ListQueues(c *gin.Context) {
	queues, err := h.admin.ListQueues(c.Request.Context(), c.Query("tenant_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromQueues(queues))
}

// GetQueue handles GET /queues/:queueId
func (h *AdminHandler) GetQueue(c *gin.Context) {
	queue, err := h.admin.GetQueue(c.Request.Context(), c.Param("queueId"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromQueue(queue))
}

// UpdateQueue handles PATCH /queues/:queueId
func (h *AdminHandler) UpdateQueue(c *gin.Context) {
	var req dto.UpdateQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	queue, err := h.admin.UpdateQueue(c.Request.Context(), c.Param("queueId"), service.UpdateQueueParams{
		Name:                 req.Name,
		Capacity:             req.Capacity,
		ReleaseRatePerMinute: req.ReleaseRatePerMinute,
		WaitingTimeout:       req.WaitingTimeout,
		ServingTimeout:       req.ServingTimeout,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromQueue(queue))
}

// PauseQueue handles POST /queues/:queueId/pause
func (h *AdminHandler) PauseQueue(c *gin.Context) {
	h.setStatus(c, h.admin.PauseQueue)
}

// ResumeQueue handles POST /queues/:queueId/resume
func (h *AdminHandler) ResumeQueue(c *gin.Context) {
	h.setStatus(c, h.admin.ResumeQueue)
}

// CloseQueue handles POST /queues/:queueId/close
func (h *AdminHandler) CloseQueue(c *gin.Context) {
	h.setStatus(c, h.admin.CloseQueue)
}

func (h *AdminHandler) setStatus(c *gin.Context, op func(ctx context.Context, queueID string) error) {
	queueID := c.Param("queueId")
	if err := op(c.Request.Context(), queueID); err != nil {
		handleError(c, err)
		return
	}
	queue, err := h.admin.GetQueue(c.Request.Context(), queueID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromQueue(queue))
}

// Stats handles GET /queues/:queueId/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.admin.Stats(c.Request.Context(), c.Param("queueId"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromQueueStats(stats))
}

// ReleaseNow handles POST /queues/:queueId/release
func (h *AdminHandler) ReleaseNow(c *gin.Context) {
	queueID := c.Param("queueId")
	released, err := h.admin.ReleaseNow(c.Request.Context(), queueID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, &dto.ReleaseNowResponse{QueueID: queueID, Released: len(released)})
}

// CreateTemplate handles POST /templates
func (h *AdminHandler) CreateTemplate(c *gin.Context) {
	var req dto.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	template, err := h.admin.CreateTemplate(c.Request.Context(), service.CreateTemplateParams{
		TenantID:             req.TenantID,
		Name:                 req.Name,
		Description:          req.Description,
		Capacity:             req.Capacity,
		ReleaseRatePerMinute: req.ReleaseRatePerMinute,
		WaitingTimeout:       req.WaitingTimeout,
		ServingTimeout:       req.ServingTimeout,
		Visibility:           req.Visibility,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Created(c, dto.FromTemplate(template))
}

// ListTemplates handles GET /templates
func (h *AdminHandler) ListTemplates(c *gin.Context) {
	templates, err := h.admin.ListTemplates(c.Request.Context(), c.Query("tenant_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromTemplates(templates))
}

// GetTemplate handles GET /templates/:templateId
func (h *AdminHandler) GetTemplate(c *gin.Context) {
	template, err := h.admin.GetTemplate(c.Request.Context(), c.Param("templateId"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromTemplate(template))
}

// DeactivateTemplate handles POST /templates/:templateId/deactivate
func (h *AdminHandler) DeactivateTemplate(c *gin.Context) {
	template, err := h.admin.DeactivateTemplate(c.Request.Context(), c.Param("templateId"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromTemplate(template))
}

// RequestMerge handles POST /merges
func (h *AdminHandler) RequestMerge(c *gin.Context) {
	var req dto.MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	op, err := h.admin.RequestMerge(c.Request.Context(), req.SourceQueueID, req.TargetQueueID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Created(c, dto.FromMerge(op))
}

// ListMerges handles GET /merges
func (h *AdminHandler) ListMerges(c *gin.Context) {
	ops, err := h.admin.ListMerges(c.Request.Context(), c.Query("queue_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromMerges(ops))
}

// GetMerge handles GET /merges/:mergeId
func (h *AdminHandler) GetMerge(c *gin.Context) {
	op, err := h.admin.GetMerge(c.Request.Context(), c.Param("mergeId"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromMerge(op))
}

// CancelMerge handles POST /merges/:mergeId/cancel
func (h *AdminHandler) CancelMerge(c *gin.Context) {
	mergeID := c.Param("mergeId")
	if err := h.admin.CancelMerge(c.Request.Context(), mergeID); err != nil {
		handleError(c, err)
		return
	}
	op, err := h.admin.GetMerge(c.Request.Context(), mergeID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromMerge(op))
}
