package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/waitroomlab/waitroom/internal/domain"
	"github.com/waitroomlab/waitroom/pkg/response"
)

// handleError maps domain errors to the shared response envelope
func handleError(c *gin.Context, err error) {
	switch {
	case domain.IsValidation(err):
		response.BadRequest(c, err.Error())
	case domain.IsNotFound(err):
		response.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrQueueClosed):
		response.Conflict(c, "QUEUE_CLOSED", err.Error())
	case errors.Is(err, domain.ErrInvalidStateTransition):
		response.Conflict(c, "INVALID_STATE", err.Error())
	case errors.Is(err, domain.ErrTemplateInactive):
		response.Conflict(c, "TEMPLATE_INACTIVE", err.Error())
	case domain.IsConflict(err):
		response.Conflict(c, "CONFLICT", err.Error())
	case errors.Is(err, domain.ErrInvalidAccessPass):
		response.Error(c, http.StatusUnauthorized, "INVALID_ACCESS_PASS", err.Error(), "")
	case domain.IsUnavailable(err):
		response.Unavailable(c, "session store is temporarily unavailable")
	default:
		response.InternalError(c, err)
	}
}
