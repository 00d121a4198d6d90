package dto

import (
	"time"

	"github.com/waitroomlab/waitroom/internal/domain"
)

// CreateQueueRequest is the body for creating a queue
type CreateQueueRequest struct {
	TenantID             string `json:"tenant_id"`
	Name                 string `json:"name" binding:"required"`
	Capacity             int    `json:"capacity" binding:"required,gt=0"`
	ReleaseRatePerMinute int    `json:"release_rate_per_minute" binding:"gte=0"`
	WaitingTimeout       int    `json:"waiting_timeout_seconds" binding:"gte=0"`
	ServingTimeout       int    `json:"serving_timeout_seconds" binding:"gte=0"`
}

// CreateQueueFromTemplateRequest creates a queue carrying a template's settings
type CreateQueueFromTemplateRequest struct {
	TemplateID string `json:"template_id" binding:"required"`
	Name       string `json:"name" binding:"required"`
}

// UpdateQueueRequest is the body for updating queue settings.
// Zero-valued fields keep their current setting.
type UpdateQueueRequest struct {
	Name                 string `json:"name"`
	Capacity             int    `json:"capacity" binding:"gte=0"`
	ReleaseRatePerMinute int    `json:"release_rate_per_minute" binding:"gte=-1"`
	WaitingTimeout       int    `json:"waiting_timeout_seconds" binding:"gte=0"`
	ServingTimeout       int    `json:"serving_timeout_seconds" binding:"gte=0"`
}

// QueueResponse is the public view of a queue
type QueueResponse struct {
	ID                   string    `json:"id"`
	TenantID             string    `json:"tenant_id,omitempty"`
	Name                 string    `json:"name"`
	Capacity             int       `json:"capacity"`
	ReleaseRatePerMinute int       `json:"release_rate_per_minute"`
	Status               string    `json:"status"`
	WaitingTimeoutSecs   int64     `json:"waiting_timeout_seconds"`
	ServingTimeoutSecs   int64     `json:"serving_timeout_seconds"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// FromQueue maps a domain queue to its response
func FromQueue(q *domain.Queue) *QueueResponse {
	return &QueueResponse{
		ID:                   q.ID,
		TenantID:             q.TenantID,
		Name:                 q.Name,
		Capacity:             q.Capacity,
		ReleaseRatePerMinute: q.ReleaseRatePerMinute,
		Status:               string(q.Status),
		WaitingTimeoutSecs:   int64(q.GetWaitingTimeout().Seconds()),
		ServingTimeoutSecs:   int64(q.GetServingTimeout().Seconds()),
		CreatedAt:            q.CreatedAt,
		UpdatedAt:            q.UpdatedAt,
	}
}

// FromQueues maps a queue list to responses
func FromQueues(queues []*domain.Queue) []*QueueResponse {
	out := make([]*QueueResponse, 0, len(queues))
	for _, q := range queues {
		out = append(out, FromQueue(q))
	}
	return out
}

// QueueStatsResponse is the live occupancy view of a queue
type QueueStatsResponse struct {
	QueueID          string `json:"queue_id"`
	WaitingCount     int64  `json:"waiting_count"`
	ServingCount     int64  `json:"serving_count"`
	OldestWaitSecs   int64  `json:"oldest_wait_seconds"`
}

// FromQueueStats maps queue stats to their response
func FromQueueStats(s *domain.QueueStats) *QueueStatsResponse {
	return &QueueStatsResponse{
		QueueID:        s.QueueID,
		WaitingCount:   s.WaitingCount,
		ServingCount:   s.ServingCount,
		OldestWaitSecs: int64(s.OldestWait.Seconds()),
	}
}

// CreateTemplateRequest is the body for creating a queue template
type CreateTemplateRequest struct {
	TenantID             string `json:"tenant_id"`
	Name                 string `json:"name" binding:"required"`
	Description          string `json:"description"`
	Capacity             int    `json:"capacity" binding:"required,gt=0"`
	ReleaseRatePerMinute int    `json:"release_rate_per_minute" binding:"gte=0"`
	WaitingTimeout       int    `json:"waiting_timeout_seconds" binding:"gte=0"`
	ServingTimeout       int    `json:"serving_timeout_seconds" binding:"gte=0"`
	Visibility           string `json:"visibility" binding:"omitempty,oneof=public private"`
}

// TemplateResponse is the public view of a queue template
type TemplateResponse struct {
	ID                   string    `json:"id"`
	TenantID             string    `json:"tenant_id,omitempty"`
	Name                 string    `json:"name"`
	Description          string    `json:"description,omitempty"`
	Capacity             int       `json:"capacity"`
	ReleaseRatePerMinute int       `json:"release_rate_per_minute"`
	WaitingTimeoutSecs   int64     `json:"waiting_timeout_seconds"`
	ServingTimeoutSecs   int64     `json:"serving_timeout_seconds"`
	Visibility           string    `json:"visibility"`
	IsActive             bool      `json:"is_active"`
	UseCount             int64     `json:"use_count"`
	CreatedAt            time.Time `json:"created_at"`
}

// FromTemplate maps a domain template to its response
func FromTemplate(t *domain.QueueTemplate) *TemplateResponse {
	return &TemplateResponse{
		ID:                   t.ID,
		TenantID:             t.TenantID,
		Name:                 t.Name,
		Description:          t.Description,
		Capacity:             t.Capacity,
		ReleaseRatePerMinute: t.ReleaseRatePerMinute,
		WaitingTimeoutSecs:   int64(t.WaitingTimeout.Seconds()),
		ServingTimeoutSecs:   int64(t.ServingTimeout.Seconds()),
		Visibility:           string(t.Visibility),
		IsActive:             t.IsActive,
		UseCount:             t.UseCount,
		CreatedAt:            t.CreatedAt,
	}
}

// FromTemplates maps a template list to responses
func FromTemplates(templates []*domain.QueueTemplate) []*TemplateResponse {
	out := make([]*TemplateResponse, 0, len(templates))
	for _, t := range templates {
		out = append(out, FromTemplate(t))
	}
	return out
}

// MergeRequest is the body for requesting a queue merge
type MergeRequest struct {
	SourceQueueID string `json:"source_queue_id" binding:"required"`
	TargetQueueID string `json:"target_queue_id" binding:"required"`
}

// MergeResponse is the public view of a merge operation
type MergeResponse struct {
	ID                string     `json:"id"`
	SourceQueueID     string     `json:"source_queue_id"`
	TargetQueueID     string     `json:"target_queue_id"`
	Status            string     `json:"status"`
	TotalSessions     int64      `json:"total_sessions"`
	MovedSessions     int64      `json:"moved_sessions"`
	DroppedDuplicates int64      `json:"dropped_duplicates"`
	Error             string     `json:"error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

// FromMerge maps a merge operation to its response
func FromMerge(op *domain.MergeOperation) *MergeResponse {
	return &MergeResponse{
		ID:                op.ID,
		SourceQueueID:     op.SourceQueueID,
		TargetQueueID:     op.TargetQueueID,
		Status:            string(op.Status),
		TotalSessions:     op.TotalSessions,
		MovedSessions:     op.MovedSessions,
		DroppedDuplicates: op.DroppedDuplicates,
		Error:             op.Error,
		CreatedAt:         op.CreatedAt,
		StartedAt:         timeOrNil(op.StartedAt),
		FinishedAt:        timeOrNil(op.FinishedAt),
	}
}

// FromMerges maps a merge list to responses
func FromMerges(ops []*domain.MergeOperation) []*MergeResponse {
	out := make([]*MergeResponse, 0, len(ops))
	for _, op := range ops {
		out = append(out, FromMerge(op))
	}
	return out
}

// ReleaseNowResponse reports the result of a manual release batch
type ReleaseNowResponse struct {
	QueueID  string `json:"queue_id"`
	Released int    `json:"released"`
}
