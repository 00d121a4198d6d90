package domain

import "time"

// TemplateVisibility controls who can list a queue template
type TemplateVisibility string

const (
	TemplateVisibilityPublic  TemplateVisibility = "public"
	TemplateVisibilityPrivate TemplateVisibility = "private"
)

// QueueTemplate is a reusable preset of queue settings.
// Creating a queue from a template copies its settings and bumps UseCount.
type QueueTemplate struct {
	ID                   string             `json:"id"`
	TenantID             string             `json:"tenant_id"`
	Name                 string             `json:"name"`
	Description          string             `json:"description,omitempty"`
	Capacity             int                `json:"capacity"`
	ReleaseRatePerMinute int                `json:"release_rate_per_minute"`
	WaitingTimeout       time.Duration      `json:"waiting_timeout"`
	ServingTimeout       time.Duration      `json:"serving_timeout"`
	Visibility           TemplateVisibility `json:"visibility"`
	IsActive             bool               `json:"is_active"`
	UseCount             int64              `json:"use_count"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Validate validates the template settings
func (t *QueueTemplate) Validate() error {
	if t.Name == "" {
		return ErrInvalidTemplateName
	}
	if t.Capacity <= 0 {
		return ErrInvalidCapacity
	}
	if t.ReleaseRatePerMinute < 0 {
		return ErrInvalidReleaseRate
	}
	switch t.Visibility {
	case TemplateVisibilityPublic, TemplateVisibilityPrivate:
	default:
		return ErrInvalidTemplateVisibility
	}
	return nil
}

// NewQueueFromTemplate builds a queue carrying the template's settings
func NewQueueFromTemplate(t *QueueTemplate, queueID, name string, now time.Time) *Queue {
	return &Queue{
		ID:                   queueID,
		TenantID:             t.TenantID,
		Name:                 name,
		Capacity:             t.Capacity,
		ReleaseRatePerMinute: t.ReleaseRatePerMinute,
		Status:               QueueStatusActive,
		WaitingTimeout:       t.WaitingTimeout,
		ServingTimeout:       t.ServingTimeout,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}
