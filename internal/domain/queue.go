package domain

import "time"

// QueueStatus is the lifecycle status of a queue
type QueueStatus string

const (
	QueueStatusActive QueueStatus = "active"
	QueueStatusPaused QueueStatus = "paused"
	QueueStatusClosed QueueStatus = "closed"
)

// Default queue settings
const (
	DefaultCapacity       = 100
	DefaultWaitingTimeout = 5 * time.Minute
	DefaultServingTimeout = 10 * time.Minute
)

// Queue is a capacity- and rate-bounded waiting room for one resource.
// Capacity and ReleaseRatePerMinute are read live on every scheduler tick,
// so configuration changes apply without a restart.
type Queue struct {
	ID                   string        `json:"id"`
	TenantID             string        `json:"tenant_id"`
	Name                 string        `json:"name"`
	Capacity             int           `json:"capacity"`
	ReleaseRatePerMinute int           `json:"release_rate_per_minute"` // 0 = manual release only
	Status               QueueStatus   `json:"status"`
	WaitingTimeout       time.Duration `json:"waiting_timeout"`
	ServingTimeout       time.Duration `json:"serving_timeout"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// Validate validates the queue configuration
func (q *Queue) Validate() error {
	if q.ID == "" {
		return ErrInvalidQueueID
	}
	if q.Capacity <= 0 {
		return ErrInvalidCapacity
	}
	if q.ReleaseRatePerMinute < 0 {
		return ErrInvalidReleaseRate
	}
	switch q.Status {
	case QueueStatusActive, QueueStatusPaused, QueueStatusClosed:
	default:
		return ErrInvalidQueueStatus
	}
	return nil
}

// GetWaitingTimeout returns the waiting timeout with default fallback
func (q *Queue) GetWaitingTimeout() time.Duration {
	if q.WaitingTimeout <= 0 {
		return DefaultWaitingTimeout
	}
	return q.WaitingTimeout
}

// GetServingTimeout returns the serving timeout with default fallback
func (q *Queue) GetServingTimeout() time.Duration {
	if q.ServingTimeout <= 0 {
		return DefaultServingTimeout
	}
	return q.ServingTimeout
}

// IsActive reports whether the scheduler should release from this queue
func (q *Queue) IsActive() bool {
	return q.Status == QueueStatusActive
}

// AcceptsJoins reports whether new sessions may join.
// Paused queues accept joins but release nothing; closed queues reject.
func (q *Queue) AcceptsJoins() bool {
	return q.Status != QueueStatusClosed
}

// QueueStats is a live snapshot of one queue's occupancy
type QueueStats struct {
	QueueID      string        `json:"queue_id"`
	WaitingCount int64         `json:"waiting_count"`
	ServingCount int64         `json:"serving_count"`
	OldestWait   time.Duration `json:"oldest_wait_seconds"`
}
