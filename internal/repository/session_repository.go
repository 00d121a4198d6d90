package repository

import (
	"context"
	"time"

	"github.com/waitroomlab/waitroom/internal/domain"
)

// JoinParams contains parameters for joining a queue
type JoinParams struct {
	QueueID string
	UserID  string
	Now     time.Time
	// Retention bounds how long session records linger after writes;
	// it stands in for the external retention/cleanup policy.
	Retention time.Duration
}

// JoinResult is the outcome of a join. Existing is true when the user
// already held a non-terminal session and the join resolved idempotently.
type JoinResult struct {
	Session  *domain.Session
	Existing bool
}

// ReleaseBatchParams carries the live queue configuration into one atomic
// release step. Capacity and rate are passed per call so configuration
// changes apply on the next tick.
type ReleaseBatchParams struct {
	QueueID              string
	Capacity             int
	ReleaseRatePerMinute int
	Now                  time.Time
}

// PositionResult reports a session's derived rank among waiting sessions
type PositionResult struct {
	Position     int64 // 1-based among waiting; 0 when not waiting
	TotalWaiting int64
	State        domain.SessionState
}

// MergeChunkParams moves up to Limit oldest waiting sessions from the
// source queue to the tail of the target queue.
type MergeChunkParams struct {
	SourceQueueID string
	TargetQueueID string
	Limit         int
	Now           time.Time
}

// MergeChunkResult reports one chunk's progress
type MergeChunkResult struct {
	Moved             int64
	DroppedDuplicates int64
	Remaining         int64
}

// SessionRepository is the shared session store: session records, the
// per-queue position index, the serving set, and the release token bucket.
// Every compound mutation (join, release batch, drop, merge chunk) is
// atomic per queue — in Redis each runs as a single Lua script, which is
// what makes multiple engine instances safe without distributed locks.
type SessionRepository interface {
	// Join creates a waiting session with the next sequence number, or
	// returns the user's existing non-terminal session (idempotent).
	Join(ctx context.Context, params JoinParams) (*JoinResult, error)

	// GetSession returns a session by id
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// GetSessionByUser returns the user's current non-terminal session
	GetSessionByUser(ctx context.Context, queueID, userID string) (*domain.Session, error)

	// Position returns the session's 1-based rank among waiting sessions
	Position(ctx context.Context, queueID, sessionID string) (*PositionResult, error)

	// Heartbeat updates last_heartbeat_at and re-arms the retention TTL
	// on the session record; no-op on terminal sessions
	Heartbeat(ctx context.Context, sessionID string, now time.Time, retention time.Duration) (*domain.Session, error)

	// Complete transitions serving -> released, freeing capacity
	Complete(ctx context.Context, sessionID string, now time.Time) (*domain.Session, error)

	// Drop transitions waiting/serving -> dropped with a reason.
	// Returns ErrInvalidStateTransition when the session is already terminal.
	Drop(ctx context.Context, sessionID, reason string, now time.Time) (*domain.Session, error)

	// ReleaseBatch atomically refills the token bucket, computes
	// min(freeCapacity, floor(tokens), waiting), pops that many oldest
	// waiting sessions, and transitions them to serving.
	ReleaseBatch(ctx context.Context, params ReleaseBatchParams) ([]*domain.Session, error)

	// StaleSessions returns up to limit session ids in the given state
	// whose last heartbeat is older than cutoff, oldest first.
	StaleSessions(ctx context.Context, queueID string, state domain.SessionState, cutoff time.Time, limit int) ([]string, error)

	// Counts returns a live occupancy snapshot for a queue; OldestWait
	// is measured against the caller's now
	Counts(ctx context.Context, queueID string, now time.Time) (*domain.QueueStats, error)

	// MergeChunk atomically moves one chunk of waiting sessions between queues
	MergeChunk(ctx context.Context, params MergeChunkParams) (*MergeChunkResult, error)

	// StoreAccessPass stores the server-side copy of a released session's pass
	StoreAccessPass(ctx context.Context, queueID, userID, pass string, ttl time.Duration) error

	// GetAccessPass returns the stored pass, or "" when absent/expired
	GetAccessPass(ctx context.Context, queueID, userID string) (string, error)
}
