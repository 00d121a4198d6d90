package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/google/uuid"

	"github.com/waitroomlab/waitroom/internal/domain"
	"github.com/waitroomlab/waitroom/pkg/redis"
)

//go:embed scripts/join.lua
var joinScript string

//go:embed scripts/release_batch.lua
var releaseBatchScript string

//go:embed scripts/drop.lua
var dropScript string

//go:embed scripts/complete.lua
var completeScript string

//go:embed scripts/heartbeat.lua
var heartbeatScript string

//go:embed scripts/merge_chunk.lua
var mergeChunkScript string

// RedisSessionRepository implements SessionRepository on Redis. Every
// compound mutation runs as a single Lua script so concurrent callers
// (and multiple process instances) observe each operation atomically.
// All keys share the wr: prefix and live on one logical instance.
type RedisSessionRepository struct {
	client *redis.Client
}

// NewRedisSessionRepository creates a Redis-backed session repository
func NewRedisSessionRepository(client *redis.Client) *RedisSessionRepository {
	return &RedisSessionRepository{client: client}
}

func queueKey(queueID, suffix string) string {
	return "wr:q:" + queueID + ":" + suffix
}

func sessionKey(sessionID string) string {
	return "wr:s:" + sessionID
}

func passKey(queueID, userID string) string {
	return "wr:pass:" + queueID + ":" + userID
}

// storeErr marks transport failures as store unavailability so callers
// can distinguish them from domain errors. Context cancellation passes
// through untouched.
func storeErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

func sessionFromHash(h map[string]string) (*domain.Session, error) {
	if len(h) == 0 {
		return nil, domain.ErrSessionNotFound
	}

	seq, err := strconv.ParseInt(h["seq"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid session seq %q: %w", h["seq"], err)
	}

	s := &domain.Session{
		ID:         h["id"],
		QueueID:    h["queue_id"],
		UserID:     h["user_id"],
		State:      domain.SessionState(h["state"]),
		Seq:        seq,
		DropReason: h["drop_reason"],
	}
	s.JoinedAt = parseMilli(h["joined_at"])
	s.LastHeartbeatAt = parseMilli(h["last_heartbeat_at"])
	s.ServingStartedAt = parseMilli(h["serving_started_at"])
	s.ReleasedAt = parseMilli(h["released_at"])
	s.DroppedAt = parseMilli(h["dropped_at"])
	return s, nil
}

func parseMilli(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Join implements SessionRepository
func (r *RedisSessionRepository) Join(ctx context.Context, params JoinParams) (*JoinResult, error) {
	sessionID := uuid.New().String()
	cmd := r.client.EvalWithFallback(ctx, "join", joinScript, nil,
		params.QueueID,
		params.UserID,
		sessionID,
		params.Now.UnixMilli(),
		params.Retention.Milliseconds(),
	)
	reply, err := cmd.Slice()
	if err != nil {
		return nil, storeErr("join", err)
	}
	if len(reply) < 2 {
		return nil, fmt.Errorf("join: unexpected script reply of length %d", len(reply))
	}

	created, _ := reply[0].(int64)
	resultID, _ := reply[1].(string)

	session, err := r.GetSession(ctx, resultID)
	if err != nil {
		return nil, err
	}
	return &JoinResult{Session: session, Existing: created == 0}, nil
}

// GetSession implements SessionRepository
func (r *RedisSessionRepository) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	h, err := r.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, storeErr("get session", err)
	}
	return sessionFromHash(h)
}

// GetSessionByUser implements SessionRepository
func (r *RedisSessionRepository) GetSessionByUser(ctx context.Context, queueID, userID string) (*domain.Session, error) {
	sid, err := r.client.Get(ctx, "wr:u:"+queueID+":"+userID).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, storeErr("get session by user", err)
	}
	return r.GetSession(ctx, sid)
}

// Position implements SessionRepository
func (r *RedisSessionRepository) Position(ctx context.Context, queueID, sessionID string) (*PositionResult, error) {
	session, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.QueueID != queueID {
		return nil, domain.ErrSessionNotFound
	}

	total, err := r.client.ZCard(ctx, queueKey(queueID, "waiting")).Result()
	if err != nil {
		return nil, storeErr("position", err)
	}

	result := &PositionResult{TotalWaiting: total, State: session.State}
	if session.State != domain.SessionStateWaiting {
		return result, nil
	}

	rank, err := r.client.ZRank(ctx, queueKey(queueID, "waiting"), sessionID).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			// Promoted or dropped between the two reads; report the
			// fresher state on the next poll.
			return result, nil
		}
		return nil, storeErr("position", err)
	}
	result.Position = rank + 1
	return result, nil
}

// Heartbeat implements SessionRepository
func (r *RedisSessionRepository) Heartbeat(ctx context.Context, sessionID string, now time.Time, retention time.Duration) (*domain.Session, error) {
	cmd := r.client.EvalWithFallback(ctx, "heartbeat", heartbeatScript, nil,
		sessionID, now.UnixMilli(), retention.Milliseconds())
	status, err := cmd.Int64()
	if err != nil {
		return nil, storeErr("heartbeat", err)
	}
	if status == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return r.GetSession(ctx, sessionID)
}

// Complete implements SessionRepository
func (r *RedisSessionRepository) Complete(ctx context.Context, sessionID string, now time.Time) (*domain.Session, error) {
	cmd := r.client.EvalWithFallback(ctx, "complete", completeScript, nil,
		sessionID, now.UnixMilli())
	status, err := cmd.Int64()
	if err != nil {
		return nil, storeErr("complete", err)
	}
	switch status {
	case 0:
		return nil, domain.ErrSessionNotFound
	case -1:
		return nil, domain.ErrInvalidStateTransition
	}
	return r.GetSession(ctx, sessionID)
}

// Drop implements SessionRepository
func (r *RedisSessionRepository) Drop(ctx context.Context, sessionID, reason string, now time.Time) (*domain.Session, error) {
	cmd := r.client.EvalWithFallback(ctx, "drop", dropScript, nil,
		sessionID, reason, now.UnixMilli())
	status, err := cmd.Int64()
	if err != nil {
		return nil, storeErr("drop", err)
	}
	switch status {
	case 0:
		return nil, domain.ErrSessionNotFound
	case -1:
		return nil, domain.ErrInvalidStateTransition
	}
	return r.GetSession(ctx, sessionID)
}

// ReleaseBatch implements SessionRepository
func (r *RedisSessionRepository) ReleaseBatch(ctx context.Context, params ReleaseBatchParams) ([]*domain.Session, error) {
	if params.ReleaseRatePerMinute <= 0 {
		// Manual-release queue: never auto-releases, bucket untouched.
		return nil, nil
	}

	cmd := r.client.EvalWithFallback(ctx, "release_batch", releaseBatchScript, nil,
		params.QueueID,
		params.Capacity,
		params.ReleaseRatePerMinute,
		params.Now.UnixMilli(),
	)
	ids, err := cmd.StringSlice()
	if err != nil {
		return nil, storeErr("release batch", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// Fetch released records in one round trip. They are serving now
	// and only the reaper can touch them, so the read is stable.
	pipe := r.client.Client().Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, sid := range ids {
		cmds[i] = pipe.HGetAll(ctx, sessionKey(sid))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, storeErr("release batch", err)
	}

	released := make([]*domain.Session, 0, len(ids))
	for _, c := range cmds {
		session, err := sessionFromHash(c.Val())
		if err != nil {
			continue
		}
		released = append(released, session)
	}
	return released, nil
}

// StaleSessions implements SessionRepository
func (r *RedisSessionRepository) StaleSessions(ctx context.Context, queueID string, state domain.SessionState, cutoff time.Time, limit int) ([]string, error) {
	key := queueKey(queueID, "hb:"+string(state))
	opt := &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	ids, err := r.client.ZRangeByScore(ctx, key, opt).Result()
	if err != nil {
		return nil, storeErr("stale sessions", err)
	}
	return ids, nil
}

// Counts implements SessionRepository
func (r *RedisSessionRepository) Counts(ctx context.Context, queueID string, now time.Time) (*domain.QueueStats, error) {
	waiting, err := r.client.ZCard(ctx, queueKey(queueID, "waiting")).Result()
	if err != nil {
		return nil, storeErr("counts", err)
	}
	serving, err := r.client.SCard(ctx, queueKey(queueID, "serving")).Result()
	if err != nil {
		return nil, storeErr("counts", err)
	}

	stats := &domain.QueueStats{
		QueueID:      queueID,
		WaitingCount: waiting,
		ServingCount: serving,
	}

	oldest, err := r.client.ZRange(ctx, queueKey(queueID, "waiting"), 0, 0).Result()
	if err != nil {
		return nil, storeErr("counts", err)
	}
	if len(oldest) > 0 {
		joined, err := r.client.HGet(ctx, sessionKey(oldest[0]), "joined_at").Result()
		if err == nil {
			stats.OldestWait = now.Sub(parseMilli(joined))
		}
	}
	return stats, nil
}

// MergeChunk implements SessionRepository
func (r *RedisSessionRepository) MergeChunk(ctx context.Context, params MergeChunkParams) (*MergeChunkResult, error) {
	if params.SourceQueueID == params.TargetQueueID {
		return nil, domain.ErrMergeSameQueue
	}

	cmd := r.client.EvalWithFallback(ctx, "merge_chunk", mergeChunkScript, nil,
		params.SourceQueueID,
		params.TargetQueueID,
		params.Limit,
		params.Now.UnixMilli(),
	)
	reply, err := cmd.Slice()
	if err != nil {
		return nil, storeErr("merge chunk", err)
	}
	if len(reply) != 3 {
		return nil, fmt.Errorf("merge chunk: unexpected script reply of length %d", len(reply))
	}

	moved, _ := reply[0].(int64)
	dups, _ := reply[1].(int64)
	remaining, _ := reply[2].(int64)
	return &MergeChunkResult{Moved: moved, DroppedDuplicates: dups, Remaining: remaining}, nil
}

// StoreAccessPass implements SessionRepository
func (r *RedisSessionRepository) StoreAccessPass(ctx context.Context, queueID, userID, pass string, ttl time.Duration) error {
	if err := r.client.Set(ctx, passKey(queueID, userID), pass, ttl).Err(); err != nil {
		return storeErr("store access pass", err)
	}
	return nil
}

// GetAccessPass implements SessionRepository
func (r *RedisSessionRepository) GetAccessPass(ctx context.Context, queueID, userID string) (string, error) {
	pass, err := r.client.Get(ctx, passKey(queueID, userID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", nil
		}
		return "", storeErr("get access pass", err)
	}
	return pass, nil
}

// Ensure RedisSessionRepository implements SessionRepository
var _ SessionRepository = (*RedisSessionRepository)(nil)
