package repository

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waitroomlab/waitroom/internal/domain"
)

// fenwick is a binary indexed tree over sequence numbers, holding one bit
// per seq that is currently waiting. Prefix sums give a session's derived
// position in O(log n) without ever renumbering. Capacity is a power of
// two so every update path stays inside the tree; growth doubles the
// capacity and rebuilds from the raw bits, because nodes appended after
// an update would otherwise miss the increments below them.
type fenwick struct {
	bits []int64
	tree []int64
}

func (f *fenwick) ensure(i int64) {
	if i < int64(len(f.tree)) {
		return
	}
	size := int64(len(f.tree))
	if size < 2 {
		size = 2
	}
	for size <= i {
		size *= 2
	}
	f.bits = append(f.bits, make([]int64, size-int64(len(f.bits)))...)
	f.tree = make([]int64, size)
	copy(f.tree, f.bits)
	for j := int64(1); j < size; j++ {
		if p := j + j&(-j); p < size {
			f.tree[p] += f.tree[j]
		}
	}
}

func (f *fenwick) add(i, delta int64) {
	f.ensure(i)
	f.bits[i] += delta
	for ; i < int64(len(f.tree)); i += i & (-i) {
		f.tree[i] += delta
	}
}

func (f *fenwick) prefix(i int64) int64 {
	if i >= int64(len(f.tree)) {
		i = int64(len(f.tree)) - 1
	}
	var sum int64
	for ; i > 0; i -= i & (-i) {
		sum += f.tree[i]
	}
	return sum
}

// memQueue holds one queue's ordering state. order is an append-only log
// of sequence numbers; removals tombstone an entry by deleting it from
// bySeq, and head skips tombstones on the next pop.
type memQueue struct {
	mu sync.Mutex

	seq          int64
	order        []int64
	head         int
	bySeq        map[int64]string
	waiting      fenwick
	waitingCount int64
	serving      map[string]struct{}

	// token bucket, refilled lazily on each release batch
	tokens     float64
	lastRefill time.Time
	bucketInit bool
}

type passEntry struct {
	pass      string
	expiresAt time.Time
}

// MemorySessionRepository is an in-process SessionRepository with the same
// semantics as the Redis implementation. Compound operations hold the
// per-queue mutex end to end, which is the in-memory equivalent of the
// Redis scripts' atomicity. Session values are stored immutably: every
// mutation replaces the record with an updated copy.
type MemorySessionRepository struct {
	mu        sync.RWMutex
	sessions  map[string]*domain.Session
	userIndex map[string]string // queueID + "\x00" + userID -> sessionID
	queues    map[string]*memQueue
	passes    map[string]passEntry
}

// NewMemorySessionRepository creates an empty in-memory session store
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions:  make(map[string]*domain.Session),
		userIndex: make(map[string]string),
		queues:    make(map[string]*memQueue),
		passes:    make(map[string]passEntry),
	}
}

func userKey(queueID, userID string) string {
	return queueID + "\x00" + userID
}

func (r *MemorySessionRepository) queue(queueID string) *memQueue {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[queueID]
	if !ok {
		q = &memQueue{
			bySeq:   make(map[int64]string),
			serving: make(map[string]struct{}),
		}
		r.queues[queueID] = q
	}
	return q
}

func (r *MemorySessionRepository) getSession(sessionID string) (*domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

func (r *MemorySessionRepository) putSession(s *domain.Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

func copySession(s *domain.Session) *domain.Session {
	c := *s
	return &c
}

// Join implements SessionRepository
func (r *MemorySessionRepository) Join(ctx context.Context, params JoinParams) (*JoinResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := r.queue(params.QueueID)
	q.mu.Lock()
	defer q.mu.Unlock()

	key := userKey(params.QueueID, params.UserID)

	r.mu.RLock()
	sid, exists := r.userIndex[key]
	var existing *domain.Session
	if exists {
		existing = r.sessions[sid]
	}
	r.mu.RUnlock()

	if exists && existing != nil && !existing.State.IsTerminal() {
		return &JoinResult{Session: copySession(existing), Existing: true}, nil
	}

	q.seq++
	seq := q.seq
	session := &domain.Session{
		ID:              uuid.New().String(),
		QueueID:         params.QueueID,
		UserID:          params.UserID,
		State:           domain.SessionStateWaiting,
		Seq:             seq,
		JoinedAt:        params.Now,
		LastHeartbeatAt: params.Now,
	}

	q.order = append(q.order, seq)
	q.bySeq[seq] = session.ID
	q.waiting.add(seq, 1)
	q.waitingCount++

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.userIndex[key] = session.ID
	r.mu.Unlock()

	return &JoinResult{Session: copySession(session)}, nil
}

// GetSession implements SessionRepository
func (r *MemorySessionRepository) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, ok := r.getSession(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return copySession(s), nil
}

// GetSessionByUser implements SessionRepository
func (r *MemorySessionRepository) GetSessionByUser(ctx context.Context, queueID, userID string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.userIndex[userKey(queueID, userID)]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	s, ok := r.sessions[sid]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return copySession(s), nil
}

// Position implements SessionRepository
func (r *MemorySessionRepository) Position(ctx context.Context, queueID, sessionID string) (*PositionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := r.queue(queueID)
	q.mu.Lock()
	defer q.mu.Unlock()

	s, ok := r.getSession(sessionID)
	if !ok || s.QueueID != queueID {
		return nil, domain.ErrSessionNotFound
	}

	result := &PositionResult{TotalWaiting: q.waitingCount, State: s.State}
	if s.State == domain.SessionStateWaiting {
		result.Position = q.waiting.prefix(s.Seq)
	}
	return result, nil
}

// Heartbeat implements SessionRepository
func (r *MemorySessionRepository) Heartbeat(ctx context.Context, sessionID string, now time.Time, _ time.Duration) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s, ok := r.getSession(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	q := r.queue(s.QueueID)
	q.mu.Lock()
	defer q.mu.Unlock()

	s, _ = r.getSession(sessionID)
	if s.State.IsTerminal() {
		return copySession(s), nil
	}

	updated := copySession(s)
	updated.LastHeartbeatAt = now
	r.putSession(updated)
	return copySession(updated), nil
}

// Complete implements SessionRepository
func (r *MemorySessionRepository) Complete(ctx context.Context, sessionID string, now time.Time) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s, ok := r.getSession(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	q := r.queue(s.QueueID)
	q.mu.Lock()
	defer q.mu.Unlock()

	s, _ = r.getSession(sessionID)
	updated := copySession(s)
	if err := updated.Transition(domain.SessionStateReleased, now); err != nil {
		return nil, err
	}

	delete(q.serving, sessionID)

	r.mu.Lock()
	r.sessions[sessionID] = updated
	delete(r.userIndex, userKey(s.QueueID, s.UserID))
	r.mu.Unlock()

	return copySession(updated), nil
}

// Drop implements SessionRepository
func (r *MemorySessionRepository) Drop(ctx context.Context, sessionID, reason string, now time.Time) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s, ok := r.getSession(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	q := r.queue(s.QueueID)
	q.mu.Lock()
	defer q.mu.Unlock()

	s, _ = r.getSession(sessionID)
	updated := copySession(s)
	if err := updated.Transition(domain.SessionStateDropped, now); err != nil {
		return nil, err
	}
	updated.DropReason = reason

	switch s.State {
	case domain.SessionStateWaiting:
		q.removeWaiting(s.Seq)
	case domain.SessionStateServing:
		delete(q.serving, sessionID)
	}

	r.mu.Lock()
	r.sessions[sessionID] = updated
	delete(r.userIndex, userKey(s.QueueID, s.UserID))
	r.mu.Unlock()

	return copySession(updated), nil
}

func (q *memQueue) removeWaiting(seq int64) {
	if _, ok := q.bySeq[seq]; !ok {
		return
	}
	delete(q.bySeq, seq)
	q.waiting.add(seq, -1)
	q.waitingCount--
}

// popOldest removes and returns up to n oldest waiting session ids.
// Caller holds q.mu.
func (q *memQueue) popOldest(n int) []string {
	ids := make([]string, 0, n)
	for len(ids) < n && q.head < len(q.order) {
		seq := q.order[q.head]
		sid, ok := q.bySeq[seq]
		if !ok {
			q.head++
			continue
		}
		q.removeWaiting(seq)
		q.head++
		ids = append(ids, sid)
	}
	return ids
}

// refillBucket applies lazy token accrual. Caller holds q.mu.
// A fresh bucket starts empty so a new queue releases at the configured
// rate instead of bursting a full minute's worth at once.
func (q *memQueue) refillBucket(rate int, now time.Time) {
	if !q.bucketInit {
		q.tokens = 0
		q.lastRefill = now
		q.bucketInit = true
		return
	}
	elapsed := now.Sub(q.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	q.tokens = math.Min(float64(rate), q.tokens+elapsed*float64(rate)/60.0)
	q.lastRefill = now
}

// ReleaseBatch implements SessionRepository
func (r *MemorySessionRepository) ReleaseBatch(ctx context.Context, params ReleaseBatchParams) ([]*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if params.ReleaseRatePerMinute <= 0 {
		// Manual-release queue: never auto-releases, bucket untouched.
		return nil, nil
	}

	q := r.queue(params.QueueID)
	q.mu.Lock()
	defer q.mu.Unlock()

	q.refillBucket(params.ReleaseRatePerMinute, params.Now)

	free := int64(params.Capacity) - int64(len(q.serving))
	n := free
	if t := int64(math.Floor(q.tokens)); t < n {
		n = t
	}
	if q.waitingCount < n {
		n = q.waitingCount
	}
	if n <= 0 {
		return nil, nil
	}

	q.tokens -= float64(n)
	ids := q.popOldest(int(n))

	released := make([]*domain.Session, 0, len(ids))
	r.mu.Lock()
	for _, sid := range ids {
		s := r.sessions[sid]
		updated := copySession(s)
		if err := updated.Transition(domain.SessionStateServing, params.Now); err != nil {
			// Cannot happen: the session was just popped from waiting.
			continue
		}
		r.sessions[sid] = updated
		q.serving[sid] = struct{}{}
		released = append(released, copySession(updated))
	}
	r.mu.Unlock()

	return released, nil
}

// StaleSessions implements SessionRepository
func (r *MemorySessionRepository) StaleSessions(ctx context.Context, queueID string, state domain.SessionState, cutoff time.Time, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := r.queue(queueID)
	q.mu.Lock()
	defer q.mu.Unlock()

	var candidates []string
	r.mu.RLock()
	switch state {
	case domain.SessionStateWaiting:
		for i := q.head; i < len(q.order); i++ {
			if sid, ok := q.bySeq[q.order[i]]; ok {
				candidates = append(candidates, sid)
			}
		}
	case domain.SessionStateServing:
		for sid := range q.serving {
			candidates = append(candidates, sid)
		}
	}

	stale := candidates[:0]
	for _, sid := range candidates {
		if s, ok := r.sessions[sid]; ok && s.LastHeartbeatAt.Before(cutoff) {
			stale = append(stale, sid)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return r.sessions[stale[i]].LastHeartbeatAt.Before(r.sessions[stale[j]].LastHeartbeatAt)
	})
	r.mu.RUnlock()

	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// Counts implements SessionRepository
func (r *MemorySessionRepository) Counts(ctx context.Context, queueID string, now time.Time) (*domain.QueueStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := r.queue(queueID)
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := &domain.QueueStats{
		QueueID:      queueID,
		WaitingCount: q.waitingCount,
		ServingCount: int64(len(q.serving)),
	}

	for i := q.head; i < len(q.order); i++ {
		if sid, ok := q.bySeq[q.order[i]]; ok {
			r.mu.RLock()
			if s, found := r.sessions[sid]; found {
				stats.OldestWait = now.Sub(s.JoinedAt)
			}
			r.mu.RUnlock()
			break
		}
	}
	return stats, nil
}

// MergeChunk implements SessionRepository
func (r *MemorySessionRepository) MergeChunk(ctx context.Context, params MergeChunkParams) (*MergeChunkResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if params.SourceQueueID == params.TargetQueueID {
		return nil, domain.ErrMergeSameQueue
	}

	sq := r.queue(params.SourceQueueID)
	tq := r.queue(params.TargetQueueID)

	// Lock both queues in a stable order to avoid deadlock.
	first, second := sq, tq
	if params.TargetQueueID < params.SourceQueueID {
		first, second = tq, sq
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	ids := sq.popOldest(params.Limit)
	result := &MergeChunkResult{}

	r.mu.Lock()
	for _, sid := range ids {
		s := r.sessions[sid]
		sourceKey := userKey(params.SourceQueueID, s.UserID)
		targetKey := userKey(params.TargetQueueID, s.UserID)

		if existingID, ok := r.userIndex[targetKey]; ok {
			if existing := r.sessions[existingID]; existing != nil && !existing.State.IsTerminal() {
				dropped := copySession(s)
				if err := dropped.Transition(domain.SessionStateDropped, params.Now); err == nil {
					dropped.DropReason = domain.DropReasonMergedDuplicate
					r.sessions[sid] = dropped
				}
				delete(r.userIndex, sourceKey)
				result.DroppedDuplicates++
				continue
			}
		}

		tq.seq++
		moved := copySession(s)
		moved.QueueID = params.TargetQueueID
		moved.Seq = tq.seq

		tq.order = append(tq.order, tq.seq)
		tq.bySeq[tq.seq] = sid
		tq.waiting.add(tq.seq, 1)
		tq.waitingCount++

		r.sessions[sid] = moved
		delete(r.userIndex, sourceKey)
		r.userIndex[targetKey] = sid
		result.Moved++
	}
	r.mu.Unlock()

	result.Remaining = sq.waitingCount
	return result, nil
}

// StoreAccessPass implements SessionRepository
func (r *MemorySessionRepository) StoreAccessPass(ctx context.Context, queueID, userID, pass string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.passes[userKey(queueID, userID)] = passEntry{pass: pass, expiresAt: time.Now().Add(ttl)}
	r.mu.Unlock()
	return nil
}

// GetAccessPass implements SessionRepository
func (r *MemorySessionRepository) GetAccessPass(ctx context.Context, queueID, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.RLock()
	entry, ok := r.passes[userKey(queueID, userID)]
	r.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return "", nil
	}
	return entry.pass, nil
}

// Ensure MemorySessionRepository implements SessionRepository
var _ SessionRepository = (*MemorySessionRepository)(nil)
