package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/waitroomlab/waitroom/internal/domain"
	"github.com/waitroomlab/waitroom/pkg/database"
)

//go:embed schema.sql
var schemaSQL string

// PostgresQueueRepository implements QueueRepository on PostgreSQL
type PostgresQueueRepository struct {
	db *database.PostgresDB
}

// NewPostgresQueueRepository creates a PostgreSQL-backed queue repository
func NewPostgresQueueRepository(db *database.PostgresDB) *PostgresQueueRepository {
	return &PostgresQueueRepository{db: db}
}

// EnsureSchema creates the control-plane tables if they do not exist
func (r *PostgresQueueRepository) EnsureSchema(ctx context.Context) error {
	if err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

func pgErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pge *pgconn.PgError
	return errors.As(err, &pge) && pge.Code == "23505"
}

// --- Queues ---

const queueColumns = `id, tenant_id, name, capacity, release_rate_per_minute, status,
	waiting_timeout_seconds, serving_timeout_seconds, created_at, updated_at`

func scanQueue(row pgx.Row) (*domain.Queue, error) {
	var q domain.Queue
	var waitingSecs, servingSecs int64
	err := row.Scan(
		&q.ID, &q.TenantID, &q.Name, &q.Capacity, &q.ReleaseRatePerMinute, &q.Status,
		&waitingSecs, &servingSecs, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	q.WaitingTimeout = time.Duration(waitingSecs) * time.Second
	q.ServingTimeout = time.Duration(servingSecs) * time.Second
	return &q, nil
}

// CreateQueue implements QueueRepository
func (r *PostgresQueueRepository) CreateQueue(ctx context.Context, queue *domain.Queue) error {
	query := `
		INSERT INTO queues (id, tenant_id, name, capacity, release_rate_per_minute, status,
			waiting_timeout_seconds, serving_timeout_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	err := r.db.Exec(ctx, query,
		queue.ID, queue.TenantID, queue.Name, queue.Capacity, queue.ReleaseRatePerMinute,
		queue.Status, int64(queue.GetWaitingTimeout().Seconds()), int64(queue.GetServingTimeout().Seconds()),
		queue.CreatedAt, queue.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrQueueAlreadyExists
		}
		return pgErr("create queue", err)
	}
	return nil
}

// GetQueue implements QueueRepository
func (r *PostgresQueueRepository) GetQueue(ctx context.Context, queueID string) (*domain.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues WHERE id = $1`

	queue, err := scanQueue(r.db.QueryRow(ctx, query, queueID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrQueueNotFound
		}
		return nil, pgErr("get queue", err)
	}
	return queue, nil
}

// UpdateQueue implements QueueRepository
func (r *PostgresQueueRepository) UpdateQueue(ctx context.Context, queue *domain.Queue) error {
	query := `
		UPDATE queues
		SET name = $2, capacity = $3, release_rate_per_minute = $4, status = $5,
			waiting_timeout_seconds = $6, serving_timeout_seconds = $7, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Pool().Exec(ctx, query,
		queue.ID, queue.Name, queue.Capacity, queue.ReleaseRatePerMinute, queue.Status,
		int64(queue.GetWaitingTimeout().Seconds()), int64(queue.GetServingTimeout().Seconds()),
	)
	if err != nil {
		return pgErr("update queue", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQueueNotFound
	}
	return nil
}

// SetQueueStatus implements QueueRepository
func (r *PostgresQueueRepository) SetQueueStatus(ctx context.Context, queueID string, status domain.QueueStatus) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE queues SET status = $2, updated_at = now() WHERE id = $1`,
		queueID, status,
	)
	if err != nil {
		return pgErr("set queue status", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQueueNotFound
	}
	return nil
}

// ListQueues implements QueueRepository
func (r *PostgresQueueRepository) ListQueues(ctx context.Context, tenantID string) ([]*domain.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues WHERE ($1 = '' OR tenant_id = $1) ORDER BY created_at`

	rows, err := r.db.Pool().Query(ctx, query, tenantID)
	if err != nil {
		return nil, pgErr("list queues", err)
	}
	defer rows.Close()

	var queues []*domain.Queue
	for rows.Next() {
		queue, err := scanQueue(rows)
		if err != nil {
			return nil, pgErr("list queues", err)
		}
		queues = append(queues, queue)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("list queues", err)
	}
	return queues, nil
}

// ListActiveQueues implements QueueRepository. Paused queues are
// included: they still accept joins and heartbeats, only the release
// flow is held, so workers must keep sweeping them.
func (r *PostgresQueueRepository) ListActiveQueues(ctx context.Context) ([]*domain.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues WHERE status IN ('active', 'paused') ORDER BY created_at`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, pgErr("list active queues", err)
	}
	defer rows.Close()

	var queues []*domain.Queue
	for rows.Next() {
		queue, err := scanQueue(rows)
		if err != nil {
			return nil, pgErr("list active queues", err)
		}
		queues = append(queues, queue)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("list active queues", err)
	}
	return queues, nil
}

// --- Templates ---

const templateColumns = `id, tenant_id, name, description, capacity, release_rate_per_minute,
	waiting_timeout_seconds, serving_timeout_seconds, visibility, is_active, use_count,
	created_at, updated_at`

func scanTemplate(row pgx.Row) (*domain.QueueTemplate, error) {
	var t domain.QueueTemplate
	var waitingSecs, servingSecs int64
	err := row.Scan(
		&t.ID, &t.TenantID, &t.Name, &t.Description, &t.Capacity, &t.ReleaseRatePerMinute,
		&waitingSecs, &servingSecs, &t.Visibility, &t.IsActive, &t.UseCount,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.WaitingTimeout = time.Duration(waitingSecs) * time.Second
	t.ServingTimeout = time.Duration(servingSecs) * time.Second
	return &t, nil
}

// CreateTemplate implements QueueRepository
func (r *PostgresQueueRepository) CreateTemplate(ctx context.Context, template *domain.QueueTemplate) error {
	query := `
		INSERT INTO queue_templates (id, tenant_id, name, description, capacity, release_rate_per_minute,
			waiting_timeout_seconds, serving_timeout_seconds, visibility, is_active, use_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	err := r.db.Exec(ctx, query,
		template.ID, template.TenantID, template.Name, template.Description,
		template.Capacity, template.ReleaseRatePerMinute,
		int64(template.WaitingTimeout.Seconds()), int64(template.ServingTimeout.Seconds()),
		template.Visibility, template.IsActive, template.UseCount,
		template.CreatedAt, template.UpdatedAt,
	)
	if err != nil {
		return pgErr("create template", err)
	}
	return nil
}

// GetTemplate implements QueueRepository
func (r *PostgresQueueRepository) GetTemplate(ctx context.Context, templateID string) (*domain.QueueTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM queue_templates WHERE id = $1`

	template, err := scanTemplate(r.db.QueryRow(ctx, query, templateID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTemplateNotFound
		}
		return nil, pgErr("get template", err)
	}
	return template, nil
}

// UpdateTemplate implements QueueRepository
func (r *PostgresQueueRepository) UpdateTemplate(ctx context.Context, template *domain.QueueTemplate) error {
	query := `
		UPDATE queue_templates
		SET name = $2, description = $3, capacity = $4, release_rate_per_minute = $5,
			waiting_timeout_seconds = $6, serving_timeout_seconds = $7, visibility = $8,
			is_active = $9, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Pool().Exec(ctx, query,
		template.ID, template.Name, template.Description, template.Capacity, template.ReleaseRatePerMinute,
		int64(template.WaitingTimeout.Seconds()), int64(template.ServingTimeout.Seconds()),
		template.Visibility, template.IsActive,
	)
	if err != nil {
		return pgErr("update template", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTemplateNotFound
	}
	return nil
}

// ListTemplates implements QueueRepository. Private templates of other
// tenants are filtered out.
func (r *PostgresQueueRepository) ListTemplates(ctx context.Context, tenantID string) ([]*domain.QueueTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM queue_templates
		WHERE visibility = 'public' OR tenant_id = $1
		ORDER BY use_count DESC, created_at`

	rows, err := r.db.Pool().Query(ctx, query, tenantID)
	if err != nil {
		return nil, pgErr("list templates", err)
	}
	defer rows.Close()

	var templates []*domain.QueueTemplate
	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, pgErr("list templates", err)
		}
		templates = append(templates, template)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("list templates", err)
	}
	return templates, nil
}

// IncrementTemplateUseCount implements QueueRepository
func (r *PostgresQueueRepository) IncrementTemplateUseCount(ctx context.Context, templateID string) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE queue_templates SET use_count = use_count + 1, updated_at = now() WHERE id = $1`,
		templateID,
	)
	if err != nil {
		return pgErr("increment template use count", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTemplateNotFound
	}
	return nil
}

// --- Merge operations ---

const mergeColumns = `id, source_queue_id, target_queue_id, status, total_sessions,
	moved_sessions, dropped_duplicates, error, created_at, started_at, finished_at`

func scanMerge(row pgx.Row) (*domain.MergeOperation, error) {
	var op domain.MergeOperation
	var startedAt, finishedAt *time.Time
	err := row.Scan(
		&op.ID, &op.SourceQueueID, &op.TargetQueueID, &op.Status, &op.TotalSessions,
		&op.MovedSessions, &op.DroppedDuplicates, &op.Error, &op.CreatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	if startedAt != nil {
		op.StartedAt = *startedAt
	}
	if finishedAt != nil {
		op.FinishedAt = *finishedAt
	}
	return &op, nil
}

// CreateMerge implements QueueRepository. A queue can participate in at
// most one non-final merge at a time.
func (r *PostgresQueueRepository) CreateMerge(ctx context.Context, op *domain.MergeOperation) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return pgErr("create merge", err)
	}
	defer tx.Rollback(ctx)

	var conflicts int
	err = tx.QueryRow(ctx, `
		SELECT count(*) FROM merge_operations
		WHERE status IN ('pending', 'running')
		  AND (source_queue_id IN ($1, $2) OR target_queue_id IN ($1, $2))`,
		op.SourceQueueID, op.TargetQueueID,
	).Scan(&conflicts)
	if err != nil {
		return pgErr("create merge", err)
	}
	if conflicts > 0 {
		return domain.ErrMergeConflict
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO merge_operations (id, source_queue_id, target_queue_id, status,
			total_sessions, moved_sessions, dropped_duplicates, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		op.ID, op.SourceQueueID, op.TargetQueueID, op.Status,
		op.TotalSessions, op.MovedSessions, op.DroppedDuplicates, op.Error, op.CreatedAt,
	)
	if err != nil {
		return pgErr("create merge", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return pgErr("create merge", err)
	}
	return nil
}

// GetMerge implements QueueRepository
func (r *PostgresQueueRepository) GetMerge(ctx context.Context, mergeID string) (*domain.MergeOperation, error) {
	query := `SELECT ` + mergeColumns + ` FROM merge_operations WHERE id = $1`

	op, err := scanMerge(r.db.QueryRow(ctx, query, mergeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMergeNotFound
		}
		return nil, pgErr("get merge", err)
	}
	return op, nil
}

// ListMerges implements QueueRepository
func (r *PostgresQueueRepository) ListMerges(ctx context.Context, queueID string) ([]*domain.MergeOperation, error) {
	query := `SELECT ` + mergeColumns + ` FROM merge_operations
		WHERE $1 = '' OR source_queue_id = $1 OR target_queue_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Pool().Query(ctx, query, queueID)
	if err != nil {
		return nil, pgErr("list merges", err)
	}
	defer rows.Close()

	var ops []*domain.MergeOperation
	for rows.Next() {
		op, err := scanMerge(rows)
		if err != nil {
			return nil, pgErr("list merges", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("list merges", err)
	}
	return ops, nil
}

// ClaimPendingMerge implements QueueRepository. SKIP LOCKED lets
// multiple worker instances poll without fighting over the same row.
func (r *PostgresQueueRepository) ClaimPendingMerge(ctx context.Context) (*domain.MergeOperation, error) {
	query := `
		UPDATE merge_operations
		SET status = 'running', started_at = now()
		WHERE id = (
			SELECT id FROM merge_operations
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + mergeColumns

	op, err := scanMerge(r.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, pgErr("claim pending merge", err)
	}
	return op, nil
}

// UpdateMergeProgress implements QueueRepository
func (r *PostgresQueueRepository) UpdateMergeProgress(ctx context.Context, mergeID string, moved, droppedDuplicates int64) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE merge_operations
		SET moved_sessions = moved_sessions + $2,
		    dropped_duplicates = dropped_duplicates + $3
		WHERE id = $1`,
		mergeID, moved, droppedDuplicates,
	)
	if err != nil {
		return pgErr("update merge progress", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMergeNotFound
	}
	return nil
}

// FinishMerge implements QueueRepository. Only a running merge can be
// finished, so a concurrent cancel is never overwritten.
func (r *PostgresQueueRepository) FinishMerge(ctx context.Context, mergeID string, status domain.MergeStatus, errMsg string) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE merge_operations
		SET status = $2, error = $3, finished_at = now()
		WHERE id = $1 AND status = 'running'`,
		mergeID, status, errMsg,
	)
	if err != nil {
		return pgErr("finish merge", err)
	}
	if tag.RowsAffected() == 0 {
		op, getErr := r.GetMerge(ctx, mergeID)
		if getErr != nil {
			return getErr
		}
		if op.Status.IsFinal() {
			return nil
		}
		return domain.ErrMergeNotFound
	}
	return nil
}

// CancelMerge implements QueueRepository
func (r *PostgresQueueRepository) CancelMerge(ctx context.Context, mergeID string) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE merge_operations
		SET status = 'cancelled', finished_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')`,
		mergeID,
	)
	if err != nil {
		return pgErr("cancel merge", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetMerge(ctx, mergeID); getErr != nil {
			return getErr
		}
		return domain.ErrMergeNotCancellable
	}
	return nil
}

// Ensure PostgresQueueRepository implements QueueRepository
var _ QueueRepository = (*PostgresQueueRepository)(nil)
