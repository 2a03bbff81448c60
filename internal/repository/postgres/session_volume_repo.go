package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/bodyback/bodyback-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const volumeColumns = `id, trainer_id, customer_id, period_year, period_month, status,
	session_count, plans, notes, rejection_reason,
	submitted_at, read_at, approved_at, rejected_at,
	created_at, updated_at, deleted_at`

// SessionVolumeRepository implements domain.SessionVolumeRepository using PostgreSQL
type SessionVolumeRepository struct {
	pool *pgxpool.Pool
}

// NewSessionVolumeRepository creates a new SessionVolumeRepository
func NewSessionVolumeRepository(pool *pgxpool.Pool) *SessionVolumeRepository {
	return &SessionVolumeRepository{pool: pool}
}

// Ping verifies the pool can reach the database
func (r *SessionVolumeRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Migrate creates the table and indexes if they do not exist
func (r *SessionVolumeRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply session volume schema: %w", err)
	}
	return nil
}

// Create inserts a new draft. The partial unique index decides duplicates.
func (r *SessionVolumeRepository) Create(ctx context.Context, volume *domain.SessionVolume) (*domain.SessionVolume, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO session_volumes (
			id, trainer_id, customer_id, period_year, period_month, status,
			session_count, plans, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+volumeColumns,
		uuid.New(), volume.TrainerID, volume.CustomerID, volume.Period.Year, volume.Period.Month, string(volume.Status),
		volume.SessionCount, volume.Plans, volume.Notes,
	)
	created, err := scanVolume(row)
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, domain.ErrVolumeConflict
		}
		return nil, fmt.Errorf("insert session volume: %w", err)
	}
	return created, nil
}

// GetByID retrieves a live session volume
func (r *SessionVolumeRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.SessionVolume, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+volumeColumns+` FROM session_volumes WHERE id = $1 AND deleted_at IS NULL`, id)
	v, err := scanVolume(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrVolumeNotFound
		}
		return nil, err
	}
	return v, nil
}

// Find lists live volumes matching filter, newest period first
func (r *SessionVolumeRepository) Find(ctx context.Context, filter domain.VolumeFilter) ([]*domain.SessionVolume, error) {
	where, args := volumeWhere(filter)
	query := `SELECT ` + volumeColumns + ` FROM session_volumes ` + where +
		` ORDER BY period_year DESC, period_month DESC, created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query session volumes: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.SessionVolume, 0)
	for rows.Next() {
		v, err := scanVolume(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

// Count returns the number of live volumes matching filter, ignoring paging
func (r *SessionVolumeRepository) Count(ctx context.Context, filter domain.VolumeFilter) (int, error) {
	where, args := volumeWhere(filter)
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM session_volumes `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count session volumes: %w", err)
	}
	return n, nil
}

// Stats aggregates live volumes matching filter without loading rows
func (r *SessionVolumeRepository) Stats(ctx context.Context, filter domain.VolumeFilter) (*domain.VolumeStats, error) {
	where, args := volumeWhere(filter)
	stats := domain.NewVolumeStats()

	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(session_count), 0)
		FROM session_volumes `+where+`
		GROUP BY status`, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate session volumes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status   string
			records  int
			sessions int64
		)
		if err := rows.Scan(&status, &records, &sessions); err != nil {
			return nil, fmt.Errorf("scan session volume stats: %w", err)
		}
		stats.ByStatus[domain.Status(status)] = records
		stats.Records += records
		stats.TotalSessions += int(sessions)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate session volumes: %w", err)
	}

	err = r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT customer_id), COUNT(DISTINCT trainer_id)
		FROM session_volumes `+where, args...).Scan(&stats.DistinctCustomers, &stats.DistinctTrainers)
	if err != nil {
		return nil, fmt.Errorf("count distinct parties: %w", err)
	}
	return stats, nil
}

// Update writes m in one statement guarded by the expected status
func (r *SessionVolumeRepository) Update(ctx context.Context, id uuid.UUID, expected domain.Status, m domain.VolumeMutation) (*domain.SessionVolume, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE session_volumes SET
			status = $3,
			session_count = $4,
			plans = $5,
			notes = $6,
			rejection_reason = $7,
			submitted_at = $8,
			read_at = $9,
			approved_at = $10,
			rejected_at = $11,
			updated_at = NOW()
		WHERE id = $1 AND status = $2 AND deleted_at IS NULL
		RETURNING `+volumeColumns,
		id, string(expected), string(m.Status), m.Payload.SessionCount, m.Payload.Plans, m.Payload.Notes,
		m.RejectionReason, m.SubmittedAt, m.ReadAt, m.ApprovedAt, m.RejectedAt,
	)
	v, err := scanVolume(row)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update session volume: %w", err)
	}
	if err := r.ensureLive(ctx, id); err != nil {
		return nil, err
	}
	return nil, domain.ErrStaleState
}

// SoftDelete sets deleted_at when the status allows it
func (r *SessionVolumeRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE session_volumes SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL AND status = ANY($2)`,
		id, statusStrings(domain.DeletableStatuses),
	)
	if err != nil {
		return fmt.Errorf("soft delete session volume: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if err := r.ensureLive(ctx, id); err != nil {
		return err
	}
	return domain.ErrVolumeConflict
}

// Restore clears deleted_at unless a live record has taken the key
func (r *SessionVolumeRepository) Restore(ctx context.Context, id uuid.UUID) (*domain.SessionVolume, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE session_volumes SET deleted_at = NULL, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NOT NULL
		RETURNING `+volumeColumns, id)
	v, err := scanVolume(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrVolumeNotFound
		}
		if isPgUniqueViolation(err) {
			return nil, domain.ErrVolumeConflict
		}
		return nil, fmt.Errorf("restore session volume: %w", err)
	}
	return v, nil
}

// ensureLive classifies a zero-row write: ErrVolumeNotFound or nil
func (r *SessionVolumeRepository) ensureLive(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM session_volumes WHERE id = $1 AND deleted_at IS NULL)`, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check session volume: %w", err)
	}
	if !exists {
		return domain.ErrVolumeNotFound
	}
	return nil
}

// volumeWhere builds the WHERE clause shared by Find, Count and Stats
func volumeWhere(f domain.VolumeFilter) (string, []any) {
	conds := []string{"deleted_at IS NULL"}
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.TrainerID != nil {
		add("trainer_id = $%d", *f.TrainerID)
	}
	if f.CustomerID != nil {
		add("customer_id = $%d", *f.CustomerID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.Period != nil {
		add("period_year = $%d", f.Period.Year)
		add("period_month = $%d", f.Period.Month)
	}
	if f.From != nil {
		add("period_year * 100 + period_month >= $%d", periodOrdinal(*f.From))
	}
	if f.To != nil {
		add("period_year * 100 + period_month <= $%d", periodOrdinal(*f.To))
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func periodOrdinal(p domain.PeriodKey) int {
	return p.Year*100 + p.Month
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func scanVolume(row pgx.Row) (*domain.SessionVolume, error) {
	var v domain.SessionVolume
	var status string
	err := row.Scan(
		&v.ID, &v.TrainerID, &v.CustomerID, &v.Period.Year, &v.Period.Month, &status,
		&v.SessionCount, &v.Plans, &v.Notes, &v.RejectionReason,
		&v.SubmittedAt, &v.ReadAt, &v.ApprovedAt, &v.RejectedAt,
		&v.CreatedAt, &v.UpdatedAt, &v.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	v.Status = domain.Status(status)
	return &v, nil
}

func isPgUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// PostgreSQL unique violation error code is 23505
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
