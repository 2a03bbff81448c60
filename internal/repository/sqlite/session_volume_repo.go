package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bodyback/bodyback-backend/internal/domain"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schemaSQL string

// Fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const volumeColumns = `id, trainer_id, customer_id, period_year, period_month, status,
	session_count, plans, notes, rejection_reason,
	submitted_at, read_at, approved_at, rejected_at,
	created_at, updated_at, deleted_at`

// SessionVolumeRepository implements domain.SessionVolumeRepository on SQLite
type SessionVolumeRepository struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*SessionVolumeRepository, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply session volume schema: %w", err)
	}
	return &SessionVolumeRepository{db: db, now: time.Now}, nil
}

// Close releases the database
func (r *SessionVolumeRepository) Close() error {
	return r.db.Close()
}

// Ping checks the database is reachable
func (r *SessionVolumeRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Create inserts a new draft. The partial unique index decides duplicates.
func (r *SessionVolumeRepository) Create(ctx context.Context, volume *domain.SessionVolume) (*domain.SessionVolume, error) {
	now := formatTime(r.now())
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO session_volumes (
			id, trainer_id, customer_id, period_year, period_month, status,
			session_count, plans, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+volumeColumns,
		uuid.NewString(), volume.TrainerID.String(), volume.CustomerID.String(),
		volume.Period.Year, volume.Period.Month, string(volume.Status),
		volume.SessionCount, nullString(volume.Plans), nullString(volume.Notes), now, now,
	)
	created, err := scanVolume(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrVolumeConflict
		}
		return nil, fmt.Errorf("insert session volume: %w", err)
	}
	return created, nil
}

// GetByID retrieves a live session volume
func (r *SessionVolumeRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.SessionVolume, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+volumeColumns+` FROM session_volumes WHERE id = ? AND deleted_at IS NULL`, id.String())
	v, err := scanVolume(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query session volumes: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_volumes `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count session volumes: %w", err)
	}
	return n, nil
}

// Stats aggregates live volumes matching filter without loading rows
func (r *SessionVolumeRepository) Stats(ctx context.Context, filter domain.VolumeFilter) (*domain.VolumeStats, error) {
	where, args := volumeWhere(filter)
	stats := domain.NewVolumeStats()

	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(session_count), 0)
		FROM session_volumes `+where+`
		GROUP BY status`, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate session volumes: %w", err)
	}
	defer func() { _ = rows.Close() }()
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

	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT customer_id), COUNT(DISTINCT trainer_id)
		FROM session_volumes `+where, args...).Scan(&stats.DistinctCustomers, &stats.DistinctTrainers)
	if err != nil {
		return nil, fmt.Errorf("count distinct parties: %w", err)
	}
	return stats, nil
}

// Update writes m in one statement guarded by the expected status
func (r *SessionVolumeRepository) Update(ctx context.Context, id uuid.UUID, expected domain.Status, m domain.VolumeMutation) (*domain.SessionVolume, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE session_volumes SET
			status = ?,
			session_count = ?,
			plans = ?,
			notes = ?,
			rejection_reason = ?,
			submitted_at = ?,
			read_at = ?,
			approved_at = ?,
			rejected_at = ?,
			updated_at = ?
		WHERE id = ? AND status = ? AND deleted_at IS NULL
		RETURNING `+volumeColumns,
		string(m.Status), m.Payload.SessionCount, nullString(m.Payload.Plans), nullString(m.Payload.Notes),
		nullString(m.RejectionReason), nullTime(m.SubmittedAt), nullTime(m.ReadAt), nullTime(m.ApprovedAt), nullTime(m.RejectedAt),
		formatTime(r.now()), id.String(), string(expected),
	)
	v, err := scanVolume(row)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update session volume: %w", err)
	}
	if err := r.ensureLive(ctx, id); err != nil {
		return nil, err
	}
	return nil, domain.ErrStaleState
}

// SoftDelete sets deleted_at when the status allows it
func (r *SessionVolumeRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	now := formatTime(r.now())
	args := []any{now, now, id.String()}
	placeholders := make([]string, len(domain.DeletableStatuses))
	for i, s := range domain.DeletableStatuses {
		placeholders[i] = "?"
		args = append(args, string(s))
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE session_volumes SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL AND status IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("soft delete session volume: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if err := r.ensureLive(ctx, id); err != nil {
		return err
	}
	return domain.ErrVolumeConflict
}

// Restore clears deleted_at unless a live record has taken the key
func (r *SessionVolumeRepository) Restore(ctx context.Context, id uuid.UUID) (*domain.SessionVolume, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE session_volumes SET deleted_at = NULL, updated_at = ?
		WHERE id = ? AND deleted_at IS NOT NULL
		RETURNING `+volumeColumns, formatTime(r.now()), id.String())
	v, err := scanVolume(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrVolumeNotFound
		}
		if isUniqueViolation(err) {
			return nil, domain.ErrVolumeConflict
		}
		return nil, fmt.Errorf("restore session volume: %w", err)
	}
	return v, nil
}

func (r *SessionVolumeRepository) ensureLive(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM session_volumes WHERE id = ? AND deleted_at IS NULL)`, id.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check session volume: %w", err)
	}
	if !exists {
		return domain.ErrVolumeNotFound
	}
	return nil
}

func volumeWhere(f domain.VolumeFilter) (string, []any) {
	conds := []string{"deleted_at IS NULL"}
	var args []any
	if f.TrainerID != nil {
		conds = append(conds, "trainer_id = ?")
		args = append(args, f.TrainerID.String())
	}
	if f.CustomerID != nil {
		conds = append(conds, "customer_id = ?")
		args = append(args, f.CustomerID.String())
	}
	if f.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.Period != nil {
		conds = append(conds, "period_year = ?", "period_month = ?")
		args = append(args, f.Period.Year, f.Period.Month)
	}
	if f.From != nil {
		conds = append(conds, "period_year * 100 + period_month >= ?")
		args = append(args, f.From.Year*100+f.From.Month)
	}
	if f.To != nil {
		conds = append(conds, "period_year * 100 + period_month <= ?")
		args = append(args, f.To.Year*100+f.To.Month)
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVolume(row rowScanner) (*domain.SessionVolume, error) {
	var (
		v                                   domain.SessionVolume
		id, trainerID, customerID, status   string
		plans, notes, reason                sql.NullString
		submitted, read, approved, rejected sql.NullString
		created, updated                    string
		deleted                             sql.NullString
	)
	err := row.Scan(
		&id, &trainerID, &customerID, &v.Period.Year, &v.Period.Month, &status,
		&v.SessionCount, &plans, &notes, &reason,
		&submitted, &read, &approved, &rejected,
		&created, &updated, &deleted,
	)
	if err != nil {
		return nil, err
	}

	if v.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse id: %w", err)
	}
	if v.TrainerID, err = uuid.Parse(trainerID); err != nil {
		return nil, fmt.Errorf("parse trainer_id: %w", err)
	}
	if v.CustomerID, err = uuid.Parse(customerID); err != nil {
		return nil, fmt.Errorf("parse customer_id: %w", err)
	}
	v.Status = domain.Status(status)
	v.Plans = stringPtr(plans)
	v.Notes = stringPtr(notes)
	v.RejectionReason = stringPtr(reason)

	for _, ts := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{submitted, &v.SubmittedAt},
		{read, &v.ReadAt},
		{approved, &v.ApprovedAt},
		{rejected, &v.RejectedAt},
		{deleted, &v.DeletedAt},
	} {
		if *ts.dst, err = timePtr(ts.src); err != nil {
			return nil, err
		}
	}
	if v.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if v.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &v, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", ns.String, err)
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
