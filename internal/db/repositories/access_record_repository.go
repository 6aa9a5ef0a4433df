// access_record_repository.go implements AccessRecordRepository: the append-only
// log of delivery attempts plus the aggregate queries behind the admin statistics.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/scriptgate/scriptgate/internal/db/models"
)

const accessRecordColumns = `id, account_id, username, ip_address, origin_page, user_agent, granted, message, created_at`

// AccessRecordRepository handles access record database operations
type AccessRecordRepository struct {
	db *sqlx.DB
}

// NewAccessRecordRepository creates a new AccessRecordRepository
func NewAccessRecordRepository(db *sqlx.DB) *AccessRecordRepository {
	return &AccessRecordRepository{db: db}
}

// CreateAccessRecord appends one record. ID and CreatedAt are assigned here.
func (r *AccessRecordRepository) CreateAccessRecord(ctx context.Context, rec *models.AccessRecord) error {
	rec.ID = uuid.New().String()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO access_records (` + accessRecordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.AccountID,
		rec.Username,
		rec.IPAddress,
		rec.OriginPage,
		rec.UserAgent,
		rec.Granted,
		rec.Message,
		rec.CreatedAt,
	)
	return err
}

// ListAccessRecords returns records matching filter, newest first, with the total match count.
func (r *AccessRecordRepository) ListAccessRecords(ctx context.Context, filter models.AccessRecordFilter, limit, offset int) ([]*models.AccessRecord, int, error) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0)
	paramIndex := 1

	if filter.From != nil {
		where += fmt.Sprintf(` AND created_at >= $%d`, paramIndex)
		args = append(args, *filter.From)
		paramIndex++
	}
	if filter.To != nil {
		where += fmt.Sprintf(` AND created_at <= $%d`, paramIndex)
		args = append(args, *filter.To)
		paramIndex++
	}
	if filter.Username != "" {
		where += fmt.Sprintf(` AND username ILIKE $%d`, paramIndex)
		args = append(args, "%"+filter.Username+"%")
		paramIndex++
	}
	if filter.Granted != nil {
		where += fmt.Sprintf(` AND granted = $%d`, paramIndex)
		args = append(args, *filter.Granted)
		paramIndex++
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM access_records`+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + accessRecordColumns + ` FROM access_records` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	records := make([]*models.AccessRecord, 0)
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// GetStats aggregates all records: totals, the last 24 hours, distinct resolved
// accounts, the granted/denied split and the five most active usernames.
func (r *AccessRecordRepository) GetStats(ctx context.Context) (*models.AccessStats, error) {
	query := `
		SELECT
			COUNT(*) AS total_attempts,
			COUNT(*) FILTER (WHERE created_at >= NOW() - INTERVAL '24 hours') AS recent_attempts,
			COUNT(DISTINCT account_id) AS distinct_accounts,
			COUNT(*) FILTER (WHERE granted) AS granted_attempts,
			COUNT(*) FILTER (WHERE NOT granted) AS denied_attempts
		FROM access_records
	`

	stats := &models.AccessStats{}
	if err := r.db.GetContext(ctx, stats, query); err != nil {
		return nil, fmt.Errorf("failed to aggregate access records: %w", err)
	}

	stats.TopUsers = make([]models.UsernameCount, 0, 5)
	topQuery := `
		SELECT username, COUNT(*) AS attempts
		FROM access_records
		GROUP BY username
		ORDER BY attempts DESC, username
		LIMIT 5
	`
	if err := r.db.SelectContext(ctx, &stats.TopUsers, topQuery); err != nil {
		return nil, fmt.Errorf("failed to rank usernames: %w", err)
	}

	return stats, nil
}

// GetDailyUsage returns per-day granted/denied counts for the last days days
// (including today), oldest first. Days without attempts are included as zeros.
func (r *AccessRecordRepository) GetDailyUsage(ctx context.Context, days int) ([]models.DailyUsage, error) {
	query := `
		SELECT
			d.day AS day,
			COUNT(a.id) FILTER (WHERE a.granted) AS granted,
			COUNT(a.id) FILTER (WHERE NOT a.granted) AS denied
		FROM generate_series(CURRENT_DATE - ($1::int - 1), CURRENT_DATE, INTERVAL '1 day') AS d(day)
		LEFT JOIN access_records a ON a.created_at::date = d.day::date
		GROUP BY d.day
		ORDER BY d.day
	`

	usage := make([]models.DailyUsage, 0, days)
	if err := r.db.SelectContext(ctx, &usage, query, days); err != nil {
		return nil, fmt.Errorf("failed to load daily usage: %w", err)
	}
	return usage, nil
}

// PurgeAccessRecords deletes every record and returns how many were removed.
func (r *AccessRecordRepository) PurgeAccessRecords(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM access_records`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
