// Package repositories implements the data access layer for scriptgate.
// Each repository type encapsulates all database queries for one table;
// handlers and the access core never issue SQL directly.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/scriptgate/scriptgate/internal/db/models"
)

// ErrDuplicateUsername is returned by CreateAccount when the username is already taken.
var ErrDuplicateUsername = errors.New("username already exists")

// pqUniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const pqUniqueViolation = "23505"

const accountColumns = `id, username, secret_hash, remaining_uses, total_uses, is_admin, active, created_at, updated_at`

// AccountRepository handles account database operations
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(
		&a.ID,
		&a.Username,
		&a.SecretHash,
		&a.RemainingUses,
		&a.TotalUses,
		&a.IsAdmin,
		&a.Active,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// CreateAccount inserts a new account. TotalUses is initialised from RemainingUses.
func (r *AccountRepository) CreateAccount(ctx context.Context, account *models.Account) error {
	account.ID = uuid.New().String()
	account.TotalUses = account.RemainingUses
	account.CreatedAt = time.Now()
	account.UpdatedAt = account.CreatedAt

	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.Username,
		account.SecretHash,
		account.RemainingUses,
		account.TotalUses,
		account.IsAdmin,
		account.Active,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateUsername
	}
	return err
}

// GetAccountByID retrieves an account by ID. Returns (nil, nil) when not found.
func (r *AccountRepository) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetAccountByUsername retrieves an account by its exact (case-sensitive) username.
// Returns (nil, nil) when not found.
func (r *AccountRepository) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE username = $1`

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ListAccounts returns accounts ordered newest first, optionally filtered by a
// case-insensitive username substring, together with the total matching count.
func (r *AccountRepository) ListAccounts(ctx context.Context, search string, limit, offset int) ([]*models.Account, int, error) {
	countQuery := `SELECT COUNT(*) FROM accounts WHERE 1=1`
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE 1=1`

	args := make([]interface{}, 0)
	paramIndex := 1

	if search != "" {
		countQuery += fmt.Sprintf(` AND username ILIKE $%d`, paramIndex)
		query += fmt.Sprintf(` AND username ILIKE $%d`, paramIndex)
		args = append(args, "%"+search+"%")
		paramIndex++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	accounts := make([]*models.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, a)
	}

	return accounts, total, rows.Err()
}

// UpdateAccount applies the non-nil fields of upd and returns the updated row.
// Returns (nil, nil) when the account does not exist.
func (r *AccountRepository) UpdateAccount(ctx context.Context, id string, upd models.AccountUpdate) (*models.Account, error) {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{id}
	paramIndex := 2

	if upd.SecretHash != nil {
		sets = append(sets, fmt.Sprintf("secret_hash = $%d", paramIndex))
		args = append(args, *upd.SecretHash)
		paramIndex++
	}
	if upd.RemainingUses != nil {
		sets = append(sets, fmt.Sprintf("remaining_uses = $%d", paramIndex))
		args = append(args, *upd.RemainingUses)
		paramIndex++
	}
	if upd.Active != nil {
		sets = append(sets, fmt.Sprintf("active = $%d", paramIndex))
		args = append(args, *upd.Active)
		paramIndex++
	}
	if upd.IsAdmin != nil {
		sets = append(sets, fmt.Sprintf("is_admin = $%d", paramIndex))
		args = append(args, *upd.IsAdmin)
	}

	query := `UPDATE accounts SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 RETURNING ` + accountColumns

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// DeleteAccount removes a non-admin account. Returns false when no such
// non-admin account existed.
func (r *AccountRepository) DeleteAccount(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1 AND is_admin = FALSE`, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TopUpCredits adds amount to both remaining_uses and total_uses of a non-admin
// account. Returns (nil, nil) when no such non-admin account exists.
func (r *AccountRepository) TopUpCredits(ctx context.Context, id string, amount int) (*models.Account, error) {
	query := `
		UPDATE accounts
		SET remaining_uses = remaining_uses + $2,
		    total_uses = total_uses + $2,
		    updated_at = NOW()
		WHERE id = $1 AND is_admin = FALSE
		RETURNING ` + accountColumns

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id, amount))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ConsumeCredit atomically decrements remaining_uses if it is positive.
// The single conditional UPDATE serialises concurrent consumers on the row lock:
// ok is false when the counter was already zero (or the account vanished), in
// which case nothing was changed.
func (r *AccountRepository) ConsumeCredit(ctx context.Context, id string) (remaining int, ok bool, err error) {
	query := `
		UPDATE accounts
		SET remaining_uses = remaining_uses - 1, updated_at = NOW()
		WHERE id = $1 AND remaining_uses > 0
		RETURNING remaining_uses
	`

	err = r.db.QueryRowContext(ctx, query, id).Scan(&remaining)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return remaining, true, nil
}

// UpsertAdmin ensures an active admin account named username exists with the
// given secret hash and at least credits remaining uses. Repeated calls are idempotent.
func (r *AccountRepository) UpsertAdmin(ctx context.Context, username, secretHash string, credits int) (*models.Account, error) {
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $4, TRUE, TRUE, NOW(), NOW())
		ON CONFLICT (username) DO UPDATE
		SET secret_hash = EXCLUDED.secret_hash,
		    is_admin = TRUE,
		    active = TRUE,
		    remaining_uses = GREATEST(accounts.remaining_uses, EXCLUDED.remaining_uses),
		    total_uses = GREATEST(accounts.total_uses, EXCLUDED.total_uses),
		    updated_at = NOW()
		RETURNING ` + accountColumns

	return scanAccount(r.db.QueryRowContext(ctx, query, uuid.New().String(), username, secretHash, credits))
}
