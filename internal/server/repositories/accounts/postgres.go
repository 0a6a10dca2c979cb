package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// DB is what the Postgres store needs from a connection pool. *sql.DB
// implements it.
type DB interface {
	dbx.DBTX
	dbx.TxBeginner
}

// PostgresRepository stores accounts in three tables: accounts,
// refresh_tokens and one_time_tokens. Saves replace the token rows of the
// account inside the same transaction as the version-checked update.
type PostgresRepository struct {
	db DB
}

func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, email, password_hash, role, status, verified_at, password_reset_at, created_at, updated_at, version`

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
}

func (r *PostgresRepository) FindByRefreshToken(ctx context.Context, tokenHash string) (*models.Account, error) {
	return r.findOne(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE id = (SELECT account_id FROM refresh_tokens WHERE token_hash = $1)`,
		tokenHash)
}

func (r *PostgresRepository) FindByOneTimeToken(ctx context.Context, tokenHash string, purpose models.Purpose) (*models.Account, error) {
	return r.findOne(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE id = (SELECT account_id FROM one_time_tokens WHERE token_hash = $1 AND purpose = $2 LIMIT 1)`,
		tokenHash, string(purpose))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	a := &models.Account{}
	var role, status string
	var verifiedAt, resetAt sql.NullTime

	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &role, &status,
		&verifiedAt, &resetAt, &a.CreatedAt, &a.UpdatedAt, &a.Version)
	if err != nil {
		return nil, err
	}

	a.Role = models.Role(role)
	a.Status = models.Status(status)
	a.VerifiedAt = timePtr(verifiedAt)
	a.PasswordResetAt = timePtr(resetAt)
	return a, nil
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, args ...any) (*models.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if a.RefreshTokens, err = r.loadRefreshTokens(ctx, a.ID); err != nil {
		return nil, err
	}
	if a.OneTimeTokens, err = r.loadOneTimeTokens(ctx, a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *PostgresRepository) loadRefreshTokens(ctx context.Context, accountID string) ([]*models.RefreshToken, error) {
	query :=
		`SELECT id, token_hash, created_at, expires_at, created_by_ip,
		        revoked_at, revoked_by_ip, revoked_reason, replaced_by_id
		 FROM refresh_tokens
		 WHERE account_id = $1
		 ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.RefreshToken
	for rows.Next() {
		t := &models.RefreshToken{}
		var revokedAt sql.NullTime
		var replacedBy sql.NullString
		if err := rows.Scan(&t.ID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &t.CreatedByIP,
			&revokedAt, &t.RevokedByIP, &t.RevokedReason, &replacedBy); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		t.RevokedAt = timePtr(revokedAt)
		t.ReplacedByID = replacedBy.String
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) loadOneTimeTokens(ctx context.Context, accountID string) ([]*models.OneTimeToken, error) {
	query :=
		`SELECT id, purpose, token_hash, created_at, expires_at, consumed_at
		 FROM one_time_tokens
		 WHERE account_id = $1
		 ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.OneTimeToken
	for rows.Next() {
		t := &models.OneTimeToken{}
		var purpose string
		var consumedAt sql.NullTime
		if err := rows.Scan(&t.ID, &purpose, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &consumedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		t.Purpose = models.Purpose(purpose)
		t.ConsumedAt = timePtr(consumedAt)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) error {
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query :=
			`INSERT INTO accounts (id, email, password_hash, role, status, verified_at, password_reset_at, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)`

		_, err := tx.ExecContext(ctx, query,
			account.ID, account.Email, account.PasswordHash, string(account.Role), string(account.Status),
			nullTime(account.VerifiedAt), nullTime(account.PasswordResetAt), account.CreatedAt, account.UpdatedAt)
		if err != nil {
			if dbx.IsUniqueViolation(err, "") {
				return common.ErrAlreadyExists
			}
			return fmt.Errorf("db error: %w", err)
		}

		return writeTokens(ctx, tx, account)
	})
	if err != nil {
		return err
	}

	account.Version = 1
	return nil
}

func (r *PostgresRepository) Save(ctx context.Context, account *models.Account) error {
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query :=
			`UPDATE accounts
			 SET email = $2, password_hash = $3, role = $4, status = $5,
			     verified_at = $6, password_reset_at = $7, updated_at = $8,
			     version = version + 1
			 WHERE id = $1 AND version = $9`

		res, err := tx.ExecContext(ctx, query,
			account.ID, account.Email, account.PasswordHash, string(account.Role), string(account.Status),
			nullTime(account.VerifiedAt), nullTime(account.PasswordResetAt), account.UpdatedAt, account.Version)
		if err != nil {
			if dbx.IsUniqueViolation(err, "accounts_email_key") {
				return common.ErrAlreadyExists
			}
			return fmt.Errorf("db error: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if n == 0 {
			return common.ErrConflict
		}

		if err := deleteStaleTokens(ctx, tx, account); err != nil {
			return err
		}
		return writeTokens(ctx, tx, account)
	})
	if err != nil {
		return err
	}

	account.Version++
	return nil
}

// deleteStaleTokens removes rows for tokens no longer held by the account,
// e.g. pruned refresh tokens.
func deleteStaleTokens(ctx context.Context, tx dbx.DBTX, account *models.Account) error {
	refreshIDs := make([]string, 0, len(account.RefreshTokens))
	for _, t := range account.RefreshTokens {
		refreshIDs = append(refreshIDs, t.ID)
	}
	oneTimeIDs := make([]string, 0, len(account.OneTimeTokens))
	for _, t := range account.OneTimeTokens {
		oneTimeIDs = append(oneTimeIDs, t.ID)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM refresh_tokens
		 WHERE account_id = $1 AND NOT (id::text = ANY (string_to_array($2, ',')))`,
		account.ID, strings.Join(refreshIDs, ",")); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM one_time_tokens
		 WHERE account_id = $1 AND NOT (id::text = ANY (string_to_array($2, ',')))`,
		account.ID, strings.Join(oneTimeIDs, ",")); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func writeTokens(ctx context.Context, tx dbx.DBTX, account *models.Account) error {
	refreshQuery :=
		`INSERT INTO refresh_tokens (id, account_id, token_hash, created_at, expires_at, created_by_ip,
		                             revoked_at, revoked_by_ip, revoked_reason, replaced_by_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE
		 SET revoked_at = EXCLUDED.revoked_at, revoked_by_ip = EXCLUDED.revoked_by_ip,
		     revoked_reason = EXCLUDED.revoked_reason, replaced_by_id = EXCLUDED.replaced_by_id`

	for _, t := range account.RefreshTokens {
		if _, err := tx.ExecContext(ctx, refreshQuery,
			t.ID, account.ID, t.TokenHash, t.CreatedAt, t.ExpiresAt, t.CreatedByIP,
			nullTime(t.RevokedAt), t.RevokedByIP, t.RevokedReason, nullString(t.ReplacedByID)); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}

	oneTimeQuery :=
		`INSERT INTO one_time_tokens (id, account_id, purpose, token_hash, created_at, expires_at, consumed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET consumed_at = EXCLUDED.consumed_at`

	for _, t := range account.OneTimeTokens {
		if _, err := tx.ExecContext(ctx, oneTimeQuery,
			t.ID, account.ID, string(t.Purpose), t.TokenHash, t.CreatedAt, t.ExpiresAt, nullTime(t.ConsumedAt)); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
