package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"evs/internal/domain"
)

// HashSecret returns a stable SHA-256 hex digest for the provided secret.
// Used for account passwords and the scheduler secret comparison.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(secret)))
	return hex.EncodeToString(sum[:])
}

const accountColumns = `id, username, COALESCE(email,''), password_hash, role, created_at`

// InsertAccount stores an account. PasswordHash must already contain the
// hashed value.
func (r Repo) InsertAccount(ctx context.Context, tx *sql.Tx, a domain.Account) error {
	if a.ID == "" {
		return errors.New("id required")
	}
	if a.Username == "" {
		return errors.New("username required")
	}
	if a.PasswordHash == "" {
		return errors.New("password_hash required")
	}
	if a.Role != domain.RoleAdmin && a.Role != domain.RoleVoter {
		return errors.New("role must be admin or voter")
	}
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	if a.CreatedAt == "" {
		a.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := exec(`INSERT INTO accounts(id, username, email, password_hash, role, created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.Username, nullable(a.Email), a.PasswordHash, a.Role, a.CreatedAt)
	return err
}

func scanAccount(row *sql.Row) (domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.Role, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.Account{}, ErrNotFound
	}
	return a, err
}

func (r Repo) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	return scanAccount(r.DB.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=?`, id))
}

func (r Repo) GetAccountByUsername(ctx context.Context, username string) (domain.Account, error) {
	return scanAccount(r.DB.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username=?`, username))
}

// ListAccounts returns accounts, optionally filtered by role.
func (r Repo) ListAccounts(ctx context.Context, role string) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.Role, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

// DeleteAccount deletes an account by ID.
func (r Repo) DeleteAccount(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	_, err := r.DB.ExecContext(ctx, `DELETE FROM accounts WHERE id=?`, id)
	return err
}
