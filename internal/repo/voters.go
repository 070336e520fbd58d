package repo

import (
	"context"
	"database/sql"

	"evs/internal/domain"
)

const voterColumns = `id,account_id,election_id,year_id,status,created_at,updated_at`

func scanVoter(scan func(...any) error) (domain.Voter, error) {
	var v domain.Voter
	var electionID, yearID sql.NullString
	err := scan(&v.ID, &v.AccountID, &electionID, &yearID, &v.Status, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	if electionID.Valid {
		v.ElectionID = &electionID.String
	}
	if yearID.Valid {
		v.YearID = &yearID.String
	}
	return v, nil
}

func (r Repo) InsertVoter(ctx context.Context, v domain.Voter) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO voters(`+voterColumns+`) VALUES (?,?,?,?,?,?,?)`,
		v.ID, v.AccountID, nullableStringPtr(v.ElectionID), nullableStringPtr(v.YearID), v.Status, v.CreatedAt, v.UpdatedAt)
	return err
}

func (r Repo) GetVoter(ctx context.Context, id string) (domain.Voter, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+voterColumns+` FROM voters WHERE id=?`, id)
	return scanVoter(row.Scan)
}

// GetVoterByAccountTx resolves the voter record for an authenticated account
// inside the casting transaction, so the status read cannot be stale.
func (r Repo) GetVoterByAccountTx(ctx context.Context, tx *sql.Tx, accountID string) (domain.Voter, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+voterColumns+` FROM voters WHERE account_id=?`, accountID)
	return scanVoter(row.Scan)
}

func (r Repo) GetVoterByAccount(ctx context.Context, accountID string) (domain.Voter, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+voterColumns+` FROM voters WHERE account_id=?`, accountID)
	return scanVoter(row.Scan)
}

func (r Repo) ListVoters(ctx context.Context, electionID string) ([]domain.Voter, error) {
	query := `SELECT ` + voterColumns + ` FROM voters`
	var args []any
	if electionID != "" {
		query += ` WHERE election_id=?`
		args = append(args, electionID)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Voter
	for rows.Next() {
		v, err := scanVoter(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// SetVoterStatusTx flips the voter status inside the casting transaction.
// The fromStatus guard makes the flip a no-op if a concurrent transaction
// already moved the voter.
func (r Repo) SetVoterStatusTx(ctx context.Context, tx *sql.Tx, id, fromStatus, toStatus, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE voters SET status=?, updated_at=? WHERE id=? AND status=?`,
		toStatus, updatedAt, id, fromStatus)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) DeleteVoter(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM voters WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
