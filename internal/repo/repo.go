package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"evs/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const electionColumns = `id,name,start_at,end_at,status,owner_id,created_at,updated_at`

func scanElection(row *sql.Row) (domain.Election, error) {
	var e domain.Election
	err := row.Scan(&e.ID, &e.Name, &e.StartAt, &e.EndAt, &e.Status, &e.OwnerID, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

func (r Repo) InsertElection(ctx context.Context, e domain.Election) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO elections(`+electionColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.Name, e.StartAt, e.EndAt, e.Status, e.OwnerID, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) GetElection(ctx context.Context, id string) (domain.Election, error) {
	return scanElection(r.DB.QueryRowContext(ctx, `SELECT `+electionColumns+` FROM elections WHERE id=?`, id))
}

func (r Repo) GetElectionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Election, error) {
	var e domain.Election
	err := tx.QueryRowContext(ctx, `SELECT `+electionColumns+` FROM elections WHERE id=?`, id).
		Scan(&e.ID, &e.Name, &e.StartAt, &e.EndAt, &e.Status, &e.OwnerID, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

type ElectionFilters struct {
	Status  string
	OwnerID string
	Limit   int
}

func (r Repo) ListElections(ctx context.Context, f ElectionFilters) ([]domain.Election, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + electionColumns + ` FROM elections ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Election
	for rows.Next() {
		var e domain.Election
		if err := rows.Scan(&e.ID, &e.Name, &e.StartAt, &e.EndAt, &e.Status, &e.OwnerID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ListNonTerminalElections returns every election the reconciliation sweep
// still needs to look at.
func (r Repo) ListNonTerminalElections(ctx context.Context) ([]domain.Election, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+electionColumns+` FROM elections WHERE status != ? ORDER BY created_at ASC, id ASC`, domain.ElectionCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Election
	for rows.Next() {
		var e domain.Election
		if err := rows.Scan(&e.ID, &e.Name, &e.StartAt, &e.EndAt, &e.Status, &e.OwnerID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// UpdateElectionStatusCAS updates the status only if the stored value still
// equals fromStatus. Returns true when this caller won the update; false
// means a concurrent writer got there first (or the election vanished).
func (r Repo) UpdateElectionStatusCAS(ctx context.Context, tx *sql.Tx, id, fromStatus, toStatus, updatedAt string) (bool, error) {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE elections SET status=?, updated_at=? WHERE id=? AND status=?`,
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

// UpdateElectionStatus sets the status unconditionally (manual overrides).
func (r Repo) UpdateElectionStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE elections SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateElection(ctx context.Context, id string, name, startAt, endAt *string, updatedAt string) error {
	var fields []string
	var args []any
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if startAt != nil {
		fields = append(fields, "start_at=?")
		args = append(args, *startAt)
	}
	if endAt != nil {
		fields = append(fields, "end_at=?")
		args = append(args, *endAt)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := r.DB.ExecContext(ctx, `UPDATE elections SET `+strings.Join(fields, ",")+` WHERE id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteElection(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM elections WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
