package repo

import (
	"context"
	"database/sql"

	"evs/internal/domain"
)

// Department / Year / Party / Position / Candidate are simple reference data
// owned by administrators; mutation beyond creation happens only through the
// restore path.

func (r Repo) InsertDepartment(ctx context.Context, d domain.Department) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO departments(id,name,created_at) VALUES (?,?,?)`,
		d.ID, d.Name, d.CreatedAt)
	return err
}

func (r Repo) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM departments ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Department
	for rows.Next() {
		var d domain.Department
		if err := rows.Scan(&d.ID, &d.Name, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) InsertYear(ctx context.Context, y domain.Year) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO years(id,department_id,name,created_at) VALUES (?,?,?,?)`,
		y.ID, y.DepartmentID, y.Name, y.CreatedAt)
	return err
}

func (r Repo) ListYears(ctx context.Context, departmentID string) ([]domain.Year, error) {
	query := `SELECT id,department_id,name,created_at FROM years`
	var args []any
	if departmentID != "" {
		query += ` WHERE department_id=?`
		args = append(args, departmentID)
	}
	query += ` ORDER BY name ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Year
	for rows.Next() {
		var y domain.Year
		if err := rows.Scan(&y.ID, &y.DepartmentID, &y.Name, &y.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, y)
	}
	return res, rows.Err()
}

func (r Repo) InsertParty(ctx context.Context, p domain.Party) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO parties(id,election_id,name,created_at) VALUES (?,?,?,?)`,
		p.ID, p.ElectionID, p.Name, p.CreatedAt)
	return err
}

func (r Repo) ListParties(ctx context.Context, electionID string) ([]domain.Party, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,election_id,name,created_at FROM parties WHERE election_id=? ORDER BY name ASC`, electionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Party
	for rows.Next() {
		var p domain.Party
		if err := rows.Scan(&p.ID, &p.ElectionID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertPosition(ctx context.Context, p domain.Position) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO positions(id,election_id,name,max_selections,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.ElectionID, p.Name, p.MaxSelections, p.CreatedAt)
	return err
}

func (r Repo) GetPosition(ctx context.Context, id string) (domain.Position, error) {
	var p domain.Position
	err := r.DB.QueryRowContext(ctx, `SELECT id,election_id,name,max_selections,created_at FROM positions WHERE id=?`, id).
		Scan(&p.ID, &p.ElectionID, &p.Name, &p.MaxSelections, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListPositions(ctx context.Context, electionID string) ([]domain.Position, error) {
	return r.listPositions(ctx, r.DB.QueryContext, electionID)
}

func (r Repo) ListPositionsTx(ctx context.Context, tx *sql.Tx, electionID string) ([]domain.Position, error) {
	return r.listPositions(ctx, tx.QueryContext, electionID)
}

func (r Repo) listPositions(ctx context.Context, query func(context.Context, string, ...any) (*sql.Rows, error), electionID string) ([]domain.Position, error) {
	rows, err := query(ctx, `SELECT id,election_id,name,max_selections,created_at FROM positions WHERE election_id=? ORDER BY created_at ASC, id ASC`, electionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.ID, &p.ElectionID, &p.Name, &p.MaxSelections, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertCandidate(ctx context.Context, c domain.Candidate) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO candidates(id,position_id,party_id,election_id,name,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.PositionID, c.PartyID, c.ElectionID, c.Name, c.CreatedAt)
	return err
}

func (r Repo) GetCandidateTx(ctx context.Context, tx *sql.Tx, id string) (domain.Candidate, error) {
	var c domain.Candidate
	err := tx.QueryRowContext(ctx, `SELECT id,position_id,party_id,election_id,name,created_at FROM candidates WHERE id=?`, id).
		Scan(&c.ID, &c.PositionID, &c.PartyID, &c.ElectionID, &c.Name, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListCandidates(ctx context.Context, electionID, positionID string) ([]domain.Candidate, error) {
	query := `SELECT id,position_id,party_id,election_id,name,created_at FROM candidates WHERE election_id=?`
	args := []any{electionID}
	if positionID != "" {
		query += ` AND position_id=?`
		args = append(args, positionID)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Candidate
	for rows.Next() {
		var c domain.Candidate
		if err := rows.Scan(&c.ID, &c.PositionID, &c.PartyID, &c.ElectionID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
