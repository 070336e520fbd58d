package repo

import (
	"context"
	"database/sql"

	"evs/internal/domain"
)

// InsertVoteTx writes one vote row. The UNIQUE(voter_id, position_id) index
// rejects a second vote for the same position, which is what makes concurrent
// duplicate casts lose cleanly.
func (r Repo) InsertVoteTx(ctx context.Context, tx *sql.Tx, v domain.Vote) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO votes(id,voter_id,position_id,candidate_id,election_id,cast_at) VALUES (?,?,?,?,?,?)`,
		v.ID, v.VoterID, v.PositionID, v.CandidateID, v.ElectionID, v.CastAt)
	return err
}

func (r Repo) ListVotesByVoter(ctx context.Context, voterID string) ([]domain.Vote, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,voter_id,position_id,candidate_id,election_id,cast_at FROM votes WHERE voter_id=? ORDER BY position_id ASC`, voterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Vote
	for rows.Next() {
		var v domain.Vote
		if err := rows.Scan(&v.ID, &v.VoterID, &v.PositionID, &v.CandidateID, &v.ElectionID, &v.CastAt); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) CountVotesByVoter(ctx context.Context, voterID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM votes WHERE voter_id=?`, voterID).Scan(&n)
	return n, err
}

func (r Repo) CountVotesByElection(ctx context.Context, electionID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM votes WHERE election_id=?`, electionID).Scan(&n)
	return n, err
}
