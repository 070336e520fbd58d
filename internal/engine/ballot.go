package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"evs/internal/domain"
	"evs/internal/events"
	"evs/internal/repo"
)

// CastBallot records a complete ballot for the voter tied to accountID.
// selections maps position id to candidate id and must cover every position
// of the voter's election exactly once.
//
// Everything happens in one transaction: the vote rows, the voter's flip to
// cast, and the audit event all commit together or not at all. The unique
// index on (voter_id, position_id) is the ground truth for "one vote per
// position"; a concurrent duplicate loses there and surfaces as already_voted.
func (e *Engine) CastBallot(ctx context.Context, accountID string, selections map[string]string) (domain.Ballot, error) {
	if len(selections) == 0 {
		return domain.Ballot{}, ConflictError{Reason: ReasonIncompleteBallot, Msg: "ballot has no selections"}
	}

	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Ballot{}, err
	}
	defer tx.Rollback()

	voter, err := e.Repo.GetVoterByAccountTx(ctx, tx, accountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Ballot{}, ConflictError{Reason: ReasonElectionNotOpen, Msg: "account is not registered as a voter"}
		}
		return domain.Ballot{}, err
	}
	if voter.Status == domain.VoterCast {
		return domain.Ballot{}, ConflictError{Reason: ReasonAlreadyVoted, Msg: "ballot already cast"}
	}
	if voter.ElectionID == nil {
		return domain.Ballot{}, ConflictError{Reason: ReasonElectionNotOpen, Msg: "voter is not assigned to an election"}
	}

	el, err := e.Repo.GetElectionTx(ctx, tx, *voter.ElectionID)
	if err != nil {
		return domain.Ballot{}, err
	}
	if el.Status != domain.ElectionActive {
		return domain.Ballot{}, ConflictError{Reason: ReasonElectionNotOpen, Msg: fmt.Sprintf("election is %s", el.Status)}
	}

	positions, err := e.Repo.ListPositionsTx(ctx, tx, el.ID)
	if err != nil {
		return domain.Ballot{}, err
	}
	if len(positions) == 0 {
		return domain.Ballot{}, ConflictError{Reason: ReasonElectionNotOpen, Msg: "election has no positions"}
	}
	if len(selections) != len(positions) {
		return domain.Ballot{}, ConflictError{Reason: ReasonIncompleteBallot, Msg: fmt.Sprintf("expected %d selections, got %d", len(positions), len(selections))}
	}

	castAt := e.nowString()
	ballot := domain.Ballot{VoterID: voter.ID, ElectionID: el.ID, CastAt: castAt}
	for _, pos := range positions {
		candidateID, ok := selections[pos.ID]
		if !ok {
			return domain.Ballot{}, ConflictError{Reason: ReasonIncompleteBallot, Msg: fmt.Sprintf("missing selection for position %s", pos.ID)}
		}
		cand, err := e.Repo.GetCandidateTx(ctx, tx, candidateID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Ballot{}, ConflictError{Reason: ReasonIncompleteBallot, Msg: fmt.Sprintf("unknown candidate %s", candidateID)}
			}
			return domain.Ballot{}, err
		}
		if cand.PositionID != pos.ID {
			return domain.Ballot{}, ConflictError{Reason: ReasonIncompleteBallot, Msg: fmt.Sprintf("candidate %s does not run for position %s", candidateID, pos.ID)}
		}
		v := domain.Vote{
			ID:          uuid.NewString(),
			VoterID:     voter.ID,
			PositionID:  pos.ID,
			CandidateID: candidateID,
			ElectionID:  el.ID,
			CastAt:      castAt,
		}
		if err := e.Repo.InsertVoteTx(ctx, tx, v); err != nil {
			if isConstraintViolation(err) {
				return domain.Ballot{}, ConflictError{Reason: ReasonAlreadyVoted, Msg: "ballot already cast"}
			}
			return domain.Ballot{}, err
		}
		ballot.Votes = append(ballot.Votes, v)
	}

	flipped, err := e.Repo.SetVoterStatusTx(ctx, tx, voter.ID, voter.Status, domain.VoterCast, castAt)
	if err != nil {
		return domain.Ballot{}, err
	}
	if !flipped {
		return domain.Ballot{}, ConflictError{Reason: ReasonAlreadyVoted, Msg: "ballot already cast"}
	}

	if err := e.Events.Append(ctx, tx, "ballot.cast", el.ID, "voter", voter.ID, accountID, events.EventPayload{
		"votes":   len(ballot.Votes),
		"cast_at": castAt,
	}); err != nil {
		return domain.Ballot{}, err
	}

	if err := tx.Commit(); err != nil {
		if isConstraintViolation(err) {
			return domain.Ballot{}, ConflictError{Reason: ReasonAlreadyVoted, Msg: "ballot already cast"}
		}
		return domain.Ballot{}, err
	}
	return ballot, nil
}

// BallotStatus reports whether the voter behind accountID has cast a ballot.
type BallotStatus struct {
	VoterID    string  `json:"voter_id"`
	ElectionID *string `json:"election_id,omitempty"`
	Status     string  `json:"status" enum:"registered,uncast,cast"`
	CastAt     *string `json:"cast_at,omitempty" format:"date-time"`
	Votes      int     `json:"votes"`
}

func (e *Engine) BallotStatusFor(ctx context.Context, accountID string) (BallotStatus, error) {
	voter, err := e.Repo.GetVoterByAccount(ctx, accountID)
	if err != nil {
		return BallotStatus{}, err
	}
	st := BallotStatus{VoterID: voter.ID, ElectionID: voter.ElectionID, Status: voter.Status}
	if voter.Status != domain.VoterCast {
		return st, nil
	}
	votes, err := e.Repo.ListVotesByVoter(ctx, voter.ID)
	if err != nil {
		return BallotStatus{}, err
	}
	st.Votes = len(votes)
	if len(votes) > 0 {
		castAt := votes[0].CastAt
		st.CastAt = &castAt
	}
	return st, nil
}

// RegisterVoter creates a voter record tied to an account, optionally scoped
// to an election and year.
func (e *Engine) RegisterVoter(ctx context.Context, accountID string, electionID, yearID *string) (domain.Voter, error) {
	if accountID == "" {
		return domain.Voter{}, ValidationError{Msg: "account_id is required"}
	}
	if _, err := e.Repo.GetAccount(ctx, accountID); err != nil {
		return domain.Voter{}, err
	}
	if electionID != nil {
		if _, err := e.Repo.GetElection(ctx, *electionID); err != nil {
			return domain.Voter{}, err
		}
	}
	nowstr := e.nowString()
	v := domain.Voter{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		ElectionID: electionID,
		YearID:     yearID,
		Status:     domain.VoterRegistered,
		CreatedAt:  nowstr,
		UpdatedAt:  nowstr,
	}
	if err := e.Repo.InsertVoter(ctx, v); err != nil {
		if isConstraintViolation(err) {
			return domain.Voter{}, ConflictError{Reason: ReasonConflict, Msg: "account already has a voter record"}
		}
		return domain.Voter{}, err
	}
	return v, nil
}

// MarkVoterEligible moves a registered voter to uncast for an election.
func (e *Engine) MarkVoterEligible(ctx context.Context, voterID string) (domain.Voter, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Voter{}, err
	}
	defer tx.Rollback()

	nowstr := e.nowString()
	ok, err := e.Repo.SetVoterStatusTx(ctx, tx, voterID, domain.VoterRegistered, domain.VoterUncast, nowstr)
	if err != nil {
		return domain.Voter{}, err
	}
	if !ok {
		return domain.Voter{}, ConflictError{Reason: ReasonConflict, Msg: "voter is not in registered state"}
	}
	if err := tx.Commit(); err != nil {
		return domain.Voter{}, err
	}
	v, err := e.Repo.GetVoter(ctx, voterID)
	if err != nil {
		return domain.Voter{}, err
	}
	return v, nil
}
