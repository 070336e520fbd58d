package engine_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"evs/internal/domain"
	"evs/internal/engine"
)

type ballotFixture struct {
	env        testEnv
	election   domain.Election
	positions  []domain.Position
	candidates map[string][]domain.Candidate
	account    domain.Account
	voter      domain.Voter
}

// newBallotFixture builds an active election with two positions, two
// candidates each, and one eligible voter.
func newBallotFixture(t *testing.T) ballotFixture {
	t.Helper()
	env := newTestEnv(t)
	el := mustCreateElection(t, env, testNow.Add(-time.Hour), testNow.Add(time.Hour), domain.ElectionInactive)
	if _, err := env.Engine.Reconcile(env.Ctx, testNow); err != nil {
		t.Fatalf("activate election: %v", err)
	}

	party := domain.Party{ID: uuid.NewString(), ElectionID: el.ID, Name: "Independents", CreatedAt: nowStr()}
	if err := env.Engine.Repo.InsertParty(env.Ctx, party); err != nil {
		t.Fatalf("insert party: %v", err)
	}

	f := ballotFixture{env: env, candidates: map[string][]domain.Candidate{}}
	for _, name := range []string{"President", "Secretary"} {
		p := domain.Position{ID: uuid.NewString(), ElectionID: el.ID, Name: name, MaxSelections: 1, CreatedAt: nowStr()}
		if err := env.Engine.Repo.InsertPosition(env.Ctx, p); err != nil {
			t.Fatalf("insert position: %v", err)
		}
		f.positions = append(f.positions, p)
		for i := 0; i < 2; i++ {
			c := domain.Candidate{
				ID:         uuid.NewString(),
				PositionID: p.ID,
				PartyID:    party.ID,
				ElectionID: el.ID,
				Name:       name + " candidate",
				CreatedAt:  nowStr(),
			}
			if err := env.Engine.Repo.InsertCandidate(env.Ctx, c); err != nil {
				t.Fatalf("insert candidate: %v", err)
			}
			f.candidates[p.ID] = append(f.candidates[p.ID], c)
		}
	}

	account, err := env.Engine.CreateAccount(env.Ctx, "voter1", "", "pw", domain.RoleVoter)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	voter, err := env.Engine.RegisterVoter(env.Ctx, account.ID, &el.ID, nil)
	if err != nil {
		t.Fatalf("register voter: %v", err)
	}
	voter, err = env.Engine.MarkVoterEligible(env.Ctx, voter.ID)
	if err != nil {
		t.Fatalf("mark eligible: %v", err)
	}

	f.election = el
	f.account = account
	f.voter = voter
	return f
}

func (f ballotFixture) selections() map[string]string {
	sel := make(map[string]string, len(f.positions))
	for _, p := range f.positions {
		sel[p.ID] = f.candidates[p.ID][0].ID
	}
	return sel
}

func nowStr() string { return testNow.Format(time.RFC3339) }

func TestCastBallot(t *testing.T) {
	f := newBallotFixture(t)
	b, err := f.env.Engine.CastBallot(f.env.Ctx, f.account.ID, f.selections())
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	if len(b.Votes) != len(f.positions) {
		t.Fatalf("votes = %d, want %d", len(b.Votes), len(f.positions))
	}

	voter, err := f.env.Engine.Repo.GetVoter(f.env.Ctx, f.voter.ID)
	if err != nil {
		t.Fatal(err)
	}
	if voter.Status != domain.VoterCast {
		t.Fatalf("voter status = %s, want cast", voter.Status)
	}

	st, err := f.env.Engine.BallotStatusFor(f.env.Ctx, f.account.ID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != domain.VoterCast || st.Votes != len(f.positions) {
		t.Fatalf("ballot status = %+v", st)
	}

	events, err := f.env.Engine.Repo.LatestEvents(f.env.Ctx, 10, f.election.ID, "ballot.cast")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("ballot.cast events = %d, want 1", len(events))
	}
}

func TestCastBallotTwiceRejected(t *testing.T) {
	f := newBallotFixture(t)
	if _, err := f.env.Engine.CastBallot(f.env.Ctx, f.account.ID, f.selections()); err != nil {
		t.Fatalf("first cast: %v", err)
	}
	_, err := f.env.Engine.CastBallot(f.env.Ctx, f.account.ID, f.selections())
	if engine.ReasonOf(err) != engine.ReasonAlreadyVoted {
		t.Fatalf("reason = %q, want already_voted (err: %v)", engine.ReasonOf(err), err)
	}

	n, err := f.env.Engine.Repo.CountVotesByVoter(f.env.Ctx, f.voter.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(f.positions) {
		t.Fatalf("votes = %d, want %d", n, len(f.positions))
	}
}

func TestCastBallotElectionNotOpen(t *testing.T) {
	f := newBallotFixture(t)
	if _, err := f.env.Engine.PauseElection(f.env.Ctx, f.election.ID, "admin"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	_, err := f.env.Engine.CastBallot(f.env.Ctx, f.account.ID, f.selections())
	if engine.ReasonOf(err) != engine.ReasonElectionNotOpen {
		t.Fatalf("reason = %q, want election_not_open (err: %v)", engine.ReasonOf(err), err)
	}
	n, _ := f.env.Engine.Repo.CountVotesByVoter(f.env.Ctx, f.voter.ID)
	if n != 0 {
		t.Fatalf("votes = %d, want 0", n)
	}
}

func TestCastBallotIncomplete(t *testing.T) {
	f := newBallotFixture(t)

	// Missing one position.
	sel := f.selections()
	delete(sel, f.positions[1].ID)
	_, err := f.env.Engine.CastBallot(f.env.Ctx, f.account.ID, sel)
	if engine.ReasonOf(err) != engine.ReasonIncompleteBallot {
		t.Fatalf("reason = %q, want incomplete_ballot", engine.ReasonOf(err))
	}

	// Extra unknown position.
	sel = f.selections()
	sel[uuid.NewString()] = f.candidates[f.positions[0].ID][0].ID
	_, err = f.env.Engine.CastBallot(f.env.Ctx, f.account.ID, sel)
	if engine.ReasonOf(err) != engine.ReasonIncompleteBallot {
		t.Fatalf("reason = %q, want incomplete_ballot", engine.ReasonOf(err))
	}

	// Candidate from the wrong position.
	sel = f.selections()
	sel[f.positions[0].ID] = f.candidates[f.positions[1].ID][0].ID
	_, err = f.env.Engine.CastBallot(f.env.Ctx, f.account.ID, sel)
	if engine.ReasonOf(err) != engine.ReasonIncompleteBallot {
		t.Fatalf("reason = %q, want incomplete_ballot", engine.ReasonOf(err))
	}

	// Nothing at all.
	_, err = f.env.Engine.CastBallot(f.env.Ctx, f.account.ID, nil)
	if engine.ReasonOf(err) != engine.ReasonIncompleteBallot {
		t.Fatalf("reason = %q, want incomplete_ballot", engine.ReasonOf(err))
	}

	n, _ := f.env.Engine.Repo.CountVotesByVoter(f.env.Ctx, f.voter.ID)
	if n != 0 {
		t.Fatalf("votes = %d, want 0 after rejected ballots", n)
	}
	voter, _ := f.env.Engine.Repo.GetVoter(f.env.Ctx, f.voter.ID)
	if voter.Status != domain.VoterUncast {
		t.Fatalf("voter status = %s, want uncast", voter.Status)
	}
}

func TestCastBallotRollsBackOnMidTransactionFailure(t *testing.T) {
	f := newBallotFixture(t)

	// Plant a conflicting vote row for the second position so the cast fails
	// after the first insert already happened inside the transaction.
	secondPos := f.positions[1].ID
	_, err := f.env.Engine.DB.Exec(
		`INSERT INTO votes(id,voter_id,position_id,candidate_id,election_id,cast_at) VALUES (?,?,?,?,?,?)`,
		uuid.NewString(), f.voter.ID, secondPos, f.candidates[secondPos][1].ID, f.election.ID, nowStr())
	if err != nil {
		t.Fatalf("plant vote: %v", err)
	}

	_, err = f.env.Engine.CastBallot(f.env.Ctx, f.account.ID, f.selections())
	if engine.ReasonOf(err) != engine.ReasonAlreadyVoted {
		t.Fatalf("reason = %q, want already_voted (err: %v)", engine.ReasonOf(err), err)
	}

	// The vote for the first position rolls back with the transaction and
	// the voter stays uncast.
	var n int
	if err := f.env.Engine.DB.QueryRow(`SELECT COUNT(*) FROM votes WHERE voter_id=? AND position_id=?`, f.voter.ID, f.positions[0].ID).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("partial votes persisted: %d", n)
	}
	voter, _ := f.env.Engine.Repo.GetVoter(f.env.Ctx, f.voter.ID)
	if voter.Status != domain.VoterUncast {
		t.Fatalf("voter status = %s, want uncast", voter.Status)
	}
}

func TestConcurrentCastsCommitExactlyOne(t *testing.T) {
	f := newBallotFixture(t)

	const attempts = 4
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.env.Engine.CastBallot(f.env.Ctx, f.account.ID, f.selections())
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if engine.ReasonOf(err) != engine.ReasonAlreadyVoted {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("successful casts = %d, want exactly 1", succeeded)
	}

	n, err := f.env.Engine.Repo.CountVotesByVoter(f.env.Ctx, f.voter.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(f.positions) {
		t.Fatalf("votes = %d, want %d", n, len(f.positions))
	}
}

func TestRegisterVoterDuplicateAccount(t *testing.T) {
	f := newBallotFixture(t)
	_, err := f.env.Engine.RegisterVoter(f.env.Ctx, f.account.ID, &f.election.ID, nil)
	if engine.ReasonOf(err) != engine.ReasonConflict {
		t.Fatalf("reason = %q, want conflict", engine.ReasonOf(err))
	}
}
