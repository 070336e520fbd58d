package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"evs/internal/config"
	"evs/internal/domain"
	"evs/internal/events"
	"evs/internal/repo"
)

// txTimeout bounds a single write transaction so a held sqlite lock surfaces
// as an error instead of blocking past the busy timeout.
const txTimeout = 10 * time.Second

// Engine owns the business rules of the election service. Repo handles SQL,
// Events appends to the audit log inside the same transaction, and Now is
// injectable so tests can pin the clock.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Log    *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	now := func() time.Time { return time.Now().UTC() }
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db, Now: now},
		Config: cfg,
		Log:    slog.Default(),
		Now:    now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) nowString() string {
	return e.now().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// CreateElectionInput carries everything needed to create an election.
// Status defaults to draft; only draft and inactive are accepted, the
// reconciler owns every other transition.
type CreateElectionInput struct {
	Name    string
	StartAt time.Time
	EndAt   time.Time
	Status  string
	OwnerID string
}

func (e *Engine) CreateElection(ctx context.Context, in CreateElectionInput) (domain.Election, error) {
	if in.Name == "" {
		return domain.Election{}, ValidationError{Msg: "name is required"}
	}
	if in.StartAt.IsZero() || in.EndAt.IsZero() {
		return domain.Election{}, ValidationError{Msg: "start_at and end_at are required"}
	}
	if !in.StartAt.Before(in.EndAt) {
		return domain.Election{}, ValidationError{Msg: "start_at must be before end_at"}
	}
	status := in.Status
	if status == "" {
		status = domain.ElectionDraft
	}
	if status != domain.ElectionDraft && status != domain.ElectionInactive {
		return domain.Election{}, ValidationError{Msg: "status must be draft or inactive"}
	}
	nowstr := e.nowString()
	el := domain.Election{
		ID:        uuid.NewString(),
		Name:      in.Name,
		StartAt:   in.StartAt.UTC().Format(time.RFC3339),
		EndAt:     in.EndAt.UTC().Format(time.RFC3339),
		Status:    status,
		OwnerID:   in.OwnerID,
		CreatedAt: nowstr,
		UpdatedAt: nowstr,
	}
	if err := e.Repo.InsertElection(ctx, el); err != nil {
		return domain.Election{}, fmt.Errorf("insert election: %w", err)
	}
	return el, nil
}

// PublishElection moves a draft into the reconciler's hands.
func (e *Engine) PublishElection(ctx context.Context, id, actorID string) (domain.Election, error) {
	return e.override(ctx, id, actorID, domain.ElectionDraft, domain.ElectionInactive)
}

// StartElection opens an election by hand, without waiting for the sweep.
func (e *Engine) StartElection(ctx context.Context, id, actorID string) (domain.Election, error) {
	return e.override(ctx, id, actorID, domain.ElectionInactive, domain.ElectionActive)
}

// PauseElection suspends an active election. The next sweep promotes it back
// to active if the voting window is still open.
func (e *Engine) PauseElection(ctx context.Context, id, actorID string) (domain.Election, error) {
	return e.override(ctx, id, actorID, domain.ElectionActive, domain.ElectionInactive)
}

// override performs a manual from->to transition as a compare-and-swap so a
// concurrent sweep cannot be trampled.
func (e *Engine) override(ctx context.Context, id, actorID, from, to string) (domain.Election, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Election{}, err
	}
	defer tx.Rollback()

	el, err := e.Repo.GetElectionTx(ctx, tx, id)
	if err != nil {
		return domain.Election{}, err
	}
	if el.Status == domain.ElectionCompleted {
		return domain.Election{}, ConflictError{Reason: ReasonConflict, Msg: "election is completed"}
	}
	if el.Status != from {
		return domain.Election{}, ConflictError{Reason: ReasonConflict, Msg: fmt.Sprintf("election is %s, expected %s", el.Status, from)}
	}
	nowstr := e.nowString()
	won, err := e.Repo.UpdateElectionStatusCAS(ctx, tx, id, from, to, nowstr)
	if err != nil {
		return domain.Election{}, err
	}
	if !won {
		return domain.Election{}, ConflictError{Reason: ReasonConflict, Msg: "election changed concurrently"}
	}
	if err := e.Events.Append(ctx, tx, "election.status.changed", id, "election", id, actorID, events.EventPayload{
		"from": from, "to": to, "manual": true,
	}); err != nil {
		return domain.Election{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Election{}, err
	}
	el.Status = to
	el.UpdatedAt = nowstr
	return el, nil
}

// StatusChange records one transition applied by a sweep.
type StatusChange struct {
	ElectionID string `json:"election_id"`
	From       string `json:"from"`
	To         string `json:"to"`
}

// Reconcile runs one sweep: for every non-completed election it computes the
// status the schedule calls for and applies it with a conditional update.
// A lost compare-and-swap means another sweep already applied the same
// transition, so it is skipped silently. Per-election failures are logged and
// do not abort the sweep. Running it twice at the same instant is a no-op the
// second time.
func (e *Engine) Reconcile(ctx context.Context, now time.Time) ([]StatusChange, error) {
	elections, err := e.Repo.ListNonTerminalElections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list elections: %w", err)
	}
	changes := []StatusChange{}
	for _, el := range elections {
		change, err := e.reconcileOne(ctx, now, el)
		if err != nil {
			e.Log.Error("reconcile election", "election_id", el.ID, "error", err)
			continue
		}
		if change != nil {
			changes = append(changes, *change)
		}
	}
	return changes, nil
}

func (e *Engine) reconcileOne(ctx context.Context, now time.Time, el domain.Election) (*StatusChange, error) {
	startAt, err := parseTime(el.StartAt)
	if err != nil {
		return nil, fmt.Errorf("parse start_at: %w", err)
	}
	endAt, err := parseTime(el.EndAt)
	if err != nil {
		return nil, fmt.Errorf("parse end_at: %w", err)
	}
	target := TargetStatus(now, startAt, endAt, el.Status)
	if target == el.Status {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	won, err := e.Repo.UpdateElectionStatusCAS(ctx, tx, el.ID, el.Status, target, e.nowString())
	if err != nil {
		return nil, err
	}
	if !won {
		// Another sweep or a manual override got there first.
		return nil, nil
	}
	if err := e.Events.Append(ctx, tx, "election.status.changed", el.ID, "election", el.ID, "scheduler", events.EventPayload{
		"from": el.Status, "to": target, "at": now.UTC().Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.Log.Info("election status changed", "election_id", el.ID, "from", el.Status, "to", target)
	return &StatusChange{ElectionID: el.ID, From: el.Status, To: target}, nil
}

// CreateAccount hashes the password and stores the account.
func (e *Engine) CreateAccount(ctx context.Context, username, email, password, role string) (domain.Account, error) {
	if username == "" || password == "" {
		return domain.Account{}, ValidationError{Msg: "username and password are required"}
	}
	if role != domain.RoleAdmin && role != domain.RoleVoter {
		return domain.Account{}, ValidationError{Msg: "role must be admin or voter"}
	}
	a := domain.Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: repo.HashSecret(password),
		Role:         role,
		CreatedAt:    e.nowString(),
	}
	if err := e.Repo.InsertAccount(ctx, nil, a); err != nil {
		if isConstraintViolation(err) {
			return domain.Account{}, ConflictError{Reason: ReasonConflict, Msg: "username already taken"}
		}
		return domain.Account{}, err
	}
	a.PasswordHash = ""
	return a, nil
}

// Authenticate checks a username/password pair and returns the account.
func (e *Engine) Authenticate(ctx context.Context, username, password string) (domain.Account, error) {
	a, err := e.Repo.GetAccountByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Account{}, ConflictError{Reason: "not_authenticated", Msg: "invalid credentials"}
		}
		return domain.Account{}, err
	}
	if a.PasswordHash != repo.HashSecret(password) {
		return domain.Account{}, ConflictError{Reason: "not_authenticated", Msg: "invalid credentials"}
	}
	a.PasswordHash = ""
	return a, nil
}
