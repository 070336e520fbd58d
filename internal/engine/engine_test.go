package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"evs/internal/config"
	"evs/internal/db"
	"evs/internal/domain"
	"evs/internal/engine"
	"evs/internal/migrate"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return testNow }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func mustCreateElection(t *testing.T, env testEnv, start, end time.Time, status string) domain.Election {
	t.Helper()
	el, err := env.Engine.CreateElection(env.Ctx, engine.CreateElectionInput{
		Name:    "Council",
		StartAt: start,
		EndAt:   end,
		Status:  status,
		OwnerID: "tester",
	})
	if err != nil {
		t.Fatalf("create election: %v", err)
	}
	return el
}

func TestCreateElectionRejectsBadWindow(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateElection(env.Ctx, engine.CreateElectionInput{
		Name:    "bad",
		StartAt: testNow.Add(2 * time.Hour),
		EndAt:   testNow.Add(time.Hour),
		OwnerID: "tester",
	})
	var ve engine.ValidationError
	if err == nil {
		t.Fatal("expected validation error for start after end")
	}
	if !asValidation(err, &ve) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}

	_, err = env.Engine.CreateElection(env.Ctx, engine.CreateElectionInput{
		Name:    "bad",
		StartAt: testNow,
		EndAt:   testNow,
		OwnerID: "tester",
	})
	if err == nil {
		t.Fatal("expected validation error for zero-length window")
	}
}

func TestReconcileOpensAndCloses(t *testing.T) {
	env := newTestEnv(t)
	el := mustCreateElection(t, env, testNow.Add(-time.Hour), testNow.Add(time.Hour), domain.ElectionInactive)

	changes, err := env.Engine.Reconcile(env.Ctx, testNow)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(changes) != 1 || changes[0].To != domain.ElectionActive {
		t.Fatalf("expected one change to active, got %+v", changes)
	}
	got, err := env.Engine.Repo.GetElection(env.Ctx, el.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ElectionActive {
		t.Fatalf("status = %s, want active", got.Status)
	}

	// Past the end of the window the same election falls to completed.
	changes, err = env.Engine.Reconcile(env.Ctx, testNow.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(changes) != 1 || changes[0].To != domain.ElectionCompleted {
		t.Fatalf("expected one change to completed, got %+v", changes)
	}
	got, _ = env.Engine.Repo.GetElection(env.Ctx, el.ID)
	if got.Status != domain.ElectionCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	mustCreateElection(t, env, testNow.Add(-time.Hour), testNow.Add(time.Hour), domain.ElectionInactive)

	first, err := env.Engine.Reconcile(env.Ctx, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 {
		t.Fatalf("first sweep changes = %d, want 1", len(first))
	}
	second, err := env.Engine.Reconcile(env.Ctx, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Fatalf("second sweep changes = %d, want 0", len(second))
	}
}

func TestReconcileNeverActivatesDraft(t *testing.T) {
	env := newTestEnv(t)
	el := mustCreateElection(t, env, testNow.Add(-time.Hour), testNow.Add(time.Hour), domain.ElectionDraft)

	changes, err := env.Engine.Reconcile(env.Ctx, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Fatalf("draft election changed: %+v", changes)
	}
	got, _ := env.Engine.Repo.GetElection(env.Ctx, el.ID)
	if got.Status != domain.ElectionDraft {
		t.Fatalf("status = %s, want draft", got.Status)
	}
}

func TestReconcileCompletesExpiredDraft(t *testing.T) {
	env := newTestEnv(t)
	el := mustCreateElection(t, env, testNow.Add(-2*time.Hour), testNow.Add(-time.Hour), domain.ElectionDraft)

	changes, err := env.Engine.Reconcile(env.Ctx, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].To != domain.ElectionCompleted {
		t.Fatalf("changes = %+v, want one completion", changes)
	}
	got, _ := env.Engine.Repo.GetElection(env.Ctx, el.ID)
	if got.Status != domain.ElectionCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

func TestConcurrentSweepsApplyTransitionOnce(t *testing.T) {
	env := newTestEnv(t)
	mustCreateElection(t, env, testNow.Add(-time.Hour), testNow.Add(time.Hour), domain.ElectionInactive)

	const sweeps = 4
	results := make([][]engine.StatusChange, sweeps)
	var wg sync.WaitGroup
	for i := 0; i < sweeps; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			changes, err := env.Engine.Reconcile(env.Ctx, testNow)
			if err != nil {
				t.Errorf("sweep %d: %v", i, err)
				return
			}
			results[i] = changes
		}(i)
	}
	wg.Wait()

	total := 0
	for _, changes := range results {
		total += len(changes)
	}
	if total != 1 {
		t.Fatalf("transitions applied = %d, want exactly 1", total)
	}

	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "election.status.changed")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("status change events = %d, want 1", len(events))
	}
}

func TestPauseAndReactivate(t *testing.T) {
	env := newTestEnv(t)
	el := mustCreateElection(t, env, testNow.Add(-time.Hour), testNow.Add(time.Hour), domain.ElectionInactive)

	if _, err := env.Engine.Reconcile(env.Ctx, testNow); err != nil {
		t.Fatal(err)
	}
	paused, err := env.Engine.PauseElection(env.Ctx, el.ID, "admin")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.Status != domain.ElectionInactive {
		t.Fatalf("status after pause = %s, want inactive", paused.Status)
	}

	// The window is still open, so the next sweep re-opens it.
	changes, err := env.Engine.Reconcile(env.Ctx, testNow.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].To != domain.ElectionActive {
		t.Fatalf("expected reactivation, got %+v", changes)
	}
}

func TestPauseRejectsCompleted(t *testing.T) {
	env := newTestEnv(t)
	el := mustCreateElection(t, env, testNow.Add(-2*time.Hour), testNow.Add(-time.Hour), domain.ElectionInactive)

	if _, err := env.Engine.Reconcile(env.Ctx, testNow); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.PauseElection(env.Ctx, el.ID, "admin")
	if err == nil {
		t.Fatal("expected conflict pausing a completed election")
	}
	if engine.ReasonOf(err) != engine.ReasonConflict {
		t.Fatalf("reason = %q, want conflict", engine.ReasonOf(err))
	}
}

func TestManualStartBeforeWindow(t *testing.T) {
	env := newTestEnv(t)
	el := mustCreateElection(t, env, testNow.Add(time.Hour), testNow.Add(2*time.Hour), domain.ElectionInactive)

	started, err := env.Engine.StartElection(env.Ctx, el.ID, "admin")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != domain.ElectionActive {
		t.Fatalf("status = %s, want active", started.Status)
	}
	// A sweep before the window leaves the manual activation alone.
	changes, err := env.Engine.Reconcile(env.Ctx, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Fatalf("sweep reverted manual start: %+v", changes)
	}
}

func TestCreateAccountAndAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateAccount(env.Ctx, "alice", "alice@example.com", "s3cret", domain.RoleVoter)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if a.PasswordHash != "" {
		t.Fatal("password hash must not leak")
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "alice", "s3cret"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "alice", "wrong"); err == nil {
		t.Fatal("expected authentication failure")
	}
	if _, err := env.Engine.CreateAccount(env.Ctx, "alice", "", "other", domain.RoleVoter); err == nil {
		t.Fatal("expected conflict on duplicate username")
	}
}

func asValidation(err error, target *engine.ValidationError) bool {
	ve, ok := err.(engine.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}
