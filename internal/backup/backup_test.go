package backup_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"evs/internal/backup"
	"evs/internal/config"
	"evs/internal/db"
	"evs/internal/domain"
	"evs/internal/engine"
	"evs/internal/migrate"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newPopulatedEngine builds an instance with an admin, a full election with
// one cast ballot, and the supporting catalog rows.
func newPopulatedEngine(t *testing.T) *engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return testNow }
	ctx := context.Background()

	if _, err := e.CreateAccount(ctx, "root", "", "adminpw", domain.RoleAdmin); err != nil {
		t.Fatalf("admin account: %v", err)
	}

	el, err := e.CreateElection(ctx, engine.CreateElectionInput{
		Name:    "Council",
		StartAt: testNow.Add(-time.Hour),
		EndAt:   testNow.Add(time.Hour),
		Status:  domain.ElectionInactive,
		OwnerID: "root",
	})
	if err != nil {
		t.Fatalf("create election: %v", err)
	}
	if _, err := e.Reconcile(ctx, testNow); err != nil {
		t.Fatalf("activate: %v", err)
	}

	dept := domain.Department{ID: uuid.NewString(), Name: "Engineering", CreatedAt: stamp()}
	if err := e.Repo.InsertDepartment(ctx, dept); err != nil {
		t.Fatal(err)
	}
	year := domain.Year{ID: uuid.NewString(), DepartmentID: dept.ID, Name: "2026", CreatedAt: stamp()}
	if err := e.Repo.InsertYear(ctx, year); err != nil {
		t.Fatal(err)
	}
	party := domain.Party{ID: uuid.NewString(), ElectionID: el.ID, Name: "Independents", CreatedAt: stamp()}
	if err := e.Repo.InsertParty(ctx, party); err != nil {
		t.Fatal(err)
	}
	pos := domain.Position{ID: uuid.NewString(), ElectionID: el.ID, Name: "President", MaxSelections: 1, CreatedAt: stamp()}
	if err := e.Repo.InsertPosition(ctx, pos); err != nil {
		t.Fatal(err)
	}
	cand := domain.Candidate{ID: uuid.NewString(), PositionID: pos.ID, PartyID: party.ID, ElectionID: el.ID, Name: "Alice", CreatedAt: stamp()}
	if err := e.Repo.InsertCandidate(ctx, cand); err != nil {
		t.Fatal(err)
	}

	account, err := e.CreateAccount(ctx, "voter1", "", "pw", domain.RoleVoter)
	if err != nil {
		t.Fatal(err)
	}
	voter, err := e.RegisterVoter(ctx, account.ID, &el.ID, &year.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.MarkVoterEligible(ctx, voter.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CastBallot(ctx, account.ID, map[string]string{pos.ID: cand.ID}); err != nil {
		t.Fatalf("cast: %v", err)
	}
	return e
}

func stamp() string { return testNow.Format(time.RFC3339) }

func countRows(t *testing.T, e *engine.Engine, table string) int {
	t.Helper()
	var n int
	if err := e.DB.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestExportCounts(t *testing.T) {
	e := newPopulatedEngine(t)
	s, err := backup.Export(context.Background(), e.DB, testNow)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if s.FormatVersion != backup.FormatVersion {
		t.Fatalf("format_version = %d", s.FormatVersion)
	}
	want := map[string]int{
		"departments": 1,
		"years":       1,
		"accounts":    1, // the admin is excluded
		"elections":   1,
		"parties":     1,
		"positions":   1,
		"candidates":  1,
		"voters":      1,
		"votes":       1,
	}
	for kind, n := range want {
		if s.RecordCounts[kind] != n {
			t.Fatalf("record_counts[%s] = %d, want %d", kind, s.RecordCounts[kind], n)
		}
	}
	for _, a := range s.Accounts {
		if a.Role == domain.RoleAdmin {
			t.Fatal("admin account leaked into snapshot")
		}
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	source := newPopulatedEngine(t)
	snapshot, err := backup.Export(context.Background(), source.DB, testNow)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := snapshot.Encode()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := backup.Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	target := newPopulatedEngine(t)
	// Give the target its own admin that must survive.
	ctx := context.Background()
	if _, err := target.CreateAccount(ctx, "target-admin", "", "pw2", domain.RoleAdmin); err != nil {
		t.Fatal(err)
	}

	res, err := backup.Restore(ctx, target.DB, target.Events, decoded, "target-admin")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if res.Inserted["votes"] != 1 || res.Inserted["voters"] != 1 {
		t.Fatalf("inserted = %+v", res.Inserted)
	}

	admins, err := target.Repo.ListAccounts(ctx, domain.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if len(admins) != 2 {
		t.Fatalf("admins after restore = %d, want 2 (root and target-admin)", len(admins))
	}
	if countRows(t, target, "votes") != 1 {
		t.Fatalf("votes after restore = %d", countRows(t, target, "votes"))
	}

	// Restoring the same snapshot again converges to the same state.
	if _, err := backup.Restore(ctx, target.DB, target.Events, decoded, "target-admin"); err != nil {
		t.Fatalf("second restore: %v", err)
	}
	if countRows(t, target, "votes") != 1 || countRows(t, target, "voters") != 1 {
		t.Fatal("second restore diverged")
	}
}

func TestRestoreRejectsInvalidSnapshotWithoutMutation(t *testing.T) {
	target := newPopulatedEngine(t)
	ctx := context.Background()
	before := map[string]int{}
	for _, table := range []string{"votes", "voters", "elections", "accounts"} {
		before[table] = countRows(t, target, table)
	}

	bad := emptySnapshot()
	bad.FormatVersion = 99
	if _, err := backup.Restore(ctx, target.DB, target.Events, bad, "admin"); err == nil {
		t.Fatal("expected rejection of unsupported format_version")
	}

	withAdmin := emptySnapshot()
	withAdmin.Accounts = []domain.Account{{ID: "x", Username: "evil", PasswordHash: "h", Role: domain.RoleAdmin, CreatedAt: stamp()}}
	if _, err := backup.Restore(ctx, target.DB, target.Events, withAdmin, "admin"); err == nil {
		t.Fatal("expected rejection of snapshot carrying admin accounts")
	}

	dangling := emptySnapshot()
	dangling.Votes = []domain.Vote{{ID: "v1", VoterID: "missing", PositionID: "p", CandidateID: "c", ElectionID: "e", CastAt: stamp()}}
	if _, err := backup.Restore(ctx, target.DB, target.Events, dangling, "admin"); err == nil {
		t.Fatal("expected rejection of vote referencing unknown voter")
	}

	for table, n := range before {
		if countRows(t, target, table) != n {
			t.Fatalf("%s mutated by rejected restore", table)
		}
	}
}

// emptySnapshot builds a structurally complete snapshot with no records, the
// smallest document Validate accepts.
func emptySnapshot() *backup.Snapshot {
	return &backup.Snapshot{
		FormatVersion: backup.FormatVersion,
		ExportedAt:    stamp(),
		Departments:   []domain.Department{},
		Years:         []domain.Year{},
		Accounts:      []domain.Account{},
		Elections:     []domain.Election{},
		Parties:       []domain.Party{},
		Positions:     []domain.Position{},
		Candidates:    []domain.Candidate{},
		Voters:        []domain.Voter{},
		Votes:         []domain.Vote{},
	}
}

func TestRestoreRejectsMetadataOnlySnapshot(t *testing.T) {
	target := newPopulatedEngine(t)
	ctx := context.Background()
	before := map[string]int{}
	for _, table := range []string{"votes", "voters", "elections"} {
		before[table] = countRows(t, target, table)
	}

	// A document carrying only the metadata block decodes to nil
	// collections and must not be treated as "delete everything".
	doc := fmt.Sprintf(`{"format_version":%d,"exported_at":%q}`, backup.FormatVersion, stamp())
	s, err := backup.Decode([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	_, err = backup.Restore(ctx, target.DB, target.Events, s, "admin")
	if err == nil {
		t.Fatal("expected rejection of metadata-only snapshot")
	}
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %T %v, want ValidationError", err, err)
	}

	for table, n := range before {
		if countRows(t, target, table) != n {
			t.Fatalf("%s mutated by rejected restore", table)
		}
	}
}

func TestRestoreEmitsEvent(t *testing.T) {
	source := newPopulatedEngine(t)
	snapshot, err := backup.Export(context.Background(), source.DB, testNow)
	if err != nil {
		t.Fatal(err)
	}
	target := newPopulatedEngine(t)
	ctx := context.Background()
	if _, err := backup.Restore(ctx, target.DB, target.Events, snapshot, "admin"); err != nil {
		t.Fatal(err)
	}
	events, err := target.Repo.LatestEvents(ctx, 5, "", "backup.restored")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("backup.restored events = %d, want 1", len(events))
	}
}
