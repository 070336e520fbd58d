package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"evs/internal/domain"
	"evs/internal/engine"
	"evs/internal/events"
)

// FormatVersion is bumped whenever the snapshot layout changes shape.
const FormatVersion = 1

// restoreTimeout bounds the restore transaction so a held sqlite lock fails
// the restore instead of stalling it.
const restoreTimeout = 30 * time.Second

// Snapshot is the full portable state of one service instance. Admin
// accounts are deliberately absent: they belong to the target instance and
// survive a restore untouched.
type Snapshot struct {
	FormatVersion int            `json:"format_version"`
	ExportedAt    string         `json:"exported_at" format:"date-time"`
	RecordCounts  map[string]int `json:"record_counts"`

	Departments []domain.Department `json:"departments"`
	Years       []domain.Year       `json:"years"`
	Accounts    []domain.Account    `json:"accounts"`
	Elections   []domain.Election   `json:"elections"`
	Parties     []domain.Party      `json:"parties"`
	Positions   []domain.Position   `json:"positions"`
	Candidates  []domain.Candidate  `json:"candidates"`
	Voters      []domain.Voter      `json:"voters"`
	Votes       []domain.Vote       `json:"votes"`
}

// kindSpec describes one record kind: its parents in the foreign key graph
// and how to export, wipe, and reload it. The insert statement uses INSERT
// OR IGNORE so a retried restore converges instead of failing on leftovers.
type kindSpec struct {
	name         string
	deps         []string
	export       func(ctx context.Context, db *sql.DB, s *Snapshot) error
	deleteAllSQL string
	insert       func(ctx context.Context, tx *sql.Tx, s *Snapshot) (int, error)
	count        func(s *Snapshot) int
}

var kinds = []kindSpec{
	{
		name: "departments",
		export: func(ctx context.Context, db *sql.DB, s *Snapshot) error {
			return queryAll(ctx, db, `SELECT id,name,created_at FROM departments ORDER BY id`, func(rows *sql.Rows) error {
				var d domain.Department
				if err := rows.Scan(&d.ID, &d.Name, &d.CreatedAt); err != nil {
					return err
				}
				s.Departments = append(s.Departments, d)
				return nil
			})
		},
		deleteAllSQL: `DELETE FROM departments`,
		insert: func(ctx context.Context, tx *sql.Tx, s *Snapshot) (int, error) {
			n := 0
			for _, d := range s.Departments {
				if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO departments(id,name,created_at) VALUES (?,?,?)`, d.ID, d.Name, d.CreatedAt); err != nil {
					return n, err
				}
				n++
			}
			return n, nil
		},
		count: func(s *Snapshot) int { return len(s.Departments) },
	},
	{
		name: "years",
		deps: []string{"departments"},
		export: func(ctx context.Context, db *sql.DB, s *Snapshot) error {
			return queryAll(ctx, db, `SELECT id,department_id,name,created_at FROM years ORDER BY id`, func(rows *sql.Rows) error {
				var y domain.Year
				if err := rows.Scan(&y.ID, &y.DepartmentID, &y.Name, &y.CreatedAt); err != nil {
					return err
				}
				s.Years = append(s.Years, y)
				return nil
			})
		},
		deleteAllSQL: `DELETE FROM years`,
		insert: func(ctx context.Context, tx *sql.Tx, s *Snapshot) (int, error) {
			n := 0
			for _, y := range s.Years {
				if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO years(id,department_id,name,created_at) VALUES (?,?,?,?)`, y.ID, y.DepartmentID, y.Name, y.CreatedAt); err != nil {
					return n, err
				}
				n++
			}
			return n, nil
		},
		count: func(s *Snapshot) int { return len(s.Years) },
	},
	{
		name: "accounts",
		export: func(ctx context.Context, db *sql.DB, s *Snapshot) error {
			return queryAll(ctx, db, `SELECT id,username,COALESCE(email,''),password_hash,role,created_at FROM accounts WHERE role != 'admin' ORDER BY id`, func(rows *sql.Rows) error {
				var a domain.Account
				if err := rows.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.Role, &a.CreatedAt); err != nil {
					return err
				}
				s.Accounts = append(s.Accounts, a)
				return nil
			})
		},
		deleteAllSQL: `DELETE FROM accounts WHERE role != 'admin'`,
		insert: func(ctx context.Context, tx *sql.Tx, s *Snapshot) (int, error) {
			n := 0
			for _, a := range s.Accounts {
				if a.Role == domain.RoleAdmin {
					continue
				}
				if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO accounts(id,username,email,password_hash,role,created_at) VALUES (?,?,?,?,?,?)`,
					a.ID, a.Username, nullable(a.Email), a.PasswordHash, a.Role, a.CreatedAt); err != nil {
					return n, err
				}
				n++
			}
			return n, nil
		},
		count: func(s *Snapshot) int { return len(s.Accounts) },
	},
	{
		name: "elections",
		export: func(ctx context.Context, db *sql.DB, s *Snapshot) error {
			return queryAll(ctx, db, `SELECT id,name,start_at,end_at,status,owner_id,created_at,updated_at FROM elections ORDER BY id`, func(rows *sql.Rows) error {
				var e domain.Election
				if err := rows.Scan(&e.ID, &e.Name, &e.StartAt, &e.EndAt, &e.Status, &e.OwnerID, &e.CreatedAt, &e.UpdatedAt); err != nil {
					return err
				}
				s.Elections = append(s.Elections, e)
				return nil
			})
		},
		deleteAllSQL: `DELETE FROM elections`,
		insert: func(ctx context.Context, tx *sql.Tx, s *Snapshot) (int, error) {
			n := 0
			for _, e := range s.Elections {
				if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO elections(id,name,start_at,end_at,status,owner_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
					e.ID, e.Name, e.StartAt, e.EndAt, e.Status, e.OwnerID, e.CreatedAt, e.UpdatedAt); err != nil {
					return n, err
				}
				n++
			}
			return n, nil
		},
		count: func(s *Snapshot) int { return len(s.Elections) },
	},
	{
		name: "parties",
		deps: []string{"elections"},
		export: func(ctx context.Context, db *sql.DB, s *Snapshot) error {
			return queryAll(ctx, db, `SELECT id,election_id,name,created_at FROM parties ORDER BY id`, func(rows *sql.Rows) error {
				var p domain.Party
				if err := rows.Scan(&p.ID, &p.ElectionID, &p.Name, &p.CreatedAt); err != nil {
					return err
				}
				s.Parties = append(s.Parties, p)
				return nil
			})
		},
		deleteAllSQL: `DELETE FROM parties`,
		insert: func(ctx context.Context, tx *sql.Tx, s *Snapshot) (int, error) {
			n := 0
			for _, p := range s.Parties {
				if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO parties(id,election_id,name,created_at) VALUES (?,?,?,?)`, p.ID, p.ElectionID, p.Name, p.CreatedAt); err != nil {
					return n, err
				}
				n++
			}
			return n, nil
		},
		count: func(s *Snapshot) int { return len(s.Parties) },
	},
	{
		name: "positions",
		deps: []string{"elections"},
		export: func(ctx context.Context, db *sql.DB, s *Snapshot) error {
			return queryAll(ctx, db, `SELECT id,election_id,name,max_selections,created_at FROM positions ORDER BY id`, func(rows *sql.Rows) error {
				var p domain.Position
				if err := rows.Scan(&p.ID, &p.ElectionID, &p.Name, &p.MaxSelections, &p.CreatedAt); err != nil {
					return err
				}
				s.Positions = append(s.Positions, p)
				return nil
			})
		},
		deleteAllSQL: `DELETE FROM positions`,
		insert: func(ctx context.Context, tx *sql.Tx, s *Snapshot) (int, error) {
			n := 0
			for _, p := range s.Positions {
				if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO positions(id,election_id,name,max_selections,created_at) VALUES (?,?,?,?,?)`,
					p.ID, p.ElectionID, p.Name, p.MaxSelections, p.CreatedAt); err != nil {
					return n, err
				}
				n++
			}
			return n, nil
		},
		count: func(s *Snapshot) int { return len(s.Positions) },
	},
	{
		name: "candidates",
		deps: []string{"positions", "parties"},
		export: func(ctx context.Context, db *sql.DB, s *Snapshot) error {
			return queryAll(ctx, db, `SELECT id,position_id,party_id,election_id,name,created_at FROM candidates ORDER BY id`, func(rows *sql.Rows) error {
				var c domain.Candidate
				if err := rows.Scan(&c.ID, &c.PositionID, &c.PartyID, &c.ElectionID, &c.Name, &c.CreatedAt); err != nil {
					return err
				}
				s.Candidates = append(s.Candidates, c)
				return nil
			})
		},
		deleteAllSQL: `DELETE FROM candidates`,
		insert: func(ctx context.Context, tx *sql.Tx, s *Snapshot) (int, error) {
			n := 0
			for _, c := range s.Candidates {
				if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO candidates(id,position_id,party_id,election_id,name,created_at) VALUES (?,?,?,?,?,?)`,
					c.ID, c.PositionID, c.PartyID, c.ElectionID, c.Name, c.CreatedAt); err != nil {
					return n, err
				}
				n++
			}
			return n, nil
		},
		count: func(s *Snapshot) int { return len(s.Candidates) },
	},
	{
		name: "voters",
		deps: []string{"accounts", "elections", "years"},
		export: func(ctx context.Context, db *sql.DB, s *Snapshot) error {
			return queryAll(ctx, db, `SELECT id,account_id,election_id,year_id,status,created_at,updated_at FROM voters ORDER BY id`, func(rows *sql.Rows) error {
				var v domain.Voter
				if err := rows.Scan(&v.ID, &v.AccountID, &v.ElectionID, &v.YearID, &v.Status, &v.CreatedAt, &v.UpdatedAt); err != nil {
					return err
				}
				s.Voters = append(s.Voters, v)
				return nil
			})
		},
		deleteAllSQL: `DELETE FROM voters`,
		insert: func(ctx context.Context, tx *sql.Tx, s *Snapshot) (int, error) {
			n := 0
			for _, v := range s.Voters {
				if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO voters(id,account_id,election_id,year_id,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
					v.ID, v.AccountID, nullablePtr(v.ElectionID), nullablePtr(v.YearID), v.Status, v.CreatedAt, v.UpdatedAt); err != nil {
					return n, err
				}
				n++
			}
			return n, nil
		},
		count: func(s *Snapshot) int { return len(s.Voters) },
	},
	{
		name: "votes",
		deps: []string{"voters", "positions", "candidates"},
		export: func(ctx context.Context, db *sql.DB, s *Snapshot) error {
			return queryAll(ctx, db, `SELECT id,voter_id,position_id,candidate_id,election_id,cast_at FROM votes ORDER BY id`, func(rows *sql.Rows) error {
				var v domain.Vote
				if err := rows.Scan(&v.ID, &v.VoterID, &v.PositionID, &v.CandidateID, &v.ElectionID, &v.CastAt); err != nil {
					return err
				}
				s.Votes = append(s.Votes, v)
				return nil
			})
		},
		deleteAllSQL: `DELETE FROM votes`,
		insert: func(ctx context.Context, tx *sql.Tx, s *Snapshot) (int, error) {
			n := 0
			for _, v := range s.Votes {
				if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO votes(id,voter_id,position_id,candidate_id,election_id,cast_at) VALUES (?,?,?,?,?,?)`,
					v.ID, v.VoterID, v.PositionID, v.CandidateID, v.ElectionID, v.CastAt); err != nil {
					return n, err
				}
				n++
			}
			return n, nil
		},
		count: func(s *Snapshot) int { return len(s.Votes) },
	},
}

// dependencyOrder topologically sorts the kind table so parents come before
// children. Restore deletes in the reverse of this order and inserts in it.
func dependencyOrder() ([]kindSpec, error) {
	byName := make(map[string]kindSpec, len(kinds))
	indeg := make(map[string]int, len(kinds))
	dependents := make(map[string][]string)
	for _, k := range kinds {
		byName[k.name] = k
		indeg[k.name] = len(k.deps)
		for _, d := range k.deps {
			dependents[d] = append(dependents[d], k.name)
		}
	}
	ready := []string{}
	for name, n := range indeg {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)
	ordered := make([]kindSpec, 0, len(kinds))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byName[name])
		next := []string{}
		for _, dep := range dependents[name] {
			indeg[dep]--
			if indeg[dep] == 0 {
				next = append(next, dep)
			}
		}
		sort.Strings(next)
		ready = append(ready, next...)
	}
	if len(ordered) != len(kinds) {
		return nil, fmt.Errorf("dependency cycle in kind table")
	}
	return ordered, nil
}

// Export reads the full instance state into a Snapshot.
func Export(ctx context.Context, db *sql.DB, now time.Time) (*Snapshot, error) {
	ordered, err := dependencyOrder()
	if err != nil {
		return nil, err
	}
	s := &Snapshot{
		FormatVersion: FormatVersion,
		ExportedAt:    now.UTC().Format(time.RFC3339),
		RecordCounts:  map[string]int{},
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
	for _, k := range ordered {
		if err := k.export(ctx, db, s); err != nil {
			return nil, fmt.Errorf("export %s: %w", k.name, err)
		}
		s.RecordCounts[k.name] = k.count(s)
	}
	return s, nil
}

// Validate rejects a snapshot before any write happens. A snapshot that
// fails here leaves the target instance untouched.
func (s *Snapshot) Validate() error {
	if s == nil {
		return engine.ValidationError{Msg: "snapshot is empty"}
	}
	if s.FormatVersion != FormatVersion {
		return engine.ValidationError{Msg: fmt.Sprintf("unsupported format_version %d", s.FormatVersion)}
	}
	if s.ExportedAt == "" {
		return engine.ValidationError{Msg: "exported_at is required"}
	}
	if _, err := time.Parse(time.RFC3339, s.ExportedAt); err != nil {
		return engine.ValidationError{Msg: fmt.Sprintf("exported_at: %v", err)}
	}
	// Every collection must be present, if only as an empty array. A
	// metadata-only document would otherwise validate and then wipe the
	// target wholesale.
	for _, c := range []struct {
		name    string
		missing bool
	}{
		{"departments", s.Departments == nil},
		{"years", s.Years == nil},
		{"accounts", s.Accounts == nil},
		{"elections", s.Elections == nil},
		{"parties", s.Parties == nil},
		{"positions", s.Positions == nil},
		{"candidates", s.Candidates == nil},
		{"voters", s.Voters == nil},
		{"votes", s.Votes == nil},
	} {
		if c.missing {
			return engine.ValidationError{Msg: fmt.Sprintf("snapshot is missing the %s collection", c.name)}
		}
	}
	for _, a := range s.Accounts {
		if a.Role == domain.RoleAdmin {
			return engine.ValidationError{Msg: "snapshot must not carry admin accounts"}
		}
	}
	voterIDs := make(map[string]bool, len(s.Voters))
	for _, v := range s.Voters {
		voterIDs[v.ID] = true
	}
	for _, v := range s.Votes {
		if !voterIDs[v.VoterID] {
			return engine.ValidationError{Msg: fmt.Sprintf("vote %s references unknown voter %s", v.ID, v.VoterID)}
		}
	}
	return nil
}

// RestoreResult summarizes what one restore inserted.
type RestoreResult struct {
	Inserted map[string]int `json:"inserted"`
}

// Restore replaces the instance state with the snapshot in one transaction:
// children are deleted before their parents, then everything is reinserted
// parents first. Admin accounts on the target are never touched. A failed
// restore rolls back completely; retrying the same snapshot converges to the
// same final state.
func Restore(ctx context.Context, db *sql.DB, ev events.Writer, s *Snapshot, actorID string) (*RestoreResult, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	ordered, err := dependencyOrder()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, restoreTimeout)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	for i := len(ordered) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, ordered[i].deleteAllSQL); err != nil {
			return nil, fmt.Errorf("clear %s: %w", ordered[i].name, err)
		}
	}
	res := &RestoreResult{Inserted: map[string]int{}}
	for _, k := range ordered {
		n, err := k.insert(ctx, tx, s)
		if err != nil {
			return nil, fmt.Errorf("restore %s: %w", k.name, err)
		}
		res.Inserted[k.name] = n
	}
	if err := ev.Append(ctx, tx, "backup.restored", "", "snapshot", "", actorID, events.EventPayload{
		"exported_at": s.ExportedAt,
		"inserted":    res.Inserted,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// Decode parses a snapshot from JSON.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &s, nil
}

// Encode renders a snapshot as indented JSON, stable enough to diff.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

func queryAll(ctx context.Context, db *sql.DB, query string, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
