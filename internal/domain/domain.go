package domain

// Election status values. Completed is terminal.
const (
	ElectionDraft     = "draft"
	ElectionInactive  = "inactive"
	ElectionActive    = "active"
	ElectionCompleted = "completed"
)

// Voter status values. Cast is set only by a successful ballot transaction.
const (
	VoterRegistered = "registered"
	VoterUncast     = "uncast"
	VoterCast       = "cast"
)

// Account roles.
const (
	RoleAdmin = "admin"
	RoleVoter = "voter"
)

type Election struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StartAt   string `json:"start_at" format:"date-time"`
	EndAt     string `json:"end_at" format:"date-time"`
	Status    string `json:"status" enum:"draft,inactive,active,completed"`
	OwnerID   string `json:"owner_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Position struct {
	ID            string `json:"id"`
	ElectionID    string `json:"election_id"`
	Name          string `json:"name"`
	MaxSelections int    `json:"max_selections"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type Candidate struct {
	ID         string `json:"id"`
	PositionID string `json:"position_id"`
	PartyID    string `json:"party_id"`
	ElectionID string `json:"election_id"`
	Name       string `json:"name"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Party struct {
	ID         string `json:"id"`
	ElectionID string `json:"election_id"`
	Name       string `json:"name"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Voter struct {
	ID         string  `json:"id"`
	AccountID  string  `json:"account_id"`
	ElectionID *string `json:"election_id,omitempty"`
	YearID     *string `json:"year_id,omitempty"`
	Status     string  `json:"status" enum:"registered,uncast,cast"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

type Vote struct {
	ID          string `json:"id"`
	VoterID     string `json:"voter_id"`
	PositionID  string `json:"position_id"`
	CandidateID string `json:"candidate_id"`
	ElectionID  string `json:"election_id"`
	CastAt      string `json:"cast_at" format:"date-time"`
}

type Account struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email,omitempty"`
	PasswordHash string `json:"password_hash,omitempty"`
	Role         string `json:"role" enum:"admin,voter"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Department struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Year struct {
	ID           string `json:"id"`
	DepartmentID string `json:"department_id"`
	Name         string `json:"name"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// Ballot is the outcome of one successful cast: every vote persisted for the
// voter in a single transaction.
type Ballot struct {
	VoterID    string `json:"voter_id"`
	ElectionID string `json:"election_id"`
	CastAt     string `json:"cast_at" format:"date-time"`
	Votes      []Vote `json:"votes"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ElectionID string `json:"election_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
