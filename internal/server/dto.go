package server

import (
	"evs/internal/domain"
	"evs/internal/engine"
)

type LoginRequest struct {
	Username string `json:"username" example:"admin"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	AccountID string `json:"account_id"`
	Role      string `json:"role" enum:"admin,voter"`
}

type CreateElectionRequest struct {
	Name    string  `json:"name" example:"Student Council 2026"`
	StartAt string  `json:"start_at" format:"date-time"`
	EndAt   string  `json:"end_at" format:"date-time"`
	Status  *string `json:"status,omitempty" enum:"draft,inactive"`
}

type UpdateElectionRequest struct {
	Name    *string `json:"name,omitempty"`
	StartAt *string `json:"start_at,omitempty" format:"date-time"`
	EndAt   *string `json:"end_at,omitempty" format:"date-time"`
}

type ElectionResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StartAt   string `json:"start_at" format:"date-time"`
	EndAt     string `json:"end_at" format:"date-time"`
	Status    string `json:"status" enum:"draft,inactive,active,completed"`
	OwnerID   string `json:"owner_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

func electionResponse(e domain.Election) ElectionResponse {
	return ElectionResponse(e)
}

func mapElections(items []domain.Election) []ElectionResponse {
	res := make([]ElectionResponse, 0, len(items))
	for _, e := range items {
		res = append(res, electionResponse(e))
	}
	return res
}

type CreatePositionRequest struct {
	ElectionID    string `json:"election_id"`
	Name          string `json:"name" example:"President"`
	MaxSelections int    `json:"max_selections,omitempty" minimum:"0"`
}

type CreateCandidateRequest struct {
	PositionID string `json:"position_id"`
	PartyID    string `json:"party_id"`
	Name       string `json:"name"`
}

type CreatePartyRequest struct {
	ElectionID string `json:"election_id"`
	Name       string `json:"name"`
}

type CreateDepartmentRequest struct {
	Name string `json:"name"`
}

type CreateYearRequest struct {
	DepartmentID string `json:"department_id"`
	Name         string `json:"name" example:"2026"`
}

type CreateAccountRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty" format:"email"`
	Password string `json:"password"`
	Role     string `json:"role" enum:"admin,voter"`
}

type RegisterVoterRequest struct {
	AccountID  string  `json:"account_id"`
	ElectionID *string `json:"election_id,omitempty"`
	YearID     *string `json:"year_id,omitempty"`
}

type CastBallotRequest struct {
	// Selections maps position id to the chosen candidate id. Every position
	// of the voter's election must appear exactly once.
	Selections map[string]string `json:"selections"`
}

type BallotResponse struct {
	VoterID    string        `json:"voter_id"`
	ElectionID string        `json:"election_id"`
	CastAt     string        `json:"cast_at" format:"date-time"`
	Votes      []domain.Vote `json:"votes"`
}

type ReconcileResponse struct {
	At           string                `json:"at" format:"date-time"`
	UpdatedCount int                   `json:"updated_count"`
	Updated      []engine.StatusChange `json:"updated"`
}
