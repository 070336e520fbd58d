package evssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal election service HTTP API client.
type Client struct {
	BaseURL        string
	BearerToken    string
	ScheduleSecret string
	HTTPClient     *http.Client
	Timeout        time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Election represents the API election model.
type Election struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	StartAt string `json:"start_at"`
	EndAt   string `json:"end_at"`
	Status  string `json:"status"`
}

// Vote represents one recorded selection.
type Vote struct {
	ID          string `json:"id"`
	VoterID     string `json:"voter_id"`
	PositionID  string `json:"position_id"`
	CandidateID string `json:"candidate_id"`
	ElectionID  string `json:"election_id"`
	CastAt      string `json:"cast_at"`
}

// Ballot represents a successfully cast ballot.
type Ballot struct {
	VoterID    string `json:"voter_id"`
	ElectionID string `json:"election_id"`
	CastAt     string `json:"cast_at"`
	Votes      []Vote `json:"votes"`
}

// BallotStatus reports the caller's voting state.
type BallotStatus struct {
	VoterID    string  `json:"voter_id"`
	ElectionID *string `json:"election_id,omitempty"`
	Status     string  `json:"status"`
	CastAt     *string `json:"cast_at,omitempty"`
	Votes      int     `json:"votes"`
}

// StatusChange records one transition applied by a reconcile sweep.
type StatusChange struct {
	ElectionID string `json:"election_id"`
	From       string `json:"from"`
	To         string `json:"to"`
}

// ReconcileResult is the outcome of one sweep.
type ReconcileResult struct {
	At           string         `json:"at"`
	UpdatedCount int            `json:"updated_count"`
	Updated      []StatusChange `json:"updated"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for a bearer token and stores it on the client.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]any{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "v1/auth/login", body, &resp); err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

// CastBallot submits a complete ballot: position id to candidate id.
func (c *Client) CastBallot(ctx context.Context, selections map[string]string) (Ballot, error) {
	body := map[string]any{"selections": selections}
	var resp Ballot
	err := c.do(ctx, http.MethodPost, "v1/ballots", body, &resp)
	return resp, err
}

// BallotStatus reports whether the caller has voted.
func (c *Client) BallotStatus(ctx context.Context) (BallotStatus, error) {
	var resp BallotStatus
	err := c.do(ctx, http.MethodGet, "v1/ballots/status", nil, &resp)
	return resp, err
}

// Elections lists elections, optionally filtered by status.
func (c *Client) Elections(ctx context.Context, status string) ([]Election, error) {
	endpoint := "v1/elections"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Election
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Reconcile triggers one sweep using the schedule secret.
func (c *Client) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var resp ReconcileResult
	err := c.do(ctx, http.MethodPost, "v1/reconcile", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	if c.ScheduleSecret != "" {
		req.Header.Set("X-Schedule-Secret", c.ScheduleSecret)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
