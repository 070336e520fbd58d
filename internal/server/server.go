package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"evs/internal/backup"
	"evs/internal/domain"
	"evs/internal/engine"
	"evs/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine          *engine.Engine
	BasePath        string
	Auth            AuthConfig
	SchedulerSecret string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_voted"`
	Message string         `json:"message" example:"ballot already cast"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope every endpoint uses.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the election service API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Handle("/metrics", promhttp.Handler())
	hcfg := huma.DefaultConfig("Election Service API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerAuth(group, cfg)
	registerElections(group, cfg.Engine)
	registerCatalog(group, cfg.Engine)
	registerAccounts(group, cfg.Engine)
	registerVoters(group, cfg.Engine)
	registerBallots(group, cfg.Engine)
	registerReconcile(group, cfg)
	registerBackup(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startEventNotifier(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), nil)
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		switch ce.Reason {
		case "not_authenticated":
			return newAPIError(http.StatusUnauthorized, ce.Reason, err.Error(), nil)
		case engine.ReasonIncompleteBallot:
			return newAPIError(http.StatusUnprocessableEntity, ce.Reason, err.Error(), nil)
		default:
			return newAPIError(http.StatusConflict, ce.Reason, err.Error(), nil)
		}
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "not_authenticated"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerAuth(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange credentials for a token",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		a, err := cfg.Engine.Authenticate(ctx, input.Body.Username, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		ttl := time.Duration(cfg.Auth.TokenTTLMin) * time.Minute
		if ttl <= 0 {
			ttl = 12 * time.Hour
		}
		token, err := issueToken(cfg.Auth.JWTSecret, a.ID, a.Role, ttl, time.Now().UTC())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{Token: token, AccountID: a.ID, Role: a.Role}}, nil
	})
}

func registerElections(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-election",
		Method:        http.MethodPost,
		Path:          "/elections",
		Summary:       "Create election",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateElectionRequest `json:"body"`
	}) (*struct {
		Body ElectionResponse `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		accountID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		startAt, err := time.Parse(time.RFC3339, input.Body.StartAt)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "validation_failed", "start_at must be RFC 3339", nil)
		}
		endAt, err := time.Parse(time.RFC3339, input.Body.EndAt)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "validation_failed", "end_at must be RFC 3339", nil)
		}
		status := ""
		if input.Body.Status != nil {
			status = *input.Body.Status
		}
		el, err := e.CreateElection(ctx, engine.CreateElectionInput{
			Name:    input.Body.Name,
			StartAt: startAt,
			EndAt:   endAt,
			Status:  status,
			OwnerID: accountID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ElectionResponse `json:"body"`
		}{Body: electionResponse(el)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-elections",
		Method:      http.MethodGet,
		Path:        "/elections",
		Summary:     "List elections",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"draft,inactive,active,completed,"`
	}) (*struct {
		Body []ElectionResponse `json:"body"`
	}, error) {
		if _, authErr := accountIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListElections(ctx, repo.ElectionFilters{Status: input.Status})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ElectionResponse `json:"body"`
		}{Body: mapElections(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-election",
		Method:      http.MethodGet,
		Path:        "/elections/{election_id}",
		Summary:     "Get election",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ElectionID string `path:"election_id"`
	}) (*struct {
		Body ElectionResponse `json:"body"`
	}, error) {
		if _, authErr := accountIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		el, err := e.Repo.GetElection(ctx, input.ElectionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ElectionResponse `json:"body"`
		}{Body: electionResponse(el)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-election",
		Method:      http.MethodPatch,
		Path:        "/elections/{election_id}",
		Summary:     "Update election window or name",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ElectionID string                `path:"election_id"`
		Body       UpdateElectionRequest `json:"body"`
	}) (*struct {
		Body ElectionResponse `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		el, err := e.Repo.GetElection(ctx, input.ElectionID)
		if err != nil {
			return nil, handleError(err)
		}
		startAt := el.StartAt
		if input.Body.StartAt != nil {
			startAt = *input.Body.StartAt
		}
		endAt := el.EndAt
		if input.Body.EndAt != nil {
			endAt = *input.Body.EndAt
		}
		st, err := time.Parse(time.RFC3339, startAt)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "validation_failed", "start_at must be RFC 3339", nil)
		}
		et, err := time.Parse(time.RFC3339, endAt)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "validation_failed", "end_at must be RFC 3339", nil)
		}
		if !st.Before(et) {
			return nil, newAPIError(http.StatusBadRequest, "validation_failed", "start_at must be before end_at", nil)
		}
		now := time.Now().UTC().Format(time.RFC3339)
		if err := e.Repo.UpdateElection(ctx, el.ID, input.Body.Name, input.Body.StartAt, input.Body.EndAt, now); err != nil {
			return nil, handleError(err)
		}
		el, err = e.Repo.GetElection(ctx, el.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ElectionResponse `json:"body"`
		}{Body: electionResponse(el)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-election",
		Method:      http.MethodDelete,
		Path:        "/elections/{election_id}",
		Summary:     "Delete election",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ElectionID string `path:"election_id"`
	}) (*struct{}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		if err := e.Repo.DeleteElection(ctx, input.ElectionID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	type transitionInput struct {
		ElectionID string `path:"election_id"`
	}
	transition := func(opID, pathSuffix, summary string, do func(context.Context, string, string) (domain.Election, error)) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        "/elections/{election_id}/" + pathSuffix,
			Summary:     summary,
			Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusForbidden},
		}, func(ctx context.Context, input *transitionInput) (*struct {
			Body ElectionResponse `json:"body"`
		}, error) {
			if err := requireAdmin(ctx); err != nil {
				return nil, err
			}
			accountID, authErr := accountIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			el, err := do(ctx, input.ElectionID, accountID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body ElectionResponse `json:"body"`
			}{Body: electionResponse(el)}, nil
		})
	}
	transition("publish-election", "publish", "Publish a draft election", e.PublishElection)
	transition("start-election", "start", "Open an election manually", e.StartElection)
	transition("pause-election", "pause", "Pause an active election", e.PauseElection)
}

func registerCatalog(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-position",
		Method:        http.MethodPost,
		Path:          "/positions",
		Summary:       "Create position",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreatePositionRequest `json:"body"`
	}) (*struct {
		Body domain.Position `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		if input.Body.Name == "" || input.Body.ElectionID == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_failed", "election_id and name are required", nil)
		}
		if _, err := e.Repo.GetElection(ctx, input.Body.ElectionID); err != nil {
			return nil, handleError(err)
		}
		max := input.Body.MaxSelections
		if max <= 0 {
			max = 1
		}
		p := domain.Position{
			ID:            uuid.NewString(),
			ElectionID:    input.Body.ElectionID,
			Name:          input.Body.Name,
			MaxSelections: max,
			CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertPosition(ctx, p); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Position `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-positions",
		Method:      http.MethodGet,
		Path:        "/elections/{election_id}/positions",
		Summary:     "List positions of an election",
	}, func(ctx context.Context, input *struct {
		ElectionID string `path:"election_id"`
	}) (*struct {
		Body []domain.Position `json:"body"`
	}, error) {
		if _, authErr := accountIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListPositions(ctx, input.ElectionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Position `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-candidate",
		Method:        http.MethodPost,
		Path:          "/candidates",
		Summary:       "Create candidate",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateCandidateRequest `json:"body"`
	}) (*struct {
		Body domain.Candidate `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		if input.Body.Name == "" || input.Body.PositionID == "" || input.Body.PartyID == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_failed", "position_id, party_id and name are required", nil)
		}
		pos, err := e.Repo.GetPosition(ctx, input.Body.PositionID)
		if err != nil {
			return nil, handleError(err)
		}
		c := domain.Candidate{
			ID:         uuid.NewString(),
			PositionID: pos.ID,
			PartyID:    input.Body.PartyID,
			ElectionID: pos.ElectionID,
			Name:       input.Body.Name,
			CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertCandidate(ctx, c); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Candidate `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-candidates",
		Method:      http.MethodGet,
		Path:        "/elections/{election_id}/candidates",
		Summary:     "List candidates of an election",
	}, func(ctx context.Context, input *struct {
		ElectionID string `path:"election_id"`
		PositionID string `query:"position_id"`
	}) (*struct {
		Body []domain.Candidate `json:"body"`
	}, error) {
		if _, authErr := accountIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListCandidates(ctx, input.ElectionID, input.PositionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Candidate `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-party",
		Method:        http.MethodPost,
		Path:          "/parties",
		Summary:       "Create party",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreatePartyRequest `json:"body"`
	}) (*struct {
		Body domain.Party `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		if input.Body.Name == "" || input.Body.ElectionID == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_failed", "election_id and name are required", nil)
		}
		if _, err := e.Repo.GetElection(ctx, input.Body.ElectionID); err != nil {
			return nil, handleError(err)
		}
		p := domain.Party{
			ID:         uuid.NewString(),
			ElectionID: input.Body.ElectionID,
			Name:       input.Body.Name,
			CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertParty(ctx, p); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Party `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-parties",
		Method:      http.MethodGet,
		Path:        "/elections/{election_id}/parties",
		Summary:     "List parties of an election",
	}, func(ctx context.Context, input *struct {
		ElectionID string `path:"election_id"`
	}) (*struct {
		Body []domain.Party `json:"body"`
	}, error) {
		if _, authErr := accountIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListParties(ctx, input.ElectionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Party `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-department",
		Method:        http.MethodPost,
		Path:          "/departments",
		Summary:       "Create department",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateDepartmentRequest `json:"body"`
	}) (*struct {
		Body domain.Department `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_failed", "name is required", nil)
		}
		d := domain.Department{
			ID:        uuid.NewString(),
			Name:      input.Body.Name,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertDepartment(ctx, d); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Department `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-departments",
		Method:      http.MethodGet,
		Path:        "/departments",
		Summary:     "List departments",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Department `json:"body"`
	}, error) {
		if _, authErr := accountIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListDepartments(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Department `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-year",
		Method:        http.MethodPost,
		Path:          "/years",
		Summary:       "Create year",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateYearRequest `json:"body"`
	}) (*struct {
		Body domain.Year `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		if input.Body.Name == "" || input.Body.DepartmentID == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_failed", "department_id and name are required", nil)
		}
		y := domain.Year{
			ID:           uuid.NewString(),
			DepartmentID: input.Body.DepartmentID,
			Name:         input.Body.Name,
			CreatedAt:    time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertYear(ctx, y); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Year `json:"body"`
		}{Body: y}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-years",
		Method:      http.MethodGet,
		Path:        "/years",
		Summary:     "List years",
	}, func(ctx context.Context, input *struct {
		DepartmentID string `query:"department_id"`
	}) (*struct {
		Body []domain.Year `json:"body"`
	}, error) {
		if _, authErr := accountIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListYears(ctx, input.DepartmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Year `json:"body"`
		}{Body: items}, nil
	})
}

func registerAccounts(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-account",
		Method:        http.MethodPost,
		Path:          "/accounts",
		Summary:       "Create account",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAccountRequest `json:"body"`
	}) (*struct {
		Body domain.Account `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		a, err := e.CreateAccount(ctx, input.Body.Username, input.Body.Email, input.Body.Password, input.Body.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Account `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-accounts",
		Method:      http.MethodGet,
		Path:        "/accounts",
		Summary:     "List accounts",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Role string `query:"role" enum:"admin,voter,"`
	}) (*struct {
		Body []domain.Account `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListAccounts(ctx, input.Role)
		if err != nil {
			return nil, handleError(err)
		}
		for i := range items {
			items[i].PasswordHash = ""
		}
		return &struct {
			Body []domain.Account `json:"body"`
		}{Body: items}, nil
	})
}

func registerVoters(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-voter",
		Method:        http.MethodPost,
		Path:          "/voters",
		Summary:       "Register voter",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body RegisterVoterRequest `json:"body"`
	}) (*struct {
		Body domain.Voter `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		v, err := e.RegisterVoter(ctx, input.Body.AccountID, input.Body.ElectionID, input.Body.YearID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Voter `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-voters",
		Method:      http.MethodGet,
		Path:        "/voters",
		Summary:     "List voters",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ElectionID string `query:"election_id"`
	}) (*struct {
		Body []domain.Voter `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListVoters(ctx, input.ElectionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Voter `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-voter-eligible",
		Method:      http.MethodPost,
		Path:        "/voters/{voter_id}/eligible",
		Summary:     "Mark a registered voter eligible to cast",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		VoterID string `path:"voter_id"`
	}) (*struct {
		Body domain.Voter `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		v, err := e.MarkVoterEligible(ctx, input.VoterID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Voter `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-voter",
		Method:      http.MethodDelete,
		Path:        "/voters/{voter_id}",
		Summary:     "Delete voter",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		VoterID string `path:"voter_id"`
	}) (*struct{}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		if err := e.Repo.DeleteVoter(ctx, input.VoterID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerBallots(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "cast-ballot",
		Method:        http.MethodPost,
		Path:          "/ballots",
		Summary:       "Cast a complete ballot",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CastBallotRequest `json:"body"`
	}) (*struct {
		Body BallotResponse `json:"body"`
	}, error) {
		accountID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CastBallot(ctx, accountID, input.Body.Selections)
		if err != nil {
			ballotsRejected.WithLabelValues(reasonLabel(err)).Inc()
			return nil, handleError(err)
		}
		ballotsCast.Inc()
		return &struct {
			Body BallotResponse `json:"body"`
		}{Body: BallotResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ballot-status",
		Method:      http.MethodGet,
		Path:        "/ballots/status",
		Summary:     "Ballot status for the caller",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.BallotStatus `json:"body"`
	}, error) {
		accountID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.BallotStatusFor(ctx, accountID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.BallotStatus `json:"body"`
		}{Body: st}, nil
	})
}

func registerReconcile(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "reconcile",
		Method:      http.MethodPost,
		Path:        "/reconcile",
		Summary:     "Run one reconciliation sweep",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Secret string `header:"X-Schedule-Secret"`
	}) (*struct {
		Body ReconcileResponse `json:"body"`
	}, error) {
		authorized := false
		if cfg.SchedulerSecret != "" && input.Secret != "" &&
			repo.HashSecret(input.Secret) == repo.HashSecret(cfg.SchedulerSecret) {
			authorized = true
		}
		if !authorized {
			if err := requireAdmin(ctx); err != nil {
				return nil, err
			}
		}
		now := time.Now().UTC()
		changes, err := cfg.Engine.Reconcile(ctx, now)
		if err != nil {
			return nil, handleError(err)
		}
		reconcileSweeps.Inc()
		statusChanges.Add(float64(len(changes)))
		return &struct {
			Body ReconcileResponse `json:"body"`
		}{Body: ReconcileResponse{At: now.Format(time.RFC3339), UpdatedCount: len(changes), Updated: changes}}, nil
	})
}

func registerBackup(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "export-backup",
		Method:      http.MethodGet,
		Path:        "/backup",
		Summary:     "Export a full snapshot",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body backup.Snapshot `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		s, err := backup.Export(ctx, e.DB, time.Now().UTC())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body backup.Snapshot `json:"body"`
		}{Body: *s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-backup",
		Method:      http.MethodPost,
		Path:        "/restore",
		Summary:     "Restore a snapshot",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body backup.Snapshot `json:"body"`
	}) (*struct {
		Body backup.RestoreResult `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		accountID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := backup.Restore(ctx, e.DB, e.Events, &input.Body, accountID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body backup.RestoreResult `json:"body"`
		}{Body: *res}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest audit events",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" minimum:"1" maximum:"500"`
		ElectionID string `query:"election_id"`
		Type       string `query:"type"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 100
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.ElectionID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func reasonLabel(err error) string {
	if r := engine.ReasonOf(err); r != "" {
		return r
	}
	return "error"
}
