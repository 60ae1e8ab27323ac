// Package server is the demo CRM backend: a local stand-in for the
// production system exposing the contract the pipeline client consumes.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"fitline/internal/domain"
	"fitline/internal/events"
	"fitline/internal/repo"
	"fitline/internal/stage"
)

// Config for the HTTP API handler.
type Config struct {
	DB       *sql.DB
	BasePath string
	Auth     AuthConfig
	Logger   *log.Logger
	Now      func() time.Time
}

type api struct {
	db     *sql.DB
	repo   repo.Repo
	events events.Writer
	auth   AuthConfig
	logger *log.Logger
	now    func() time.Time
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"job not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the demo CRM API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	a := &api{
		db:     cfg.DB,
		repo:   repo.Repo{DB: cfg.DB},
		events: events.Writer{DB: cfg.DB, Now: cfg.Now},
		auth:   cfg.Auth,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.logger == nil {
		a.logger = log.Default()
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Fitline Demo CRM API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	h := humachi.New(router, hcfg)
	group := huma.NewGroup(h, basePath)

	registerHealth(group)
	registerDevAuth(group, a)
	registerPipeline(group, a)
	registerStageRoutes(group, a)
	registerSideEffects(group, a)
	registerEvents(group, a)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
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
	if se, ok := err.(huma.StatusError); ok {
		return se
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func registerHealth(h huma.API) {
	huma.Register(h, huma.Operation{
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

func registerDevAuth(h huma.API, a *api) {
	huma.Register(h, huma.Operation{
		OperationID: "dev-token",
		Method:      http.MethodPost,
		Path:        "/auth/dev-token",
		Summary:     "Mint a development bearer token",
	}, func(ctx context.Context, input *struct {
		Body domain.User `json:"body"`
	}) (*struct {
		Body struct {
			Token string `json:"token"`
		} `json:"body"`
	}, error) {
		if !a.auth.DevAuth {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "dev auth disabled", nil)
		}
		subject := input.Body.Email
		if subject == "" {
			subject = input.Body.Name
		}
		if subject == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name or email required", nil)
		}
		token, err := mintToken(a.auth.JWTSecret, subject, input.Body.Name, input.Body.Email, input.Body.Role, a.auth.TokenTTL, a.now())
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Token string `json:"token"`
			} `json:"body"`
		}{}
		out.Body.Token = token
		return out, nil
	})
}

// registerPipeline serves the heterogeneous board feed. Work items ride
// with their customer; jobs arrive under the "job" key and projects
// under the "project" key, with kind-prefixed ids.
func registerPipeline(h huma.API, a *api) {
	huma.Register(h, huma.Operation{
		OperationID: "pipeline",
		Method:      http.MethodGet,
		Path:        "/pipeline",
		Summary:     "Full board feed",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Items []domain.RawRecord `json:"items"`
		} `json:"body"`
	}, error) {
		records, err := a.pipelineFeed(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []domain.RawRecord `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = records
		return out, nil
	})
}

func (a *api) pipelineFeed(ctx context.Context) ([]domain.RawRecord, error) {
	customers, err := a.repo.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	jobs, err := a.repo.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	projects, err := a.repo.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]repo.Customer, len(customers))
	hasWork := make(map[string]bool)
	for _, c := range customers {
		byID[c.ID] = c
	}

	var records []domain.RawRecord
	for _, j := range jobs {
		c, ok := byID[j.CustomerID]
		if !ok {
			continue
		}
		hasWork[c.ID] = true
		id := domain.JobIDPrefix + j.ID
		records = append(records, domain.RawRecord{
			ID:       id,
			Type:     "job",
			Customer: rawCustomer(c),
			Job: &domain.RawWorkItem{
				ID:          id,
				Reference:   j.Reference,
				Stage:       j.Stage,
				JobType:     j.JobType,
				Value:       j.Value,
				MeasureDate: j.MeasureDate,
				CreatedAt:   j.CreatedAt,
				StageSince:  j.StageSince,
			},
		})
	}
	for _, p := range projects {
		c, ok := byID[p.CustomerID]
		if !ok {
			continue
		}
		hasWork[c.ID] = true
		id := domain.ProjectIDPrefix + p.ID
		records = append(records, domain.RawRecord{
			ID:       id,
			Type:     "job",
			Customer: rawCustomer(c),
			Project: &domain.RawWorkItem{
				ID:            id,
				Stage:         p.Stage,
				JobType:       p.JobType,
				Name:          p.Name,
				ScheduledDate: p.ScheduledDate,
				Notes:         p.Notes,
				CreatedAt:     p.CreatedAt,
				StageSince:    p.StageSince,
			},
		})
	}
	for _, c := range customers {
		if hasWork[c.ID] {
			continue
		}
		records = append(records, domain.RawRecord{
			ID:       domain.CustomerIDPrefix + c.ID,
			Type:     "customer",
			Customer: rawCustomer(c),
		})
	}
	return records, nil
}

func rawCustomer(c repo.Customer) *domain.RawCustomer {
	return &domain.RawCustomer{
		ID:          domain.CustomerIDPrefix + c.ID,
		Name:        c.Name,
		Salesperson: c.Salesperson,
		CreatedBy:   c.CreatedBy,
		Address:     c.Address,
		Phone:       c.Phone,
		Stage:       c.Stage,
		CreatedAt:   c.CreatedAt,
	}
}

// StageChangeRequest is the body of the partial stage-update routes.
type StageChangeRequest struct {
	Stage     string `json:"stage"`
	Reason    string `json:"reason,omitempty"`
	UpdatedBy string `json:"updated_by,omitempty"`
}

// ProjectPutRequest is the full project payload for PUT.
type ProjectPutRequest struct {
	Name          string `json:"name" required:"false"`
	JobType       string `json:"job_type,omitempty"`
	ScheduledDate string `json:"scheduled_date,omitempty"`
	Notes         string `json:"notes,omitempty"`
	Stage         string `json:"stage"`
	UpdatedBy     string `json:"updated_by,omitempty"`
}

func registerStageRoutes(h huma.API, a *api) {
	type IDPath struct {
		ID string `path:"id"`
	}

	huma.Register(h, huma.Operation{
		OperationID: "update-job-stage",
		Method:      http.MethodPatch,
		Path:        "/jobs/{id}/stage",
		Summary:     "Move a job to a new stage",
	}, func(ctx context.Context, input *struct {
		IDPath
		Body StageChangeRequest `json:"body"`
	}) (*struct {
		Body repo.Job `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		target, ok := stage.Parse(input.Body.Stage)
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown stage %q", input.Body.Stage), nil)
		}
		j, err := a.repo.GetJob(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		now := a.now().UTC().Format(time.RFC3339)
		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		if err := a.repo.UpdateJobStage(ctx, tx, input.ID, target.String(), now); err != nil {
			return nil, handleError(err)
		}
		if err := a.events.Append(ctx, tx, "job.stage.changed", "job", input.ID, principal.Actor, events.EventPayload{
			"from":   j.Stage,
			"to":     target.String(),
			"reason": input.Body.Reason,
		}); err != nil {
			return nil, handleError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}
		j.Stage = target.String()
		j.StageSince = now
		j.UpdatedAt = now
		return &struct {
			Body repo.Job `json:"body"`
		}{Body: j}, nil
	})

	huma.Register(h, huma.Operation{
		OperationID: "update-customer-stage",
		Method:      http.MethodPatch,
		Path:        "/customers/{id}/stage",
		Summary:     "Move a customer to a new stage",
	}, func(ctx context.Context, input *struct {
		IDPath
		Body StageChangeRequest `json:"body"`
	}) (*struct {
		Body repo.Customer `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		target, ok := stage.Parse(input.Body.Stage)
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown stage %q", input.Body.Stage), nil)
		}
		c, err := a.repo.GetCustomer(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		now := a.now().UTC().Format(time.RFC3339)
		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		if err := a.repo.UpdateCustomerStage(ctx, tx, input.ID, target.String(), now); err != nil {
			return nil, handleError(err)
		}
		if err := a.events.Append(ctx, tx, "customer.stage.changed", "customer", input.ID, principal.Actor, events.EventPayload{
			"from":   c.Stage,
			"to":     target.String(),
			"reason": input.Body.Reason,
		}); err != nil {
			return nil, handleError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}
		c.Stage = target.String()
		c.StageSince = now
		c.UpdatedAt = now
		return &struct {
			Body repo.Customer `json:"body"`
		}{Body: c}, nil
	})

	// Projects have no partial-update route: PUT replaces the whole
	// mutable payload, stage included.
	huma.Register(h, huma.Operation{
		OperationID: "replace-project",
		Method:      http.MethodPut,
		Path:        "/projects/{id}",
		Summary:     "Replace a project",
	}, func(ctx context.Context, input *struct {
		IDPath
		Body ProjectPutRequest `json:"body"`
	}) (*struct {
		Body repo.Project `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		target, ok := stage.Parse(input.Body.Stage)
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown stage %q", input.Body.Stage), nil)
		}
		p, err := a.repo.GetProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		now := a.now().UTC().Format(time.RFC3339)
		updated := p
		updated.Name = input.Body.Name
		updated.JobType = input.Body.JobType
		updated.ScheduledDate = input.Body.ScheduledDate
		updated.Notes = input.Body.Notes
		updated.Stage = target.String()
		updated.UpdatedAt = now
		if p.Stage != updated.Stage {
			updated.StageSince = now
		}
		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		if err := a.repo.ReplaceProject(ctx, tx, updated); err != nil {
			return nil, handleError(err)
		}
		if err := a.events.Append(ctx, tx, "project.replaced", "project", input.ID, principal.Actor, events.EventPayload{
			"from": p.Stage,
			"to":   updated.Stage,
		}); err != nil {
			return nil, handleError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body repo.Project `json:"body"`
		}{Body: updated}, nil
	})
}

func registerSideEffects(h huma.API, a *api) {
	huma.Register(h, huma.Operation{
		OperationID:   "create-quote",
		Method:        http.MethodPost,
		Path:          "/jobs/{id}/quotes",
		Summary:       "Open a draft quote for a job",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			CreatedBy string `json:"created_by,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body repo.Quote `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := a.repo.GetJob(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		q := repo.Quote{
			ID:        uuid.New().String(),
			JobID:     input.ID,
			Status:    "draft",
			CreatedBy: principal.Actor,
			CreatedAt: a.now().UTC().Format(time.RFC3339),
		}
		if err := a.repo.InsertQuote(ctx, q); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body repo.Quote `json:"body"`
		}{Body: q}, nil
	})

	huma.Register(h, huma.Operation{
		OperationID:   "create-invoice",
		Method:        http.MethodPost,
		Path:          "/invoices",
		Summary:       "Open a draft invoice",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body struct {
			EntityID  string  `json:"entity_id" required:"false"`
			Reference string  `json:"reference,omitempty"`
			Amount    float64 `json:"amount,omitempty"`
			CreatedBy string  `json:"created_by,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body repo.Invoice `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.EntityID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "entity_id is required", nil)
		}
		inv := repo.Invoice{
			ID:        uuid.New().String(),
			EntityID:  input.Body.EntityID,
			Reference: input.Body.Reference,
			Amount:    input.Body.Amount,
			Status:    "draft",
			CreatedBy: principal.Actor,
			CreatedAt: a.now().UTC().Format(time.RFC3339),
		}
		if err := a.repo.InsertInvoice(ctx, inv); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body repo.Invoice `json:"body"`
		}{Body: inv}, nil
	})
}

func registerEvents(h huma.API, a *api) {
	huma.Register(h, huma.Operation{
		OperationID: "events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Recent server-side audit events",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit"`
	}) (*struct {
		Body struct {
			Items []repo.Event `json:"items"`
		} `json:"body"`
	}, error) {
		items, err := a.repo.ListEvents(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []repo.Event `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = items
		return out, nil
	})
}
