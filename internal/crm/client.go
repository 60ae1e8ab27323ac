// Package crm is the HTTP client for the CRM backend. Token
// acquisition and refresh live with the caller; the client only attaches
// the bearer credential it is given.
package crm

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

	"fitline/internal/domain"
)

// Client talks to the CRM API.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// DefaultTimeout bounds each request when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Timeout:    DefaultTimeout,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StageChange is the body for the partial stage-update routes.
type StageChange struct {
	Stage     string `json:"stage"`
	Reason    string `json:"reason"`
	UpdatedBy string `json:"updated_by"`
}

// ProjectUpdate is the full project body. The project resource has no
// partial-update route; every field ships on every update.
type ProjectUpdate struct {
	Name          string `json:"name"`
	JobType       string `json:"job_type"`
	ScheduledDate string `json:"scheduled_date,omitempty"`
	Notes         string `json:"notes,omitempty"`
	Stage         string `json:"stage"`
	UpdatedBy     string `json:"updated_by"`
}

// InvoiceRequest creates a draft invoice for a work item.
type InvoiceRequest struct {
	EntityID  string  `json:"entity_id"`
	Reference string  `json:"reference,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
	CreatedBy string  `json:"created_by"`
}

// Event is one server-side audit row.
type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts"`
	Type        string `json:"type"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id,omitempty"`
	PayloadJSON string `json:"payload_json"`
}

// Pipeline fetches the raw heterogeneous board feed.
func (c *Client) Pipeline(ctx context.Context) ([]domain.RawRecord, error) {
	var resp struct {
		Items []domain.RawRecord `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v1/pipeline", nil, &resp)
	return resp.Items, err
}

// UpdateJobStage moves a job to a new stage.
func (c *Client) UpdateJobStage(ctx context.Context, id string, change StageChange) error {
	endpoint := fmt.Sprintf("v1/jobs/%s/stage", url.PathEscape(id))
	return c.do(ctx, http.MethodPatch, endpoint, change, nil)
}

// UpdateCustomerStage moves a customer to a new stage.
func (c *Client) UpdateCustomerStage(ctx context.Context, id string, change StageChange) error {
	endpoint := fmt.Sprintf("v1/customers/%s/stage", url.PathEscape(id))
	return c.do(ctx, http.MethodPatch, endpoint, change, nil)
}

// UpdateProject replaces the full project object, carrying the stage.
func (c *Client) UpdateProject(ctx context.Context, id string, update ProjectUpdate) error {
	endpoint := fmt.Sprintf("v1/projects/%s", url.PathEscape(id))
	return c.do(ctx, http.MethodPut, endpoint, update, nil)
}

// CreateQuote opens a draft quote for a job.
func (c *Client) CreateQuote(ctx context.Context, jobID, createdBy string) error {
	endpoint := fmt.Sprintf("v1/jobs/%s/quotes", url.PathEscape(jobID))
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{"created_by": createdBy}, nil)
}

// CreateInvoice opens a draft invoice.
func (c *Client) CreateInvoice(ctx context.Context, inv InvoiceRequest) error {
	return c.do(ctx, http.MethodPost, "v1/invoices", inv, nil)
}

// Events returns recent server-side audit rows.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v1/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// DevLogin mints a bearer token from the demo server's dev endpoint.
func (c *Client) DevLogin(ctx context.Context, user domain.User) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "v1/auth/dev-token", user, &resp)
	return resp.Token, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	// Batch dispatch calls do from several goroutines at once; never
	// write client fields here.
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := httpClient.Do(req)
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
