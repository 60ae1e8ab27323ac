package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"fitline/internal/app"
	"fitline/internal/crm"
	"fitline/internal/db"
	"fitline/internal/domain"
	"fitline/internal/engine"
	"fitline/internal/migrate"
	"fitline/internal/stage"
)

const testSecret = "test-secret"

var serverNow = time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := app.Seed(context.Background(), conn, serverNow); err != nil {
		t.Fatalf("seed: %v", err)
	}
	handler, err := New(Config{
		DB:   conn,
		Auth: AuthConfig{JWTSecret: testSecret, DevAuth: true},
		Now:  func() time.Time { return serverNow },
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func devToken(t *testing.T, srv *testServer, user domain.User) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev-token", user, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev-token status %d: %s", res.StatusCode, string(data))
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	return out.Token
}

func authHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/pipeline", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("pipeline without token status %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
}

func TestPipelineFeedShape(t *testing.T) {
	srv := newTestServer(t)
	token := devToken(t, srv, domain.User{Name: "Alex", Email: "alex@fitline.test", Role: "manager"})

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/pipeline", nil, authHeader(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pipeline status %d: %s", res.StatusCode, string(data))
	}
	var out struct {
		Items []domain.RawRecord `json:"items"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal feed: %v", err)
	}
	// Seed: 2 jobs, 1 project, 1 customer without work.
	if len(out.Items) != 4 {
		t.Fatalf("feed has %d records, want 4", len(out.Items))
	}
	var jobs, projects, customers int
	for _, rec := range out.Items {
		if rec.Customer == nil {
			t.Fatalf("record %s has no customer", rec.ID)
		}
		switch {
		case rec.Job != nil:
			jobs++
			if domain.KindOf(rec.ID) != domain.KindJob {
				t.Fatalf("job record id %q not prefixed", rec.ID)
			}
		case rec.Project != nil:
			projects++
			if domain.KindOf(rec.ID) != domain.KindProject {
				t.Fatalf("project record id %q not prefixed", rec.ID)
			}
		default:
			customers++
			if rec.Type != "customer" {
				t.Fatalf("bare record %q typed %q", rec.ID, rec.Type)
			}
		}
	}
	if jobs != 2 || projects != 1 || customers != 1 {
		t.Fatalf("feed mix jobs=%d projects=%d customers=%d", jobs, projects, customers)
	}
}

func TestJobStagePatchWritesEvent(t *testing.T) {
	srv := newTestServer(t)
	token := devToken(t, srv, domain.User{Name: "Alex", Email: "alex@fitline.test", Role: "manager"})

	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v1/jobs/j-2001/stage", map[string]any{
		"stage":      "accepted",
		"reason":     "Moved on pipeline board",
		"updated_by": "alex@fitline.test",
	}, authHeader(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, string(data))
	}
	var job struct {
		Stage      string `json:"stage"`
		StageSince string `json:"stage_since"`
	}
	if err := json.Unmarshal(data, &job); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	// Stage text is normalized to the catalog spelling.
	if job.Stage != "Accepted" {
		t.Fatalf("stage = %q, want Accepted", job.Stage)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?limit=5", nil, authHeader(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events struct {
		Items []struct {
			Type     string `json:"type"`
			EntityID string `json:"entity_id"`
			ActorID  string `json:"actor_id"`
		} `json:"items"`
	}
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events.Items) == 0 {
		t.Fatalf("no events recorded")
	}
	latest := events.Items[0]
	if latest.Type != "job.stage.changed" || latest.EntityID != "j-2001" {
		t.Fatalf("latest event wrong: %+v", latest)
	}
	if latest.ActorID != "alex@fitline.test" {
		t.Fatalf("actor = %q", latest.ActorID)
	}
}

func TestUnknownStageRejected(t *testing.T) {
	srv := newTestServer(t)
	token := devToken(t, srv, domain.User{Name: "Alex", Email: "alex@fitline.test"})
	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v1/jobs/j-2001/stage", map[string]any{
		"stage": "Negotiation",
	}, authHeader(token))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown stage status %d: %s", res.StatusCode, string(data))
	}
}

func TestMissingJobIs404(t *testing.T) {
	srv := newTestServer(t)
	token := devToken(t, srv, domain.User{Name: "Alex", Email: "alex@fitline.test"})
	res, _ := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v1/jobs/nope/stage", map[string]any{
		"stage": "Quote",
	}, authHeader(token))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing job status %d", res.StatusCode)
	}
}

func TestProjectPutReplacesWholePayload(t *testing.T) {
	srv := newTestServer(t)
	token := devToken(t, srv, domain.User{Name: "Alex", Email: "alex@fitline.test"})

	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/projects/p-3001", map[string]any{
		"name":           "Bramley showroom refit",
		"job_type":       "interior",
		"scheduled_date": "2026-10-15",
		"notes":          "Two-phase install",
		"stage":          "Quote",
		"updated_by":     "alex@fitline.test",
	}, authHeader(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put status %d: %s", res.StatusCode, string(data))
	}
	var project struct {
		Stage         string `json:"stage"`
		ScheduledDate string `json:"scheduled_date"`
	}
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if project.Stage != "Quote" || project.ScheduledDate != "2026-10-15" {
		t.Fatalf("project not replaced: %+v", project)
	}

	// Name is mandatory on every PUT; a payload without it is rejected
	// rather than treated as a partial update.
	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/projects/p-3001", map[string]any{
		"stage": "Accepted",
	}, authHeader(token))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("nameless put status %d: %s", res.StatusCode, string(data))
	}
}

func TestQuoteAndInvoiceCreation(t *testing.T) {
	srv := newTestServer(t)
	token := devToken(t, srv, domain.User{Name: "Alex", Email: "alex@fitline.test"})

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/jobs/j-2001/quotes", map[string]any{
		"created_by": "alex@fitline.test",
	}, authHeader(token))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("quote status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/invoices", map[string]any{
		"entity_id": "j-2001",
		"reference": "JOB-2001",
		"amount":    14250,
	}, authHeader(token))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("invoice status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/invoices", map[string]any{
		"amount": 1,
	}, authHeader(token))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("invoice without entity_id status %d: %s", res.StatusCode, string(data))
	}
}

// End-to-end: the client-side engine drives a real server through the
// HTTP client, including the whole optimistic batch protocol.
func TestEngineAgainstLiveServer(t *testing.T) {
	srv := newTestServer(t)
	user := domain.User{Name: "Alex Major", Email: "alex@fitline.test", Role: "manager"}
	token := devToken(t, srv, user)

	client := crm.New(srv.URL)
	client.BearerToken = token
	eng := engine.New(client, user)
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("engine load: %v", err)
	}
	if len(eng.Items()) != 4 {
		t.Fatalf("engine loaded %d items", len(eng.Items()))
	}

	next := eng.Cards()
	for i := range next {
		if next[i].ID == "job-j-2001" {
			next[i].Column = stage.Ordered
		}
	}
	moves, err := eng.ApplyBoard(context.Background(), next)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(moves) != 1 || moves[0].To != stage.Ordered {
		t.Fatalf("moves = %+v", moves)
	}

	// A fresh load sees the committed stage.
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	for _, it := range eng.Items() {
		if it.ID == "job-j-2001" && it.Stage != stage.Ordered {
			t.Fatalf("server did not persist the move: %s", it.Stage)
		}
	}
}
