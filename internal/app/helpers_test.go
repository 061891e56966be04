package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quill/api/internal/config"
	"quill/api/internal/gitrepo"
	"quill/api/internal/metrics"
	"quill/api/internal/store"
)

type harness struct {
	store   *store.MemoryStore
	svc     *Service
	server  http.Handler
	archive *gitrepo.Service
	metrics *metrics.Collector
	tokens  map[string]string
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:              "test-secret",
		AccessTTL:              time.Hour,
		RefreshTTL:             24 * time.Hour,
		CORSOrigin:             "*",
		SessionTTL:             time.Hour,
		ActivityBreakerFailure: 5,
	}
}

// newHarness wires the service over a memory store with the git archive
// enabled. Users are created without bcrypt to keep tests fast.
func newHarness(t *testing.T, mutate func(*config.Config, *Deps)) *harness {
	t.Helper()
	st := store.NewMemoryStore()
	cfg := testConfig()
	collector := metrics.NewCollector("quill_test")
	archive := gitrepo.New(t.TempDir())
	deps := Deps{Store: st, Archive: archive, Metrics: collector}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	deps.Config = cfg
	svc := New(deps)
	h := &harness{
		store:   st,
		svc:     svc,
		server:  NewHTTPServer(svc, cfg.CORSOrigin, nil, collector).Handler(),
		archive: archive,
		metrics: collector,
		tokens:  map[string]string{},
	}
	return h
}

func (h *harness) user(t *testing.T, id, name string) string {
	t.Helper()
	profile := store.Profile{ID: id, Email: id + "@example.com", DisplayName: name, CreatedAt: time.Now().UTC()}
	if err := h.store.CreateProfile(context.Background(), profile); err != nil {
		t.Fatalf("CreateProfile() error = %v", err)
	}
	session, err := h.svc.issueSession(context.Background(), profile)
	if err != nil {
		t.Fatalf("issueSession() error = %v", err)
	}
	h.tokens[id] = session.Token
	return id
}

func (h *harness) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token, ok := h.tokens[userID]; ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.server.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) map[string]any {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d body=%s", want, rr.Code, rr.Body.String())
	}
	if rr.Body.Len() == 0 {
		return nil
	}
	return decode(t, rr)
}

func expectCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	payload := expectStatus(t, rr, status)
	if payload["code"] != code {
		t.Fatalf("expected code %s, got %v", code, payload["code"])
	}
}

// workspace creates a project owned by usr_owner with one document.
func (h *harness) workspace(t *testing.T) (projectID, documentID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.store.GetProfile(ctx, "usr_owner"); err != nil {
		h.user(t, "usr_owner", "Owner")
	}
	project, err := h.svc.CreateProject(ctx, "usr_owner", "Atlas", "Planning")
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	doc, _, err := h.svc.CreateDocument(ctx, "usr_owner", project.ID, "Plan", "document")
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	return project.ID, doc.ID
}
