package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"ticklist/internal/auth"
	"ticklist/internal/client"
	"ticklist/internal/config"
	"ticklist/internal/model"
	"ticklist/internal/serverapp"
	"ticklist/internal/store"
)

const testPassword = "Str0ng!pass"

func TestServer_ProtectedRoutesRequireAuth(t *testing.T) {
	app := newTestApp(t, nil)

	apiRes := app.request(http.MethodGet, "/api/tasks", nil, "")
	if apiRes.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for /api/tasks, got %d", apiRes.Code)
	}
	body := decodeBodyMap(t, apiRes)
	if body["success"] != false || asMap(t, body["error"])["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected unauthorized envelope, got %v", body)
	}

	pageRes := app.request(http.MethodGet, "/tasks", nil, "")
	if pageRes.Code != http.StatusSeeOther {
		t.Fatalf("expected 303 for /tasks, got %d", pageRes.Code)
	}
	if loc := pageRes.Header().Get("Location"); loc != "/login" {
		t.Fatalf("expected redirect to /login, got %q", loc)
	}

	appRes := app.request(http.MethodGet, "/app", nil, "")
	if loc := appRes.Header().Get("Location"); loc != "/login" {
		t.Fatalf("expected /app redirect to /login, got %q", loc)
	}
}

func TestServer_PasswordFlowTasksAndEmbeddedStatic(t *testing.T) {
	app := newTestApp(t, nil)
	const email = "integration@example.com"

	res := app.json(http.MethodPost, "/api/auth/signup", map[string]any{
		"email":    email,
		"password": testPassword,
		"name":     "Integration User",
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("signup expected 201, got %d body=%s", res.Code, res.Body.String())
	}

	res = app.json(http.MethodPost, "/api/auth/verify-email", map[string]any{
		"email": email,
		"code":  codeFromLogs(t, app.logs, "verification"),
	})
	if res.Code != http.StatusOK {
		t.Fatalf("verify email expected 200, got %d body=%s", res.Code, res.Body.String())
	}

	res = app.json(http.MethodPost, "/api/auth/signin", map[string]any{"email": email, "password": testPassword})
	if res.Code != http.StatusOK {
		t.Fatalf("signin expected 200, got %d body=%s", res.Code, res.Body.String())
	}

	res = app.json(http.MethodPost, "/api/tasks", map[string]any{
		"title":    "Buy milk",
		"category": "home",
		"tags":     []string{"errand"},
		"dueDate":  "2020-01-02",
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("create task expected 201, got %d body=%s", res.Code, res.Body.String())
	}
	taskID := asString(t, asMap(t, decodeBodyMap(t, res)["data"])["id"])

	res = app.json(http.MethodPost, "/api/tasks", map[string]any{"title": "  "})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("blank title expected 400, got %d", res.Code)
	}

	res = app.request(http.MethodGet, "/api/tasks?tag=errand", nil, "")
	if res.Code != http.StatusOK {
		t.Fatalf("list expected 200, got %d", res.Code)
	}
	if list, ok := decodeBodyMap(t, res)["data"].([]any); !ok || len(list) != 1 {
		t.Fatalf("expected one listed task, got %s", res.Body.String())
	}

	res = app.request(http.MethodGet, "/api/tasks/"+taskID+"/calendar.ics", nil, "")
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "BEGIN:VEVENT") {
		t.Fatalf("calendar expected 200 with an event, got %d body=%s", res.Code, res.Body.String())
	}

	res = app.request(http.MethodGet, "/api/tasks/export?format=csv", nil, "")
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `"Buy milk"`) {
		t.Fatalf("csv export expected 200 with the task, got %d body=%s", res.Code, res.Body.String())
	}

	appRes := app.request(http.MethodGet, "/app", nil, "")
	if loc := appRes.Header().Get("Location"); loc != "/tasks" {
		t.Fatalf("app route expected redirect to /tasks, got %q", loc)
	}
	pageRes := app.request(http.MethodGet, "/tasks", nil, "")
	if pageRes.Code != http.StatusOK {
		t.Fatalf("tasks page expected 200, got %d", pageRes.Code)
	}
	if !strings.Contains(pageRes.Body.String(), "Buy milk") || !strings.Contains(pageRes.Body.String(), "1 overdue") {
		t.Fatalf("tasks page should render the task as overdue: %s", pageRes.Body.String())
	}

	for _, asset := range []string{"/static/js/auth.js", "/static/js/tasks.js", "/static/css/app.css"} {
		staticRes := app.request(http.MethodGet, asset, nil, "")
		if staticRes.Code != http.StatusOK || staticRes.Body.Len() == 0 {
			t.Fatalf("embedded static asset %s expected 200 with content, got %d", asset, staticRes.Code)
		}
	}

	res = app.request(http.MethodPost, "/api/auth/logout", nil, "")
	if res.Code != http.StatusOK {
		t.Fatalf("logout expected 200, got %d", res.Code)
	}
	res = app.request(http.MethodGet, "/api/tasks", nil, "")
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", res.Code)
	}
}

func TestServer_OTPSignIn(t *testing.T) {
	app := newTestApp(t, nil)
	const email = "otp@example.com"

	res := app.json(http.MethodPost, "/api/auth/request-otp", map[string]any{"email": email})
	if res.Code != http.StatusOK {
		t.Fatalf("request otp expected 200, got %d body=%s", res.Code, res.Body.String())
	}
	res = app.json(http.MethodPost, "/api/auth/verify-otp", map[string]any{
		"email": email,
		"code":  codeFromLogs(t, app.logs, "sign-in"),
	})
	if res.Code != http.StatusOK {
		t.Fatalf("verify otp expected 200, got %d body=%s", res.Code, res.Body.String())
	}

	sessionRes := app.request(http.MethodGet, "/api/auth/session", nil, "")
	if sessionRes.Code != http.StatusOK {
		t.Fatalf("session expected 200, got %d body=%s", sessionRes.Code, sessionRes.Body.String())
	}
	user := asMap(t, asMap(t, decodeBodyMap(t, sessionRes)["data"])["user"])
	if user["email"] != email || user["emailVerified"] != true {
		t.Fatalf("unexpected session user: %v", user)
	}
}

func TestServer_HealthAndReadinessExposeRequestID(t *testing.T) {
	for _, driver := range []string{config.StorageFile, config.StorageSQLite, config.StorageMemory} {
		app := newTestApp(t, func(c *config.Config) { c.Storage.Driver = driver })
		for _, path := range []string{"/healthz", "/readyz"} {
			res := app.request(http.MethodGet, path, nil, "")
			if res.Code != http.StatusOK {
				t.Fatalf("%s %s expected 200, got %d body=%s", driver, path, res.Code, res.Body.String())
			}
			if rid := strings.TrimSpace(res.Header().Get("X-Request-Id")); rid == "" {
				t.Fatalf("%s missing X-Request-Id header", path)
			}
		}
	}
}

func TestServer_GuestSessionsAreIsolated(t *testing.T) {
	app := newTestApp(t, func(c *config.Config) { c.Auth.AllowGuest = true })
	alice, bob := uuid.NewString(), uuid.NewString()

	res := app.guest(alice, http.MethodPost, "/api/tasks", map[string]any{"title": "alice's"})
	if res.Code != http.StatusCreated {
		t.Fatalf("guest create expected 201, got %d body=%s", res.Code, res.Body.String())
	}

	res = app.guest(bob, http.MethodGet, "/api/tasks", nil)
	if list := decodeBodyMap(t, res)["data"].([]any); len(list) != 0 {
		t.Fatalf("bob should not see alice's tasks: %v", list)
	}
	res = app.guest(alice, http.MethodGet, "/api/tasks", nil)
	if list := decodeBodyMap(t, res)["data"].([]any); len(list) != 1 {
		t.Fatalf("alice should see her task: %v", list)
	}

	res = app.guest("not-a-uuid", http.MethodGet, "/api/tasks", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("malformed guest id expected 401, got %d", res.Code)
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	app := newTestApp(t, func(c *config.Config) { c.Server.CORSOrigins = []string{"http://localhost:3000"} })

	req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow-origin %q", got)
	}

	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unlisted origins must not be allowed")
	}
}

// The terminal client stack against a real server: API client, optimistic store, undo window.
func TestServer_ClientStoreUndoWindow(t *testing.T) {
	app := newTestApp(t, func(c *config.Config) { c.Storage.Driver = config.StorageSQLite })
	srv := httptest.NewServer(app.handler)
	defer srv.Close()
	ctx := context.Background()

	api := client.New(srv.URL)
	if _, err := api.Signup(ctx, "tui@example.com", testPassword, ""); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := api.Signin(ctx, "tui@example.com", testPassword); err != nil {
		t.Fatalf("signin: %v", err)
	}

	clock := store.NewFakeClock(time.Now())
	s := store.New(api, store.Options{Clock: clock, Logger: log.New(io.Discard, "", 0)})
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	created, err := s.Create(ctx, model.Draft{Title: "Buy milk"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if model.IsTemporaryID(created.ID) {
		t.Fatalf("expected server id after create, got %q", created.ID)
	}

	if err := s.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !s.UndoDelete() {
		t.Fatalf("undo should restore the task")
	}
	if err := s.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete again: %v", err)
	}
	clock.Advance(store.DefaultUndoWindow)

	remote, err := api.ListTasks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remote) != 0 {
		t.Fatalf("expected the delete to reach the server after the undo window, got %v", remote)
	}
	if msg := s.LastError(); msg != "" {
		t.Fatalf("unexpected store error %q", msg)
	}
}

type testApp struct {
	handler http.Handler
	logs    *bytes.Buffer
	cookies map[string]*http.Cookie
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *testApp {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.SQLitePath = filepath.Join(cfg.Storage.DataDir, "tasks.db")
	if mutate != nil {
		mutate(cfg)
	}

	var logs bytes.Buffer
	logger := log.New(&logs, "", 0)

	app, err := serverapp.New(serverapp.Options{
		Config:      cfg,
		Logger:      logger,
		AuthOptions: func(o *auth.Options) { o.BcryptCost = bcrypt.MinCost },
	})
	if err != nil {
		t.Fatalf("serverapp.New: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })

	return &testApp{
		handler: app.Handler,
		logs:    &logs,
		cookies: map[string]*http.Cookie{},
	}
}

func (a *testApp) json(method, path string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	return a.request(method, path, bytes.NewReader(b), "application/json")
}

func (a *testApp) guest(id, method, path string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(auth.GuestHeader, id)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) request(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, c := range a.cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	a.captureCookies(rec.Result())
	return rec
}

func (a *testApp) captureCookies(res *http.Response) {
	for _, c := range res.Cookies() {
		if c == nil {
			continue
		}
		if c.MaxAge < 0 || strings.TrimSpace(c.Value) == "" {
			delete(a.cookies, c.Name)
			continue
		}
		cp := *c
		a.cookies[c.Name] = &cp
	}
}

func codeFromLogs(t *testing.T, logs *bytes.Buffer, label string) string {
	t.Helper()
	re := regexp.MustCompile(regexp.QuoteMeta(label) + ` code for .* is ([0-9]{6})`)
	matches := re.FindAllStringSubmatch(logs.String(), -1)
	if len(matches) == 0 {
		t.Fatalf("no %s code found in logs: %s", label, logs.String())
	}
	return matches[len(matches)-1][1]
}

func decodeBodyMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode json body failed: %v body=%s", err, rec.Body.String())
	}
	return out
}

func asMap(t *testing.T, v any) map[string]any {
	t.Helper()
	out, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T (%v)", v, v)
	}
	return out
}

func asString(t *testing.T, v any) string {
	t.Helper()
	s, ok := v.(string)
	if !ok {
		t.Fatalf("expected string, got %T (%v)", v, v)
	}
	return s
}
