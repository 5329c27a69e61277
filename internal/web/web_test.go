package web

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticklist/internal/model"
	"ticklist/internal/task"
)

func render(t *testing.T, c templ.Component) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, c.Render(context.Background(), &buf))
	return buf.String()
}

func TestStaticPages(t *testing.T) {
	cases := []struct {
		name string
		c    templ.Component
		want []string
	}{
		{"home", HomePage(), []string{"Keep every task", `href="/signup"`}},
		{"login", LoginPage(), []string{`data-endpoint="/api/auth/signin"`, `data-endpoint="/api/auth/verify-otp"`, "/static/js/auth.js"}},
		{"signup", SignupPage(), []string{`data-endpoint="/api/auth/signup"`, `data-next="/verify-email"`}},
		{"verify", VerifyEmailPage(), []string{`data-endpoint="/api/auth/verify-email"`, `data-endpoint="/api/auth/resend-verification"`}},
		{"forgot", ForgotPasswordPage(), []string{`data-endpoint="/api/auth/forgot-password"`}},
		{"reset", ResetPasswordPage(), []string{`data-endpoint="/api/auth/reset-password"`, `autocomplete="new-password"`}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			html := render(t, tc.c)
			assert.True(t, strings.HasPrefix(html, "<!doctype html>"))
			assert.True(t, strings.HasSuffix(html, "</html>"))
			for _, w := range tc.want {
				assert.Contains(t, html, w)
			}
		})
	}
}

func TestLoginPage_OAuthButtons(t *testing.T) {
	assert.NotContains(t, render(t, LoginPage()), "/api/auth/oauth/")

	html := render(t, LoginPage(OAuthButton{Name: "google", Label: "Google"}, OAuthButton{Name: "github", Label: "GitHub"}))
	assert.Contains(t, html, `href="/api/auth/oauth/google"`)
	assert.Contains(t, html, "Continue with GitHub")
}

type failingRepo struct{ task.Repo }

func (failingRepo) List(context.Context) ([]model.Task, error) {
	return nil, errors.New("disk gone")
}

func seededRepo(t *testing.T) task.Repo {
	t.Helper()
	repo := task.NewMemoryRepo()
	ctx := context.Background()
	due := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	for _, tk := range []model.Task{
		{Title: "Buy milk", Category: "home", Tags: []string{"errand"}},
		{Title: "<script>alert(1)</script>", Category: "work"},
		{Title: "File taxes", Category: "home", DueDate: &due},
	} {
		_, err := repo.Create(ctx, tk)
		require.NoError(t, err)
	}
	return repo
}

func TestTasksHandler_RendersFilteredList(t *testing.T) {
	repo := seededRepo(t)
	h := NewTasksHandler(func(*http.Request) task.Repo { return repo }, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks?category=home&sort=title&order=asc", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()

	assert.Contains(t, body, "3 total")
	assert.Contains(t, body, "1 overdue")
	assert.Less(t, strings.Index(body, "Buy milk"), strings.Index(body, "File taxes"))
	assert.NotContains(t, body, "alert(1)", "tasks outside the filter are not listed")
	assert.Contains(t, body, `<option value="home" selected>`)
	assert.Contains(t, body, "/calendar.ics")
	assert.Contains(t, body, "/api/tasks/export?format=csv")
}

func TestTasksHandler_EscapesUserContent(t *testing.T) {
	repo := seededRepo(t)
	h := NewTasksHandler(func(*http.Request) task.Repo { return repo }, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks?search=script", nil))
	body := w.Body.String()
	assert.NotContains(t, body, "<script>alert(1)</script>")
	assert.Contains(t, body, "&lt;script&gt;alert(1)&lt;/script&gt;")
}

func TestTasksHandler_BadSortShowsErrorAndAllTasks(t *testing.T) {
	repo := seededRepo(t)
	h := NewTasksHandler(func(*http.Request) task.Repo { return repo }, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks?sort=priority", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unknown sort field")
	assert.Contains(t, w.Body.String(), "Buy milk")
}

func TestTasksHandler_StorageFailure(t *testing.T) {
	h := NewTasksHandler(func(*http.Request) task.Repo { return failingRepo{} }, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "could not be loaded")
}
