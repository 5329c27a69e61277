package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type authEnvelope struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func post(t *testing.T, h http.HandlerFunc, body any, mutate ...func(*http.Request)) (*httptest.ResponseRecorder, authEnvelope) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(b))
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	h(w, req)
	var env authEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestHandler_SignupVerifySigninSession(t *testing.T) {
	svc, sender := newAuthServiceForTests(t)
	h := NewHandler(svc)

	w, env := post(t, h.Signup, map[string]string{"email": "eve@example.com", "password": strongPassword, "name": "Eve"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, env.Success)
	user := env.Data["user"].(map[string]any)
	assert.Equal(t, "eve@example.com", user["email"])
	assert.NotContains(t, user, "passwordHash")

	w, env = post(t, h.Signup, map[string]string{"email": "eve@example.com", "password": strongPassword})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	w, _ = post(t, h.VerifyEmail, map[string]string{"email": "eve@example.com", "code": sender.last(t).code})
	require.Equal(t, http.StatusOK, w.Code)

	w, env = post(t, h.Signin, map[string]string{"email": "eve@example.com", "password": "Wr0ng!pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	w, env = post(t, h.Signin, map[string]string{"email": "eve@example.com", "password": strongPassword})
	require.Equal(t, http.StatusOK, w.Code)
	token := env.Data["token"].(string)
	assert.NotEmpty(t, token)
	require.Len(t, w.Result().Cookies(), 1)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.Session(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var sess authEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, false, sess.Data["guest"])
	assert.Equal(t, "eve@example.com", sess.Data["user"].(map[string]any)["email"])

	w, _ = post(t, h.Logout, nil, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) })
	require.Equal(t, http.StatusOK, w.Code)

	rec = httptest.NewRecorder()
	h.Session(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_SignupWeakPassword(t *testing.T) {
	svc, _ := newAuthServiceForTests(t)
	w, env := post(t, NewHandler(svc).Signup, map[string]string{"email": "w@example.com", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Equal(t, "Password must be at least 8 characters long", env.Error.Message)
}

func TestHandler_ForgotPasswordAlwaysOK(t *testing.T) {
	svc, sender := newAuthServiceForTests(t)
	h := NewHandler(svc)

	w, _ := post(t, h.ForgotPassword, map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = post(t, h.ForgotPassword, map[string]string{"email": "garbage"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sender.sent)
}

func TestHandler_OTPFlow(t *testing.T) {
	svc, sender := newAuthServiceForTests(t)
	h := NewHandler(svc)

	w, env := post(t, h.RequestOTP, map[string]string{"email": "otp@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, env.Data["expiresAt"])

	w, env = post(t, h.VerifyOTP, map[string]string{"email": "otp@example.com", "code": "12"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	w, env = post(t, h.VerifyOTP, map[string]string{"email": "otp@example.com", "code": sender.last(t).code})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, env.Data["token"])
}

func TestHandler_MethodAndJSONErrors(t *testing.T) {
	svc, _ := newAuthServiceForTests(t)
	h := NewHandler(svc)

	w := httptest.NewRecorder()
	h.Signin(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = httptest.NewRecorder()
	h.Signin(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequireAPI(t *testing.T) {
	svc, _ := newAuthServiceForTests(t, func(o *Options) { o.AllowGuest = true })
	var owner string
	protected := svc.RequireAPI(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, _ = OwnerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	protected.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"UNAUTHORIZED"`)

	guest := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set(GuestHeader, guest)
	w = httptest.NewRecorder()
	protected.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "guest_"+guest, owner)
}

func TestRequirePage_RedirectsGuests(t *testing.T) {
	svc, _ := newAuthServiceForTests(t, func(o *Options) { o.AllowGuest = true })
	page := svc.RequirePage(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set(GuestHeader, uuid.NewString())
	w := httptest.NewRecorder()
	page.ServeHTTP(w, req)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
}
