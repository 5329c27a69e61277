package auth

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"ticklist/internal/config"
)

const strongPassword = "Str0ng!pass"

type sentCode struct {
	purpose Purpose
	email   string
	code    string
}

type recordingSender struct {
	sent []sentCode
}

func (r *recordingSender) SendCode(p Purpose, email, code string, _ time.Time) error {
	r.sent = append(r.sent, sentCode{purpose: p, email: email, code: code})
	return nil
}

func (r *recordingSender) last(t *testing.T) sentCode {
	t.Helper()
	require.NotEmpty(t, r.sent, "no code was sent")
	return r.sent[len(r.sent)-1]
}

func newAuthServiceForTests(t *testing.T, mutate ...func(*Options)) (*Service, *recordingSender) {
	t.Helper()
	repo, err := NewFileRepo(t.TempDir())
	require.NoError(t, err)
	sender := &recordingSender{}
	opts := Options{BcryptCost: bcrypt.MinCost, Sender: sender}
	for _, m := range mutate {
		m(&opts)
	}
	return NewService(repo, log.New(io.Discard, "", 0), opts), sender
}

func TestCheckPasswordStrength(t *testing.T) {
	cases := []struct {
		password string
		want     string
	}{
		{"Sh0rt!", "Password must be at least 8 characters long"},
		{"lower0nly!", "Password must contain at least one uppercase letter"},
		{"UPPER0NLY!", "Password must contain at least one lowercase letter"},
		{"NoDigits!!", "Password must contain at least one number"},
		{"NoSpecial1", "Password must contain at least one special character"},
		{strongPassword, ""},
	}
	for _, tc := range cases {
		err := CheckPasswordStrength(tc.password)
		if tc.want == "" {
			assert.NoError(t, err, tc.password)
			continue
		}
		require.Error(t, err, tc.password)
		assert.ErrorIs(t, err, ErrWeakPassword)
		assert.Equal(t, tc.want, err.Error())
	}
}

func TestService_SignupVerifySignin(t *testing.T) {
	svc, sender := newAuthServiceForTests(t, func(o *Options) { o.RequireVerifiedEmail = true })
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

	u, code, err := svc.Signup(" Ada@Example.com ", strongPassword, "Ada", now)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.False(t, u.EmailVerified)
	assert.NotEqual(t, strongPassword, u.PasswordHash)
	assert.Equal(t, sentCode{PurposeVerifyEmail, "ada@example.com", code}, sender.last(t))

	_, _, _, err = svc.Signin("ada@example.com", strongPassword, now)
	assert.ErrorIs(t, err, ErrEmailNotVerified)

	_, _, err = svc.Signup("ada@example.com", strongPassword, "", now)
	assert.ErrorIs(t, err, ErrEmailTaken)

	verified, err := svc.VerifyEmail("ada@example.com", code, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, verified.EmailVerified)

	_, _, _, err = svc.Signin("ada@example.com", "Wr0ng!pass", now)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, _, err = svc.Signin("nobody@example.com", strongPassword, now)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	got, token, exp, err := svc.Signin("ADA@example.com", strongPassword, now)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.NotEmpty(t, token)
	assert.Equal(t, now.Add(7*24*time.Hour), exp)
}

func TestService_Signup_RejectsWeakPasswordAndBadEmail(t *testing.T) {
	svc, sender := newAuthServiceForTests(t)
	now := time.Now()

	_, _, err := svc.Signup("not-an-email", strongPassword, "", now)
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, _, err = svc.Signup("weak@example.com", "password", "", now)
	var pe *PasswordError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "Password must contain at least one uppercase letter", pe.Reason)
	assert.Empty(t, sender.sent)
}

func TestService_ResendVerification_OnlyForUnverified(t *testing.T) {
	svc, sender := newAuthServiceForTests(t)
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

	code, err := svc.ResendVerification("ghost@example.com", now)
	require.NoError(t, err)
	assert.Empty(t, code)

	_, first, err := svc.Signup("bo@example.com", strongPassword, "", now)
	require.NoError(t, err)
	second, err := svc.ResendVerification("bo@example.com", now.Add(time.Minute))
	require.NoError(t, err)
	require.NotEmpty(t, second)
	assert.Len(t, sender.sent, 2)

	if first != second {
		_, err = svc.VerifyEmail("bo@example.com", first, now.Add(2*time.Minute))
		assert.ErrorIs(t, err, ErrInvalidCode, "the resent code replaces the first one")
	}
	_, err = svc.VerifyEmail("bo@example.com", second, now.Add(2*time.Minute))
	require.NoError(t, err)

	code, err = svc.ResendVerification("bo@example.com", now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, code)
}

func TestService_ResetPassword_RevokesSessions(t *testing.T) {
	svc, _ := newAuthServiceForTests(t)
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

	_, _, err := svc.Signup("cy@example.com", strongPassword, "", now)
	require.NoError(t, err)
	_, token, _, err := svc.Signin("cy@example.com", strongPassword, now)
	require.NoError(t, err)

	code, err := svc.ForgotPassword("missing@example.com", now)
	require.NoError(t, err)
	assert.Empty(t, code)

	code, err = svc.ForgotPassword("cy@example.com", now)
	require.NoError(t, err)
	require.Len(t, code, 6)

	err = svc.ResetPassword("cy@example.com", code, "weak", now)
	assert.ErrorIs(t, err, ErrWeakPassword)

	const newPassword = "N3w!password"
	require.NoError(t, svc.ResetPassword("cy@example.com", code, newPassword, now.Add(time.Minute)))

	_, ok := svc.repo.GetSessionByTokenHash(hashToken(token))
	assert.False(t, ok, "old sessions are revoked")

	_, _, _, err = svc.Signin("cy@example.com", strongPassword, now)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, _, err = svc.Signin("cy@example.com", newPassword, now)
	assert.NoError(t, err)

	err = svc.ResetPassword("cy@example.com", code, newPassword, now)
	assert.ErrorIs(t, err, ErrInvalidCode, "codes are single use")
}

func TestService_CodesArePurposeScoped(t *testing.T) {
	svc, _ := newAuthServiceForTests(t)
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

	_, code, err := svc.Signup("dee@example.com", strongPassword, "", now)
	require.NoError(t, err)

	err = svc.ResetPassword("dee@example.com", code, "An0ther!pass", now)
	assert.ErrorIs(t, err, ErrInvalidCode)
	_, _, _, err = svc.VerifyOTP("dee@example.com", code, now)
	assert.ErrorIs(t, err, ErrInvalidCode)

	_, err = svc.VerifyEmail("dee@example.com", code, now)
	assert.NoError(t, err)
}

func TestService_VerifyOTP_TooManyAttempts(t *testing.T) {
	svc, _ := newAuthServiceForTests(t)
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

	_, code, err := svc.RequestOTP("tester@example.com", now)
	require.NoError(t, err)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < svc.maxCodeAttempts-1; i++ {
		_, _, _, err := svc.VerifyOTP("tester@example.com", wrong, now.Add(30*time.Second))
		require.ErrorIs(t, err, ErrInvalidCode, "attempt %d", i+1)
	}

	_, _, _, err = svc.VerifyOTP("tester@example.com", wrong, now.Add(45*time.Second))
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	_, _, _, err = svc.VerifyOTP("tester@example.com", code, now.Add(50*time.Second))
	assert.ErrorIs(t, err, ErrInvalidCode, "locked out codes are discarded")
}

func TestService_VerifyOTP_ExpiredAndMalformed(t *testing.T) {
	svc, _ := newAuthServiceForTests(t)
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

	_, _, _, err := svc.VerifyOTP("x@example.com", "12ab56", now)
	assert.ErrorIs(t, err, ErrInvalidCodeFormat)

	exp, code, err := svc.RequestOTP("x@example.com", now)
	require.NoError(t, err)
	_, _, _, err = svc.VerifyOTP("x@example.com", code, exp.Add(time.Second))
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestService_VerifyOTP_CreatesVerifiedUser(t *testing.T) {
	svc, _ := newAuthServiceForTests(t)
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

	_, code, err := svc.RequestOTP("new@example.com", now)
	require.NoError(t, err)
	u, token, _, err := svc.VerifyOTP("new@example.com", code, now)
	require.NoError(t, err)
	assert.True(t, u.EmailVerified)
	assert.NotEmpty(t, token)
}

func TestService_AuthenticateRequest_ExpiredSessionIsRejected(t *testing.T) {
	svc, _ := newAuthServiceForTests(t)
	now := time.Date(2026, 2, 7, 10, 0, 0, 0, time.UTC)

	_, code, err := svc.RequestOTP("expired@example.com", now)
	require.NoError(t, err)
	u, token, exp, err := svc.VerifyOTP("expired@example.com", code, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "expired@example.com", u.Email)

	req := httptest.NewRequest("GET", "/api/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: svc.cookieName, Value: token})

	_, _, ok := svc.AuthenticateRequest(req, exp.Add(-time.Second))
	assert.True(t, ok)
	_, _, ok = svc.AuthenticateRequest(req, exp.Add(time.Second))
	assert.False(t, ok, "expired session is rejected")
	_, ok = svc.repo.GetSessionByTokenHash(hashToken(token))
	assert.False(t, ok, "expired session is removed from repo")
}

func TestService_AuthenticateRequest_AcceptsBearer(t *testing.T) {
	svc, _ := newAuthServiceForTests(t)
	now := time.Now()
	_, code, err := svc.RequestOTP("bearer@example.com", now)
	require.NoError(t, err)
	_, token, _, err := svc.VerifyOTP("bearer@example.com", code, now)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "bearer "+token)
	u, _, ok := svc.AuthenticateRequest(req, now)
	require.True(t, ok)
	assert.Equal(t, "bearer@example.com", u.Email)

	req.Header.Set("Authorization", "Basic "+token)
	_, _, ok = svc.AuthenticateRequest(req, now)
	assert.False(t, ok)
}

func TestService_Identify_Guest(t *testing.T) {
	guestID := uuid.NewString()

	svc, _ := newAuthServiceForTests(t)
	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set(GuestHeader, guestID)
	_, ok := svc.Identify(req, time.Now())
	assert.False(t, ok, "guests are off by default")

	svc, _ = newAuthServiceForTests(t, func(o *Options) { o.AllowGuest = true })
	id, ok := svc.Identify(req, time.Now())
	require.True(t, ok)
	assert.True(t, id.Guest)
	assert.Equal(t, "guest_"+guestID, id.OwnerID)

	req.Header.Set(GuestHeader, "../../etc/passwd")
	_, ok = svc.Identify(req, time.Now())
	assert.False(t, ok, "malformed guest ids are refused")
}

func TestOptionsFromConfig(t *testing.T) {
	c := config.Default().Auth
	c.CookieSameSite = "None"
	c.AllowGuest = true
	opts := OptionsFromConfig(c)
	assert.Equal(t, "ticklist_session", opts.CookieName)
	assert.Equal(t, http.SameSiteNoneMode, opts.CookieSameSite)
	assert.Equal(t, 5, opts.MaxCodeAttempts)
	assert.True(t, opts.AllowGuest)
}

func TestNewService_AppliesCookieOptions(t *testing.T) {
	secure := false
	svc, _ := newAuthServiceForTests(t, func(o *Options) {
		o.CookieName = "tl_session"
		o.CookiePath = "/app"
		o.CookieDomain = "example.com"
		o.CookieSameSite = parseSameSite("strict")
		o.CookieSecure = &secure
		o.SessionTTL = 24 * time.Hour
		o.CodeTTL = 5 * time.Minute
		o.MaxCodeAttempts = 3
	})
	assert.Equal(t, "tl_session", svc.cookieName)
	assert.Equal(t, "/app", svc.cookiePath)
	assert.Equal(t, "example.com", svc.cookieDomain)
	assert.Equal(t, http.SameSiteStrictMode, svc.cookieSameSite)
	assert.Equal(t, 24*time.Hour, svc.sessionTTL)
	assert.Equal(t, 5*time.Minute, svc.codeTTL)
	assert.Equal(t, 3, svc.maxCodeAttempts)
}

func TestService_SetSessionCookie_DowngradesSameSiteNoneWithoutSecure(t *testing.T) {
	secure := false
	svc, _ := newAuthServiceForTests(t, func(o *Options) {
		o.CookieSameSite = http.SameSiteNoneMode
		o.CookieSecure = &secure
		o.CookieDomain = "example.com"
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "http://localhost/login", nil)
	svc.SetSessionCookie(w, req, "token-123", time.Now().Add(time.Hour))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.False(t, c.Secure)
	assert.Equal(t, "example.com", c.Domain)
	assert.True(t, c.HttpOnly)
}

func TestFileRepo_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileRepo(dir)
	require.NoError(t, err)
	u, err := repo.CreateUser(User{Email: "keep@example.com", CreatedAt: time.Now()})
	require.NoError(t, err)

	reopened, err := NewFileRepo(dir)
	require.NoError(t, err)
	got, ok := reopened.GetUserByEmail("keep@example.com")
	require.True(t, ok)
	assert.Equal(t, u.ID, got.ID)
	assert.NoError(t, reopened.Ping())
}
