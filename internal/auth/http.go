package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ticklist/internal/api"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Code     string `json:"code"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	var in credentials
	if r.Method != http.MethodPost {
		api.MethodNotAllowed(w)
		return in, false
	}
	if err := api.DecodeJSON(r, &in); err != nil {
		api.WriteError(w, http.StatusBadRequest, api.CodeBadRequest, "invalid json")
		return in, false
	}
	return in, true
}

// writeAuthError maps service errors to statuses. fallback is the message for anything unexpected.
func (h *Handler) writeAuthError(w http.ResponseWriter, err error, fallback string) {
	var pe *PasswordError
	switch {
	case errors.As(err, &pe):
		api.WriteError(w, http.StatusBadRequest, api.CodeValidation, pe.Reason)
	case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrInvalidCodeFormat):
		api.WriteError(w, http.StatusBadRequest, api.CodeValidation, err.Error())
	case errors.Is(err, ErrEmailTaken):
		api.WriteError(w, http.StatusConflict, api.CodeConflict, err.Error())
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidCode), errors.Is(err, ErrCodeExpired):
		api.WriteError(w, http.StatusUnauthorized, api.CodeUnauthorized, err.Error())
	case errors.Is(err, ErrEmailNotVerified):
		api.WriteError(w, http.StatusForbidden, api.CodeForbidden, err.Error())
	case errors.Is(err, ErrTooManyAttempts):
		api.WriteError(w, http.StatusTooManyRequests, api.CodeTooManyAttempts, err.Error())
	default:
		h.service.logger.Printf("[auth] %s: %v", fallback, err)
		api.WriteError(w, http.StatusInternalServerError, api.CodeInternal, fallback)
	}
}

func (h *Handler) signedIn(w http.ResponseWriter, r *http.Request, u User, token string, exp time.Time) {
	h.service.SetSessionCookie(w, r, token, exp)
	api.WriteData(w, http.StatusOK, map[string]any{
		"token":     token,
		"expiresAt": exp.UTC().Format(time.RFC3339),
		"user":      u.Public(),
	})
}

// POST /api/auth/signup
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	u, _, err := h.service.Signup(in.Email, in.Password, in.Name, h.service.now())
	if err != nil {
		h.writeAuthError(w, err, "could not create account")
		return
	}
	api.WriteData(w, http.StatusCreated, map[string]any{"user": u.Public()})
}

// POST /api/auth/verify-email
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	u, err := h.service.VerifyEmail(in.Email, in.Code, h.service.now())
	if err != nil {
		h.writeAuthError(w, err, "could not verify email")
		return
	}
	api.WriteData(w, http.StatusOK, map[string]any{"user": u.Public()})
}

// POST /api/auth/resend-verification
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	if _, err := h.service.ResendVerification(in.Email, h.service.now()); err != nil {
		h.writeAuthError(w, err, "could not resend verification")
		return
	}
	api.WriteData(w, http.StatusOK, map[string]any{"sent": true})
}

// POST /api/auth/signin
func (h *Handler) Signin(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	u, token, exp, err := h.service.Signin(in.Email, in.Password, h.service.now())
	if err != nil {
		h.writeAuthError(w, err, "could not sign in")
		return
	}
	h.signedIn(w, r, u, token, exp)
}

// POST /api/auth/forgot-password
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	if _, err := h.service.ForgotPassword(in.Email, h.service.now()); err != nil && !errors.Is(err, ErrInvalidEmail) {
		h.service.logger.Printf("[auth] forgot password: %v", err)
	}
	api.WriteData(w, http.StatusOK, map[string]any{
		"message": "If an account exists for that email, a reset code has been sent.",
	})
}

// POST /api/auth/reset-password
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	if err := h.service.ResetPassword(in.Email, in.Code, in.Password, h.service.now()); err != nil {
		h.writeAuthError(w, err, "could not reset password")
		return
	}
	api.WriteData(w, http.StatusOK, map[string]any{"reset": true})
}

// POST /api/auth/request-otp
func (h *Handler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	exp, _, err := h.service.RequestOTP(in.Email, h.service.now())
	if err != nil {
		h.writeAuthError(w, err, "could not request code")
		return
	}
	api.WriteData(w, http.StatusOK, map[string]any{"expiresAt": exp.UTC().Format(time.RFC3339)})
}

// POST /api/auth/verify-otp
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	u, token, exp, err := h.service.VerifyOTP(in.Email, in.Code, h.service.now())
	if err != nil {
		h.writeAuthError(w, err, "could not verify code")
		return
	}
	h.signedIn(w, r, u, token, exp)
}

// GET /api/auth/session
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.MethodNotAllowed(w)
		return
	}
	id, ok := h.service.Identify(r, h.service.now())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, api.CodeUnauthorized, "authentication required")
		return
	}
	out := map[string]any{
		"user":  id.User.Public(),
		"guest": id.Guest,
	}
	if !id.Guest {
		out["expiresAt"] = id.Session.ExpiresAt.UTC().Format(time.RFC3339)
	}
	api.WriteData(w, http.StatusOK, out)
}

// POST /api/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.MethodNotAllowed(w)
		return
	}
	h.service.RevokeSessionForRequest(r)
	h.service.ClearSessionCookie(w, r)
	api.WriteData(w, http.StatusOK, map[string]any{"loggedOut": true})
}

const (
	oauthCookie     = "ticklist_oauth"
	oauthCookiePath = "/api/auth/oauth/"
	oauthCookieTTL  = 10 * time.Minute
)

// setOAuthCookie keeps provider, state and PKCE verifier for the callback. It is always Lax
// so it survives the top-level redirect back from the provider.
func (h *Handler) setOAuthCookie(w http.ResponseWriter, r *http.Request, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthCookie,
		Value:    value,
		Path:     oauthCookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.service.shouldUseSecureCookie(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// GET /api/auth/oauth/{provider}
func (h *Handler) OAuthStart(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	authURL, state, verifier, err := h.service.OAuthAuthURL(r, provider)
	if errors.Is(err, ErrUnknownProvider) {
		api.WriteError(w, http.StatusNotFound, api.CodeNotFound, err.Error())
		return
	}
	if err != nil {
		h.service.logger.Printf("[auth] %s start: %v", provider, err)
		api.WriteError(w, http.StatusInternalServerError, api.CodeInternal, "could not start sign-in")
		return
	}
	h.setOAuthCookie(w, r, provider+"."+state+"."+verifier, int(oauthCookieTTL/time.Second))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// GET /api/auth/oauth/{provider}/callback
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	if _, ok := h.service.providers[provider]; !ok {
		api.WriteError(w, http.StatusNotFound, api.CodeNotFound, ErrUnknownProvider.Error())
		return
	}
	fail := func(reason string) {
		http.Redirect(w, r, "/login?error="+url.QueryEscape(reason), http.StatusSeeOther)
	}

	q := r.URL.Query()
	c, err := r.Cookie(oauthCookie)
	h.setOAuthCookie(w, r, "", -1)
	if err != nil {
		fail("oauth_state")
		return
	}
	parts := strings.SplitN(c.Value, ".", 3)
	if len(parts) != 3 || parts[0] != provider || subtle.ConstantTimeCompare([]byte(parts[1]), []byte(q.Get("state"))) != 1 {
		fail("oauth_state")
		return
	}
	if q.Get("error") != "" {
		fail("oauth_denied")
		return
	}
	code := q.Get("code")
	if code == "" {
		fail("oauth_code")
		return
	}

	_, token, exp, err := h.service.CompleteOAuth(r.Context(), r, provider, code, parts[2], h.service.now())
	switch {
	case errors.Is(err, ErrOAuthEmailUnverified), errors.Is(err, ErrInvalidEmail):
		fail("oauth_email")
		return
	case err != nil:
		h.service.logger.Printf("[auth] %s callback: %v", provider, err)
		fail("oauth_failed")
		return
	}
	h.service.SetSessionCookie(w, r, token, exp)
	http.Redirect(w, r, "/tasks", http.StatusSeeOther)
}
