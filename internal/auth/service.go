package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"ticklist/internal/api"
	"ticklist/internal/config"
)

// GuestHeader carries the anonymous session id of callers without credentials.
const GuestHeader = "X-Session-ID"

var (
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidCodeFormat  = errors.New("code must be 6 digits")
	ErrInvalidCode        = errors.New("invalid code")
	ErrCodeExpired        = errors.New("code expired")
	ErrTooManyAttempts    = errors.New("too many invalid code attempts")
	ErrInvalidCredentials = errors.New("incorrect email or password")
	ErrEmailNotVerified   = errors.New("email address is not verified")
)

// CodeSender delivers one-time codes. The server has no mail transport, so the default
// writes them to the log.
type CodeSender interface {
	SendCode(p Purpose, email, code string, expiresAt time.Time) error
}

type logSender struct {
	logger *log.Logger
}

func (l logSender) SendCode(p Purpose, email, code string, expiresAt time.Time) error {
	l.logger.Printf("[auth] %s code for %s is %s (expires %s)", purposeLabel(p), email, code, expiresAt.Format(time.RFC3339))
	return nil
}

func purposeLabel(p Purpose) string {
	switch p {
	case PurposeVerifyEmail:
		return "verification"
	case PurposeResetPassword:
		return "password reset"
	default:
		return "sign-in"
	}
}

type Options struct {
	CookieName     string
	CookiePath     string
	CookieDomain   string
	CookieSameSite http.SameSite
	// CookieSecure forces the Secure flag; nil follows the request scheme.
	CookieSecure *bool

	SessionTTL           time.Duration
	CodeTTL              time.Duration
	MaxCodeAttempts      int
	RequireVerifiedEmail bool
	AllowGuest           bool
	BcryptCost           int

	// OAuthProviders are the enabled social sign-in backends; PublicURL is the base their
	// callbacks are built from.
	OAuthProviders []OAuthProvider
	PublicURL      string

	Sender CodeSender
	Now    func() time.Time
}

// OptionsFromConfig maps the auth section of the server config.
func OptionsFromConfig(c config.AuthConfig) Options {
	return Options{
		CookieName:           c.CookieName,
		CookiePath:           c.CookiePath,
		CookieDomain:         c.CookieDomain,
		CookieSameSite:       parseSameSite(c.CookieSameSite),
		CookieSecure:         c.CookieSecure,
		SessionTTL:           c.SessionTTL,
		CodeTTL:              c.CodeTTL,
		MaxCodeAttempts:      c.MaxCodeAttempts,
		RequireVerifiedEmail: c.RequireVerifiedEmail,
		AllowGuest:           c.AllowGuest,
		OAuthProviders:       providersFromConfig(c.OAuth),
		PublicURL:            c.OAuth.PublicURL,
	}
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

type Service struct {
	repo   *FileRepo
	logger *log.Logger
	sender CodeSender
	now    func() time.Time

	cookieName     string
	cookiePath     string
	cookieDomain   string
	cookieSameSite http.SameSite
	cookieSecure   *bool

	codeTTL              time.Duration
	sessionTTL           time.Duration
	maxCodeAttempts      int
	requireVerifiedEmail bool
	allowGuest           bool
	bcryptCost           int

	providers     map[string]OAuthProvider
	providerOrder []string
	publicURL     string
}

func NewService(repo *FileRepo, logger *log.Logger, opts Options) *Service {
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{
		repo:                 repo,
		logger:               logger,
		sender:               opts.Sender,
		now:                  opts.Now,
		cookieName:           opts.CookieName,
		cookiePath:           opts.CookiePath,
		cookieDomain:         opts.CookieDomain,
		cookieSameSite:       opts.CookieSameSite,
		cookieSecure:         opts.CookieSecure,
		codeTTL:              opts.CodeTTL,
		sessionTTL:           opts.SessionTTL,
		maxCodeAttempts:      opts.MaxCodeAttempts,
		requireVerifiedEmail: opts.RequireVerifiedEmail,
		allowGuest:           opts.AllowGuest,
		bcryptCost:           opts.BcryptCost,
		providers:            make(map[string]OAuthProvider, len(opts.OAuthProviders)),
		publicURL:            opts.PublicURL,
	}
	for _, p := range opts.OAuthProviders {
		if _, dup := s.providers[p.Name]; !dup {
			s.providerOrder = append(s.providerOrder, p.Name)
		}
		s.providers[p.Name] = p
	}
	if s.sender == nil {
		s.sender = logSender{logger: logger}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.cookieName == "" {
		s.cookieName = "ticklist_session"
	}
	if s.cookiePath == "" {
		s.cookiePath = "/"
	}
	if s.cookieSameSite == 0 || s.cookieSameSite == http.SameSiteDefaultMode {
		s.cookieSameSite = http.SameSiteLaxMode
	}
	if s.codeTTL <= 0 {
		s.codeTTL = 10 * time.Minute
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = 7 * 24 * time.Hour
	}
	if s.maxCodeAttempts <= 0 {
		s.maxCodeAttempts = 5
	}
	if s.bcryptCost == 0 {
		s.bcryptCost = DefaultBcryptCost
	}
	return s
}

func (s *Service) AllowGuest() bool { return s.allowGuest }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return ErrInvalidEmail
	}
	if strings.ToLower(addr.Address) != email {
		return ErrInvalidEmail
	}
	return nil
}

func validateCode(code string) error {
	if len(code) != 6 {
		return ErrInvalidCodeFormat
	}
	for _, ch := range code {
		if ch < '0' || ch > '9' {
			return ErrInvalidCodeFormat
		}
	}
	return nil
}

func hashCode(p Purpose, email, code string) string {
	sum := sha256.Sum256([]byte(string(p) + ":" + email + ":" + code))
	return hex.EncodeToString(sum[:])
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func generateToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// issueCode replaces any outstanding code of the same purpose and hands the new one to the sender.
func (s *Service) issueCode(p Purpose, email string, now time.Time) (string, time.Time, error) {
	code, err := generateCode()
	if err != nil {
		return "", time.Time{}, err
	}
	ch := Challenge{
		Email:       email,
		Purpose:     p,
		CodeHash:    hashCode(p, email, code),
		ExpiresAt:   now.Add(s.codeTTL),
		RequestedAt: now,
	}
	if err := s.repo.PutChallenge(ch); err != nil {
		return "", time.Time{}, err
	}
	if err := s.sender.SendCode(p, email, code, ch.ExpiresAt); err != nil {
		return "", time.Time{}, fmt.Errorf("send %s code: %w", p, err)
	}
	return code, ch.ExpiresAt, nil
}

// consumeCode checks a code and deletes the challenge on success, expiry or lockout.
func (s *Service) consumeCode(p Purpose, email, code string, now time.Time) error {
	ch, ok := s.repo.GetChallenge(p, email)
	if !ok {
		return ErrInvalidCode
	}
	if now.After(ch.ExpiresAt) {
		_ = s.repo.DeleteChallenge(p, email)
		return ErrCodeExpired
	}
	if ch.Attempts >= s.maxCodeAttempts {
		_ = s.repo.DeleteChallenge(p, email)
		return ErrTooManyAttempts
	}
	if hashCode(p, email, code) != ch.CodeHash {
		ch.Attempts++
		if ch.Attempts >= s.maxCodeAttempts {
			_ = s.repo.DeleteChallenge(p, email)
			return ErrTooManyAttempts
		}
		_ = s.repo.PutChallenge(ch)
		return ErrInvalidCode
	}
	return s.repo.DeleteChallenge(p, email)
}

func (s *Service) startSession(u User, now time.Time) (string, time.Time, error) {
	token, err := generateToken()
	if err != nil {
		return "", time.Time{}, err
	}
	exp := now.Add(s.sessionTTL)
	sess := Session{
		ID:        newID("sess"),
		UserID:    u.ID,
		TokenHash: hashToken(token),
		CreatedAt: now,
		LastSeen:  now,
		ExpiresAt: exp,
	}
	if err := s.repo.CreateSession(sess); err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Signup creates an unverified account and sends its verification code.
func (s *Service) Signup(email, password, name string, now time.Time) (User, string, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return User{}, "", err
	}
	if err := CheckPasswordStrength(password); err != nil {
		return User{}, "", err
	}
	if _, ok := s.repo.GetUserByEmail(email); ok {
		return User{}, "", ErrEmailTaken
	}
	hash, err := hashPassword(password, s.bcryptCost)
	if err != nil {
		return User{}, "", err
	}
	u, err := s.repo.CreateUser(User{
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		CreatedAt:    now,
	})
	if err != nil {
		return User{}, "", err
	}
	code, _, err := s.issueCode(PurposeVerifyEmail, email, now)
	if err != nil {
		return User{}, "", err
	}
	return u, code, nil
}

func (s *Service) VerifyEmail(email, code string, now time.Time) (User, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return User{}, err
	}
	if err := validateCode(code); err != nil {
		return User{}, err
	}
	if err := s.consumeCode(PurposeVerifyEmail, email, code, now); err != nil {
		return User{}, err
	}
	u, ok := s.repo.GetUserByEmail(email)
	if !ok {
		return User{}, ErrInvalidCode
	}
	if u.EmailVerified {
		return u, nil
	}
	u.EmailVerified = true
	if err := s.repo.UpdateUser(u); err != nil {
		return User{}, err
	}
	return u, nil
}

// ResendVerification issues a fresh code. Unknown or already verified addresses get
// no code and no error.
func (s *Service) ResendVerification(email string, now time.Time) (string, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return "", err
	}
	u, ok := s.repo.GetUserByEmail(email)
	if !ok || u.EmailVerified {
		return "", nil
	}
	code, _, err := s.issueCode(PurposeVerifyEmail, email, now)
	return code, err
}

func (s *Service) Signin(email, password string, now time.Time) (User, string, time.Time, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return User{}, "", time.Time{}, err
	}
	u, ok := s.repo.GetUserByEmail(email)
	if !ok || !checkPassword(u.PasswordHash, password) {
		return User{}, "", time.Time{}, ErrInvalidCredentials
	}
	if s.requireVerifiedEmail && !u.EmailVerified {
		return User{}, "", time.Time{}, ErrEmailNotVerified
	}
	token, exp, err := s.startSession(u, now)
	if err != nil {
		return User{}, "", time.Time{}, err
	}
	return u, token, exp, nil
}

// ForgotPassword sends a reset code when the account exists. Callers answer the same
// way either way.
func (s *Service) ForgotPassword(email string, now time.Time) (string, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return "", err
	}
	if _, ok := s.repo.GetUserByEmail(email); !ok {
		return "", nil
	}
	code, _, err := s.issueCode(PurposeResetPassword, email, now)
	return code, err
}

// ResetPassword sets a new password and signs the user out everywhere.
func (s *Service) ResetPassword(email, code, password string, now time.Time) error {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := validateCode(code); err != nil {
		return err
	}
	if err := CheckPasswordStrength(password); err != nil {
		return err
	}
	if err := s.consumeCode(PurposeResetPassword, email, code, now); err != nil {
		return err
	}
	u, ok := s.repo.GetUserByEmail(email)
	if !ok {
		return ErrInvalidCode
	}
	hash, err := hashPassword(password, s.bcryptCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	u.EmailVerified = true
	if err := s.repo.UpdateUser(u); err != nil {
		return err
	}
	return s.repo.DeleteSessionsForUser(u.ID)
}

func (s *Service) RequestOTP(email string, now time.Time) (expiresAt time.Time, code string, err error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return time.Time{}, "", err
	}
	code, exp, err := s.issueCode(PurposeSignIn, email, now)
	if err != nil {
		return time.Time{}, "", err
	}
	return exp, code, nil
}

func (s *Service) VerifyOTP(email, otpCode string, now time.Time) (User, string, time.Time, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return User{}, "", time.Time{}, err
	}
	if err := validateCode(otpCode); err != nil {
		return User{}, "", time.Time{}, err
	}
	if err := s.consumeCode(PurposeSignIn, email, otpCode, now); err != nil {
		return User{}, "", time.Time{}, err
	}
	u, _, err := s.repo.GetOrCreateUser(email, now)
	if err != nil {
		return User{}, "", time.Time{}, err
	}
	token, exp, err := s.startSession(u, now)
	if err != nil {
		return User{}, "", time.Time{}, err
	}
	return u, token, exp, nil
}

// requestToken reads the bearer header first, then the session cookie.
func (s *Service) requestToken(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	cookie, err := r.Cookie(s.cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *Service) AuthenticateRequest(r *http.Request, now time.Time) (User, Session, bool) {
	token := s.requestToken(r)
	if token == "" {
		return User{}, Session{}, false
	}

	sess, ok := s.repo.GetSessionByTokenHash(hashToken(token))
	if !ok {
		return User{}, Session{}, false
	}

	if now.After(sess.ExpiresAt) {
		_ = s.repo.DeleteSessionByID(sess.ID)
		return User{}, Session{}, false
	}

	u, ok := s.repo.GetUserByID(sess.UserID)
	if !ok {
		_ = s.repo.DeleteSessionByID(sess.ID)
		return User{}, Session{}, false
	}

	// Best-effort last-seen update, throttled to reduce writes.
	if now.Sub(sess.LastSeen) >= 5*time.Minute {
		_ = s.repo.TouchSession(sess.ID, now)
		sess.LastSeen = now
	}

	return u, sess, true
}

// Identify resolves a signed-in user, or a guest when guests are allowed and the
// request carries a well-formed guest id.
func (s *Service) Identify(r *http.Request, now time.Time) (Identity, bool) {
	if u, sess, ok := s.AuthenticateRequest(r, now); ok {
		return Identity{OwnerID: u.ID, User: u, Session: sess}, true
	}
	if !s.allowGuest {
		return Identity{}, false
	}
	id, err := uuid.Parse(strings.TrimSpace(r.Header.Get(GuestHeader)))
	if err != nil {
		return Identity{}, false
	}
	owner := "guest_" + id.String()
	return Identity{OwnerID: owner, User: User{ID: owner}, Guest: true}, true
}

func (s *Service) RevokeSessionForRequest(r *http.Request) {
	token := s.requestToken(r)
	if token == "" {
		return
	}
	_ = s.repo.DeleteSessionByTokenHash(hashToken(token))
}

func (s *Service) shouldUseSecureCookie(r *http.Request) bool {
	if s.cookieSecure != nil {
		return *s.cookieSecure
	}
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}

// Browsers drop SameSite=None cookies without Secure, so those fall back to Lax.
func (s *Service) sameSite(secure bool) http.SameSite {
	if s.cookieSameSite == http.SameSiteNoneMode && !secure {
		return http.SameSiteLaxMode
	}
	return s.cookieSameSite
}

func (s *Service) SetSessionCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	secure := s.shouldUseSecureCookie(r)
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     s.cookiePath,
		Domain:   s.cookieDomain,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: s.sameSite(secure),
	})
}

func (s *Service) ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	secure := s.shouldUseSecureCookie(r)
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     s.cookiePath,
		Domain:   s.cookieDomain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: s.sameSite(secure),
	})
}

// RequirePage only admits signed-in users; guests are sent to the login page too.
func (s *Service) RequirePage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, sess, ok := s.AuthenticateRequest(r, s.now())
		if !ok {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		ctx := withIdentity(r.Context(), Identity{OwnerID: u.ID, User: u, Session: sess})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Service) RequireAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.Identify(r, s.now())
		if !ok {
			api.WriteError(w, http.StatusUnauthorized, api.CodeUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

func (s *Service) HandleAppRoute(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := s.AuthenticateRequest(r, s.now()); ok {
		http.Redirect(w, r, "/tasks", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
