package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"ticklist/internal/config"
)

var (
	ErrUnknownProvider      = errors.New("unknown sign-in provider")
	ErrOAuthEmailUnverified = errors.New("provider did not return a verified email")
)

// OAuthProvider is one social sign-in backend.
type OAuthProvider struct {
	Name   string
	Label  string
	Config oauth2.Config
	// UserInfoURL returns the signed-in account's profile as JSON.
	UserInfoURL string
	// EmailsURL lists the account's addresses when the profile may omit them.
	EmailsURL string
}

func GoogleProvider(c config.OAuthClient) OAuthProvider {
	return OAuthProvider{
		Name:  "google",
		Label: "Google",
		Config: oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			Endpoint:     endpoints.Google,
			Scopes:       []string{"openid", "email", "profile"},
		},
		UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
	}
}

// GitHubProvider reads the primary verified address from /user/emails since the profile
// only carries the public one.
func GitHubProvider(c config.OAuthClient) OAuthProvider {
	return OAuthProvider{
		Name:  "github",
		Label: "GitHub",
		Config: oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			Endpoint:     endpoints.GitHub,
			Scopes:       []string{"read:user", "user:email"},
		},
		UserInfoURL: "https://api.github.com/user",
		EmailsURL:   "https://api.github.com/user/emails",
	}
}

func providersFromConfig(c config.OAuthConfig) []OAuthProvider {
	var out []OAuthProvider
	if c.Google.Enabled() {
		out = append(out, GoogleProvider(c.Google))
	}
	if c.GitHub.Enabled() {
		out = append(out, GitHubProvider(c.GitHub))
	}
	return out
}

// OAuthProviders lists the enabled providers in configuration order.
func (s *Service) OAuthProviders() []OAuthProvider {
	out := make([]OAuthProvider, 0, len(s.providerOrder))
	for _, name := range s.providerOrder {
		out = append(out, s.providers[name])
	}
	return out
}

func (s *Service) baseURL(r *http.Request) string {
	if s.publicURL != "" {
		return strings.TrimRight(s.publicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// oauthConfig returns a copy of the provider config with the callback for this server.
func (s *Service) oauthConfig(name string, r *http.Request) (*oauth2.Config, OAuthProvider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, OAuthProvider{}, ErrUnknownProvider
	}
	cfg := p.Config
	cfg.RedirectURL = s.baseURL(r) + "/api/auth/oauth/" + name + "/callback"
	return &cfg, p, nil
}

// OAuthAuthURL starts a round trip. The caller keeps state and verifier until the callback.
func (s *Service) OAuthAuthURL(r *http.Request, provider string) (authURL, state, verifier string, err error) {
	cfg, _, err := s.oauthConfig(provider, r)
	if err != nil {
		return "", "", "", err
	}
	state, err = generateToken()
	if err != nil {
		return "", "", "", err
	}
	verifier = oauth2.GenerateVerifier()
	return cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), state, verifier, nil
}

// CompleteOAuth exchanges the callback code, resolves the verified address and opens a
// session for it. An address seen for the first time gets a new account.
func (s *Service) CompleteOAuth(ctx context.Context, r *http.Request, provider, code, verifier string, now time.Time) (User, string, time.Time, error) {
	cfg, p, err := s.oauthConfig(provider, r)
	if err != nil {
		return User{}, "", time.Time{}, err
	}
	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return User{}, "", time.Time{}, fmt.Errorf("exchange %s code: %w", provider, err)
	}
	email, name, err := fetchProfile(ctx, cfg.Client(ctx, tok), p)
	if err != nil {
		return User{}, "", time.Time{}, err
	}
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return User{}, "", time.Time{}, err
	}

	u, created, err := s.repo.GetOrCreateUser(email, now)
	if err != nil {
		return User{}, "", time.Time{}, err
	}
	if created && name != "" {
		u.Name = name
		if err := s.repo.UpdateUser(u); err != nil {
			return User{}, "", time.Time{}, err
		}
	}
	token, exp, err := s.startSession(u, now)
	if err != nil {
		return User{}, "", time.Time{}, err
	}
	s.logger.Printf("[auth] %s sign-in for %s", provider, email)
	return u, token, exp, nil
}

func fetchProfile(ctx context.Context, hc *http.Client, p OAuthProvider) (email, name string, err error) {
	var info struct {
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
		Name          string `json:"name"`
		Login         string `json:"login"`
	}
	if err := getJSON(ctx, hc, p.UserInfoURL, &info); err != nil {
		return "", "", fmt.Errorf("%s profile: %w", p.Name, err)
	}
	name = info.Name
	if name == "" {
		name = info.Login
	}

	if p.EmailsURL == "" {
		if info.EmailVerified == nil || !*info.EmailVerified || info.Email == "" {
			return "", "", ErrOAuthEmailUnverified
		}
		return info.Email, name, nil
	}

	var addrs []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := getJSON(ctx, hc, p.EmailsURL, &addrs); err != nil {
		return "", "", fmt.Errorf("%s emails: %w", p.Name, err)
	}
	for _, a := range addrs {
		if a.Primary && a.Verified {
			return a.Email, name, nil
		}
	}
	for _, a := range addrs {
		if a.Verified {
			return a.Email, name, nil
		}
	}
	return "", "", ErrOAuthEmailUnverified
}

func getJSON(ctx context.Context, hc *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
