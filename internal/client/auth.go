package client

import (
	"context"
	"net/http"
	"time"
)

type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
}

// SignInResult is what the sign-in endpoints hand back.
type SignInResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}

type SessionInfo struct {
	User      User      `json:"user"`
	ExpiresAt time.Time `json:"expiresAt"`
	Guest     bool      `json:"guest"`
}

func (c *Client) Signup(ctx context.Context, email, password, name string) (User, error) {
	var out struct {
		User User `json:"user"`
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/signup", map[string]string{
		"email":    email,
		"password": password,
		"name":     name,
	}, &out)
	return out.User, err
}

func (c *Client) VerifyEmail(ctx context.Context, email, code string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/verify-email", map[string]string{
		"email": email,
		"code":  code,
	}, nil)
}

func (c *Client) ResendVerification(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/resend-verification", map[string]string{"email": email}, nil)
}

// Signin exchanges a password for a session token and stores it on the client session.
func (c *Client) Signin(ctx context.Context, email, password string) (SignInResult, error) {
	return c.signIn(ctx, "/api/auth/signin", map[string]string{
		"email":    email,
		"password": password,
	})
}

func (c *Client) RequestOTP(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/request-otp", map[string]string{"email": email}, nil)
}

func (c *Client) VerifyOTP(ctx context.Context, email, code string) (SignInResult, error) {
	return c.signIn(ctx, "/api/auth/verify-otp", map[string]string{
		"email": email,
		"code":  code,
	})
}

func (c *Client) signIn(ctx context.Context, path string, body map[string]string) (SignInResult, error) {
	var out SignInResult
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return SignInResult{}, err
	}
	c.session.SignIn(out.Token, out.User.ID, out.User.Email, out.ExpiresAt)
	return out, nil
}

func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": email}, nil)
}

func (c *Client) ResetPassword(ctx context.Context, email, code, password string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/reset-password", map[string]string{
		"email":    email,
		"code":     code,
		"password": password,
	}, nil)
}

func (c *Client) SessionInfo(ctx context.Context) (SessionInfo, error) {
	var out SessionInfo
	err := c.do(ctx, http.MethodGet, "/api/auth/session", nil, &out)
	return out, err
}

// Logout revokes the server session. The local credential is dropped even when the call fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.session.SignOut()
	return err
}
