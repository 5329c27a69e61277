package client

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the one credential record shared by every request the client makes.
// The on-disk copy kept by SessionFile is only a cache of it.
type Session struct {
	mu        sync.RWMutex
	token     string
	userID    string
	email     string
	guestID   string
	expiresAt time.Time
}

// SessionData is the serialisable form of a Session.
type SessionData struct {
	Token     string    `json:"token,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Email     string    `json:"email,omitempty"`
	GuestID   string    `json:"guestId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

func NewSession(d SessionData) *Session {
	s := &Session{}
	s.Restore(d)
	return s
}

func (s *Session) Restore(d SessionData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = d.Token
	s.userID = d.UserID
	s.email = d.Email
	s.guestID = d.GuestID
	s.expiresAt = d.ExpiresAt
}

func (s *Session) Snapshot() SessionData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionData{
		Token:     s.token,
		UserID:    s.userID,
		Email:     s.email,
		GuestID:   s.guestID,
		ExpiresAt: s.expiresAt,
	}
}

// SignIn replaces the credential with an authenticated one.
func (s *Session) SignIn(token, userID, email string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.userID = userID
	s.email = email
	s.expiresAt = expiresAt
}

// SignOut drops the bearer credential. The guest id survives so anonymous data stays reachable.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.userID = ""
	s.email = ""
	s.expiresAt = time.Time{}
}

// Token returns the bearer token, or "" when absent or expired.
func (s *Session) Token(now time.Time) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return ""
	}
	if !s.expiresAt.IsZero() && now.After(s.expiresAt) {
		return ""
	}
	return s.token
}

func (s *Session) Authenticated(now time.Time) bool {
	return s.Token(now) != ""
}

// GuestID returns the anonymous session id, creating one on first use.
func (s *Session) GuestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.guestID == "" {
		s.guestID = uuid.NewString()
	}
	return s.guestID
}

func (s *Session) Email() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.email
}

// SessionFile persists session data between CLI invocations.
type SessionFile struct {
	Path string
}

func (f SessionFile) Load() (SessionData, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return SessionData{}, nil
		}
		return SessionData{}, err
	}
	var d SessionData
	if err := json.Unmarshal(b, &d); err != nil {
		return SessionData{}, err
	}
	return d, nil
}

func (f SessionFile) Save(d SessionData) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, b, 0o600)
}

func (f SessionFile) Clear() error {
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
