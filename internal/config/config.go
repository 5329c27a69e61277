package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Config is the server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Storage StorageConfig `yaml:"storage" json:"storage"`
	Auth    AuthConfig    `yaml:"auth" json:"auth"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr" json:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" json:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	// CORSOrigins lists browser origins allowed to call the API; "*" allows any.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins,omitempty"`
}

type StorageConfig struct {
	// Driver is one of file, sqlite or memory.
	Driver     string `yaml:"driver" json:"driver"`
	DataDir    string `yaml:"data_dir" json:"data_dir"`
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`
}

type AuthConfig struct {
	CookieName     string `yaml:"cookie_name" json:"cookie_name"`
	CookiePath     string `yaml:"cookie_path" json:"cookie_path"`
	CookieDomain   string `yaml:"cookie_domain" json:"cookie_domain"`
	CookieSameSite string `yaml:"cookie_samesite" json:"cookie_samesite"`
	// CookieSecure forces the Secure flag; unset means "when the request came over TLS".
	CookieSecure *bool `yaml:"cookie_secure" json:"cookie_secure,omitempty"`

	SessionTTL           time.Duration `yaml:"session_ttl" json:"session_ttl"`
	CodeTTL              time.Duration `yaml:"code_ttl" json:"code_ttl"`
	MaxCodeAttempts      int           `yaml:"max_code_attempts" json:"max_code_attempts"`
	RequireVerifiedEmail bool          `yaml:"require_verified_email" json:"require_verified_email"`
	AllowGuest           bool          `yaml:"allow_guest" json:"allow_guest"`

	OAuth OAuthConfig `yaml:"oauth" json:"oauth"`
}

// OAuthConfig holds the social sign-in providers.
type OAuthConfig struct {
	// PublicURL is the externally visible base URL callbacks are built from. Empty derives it
	// from the incoming request.
	PublicURL string      `yaml:"public_url" json:"public_url,omitempty"`
	Google    OAuthClient `yaml:"google" json:"google"`
	GitHub    OAuthClient `yaml:"github" json:"github"`
}

type OAuthClient struct {
	ClientID     string `yaml:"client_id" json:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret" json:"-"`
}

// Enabled reports whether both halves of the client credentials are set.
func (c OAuthClient) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

func (s *ServerConfig) ApplyDefaults() {
	if s.Addr == "" {
		s.Addr = ":8080"
	}
	if s.ReadHeaderTimeout == 0 {
		s.ReadHeaderTimeout = 5 * time.Second
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 10 * time.Second
	}
}

func (s *StorageConfig) ApplyDefaults() {
	if s.Driver == "" {
		s.Driver = StorageFile
	}
	if s.DataDir == "" {
		s.DataDir = "data"
	}
	if s.SQLitePath == "" {
		s.SQLitePath = filepath.Join(s.DataDir, "tasks.db")
	}
}

func (a *AuthConfig) ApplyDefaults() {
	if a.CookieName == "" {
		a.CookieName = "ticklist_session"
	}
	if a.CookiePath == "" {
		a.CookiePath = "/"
	}
	if a.CookieSameSite == "" {
		a.CookieSameSite = "lax"
	}
	if a.SessionTTL == 0 {
		a.SessionTTL = 7 * 24 * time.Hour
	}
	if a.CodeTTL == 0 {
		a.CodeTTL = 10 * time.Minute
	}
	if a.MaxCodeAttempts == 0 {
		a.MaxCodeAttempts = 5
	}
}

func (c *Config) ApplyDefaults() {
	c.Server.ApplyDefaults()
	c.Storage.ApplyDefaults()
	c.Auth.ApplyDefaults()
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageFile, StorageSQLite, StorageMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch strings.ToLower(c.Auth.CookieSameSite) {
	case "lax", "strict", "none":
	default:
		return fmt.Errorf("unknown cookie_samesite %q", c.Auth.CookieSameSite)
	}
	if u := c.Auth.OAuth.PublicURL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("public_url %q must start with http:// or https://", u)
	}
	if c.Auth.MaxCodeAttempts < 1 {
		return errors.New("max_code_attempts must be at least 1")
	}
	return nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var c Config
	c.ApplyDefaults()
	return &c
}

// Load reads a YAML file, applies TICKLIST_* environment overrides and fills defaults.
// An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	var r Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(b, &r); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	if err := r.ApplyEnv(); err != nil {
		return nil, err
	}
	r.ApplyDefaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}
