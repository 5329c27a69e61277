package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "TICKLIST_"

// ApplyEnv overrides file values with TICKLIST_* environment variables.
func (c *Config) ApplyEnv() error {
	setString("ADDR", &c.Server.Addr)
	if v := strings.TrimSpace(os.Getenv(envPrefix + "CORS_ORIGINS")); v != "" {
		c.Server.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Server.CORSOrigins = append(c.Server.CORSOrigins, o)
			}
		}
	}
	setString("STORAGE", &c.Storage.Driver)
	setString("DATA_DIR", &c.Storage.DataDir)
	setString("SQLITE_PATH", &c.Storage.SQLitePath)

	setString("COOKIE_NAME", &c.Auth.CookieName)
	setString("COOKIE_PATH", &c.Auth.CookiePath)
	setString("COOKIE_DOMAIN", &c.Auth.CookieDomain)
	setString("COOKIE_SAMESITE", &c.Auth.CookieSameSite)

	setString("PUBLIC_URL", &c.Auth.OAuth.PublicURL)
	setString("GOOGLE_CLIENT_ID", &c.Auth.OAuth.Google.ClientID)
	setString("GOOGLE_CLIENT_SECRET", &c.Auth.OAuth.Google.ClientSecret)
	setString("GITHUB_CLIENT_ID", &c.Auth.OAuth.GitHub.ClientID)
	setString("GITHUB_CLIENT_SECRET", &c.Auth.OAuth.GitHub.ClientSecret)

	if v, ok, err := envBool("COOKIE_SECURE"); err != nil {
		return err
	} else if ok {
		c.Auth.CookieSecure = &v
	}
	if v, ok, err := envBool("REQUIRE_VERIFIED_EMAIL"); err != nil {
		return err
	} else if ok {
		c.Auth.RequireVerifiedEmail = v
	}
	if v, ok, err := envBool("ALLOW_GUEST"); err != nil {
		return err
	} else if ok {
		c.Auth.AllowGuest = v
	}

	if n, ok, err := envInt("SESSION_TTL_HOURS"); err != nil {
		return err
	} else if ok {
		c.Auth.SessionTTL = time.Duration(n) * time.Hour
	}
	if n, ok, err := envInt("CODE_TTL_MINUTES"); err != nil {
		return err
	} else if ok {
		c.Auth.CodeTTL = time.Duration(n) * time.Minute
	}
	if n, ok, err := envInt("CODE_MAX_ATTEMPTS"); err != nil {
		return err
	} else if ok {
		c.Auth.MaxCodeAttempts = n
	}
	return nil
}

func setString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		*dst = v
	}
}

func envInt(key string) (int, bool, error) {
	val := strings.TrimSpace(os.Getenv(envPrefix + key))
	if val == "" {
		return 0, false, nil
	}
	num, err := strconv.Atoi(val)
	if err != nil || num <= 0 {
		return 0, false, fmt.Errorf("%s%s must be a positive integer, got %q", envPrefix, key, val)
	}
	return num, true, nil
}

func envBool(key string) (bool, bool, error) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(envPrefix + key))) {
	case "":
		return false, false, nil
	case "1", "true", "yes":
		return true, true, nil
	case "0", "false", "no":
		return false, true, nil
	default:
		return false, false, fmt.Errorf("%s%s must be a boolean", envPrefix, key)
	}
}
