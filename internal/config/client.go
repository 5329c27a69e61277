package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	DefaultClientFileName = "config.toml"
	DefaultSessionName    = "session.json"
	DefaultAPIURL         = "http://localhost:8080"
)

type Keymap struct {
	Quit    string `toml:"quit"`
	Add     string `toml:"add"`
	Up      string `toml:"up"`
	Down    string `toml:"down"`
	Toggle  string `toml:"toggle"`
	Delete  string `toml:"delete"`
	Undo    string `toml:"undo"`
	Edit    string `toml:"edit"`
	Search  string `toml:"search"`
	Filter  string `toml:"filter"`
	Sort    string `toml:"sort"`
	Order   string `toml:"order"`
	Export  string `toml:"export"`
	Refresh string `toml:"refresh"`
	Confirm string `toml:"confirm"`
	Cancel  string `toml:"cancel"`
}

// ClientConfig configures the CLI and terminal UI.
type ClientConfig struct {
	APIURL            string `toml:"api_url"`
	SessionFile       string `toml:"session_file"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	UndoWindowSeconds int    `toml:"undo_window_seconds"`
	DefaultSort       string `toml:"default_sort"`
	DefaultOrder      string `toml:"default_order"`
	ExportDir         string `toml:"export_dir"`
	Keys              Keymap `toml:"keys"`
}

func (c ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c ClientConfig) UndoWindow() time.Duration {
	return time.Duration(c.UndoWindowSeconds) * time.Second
}

// DefaultClientDir is the per-user directory holding config.toml and the session cache.
func DefaultClientDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "ticklist")
	}
	return ".ticklist"
}

// LoadClient reads the TOML client config, writing the defaults first when the file is absent.
// TICKLIST_API_URL overrides api_url.
func LoadClient(path string) (ClientConfig, error) {
	cfg := defaultClientConfig(filepath.Dir(path))
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeClient(path, cfg); err != nil {
			return cfg, err
		}
		cfg.applyEnv()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = filepath.Join(filepath.Dir(path), DefaultSessionName)
	}
	if cfg.UndoWindowSeconds <= 0 {
		cfg.UndoWindowSeconds = 5
	}
	cfg.applyEnv()
	return cfg, nil
}

// SaveClient writes cfg back to path as TOML.
func SaveClient(path string, cfg ClientConfig) error {
	return writeClient(path, cfg)
}

func (c *ClientConfig) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(envPrefix + "API_URL")); v != "" {
		c.APIURL = v
	}
}

func writeClient(path string, cfg ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultClientConfig(dir string) ClientConfig {
	return ClientConfig{
		APIURL:            DefaultAPIURL,
		SessionFile:       filepath.Join(dir, DefaultSessionName),
		UndoWindowSeconds: 5,
		DefaultSort:       "createdAt",
		DefaultOrder:      "desc",
		ExportDir:         ".",
		Keys: Keymap{
			Quit:    "q",
			Add:     "a",
			Up:      "k",
			Down:    "j",
			Toggle:  " ",
			Delete:  "d",
			Undo:    "u",
			Edit:    "e",
			Search:  "/",
			Filter:  "f",
			Sort:    "s",
			Order:   "o",
			Export:  "x",
			Refresh: "r",
			Confirm: "enter",
			Cancel:  "esc",
		},
	}
}
