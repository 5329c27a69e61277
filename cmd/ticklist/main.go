package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"ticklist/internal/client"
	"ticklist/internal/config"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

// env is what every subcommand works with, built once the flags are parsed.
type env struct {
	cfgPath string
	apiURL  string
	verbose bool

	cfg      config.ClientConfig
	sessions client.SessionFile
	api      *client.Client
	logger   *log.Logger
	stdin    *bufio.Reader
}

func newRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:           "ticklist",
		Short:         "ticklist: manage your tasks from the terminal",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return e.saveSession()
		},
	}
	root.PersistentFlags().StringVarP(&e.cfgPath, "config", "c", filepath.Join(config.DefaultClientDir(), config.DefaultClientFileName), "client config file (TOML)")
	root.PersistentFlags().StringVar(&e.apiURL, "api-url", "", "task server URL (overrides api_url)")
	root.PersistentFlags().BoolVarP(&e.verbose, "verbose", "v", false, "log requests to stderr")

	root.AddCommand(
		signupCmd(e), verifyCmd(e), loginCmd(e), loginCodeCmd(e), logoutCmd(e), whoamiCmd(e),
		forgotPasswordCmd(e), resetPasswordCmd(e),
		listCmd(e), addCmd(e), editCmd(e), toggleCmd(e), rmCmd(e), undoWindowCmd(e),
		exportCmd(e), importCmd(e), statsCmd(e), tagsCmd(e),
		tuiCmd(e),
	)
	return root
}

func (e *env) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadClient(e.cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", e.cfgPath, err)
	}
	if e.apiURL != "" {
		cfg.APIURL = e.apiURL
	}
	e.cfg = cfg

	e.logger = log.New(io.Discard, "", 0)
	if e.verbose {
		e.logger = log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
	}

	e.sessions = client.SessionFile{Path: cfg.SessionFile}
	data, err := e.sessions.Load()
	if err != nil {
		e.logger.Printf("ignoring unreadable session file %s: %v", cfg.SessionFile, err)
		data = client.SessionData{}
	}

	opts := []client.Option{client.WithSession(client.NewSession(data)), client.WithLogger(e.logger)}
	if t := cfg.Timeout(); t > 0 {
		opts = append(opts, client.WithTimeout(t))
	}
	e.api = client.New(cfg.APIURL, opts...)
	e.stdin = bufio.NewReader(cmd.InOrStdin())
	return nil
}

// saveSession writes the session back so the next invocation reuses the credential and guest id.
func (e *env) saveSession() error {
	if e.api == nil {
		return nil
	}
	if err := e.sessions.Save(e.api.Session().Snapshot()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// prompt returns the flag value when set, otherwise one line read from stdin.
func (e *env) prompt(cmd *cobra.Command, label, value string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: ", label)
	line, err := e.stdin.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return "", fmt.Errorf("%s is required", strings.ToLower(label))
	}
	return line, nil
}

func describe(err error) string {
	if client.IsAuthError(err) {
		return "error: not signed in or session expired (run `ticklist login`)"
	}
	return "error: " + err.Error()
}
