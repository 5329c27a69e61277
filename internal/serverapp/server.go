package serverapp

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/a-h/templ"

	"ticklist/internal/api"
	"ticklist/internal/auth"
	"ticklist/internal/config"
	"ticklist/internal/httpmw"
	"ticklist/internal/task"
	"ticklist/internal/web"
	staticfiles "ticklist/static"
)

type Options struct {
	Config        *config.Config
	StaticDir     string
	UseDiskStatic bool
	Logger        *log.Logger
	// AuthOptions is applied on top of the config, for tests that need a cheaper bcrypt cost.
	AuthOptions func(*auth.Options)
}

// App is the assembled HTTP surface plus the storage it owns.
type App struct {
	Handler http.Handler

	tasks   task.Repo
	users   *auth.FileRepo
	closers []io.Closer
}

// Close releases storage handles.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func openStorage(cfg config.StorageConfig) (task.Repo, *auth.FileRepo, []io.Closer, error) {
	var users *auth.FileRepo
	if cfg.Driver == config.StorageMemory {
		users = auth.NewMemoryRepo()
	} else {
		var err error
		if users, err = auth.NewFileRepo(filepath.Join(cfg.DataDir, "auth")); err != nil {
			return nil, nil, nil, err
		}
	}

	switch cfg.Driver {
	case config.StorageMemory:
		return task.NewMemoryRepo(), users, nil, nil
	case config.StorageSQLite:
		repo, err := task.OpenSQLiteRepo(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return repo, users, []io.Closer{repo}, nil
	default:
		repo, err := task.NewFileRepo(filepath.Join(cfg.DataDir, "tasks"))
		if err != nil {
			return nil, nil, nil, err
		}
		return repo, users, nil, nil
	}
}

func New(opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if strings.TrimSpace(opts.StaticDir) == "" {
		opts.StaticDir = "static"
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	cfg := opts.Config

	taskRepo, authRepo, closers, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	app := &App{tasks: taskRepo, users: authRepo, closers: closers}

	mux := http.NewServeMux()

	staticDir := ""
	if opts.UseDiskStatic {
		staticDir = opts.StaticDir
	}
	mux.Handle("/static/", staticfiles.Handler(staticDir))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			api.MethodNotAllowed(w)
			return
		}
		api.WriteData(w, http.StatusOK, map[string]any{
			"status":  "healthy",
			"service": "ticklist",
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/readyz", app.ready)

	authOpts := auth.OptionsFromConfig(cfg.Auth)
	if opts.AuthOptions != nil {
		opts.AuthOptions(&authOpts)
	}
	authService := auth.NewService(authRepo, opts.Logger, authOpts)
	logSecurityHints(opts.Logger, cfg)

	authHandler := auth.NewHandler(authService)
	mux.HandleFunc("/api/auth/signup", authHandler.Signup)
	mux.HandleFunc("/api/auth/verify-email", authHandler.VerifyEmail)
	mux.HandleFunc("/api/auth/resend-verification", authHandler.ResendVerification)
	mux.HandleFunc("/api/auth/signin", authHandler.Signin)
	mux.HandleFunc("/api/auth/forgot-password", authHandler.ForgotPassword)
	mux.HandleFunc("/api/auth/reset-password", authHandler.ResetPassword)
	mux.HandleFunc("/api/auth/request-otp", authHandler.RequestOTP)
	mux.HandleFunc("/api/auth/verify-otp", authHandler.VerifyOTP)
	mux.HandleFunc("/api/auth/session", authHandler.Session)
	mux.HandleFunc("/api/auth/logout", authHandler.Logout)
	mux.HandleFunc("GET /api/auth/oauth/{provider}", authHandler.OAuthStart)
	mux.HandleFunc("GET /api/auth/oauth/{provider}/callback", authHandler.OAuthCallback)

	var buttons []web.OAuthButton
	for _, p := range authService.OAuthProviders() {
		buttons = append(buttons, web.OAuthButton{Name: p.Name, Label: p.Label})
	}

	resolve := func(r *http.Request) task.Repo {
		owner, ok := auth.OwnerFromContext(r.Context())
		if !ok {
			return nil
		}
		return taskRepo.ForUser(owner)
	}

	// Unreachable behind RequireAPI.
	taskHandler := task.NewHandler(task.NewMemoryRepo(), opts.Logger)
	taskHandler.SetRepoResolver(resolve)
	mux.Handle("/api/tasks", authService.RequireAPI(http.HandlerFunc(taskHandler.TasksRoot)))
	mux.Handle("/api/tasks/", authService.RequireAPI(http.HandlerFunc(taskHandler.TasksSub)))
	mux.Handle("/api/tags", authService.RequireAPI(http.HandlerFunc(taskHandler.Tags)))
	mux.Handle("/api/categories", authService.RequireAPI(http.HandlerFunc(taskHandler.Categories)))

	mux.Handle("/{$}", templ.Handler(web.HomePage()))
	mux.Handle("/login", templ.Handler(web.LoginPage(buttons...)))
	mux.Handle("/signup", templ.Handler(web.SignupPage()))
	mux.Handle("/verify-email", templ.Handler(web.VerifyEmailPage()))
	mux.Handle("/forgot-password", templ.Handler(web.ForgotPasswordPage()))
	mux.Handle("/reset-password", templ.Handler(web.ResetPasswordPage()))
	mux.HandleFunc("/app", authService.HandleAppRoute)
	mux.Handle("/tasks", authService.RequirePage(web.NewTasksHandler(resolve, opts.Logger)))

	app.Handler = httpmw.Chain(
		mux,
		httpmw.WithRequestID,
		httpmw.WithAccessLog(opts.Logger),
		httpmw.WithRecover(opts.Logger),
		httpmw.WithCORS(cfg.Server.CORSOrigins),
	)
	return app, nil
}

func (a *App) ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.MethodNotAllowed(w)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.tasks.Ping(ctx); err != nil {
		api.WriteError(w, http.StatusServiceUnavailable, api.CodeInternal, "task storage unavailable")
		return
	}
	if err := a.users.Ping(); err != nil {
		api.WriteError(w, http.StatusServiceUnavailable, api.CodeInternal, "account storage unavailable")
		return
	}
	api.WriteData(w, http.StatusOK, map[string]any{
		"status":  "ready",
		"service": "ticklist",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func UseDiskStaticByEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("TICKLIST_DEV_STATIC"))) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func logSecurityHints(logger *log.Logger, cfg *config.Config) {
	if logger == nil {
		return
	}
	env := strings.ToLower(strings.TrimSpace(os.Getenv("TICKLIST_ENV")))
	if env != "production" && env != "prod" {
		return
	}
	if cfg.Auth.CookieSecure == nil || !*cfg.Auth.CookieSecure {
		logger.Printf("[security] TICKLIST_ENV=%s but cookie_secure is not explicitly true", env)
	}
	if cfg.Auth.AllowGuest {
		logger.Printf("[security] TICKLIST_ENV=%s with allow_guest enabled: anyone with a session id can write tasks", env)
	}
	for _, o := range cfg.Server.CORSOrigins {
		if strings.TrimSpace(o) == "*" {
			logger.Printf("[security] TICKLIST_ENV=%s with cors_origins=*: any origin may call the API without credentials", env)
		}
	}
}
