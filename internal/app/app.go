package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"bcpdashboard/portfolio-api/internal/audit"
	"bcpdashboard/portfolio-api/internal/auth"
	"bcpdashboard/portfolio-api/internal/config"
	"bcpdashboard/portfolio-api/internal/httpserver"
	"bcpdashboard/portfolio-api/internal/mutation"
	"bcpdashboard/portfolio-api/internal/observability"
	"bcpdashboard/portfolio-api/internal/portfolio"
)

type App struct {
	cfg     config.Config
	log     *slog.Logger
	closers []func() error
	server  *httpserver.Server
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{cfg: cfg, log: observability.NewLogger(cfg.LogLevel)}
	if err := a.build(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
	}

	identities, err := newIdentityStore(cfg, db)
	if err != nil {
		return err
	}
	sessions, ready, err := a.newSessionStore(ctx, cfg, db)
	if err != nil {
		return err
	}

	hasher, err := auth.NewPasswordHasher(cfg.Auth.PasswordPepper, cfg.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("create password hasher: %w", err)
	}
	credentials, err := auth.NewCredentialStore(identities, hasher)
	if err != nil {
		return fmt.Errorf("create credential store: %w", err)
	}
	registry, err := auth.NewSessionRegistry(identities, sessions, auth.SessionRegistryConfig{TTL: cfg.Auth.SessionTTL})
	if err != nil {
		return fmt.Errorf("create session registry: %w", err)
	}
	authService, err := auth.NewService(credentials, registry)
	if err != nil {
		return fmt.Errorf("create auth service: %w", err)
	}
	if err := a.ensureBootstrapIdentity(ctx, identities, credentials); err != nil {
		return err
	}

	schema, err := portfolio.DefaultSchema(cfg.PortfolioTable)
	if err != nil {
		return fmt.Errorf("build portfolio schema: %w", err)
	}
	var records portfolio.Executor
	var recorder audit.Recorder
	if db != nil {
		records, err = portfolio.NewPGExecutor(db, schema)
		if err != nil {
			return fmt.Errorf("create postgres record executor: %w", err)
		}
		recorder, err = audit.NewPGRecorder(db)
		if err != nil {
			return fmt.Errorf("create postgres audit recorder: %w", err)
		}
	} else {
		store := portfolio.NewMemoryStore(schema)
		if cfg.PortfolioSeedFile != "" {
			if err := store.LoadSeedFile(cfg.PortfolioSeedFile); err != nil {
				return fmt.Errorf("load portfolio seed: %w", err)
			}
		}
		records = store
		recorder, err = audit.NewFileRecorder(cfg.AuditLogFile)
		if err != nil {
			return fmt.Errorf("create audit recorder: %w", err)
		}
		a.log.Warn("no DATABASE_URL; using in-memory records and file audit log", "audit_log", cfg.AuditLogFile)
	}

	mutations, err := mutation.NewService(authService, records, recorder, a.log)
	if err != nil {
		return fmt.Errorf("create mutation service: %w", err)
	}

	a.server = httpserver.New(cfg.HTTP, httpserver.Deps{
		Auth:              authService,
		Mutations:         mutations,
		Security:          audit.NewLogger(cfg.SecurityLogFile),
		Logger:            a.log,
		CookieSecure:      cfg.Auth.CookieSecure,
		LoginRateLimitRPM: cfg.Auth.LoginRateLimitRPM,
		TrustedProxies:    cfg.HTTP.TrustedProxies,
		Ready: func(ctx context.Context) error {
			if db != nil {
				if err := db.PingContext(ctx); err != nil {
					return fmt.Errorf("database: %w", err)
				}
			}
			if ready != nil {
				return ready(ctx)
			}
			return nil
		},
	})
	return nil
}

func newIdentityStore(cfg config.Config, db *sql.DB) (auth.IdentityStore, error) {
	if db != nil {
		store, err := auth.NewPostgresIdentityStore(db)
		if err != nil {
			return nil, fmt.Errorf("create postgres identity store: %w", err)
		}
		return store, nil
	}
	store, err := auth.NewFileIdentityStore(cfg.Auth.UserStateFile)
	if err != nil {
		return nil, fmt.Errorf("create identity store: %w", err)
	}
	return store, nil
}

// newSessionStore picks the session backend. The returned readiness check, when not
// nil, is used by the readiness endpoint.
func (a *App) newSessionStore(ctx context.Context, cfg config.Config, db *sql.DB) (auth.SessionStore, func(context.Context) error, error) {
	backend := cfg.Auth.SessionBackend
	if backend == config.SessionBackendAuto {
		backend = config.SessionBackendMemory
		if db != nil {
			backend = config.SessionBackendPostgres
		}
	}

	switch backend {
	case config.SessionBackendPostgres:
		if db == nil {
			return nil, nil, errors.New("postgres session backend requires DATABASE_URL")
		}
		store, err := auth.NewPostgresSessionStore(db)
		if err != nil {
			return nil, nil, fmt.Errorf("create postgres session store: %w", err)
		}
		return store, nil, nil
	case config.SessionBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		check := func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		}
		return auth.NewRedisSessionStore(client), check, nil
	default:
		store := auth.NewMemorySessionStore(cfg.Auth.SessionStateFile)
		if err := store.Load(); err != nil {
			return nil, nil, fmt.Errorf("load session state: %w", err)
		}
		return store, nil, nil
	}
}

func (a *App) ensureBootstrapIdentity(ctx context.Context, identities auth.IdentityStore, credentials *auth.CredentialStore) error {
	cfg := a.cfg.Auth
	_, err := identities.GetByEmail(ctx, cfg.BootstrapEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, auth.ErrUserNotFound) {
		return fmt.Errorf("check bootstrap identity: %w", err)
	}
	_, err = credentials.Register(ctx, auth.Identity{
		ID:               1,
		UserName:         cfg.BootstrapUsername,
		Email:            cfg.BootstrapEmail,
		OrganizationID:   1,
		OrganizationName: cfg.BootstrapOrg,
		RoleID:           1,
		RoleName:         cfg.BootstrapRole,
		Active:           true,
	}, cfg.BootstrapPassword)
	if err != nil {
		return fmt.Errorf("create bootstrap identity: %w", err)
	}
	a.log.Info("bootstrap identity created", "email", cfg.BootstrapEmail)
	return nil
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close resource", "err", err.Error())
		}
	}
	a.closers = nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.close()

	errCh := make(chan error, 1)

	go func() {
		a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr)
		errCh <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server exited: %w", err)
	}
}
