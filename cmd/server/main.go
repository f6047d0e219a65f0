package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	specpkg "github.com/tutorlink/identity/api"
	"github.com/tutorlink/identity/internal/api"
	"github.com/tutorlink/identity/internal/api/handler"
	"github.com/tutorlink/identity/internal/api/middleware"
	"github.com/tutorlink/identity/internal/config"
	"github.com/tutorlink/identity/internal/database"
	"github.com/tutorlink/identity/internal/federated"
	"github.com/tutorlink/identity/internal/identity"
	"github.com/tutorlink/identity/internal/lockout"
	"github.com/tutorlink/identity/internal/mail"
	"github.com/tutorlink/identity/internal/metrics"
	"github.com/tutorlink/identity/internal/promotion"
	"github.com/tutorlink/identity/internal/refreshtoken"
	"github.com/tutorlink/identity/internal/session"
	"github.com/tutorlink/identity/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped gracefully")
}

// stores groups the storage-backed repositories.
type stores struct {
	identities identity.Repository
	tokens     refreshtoken.Repository
	promotions promotion.Repository
	pinger     handler.DBPinger
	close      func()
}

func run(ctx context.Context, cfg *config.Config) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	tracker, closeTracker, err := newTracker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTracker()

	signer, err := token.NewSigner(token.Options{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.AccessTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("creating token signer: %w", err)
	}

	recorder := metrics.New()

	deps := session.Deps{
		Identities: st.identities,
		Tokens:     st.tokens,
		Signer:     signer,
		Lockout:    tracker,
		Outbox:     mail.NewLogOutbox(cfg.ConfirmationURL, slog.Default()),
		Metrics:    recorder,
	}
	if cfg.GoogleClientID != "" {
		verifier, err := federated.NewGoogleVerifier(federated.Options{
			ClientID: cfg.GoogleClientID,
			Timeout:  cfg.FederatedTimeout,
		})
		if err != nil {
			return fmt.Errorf("creating Google verifier: %w", err)
		}
		deps.Verifier = verifier
	} else {
		slog.Warn("GOOGLE_CLIENT_ID not set; Google sign-in is disabled")
	}

	sessions, err := session.NewService(deps, session.Options{
		BcryptCost:      cfg.BcryptCost,
		RefreshTTL:      cfg.RefreshTokenTTL,
		ConfirmationTTL: cfg.EmailConfirmationTTL,
		SingleSession:   cfg.SessionPolicy == config.SessionPolicySingle,
	})
	if err != nil {
		return fmt.Errorf("creating session service: %w", err)
	}

	promotions := promotion.NewService(st.promotions, st.identities, recorder)

	if cfg.BootstrapAdminEmail != "" {
		created, err := sessions.BootstrapAdmin(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrapping admin: %w", err)
		}
		if created {
			slog.Info("bootstrap admin created", "email", cfg.BootstrapAdminEmail)
		}
	}

	router := api.NewRouter(api.RouterDeps{
		DBPinger:       st.pinger,
		Storage:        cfg.Storage,
		Version:        cfg.Version,
		OpenAPISpec:    specpkg.OpenAPISpec,
		Sessions:       sessions,
		Promotions:     promotions,
		Signer:         signer,
		MetricsHandler: recorder.Handler(),
		RateLimit: middleware.RateLimitConfig{
			PerMinute: cfg.RateLimitPerMinute,
			Burst:     cfg.RateLimitBurst,
		},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting identity server",
			"port", cfg.Port,
			"version", cfg.Version,
			"storage", cfg.Storage,
			"sessionPolicy", cfg.SessionPolicy,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Storage == config.StorageMemory {
		slog.Warn("using in-memory storage; data is lost on restart")
		identities := identity.NewMemoryRepository()
		return &stores{
			identities: identities,
			tokens:     refreshtoken.NewMemoryRepository(identities),
			promotions: promotion.NewMemoryRepository(identities),
			close:      func() {},
		}, nil
	}

	if cfg.MigrateOnStart {
		if err := database.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database migrations applied")
	}

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &stores{
		identities: identity.NewRepository(db.Pool()),
		tokens:     refreshtoken.NewRepository(db.Pool()),
		promotions: promotion.NewRepository(db.Pool()),
		pinger:     db,
		close:      db.Close,
	}, nil
}

func newTracker(ctx context.Context, cfg *config.Config) (lockout.Tracker, func(), error) {
	policy := lockout.Policy{
		MaxAttempts: cfg.LockoutMaxAttempts,
		Window:      cfg.LockoutWindow,
		Duration:    cfg.LockoutDuration,
	}

	if cfg.LockoutBackend != config.LockoutBackendRedis {
		return lockout.NewMemoryTracker(policy), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}

	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Warn("closing redis client", "error", err)
		}
	}
	return lockout.NewRedisTracker(client, policy), closeFn, nil
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
