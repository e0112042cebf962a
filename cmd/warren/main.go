package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/warren/internal/auth"
	"github.com/ashita-ai/warren/internal/authproxy"
	"github.com/ashita-ai/warren/internal/bootstrap"
	"github.com/ashita-ai/warren/internal/bus"
	"github.com/ashita-ai/warren/internal/config"
	"github.com/ashita-ai/warren/internal/dns"
	"github.com/ashita-ai/warren/internal/healthingest"
	"github.com/ashita-ai/warren/internal/ratelimit"
	"github.com/ashita-ai/warren/internal/server"
	"github.com/ashita-ai/warren/internal/storage"
	"github.com/ashita-ai/warren/internal/telemetry"
	"github.com/ashita-ai/warren/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("WARREN_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("WARREN_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("warren starting", "version", version, "port", cfg.Server.InternalPort)

	otelShutdown, err := telemetry.Init(ctx, cfg.Telemetry.OTELEndpoint, cfg.Telemetry.ServiceName, version, cfg.Telemetry.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	store, err := storage.New(ctx, cfg.Database.URL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer store.Close()

	if err := store.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	keys, err := auth.LoadOrCreate(filepath.Join(cfg.App.StateDir, "auth"), logger)
	if err != nil {
		return fmt.Errorf("auth keys: %w", err)
	}

	agentBus := bus.New(bus.DefaultQueueSize, logger)

	dnsSvc := dns.NewService(store, agentBus, logger)
	authProxySvc := authproxy.NewService(store, agentBus, keys, authproxy.Config{
		DashboardURL: cfg.App.DashboardURL,
		Secret:       cfg.Server.Secret,
	}, logger)

	ingestor := healthingest.New(store, dnsSvc, logger)
	ingestor.Register(agentBus)

	bootSvc := bootstrap.New(store, agentBus, dnsSvc, authProxySvc, cfg.Gerbil.ClientsStartPort, logger)
	agentBus.OnConnect(bootSvc.Hook())

	validator := auth.NewValidator(store, keys, logger)

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		defer func() { _ = limiter.Close() }()
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimit.RPS, "burst", cfg.RateLimit.Burst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.Config{
		Store:        store,
		Validator:    validator,
		Bus:          agentBus,
		Limiter:      limiter,
		Logger:       logger,
		Port:         cfg.Server.InternalPort,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Version:      version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("warren shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	slog.Info("warren stopped")
	return nil
}
