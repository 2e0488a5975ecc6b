package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for minimal images

	"github.com/ericfisherdev/claude-accounts/internal/adapter/driven/credfile"
	"github.com/ericfisherdev/claude-accounts/internal/adapter/driven/keyfile"
	"github.com/ericfisherdev/claude-accounts/internal/adapter/driven/oauth"
	sqliteadapter "github.com/ericfisherdev/claude-accounts/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/claude-accounts/internal/adapter/driving/cli"
	"github.com/ericfisherdev/claude-accounts/internal/application"
	"github.com/ericfisherdev/claude-accounts/internal/config"
	"github.com/ericfisherdev/claude-accounts/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Optional .env in the working directory; a missing file is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	// 2. Logging to stderr so stdout stays clean for env and export output.
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// 3. Load configuration (fail fast on invalid values).
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	userHome, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve user home: %w", err)
	}

	// 4. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(&cli.Env{
		Config:     cfg,
		Open:       open,
		Logger:     logger,
		Level:      level,
		UserHome:   userHome,
		Launcher:   "claude-accounts",
		Stdin:      os.Stdin,
		IsTerminal: cli.StdinIsTerminal,
		LookPath:   exec.LookPath,
		Exec:       syscall.Exec,
		Environ:    os.Environ,
	})

	return root.ExecuteContext(ctx)
}

// open wires the adapters and services for one command.
func open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*cli.Runtime, error) {
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, fmt.Errorf("create vault home: %w", err)
	}

	// Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	logger.Debug("database opened", "path", cfg.DBPath)

	// Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Wire adapters.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	keys := keyfile.NewManager(cfg.KeyPath, cfg.SecretKey, logger)
	store := sqliteadapter.NewAccountRepo(db, keys)
	file := credfile.New(cfg.CredentialsPath, logger)
	refresher := oauth.NewRefresher(oauth.Config{
		TokenURL: cfg.TokenURL,
		ClientID: cfg.ClientID,
		Timeout:  cfg.RefreshTimeout,
	}, logger, metrics)

	// Create services.
	vault := application.NewVaultService(store, file, refresher, logger,
		application.WithExpiryLead(cfg.ExpiryLead),
		application.WithMetrics(metrics),
	)
	health := application.NewHealthService(store, keys)

	var keeper *application.KeeperService
	if cfg.KeeperInterval > 0 {
		keeper = application.NewKeeperService(vault, cfg.KeeperInterval, logger)
	}

	return &cli.Runtime{
		Vault:    vault,
		Health:   health,
		Keeper:   keeper,
		Gatherer: registry,
		Close:    db.Close,
	}, nil
}
