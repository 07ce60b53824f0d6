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

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/chatvault/internal/adapter/driven/keystore"
	"github.com/ericfisherdev/chatvault/internal/adapter/driven/provider"
	sqliteadapter "github.com/ericfisherdev/chatvault/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/chatvault/internal/adapter/driving/cli"
	httphandler "github.com/ericfisherdev/chatvault/internal/adapter/driving/http"
	"github.com/ericfisherdev/chatvault/internal/application"
	"github.com/ericfisherdev/chatvault/internal/config"
	"github.com/ericfisherdev/chatvault/internal/domain/model"
	"github.com/ericfisherdev/chatvault/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(func(ctx context.Context) (*cli.App, func(), error) {
		return open(ctx, cfg)
	})
	return root.ExecuteContext(ctx)
}

// open wires the adapters and services for one command. The returned close
// function releases the chat client and the database.
func open(ctx context.Context, cfg *config.Config) (*cli.App, func(), error) {
	logger := slog.Default()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	logger.Debug("migrations complete")

	// 5. Wire adapters.
	var secrets driven.SecretStore
	if cfg.UsesKeyring() {
		secrets = keystore.NewOSKeyring(keystore.DefaultService)
	} else {
		secrets = keystore.NewFileSecretStore(cfg.KeyDir)
	}
	credentialStore := sqliteadapter.NewCredentialRepo(db, keystore.NewCipher(secrets), logger)

	bases := provider.BaseURLs{OpenRouter: cfg.OpenRouterBaseURL, VSEGPT: cfg.VSEGPTBaseURL}
	validator := provider.NewValidator(bases, cfg.ValidateTimeout, logger)

	newClient := func(p model.Provider, apiKey string) (driven.ChatClient, error) {
		c, err := provider.NewClient(p, apiKey, provider.Options{
			BaseURL:        bases.For(p),
			RequestTimeout: cfg.RequestTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	// 6. Create services. No client until the user unlocks.
	clients := application.NewChatClientProvider(nil)
	authSvc := application.NewAuthService(credentialStore, validator, logger)
	sessionSvc := application.NewSessionService(authSvc, credentialStore, clients, newClient, logger)

	closeApp := func() {
		clients.Clear()
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}

	app := &cli.App{
		Session: sessionSvc,
		Serve: func(ctx context.Context) error {
			return serve(ctx, cfg, sessionSvc, logger)
		},
	}
	return app, closeApp, nil
}

// serve runs the JSON API until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, cfg *config.Config, session *application.SessionService, logger *slog.Logger) error {
	apiHandler := httphandler.NewHandler(session, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Chat completions may take up to three request timeouts plus backoff.
		WriteTimeout: 3*cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	logger.Info("chatvault started",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"key_backend", cfg.KeyBackend,
	)

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
