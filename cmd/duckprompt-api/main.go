package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duckprompt/duckprompt/internal/api"
	"github.com/duckprompt/duckprompt/internal/api/uistatic"
	"github.com/duckprompt/duckprompt/internal/archive"
	"github.com/duckprompt/duckprompt/internal/config"
	"github.com/duckprompt/duckprompt/internal/llm"
	"github.com/duckprompt/duckprompt/internal/observability"
	"github.com/duckprompt/duckprompt/internal/pipeline"
	"github.com/duckprompt/duckprompt/internal/promptlog"
	promptlogpostgres "github.com/duckprompt/duckprompt/internal/promptlog/postgres"
	duckdbengine "github.com/duckprompt/duckprompt/internal/query/duckdb"
	"github.com/duckprompt/duckprompt/internal/schema"
	s3store "github.com/duckprompt/duckprompt/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("duckprompt-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	annotations, err := loadAnnotations(cfg)
	if err != nil {
		logger.Error("failed to load schema annotations", slog.Any("error", err))
		os.Exit(1)
	}
	introspector := &schema.Introspector{
		Path:        cfg.Database.Path,
		Schema:      cfg.Database.Schema,
		ReadOnly:    cfg.Database.ReadOnly,
		Annotations: annotations,
	}
	engine := duckdbengine.NewEngine(duckdbengine.Options{
		Path:        cfg.Database.Path,
		ReadOnly:    cfg.Database.ReadOnly,
		AllowWrites: cfg.Database.AllowWrites,
	})

	readiness := []api.ReadinessCheck{api.CheckDatabaseFile(introspector), api.CheckAnyProvider(cfg)}
	var store promptlog.Store
	switch cfg.PromptLog.Backend {
	case config.PromptLogBackendPostgres:
		db, err := promptlogpostgres.Open(context.Background(), promptlogpostgres.DBConfig{
			DSN:             cfg.PromptLog.DSN,
			MaxOpenConns:    cfg.PromptLog.MaxOpenConns,
			MaxIdleConns:    cfg.PromptLog.MaxIdleConns,
			ConnMaxIdleTime: cfg.PromptLog.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.PromptLog.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open prompt log db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func(db *sql.DB) { _ = db.Close() }(db)
		pgStore := promptlogpostgres.NewStore(db)
		readiness = append(readiness, pgStore.HealthCheck)
		store = pgStore
	default:
		store = promptlog.NewFileStore(cfg.PromptLog.Path)
	}

	completers := map[llm.Provider]pipeline.Completer{}
	for provider, providerCfg := range map[llm.Provider]config.ProviderConfig{
		llm.ProviderOpenAI: cfg.OpenAI,
		llm.ProviderGroq:   cfg.Groq,
	} {
		if !providerCfg.Enabled() {
			logger.Warn("completion provider not configured; its variants are unavailable", slog.String("provider", string(provider)))
			continue
		}
		client, err := llm.NewClient(llm.Config{
			Provider: provider,
			APIKey:   providerCfg.APIKey,
			BaseURL:  providerCfg.BaseURL,
			Timeout:  providerCfg.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize completion client", slog.String("provider", string(provider)), slog.Any("error", err))
			os.Exit(1)
		}
		completers[provider] = client
	}

	runner, err := pipeline.New(pipeline.Dependencies{
		Schema:     introspector,
		Engine:     engine,
		Log:        store,
		Completers: completers,
		RowLimit:   cfg.Database.RowLimit,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to build pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:            logger,
		Pipeline:          runner,
		PromptLog:         store,
		UI:                uistatic.Handler(),
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: 2 * time.Second,
	}
	if cfg.Archive.Enabled {
		objectStore, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Archiver = archive.NewExporter(store, objectStore)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("database", cfg.Database.Path),
			slog.String("prompt_log_backend", cfg.PromptLog.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func loadAnnotations(cfg config.Config) (schema.Annotations, error) {
	if cfg.Database.AnnotationsFile != "" {
		return schema.LoadAnnotations(cfg.Database.AnnotationsFile)
	}
	return schema.DefaultAnnotations()
}
