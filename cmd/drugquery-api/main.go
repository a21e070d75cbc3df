package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drugquery/drugquery/internal/api"
	"github.com/drugquery/drugquery/internal/audit"
	"github.com/drugquery/drugquery/internal/auth"
	"github.com/drugquery/drugquery/internal/config"
	"github.com/drugquery/drugquery/internal/llm"
	"github.com/drugquery/drugquery/internal/observability"
	"github.com/drugquery/drugquery/internal/pipeline"
	querypostgres "github.com/drugquery/drugquery/internal/query/postgres"
	"github.com/drugquery/drugquery/internal/schemadocs"
	s3store "github.com/drugquery/drugquery/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("drugquery-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.Error("api server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := querypostgres.Open(ctx, querypostgres.DBConfig{
		DSN:             cfg.Database.DSN,
		ApplicationName: cfg.Service.Name,
		ReadOnly:        cfg.Database.ReadOnly,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	engine := querypostgres.NewEngine(db, cfg.Database.StatementTimeout)

	completions, err := llm.New(ctx, llm.Config{
		Provider:    cfg.AI.Provider,
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		return err
	}

	schemaContext := schemadocs.Default()
	if cfg.Query.SchemaDocsPath != "" {
		schemaContext, err = schemadocs.Load(cfg.Query.SchemaDocsPath)
		if err != nil {
			return err
		}
	}

	readiness := []api.ReadinessCheck{db.PingContext}
	deps := pipeline.Dependencies{
		Completions:   completions,
		Engine:        engine,
		SchemaContext: schemaContext,
		Logger:        logger,
	}

	var archiver *audit.Archiver
	if cfg.Audit.Enabled {
		store, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.Audit.Endpoint,
			Region:           cfg.Audit.Region,
			Bucket:           cfg.Audit.Bucket,
			AccessKeyID:      cfg.Audit.AccessKeyID,
			SecretAccessKey:  cfg.Audit.SecretAccessKey,
			UseSSL:           cfg.Audit.UseSSL,
			Prefix:           cfg.Audit.Prefix,
			AutoCreateBucket: cfg.Audit.AutoCreateBucket,
		})
		if err != nil {
			return err
		}
		archiver, err = audit.NewArchiver(store, audit.Config{
			BatchSize:     cfg.Audit.BatchSize,
			FlushInterval: cfg.Audit.FlushInterval,
			QueueSize:     cfg.Audit.QueueSize,
		}, logger)
		if err != nil {
			return err
		}
		deps.Recorder = archiver
		readiness = append(readiness, archiver.Check)
	}

	service, err := pipeline.NewService(deps, pipeline.Options{
		MaxQuestionLength: cfg.Query.MaxQuestionLength,
		RowLimit:          cfg.Database.RowLimit,
		AnswerPreviewRows: cfg.Query.AnswerPreviewRows,
		SQLModel:          cfg.AI.SQLModel,
		SQLMaxTokens:      cfg.AI.SQLMaxTokens,
		AnswerModel:       cfg.AI.AnswerModel,
		AnswerMaxTokens:   cfg.AI.AnswerMaxTokens,
		AnswerEnabled:     cfg.AI.AnswerEnabled,
	})
	if err != nil {
		return err
	}

	apiDeps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: 2 * time.Second,
		Service:           service,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			return err
		}
		apiDeps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, apiDeps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// The archiver outlives the server so entries from draining requests
	// are still flushed.
	archiverCtx, stopArchiver := context.WithCancel(context.WithoutCancel(ctx))
	defer stopArchiver()

	group, groupCtx := errgroup.WithContext(ctx)
	if archiver != nil {
		group.Go(func() error {
			return archiver.Run(archiverCtx)
		})
	}
	group.Go(func() error {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("ai_provider", cfg.AI.Provider),
			slog.Bool("ui_enabled", cfg.HTTP.UIEnabled),
			slog.Bool("audit_enabled", cfg.Audit.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		logger.Info("shutting down api server")
		defer stopArchiver()
		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = server.Close()
			return err
		}
		return nil
	})
	return group.Wait()
}
