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

	"golang.org/x/sync/errgroup"

	"github.com/querybridge/querybridge/internal/api"
	"github.com/querybridge/querybridge/internal/config"
	"github.com/querybridge/querybridge/internal/dispatch"
	"github.com/querybridge/querybridge/internal/history"
	historypostgres "github.com/querybridge/querybridge/internal/history/postgres"
	"github.com/querybridge/querybridge/internal/nl2query"
	"github.com/querybridge/querybridge/internal/observability"
	"github.com/querybridge/querybridge/internal/pipeline"
	"github.com/querybridge/querybridge/internal/query/mongodb"
	"github.com/querybridge/querybridge/internal/schema"
	s3store "github.com/querybridge/querybridge/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("querybridge-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	desc, err := schema.Load(ctx, cfg.Schema.Source, objectSource(cfg))
	if err != nil {
		logger.Error("failed to load schema", slog.String("source", cfg.Schema.Source), slog.Any("error", err))
		os.Exit(1)
	}
	encoded := schema.Encode(desc)
	logger.Info("schema loaded",
		slog.String("source", cfg.Schema.Source),
		slog.Int("collections", len(desc.Collections())),
		slog.Int("encoded_bytes", len(encoded)),
	)

	mongoClient, err := mongodb.Open(ctx, mongodb.Config{
		URI:             cfg.Mongo.URI,
		Database:        cfg.Mongo.Database,
		AppName:         cfg.Service.Name,
		MaxPoolSize:     cfg.Mongo.MaxPoolSize,
		MinPoolSize:     cfg.Mongo.MinPoolSize,
		ConnectTimeout:  cfg.Mongo.ConnectTimeout,
		MaxConnIdleTime: cfg.Mongo.MaxConnIdleTime,
	})
	if err != nil {
		logger.Error("failed to connect to mongo", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()
	store := mongodb.NewStore(mongoClient.Database(cfg.Mongo.Database))

	model, err := nl2query.NewModel(ctx, nl2query.ModelConfig{
		Provider:    cfg.AI.Provider,
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		MaxTokens:   cfg.AI.MaxTokens,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize model", slog.String("provider", cfg.AI.Provider), slog.Any("error", err))
		os.Exit(1)
	}
	translator, err := nl2query.NewTranslator(model, encoded, nl2query.Options{
		Timeout:   cfg.AI.Timeout,
		RateLimit: cfg.AI.RateLimit,
		RateBurst: cfg.AI.RateBurst,
	})
	if err != nil {
		logger.Error("failed to initialize translator", slog.Any("error", err))
		os.Exit(1)
	}

	dispatcher, err := dispatch.New(store, dispatch.Options{
		Timeout:      cfg.Dispatch.Timeout,
		MaxDocuments: cfg.Dispatch.MaxDocuments,
	})
	if err != nil {
		logger.Error("failed to initialize dispatcher", slog.Any("error", err))
		os.Exit(1)
	}

	checks := []api.ReadinessCheck{store.HealthCheck}
	var recorder history.Recorder
	if cfg.History.Enabled() {
		var historyDB *sql.DB
		historyDB, err = historypostgres.Open(ctx, historypostgres.DBConfig{
			DSN:             cfg.History.DSN,
			MaxOpenConns:    cfg.History.MaxOpenConns,
			MaxIdleConns:    cfg.History.MaxIdleConns,
			ConnMaxIdleTime: cfg.History.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.History.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open history db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = historyDB.Close() }()
		repo := historypostgres.NewRepository(historyDB)
		recorder = repo
		checks = append(checks, repo.HealthCheck)
	}

	pipelineConfig := pipeline.Config{
		Translator:    translator,
		Executor:      dispatcher,
		ImprovePolicy: cfg.Improve.FailurePolicy,
		Logger:        logger,
	}
	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(checks...),
		DependencyTimeout: 2 * time.Second,
		Schema:            &desc,
		EncodedSchema:     encoded,
	}
	if recorder != nil {
		pipelineConfig.History = recorder
		deps.History = recorder
	}
	service, err := pipeline.New(pipelineConfig)
	if err != nil {
		logger.Error("failed to initialize prompt pipeline", slog.Any("error", err))
		os.Exit(1)
	}
	deps.Prompts = service

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("provider", cfg.AI.Provider),
			slog.String("model", translator.ModelName()),
			slog.Bool("history", recorder != nil),
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
		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = server.Close()
			return err
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error("api server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

// objectSource opens schema buckets with the configured object store
// credentials.
func objectSource(cfg config.Config) schema.ObjectSource {
	return func(ctx context.Context, bucket string) (schema.ObjectReader, error) {
		return s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			MaxDocumentBytes: int64(cfg.ObjectStore.MaxDocumentBytes),
		})
	}
}
