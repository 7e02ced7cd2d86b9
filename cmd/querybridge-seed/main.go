package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/querybridge/querybridge/internal/config"
	"github.com/querybridge/querybridge/internal/demo/seed"
	"github.com/querybridge/querybridge/internal/observability"
	"github.com/querybridge/querybridge/internal/query/mongodb"
	"github.com/querybridge/querybridge/internal/storage"
	s3store "github.com/querybridge/querybridge/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("querybridge-seed")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	seedCfg, err := seed.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load seed config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, seedCfg.Timeout)
	defer cancel()

	client, err := mongodb.Open(ctx, mongodb.Config{
		URI:            cfg.Mongo.URI,
		Database:       cfg.Mongo.Database,
		AppName:        cfg.Service.Name,
		ConnectTimeout: cfg.Mongo.ConnectTimeout,
	})
	if err != nil {
		logger.Error("failed to connect to mongo", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	sink, err := schemaSink(ctx, cfg, seedCfg.SchemaOut)
	if err != nil {
		logger.Error("failed to prepare schema destination", slog.String("destination", seedCfg.SchemaOut), slog.Any("error", err))
		os.Exit(1)
	}

	service, err := seed.NewService(seedCfg, logger, mongodb.NewStore(client.Database(cfg.Mongo.Database)), sink)
	if err != nil {
		logger.Error("failed to initialize seeder", slog.Any("error", err))
		os.Exit(1)
	}
	summary, err := service.Run(ctx)
	if err != nil {
		logger.Error("seeding failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("seeding complete",
		slog.String("database", cfg.Mongo.Database),
		slog.Int("users", summary.Users),
		slog.Int("orders", summary.Orders),
	)
}

func schemaSink(ctx context.Context, cfg config.Config, destination string) (seed.SchemaSink, error) {
	if destination == "" {
		return nil, nil
	}
	if !storage.IsObjectURI(destination) {
		return seed.FileSink(destination), nil
	}
	location, err := storage.ParseObjectURI(destination)
	if err != nil {
		return nil, err
	}
	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           location.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		AutoCreateBucket: true,
		MaxDocumentBytes: int64(cfg.ObjectStore.MaxDocumentBytes),
	})
	if err != nil {
		return nil, err
	}
	return seed.ObjectSink(store, location.Key), nil
}
