package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/querybridge/querybridge/internal/storage"
)

const (
	UsersCollection  = "users"
	OrdersCollection = "orders"
)

// DocumentWriter replaces the contents of a collection.
type DocumentWriter interface {
	Replace(ctx context.Context, collection string, docs []any) (int, error)
}

// SchemaSink stores the generated schema document.
type SchemaSink func(ctx context.Context, document []byte) error

type Summary struct {
	Users  int
	Orders int
}

type Service struct {
	cfg    Config
	log    *slog.Logger
	docs   DocumentWriter
	schema SchemaSink
}

func NewService(cfg Config, logger *slog.Logger, docs DocumentWriter, schema SchemaSink) (*Service, error) {
	if docs == nil {
		return nil, fmt.Errorf("document writer is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{cfg: cfg, log: logger, docs: docs, schema: schema}, nil
}

// Run regenerates both collections and then publishes the schema that
// describes them.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	dataset, err := NewGenerator(s.cfg.Seed, s.cfg.ReferenceTime).Generate(s.cfg.Users, s.cfg.Orders)
	if err != nil {
		return Summary{}, err
	}

	users := make([]any, 0, len(dataset.Users))
	for _, user := range dataset.Users {
		users = append(users, user)
	}
	orders := make([]any, 0, len(dataset.Orders))
	for _, order := range dataset.Orders {
		orders = append(orders, order)
	}

	var summary Summary
	if summary.Users, err = s.docs.Replace(ctx, UsersCollection, users); err != nil {
		return Summary{}, fmt.Errorf("seed users: %w", err)
	}
	if summary.Orders, err = s.docs.Replace(ctx, OrdersCollection, orders); err != nil {
		return Summary{}, fmt.Errorf("seed orders: %w", err)
	}
	s.log.Info("seeded collections",
		slog.Int("users", summary.Users),
		slog.Int("orders", summary.Orders),
		slog.Int64("seed", s.cfg.Seed),
	)

	if s.schema == nil {
		return summary, nil
	}
	document, err := SchemaDocument(dataset)
	if err != nil {
		return Summary{}, err
	}
	if err := s.schema(ctx, document); err != nil {
		return Summary{}, fmt.Errorf("write schema: %w", err)
	}
	s.log.Info("wrote schema document", slog.String("destination", s.cfg.SchemaOut))
	return summary, nil
}

type fieldSpec struct {
	Name string   `json:"name"`
	Type string   `json:"type"`
	Enum []string `json:"enum,omitempty"`
	Ref  string   `json:"ref,omitempty"`
}

type collectionSpec struct {
	Fields  []fieldSpec `json:"fields"`
	Indexes []string    `json:"indexes,omitempty"`
	Sample  any         `json:"sample,omitempty"`
}

type schemaSpec struct {
	Users  collectionSpec `json:"users"`
	Orders collectionSpec `json:"orders"`
}

// SchemaDocument describes the seeded collections in the layout the API
// loads at startup, with one sample document per collection.
func SchemaDocument(dataset Dataset) ([]byte, error) {
	spec := schemaSpec{
		Users: collectionSpec{
			Fields: []fieldSpec{
				{Name: "_id", Type: "ObjectId"},
				{Name: "name", Type: "string"},
				{Name: "email", Type: "string"},
				{Name: "active", Type: "bool"},
				{Name: "country", Type: "string", Enum: countries},
				{Name: "age", Type: "int"},
				{Name: "signupDate", Type: "date"},
			},
			Indexes: []string{"email"},
		},
		Orders: collectionSpec{
			Fields: []fieldSpec{
				{Name: "_id", Type: "ObjectId"},
				{Name: "userId", Type: "ObjectId", Ref: UsersCollection + "._id"},
				{Name: "status", Type: "string", Enum: orderStatuses},
				{Name: "total", Type: "double"},
				{Name: "currency", Type: "string"},
				{Name: "items", Type: "int"},
				{Name: "createdAt", Type: "date"},
			},
			Indexes: []string{"userId", "status"},
		},
	}
	if len(dataset.Users) > 0 {
		spec.Users.Sample = dataset.Users[0]
	}
	if len(dataset.Orders) > 0 {
		spec.Orders.Sample = dataset.Orders[0]
	}

	raw, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema document: %w", err)
	}
	return append(raw, '\n'), nil
}

// FileSink writes the schema document to a local path.
func FileSink(path string) SchemaSink {
	return func(_ context.Context, document []byte) error {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		return os.WriteFile(path, document, 0o644)
	}
}

// ObjectSink uploads the schema document under key.
func ObjectSink(store storage.DocumentWriter, key string) SchemaSink {
	return func(ctx context.Context, document []byte) error {
		if store == nil {
			return fmt.Errorf("object store is required")
		}
		_, err := store.WriteDocument(ctx, key, document)
		return err
	}
}
