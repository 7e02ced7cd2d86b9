//go:build integration

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/querybridge/querybridge/internal/dispatch"
	"github.com/querybridge/querybridge/internal/pipeline"
	"github.com/querybridge/querybridge/internal/query"
	"github.com/querybridge/querybridge/internal/query/mongodb"
)

func TestPromptEndpointAgainstMongo(t *testing.T) {
	uri := strings.TrimSpace(os.Getenv("QUERYBRIDGE_TEST_MONGO_URI"))
	if uri == "" {
		t.Skip("QUERYBRIDGE_TEST_MONGO_URI is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongodb.Open(ctx, mongodb.Config{URI: uri, AppName: "querybridge-it"})
	if err != nil {
		t.Fatalf("mongodb.Open() error = %v", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	db := client.Database(fmt.Sprintf("querybridge_it_api_%d", time.Now().UnixNano()))
	defer func() { _ = db.Drop(context.Background()) }()

	store := mongodb.NewStore(db)
	if _, err := store.Replace(ctx, "users", []any{
		bson.D{{Key: "name", Value: "Ada"}, {Key: "active", Value: true}},
		bson.D{{Key: "name", Value: "Linus"}, {Key: "active", Value: false}},
		bson.D{{Key: "name", Value: "Grace"}, {Key: "active", Value: true}},
	}); err != nil {
		t.Fatalf("seed users error = %v", err)
	}
	if _, err := store.Replace(ctx, "orders", []any{
		bson.D{{Key: "status", Value: "shipped"}, {Key: "total", Value: 20}},
		bson.D{{Key: "status", Value: "pending"}, {Key: "total", Value: 5}},
		bson.D{{Key: "status", Value: "shipped"}, {Key: "total", Value: 7}},
	}); err != nil {
		t.Fatalf("seed orders error = %v", err)
	}

	executor, err := dispatch.New(store, dispatch.Options{Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("dispatch.New() error = %v", err)
	}
	translator := &scriptedTranslator{replies: map[string]query.Translation{
		"active users": {
			Query: query.Descriptor{
				Operation:  query.OperationFind,
				Collection: "users",
				Filter:     json.RawMessage(`{"active": true}`),
			},
			ColumnTitles: []string{"Name", "Active"},
		},
		"shipped order count": {
			Query: query.Descriptor{
				Operation:  query.OperationAggregate,
				Collection: "orders",
				Pipeline: []json.RawMessage{
					json.RawMessage(`{"$match": {"status": "shipped"}}`),
					json.RawMessage(`{"$count": "total"}`),
				},
			},
		},
	}}
	service, err := pipeline.New(pipeline.Config{Translator: translator, Executor: executor})
	if err != nil {
		t.Fatalf("pipeline.New() error = %v", err)
	}
	h := NewHandler(testConfig(t), Dependencies{
		Prompts:   service,
		Readiness: store.HealthCheck,
	})

	rr := postPrompt(h, `{"prompt":"active users"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("find status = %d body=%s", rr.Code, rr.Body.String())
	}
	var found struct {
		Results []map[string]any `json:"results"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &found); err != nil {
		t.Fatalf("decode find response error = %v", err)
	}
	if len(found.Results) != 2 {
		t.Fatalf("find results = %d, want 2", len(found.Results))
	}
	for _, doc := range found.Results {
		if doc["active"] != true {
			t.Fatalf("unexpected document %#v", doc)
		}
	}

	rr = postPrompt(h, `{"prompt":"shipped order count"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("aggregate status = %d body=%s", rr.Code, rr.Body.String())
	}
	var counted struct {
		Results []map[string]any `json:"results"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &counted); err != nil {
		t.Fatalf("decode aggregate response error = %v", err)
	}
	if len(counted.Results) != 1 || counted.Results[0]["total"] != float64(2) {
		t.Fatalf("aggregate results = %#v", counted.Results)
	}

	rr = postPrompt(h, `{"prompt":"ghosts"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("unknown collection status = %d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"results":[]`) {
		t.Fatalf("unknown collection body = %s", rr.Body.String())
	}
}

type scriptedTranslator struct {
	replies map[string]query.Translation
}

func (s *scriptedTranslator) GenerateQuery(_ context.Context, prompt string) (query.Translation, error) {
	if reply, ok := s.replies[prompt]; ok {
		return reply, nil
	}
	return query.Translation{Query: query.Descriptor{Operation: query.OperationFind, Collection: prompt}}, nil
}

func (s *scriptedTranslator) ImprovePrompt(_ context.Context, descriptor query.Descriptor, prompt string) (string, error) {
	return fmt.Sprintf("%s from the %s collection", prompt, descriptor.Collection), nil
}
