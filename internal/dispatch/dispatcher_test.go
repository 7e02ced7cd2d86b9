package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querybridge/querybridge/internal/query"
)

type storeCall struct {
	Method     string
	Collection string
	Filter     json.RawMessage
	Pipeline   []json.RawMessage
	Max        int
	Deadline   bool
}

type fakeStore struct {
	mu    sync.Mutex
	calls []storeCall
	batch query.Batch
	err   error
}

func (f *fakeStore) Find(ctx context.Context, collection string, filter json.RawMessage, opts query.FindOptions) (query.Batch, error) {
	f.record(ctx, storeCall{Method: "find", Collection: collection, Filter: filter, Max: opts.MaxDocuments})
	return f.batch, f.err
}

func (f *fakeStore) Aggregate(ctx context.Context, collection string, pipeline []json.RawMessage, opts query.AggregateOptions) (query.Batch, error) {
	f.record(ctx, storeCall{Method: "aggregate", Collection: collection, Pipeline: pipeline, Max: opts.MaxDocuments})
	return f.batch, f.err
}

func (f *fakeStore) record(ctx context.Context, call storeCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, call.Deadline = ctx.Deadline()
	f.calls = append(f.calls, call)
}

func docs(raw ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(raw))
	for _, r := range raw {
		out = append(out, json.RawMessage(r))
	}
	return out
}

func TestExecuteFindPassesFilterAndTitles(t *testing.T) {
	store := &fakeStore{batch: query.Batch{Documents: docs(`{"email":"a@x.io"}`, `{"email":"b@x.io"}`)}}
	dispatcher, err := New(store, Options{})
	require.NoError(t, err)

	translation := query.Translation{
		Query: query.Descriptor{
			Operation:  query.OperationFind,
			Collection: "users",
			Filter:     json.RawMessage(`{"active": true}`),
		},
		ColumnTitles: []string{"Email"},
	}
	result, titles, err := dispatcher.Execute(context.Background(), translation)
	require.NoError(t, err)

	assert.Len(t, result.Documents, 2)
	assert.Equal(t, []string{"Email"}, titles)
	require.Len(t, store.calls, 1)
	assert.Equal(t, "find", store.calls[0].Method)
	assert.Equal(t, "users", store.calls[0].Collection)
	assert.JSONEq(t, `{"active": true}`, string(store.calls[0].Filter))
	assert.False(t, store.calls[0].Deadline)
}

func TestExecuteAggregatePassesPipelineVerbatim(t *testing.T) {
	store := &fakeStore{batch: query.Batch{Documents: docs(`{"total": 42}`)}}
	dispatcher, err := New(store, Options{Timeout: time.Second})
	require.NoError(t, err)

	pipeline := docs(`{"$match": {"status": "shipped"}}`, `{"$count": "total"}`)
	result, titles, err := dispatcher.Execute(context.Background(), query.Translation{
		Query:        query.Descriptor{Operation: query.OperationAggregate, Collection: "orders", Pipeline: pipeline},
		ColumnTitles: []string{"Total"},
	})
	require.NoError(t, err)

	require.Len(t, result.Documents, 1)
	assert.JSONEq(t, `{"total": 42}`, string(result.Documents[0]))
	assert.Equal(t, []string{"Total"}, titles)
	require.Len(t, store.calls, 1)
	assert.Equal(t, pipeline, store.calls[0].Pipeline)
	assert.True(t, store.calls[0].Deadline)
}

func TestExecuteRejectsUnsupportedOperationWithoutTouchingStore(t *testing.T) {
	for _, op := range []query.Operation{"delete", "update", "Find", ""} {
		t.Run(string(op), func(t *testing.T) {
			store := &fakeStore{}
			dispatcher, err := New(store, Options{})
			require.NoError(t, err)

			_, _, err = dispatcher.Execute(context.Background(), query.Translation{
				Query: query.Descriptor{Operation: op, Collection: "users"},
			})
			var unsupported *query.UnsupportedOperationError
			require.True(t, errors.As(err, &unsupported), "error %v", err)
			assert.Equal(t, string(op), unsupported.Operation)
			assert.Empty(t, store.calls)
		})
	}
}

func TestExecuteRejectsMalformedDescriptor(t *testing.T) {
	store := &fakeStore{}
	dispatcher, err := New(store, Options{})
	require.NoError(t, err)

	for name, descriptor := range map[string]query.Descriptor{
		"no collection":      {Operation: query.OperationFind},
		"aggregate no stage": {Operation: query.OperationAggregate, Collection: "orders"},
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := dispatcher.Execute(context.Background(), query.Translation{Query: descriptor})
			var contractErr *query.ContractError
			assert.True(t, errors.As(err, &contractErr), "error %v", err)
		})
	}
	assert.Empty(t, store.calls)
}

func TestExecuteWrapsStoreErrors(t *testing.T) {
	cause := errors.New("server selection timeout")
	store := &fakeStore{err: cause}
	dispatcher, err := New(store, Options{})
	require.NoError(t, err)

	_, _, err = dispatcher.Execute(context.Background(), query.Translation{
		Query: query.Descriptor{Operation: query.OperationFind, Collection: "users"},
	})
	var execErr *query.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, query.OperationFind, execErr.Operation)
	assert.Equal(t, "users", execErr.Collection)
	assert.ErrorIs(t, err, cause)
	assert.Len(t, store.calls, 1)
}

func TestExecuteUnknownCollectionIsEmptyResult(t *testing.T) {
	dispatcher, err := New(&fakeStore{}, Options{})
	require.NoError(t, err)

	result, titles, err := dispatcher.Execute(context.Background(), query.Translation{
		Query: query.Descriptor{Operation: query.OperationFind, Collection: "ghosts"},
	})
	require.NoError(t, err)
	assert.NotNil(t, result.Documents)
	assert.Empty(t, result.Documents)
	assert.Nil(t, titles)
}

func TestExecuteIsRepeatable(t *testing.T) {
	store := &fakeStore{batch: query.Batch{Documents: docs(`{"_id": 1}`)}}
	dispatcher, err := New(store, Options{MaxDocuments: 10})
	require.NoError(t, err)

	translation := query.Translation{
		Query:        query.Descriptor{Operation: query.OperationFind, Collection: "users"},
		ColumnTitles: []string{"ID"},
	}
	first, firstTitles, err := dispatcher.Execute(context.Background(), translation)
	require.NoError(t, err)
	second, secondTitles, err := dispatcher.Execute(context.Background(), translation)
	require.NoError(t, err)

	assert.Equal(t, first.Documents, second.Documents)
	assert.Equal(t, firstTitles, secondTitles)
	require.Len(t, store.calls, 2)
	assert.Equal(t, store.calls[0], store.calls[1])
	assert.Equal(t, 10, store.calls[0].Max)
}

func TestExecuteReportsTruncation(t *testing.T) {
	store := &fakeStore{batch: query.Batch{Documents: docs(`{"_id": 1}`), Truncated: true}}
	dispatcher, err := New(store, Options{MaxDocuments: 1})
	require.NoError(t, err)

	result, _, err := dispatcher.Execute(context.Background(), query.Translation{
		Query: query.Descriptor{Operation: query.OperationFind, Collection: "users"},
	})
	require.NoError(t, err)
	assert.True(t, result.Truncated)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)
	_, err = New(&fakeStore{}, Options{MaxDocuments: -1})
	assert.Error(t, err)
}

func TestRejectedOperationsShareOneMetricLabel(t *testing.T) {
	dispatcher, err := New(&fakeStore{}, Options{})
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		_, _, err := dispatcher.Execute(context.Background(), query.Translation{
			Query: query.Descriptor{Operation: query.Operation(fmt.Sprintf("invented-%d", i)), Collection: "users"},
		})
		require.Error(t, err)
	}

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	operations := map[string]struct{}{}
	for _, family := range families {
		if family.GetName() != "querybridge_dispatch_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "operation" {
					operations[label.GetValue()] = struct{}{}
				}
			}
		}
	}
	require.Contains(t, operations, "unsupported")
	for operation := range operations {
		assert.Contains(t, []string{"find", "aggregate", "unsupported"}, operation)
	}
	assert.LessOrEqual(t, len(operations), 3)
}
