package nl2query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querybridge/querybridge/internal/query"
	"github.com/querybridge/querybridge/internal/schema"
)

const testSchema = schema.Encoded("users:\n  fields[2]: email,active")

type scriptedModel struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []Completion
	deadline bool
}

func (m *scriptedModel) Name() string { return "scripted/test" }

func (m *scriptedModel) Complete(ctx context.Context, req Completion) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	_, m.deadline = ctx.Deadline()
	if m.err != nil {
		return "", m.err
	}
	if len(m.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, nil
}

func TestGenerateQueryParsesFencedReply(t *testing.T) {
	model := &scriptedModel{replies: []string{"```json\n" +
		`{"query": {"operation": "find", "collection": "users", "filter": {"active": true}}, "columnTitles": ["Email"]}` +
		"\n```"}}
	translator, err := NewTranslator(model, testSchema, Options{Timeout: time.Second})
	require.NoError(t, err)

	translation, err := translator.GenerateQuery(context.Background(), "Get all active users")
	require.NoError(t, err)
	assert.Equal(t, query.OperationFind, translation.Query.Operation)
	assert.Equal(t, "users", translation.Query.Collection)
	assert.Equal(t, []string{"Email"}, translation.ColumnTitles)

	require.Len(t, model.requests, 1)
	assert.True(t, model.requests[0].JSON)
	assert.Contains(t, model.requests[0].User, testSchema.String())
	assert.Contains(t, model.requests[0].User, "Get all active users")
	assert.True(t, model.deadline)
}

func TestGenerateQueryContractViolation(t *testing.T) {
	model := &scriptedModel{replies: []string{`{"query": {"operation": "aggregate", "collection": "orders"}}`}}
	translator, err := NewTranslator(model, testSchema, Options{})
	require.NoError(t, err)

	_, err = translator.GenerateQuery(context.Background(), "count orders")
	var contractErr *query.ContractError
	require.True(t, errors.As(err, &contractErr), "error %v", err)
	assert.False(t, model.deadline)
}

func TestGenerateQueryTransportError(t *testing.T) {
	cause := errors.New("connection refused")
	translator, err := NewTranslator(&scriptedModel{err: cause}, testSchema, Options{})
	require.NoError(t, err)

	_, err = translator.GenerateQuery(context.Background(), "count orders")
	assert.ErrorIs(t, err, cause)
	var contractErr *query.ContractError
	assert.False(t, errors.As(err, &contractErr))
}

func TestGenerateQueryRequiresPrompt(t *testing.T) {
	model := &scriptedModel{}
	translator, err := NewTranslator(model, testSchema, Options{})
	require.NoError(t, err)

	_, err = translator.GenerateQuery(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Empty(t, model.requests)
}

func TestImprovePromptSendsDescriptor(t *testing.T) {
	model := &scriptedModel{replies: []string{"  List every user whose account is active, showing email.  "}}
	translator, err := NewTranslator(model, testSchema, Options{})
	require.NoError(t, err)

	suggestion, err := translator.ImprovePrompt(context.Background(), query.Descriptor{
		Operation:  query.OperationFind,
		Collection: "users",
	}, "active users")
	require.NoError(t, err)
	assert.Equal(t, "List every user whose account is active, showing email.", suggestion)

	require.Len(t, model.requests, 1)
	assert.False(t, model.requests[0].JSON)
	assert.Contains(t, model.requests[0].User, `"collection":"users"`)
	assert.Contains(t, model.requests[0].User, "active users")
}

func TestImprovePromptRejectsEmptySuggestion(t *testing.T) {
	translator, err := NewTranslator(&scriptedModel{replies: []string{"   "}}, testSchema, Options{})
	require.NoError(t, err)

	_, err = translator.ImprovePrompt(context.Background(), query.Descriptor{Operation: query.OperationFind, Collection: "users"}, "users")
	assert.Error(t, err)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	model := &scriptedModel{replies: []string{"first"}}
	translator, err := NewTranslator(model, testSchema, Options{RateLimit: 0.001, RateBurst: 1})
	require.NoError(t, err)

	_, err = translator.ImprovePrompt(context.Background(), query.Descriptor{Operation: query.OperationFind, Collection: "users"}, "users")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = translator.ImprovePrompt(ctx, query.Descriptor{Operation: query.OperationFind, Collection: "users"}, "users")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
	assert.Len(t, model.requests, 1)
}

func TestNewTranslatorValidatesInputs(t *testing.T) {
	_, err := NewTranslator(nil, testSchema, Options{})
	assert.Error(t, err)
	_, err = NewTranslator(&scriptedModel{}, schema.Encoded(""), Options{})
	assert.Error(t, err)
}
