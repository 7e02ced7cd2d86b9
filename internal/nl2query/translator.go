package nl2query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/querybridge/querybridge/internal/observability"
	"github.com/querybridge/querybridge/internal/query"
	"github.com/querybridge/querybridge/internal/schema"
)

var ErrEmptyPrompt = errors.New("prompt is required")

type Options struct {
	// Timeout bounds each model call. Zero leaves the caller's deadline alone.
	Timeout time.Duration
	// RateLimit is the steady number of model calls per second. Zero
	// disables pacing.
	RateLimit float64
	RateBurst int
}

// Translator turns prompts into query translations using a Model and the
// encoded schema it was built with. It is safe for concurrent use.
type Translator struct {
	model   Model
	schema  schema.Encoded
	limiter *rate.Limiter
	timeout time.Duration
}

func NewTranslator(model Model, encoded schema.Encoded, opts Options) (*Translator, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if strings.TrimSpace(encoded.String()) == "" {
		return nil, fmt.Errorf("encoded schema is required")
	}
	t := &Translator{model: model, schema: encoded, timeout: opts.Timeout}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return t, nil
}

func (t *Translator) Schema() schema.Encoded {
	return t.schema
}

func (t *Translator) ModelName() string {
	return t.model.Name()
}

// GenerateQuery asks the model for a descriptor answering prompt. A reply
// that does not satisfy the descriptor contract is returned as a
// *query.ContractError.
func (t *Translator) GenerateQuery(ctx context.Context, prompt string) (query.Translation, error) {
	if strings.TrimSpace(prompt) == "" {
		return query.Translation{}, ErrEmptyPrompt
	}
	startedAt := time.Now()

	raw, err := t.complete(ctx, Completion{
		System: querySystemPrompt,
		User:   buildQueryPrompt(t.schema, prompt),
		JSON:   true,
	})
	if err != nil {
		observability.ObserveTranslation("query", "error", time.Since(startedAt))
		return query.Translation{}, fmt.Errorf("generate query: %w", err)
	}

	translation, err := query.ParseTranslation([]byte(stripMarkdownFence(raw)))
	if err != nil {
		observability.ObserveTranslation("query", "contract_violation", time.Since(startedAt))
		return query.Translation{}, err
	}
	observability.ObserveTranslation("query", "ok", time.Since(startedAt))
	return translation, nil
}

// ImprovePrompt asks the model for a better phrasing of prompt given the
// descriptor it produced.
func (t *Translator) ImprovePrompt(ctx context.Context, descriptor query.Descriptor, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	startedAt := time.Now()

	encodedDescriptor, err := json.Marshal(descriptor)
	if err != nil {
		return "", fmt.Errorf("marshal descriptor: %w", err)
	}
	raw, err := t.complete(ctx, Completion{
		System: improveSystemPrompt,
		User:   buildImprovePrompt(t.schema, encodedDescriptor, prompt),
	})
	if err != nil {
		observability.ObserveTranslation("improve", "error", time.Since(startedAt))
		return "", fmt.Errorf("improve prompt: %w", err)
	}
	suggestion := stripMarkdownFence(raw)
	if suggestion == "" {
		observability.ObserveTranslation("improve", "error", time.Since(startedAt))
		return "", fmt.Errorf("improve prompt: model returned an empty suggestion")
	}
	observability.ObserveTranslation("improve", "ok", time.Since(startedAt))
	return suggestion, nil
}

func (t *Translator) complete(ctx context.Context, req Completion) (string, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("wait for rate limiter: %w", err)
		}
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.model.Complete(ctx, req)
}
