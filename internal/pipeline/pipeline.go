package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/querybridge/querybridge/internal/history"
	"github.com/querybridge/querybridge/internal/observability"
	"github.com/querybridge/querybridge/internal/query"
)

const (
	PolicyDegrade = "degrade"
	PolicyFail    = "fail"
)

const historyWriteTimeout = 2 * time.Second

var ErrPromptRequired = errors.New("prompt is required")

// ImprovementError is returned when the improvement step fails under the
// fail policy.
type ImprovementError struct {
	Err error
}

func (e *ImprovementError) Error() string {
	return fmt.Sprintf("improve prompt: %v", e.Err)
}

func (e *ImprovementError) Unwrap() error {
	return e.Err
}

type Translator interface {
	GenerateQuery(ctx context.Context, prompt string) (query.Translation, error)
	ImprovePrompt(ctx context.Context, descriptor query.Descriptor, prompt string) (string, error)
}

type Executor interface {
	Execute(ctx context.Context, translation query.Translation) (query.Result, []string, error)
}

// Response is the assembled answer for one prompt. Improvements is nil when
// the improvement step failed under the degrade policy.
type Response struct {
	Query             query.Descriptor
	Results           []json.RawMessage
	ColumnTitles      []string
	Improvements      *string
	ImprovementsError string
	Truncated         bool
}

type Config struct {
	Translator    Translator
	Executor      Executor
	History       history.Writer
	ImprovePolicy string
	Logger        *slog.Logger
}

// Service runs prompts through translate, execute and improve. Its fields
// are fixed at construction; Run may be called concurrently.
type Service struct {
	translator Translator
	executor   Executor
	history    history.Writer
	policy     string
	logger     *slog.Logger
}

func New(cfg Config) (*Service, error) {
	if cfg.Translator == nil {
		return nil, fmt.Errorf("translator is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	policy := strings.ToLower(strings.TrimSpace(cfg.ImprovePolicy))
	switch policy {
	case "":
		policy = PolicyDegrade
	case PolicyDegrade, PolicyFail:
	default:
		return nil, fmt.Errorf("invalid improve policy %q", cfg.ImprovePolicy)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Service{
		translator: cfg.Translator,
		executor:   cfg.Executor,
		history:    cfg.History,
		policy:     policy,
		logger:     logger,
	}, nil
}

// Run handles one prompt. The steps run strictly in order and the first
// failure ends the run, except an improvement failure under the degrade
// policy.
func (s *Service) Run(ctx context.Context, prompt string) (Response, error) {
	if strings.TrimSpace(prompt) == "" {
		return Response{}, ErrPromptRequired
	}

	startedAt := time.Now()
	traceID := observability.TraceIDFromContext(ctx)
	logger := s.logger.With(slog.String("trace_id", traceID))
	record := history.Record{TraceID: traceID, Prompt: prompt}

	translation, err := s.translator.GenerateQuery(ctx, prompt)
	if err != nil {
		outcome := history.OutcomeTranslationFailed
		var contractErr *query.ContractError
		if errors.As(err, &contractErr) {
			outcome = history.OutcomeContractViolation
		}
		logger.WarnContext(ctx, "query generation failed", slog.String("outcome", string(outcome)), slog.String("error", err.Error()))
		s.finish(ctx, record, outcome, err, startedAt)
		return Response{}, err
	}
	descriptor := translation.Query
	record.Operation = string(descriptor.Operation)
	record.Collection = descriptor.Collection
	if encoded, marshalErr := json.Marshal(descriptor); marshalErr == nil {
		record.Query = encoded
	}
	logger.DebugContext(ctx, "query generated",
		slog.String("operation", string(descriptor.Operation)),
		slog.String("collection", descriptor.Collection),
	)

	result, titles, err := s.executor.Execute(ctx, translation)
	if err != nil {
		outcome := history.OutcomeExecutionFailed
		var unsupported *query.UnsupportedOperationError
		if errors.As(err, &unsupported) {
			outcome = history.OutcomeUnsupported
		}
		var contractErr *query.ContractError
		if errors.As(err, &contractErr) {
			outcome = history.OutcomeContractViolation
		}
		logger.WarnContext(ctx, "query execution failed", slog.String("outcome", string(outcome)), slog.String("error", err.Error()))
		s.finish(ctx, record, outcome, err, startedAt)
		return Response{}, err
	}
	record.ResultCount = len(result.Documents)

	response := Response{
		Query:        descriptor,
		Results:      result.Documents,
		ColumnTitles: titles,
		Truncated:    result.Truncated,
	}

	suggestion, err := s.translator.ImprovePrompt(ctx, descriptor, prompt)
	if err != nil {
		observability.IncrementImprovementFailure()
		if s.policy == PolicyFail {
			logger.WarnContext(ctx, "prompt improvement failed", slog.String("error", err.Error()))
			improveErr := &ImprovementError{Err: err}
			s.finish(ctx, record, history.OutcomeImprovementFailed, improveErr, startedAt)
			return Response{}, improveErr
		}
		logger.WarnContext(ctx, "prompt improvement failed, returning results without suggestion", slog.String("error", err.Error()))
		response.ImprovementsError = err.Error()
		s.finish(ctx, record, history.OutcomeDegraded, err, startedAt)
		return response, nil
	}
	response.Improvements = &suggestion

	logger.InfoContext(ctx, "prompt completed",
		slog.String("operation", string(descriptor.Operation)),
		slog.String("collection", descriptor.Collection),
		slog.Int("documents", len(result.Documents)),
		slog.Duration("duration", time.Since(startedAt)),
	)
	s.finish(ctx, record, history.OutcomeOK, nil, startedAt)
	return response, nil
}

func (s *Service) finish(ctx context.Context, record history.Record, outcome history.Outcome, runErr error, startedAt time.Time) {
	observability.ObservePipelineRun(string(outcome))
	if s.history == nil {
		return
	}

	record.ID = uuid.New()
	record.Outcome = outcome
	record.Duration = time.Since(startedAt)
	record.CreatedAt = time.Now().UTC()
	if runErr != nil {
		record.Error = runErr.Error()
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()
	if err := s.history.Record(writeCtx, record); err != nil {
		s.logger.WarnContext(ctx, "record prompt history failed",
			slog.String("trace_id", record.TraceID),
			slog.String("error", err.Error()),
		)
	}
}
