package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrDisabled = errors.New("prompt history is disabled")

// MaxListLimit is the most records a single ListRecent call returns.
const MaxListLimit = 500

type Outcome string

const (
	OutcomeOK                Outcome = "ok"
	OutcomeDegraded          Outcome = "degraded"
	OutcomeTranslationFailed Outcome = "translation_failed"
	OutcomeContractViolation Outcome = "contract_violation"
	OutcomeUnsupported       Outcome = "unsupported_operation"
	OutcomeExecutionFailed   Outcome = "execution_failed"
	OutcomeImprovementFailed Outcome = "improvement_failed"
)

// Record is one prompt run as stored for later inspection.
type Record struct {
	ID          uuid.UUID       `json:"id"`
	TraceID     string          `json:"trace_id,omitempty"`
	Prompt      string          `json:"prompt"`
	Operation   string          `json:"operation,omitempty"`
	Collection  string          `json:"collection,omitempty"`
	Query       json.RawMessage `json:"query,omitempty"`
	ResultCount int             `json:"result_count"`
	Outcome     Outcome         `json:"outcome"`
	Error       string          `json:"error,omitempty"`
	Duration    time.Duration   `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
}

// MarshalJSON reports Duration in milliseconds.
func (r Record) MarshalJSON() ([]byte, error) {
	type alias Record
	return json.Marshal(struct {
		alias
		Duration int64 `json:"duration_ms"`
	}{alias: alias(r), Duration: r.Duration.Milliseconds()})
}

type Writer interface {
	Record(ctx context.Context, record Record) error
}

type Reader interface {
	ListRecent(ctx context.Context, limit int) ([]Record, error)
}

type Recorder interface {
	Writer
	Reader
	HealthCheck(ctx context.Context) error
}
