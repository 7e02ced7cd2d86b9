package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/querybridge/querybridge/internal/observability"
	"github.com/querybridge/querybridge/internal/query"
)

type Options struct {
	// Timeout bounds a single store call. Zero means no extra deadline.
	Timeout time.Duration
	// MaxDocuments caps the documents read from a cursor. Zero reads all.
	MaxDocuments int
}

// Dispatcher validates a translation and executes it against the store.
// Collection names are passed through without checking that they exist.
type Dispatcher struct {
	store query.Store
	opts  Options
}

func New(store query.Store, opts Options) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.MaxDocuments < 0 {
		return nil, fmt.Errorf("max documents must be >= 0")
	}
	return &Dispatcher{store: store, opts: opts}, nil
}

// Execute runs translation.Query and returns its documents together with
// the translation's column titles, unchanged. An operation other than find
// or aggregate is rejected before the store is touched.
func (d *Dispatcher) Execute(ctx context.Context, translation query.Translation) (query.Result, []string, error) {
	descriptor := translation.Query
	if err := validate(descriptor); err != nil {
		observability.ObserveDispatch(operationLabel(descriptor.Operation), "rejected", 0, 0)
		return query.Result{}, nil, err
	}

	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	startedAt := time.Now()
	var (
		batch query.Batch
		err   error
	)
	switch descriptor.Operation {
	case query.OperationFind:
		batch, err = d.store.Find(ctx, descriptor.Collection, descriptor.Filter, query.FindOptions{MaxDocuments: d.opts.MaxDocuments})
	case query.OperationAggregate:
		batch, err = d.store.Aggregate(ctx, descriptor.Collection, descriptor.Pipeline, query.AggregateOptions{MaxDocuments: d.opts.MaxDocuments})
	}
	elapsed := time.Since(startedAt)
	if err != nil {
		observability.ObserveDispatch(string(descriptor.Operation), "error", 0, elapsed)
		return query.Result{}, nil, &query.ExecutionError{
			Operation:  descriptor.Operation,
			Collection: descriptor.Collection,
			Err:        err,
		}
	}

	documents := batch.Documents
	if documents == nil {
		documents = []json.RawMessage{}
	}
	observability.ObserveDispatch(string(descriptor.Operation), "ok", len(documents), elapsed)
	return query.Result{
		Documents: documents,
		Truncated: batch.Truncated,
		Duration:  elapsed,
	}, translation.ColumnTitles, nil
}

// operationLabel maps translator-supplied operation names onto a fixed
// metric label set.
func operationLabel(operation query.Operation) string {
	switch operation {
	case query.OperationFind, query.OperationAggregate:
		return string(operation)
	default:
		return "unsupported"
	}
}

func validate(descriptor query.Descriptor) error {
	switch descriptor.Operation {
	case query.OperationFind, query.OperationAggregate:
	default:
		return &query.UnsupportedOperationError{Operation: string(descriptor.Operation)}
	}
	if strings.TrimSpace(descriptor.Collection) == "" {
		return &query.ContractError{Reason: "collection is required"}
	}
	if descriptor.Operation == query.OperationAggregate && len(descriptor.Pipeline) == 0 {
		return &query.ContractError{Reason: "aggregate requires a non-empty pipeline"}
	}
	return nil
}
