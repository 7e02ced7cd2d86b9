package query

import (
	"context"
	"encoding/json"
	"time"
)

type Operation string

const (
	OperationFind      Operation = "find"
	OperationAggregate Operation = "aggregate"
)

// Descriptor is the query produced by the translation engine. Filter and
// pipeline stages are opaque documents (MongoDB extended JSON is accepted).
type Descriptor struct {
	Operation  Operation         `json:"operation"`
	Collection string            `json:"collection"`
	Filter     json.RawMessage   `json:"filter,omitempty"`
	Pipeline   []json.RawMessage `json:"pipeline,omitempty"`
}

// Translation is the full translation engine output for one prompt.
type Translation struct {
	Query        Descriptor `json:"query"`
	ColumnTitles []string   `json:"columnTitles"`
}

type Result struct {
	Documents []json.RawMessage
	Truncated bool
	Duration  time.Duration
}

type FindOptions struct {
	MaxDocuments int
}

type AggregateOptions struct {
	MaxDocuments int
}

type Batch struct {
	Documents []json.RawMessage
	Truncated bool
}

// Store is the document store seen by the dispatcher.
type Store interface {
	Find(ctx context.Context, collection string, filter json.RawMessage, opts FindOptions) (Batch, error)
	Aggregate(ctx context.Context, collection string, pipeline []json.RawMessage, opts AggregateOptions) (Batch, error)
}
