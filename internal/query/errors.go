package query

import "fmt"

// ContractError reports a translation engine response that does not
// describe a well-formed query.
type ContractError struct {
	Reason string
	Err    error
}

func (e *ContractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("translation contract violated: %s: %v", e.Reason, e.Err)
	}
	return "translation contract violated: " + e.Reason
}

func (e *ContractError) Unwrap() error {
	return e.Err
}

type UnsupportedOperationError struct {
	Operation string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported operation %q: expected %q or %q", e.Operation, OperationFind, OperationAggregate)
}

// ExecutionError wraps a document store failure for one descriptor.
type ExecutionError struct {
	Operation  Operation
	Collection string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %s on collection %q: %v", e.Operation, e.Collection, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
