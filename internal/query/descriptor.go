package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseTranslation decodes a translation engine response. Both the wrapped
// form {"query": {...}, "columnTitles": [...]} and a bare descriptor object
// are accepted. The operation value is not checked against the supported
// set here; that is the dispatcher's decision.
func ParseTranslation(raw []byte) (Translation, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Translation{}, &ContractError{Reason: "empty response"}
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return Translation{}, &ContractError{Reason: "response is not a JSON object", Err: err}
	}

	fields := envelope
	if rawQuery, ok := envelope["query"]; ok && !isNull(rawQuery) {
		fields = nil
		if err := json.Unmarshal(rawQuery, &fields); err != nil || fields == nil {
			return Translation{}, &ContractError{Reason: "query is not a JSON object", Err: err}
		}
	}

	descriptor, err := parseDescriptor(fields)
	if err != nil {
		return Translation{}, err
	}

	titles, err := parseColumnTitles(envelope)
	if err != nil {
		return Translation{}, err
	}
	return Translation{Query: descriptor, ColumnTitles: titles}, nil
}

// Validate checks the structural contract of an already decoded descriptor.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(string(d.Operation)) == "" {
		return &ContractError{Reason: "missing operation"}
	}
	if strings.TrimSpace(d.Collection) == "" {
		return &ContractError{Reason: "missing collection"}
	}
	if len(d.Filter) > 0 && !isNull(d.Filter) && !isObject(d.Filter) {
		return &ContractError{Reason: "filter must be a JSON object"}
	}
	if d.Operation == OperationAggregate {
		if len(d.Pipeline) == 0 {
			return &ContractError{Reason: "aggregate requires a pipeline"}
		}
		for i, stage := range d.Pipeline {
			if !isObject(stage) {
				return &ContractError{Reason: fmt.Sprintf("pipeline stage %d must be a JSON object", i)}
			}
		}
	}
	return nil
}

func parseDescriptor(fields map[string]json.RawMessage) (Descriptor, error) {
	var descriptor Descriptor

	operation, err := stringField(fields, "operation")
	if err != nil {
		return Descriptor{}, err
	}
	descriptor.Operation = Operation(operation)

	descriptor.Collection, err = stringField(fields, "collection")
	if err != nil {
		return Descriptor{}, err
	}

	if rawFilter, ok := fields["filter"]; ok && !isNull(rawFilter) {
		descriptor.Filter = append(json.RawMessage(nil), bytes.TrimSpace(rawFilter)...)
	}

	if rawPipeline, ok := fields["pipeline"]; ok && !isNull(rawPipeline) {
		var stages []json.RawMessage
		if err := json.Unmarshal(rawPipeline, &stages); err != nil {
			return Descriptor{}, &ContractError{Reason: "pipeline must be a JSON array", Err: err}
		}
		descriptor.Pipeline = stages
	}

	if err := descriptor.Validate(); err != nil {
		return Descriptor{}, err
	}
	return descriptor, nil
}

func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return "", &ContractError{Reason: "missing " + name}
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", &ContractError{Reason: name + " must be a string", Err: err}
	}
	if strings.TrimSpace(value) == "" {
		return "", &ContractError{Reason: "missing " + name}
	}
	return value, nil
}

func parseColumnTitles(envelope map[string]json.RawMessage) ([]string, error) {
	titles := []string{}
	raw, ok := envelope["columnTitles"]
	if !ok || isNull(raw) {
		return titles, nil
	}
	if err := json.Unmarshal(raw, &titles); err != nil {
		return nil, &ContractError{Reason: "columnTitles must be an array of strings", Err: err}
	}
	return titles, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
