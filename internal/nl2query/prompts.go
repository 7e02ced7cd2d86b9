package nl2query

import (
	"fmt"
	"strings"

	"github.com/querybridge/querybridge/internal/schema"
)

const querySystemPrompt = "You convert natural language requests into a single MongoDB query descriptor. " +
	"Answer with ONLY a JSON object of the form " +
	`{"query": {"operation": "find" | "aggregate", "collection": string, "filter": object, "pipeline": [object]}, "columnTitles": [string]}. ` +
	"Use \"filter\" with find and \"pipeline\" with aggregate. No markdown, no explanation."

const improveSystemPrompt = "You review natural language database requests. " +
	"Given the original request and the MongoDB query produced for it, suggest a clearer, more specific " +
	"phrasing of the request. Answer with plain text only."

func buildQueryPrompt(encoded schema.Encoded, prompt string) string {
	return fmt.Sprintf(
		"Database schema:\n%s\n\nUser request:\n%s\n\nRules:\n- Use only collections and fields from the schema.\n- columnTitles are human readable titles for the fields returned, in order.\n- Output a single JSON object only.",
		encoded.String(),
		strings.TrimSpace(prompt),
	)
}

func buildImprovePrompt(encoded schema.Encoded, descriptor []byte, prompt string) string {
	return fmt.Sprintf(
		"Database schema:\n%s\n\nOriginal request:\n%s\n\nGenerated query:\n%s\n\nSuggest an improved version of the request.",
		encoded.String(),
		strings.TrimSpace(prompt),
		string(descriptor),
	)
}
