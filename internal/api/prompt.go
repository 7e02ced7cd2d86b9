package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/querybridge/querybridge/internal/pipeline"
	"github.com/querybridge/querybridge/internal/query"
)

const maxPromptBodyBytes = 1 << 20

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type promptResponse struct {
	Success           bool              `json:"success"`
	Query             query.Descriptor  `json:"query"`
	Results           []json.RawMessage `json:"results"`
	ColumnTitles      []string          `json:"columnTitles"`
	Improvements      *string           `json:"improvements"`
	ImprovementsError string            `json:"improvementsError,omitempty"`
	Truncated         bool              `json:"truncated,omitempty"`
}

type promptFailure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func handlePrompt(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Prompts == nil {
		writeJSON(w, http.StatusNotImplemented, promptFailure{Error: "prompt pipeline is not configured"})
		return
	}

	var request promptRequest
	// An empty body is a missing prompt, not a malformed one.
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPromptBodyBytes)).Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, promptFailure{Error: "invalid request body"})
		return
	}

	response, err := deps.Prompts.Run(r.Context(), request.Prompt)
	if err != nil {
		if errors.Is(err, pipeline.ErrPromptRequired) {
			writeJSON(w, http.StatusBadRequest, promptFailure{Error: pipeline.ErrPromptRequired.Error()})
			return
		}
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "prompt failed", slog.String("error", err.Error()))
		}
		writeJSON(w, http.StatusInternalServerError, promptFailure{Error: err.Error()})
		return
	}

	results := response.Results
	if results == nil {
		results = []json.RawMessage{}
	}
	titles := response.ColumnTitles
	if titles == nil {
		titles = []string{}
	}
	writeJSON(w, http.StatusOK, promptResponse{
		Success:           true,
		Query:             response.Query,
		Results:           results,
		ColumnTitles:      titles,
		Improvements:      response.Improvements,
		ImprovementsError: response.ImprovementsError,
		Truncated:         response.Truncated,
	})
}
