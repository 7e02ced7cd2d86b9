package api

import "net/http"

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema is not loaded", false, nil)
		return
	}
	collections := deps.Schema.Collections()
	if collections == nil {
		collections = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collections": collections,
		"encoded":     deps.EncodedSchema.String(),
	})
}
