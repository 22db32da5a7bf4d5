package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/agentctl/agentctl/internal/apperr"
	"github.com/agentctl/agentctl/internal/workspace"
)

// decodeJSON decodes the request body into v, mapping malformed JSON to a
// Validation error instead of a raw decode error.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.Validation, "malformed request body", err)
	}
	return nil
}

// validateID applies the shared [A-Za-z0-9_-]{1,128} regex used for both
// workspace_id and session_id path segments.
func validateID(field, id string) error {
	if err := workspace.ValidateWorkspaceID(id); err != nil {
		return apperr.New(apperr.Validation, field+" must match [A-Za-z0-9_-]{1,128}")
	}
	return nil
}

// parseOffset parses a pagination offset query param, treating an empty,
// malformed or negative value as 0.
func parseOffset(q string) (int, error) {
	if q == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(q)
	if err != nil || n < 0 {
		return 0, nil
	}
	return n, nil
}
