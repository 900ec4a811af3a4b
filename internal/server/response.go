package server

import (
	"encoding/json"
	"net/http"

	"github.com/claudecontext/claude-context/internal/pkg/errors"
)

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; encoding errors can only be logged upstream.
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON decodes a request body.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return errors.InvalidRequestError("invalid JSON body: " + err.Error())
	}
	return nil
}
