package middleware

import (
	"encoding/json"
	"net/http"
)

type ErrorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// WriteError renders the error envelope shared by middleware and handlers.
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, kind, message string) {
	body := ErrorBody{RequestID: GetRequestID(r.Context())}
	body.Error.Kind = kind
	body.Error.Message = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
