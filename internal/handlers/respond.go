package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON is a small helper to send JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	body := errorBody{Error: code}
	if err != nil {
		body.Message = err.Error()
	}
	writeJSON(w, status, body)
}

// decodeJSON reads one JSON value from the request body. It answers 400 or
// 413 itself and returns false when decoding fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	return handleDecodeError(w, json.NewDecoder(r.Body).Decode(v))
}

// decodeOptionalJSON is decodeJSON that also accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return true
	}
	return handleDecodeError(w, err)
}

func handleDecodeError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", err)
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid_json", err)
	return false
}
