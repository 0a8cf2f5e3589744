package fakeapi

import (
	"bytes"
	"net/http"

	"github.com/goccy/go-json"
)

// Error bodies follow the portal API: {"error": "..."} for service errors,
// {"field": ["..."]} for validation errors
type errorResponse struct {
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

type detailResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

func renderJSON(w http.ResponseWriter, data any, code int) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)

	if err := enc.Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}

func renderError(w http.ResponseWriter, message string, code int) {
	renderJSON(w, errorResponse{Error: message}, code)
}

func renderFields(w http.ResponseWriter, fields map[string][]string) {
	renderJSON(w, fields, http.StatusBadRequest)
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
