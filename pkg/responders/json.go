// Package responders writes JSON API responses.
package responders

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// JSON encodes payload before touching the response, so a value that cannot be
// encoded yields a bare 500 instead of a truncated body under a success status.
// HTML escaping is off so return URLs stay readable.
func JSON(w http.ResponseWriter, status int, payload any) {
	h := w.Header()
	h.Set("Cache-Control", "no-store")
	if payload == nil {
		h.Set("Content-Type", "application/json")
		w.WriteHeader(status)
		return
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// OK writes payload with 200.
func OK(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusOK, payload)
}
