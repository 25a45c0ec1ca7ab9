package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

const maxBodyBytes = 1 << 20

type dataBody struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeData renders the success envelope. Token-bearing responses must not
// be cached.
func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, dataBody{Success: true, Data: data})
}

// readJSON decodes a JSON body of at most 1MB. Unknown fields are ignored.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if ct != "" && !strings.Contains(ct, "application/json") {
		return ErrBadRequest.WithFields(map[string]string{"body": "Content-Type must be application/json"})
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return ErrBadRequest.WithFields(map[string]string{"body": "invalid JSON"})
	}
	return nil
}

// required returns a VALIDATION_ERROR naming every empty field.
func required(fields map[string]string) error {
	missing := map[string]string{}
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing[name] = "is required"
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return ErrBadRequest.WithFields(missing)
}
