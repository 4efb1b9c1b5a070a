package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodes a bounded request body and rejects unknown fields.
func ReadJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return err
	}
	return nil
}

// FieldError is a user-correctable problem with one input field.
type FieldError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := map[string]any{
		"request_id": NewRequestID(),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	}
	WriteJSON(w, status, resp)
}

func WriteFieldErrors(w http.ResponseWriter, message string, fields []FieldError) {
	WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", message, map[string]any{"fields": fields})
}
