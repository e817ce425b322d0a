package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/example/ride-hailing/internal/apperr"
)

const maxBody = 1 << 20

type errorBody struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status. Internal failures are logged and the
// client only sees a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if kind == apperr.Internal {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", requestID(r.Context()), "error", err)
		writeJSON(w, status, errorBody{Message: "internal error"})
		return
	}
	body := errorBody{Message: string(kind)}
	var e *apperr.Error
	if errors.As(err, &e) {
		if e.Message != "" {
			body.Message = e.Message
		}
		body.Errors = e.Fields
	}
	if status >= 500 {
		s.logger.Warn("request failed", "path", r.URL.Path, "kind", kind, "error", err)
	}
	writeJSON(w, status, body)
}

// decode reads a JSON body into v, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, apperr.Invalid(map[string]string{"body": "malformed JSON"}))
		return false
	}
	return true
}
