package service

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/collabmate/collabmate/internal/guard"
	"github.com/collabmate/collabmate/internal/lifecycle"
)

const maxBodySize = 1 << 20

type fieldError struct {
	Msg      string `json:"msg"`
	Path     string `json:"path"`
	Location string `json:"location"`
}

type validation []fieldError

func (v *validation) add(path, msg string) {
	*v = append(*v, fieldError{Msg: msg, Path: path, Location: "body"})
}

func (v validation) failed(w http.ResponseWriter) bool {
	if len(v) == 0 {
		return false
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{"errors": v})
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// decodeBody reads a JSON object into dst. An empty body leaves dst
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"errors": validation{{Msg: "Invalid JSON body", Path: "", Location: "body"}},
	})
	return false
}

// fail maps errors shared by every handler. Handlers deal with not-found
// themselves because the message names the document.
func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, guard.ErrDenied):
		writeMessage(w, http.StatusForbidden, "Not authorized")
	case errors.Is(err, lifecycle.ErrStoreUnavailable):
		writeMessage(w, http.StatusServiceUnavailable, "Store unavailable")
	default:
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Server error")
	}
}
