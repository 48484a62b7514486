package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ignite/exigo-bridge/internal/pkg/logger"
)

// maxDecodeBytes caps admin request bodies.
const maxDecodeBytes = 64 << 10

// ErrorResponse is the error envelope every endpoint uses. RequestID echoes
// chi's request ID so a caller can quote it when reporting a failure.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// JSON writes data with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("json encode failed", "component", "httputil", "error", err)
	}
}

// OK writes a 200 response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Accepted writes a 202 response; used when work was started, not finished.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	resp := ErrorResponse{Error: message, Code: code}
	if rid := w.Header().Get(requestIDHeader); rid != "" {
		resp.RequestID = rid
	}
	JSON(w, status, resp)
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	writeError(w, status, "", message)
}

// ErrorCode writes a JSON error response with a machine-readable code.
func ErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeError(w, status, code, message)
}

// BadRequest writes a 400 error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// Unauthorized writes a 401 error.
func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, message)
}

// NotFound writes a 404 error.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message)
}

// Conflict writes a 409 error.
func Conflict(w http.ResponseWriter, code, message string) {
	ErrorCode(w, http.StatusConflict, code, message)
}

// InternalError logs err and writes a generic 500. The real error never
// reaches the client.
func InternalError(w http.ResponseWriter, err error) {
	logger.Error("internal error", "component", "httputil", "request_id", w.Header().Get(requestIDHeader), "error", err)
	Error(w, http.StatusInternalServerError, "internal server error")
}

// Decode reads a JSON body into dst. Unknown fields and bodies over 64 KiB
// are rejected. On failure it writes a 400 and returns false.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDecodeBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		BadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

const requestIDHeader = "X-Request-Id"

// RequestID copies chi's request ID into the response headers so error
// bodies and logs can carry it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			w.Header().Set(requestIDHeader, rid)
		}
		next.ServeHTTP(w, r)
	})
}
