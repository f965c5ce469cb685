package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/metrolab/wafersample/pkg/errcode"
)

// errorEnvelope is the wire shape of every error response.
type errorEnvelope struct {
	Error     *errcode.Error `json:"error"`
	RequestID string         `json:"request_id"`
	Timestamp string         `json:"timestamp"`
}

// statusFor translates engine error codes to HTTP status codes. The
// translation happens exactly once, here at the edge.
func statusFor(code errcode.Code) int {
	switch code {
	case errcode.ValidationError, errcode.ParserError, errcode.FileUploadError:
		return http.StatusBadRequest
	case errcode.NotFound:
		return http.StatusNotFound
	case errcode.LifecycleViolation:
		return http.StatusConflict
	case errcode.PayloadTooLarge, errcode.TooManyDies:
		return http.StatusRequestEntityTooLarge
	case errcode.BusinessLogicError, errcode.CompileError, errcode.UnknownPlugin,
		errcode.NoEligibleRules, errcode.EmptyWafer, errcode.ToolConstraintInfeasible:
		return http.StatusUnprocessableEntity
	case errcode.Timeout:
		return http.StatusGatewayTimeout
	case errcode.Cancelled:
		// nginx convention for "client closed request"
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// writeError emits the error envelope. Internal errors are not leaked: the
// envelope carries a generic message while the full error is logged by the
// middleware.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := errcode.AsError(err)
	status := statusFor(e.Code)

	if status == http.StatusInternalServerError {
		s.logger.Error("internal error", "path", r.URL.Path, "error", err.Error())
		e = errcode.New(errcode.Internal, "internal error")
	}

	writeJSON(w, status, errorEnvelope{
		Error:     e,
		RequestID: requestIDFrom(r.Context()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
