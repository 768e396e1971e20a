package router

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marcus-qen/stagee/internal/safety"
	"github.com/marcus-qen/stagee/internal/store"
)

// APIError is the stable error response shape of spec §7: an error class
// from the fixed taxonomy, a message safe to show the caller, and (when
// relevant) the execution id the error pertains to.
type APIError struct {
	ErrorClass string `json:"error_class"`
	Message    string `json:"message_safe_for_user"`
	Execution  string `json:"execution_id,omitempty"`
}

// writeJSONError writes a consistent APIError response.
func writeJSONError(w http.ResponseWriter, status int, class, message, executionID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{ErrorClass: class, Message: message, Execution: executionID})
}

// classifyError maps an internal error to the spec §7 taxonomy and an HTTP
// status, falling back to a generic StoreUnavailable/AdapterError bucket
// rather than leaking internal detail to the caller.
func classifyError(err error) (status int, class, message string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NotFound", "no matching record was found"
	case errors.Is(err, store.ErrDuplicateIdempotencyKey):
		// Reached when a caller invokes CreateExecution without first
		// resolving the cached prior execution via GetByIdempotencyKey, or
		// when handleExecute loses the insert race and its re-lookup of the
		// winning execution then fails.
		return http.StatusConflict, "DuplicateIdempotencyKey", "an execution already exists for this idempotency key"
	case errors.Is(err, store.ErrIllegalTransition):
		return http.StatusConflict, "IllegalStateTransition", "the execution is not in a state that allows this operation"
	case errors.Is(err, store.ErrLockHeld):
		return http.StatusConflict, "ResourceBusyError", "the target asset is busy with another operation"
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "StoreUnavailable", "the execution store is temporarily unavailable"
	case isTenantMismatch(err):
		return http.StatusForbidden, "TenantMismatch", "the actor does not belong to this execution's tenant"
	case isPermissionError(err):
		return http.StatusForbidden, "PermissionError", "the actor is not permitted to perform this operation"
	case errors.Is(err, errValidation):
		return http.StatusBadRequest, "ValidationError", err.Error()
	default:
		return http.StatusInternalServerError, "AdapterError", "the request could not be completed"
	}
}

func isPermissionError(err error) bool {
	var permErr *safety.ErrPermissionDenied
	return errors.As(err, &permErr)
}

func isTenantMismatch(err error) bool {
	var mismatchErr *safety.ErrTenantMismatch
	return errors.As(err, &mismatchErr)
}

var errValidation = errors.New("validation error")

// validationError wraps msg as a ValidationError for classifyError to match on.
func validationError(msg string) error {
	return errors.Join(errValidation, errors.New(msg))
}

// errorClassFromStep maps an Executor step ErrorClass to the router's
// taxonomy name for surfacing on the execution-level error fields.
func errorClassFromStep(class string) string {
	if class == "" {
		return "AdapterError"
	}
	return class
}

// maxBodyBytes is the maximum allowed size for POST/PUT/PATCH request bodies,
// adapted directly from the teacher's body_limit.go.
const maxBodyBytes int64 = 1 << 20

// maxBodySizeMiddleware rejects write requests whose declared Content-Length
// exceeds maxBodyBytes outright, and wraps the body reader as a safety net
// against chunked or unannounced oversized payloads.
func maxBodySizeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			if r.ContentLength > maxBodyBytes {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "ValidationError", "request body too large (limit 1MB)", "")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}
