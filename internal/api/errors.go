package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/p-arndt/sessionbox/internal/session"
)

// Error codes returned in API responses
const (
	ErrCodeEnvironmentUnavailable = "ENVIRONMENT_UNAVAILABLE"
	ErrCodeProvisioningFailed     = "PROVISIONING_FAILED"
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeInternalError          = "INTERNAL_ERROR"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string         `json:"error_code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeAPIError writes a structured error response with appropriate HTTP status
func writeAPIError(w http.ResponseWriter, err error) {
	var apiErr APIError
	statusCode := http.StatusInternalServerError

	switch {
	case errors.Is(err, session.ErrEnvironmentUnavailable):
		apiErr = APIError{
			Code:    ErrCodeEnvironmentUnavailable,
			Message: err.Error(),
		}
		statusCode = http.StatusServiceUnavailable

	case errors.Is(err, session.ErrProvisioning):
		apiErr = APIError{
			Code:    ErrCodeProvisioningFailed,
			Message: err.Error(),
		}
		statusCode = http.StatusInternalServerError

	case errors.Is(err, session.ErrInvalidRequest):
		apiErr = APIError{
			Code:    ErrCodeInvalidRequest,
			Message: err.Error(),
		}
		statusCode = http.StatusBadRequest

	default:
		apiErr = APIError{
			Code:    ErrCodeInternalError,
			Message: err.Error(),
		}
	}

	writeJSON(w, statusCode, apiErr)
}

// writeValidationError writes a 400 Bad Request with validation details
func writeValidationError(w http.ResponseWriter, message string, details map[string]any) {
	writeJSON(w, http.StatusBadRequest, APIError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
		Details: details,
	})
}

func writeUnauthorizedError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, APIError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
