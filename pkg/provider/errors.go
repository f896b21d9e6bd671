package provider

import (
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/goccy/go-json"
)

const maxErrorBody = 64 << 10

// InputValidationCodes are provider error codes caused by the caller's inputs
// rather than by the provider configuration.
var InputValidationCodes = []string{"invalid_param", "missing_param", "validation_error"}

var healthAffectingStatuses = []int{
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusUnprocessableEntity,
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func newAPIError(status int, raw []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(raw)}

	var decoded struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}

	if json.Unmarshal(raw, &decoded) == nil {
		apiErr.Code = decoded.Code
		apiErr.Message = decoded.Message
	}

	return apiErr
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("provider returned HTTP %d", e.StatusCode)
}

// Details is the decoded message, or the raw body when there is none.
func (e *APIError) Details() string {
	if e.Message != "" {
		return e.Message
	}

	return e.Body
}

// IsInputValidation reports whether the failure is about the request inputs.
func (e *APIError) IsInputValidation() bool {
	return slices.Contains(InputValidationCodes, e.Code) || e.StatusCode == http.StatusBadRequest
}

// AffectsHealth reports whether the failure says the provider configuration is
// broken: bad credentials, missing permissions or an unknown workflow.
func (e *APIError) AffectsHealth() bool {
	return !e.IsInputValidation() && slices.Contains(healthAffectingStatuses, e.StatusCode)
}

// TransportError is a failure to reach the provider or read its response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AsAPIError extracts an *APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)

	return apiErr, ok
}

// IsTransportError reports whether err is a transport failure.
func IsTransportError(err error) bool {
	var transportErr *TransportError

	return errors.As(err, &transportErr)
}
