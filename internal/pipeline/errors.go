package pipeline

import (
	"errors"
	"net/http"
)

// The pipeline rejects a publish request with one of three typed errors.
// Anything else that escapes the pipeline is an unexpected error and maps to
// the default failure status at the delivery layer.

// ValidationError marks a request that references data in an impossible way,
// such as a parent id that matches no post. No writes have been performed.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AuthorizationError marks a request forbidden by federation policy, blocks
// or a ban. No writes have been performed.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string { return e.Message }

// NotFoundError marks a request for a post or user that does not exist.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// StatusOf maps a pipeline error to its HTTP-equivalent status code.
// Unknown errors map to 400, the pipeline's default failure status.
func StatusOf(err error) int {
	var validation *ValidationError
	var authorization *AuthorizationError
	var notFound *NotFoundError
	switch {
	case errors.As(err, &validation):
		return http.StatusInternalServerError
	case errors.As(err, &authorization):
		return http.StatusForbidden
	case errors.As(err, &notFound):
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}
