package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrConflict marks a rejected management mutation: deleting a deployment a
// stage still points at, removing wildcard settings that do not exist,
// patching an unknown path. Mutations returning it leave state unchanged.
var ErrConflict = errors.New("configuration conflict")

// ErrNotFound marks a management operation addressing an entity that does
// not exist.
var ErrNotFound = errors.New("not found")

func conflictf(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, a...))
}

func notFoundf(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, a...))
}

// RequestError is a structured failure of an invocation. It renders as a
// provider-style JSON body plus the x-amzn-ErrorType header; it never
// escapes as anything but an HTTP response.
type RequestError struct {
	Status    int
	ErrorType string
	Message   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.ErrorType, e.Message)
}

func errUnknownAPI(apiID string) *RequestError {
	return &RequestError{
		Status:  404,
		Message: fmt.Sprintf("The API id '%s' does not correspond to a deployed API Gateway API", apiID),
	}
}

func errRouteNotFound() *RequestError {
	return &RequestError{
		Status:    404,
		ErrorType: "NotFoundException",
		Message:   "Not Found",
	}
}

// errMethodNotAllowed is the provider's curious convention for a matched
// path without the requested verb: still 404, but with a different error
// type and body than a path miss.
func errMethodNotAllowed() *RequestError {
	return &RequestError{
		Status:    404,
		ErrorType: "MissingAuthenticationTokenException",
		Message:   "Missing Authentication Token",
	}
}

func errInvalidBody() *RequestError {
	return &RequestError{
		Status:    400,
		ErrorType: "BadRequestException",
		Message:   "Invalid request body",
	}
}

func errMissingParameters(names []string) *RequestError {
	return &RequestError{
		Status:    400,
		ErrorType: "BadRequestException",
		Message:   fmt.Sprintf("Missing required request parameters: [%s]", strings.Join(names, ", ")),
	}
}

func errForbidden() *RequestError {
	return &RequestError{
		Status:    403,
		ErrorType: "ForbiddenException",
		Message:   "Forbidden",
	}
}

func errThrottled() *RequestError {
	return &RequestError{
		Status:    429,
		ErrorType: "TooManyRequestsException",
		Message:   "Too Many Requests",
	}
}

func errQuotaExceeded() *RequestError {
	return &RequestError{
		Status:    429,
		ErrorType: "LimitExceededException",
		Message:   "Limit Exceeded",
	}
}

func errBackend(err error) *RequestError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &RequestError{
			Status:    504,
			ErrorType: "IntegrationTimeoutException",
			Message:   "Endpoint request timed out",
		}
	}
	return &RequestError{
		Status:    502,
		ErrorType: "BadGatewayException",
		Message:   "Internal server error",
	}
}

func errInternal() *RequestError {
	return &RequestError{
		Status:    500,
		ErrorType: "InternalServerErrorException",
		Message:   "Internal server error",
	}
}
