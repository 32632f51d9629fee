// Package http provides HTTP server and handler implementations.
//
// This file implements the Builder Pattern for constructing JSON responses
// and maps domain errors to status codes in one place.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"pesa/internal/auth"
	"pesa/internal/core"
	"pesa/internal/currency"
	"pesa/internal/services"
	"pesa/internal/storage"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	data       any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Data sets the value encoded as the response body.
func (b *JSONResponseBuilder) Data(v any) *JSONResponseBuilder {
	b.data = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.data == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.data)
}

type errorBody struct {
	Error string `json:"error"`
}

// ErrorResponse creates a standard {"error": message} response.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Data(errorBody{Error: message})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

// UnauthorizedError creates a 401 Unauthorized error response.
func UnauthorizedError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusUnauthorized, message).Header("WWW-Authenticate", "Bearer")
}

// UnprocessableEntityError creates a 422 Unprocessable Entity error response.
func UnprocessableEntityError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusUnprocessableEntity, message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

// ConflictError creates a 409 Conflict error response.
func ConflictError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusConflict, message)
}

// TooManyRequestsError creates a 429 Too Many Requests error response.
func TooManyRequestsError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded, try again later")
}

// ServiceUnavailableError creates a 503 Service Unavailable error response.
func ServiceUnavailableError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusServiceUnavailable, message)
}

// ErrorFor maps an error returned by the domain layer to a response. The
// second result is false for unexpected errors, which callers log.
func ErrorFor(err error) (*JSONResponseBuilder, bool) {
	var failure *auth.Failure
	switch {
	case errors.As(err, &failure):
		switch {
		case errors.Is(err, auth.ErrEmailTaken):
			return ConflictError(failure.Message), true
		case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrPasswordTooShort):
			return UnprocessableEntityError(failure.Message), true
		case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
			return UnauthorizedError(failure.Message), true
		case errors.Is(err, auth.ErrGoogleUnavailable):
			return ServiceUnavailableError(failure.Message), true
		case errors.Is(err, auth.ErrGoogleRejected):
			return UnauthorizedError(failure.Message), true
		}
		return InternalServerError(failure.Message), false
	case core.IsValidation(err),
		errors.Is(err, services.ErrInvalidMonth),
		errors.Is(err, currency.ErrUnknownCurrency):
		return UnprocessableEntityError(err.Error()), true
	case errors.Is(err, services.ErrSystemCategory), errors.Is(err, services.ErrForeignCategory):
		return ErrorResponse(http.StatusForbidden, err.Error()), true
	case errors.Is(err, currency.ErrRatesUnavailable):
		return ServiceUnavailableError(currency.ErrRatesUnavailable.Error()), true
	case errors.Is(err, storage.ErrNotFound):
		return NotFoundError("Not found"), true
	case errors.Is(err, storage.ErrDuplicate):
		return ConflictError("Already exists"), true
	}
	return InternalServerError("Internal error"), false
}
