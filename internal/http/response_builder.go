// Package http provides HTTP server and handler implementations.
//
// This file implements the Builder Pattern for constructing JSON responses and
// maps domain errors to status codes.

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"carelink/internal/core"
	applog "carelink/internal/log"
	"carelink/internal/retry"
	"carelink/internal/services"
	"carelink/internal/storage"
)

// ResponseBuilder provides a fluent API for JSON responses.
type ResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       any
}

func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

// JSON sets the value encoded as the response body.
func (b *ResponseBuilder) JSON(v any) *ResponseBuilder {
	b.body = v
	return b
}

func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	if err := json.NewEncoder(w).Encode(b.body); err != nil {
		slog.Error("Failed to encode response", applog.FieldError, err)
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Attempts is set when a remote call gave up after retrying.
	Attempts int `json:"attempts,omitempty"`
}

// ErrorResponse creates a standard error response.
func ErrorResponse(statusCode int, code, message string) *ResponseBuilder {
	return NewResponse().
		Status(statusCode).
		JSON(errorBody{Error: errorDetail{Code: code, Message: message}})
}

func BadRequestError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, "bad_request", message)
}

func NotFoundError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusNotFound, "not_found", message)
}

// badRequest marks malformed input, as opposed to well-formed but invalid values.
type badRequest struct {
	msg string
}

func (e badRequest) Error() string { return e.msg }

var validationErrors = []error{
	core.ErrInvalidDateFormat,
	core.ErrStartAfterEnd,
	core.ErrEmptyName,
	core.ErrNameTooLong,
	core.ErrInvalidEmail,
	core.ErrWeakPassword,
	core.ErrEmptyEntry,
	core.ErrDetailsTooLong,
	core.ErrMissingTimestamp,
	core.ErrInvalidGroupCode,
	core.ErrInvalidImageURL,
	core.ErrInvalidFontSize,
}

// classify maps an error to its status, code and client-safe message.
func classify(err error) (status int, code, message string) {
	var (
		br        badRequest
		tagErr    core.InvalidTagError
		remote    *retry.RemoteOperationFailedError
		noEntries *services.NoEntriesError
	)

	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest, "bad_request", br.msg
	case errors.Is(err, services.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated", "Please sign in."
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", err.Error()
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, "forbidden", "You are not allowed to do that."
	case errors.As(err, &noEntries):
		return http.StatusNotFound, "no_entries", noEntries.Error()
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found", "Not found."
	case errors.Is(err, services.ErrEmailTaken):
		return http.StatusConflict, "email_taken", err.Error()
	case errors.Is(err, storage.ErrDuplicate):
		return http.StatusConflict, "duplicate", "Already exists."
	case errors.As(err, &tagErr):
		return http.StatusUnprocessableEntity, "invalid_tag", tagErr.Error()
	case errors.Is(err, storage.ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType, "unsupported_media", err.Error()
	case errors.Is(err, storage.ErrPhotoTooLarge):
		return http.StatusRequestEntityTooLarge, "photo_too_large", err.Error()
	case errors.Is(err, services.ErrSummaryUnavailable):
		return http.StatusServiceUnavailable, "summary_unavailable", err.Error()
	case errors.As(err, &remote):
		return http.StatusBadGateway, "remote_operation_failed",
			"The summary service did not respond. Please try again."
	case errors.Is(err, retry.ErrCanceled):
		return http.StatusServiceUnavailable, "canceled", "The request was canceled."
	}
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			return http.StatusUnprocessableEntity, "invalid_input", v.Error()
		}
	}
	return http.StatusInternalServerError, "internal", "Something went wrong."
}

// writeError logs server-side failures and writes the JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	logger := applog.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed",
			applog.FieldPath, r.URL.Path,
			"error_code", code,
			applog.FieldError, err)
	} else {
		logger.DebugContext(r.Context(), "Request rejected",
			applog.FieldPath, r.URL.Path,
			"error_code", code,
			applog.FieldError, err)
	}

	body := errorBody{Error: errorDetail{Code: code, Message: message}}
	var remote *retry.RemoteOperationFailedError
	if errors.As(err, &remote) {
		body.Error.Attempts = remote.Attempts
	}
	NewResponse().Status(status).JSON(body).Write(w)
}
