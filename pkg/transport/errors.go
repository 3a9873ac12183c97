package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrorType classifies an API error.
type ErrorType string

const (
	ErrorTypeInvalidRequest     ErrorType = "invalid_request"
	ErrorTypeUnauthorized       ErrorType = "unauthorized"
	ErrorTypeForbidden          ErrorType = "forbidden"
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeTooManyRequests    ErrorType = "too_many_requests"
	ErrorTypeServerError        ErrorType = "server_error"
	ErrorTypeServiceUnavailable ErrorType = "service_unavailable"
)

// APIError is the body of every error response, wrapped as {"error": ...}.
type APIError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
}

func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Param, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// InvalidRequest reports a problem with a request parameter.
func InvalidRequest(param, msg string) *APIError {
	return &APIError{Type: ErrorTypeInvalidRequest, Param: param, Message: msg}
}

// NotFound reports a missing resource.
func NotFound(msg string) *APIError {
	return &APIError{Type: ErrorTypeNotFound, Message: msg}
}

// ServerError reports an internal failure.
func ServerError(msg string) *APIError {
	return &APIError{Type: ErrorTypeServerError, Message: msg}
}

// Status maps the error type to an HTTP status code.
func (e *APIError) Status() int {
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	case ErrorTypeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err with the status derived from its type.
func WriteError(w http.ResponseWriter, err *APIError) {
	WriteJSON(w, err.Status(), struct {
		Error *APIError `json:"error"`
	}{err})
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// DefaultMaxBodySize bounds request bodies read by DecodeJSON.
const DefaultMaxBodySize = 1 << 20

// DecodeJSON reads a JSON request body into v. Unknown fields are
// rejected. maxBytes <= 0 means DefaultMaxBodySize.
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) *APIError {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return InvalidRequest("Content-Type", "expected application/json, got "+ct)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return InvalidRequest("body", fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, io.EOF):
			return InvalidRequest("body", "request body is empty")
		default:
			return InvalidRequest("body", "invalid JSON: "+err.Error())
		}
	}
	return nil
}
