package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v2"

	"github.com/tinfoilsh/reasoning-search/search"
)

// User-facing messages for upstream failures
const (
	MsgSearchFailed  = "Failed to fetch search results"
	MsgNoResults     = "No search results found for your query"
	MsgAuthFailed    = "Authentication failed. Please check your API key."
	MsgRateLimited   = "Rate limit exceeded. Please try again later."
	MsgChatFailed    = "Failed to process chat request"
	MsgTimedOut      = "request timed out"
	MsgInternalError = "internal server error"
)

// PipelineError wraps errors that occur during pipeline execution
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed at stage %q: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// ValidationError indicates invalid request parameters
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// SearchError indicates the search provider call failed
type SearchError struct {
	Provider string
	Err      error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search error (%s): %v", e.Provider, e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

// NoResultsError indicates the search returned nothing to ground an answer on
type NoResultsError struct {
	Query string
}

func (e *NoResultsError) Error() string {
	return fmt.Sprintf("no search results for %q", e.Query)
}

// ResponderError indicates the responder LLM call failed
type ResponderError struct {
	Err error
}

func (e *ResponderError) Error() string {
	return fmt.Sprintf("responder error: %v", e.Err)
}

func (e *ResponderError) Unwrap() error {
	return e.Err
}

// UpstreamStatus returns the HTTP status of an OpenAI-compatible API error, or 0
func UpstreamStatus(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// ChatErrorStatus maps an upstream chat failure to the status and message shown to callers
func ChatErrorStatus(err error) (int, string) {
	switch UpstreamStatus(err) {
	case http.StatusUnauthorized:
		return http.StatusUnauthorized, MsgAuthFailed
	case http.StatusTooManyRequests:
		return http.StatusTooManyRequests, MsgRateLimited
	default:
		return http.StatusInternalServerError, MsgChatFailed
	}
}

// ErrorResponse maps an error to an HTTP status code and response body
func ErrorResponse(err error) (int, map[string]any) {
	var validationErr *ValidationError
	var searchErr *SearchError
	var noResultsErr *NoResultsError
	var responderErr *ResponderError
	var pipelineErr *PipelineError

	// Check for pipeline error first and unwrap
	if errors.As(err, &pipelineErr) {
		err = pipelineErr.Err
	}

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, errorBody(validationErr.Message, "validation_error", map[string]string{"field": validationErr.Field})

	case errors.Is(err, search.ErrMissingAPIKey):
		return http.StatusBadRequest, errorBody(err.Error(), "validation_error", map[string]string{"field": "searchApiKey"})

	case errors.As(err, &noResultsErr):
		return http.StatusNotFound, errorBody(MsgNoResults, "no_results", nil)

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorBody(MsgTimedOut, "timeout", nil)

	case errors.As(err, &searchErr):
		return http.StatusInternalServerError, errorBody(MsgSearchFailed, "search_error", map[string]string{"details": searchErr.Err.Error()})

	case errors.As(err, &responderErr):
		status, message := ChatErrorStatus(responderErr.Err)
		return status, errorBody(message, "responder_error", nil)

	default:
		return http.StatusInternalServerError, errorBody(MsgInternalError, "api_error", nil)
	}
}

func errorBody(message, errType string, extra map[string]string) map[string]any {
	body := map[string]string{
		"message": message,
		"type":    errType,
	}
	for k, v := range extra {
		body[k] = v
	}
	return map[string]any{"error": body}
}
