package api

import (
	"context"

	"github.com/openai/openai-go/v2/option"

	"github.com/tinfoilsh/reasoning-search/config"
	"github.com/tinfoilsh/reasoning-search/history"
	"github.com/tinfoilsh/reasoning-search/llm"
	"github.com/tinfoilsh/reasoning-search/pipeline"
	"github.com/tinfoilsh/reasoning-search/search"
	"github.com/tinfoilsh/reasoning-search/sections"
)

// Runner executes the ask pipeline
type Runner interface {
	Execute(ctx context.Context, req *pipeline.Request, emitter pipeline.EventEmitter, reqOpts ...option.RequestOption) (*pipeline.Context, error)
}

// Server holds all dependencies for the HTTP handlers
type Server struct {
	Cfg      *config.Config
	Pipeline Runner
	Clients  *llm.Clients
	Search   search.Provider
	History  history.Store // nil when history is disabled
}

// Message represents a chat message in the incoming request
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of the chat proxy routes
type ChatRequest struct {
	Messages []Message `json:"messages"`
	APIKey   string    `json:"apiKey,omitempty"`
	Model    string    `json:"model,omitempty"`
}

// AskRequest is the body of POST /api/ask
type AskRequest struct {
	Query        string    `json:"query"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	Stream       bool      `json:"stream"`
	APIKey       string    `json:"apiKey,omitempty"`
	SearchAPIKey string    `json:"searchApiKey,omitempty"`
	History      []Message `json:"history,omitempty"`
	MaxResults   int       `json:"max_results,omitempty"`
	Temperature  *float64  `json:"temperature,omitempty"`
	MaxTokens    *int64    `json:"max_tokens,omitempty"`
}

// AskResponse is the non-streaming reply of POST /api/ask
type AskResponse struct {
	ID           string          `json:"id"`
	Query        string          `json:"query"`
	Results      []search.Result `json:"results"`
	Content      string          `json:"content"`
	Reasoning    string          `json:"reasoning"`
	FinalAnswer  string          `json:"final_answer"`
	Provider     string          `json:"provider"`
	Model        string          `json:"model"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Usage        any             `json:"usage,omitempty"`
}

// SearchResponse is the reply of GET /api/tavily/search
type SearchResponse struct {
	Results []search.Result `json:"results"`
}

// ClassifyRequest is the body of POST /api/classify
type ClassifyRequest struct {
	Content string `json:"content"`
}

// ClassifyResponse carries the split of a buffer and its live section
type ClassifyResponse struct {
	Reasoning   string           `json:"reasoning"`
	FinalAnswer string           `json:"final_answer"`
	Section     sections.Section `json:"section"`
}

// HistoryResponse lists stored turns, newest first
type HistoryResponse struct {
	Turns []history.Turn `json:"turns"`
}

// Stream event payloads

// SearchResultsEvent announces the results an answer is grounded on
type SearchResultsEvent struct {
	Type           string          `json:"type"`
	SequenceNumber int64           `json:"sequence_number"`
	Results        []search.Result `json:"results"`
}

// DeltaEvent carries one classified slice of model output
type DeltaEvent struct {
	Type           string `json:"type"`
	SequenceNumber int64  `json:"sequence_number"`
	pipeline.Delta
}

// SectionEvent reports a change of the live section indicator
type SectionEvent struct {
	Type           string           `json:"type"`
	SequenceNumber int64            `json:"sequence_number"`
	Section        sections.Section `json:"section"`
}

// CompletedEvent carries the finished, split answer
type CompletedEvent struct {
	Type           string `json:"type"`
	SequenceNumber int64  `json:"sequence_number"`
	AskResponse
}
