package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	log "github.com/sirupsen/logrus"

	"github.com/tinfoilsh/reasoning-search/config"
	"github.com/tinfoilsh/reasoning-search/history"
	"github.com/tinfoilsh/reasoning-search/search"
	"github.com/tinfoilsh/reasoning-search/sections"
)

// MaxQueryLength bounds the query forwarded to the search provider
const MaxQueryLength = 400

// Stage represents a single processing step in the pipeline
type Stage interface {
	Name() string
	Execute(ctx *Context) error
}

// MessageBuilder defines the interface for building responder messages
type MessageBuilder interface {
	Build(query string, history []Message, results []search.Result) []openai.ChatCompletionMessageParamUnion
}

// ResponderParams contains parameters for a responder LLM call
type ResponderParams struct {
	Model       string
	Messages    []openai.ChatCompletionMessageParamUnion
	Temperature *float64
	MaxTokens   *int64
}

// ResponderResultData contains the result of a responder call
type ResponderResultData struct {
	ID           string
	Provider     string
	Model        string
	Created      int64
	Content      string
	Split        sections.SplitResult
	FinishReason string
	Usage        any
}

// Responder defines the interface for making responder LLM calls
type Responder interface {
	Name() string
	Complete(ctx context.Context, params ResponderParams, opts ...option.RequestOption) (*ResponderResultData, error)
	Stream(ctx context.Context, params ResponderParams, emitter EventEmitter, opts ...option.RequestOption) (*ResponderResultData, error)
}

// ResponderSource resolves a chat backend by name; empty selects the default
type ResponderSource interface {
	Responder(name string) (Responder, error)
}

// TurnSaver persists completed turns
type TurnSaver interface {
	Save(ctx context.Context, turn *history.Turn) error
}

// ValidateStage validates the incoming request and resolves the chat backend
type ValidateStage struct {
	Responders ResponderSource
}

func (s *ValidateStage) Name() string { return "validate" }

func (s *ValidateStage) Execute(ctx *Context) error {
	if ctx.Request == nil {
		return &ValidationError{Message: "request is nil"}
	}

	query := strings.TrimSpace(ctx.Request.Query)
	if query == "" {
		query = strings.TrimSpace(LastUserMessage(ctx.Request.Messages))
	}
	if query == "" {
		return &ValidationError{Field: "query", Message: "query is required"}
	}
	if len(query) > MaxQueryLength {
		return &ValidationError{Field: "query", Message: "query is too long"}
	}
	ctx.UserQuery = query

	for _, msg := range ctx.Request.Messages {
		switch msg.Role {
		case "system", "user", "assistant":
		default:
			return &ValidationError{Field: "history", Message: "invalid message role: " + msg.Role}
		}
	}

	if ctx.Request.MaxResults < 0 {
		return &ValidationError{Field: "max_results", Message: "max_results must not be negative"}
	}

	responder, err := s.Responders.Responder(ctx.Request.Provider)
	if err != nil {
		return &ValidationError{Field: "provider", Message: err.Error()}
	}
	ctx.Responder = responder

	if key := strings.TrimSpace(ctx.Request.ChatAPIKey); key != "" {
		ctx.ReqOpts = append(ctx.ReqOpts, option.WithAPIKey(key))
	}

	return nil
}

// SearchStage fetches the web results the answer is grounded on
type SearchStage struct {
	Provider search.Provider
}

func (s *SearchStage) Name() string { return "search" }

func (s *SearchStage) Execute(ctx *Context) error {
	ctx.State.Transition(StateSearching, map[string]any{"query": ctx.UserQuery})

	maxResults := ctx.Request.MaxResults
	if maxResults == 0 {
		maxResults = config.DefaultMaxSearchResults
	}

	searchCtx := search.WithAPIKey(ctx.Context, ctx.Request.SearchAPIKey)
	results, err := s.Provider.Search(searchCtx, ctx.UserQuery, maxResults)
	if err != nil {
		return &SearchError{Provider: s.Provider.Name(), Err: err}
	}
	if len(results) == 0 {
		return &NoResultsError{Query: ctx.UserQuery}
	}

	ctx.SearchResults = results
	ctx.State.Transition(StateSearchCompleted, map[string]any{"results": len(results)})
	log.Debugf("[%s] search returned %d results from %s", ctx.RequestID, len(results), s.Provider.Name())

	if ctx.IsStreaming() {
		if err := ctx.Emitter.EmitSearchResults(results); err != nil {
			return err
		}
	}
	return nil
}

// BuildMessagesStage constructs the messages for the responder LLM
type BuildMessagesStage struct {
	Builder MessageBuilder
}

func (s *BuildMessagesStage) Name() string { return "build_messages" }

func (s *BuildMessagesStage) Execute(ctx *Context) error {
	ctx.ResponderMessages = s.Builder.Build(ctx.UserQuery, ctx.Request.Messages, ctx.SearchResults)
	return nil
}

// ResponderStage calls the responder LLM to generate the final response
type ResponderStage struct{}

func (s *ResponderStage) Name() string { return "responder" }

func (s *ResponderStage) Execute(ctx *Context) error {
	ctx.State.Transition(StateResponding, map[string]any{"provider": ctx.Responder.Name()})

	params := ResponderParams{
		Model:       ctx.Request.Model,
		Messages:    ctx.ResponderMessages,
		Temperature: ctx.Request.Temperature,
		MaxTokens:   ctx.Request.MaxTokens,
	}

	var result *ResponderResultData
	var err error
	if ctx.IsStreaming() {
		ctx.State.Transition(StateStreaming, nil)
		result, err = ctx.Responder.Stream(ctx.Context, params, ctx.Emitter, ctx.ReqOpts...)
	} else {
		result, err = ctx.Responder.Complete(ctx.Context, params, ctx.ReqOpts...)
	}
	// A stream cut off mid-way still leaves its partial result
	ctx.ResponderResult = result
	if err != nil {
		return &ResponderError{Err: err}
	}

	ctx.State.Transition(StateCompleted, nil)
	return nil
}

// RecordStage stores the finished turn. A nil Store disables it and save
// failures are logged without failing the request.
type RecordStage struct {
	Store TurnSaver
}

func (s *RecordStage) Name() string { return "record" }

func (s *RecordStage) Execute(ctx *Context) error {
	if s.Store == nil || ctx.ResponderResult == nil {
		return nil
	}

	result := ctx.ResponderResult
	turn := &history.Turn{
		ID:          ctx.RequestID,
		Query:       ctx.UserQuery,
		Results:     ctx.SearchResults,
		Content:     result.Content,
		Reasoning:   result.Split.Reasoning,
		FinalAnswer: result.Split.FinalAnswer,
		Provider:    result.Provider,
		Model:       result.Model,
		CreatedAt:   time.Now().UTC(),
	}

	// The request context may already be done once the stream has ended
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx.Context), 5*time.Second)
	defer cancel()
	if err := s.Store.Save(saveCtx, turn); err != nil {
		log.Warnf("[%s] failed to record turn: %v", ctx.RequestID, err)
	}
	return nil
}
