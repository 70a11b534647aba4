package pipeline

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/tinfoilsh/reasoning-search/search"
	"github.com/tinfoilsh/reasoning-search/sections"
)

// Message represents a prior chat message carried as conversation history
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the unified internal request representation
type Request struct {
	ID          string // Empty assigns a new UUID
	Query       string
	Messages    []Message // Earlier turns, oldest first
	Provider    string    // Chat backend name; empty selects the default
	Model       string    // Empty selects the backend's default model
	Stream      bool
	Temperature *float64
	MaxTokens   *int64
	MaxResults  int

	// Caller-supplied keys, used only when the server allows them
	SearchAPIKey string
	ChatAPIKey   string
}

// Context is the per-request state shared by the stages. It embeds the
// deadline-bound request context.
type Context struct {
	context.Context
	Cancel context.CancelFunc

	RequestID string
	Request   *Request
	UserQuery string // resolved by ValidateStage

	Responder Responder
	ReqOpts   []option.RequestOption

	SearchResults     []search.Result
	ResponderMessages []openai.ChatCompletionMessageParamUnion
	ResponderResult   *ResponderResultData

	State   StateTracker
	Emitter EventEmitter // nil when the caller wants a single response
}

func NewContext(ctx context.Context, requestID string, req *Request) *Context {
	return &Context{
		Context:   ctx,
		RequestID: requestID,
		Request:   req,
		State:     NewStateTracker(),
	}
}

func (c *Context) IsStreaming() bool {
	return c.Emitter != nil
}

// Delta is one classified slice of streamed model output
type Delta struct {
	// Content is the raw text received from the model
	Content string `json:"content"`

	// Section is the live indicator after this delta
	Section sections.Section `json:"section"`

	// Reasoning and Answer extend the text previously reported for each part
	Reasoning string `json:"reasoning,omitempty"`
	Answer    string `json:"answer,omitempty"`

	// Snapshot is set when earlier deltas were superseded and clients must
	// re-render both parts from it
	Snapshot *sections.SplitResult `json:"snapshot,omitempty"`
}

// EventEmitter receives the progress of a streaming ask. Calls arrive in
// order: search results, then deltas and section changes, then either the
// answer or an error, then done.
type EventEmitter interface {
	EmitSearchResults(results []search.Result) error
	EmitDelta(delta Delta) error
	EmitSection(section sections.Section) error
	EmitAnswer(result *ResponderResultData) error
	EmitError(err error) error
	EmitDone() error
}

// LastUserMessage returns the content of the most recent user message
func LastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && strings.TrimSpace(messages[i].Content) != "" {
			return messages[i].Content
		}
	}
	return ""
}
