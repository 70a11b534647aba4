package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/tinfoilsh/reasoning-search/pipeline"
	"github.com/tinfoilsh/reasoning-search/search"
	"github.com/tinfoilsh/reasoning-search/sections"
)

// MockEventEmitter implements pipeline.EventEmitter for testing
type MockEventEmitter struct {
	mu            sync.Mutex
	SearchResults [][]search.Result
	Deltas        []pipeline.Delta
	Sections      []sections.Section
	Answers       []*pipeline.ResponderResultData
	Errors        []error
	DoneCalled    bool
	EmitDeltaErr  error
}

func (m *MockEventEmitter) EmitSearchResults(results []search.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchResults = append(m.SearchResults, results)
	return nil
}

func (m *MockEventEmitter) EmitDelta(delta pipeline.Delta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EmitDeltaErr != nil {
		return m.EmitDeltaErr
	}
	m.Deltas = append(m.Deltas, delta)
	return nil
}

func (m *MockEventEmitter) EmitSection(section sections.Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sections = append(m.Sections, section)
	return nil
}

func (m *MockEventEmitter) EmitAnswer(result *pipeline.ResponderResultData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Answers = append(m.Answers, result)
	return nil
}

func (m *MockEventEmitter) EmitError(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, err)
	return nil
}

func (m *MockEventEmitter) EmitDone() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DoneCalled = true
	return nil
}

func (m *MockEventEmitter) joined() (content, reasoning, answer string) {
	var c, r, a strings.Builder
	for _, d := range m.Deltas {
		c.WriteString(d.Content)
		r.WriteString(d.Reasoning)
		a.WriteString(d.Answer)
	}
	return c.String(), r.String(), a.String()
}

// capturedRequest holds the decoded body of the last chat request
type capturedRequest struct {
	mu   sync.Mutex
	body map[string]any
	auth string
}

func (c *capturedRequest) record(r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auth = r.Header.Get("Authorization")
	json.NewDecoder(r.Body).Decode(&c.body)
}

// newChatServer serves chat completions from handler and returns a client pointed at it
func newChatServer(t *testing.T, handler http.HandlerFunc) ChatClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := openai.NewClient(
		option.WithAPIKey("test-key"),
		option.WithBaseURL(server.URL),
		option.WithMaxRetries(0),
	)
	return &client.Chat.Completions
}

// sseHandler streams one chunk per piece, then [DONE]
func sseHandler(captured *capturedRequest, pieces ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			captured.record(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i, piece := range pieces {
			content, _ := json.Marshal(piece)
			fmt.Fprintf(w, `data: {"id":"chatcmpl-1","object":"chat.completion.chunk","created":1700000000,"model":"gpt-test","choices":[{"index":0,"delta":{"content":%s},"finish_reason":null}]}`+"\n\n", content)
			if i == len(pieces)-1 {
				fmt.Fprint(w, `data: {"id":"chatcmpl-1","object":"chat.completion.chunk","created":1700000000,"model":"gpt-test","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`+"\n\n")
			}
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func errorHandler(status int, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":{"message":%q,"type":"invalid_request_error"}}`, message)
	}
}

func userMessages(text string) []openai.ChatCompletionMessageParamUnion {
	return []openai.ChatCompletionMessageParamUnion{openai.UserMessage(text)}
}

func optionWithAPIKey(key string) option.RequestOption {
	return option.WithAPIKey(key)
}
