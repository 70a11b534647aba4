package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/tinfoilsh/reasoning-search/config"
	"github.com/tinfoilsh/reasoning-search/llm"
	"github.com/tinfoilsh/reasoning-search/pipeline"
	"github.com/tinfoilsh/reasoning-search/search"
)

// MockPipeline implements Runner for testing
type MockPipeline struct {
	ExecuteFunc func(ctx context.Context, req *pipeline.Request, emitter pipeline.EventEmitter, reqOpts ...option.RequestOption) (*pipeline.Context, error)
	Request     *pipeline.Request
}

func (m *MockPipeline) Execute(ctx context.Context, req *pipeline.Request, emitter pipeline.EventEmitter, reqOpts ...option.RequestOption) (*pipeline.Context, error) {
	m.Request = req
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, req, emitter, reqOpts...)
	}
	return pipeline.NewContext(ctx, req.ID, req), nil
}

// MockSearchProvider implements search.Provider for testing
type MockSearchProvider struct {
	SearchFunc func(ctx context.Context, query string, maxResults int) ([]search.Result, error)
	APIKey     string
	MaxResults int
}

func (m *MockSearchProvider) Name() string { return "Mock" }

func (m *MockSearchProvider) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	m.APIKey = search.APIKeyFromContext(ctx)
	m.MaxResults = maxResults
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, query, maxResults)
	}
	return []search.Result{{Title: "Go", URL: "https://go.dev", Content: "The Go language"}}, nil
}

// chatUpstream records requests made to a fake chat completions API
type chatUpstream struct {
	mu       sync.Mutex
	requests []map[string]any
	auth     []string
}

func (u *chatUpstream) record(r *http.Request) {
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests = append(u.requests, body)
	u.auth = append(u.auth, r.Header.Get("Authorization"))
}

func (u *chatUpstream) last() (map[string]any, string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.requests) == 0 {
		return nil, ""
	}
	return u.requests[len(u.requests)-1], u.auth[len(u.auth)-1]
}

// streamingUpstream serves a chat stream of pieces
func streamingUpstream(t *testing.T, u *chatUpstream, pieces ...string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.record(r)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range pieces {
			content, _ := json.Marshal(piece)
			fmt.Fprintf(w, `data: {"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":%s},"finish_reason":null}]}`+"\n\n", content)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(server.Close)
	return server
}

// failingUpstream answers every chat request with status and message
func failingUpstream(t *testing.T, u *chatUpstream, status int, message string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.record(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":{"message":%q,"type":"invalid_request_error"}}`, message)
	}))
	t.Cleanup(server.Close)
	return server
}

// newTestClients registers openai and deepseek backends pointed at upstream
func newTestClients(upstream *httptest.Server) *llm.Clients {
	clients := llm.NewClients(llm.ProviderOpenAI)
	for _, backend := range []struct {
		name      string
		model     string
		maxTokens int64
	}{
		{llm.ProviderOpenAI, "gpt-3.5-turbo", config.OpenAIMaxTokens},
		{llm.ProviderDeepSeek, "deepseek-chat", config.DeepSeekMaxTokens},
	} {
		opts := []option.RequestOption{option.WithMaxRetries(0), option.WithAPIKey("server-key")}
		if upstream != nil {
			opts = append(opts, option.WithBaseURL(upstream.URL))
		}
		client := openai.NewClient(opts...)
		clients.Register(llm.NewChatResponder(backend.name, &client.Chat.Completions,
			backend.model, config.ChatTemperature, backend.maxTokens))
	}
	return clients
}

func newTestServer() *Server {
	return &Server{
		Cfg:      &config.Config{AllowRequestKeys: true},
		Pipeline: &MockPipeline{},
		Clients:  newTestClients(nil),
		Search:   &MockSearchProvider{},
	}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", w.Body.String(), err)
	}
	return body
}

// sseEvent is one named frame of an SSE stream
type sseEvent struct {
	name string
	data map[string]any
}

// parseSSE decodes the named events of body, skipping the [DONE] frame
func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, frame := range strings.Split(body, "\n\n") {
		var ev sseEvent
		var data string
		for _, line := range strings.Split(frame, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
		if ev.name == "" {
			continue
		}
		if err := json.Unmarshal([]byte(data), &ev.data); err != nil {
			t.Fatalf("failed to decode %s event %q: %v", ev.name, data, err)
		}
		events = append(events, ev)
	}
	return events
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
