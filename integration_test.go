//go:build integration

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/tinfoilsh/reasoning-search/api"
	"github.com/tinfoilsh/reasoning-search/config"
)

func setupIntegrationServer(t *testing.T) *api.Server {
	t.Helper()

	if os.Getenv("TAVILY_API_KEY") == "" && os.Getenv("EXA_API_KEY") == "" {
		t.Skip("TAVILY_API_KEY or EXA_API_KEY not set, skipping integration test")
	}
	if os.Getenv("OPENAI_API_KEY") == "" && os.Getenv("DEEPSEEK_API_KEY") == "" {
		t.Skip("OPENAI_API_KEY or DEEPSEEK_API_KEY not set, skipping integration test")
	}

	cfg := config.Load()
	if cfg.OpenAIAPIKey == "" {
		cfg.AskProvider = "deepseek"
	}
	cfg.HistoryDBPath = ":memory:"

	a, err := newApp(cfg)
	if err != nil {
		t.Fatalf("Failed to wire app: %v", err)
	}
	t.Cleanup(a.Close)

	return &api.Server{
		Cfg:      cfg,
		Pipeline: a.pipeline,
		Clients:  a.clients,
		Search:   a.searcher,
		History:  a.store,
	}
}

func serveWithTimeout(t *testing.T, handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(w, req)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Minute):
		t.Fatal("request timed out")
	}
	return w
}

func TestIntegration_HealthEndpoint(t *testing.T) {
	srv := &api.Server{}

	w := httptest.NewRecorder()
	srv.HandleHealth(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	body, _ := io.ReadAll(w.Body)
	var resp map[string]string
	json.Unmarshal(body, &resp)

	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestIntegration_Ask(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	srv := setupIntegrationServer(t)
	mux := srv.Routes(nil)

	bodyBytes, _ := json.Marshal(map[string]any{"query": "Why is the sky blue?", "stream": false})
	req := httptest.NewRequest("POST", "/api/ask", bytes.NewReader(bodyBytes))
	req.Header.Set("Content-Type", "application/json")

	w := serveWithTimeout(t, mux, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp api.AskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Results) == 0 {
		t.Error("expected search results")
	}
	if resp.FinalAnswer == "" {
		t.Error("expected a final answer")
	}
	if resp.Reasoning == "" {
		t.Logf("model skipped the reasoning section: %q", resp.Content)
	}

	w = serveWithTimeout(t, mux, httptest.NewRequest("GET", "/api/history/"+resp.ID, nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected the turn to be recorded, got %d", w.Code)
	}
}

func TestIntegration_AskStreaming(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	srv := setupIntegrationServer(t)

	bodyBytes, _ := json.Marshal(map[string]any{"query": "What causes ocean tides?", "stream": true})
	req := httptest.NewRequest("POST", "/api/ask", bytes.NewReader(bodyBytes))

	w := serveWithTimeout(t, srv.Routes(nil), req)
	body := w.Body.String()

	for _, event := range []string{"event: " + api.EventSearchResults, "event: " + api.EventAnswerDelta, "event: " + api.EventAnswerCompleted} {
		if !strings.Contains(body, event) {
			t.Errorf("expected %q in stream", event)
		}
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Error("expected stream to end with [DONE]")
	}
}

func TestIntegration_Search(t *testing.T) {
	srv := setupIntegrationServer(t)

	w := serveWithTimeout(t, srv.Routes(nil), httptest.NewRequest("GET", "/api/tavily/search?query=golang", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp api.SearchResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) == 0 {
		t.Error("expected results")
	}
}
