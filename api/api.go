package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	log "github.com/sirupsen/logrus"

	"github.com/tinfoilsh/reasoning-search/config"
	"github.com/tinfoilsh/reasoning-search/history"
	"github.com/tinfoilsh/reasoning-search/llm"
	"github.com/tinfoilsh/reasoning-search/pipeline"
	"github.com/tinfoilsh/reasoning-search/search"
	"github.com/tinfoilsh/reasoning-search/sections"
)

// RecoveryMiddleware catches panics and returns 500 instead of crashing
func RecoveryMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorf("panic recovered: %v", err)
				jsonError(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

func jsonError(w http.ResponseWriter, message string, code int) {
	log.WithField("code", code).Warn(message)
	writeJSON(w, code, map[string]string{"error": message})
}

func jsonErrorResponse(w http.ResponseWriter, code int, body map[string]any) {
	log.WithField("code", code).Warn("error response")
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func parseRequestBody(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse request: %w", err)
	}
	return nil
}

// convertMessages converts API messages to pipeline messages
func convertMessages(msgs []Message) []pipeline.Message {
	result := make([]pipeline.Message, len(msgs))
	for i, msg := range msgs {
		result[i] = pipeline.Message{Role: msg.Role, Content: msg.Content}
	}
	return result
}

// bearerToken returns the token of an "Authorization: Bearer" header
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// callerKey returns the API key supplied with the request, or "" when
// caller keys are disabled. An explicit key wins over the bearer header.
func (s *Server) callerKey(r *http.Request, explicit string) string {
	if !s.Cfg.AllowRequestKeys {
		return ""
	}
	if key := strings.TrimSpace(explicit); key != "" {
		return key
	}
	return bearerToken(r)
}

// upstreamDetails returns the message of an upstream API error
func upstreamDetails(err error) string {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

func newAskResponse(id, query string, results []search.Result, result *pipeline.ResponderResultData) AskResponse {
	if results == nil {
		results = []search.Result{}
	}
	resp := AskResponse{ID: id, Query: query, Results: results}
	if result != nil {
		resp.Content = result.Content
		resp.Reasoning = result.Split.Reasoning
		resp.FinalAnswer = result.Split.FinalAnswer
		resp.Provider = result.Provider
		resp.Model = result.Model
		resp.FinishReason = result.FinishReason
		resp.Usage = result.Usage
	}
	return resp
}

// HandleSearch serves GET /api/tavily/search
func (s *Server) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		jsonError(w, "Query parameter is required", http.StatusBadRequest)
		return
	}

	maxResults := config.DefaultMaxSearchResults
	if v := r.URL.Query().Get("max_results"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxResults = n
		}
	}

	ctx := search.WithAPIKey(r.Context(), s.callerKey(r, r.URL.Query().Get("apiKey")))
	results, err := s.Search.Search(ctx, query, maxResults)
	if err != nil {
		if errors.Is(err, search.ErrMissingAPIKey) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Errorf("%s search failed: %v", s.Search.Name(), err)
		jsonErrorResponse(w, http.StatusInternalServerError, map[string]any{
			"error":   pipeline.MsgSearchFailed,
			"details": err.Error(),
		})
		return
	}

	if results == nil {
		results = []search.Result{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// HandleOpenAIChat serves POST /api/openai/chat, streaming plain text
func (s *Server) HandleOpenAIChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)

	var req ChatRequest
	if err := parseRequestBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.Infof("OpenAI chat request (messages: %d, caller key: %t)", len(req.Messages), req.APIKey != "")

	key := s.callerKey(r, req.APIKey)
	if key == "" && s.Cfg.OpenAIAPIKey == "" {
		jsonError(w, "OpenAI API key is required", http.StatusBadRequest)
		return
	}

	responder, err := s.Clients.Get(llm.ProviderOpenAI)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.streamChat(w, r, responder, pipeline.ResponderParams{
		Model:    req.Model,
		Messages: llm.ConvertMessages(convertMessages(req.Messages)),
	}, key, func(err error) {
		status := pipeline.UpstreamStatus(err)
		if status == 0 {
			jsonErrorResponse(w, http.StatusInternalServerError, map[string]any{
				"error":   "Failed to process request",
				"details": err.Error(),
			})
			return
		}
		jsonErrorResponse(w, status, map[string]any{
			"error":   "OpenAI API request failed",
			"details": upstreamDetails(err),
			"status":  status,
		})
	})
}

// HandleDeepSeekChat serves POST /api/deepseek/chat, streaming plain text
func (s *Server) HandleDeepSeekChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)

	var req ChatRequest
	if err := parseRequestBody(r, &req); err != nil || req.Messages == nil {
		log.WithField("code", http.StatusBadRequest).Warn("invalid messages format")
		http.Error(w, "Invalid messages format", http.StatusBadRequest)
		return
	}

	key := s.callerKey(r, req.APIKey)
	if key == "" && s.Cfg.DeepSeekAPIKey == "" {
		jsonError(w, "DEEPSEEK_API_KEY is not set", http.StatusInternalServerError)
		return
	}

	responder, err := s.Clients.Get(llm.ProviderDeepSeek)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	log.Infof("Sending request to DeepSeek API (messages: %d)", len(req.Messages))

	s.streamChat(w, r, responder, pipeline.ResponderParams{
		Model:    req.Model,
		Messages: llm.WithSystemPrompt(llm.ConvertMessages(convertMessages(req.Messages))),
	}, key, func(err error) {
		status, message := pipeline.ChatErrorStatus(err)
		jsonErrorResponse(w, status, map[string]any{
			"error":   message,
			"details": err.Error(),
		})
	})
}

// streamChat streams a chat completion as plain text. onError answers
// failures that happen before any output was written.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, responder *llm.ChatResponder, params pipeline.ResponderParams, key string, onError func(error)) {
	emitter, err := NewTextEmitter(w)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.RequestTimeout)
	defer cancel()

	var opts []option.RequestOption
	if key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}

	if _, err := responder.Stream(ctx, params, emitter, opts...); err != nil {
		if emitter.Started() {
			log.Errorf("Streaming error: %v", err)
			return
		}
		log.Errorf("%s chat failed: %v", responder.Name(), err)
		onError(err)
	}
}

// HandleAsk serves POST /api/ask: search, answer and split in one call
func (s *Server) HandleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)

	var req AskRequest
	if err := parseRequestBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	pipelineReq := &pipeline.Request{
		ID:          uuid.NewString(),
		Query:       req.Query,
		Messages:    convertMessages(req.History),
		Provider:    req.Provider,
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		MaxResults:  req.MaxResults,
	}
	if s.Cfg.AllowRequestKeys {
		pipelineReq.SearchAPIKey = req.SearchAPIKey
		pipelineReq.ChatAPIKey = s.callerKey(r, req.APIKey)
	}

	if req.Stream {
		s.handleStreamingAsk(w, r, pipelineReq)
	} else {
		s.handleNonStreamingAsk(w, r, pipelineReq)
	}
}

func (s *Server) handleNonStreamingAsk(w http.ResponseWriter, r *http.Request, req *pipeline.Request) {
	log.Infof("Processing query (provider: %s, model: %s)", req.Provider, req.Model)

	pctx, err := s.Pipeline.Execute(r.Context(), req, nil)
	if pctx != nil && pctx.Cancel != nil {
		defer pctx.Cancel()
	}

	if err != nil {
		status, body := pipeline.ErrorResponse(err)
		jsonErrorResponse(w, status, body)
		return
	}

	log.Infof("Answered query %s with %d search results", pctx.RequestID, len(pctx.SearchResults))
	writeJSON(w, http.StatusOK, newAskResponse(pctx.RequestID, pctx.UserQuery, pctx.SearchResults, pctx.ResponderResult))
}

func (s *Server) handleStreamingAsk(w http.ResponseWriter, r *http.Request, req *pipeline.Request) {
	log.Infof("Processing streaming query (provider: %s, model: %s)", req.Provider, req.Model)

	emitter, err := NewSSEEmitter(w, req.ID, strings.TrimSpace(req.Query))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	pctx, err := s.Pipeline.Execute(r.Context(), req, emitter)
	if pctx != nil && pctx.Cancel != nil {
		defer pctx.Cancel()
	}

	if err == nil {
		return
	}

	if !emitter.Started() {
		status, body := pipeline.ErrorResponse(err)
		jsonErrorResponse(w, status, body)
		return
	}

	log.Errorf("Streaming error: %v", err)
	if emitErr := emitter.EmitError(err); emitErr != nil {
		log.Debugf("failed to emit error event: %v", emitErr)
		return
	}
	emitter.EmitDone()
}

// HandleClassify serves POST /api/classify
func (s *Server) HandleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)

	var req ClassifyRequest
	if err := parseRequestBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	split := sections.Classify(req.Content)
	writeJSON(w, http.StatusOK, ClassifyResponse{
		Reasoning:   split.Reasoning,
		FinalAnswer: split.FinalAnswer,
		Section:     sections.Detect(req.Content),
	})
}

// HandleHistory serves GET /api/history and GET /api/history/{id}
func (s *Server) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.History == nil {
		jsonError(w, "history is disabled", http.StatusServiceUnavailable)
		return
	}

	if id := r.PathValue("id"); id != "" {
		turn, err := s.History.Get(r.Context(), id)
		if errors.Is(err, history.ErrNotFound) {
			jsonError(w, "turn not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Errorf("failed to load turn %s: %v", id, err)
			jsonError(w, "failed to load history", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, turn)
		return
	}

	limit := history.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	turns, err := s.History.List(r.Context(), limit)
	if err != nil {
		log.Errorf("failed to list history: %v", err)
		jsonError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Turns: turns})
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) HandleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"service": "reasoning-search", "status": "ok"})
}

// Routes registers every handler on a new mux
func (s *Server) Routes(limiter *RateLimiter) *http.ServeMux {
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		if limiter != nil {
			h = limiter.Middleware(h)
		}
		return RecoveryMiddleware(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/tavily/search", wrap(s.HandleSearch))
	mux.HandleFunc("/api/openai/chat", wrap(s.HandleOpenAIChat))
	mux.HandleFunc("/api/deepseek/chat", wrap(s.HandleDeepSeekChat))
	mux.HandleFunc("/api/ask", wrap(s.HandleAsk))
	mux.HandleFunc("/api/classify", wrap(s.HandleClassify))
	mux.HandleFunc("/api/history", RecoveryMiddleware(s.HandleHistory))
	mux.HandleFunc("/api/history/{id}", RecoveryMiddleware(s.HandleHistory))
	mux.HandleFunc("/health", s.HandleHealth)
	mux.HandleFunc("/", RecoveryMiddleware(s.HandleRoot))
	return mux
}
