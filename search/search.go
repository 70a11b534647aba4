package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	httpMaxIdleConns        = 100
	httpMaxIdleConnsPerHost = 100
	httpIdleConnTimeout     = 90 * time.Second
	httpClientTimeout       = 30 * time.Second
)

// Result represents a single search result
type Result struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score,omitempty"`
	PublishedDate string  `json:"published_date,omitempty"`
	RawContent    string  `json:"raw_content,omitempty"`
}

// Provider defines the interface for search providers
type Provider interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
	Name() string
}

// Config holds API keys for search providers
type Config struct {
	TavilyAPIKey  string
	TavilyBaseURL string
	ExaAPIKey     string

	// AllowRequestKeys permits a keyless Tavily provider whose key arrives
	// per request through WithAPIKey.
	AllowRequestKeys bool
}

type apiKeyContextKey struct{}

// WithAPIKey attaches a caller-supplied API key that overrides the provider's own key
func WithAPIKey(ctx context.Context, key string) context.Context {
	key = strings.TrimSpace(key)
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, apiKeyContextKey{}, key)
}

// APIKeyFromContext returns the key set by WithAPIKey, if any
func APIKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(apiKeyContextKey{}).(string)
	return key
}

func resolveKey(ctx context.Context, configured string) string {
	if key := APIKeyFromContext(ctx); key != "" {
		return key
	}
	return configured
}

// NewProvider creates a search provider based on available API keys
func NewProvider(cfg Config) (Provider, error) {
	httpClient := newHTTPClient()

	switch {
	case cfg.TavilyAPIKey != "" || (cfg.AllowRequestKeys && cfg.ExaAPIKey == ""):
		baseURL := cfg.TavilyBaseURL
		if baseURL == "" {
			baseURL = defaultTavilyBaseURL
		}
		return &TavilyProvider{
			apiKey:     cfg.TavilyAPIKey,
			httpClient: httpClient,
			baseURL:    strings.TrimRight(baseURL, "/"),
		}, nil
	case cfg.ExaAPIKey != "":
		return &ExaProvider{
			apiKey:     cfg.ExaAPIKey,
			httpClient: httpClient,
			baseURL:    defaultExaBaseURL,
		}, nil
	default:
		return nil, fmt.Errorf("no search API key configured (set TAVILY_API_KEY or EXA_API_KEY)")
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        httpMaxIdleConns,
			MaxIdleConnsPerHost: httpMaxIdleConnsPerHost,
			IdleConnTimeout:     httpIdleConnTimeout,
		},
		Timeout: httpClientTimeout,
	}
}
