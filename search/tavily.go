package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tinfoilsh/reasoning-search/config"
)

const defaultTavilyBaseURL = "https://api.tavily.com"

// ErrMissingAPIKey is returned when neither the provider nor the request carries a key
var ErrMissingAPIKey = errors.New("search API key is required")

// TavilyProvider handles web searches using the Tavily API
type TavilyProvider struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

func (p *TavilyProvider) Name() string {
	return "Tavily"
}

// tavilyRequest represents the Tavily API request body
type tavilyRequest struct {
	Query          string   `json:"query"`
	SearchDepth    string   `json:"search_depth"`
	IncludeAnswer  bool     `json:"include_answer"`
	IncludeDomains []string `json:"include_domains"`
	ExcludeDomains []string `json:"exclude_domains"`
	MaxResults     int      `json:"max_results"`
}

// tavilyResponse represents the Tavily API response structure
type tavilyResponse struct {
	Answer  string `json:"answer,omitempty"`
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"published_date"`
		RawContent    string  `json:"raw_content"`
	} `json:"results"`
}

type tavilyError struct {
	Detail struct {
		Error string `json:"error"`
	} `json:"detail"`
}

// Search performs a Tavily web search
func (p *TavilyProvider) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	apiKey := resolveKey(ctx, p.apiKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if maxResults <= 0 {
		maxResults = config.DefaultMaxSearchResults
	}

	reqBody := tavilyRequest{
		Query:          query,
		SearchDepth:    config.SearchDepth,
		IncludeAnswer:  true,
		IncludeDomains: []string{},
		ExcludeDomains: []string{},
		MaxResults:     maxResults,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/search", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr tavilyError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Detail.Error != "" {
			return nil, fmt.Errorf("tavily API returned status %d: %s", resp.StatusCode, apiErr.Detail.Error)
		}
		return nil, fmt.Errorf("tavily API returned status %d", resp.StatusCode)
	}

	var data tavilyResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]Result, 0, len(data.Results))
	for _, item := range data.Results {
		results = append(results, Result{
			Title:         item.Title,
			URL:           item.URL,
			Content:       item.Content,
			Score:         item.Score,
			PublishedDate: item.PublishedDate,
			RawContent:    item.RawContent,
		})
	}

	return results, nil
}
