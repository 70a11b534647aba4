package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tinfoilsh/reasoning-search/config"
)

const defaultExaBaseURL = "https://api.exa.ai"

// ExaProvider handles web searches using Exa AI
type ExaProvider struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

func (p *ExaProvider) Name() string {
	return "Exa"
}

// exaRequest represents the Exa API request body
type exaRequest struct {
	Query      string       `json:"query"`
	Type       string       `json:"type"`
	NumResults int          `json:"numResults"`
	Contents   *exaContents `json:"contents,omitempty"`
}

type exaContents struct {
	Text *exaText `json:"text,omitempty"`
}

type exaText struct {
	MaxCharacters int `json:"maxCharacters"`
}

type exaResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Text          string  `json:"text"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"publishedDate"`
}

// exaResponse represents the Exa API response structure
type exaResponse struct {
	Results []exaResult `json:"results"`
	Error   string      `json:"error,omitempty"`
}

// Search performs an Exa web search
func (p *ExaProvider) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	apiKey := resolveKey(ctx, p.apiKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if maxResults <= 0 {
		maxResults = config.DefaultMaxSearchResults
	}

	reqBody := exaRequest{
		Query:      query,
		Type:       "fast",
		NumResults: maxResults,
		Contents: &exaContents{
			Text: &exaText{MaxCharacters: config.MaxSearchContentLength * 2},
		},
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
	req.Header.Set("x-api-key", apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exa API returned status %d", resp.StatusCode)
	}

	var data exaResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if data.Error != "" {
		return nil, fmt.Errorf("exa API error: %s", data.Error)
	}

	results := make([]Result, 0, len(data.Results))
	for _, item := range data.Results {
		// Truncate content to reasonable length for context
		content := item.Text
		if len(content) > config.MaxSearchContentLength {
			content = content[:config.MaxSearchContentLength] + "..."
		}
		results = append(results, Result{
			Title:         item.Title,
			URL:           item.URL,
			Content:       content,
			Score:         item.Score,
			PublishedDate: item.PublishedDate,
		})
	}

	return results, nil
}
