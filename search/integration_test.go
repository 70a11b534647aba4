//go:build integration

package search

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestTavilyProvider_Integration_RealSearch(t *testing.T) {
	apiKey := os.Getenv("TAVILY_API_KEY")
	if apiKey == "" {
		t.Skip("TAVILY_API_KEY not set, skipping integration test")
	}

	provider, err := NewProvider(Config{TavilyAPIKey: apiKey})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := provider.Search(ctx, "why is the sky blue", 3)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if len(results) > 3 {
		t.Errorf("expected at most 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.URL == "" {
			t.Errorf("result %d: URL should not be empty", i)
		}
	}
}

func TestExaProvider_Integration_RealSearch(t *testing.T) {
	apiKey := os.Getenv("EXA_API_KEY")
	if apiKey == "" {
		t.Skip("EXA_API_KEY not set, skipping integration test")
	}

	provider, err := NewProvider(Config{ExaAPIKey: apiKey})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := provider.Search(ctx, "golang testing best practices", 3)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) == 0 {
		t.Error("expected at least one result")
	}
	for i, r := range results {
		if r.URL == "" {
			t.Errorf("result %d: URL should not be empty", i)
		}
		if r.Title == "" {
			t.Errorf("result %d: Title should not be empty", i)
		}
	}
}
