package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/inquest-ai/orchestrator/internal/httputil"
)

// WebSearchTool queries a SearxNG-compatible search endpoint.
type WebSearchTool struct {
	baseURL    string
	client     *http.Client
	maxRetries int
}

// SearchResult is one hit returned to the reasoning loop.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func NewWebSearchTool(baseURL string, client *http.Client, maxRetries int) *WebSearchTool {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebSearchTool{baseURL: baseURL, client: client, maxRetries: maxRetries}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web. Input: {\"query\": string, \"limit\": number (optional, default 5)}"
}

func (t *WebSearchTool) Invoke(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("web_search requires a non-empty \"query\" argument")
	}
	limit := intArg(args, "limit", 5)

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	resp, err := httputil.DoWithRetry(ctx, t.client, req, t.maxRetries)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var body struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]SearchResult, 0, limit)
	for _, r := range body.Results {
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
		if len(results) >= limit {
			break
		}
	}
	return map[string]interface{}{"query": query, "results": results}, nil
}

// intArg reads an integer argument that JSON decoding may have produced as
// float64 or that a caller may have supplied as int.
func intArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return def
}
