package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/inquest-ai/orchestrator/internal/httputil"
)

// NewsSearchTool queries a NewsAPI-compatible articles endpoint.
type NewsSearchTool struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	maxRetries int
}

// NewsArticle is one article returned to the reasoning loop.
type NewsArticle struct {
	Title       string `json:"title"`
	Source      string `json:"source"`
	URL         string `json:"url"`
	Description string `json:"description"`
	PublishedAt string `json:"published_at"`
}

func NewNewsSearchTool(baseURL, apiKey string, client *http.Client, maxRetries int) *NewsSearchTool {
	if client == nil {
		client = http.DefaultClient
	}
	return &NewsSearchTool{baseURL: baseURL, apiKey: apiKey, client: client, maxRetries: maxRetries}
}

func (t *NewsSearchTool) Name() string { return "news_search" }

func (t *NewsSearchTool) Description() string {
	return "Search recent news articles. Input: {\"query\": string, \"from\": \"YYYY-MM-DD\" (optional), \"limit\": number (optional, default 5)}"
}

func (t *NewsSearchTool) Invoke(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("news_search requires a non-empty \"query\" argument")
	}
	limit := intArg(args, "limit", 5)

	params := url.Values{}
	params.Set("q", query)
	params.Set("sortBy", "publishedAt")
	params.Set("pageSize", fmt.Sprintf("%d", limit))
	if from, _ := args["from"].(string); from != "" {
		params.Set("from", from)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build news request: %w", err)
	}
	if t.apiKey != "" {
		req.Header.Set("X-Api-Key", t.apiKey)
	}

	resp, err := httputil.DoWithRetry(ctx, t.client, req, t.maxRetries)
	if err != nil {
		return nil, fmt.Errorf("news request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		Status   string `json:"status"`
		Articles []struct {
			Title  string `json:"title"`
			Source struct {
				Name string `json:"name"`
			} `json:"source"`
			URL         string `json:"url"`
			Description string `json:"description"`
			PublishedAt string `json:"publishedAt"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode news response: %w", err)
	}
	if body.Status != "" && body.Status != "ok" {
		return nil, fmt.Errorf("news endpoint returned status %q", body.Status)
	}

	articles := make([]NewsArticle, 0, len(body.Articles))
	for _, a := range body.Articles {
		articles = append(articles, NewsArticle{
			Title:       a.Title,
			Source:      a.Source.Name,
			URL:         a.URL,
			Description: a.Description,
			PublishedAt: a.PublishedAt,
		})
		if len(articles) >= limit {
			break
		}
	}
	return map[string]interface{}{"query": query, "articles": articles}, nil
}
