package tools

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/inquest-ai/orchestrator/internal/httputil"
)

// FinancialDataTool fetches daily quotes from a Stooq-style CSV endpoint.
type FinancialDataTool struct {
	baseURL    string
	client     *http.Client
	maxRetries int
}

// Quote is a single instrument snapshot.
type Quote struct {
	Symbol string  `json:"symbol"`
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

func NewFinancialDataTool(baseURL string, client *http.Client, maxRetries int) *FinancialDataTool {
	if client == nil {
		client = http.DefaultClient
	}
	return &FinancialDataTool{baseURL: baseURL, client: client, maxRetries: maxRetries}
}

func (t *FinancialDataTool) Name() string { return "financial_data" }

func (t *FinancialDataTool) Description() string {
	return "Fetch a daily market quote for a ticker. Input: {\"symbol\": string, e.g. \"aapl.us\"}"
}

func (t *FinancialDataTool) Invoke(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	symbol, _ := args["symbol"].(string)
	symbol = strings.ToLower(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("financial_data requires a non-empty \"symbol\" argument")
	}

	params := url.Values{}
	params.Set("s", symbol)
	params.Set("f", "sd2ohlcv")
	params.Set("h", "")
	params.Set("e", "csv")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build quote request: %w", err)
	}

	resp, err := httputil.DoWithRetry(ctx, t.client, req, t.maxRetries)
	if err != nil {
		return nil, fmt.Errorf("quote request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote endpoint returned status %d", resp.StatusCode)
	}

	records, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode quote csv: %w", err)
	}
	// Header row plus at least one data row expected.
	if len(records) < 2 || len(records[1]) < 7 {
		return nil, fmt.Errorf("no quote data for symbol %q", symbol)
	}

	row := records[1]
	if strings.EqualFold(row[1], "N/D") {
		return nil, fmt.Errorf("no quote data for symbol %q", symbol)
	}
	quote := Quote{
		Symbol: row[0],
		Date:   row[1],
		Open:   parsePrice(row[2]),
		High:   parsePrice(row[3]),
		Low:    parsePrice(row[4]),
		Close:  parsePrice(row[5]),
		Volume: parsePrice(row[6]),
	}
	return quote, nil
}

func parsePrice(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
