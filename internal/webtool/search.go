package webtool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	. "github.com/roelfdiedericks/browserd/internal/logging"
)

const braveSearchURL = "https://api.search.brave.com/res/v1/web/search"

// Searcher queries the Brave Search API.
type Searcher struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewSearcher creates a searcher with the given API key.
func NewSearcher(apiKey string) *Searcher {
	return &Searcher{
		apiKey:  apiKey,
		baseURL: braveSearchURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// braveResponse is the subset of the Brave Search API response we use.
type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search runs a query and formats the top results as numbered text.
func (s *Searcher) Search(ctx context.Context, query string, count int) (string, error) {
	if s.apiKey == "" {
		return "", fmt.Errorf("Brave API key not configured")
	}
	if count <= 0 {
		count = 5
	}
	if count > 20 {
		count = 20
	}

	L_debug("webtool: searching", "query", query, "count", count)

	reqURL, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid search endpoint: %w", err)
	}
	q := reqURL.Query()
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", count))
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("X-Subscription-Token", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		L_error("webtool: search request failed", "error", err)
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		L_error("webtool: search API error", "status", resp.StatusCode, "body", string(body))
		return "", fmt.Errorf("search API error: %s", resp.Status)
	}

	var parsed braveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	var results []string
	for i, result := range parsed.Web.Results {
		if i >= count {
			break
		}
		results = append(results, fmt.Sprintf(
			"%d. %s\n   URL: %s\n   %s",
			i+1, result.Title, result.URL, result.Description,
		))
	}
	if len(results) == 0 {
		return "No results found.", nil
	}

	L_debug("webtool: search completed", "results", len(results))
	return strings.Join(results, "\n\n"), nil
}
