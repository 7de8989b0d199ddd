// Package webtool implements browserless web access: readable content
// extraction over plain HTTP and web search. When a site blocks plain
// HTTP, the fetcher falls back to a full browser render.
package webtool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	. "github.com/roelfdiedericks/browserd/internal/logging"
)

const defaultMaxLength = 10000

// Renderer renders a URL through a real browser and returns its readable
// text. Used as a fallback for sites that block plain HTTP clients.
type Renderer interface {
	Render(ctx context.Context, url string, maxLen int) (string, error)
}

// Fetcher fetches and extracts readable content from URLs.
type Fetcher struct {
	client   *http.Client
	renderer Renderer
}

// NewFetcher creates a fetcher. renderer may be nil, in which case
// blocked sites fail instead of falling back.
func NewFetcher(renderer Renderer) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		renderer: renderer,
	}
}

// Fetch retrieves a URL and extracts its readable text, truncated to
// maxLen. Bot-protected sites are retried through the browser renderer.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxLen int) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", fmt.Errorf("URL must use http or https scheme")
	}
	if maxLen <= 0 {
		maxLen = defaultMaxLength
	}

	L_debug("webtool: fetching", "url", rawURL, "maxLength", maxLen)

	content, err := f.fetchPlain(ctx, rawURL, parsedURL, maxLen)
	if err == nil {
		return content, nil
	}
	if f.renderer == nil || !shouldRender(err) {
		return "", err
	}

	L_info("webtool: plain fetch blocked, rendering via browser", "url", rawURL, "error", err)
	return f.renderer.Render(ctx, rawURL, maxLen)
}

// blockedError marks an HTTP failure that looks like bot protection
// rather than a genuinely broken URL.
type blockedError struct {
	status string
}

func (e *blockedError) Error() string {
	return fmt.Sprintf("HTTP error: %s", e.status)
}

func shouldRender(err error) bool {
	_, blocked := err.(*blockedError)
	return blocked
}

func (f *Fetcher) fetchPlain(ctx context.Context, rawURL string, parsedURL *url.URL, maxLen int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	// Use a real browser User-Agent to avoid bot detection
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	resp, err := f.client.Do(req)
	if err != nil {
		L_error("webtool: request failed", "error", err, "url", rawURL)
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		L_warn("webtool: bot-protection status", "status", resp.StatusCode, "url", rawURL)
		return "", &blockedError{status: resp.Status}
	default:
		L_warn("webtool: non-200 status", "status", resp.StatusCode, "url", rawURL)
		return "", fmt.Errorf("HTTP error: %s", resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml") {
		body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxLen)))
		if err != nil {
			return "", fmt.Errorf("failed to read response: %w", err)
		}
		L_debug("webtool: non-HTML content", "contentType", contentType, "length", len(body))
		return string(body), nil
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		L_error("webtool: readability parse failed", "error", err, "url", rawURL)
		return "", fmt.Errorf("failed to parse page: %w", err)
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Title: %s\n", article.Title))
	if article.Byline != "" {
		result.WriteString(fmt.Sprintf("Author: %s\n", article.Byline))
	}
	if article.SiteName != "" {
		result.WriteString(fmt.Sprintf("Site: %s\n", article.SiteName))
	}
	result.WriteString(fmt.Sprintf("URL: %s\n\n---\n\n", rawURL))
	result.WriteString(article.TextContent)

	content := result.String()
	if len(content) > maxLen {
		content = content[:maxLen] + "\n\n[Content truncated...]"
	}

	L_debug("webtool: fetch completed", "url", rawURL, "contentLength", len(content), "title", article.Title)
	return content, nil
}
