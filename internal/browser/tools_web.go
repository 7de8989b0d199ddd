package browser

import (
	"context"
	"errors"
)

var errWebToolsUnconfigured = errors.New("web tools not configured")

// opWebFetch extracts readable content from a URL over plain HTTP,
// without involving a tab. Falls back to the browser internally when
// the fetcher decides a site needs rendering.
func (p *Plane) opWebFetch(ctx context.Context, inv *Invocation) (Result, error) {
	if p.fetcher == nil {
		return nil, errWebToolsUnconfigured
	}
	url, err := inv.requireString("url")
	if err != nil {
		return nil, err
	}
	if err := ValidateURLSafety(url); err != nil {
		return nil, &ValidationError{Field: "url", Reason: err.Error()}
	}

	maxLength := inv.argInt("maxLength", defaultSnapshotLength)
	content, err := p.fetcher.Fetch(ctx, url, maxLength)
	if err != nil {
		return nil, err
	}
	return Result{"ok": true, "url": url, "content": content}, nil
}

// opWebSearch runs a web search query through the configured provider.
func (p *Plane) opWebSearch(ctx context.Context, inv *Invocation) (Result, error) {
	if p.searcher == nil {
		return nil, errWebToolsUnconfigured
	}
	query, err := inv.requireString("query")
	if err != nil {
		return nil, err
	}

	count := inv.argInt("count", 5)
	if count < 1 || count > 20 {
		return nil, &ValidationError{Field: "count", Reason: "must be between 1 and 20"}
	}
	results, err := p.searcher.Search(ctx, query, count)
	if err != nil {
		return nil, err
	}
	return Result{"ok": true, "query": query, "results": results}, nil
}
