package browser

import (
	"context"

	. "github.com/roelfdiedericks/browserd/internal/logging"
)

// Render loads a URL in a throwaway tab and returns its readable text.
// This is the browser-backed fallback for sites that block plain HTTP
// fetching; the tab is closed when extraction finishes.
func (p *Plane) Render(ctx context.Context, url string, maxLen int) (string, error) {
	if err := ValidateURLSafety(url); err != nil {
		return "", err
	}
	if err := p.ensure(ctx); err != nil {
		return "", err
	}

	tab, err := p.bridge.CreateTab(ctx, url)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := p.bridge.CloseTab(context.Background(), tab.ID); err != nil {
			L_debug("browser: closing render tab failed", "id", tab.ID, "error", err)
		}
	}()

	page, err := p.bridge.PageForTab(ctx, tab.ID)
	if err != nil {
		return "", err
	}
	nav := page.Timeout(navTimeout)
	if err := nav.WaitLoad(); err != nil {
		L_debug("browser: load wait ended early during render", "url", url, "error", err)
	}
	waitSettled(page)

	info, err := page.Info()
	if err != nil {
		return "", &ProtocolError{Op: "render", Err: err}
	}

	content, err := snapshotText(page.Timeout(p.timeout), info.URL, info.Title)
	if err != nil {
		return "", err
	}
	if maxLen > 0 && len(content) > maxLen {
		content = content[:maxLen] + "\n\n[Content truncated...]"
	}
	return content, nil
}
