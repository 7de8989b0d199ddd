package browser

import (
	"context"

	"github.com/go-rod/stealth"

	. "github.com/roelfdiedericks/browserd/internal/logging"
)

// opTabs lists open page targets.
func (p *Plane) opTabs(ctx context.Context, inv *Invocation) (Result, error) {
	if err := p.ensure(ctx); err != nil {
		return nil, err
	}
	tabs, err := p.raw.ListTabs(ctx)
	if err != nil {
		return nil, err
	}

	list := make([]Result, 0, len(tabs))
	for _, tab := range tabs {
		list = append(list, Result{
			"id":    tab.ID,
			"title": tab.Title,
			"url":   tab.URL,
		})
	}
	return Result{"ok": true, "tabs": list, "count": len(list)}, nil
}

// opTabNew opens a tab, optionally at a URL, and returns its identity.
func (p *Plane) opTabNew(ctx context.Context, inv *Invocation) (Result, error) {
	url := inv.argString("url")
	if url != "" {
		if err := ValidateURLSafety(url); err != nil {
			return nil, &ValidationError{Field: "url", Reason: err.Error()}
		}
	}

	if err := p.ensure(ctx); err != nil {
		return nil, err
	}

	if p.cfg.Stealth {
		tab, err := p.stealthTab(ctx, url)
		if err != nil {
			return nil, err
		}
		return envelope(tab, Result{"stealth": true}), nil
	}

	tab, err := p.bridge.CreateTab(ctx, url)
	if err != nil {
		return nil, err
	}
	return envelope(tab, Result{"title": tab.Title}), nil
}

// stealthTab opens a tab with the stealth evasions injected before any
// page script runs. Used when the profile has stealth enabled.
func (p *Plane) stealthTab(ctx context.Context, url string) (Tab, error) {
	browser, err := p.bridge.Browser(ctx)
	if err != nil {
		return Tab{}, err
	}
	page, err := stealth.Page(browser)
	if err != nil {
		return Tab{}, &ProtocolError{Op: "create stealth tab", Err: err}
	}
	p.recorder.ObservePage(page)

	if url != "" {
		nav := page.Context(ctx).Timeout(navTimeout)
		if err := nav.Navigate(url); err != nil {
			return Tab{}, &ProtocolError{Op: "create stealth tab", Err: err}
		}
		if err := nav.WaitLoad(); err != nil {
			L_debug("browser: load wait ended early on stealth tab", "url", url, "error", err)
		}
	}
	return Tab{ID: string(page.TargetID), URL: url, Type: "page"}, nil
}

// opTabFocus brings the resolved tab to the foreground.
func (p *Plane) opTabFocus(ctx context.Context, inv *Invocation) (Result, error) {
	tab, err := p.resolveTab(ctx, inv)
	if err != nil {
		return nil, err
	}
	if err := p.bridge.ActivateTab(ctx, tab.ID); err != nil {
		return nil, err
	}
	return envelope(tab, nil), nil
}

// opTabClose closes the resolved tab and drops its recorded state.
func (p *Plane) opTabClose(ctx context.Context, inv *Invocation) (Result, error) {
	tab, err := p.resolveTab(ctx, inv)
	if err != nil {
		return nil, err
	}
	if err := p.bridge.CloseTab(ctx, tab.ID); err != nil {
		return nil, err
	}
	p.dropElements(tab.ID)
	p.dropTrace(tab.ID)
	return Result{"ok": true, "targetId": tab.ID, "closed": true}, nil
}
