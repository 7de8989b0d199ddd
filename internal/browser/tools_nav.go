package browser

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	. "github.com/roelfdiedericks/browserd/internal/logging"
)

// opNavigate drives the resolved tab to a URL and waits for the load to
// settle. Navigation gets its own generous deadline.
func (p *Plane) opNavigate(ctx context.Context, inv *Invocation) (Result, error) {
	url, err := inv.requireString("url")
	if err != nil {
		return nil, err
	}
	if err := ValidateURLSafety(url); err != nil {
		return nil, &ValidationError{Field: "url", Reason: err.Error()}
	}

	tab, page, err := p.pageFor(ctx, inv)
	if err != nil {
		return nil, err
	}

	nav := page.Timeout(navTimeout)
	if err := nav.Navigate(url); err != nil {
		return nil, &ProtocolError{Op: "navigate", Err: err}
	}
	if err := nav.WaitLoad(); err != nil {
		L_debug("browser: load wait ended early", "url", url, "error", err)
	}
	waitSettled(page)

	return p.tabResult(page, tab)
}

func (p *Plane) opBack(ctx context.Context, inv *Invocation) (Result, error) {
	tab, page, err := p.pageFor(ctx, inv)
	if err != nil {
		return nil, err
	}
	if err := page.NavigateBack(); err != nil {
		return nil, &ProtocolError{Op: "back", Err: err}
	}
	waitSettled(page)
	return p.tabResult(page, tab)
}

func (p *Plane) opForward(ctx context.Context, inv *Invocation) (Result, error) {
	tab, page, err := p.pageFor(ctx, inv)
	if err != nil {
		return nil, err
	}
	if err := page.NavigateForward(); err != nil {
		return nil, &ProtocolError{Op: "forward", Err: err}
	}
	waitSettled(page)
	return p.tabResult(page, tab)
}

func (p *Plane) opReload(ctx context.Context, inv *Invocation) (Result, error) {
	tab, page, err := p.pageFor(ctx, inv)
	if err != nil {
		return nil, err
	}
	if err := page.Reload(); err != nil {
		return nil, &ProtocolError{Op: "reload", Err: err}
	}
	if err := page.Timeout(navTimeout).WaitLoad(); err != nil {
		L_debug("browser: load wait ended early after reload", "error", err)
	}
	waitSettled(page)
	return p.tabResult(page, tab)
}

// opWait blocks until a selector is visible, or just sleeps for the
// requested number of seconds.
func (p *Plane) opWait(ctx context.Context, inv *Invocation) (Result, error) {
	tab, page, err := p.pageFor(ctx, inv)
	if err != nil {
		return nil, err
	}

	if selector := inv.argString("selector"); selector != "" {
		el, err := page.Element(selector)
		if err != nil {
			return nil, &TargetNotFoundError{ID: selector}
		}
		if err := el.WaitVisible(); err != nil {
			return nil, &ProtocolError{Op: "wait", Err: err}
		}
		return envelope(tab, Result{"selector": selector, "visible": true}), nil
	}

	seconds := inv.argInt("seconds", 1)
	if seconds < 0 || seconds > 60 {
		return nil, &ValidationError{Field: "seconds", Reason: "must be between 0 and 60"}
	}
	select {
	case <-time.After(time.Duration(seconds) * time.Second):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return envelope(tab, Result{"waited": seconds}), nil
}

// opEvaluate runs a JavaScript expression in the page and returns its
// value by JSON.
func (p *Plane) opEvaluate(ctx context.Context, inv *Invocation) (Result, error) {
	expression, err := inv.requireString("expression")
	if err != nil {
		return nil, err
	}

	tab, page, err := p.pageFor(ctx, inv)
	if err != nil {
		return nil, err
	}

	result, err := page.Eval(expression)
	if err != nil {
		return nil, &ProtocolError{Op: "evaluate", Err: err}
	}
	return envelope(tab, Result{"value": result.Value.Val()}), nil
}

// opResize overrides the viewport dimensions for the resolved tab.
func (p *Plane) opResize(ctx context.Context, inv *Invocation) (Result, error) {
	width, err := inv.requireInt("width")
	if err != nil {
		return nil, err
	}
	height, err := inv.requireInt("height")
	if err != nil {
		return nil, err
	}
	if width < 1 || height < 1 {
		return nil, &ValidationError{Field: "width", Reason: "dimensions must be positive"}
	}

	tab, page, err := p.pageFor(ctx, inv)
	if err != nil {
		return nil, err
	}
	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return nil, &ProtocolError{Op: "resize", Err: err}
	}
	return envelope(tab, Result{"width": width, "height": height}), nil
}

// tabResult re-reads the page's current identity after a navigation-like
// operation, since the cached listing is now stale.
func (p *Plane) tabResult(page *rod.Page, tab Tab) (Result, error) {
	info, err := page.Info()
	if err != nil {
		return envelope(tab, nil), nil
	}
	return Result{"ok": true, "targetId": tab.ID, "url": info.URL, "title": info.Title}, nil
}

// waitSettled gives the page a short window to become quiescent after an
// action. Best effort; timeouts are expected on busy pages.
func waitSettled(page *rod.Page) {
	if err := page.Timeout(3 * time.Second).WaitStable(300 * time.Millisecond); err != nil {
		L_trace("browser: page did not settle", "error", err)
	}
}
