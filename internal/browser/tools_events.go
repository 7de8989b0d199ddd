package browser

import (
	"context"
)

// opConsole returns the recorded console history for the resolved tab.
// Recording starts when the tab is first observed, so a tab that was
// never touched reports an empty history.
func (p *Plane) opConsole(ctx context.Context, inv *Invocation) (Result, error) {
	tab, err := p.observedTab(ctx, inv)
	if err != nil {
		return nil, err
	}

	entries := p.recorder.Console(tab.ID)
	list := make([]Result, 0, len(entries))
	for _, e := range entries {
		item := Result{
			"type":      e.Type,
			"text":      e.Text,
			"timestamp": e.Timestamp,
		}
		if e.Location != "" {
			item["location"] = e.Location
		}
		list = append(list, item)
	}
	return envelope(tab, Result{"messages": list, "count": len(list)}), nil
}

func (p *Plane) opConsoleClear(ctx context.Context, inv *Invocation) (Result, error) {
	tab, err := p.resolveTab(ctx, inv)
	if err != nil {
		return nil, err
	}
	p.recorder.ClearConsole(tab.ID)
	return envelope(tab, Result{"cleared": true}), nil
}

// opNetwork returns the recorded request history for the resolved tab.
func (p *Plane) opNetwork(ctx context.Context, inv *Invocation) (Result, error) {
	tab, err := p.observedTab(ctx, inv)
	if err != nil {
		return nil, err
	}

	entries := p.recorder.Network(tab.ID)
	list := make([]Result, 0, len(entries))
	for _, e := range entries {
		item := Result{
			"url":       e.URL,
			"method":    e.Method,
			"type":      e.ResourceType,
			"timestamp": e.Timestamp,
			"finished":  e.Finished,
		}
		if e.Finished {
			item["status"] = e.Status
			item["ok"] = e.OK
			if e.FromCache {
				item["fromCache"] = true
			}
			if e.Failure != "" {
				item["failure"] = e.Failure
			}
		}
		list = append(list, item)
	}
	return envelope(tab, Result{"requests": list, "count": len(list)}), nil
}

func (p *Plane) opNetworkClear(ctx context.Context, inv *Invocation) (Result, error) {
	tab, err := p.resolveTab(ctx, inv)
	if err != nil {
		return nil, err
	}
	p.recorder.ClearNetwork(tab.ID)
	return envelope(tab, Result{"cleared": true}), nil
}

// observedTab resolves the tab and makes sure its recorder is attached,
// so the first history read on a tab starts recording going forward.
func (p *Plane) observedTab(ctx context.Context, inv *Invocation) (Tab, error) {
	tab, err := p.resolveTab(ctx, inv)
	if err != nil {
		return Tab{}, err
	}
	if !p.recorder.Observed(tab.ID) {
		if _, err := p.bridge.PageForTab(ctx, tab.ID); err != nil {
			return Tab{}, err
		}
	}
	return tab, nil
}
