package browser

import (
	"context"
	"encoding/json"
	"fmt"

	. "github.com/roelfdiedericks/browserd/internal/logging"
)

// opStatus reports liveness without launching anything.
func (p *Plane) opStatus(ctx context.Context, inv *Invocation) (Result, error) {
	reachable := p.lifecycle.Reachable(probeTimeout)

	out := Result{
		"ok":          true,
		"reachable":   reachable,
		"debugPort":   p.cfg.DebugPort,
		"attachOnly":  p.cfg.AttachOnly,
		"headless":    p.cfg.Headless,
		"connections": p.conns.Count(),
	}
	if p.cfg.Color != "" {
		out["color"] = p.cfg.Color
	}
	if handle := p.lifecycle.Handle(); handle != nil {
		out["running"] = true
		out["pid"] = handle.PID
		out["binary"] = handle.BinKind
		out["startedAt"] = handle.StartedAt
	} else {
		out["running"] = false
	}
	if reachable {
		if ver, err := p.raw.Version(ctx); err == nil {
			out["browser"] = ver.Browser
		}
	}
	return out, nil
}

// opStart makes the browser reachable, launching it if needed.
func (p *Plane) opStart(ctx context.Context, inv *Invocation) (Result, error) {
	if err := p.ensure(ctx); err != nil {
		return nil, err
	}
	out := Result{"ok": true, "reachable": true, "debugPort": p.cfg.DebugPort}
	if handle := p.lifecycle.Handle(); handle != nil {
		out["pid"] = handle.PID
	}
	return out, nil
}

// opStop tears down the tracked browser process. Idempotent.
func (p *Plane) opStop(ctx context.Context, inv *Invocation) (Result, error) {
	res := p.lifecycle.Stop()
	return Result{"ok": true, "stopped": res.Stopped}, nil
}

// opCDP is the raw-protocol escape hatch: one method call over a
// short-lived session, against either the browser endpoint or a tab.
func (p *Plane) opCDP(ctx context.Context, inv *Invocation) (Result, error) {
	method, err := inv.requireString("method")
	if err != nil {
		return nil, err
	}
	var params map[string]any
	if raw, ok := inv.Args["params"].(map[string]any); ok {
		params = raw
	}

	wsURL, tab, err := p.sessionEndpoint(ctx, inv)
	if err != nil {
		return nil, err
	}

	session, err := DialSession(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	raw, err := session.Call(ctx, method, params)
	if err != nil {
		return nil, err
	}

	var result any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			result = string(raw)
		}
	}
	out := Result{"ok": true, "method": method, "result": result}
	if tab != nil {
		out["targetId"] = tab.ID
	}
	return out, nil
}

// opIdentify asks the protocol itself which target a debug address maps
// to, for correlating ids across the two channels.
func (p *Plane) opIdentify(ctx context.Context, inv *Invocation) (Result, error) {
	wsURL, tab, err := p.sessionEndpoint(ctx, inv)
	if err != nil {
		return nil, err
	}

	session, err := DialSession(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	targetID, err := session.TargetInfo(ctx)
	if err != nil {
		return nil, err
	}
	out := Result{"ok": true, "protocolTargetId": targetID}
	if tab != nil {
		out["targetId"] = tab.ID
		out["url"] = tab.URL
	}
	return out, nil
}

// sessionEndpoint picks the debug websocket address for a short-lived
// session: the resolved tab's address when a target is given, otherwise
// the browser-level endpoint.
func (p *Plane) sessionEndpoint(ctx context.Context, inv *Invocation) (string, *Tab, error) {
	if err := p.ensure(ctx); err != nil {
		return "", nil, err
	}

	if inv.TargetID != "" {
		tab, err := p.resolveTab(ctx, inv)
		if err != nil {
			return "", nil, err
		}
		if tab.WebSocketDebuggerURL == "" {
			L_warn("browser: tab has no debugger address", "id", tab.ID)
			return "", nil, &TargetNotFoundError{ID: tab.ID}
		}
		return tab.WebSocketDebuggerURL, &tab, nil
	}

	ver, err := p.raw.Version(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("reading version info: %w", err)
	}
	if ver.WebSocketDebuggerURL == "" {
		return "", nil, errNoDebuggerURL
	}
	return ver.WebSocketDebuggerURL, nil, nil
}
