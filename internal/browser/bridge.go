package browser

import (
	"context"
	"errors"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	. "github.com/roelfdiedericks/browserd/internal/logging"
)

// errNoDebuggerURL means /json/version answered without a browser-level
// WebSocket endpoint.
var errNoDebuggerURL = errors.New("no webSocketDebuggerUrl in /json/version response")

const (
	// newTabPollInterval and newTabPollDeadline bound the discovery loop
	// for a tab created through the automation channel.
	newTabPollInterval = 100 * time.Millisecond
	newTabPollDeadline = 2 * time.Second
)

// Bridge multiplexes the two control surfaces against the same live
// browser: the raw remote-debugging endpoint and the rod automation
// channel connected over it.
type Bridge struct {
	raw      *RawClient
	conns    *ConnectionManager
	recorder *Recorder
}

// NewBridge creates a bridge over the given raw client and connection
// manager.
func NewBridge(raw *RawClient, conns *ConnectionManager, recorder *Recorder) *Bridge {
	return &Bridge{raw: raw, conns: conns, recorder: recorder}
}

// Browser returns the memoized automation connection, resolving the
// browser-level WebSocket endpoint through the raw channel first.
func (b *Bridge) Browser(ctx context.Context) (*rod.Browser, error) {
	ver, err := b.raw.Version(ctx)
	if err != nil {
		return nil, err
	}
	if ver.WebSocketDebuggerURL == "" {
		return nil, &ProtocolError{Op: "resolve endpoint", Err: errNoDebuggerURL}
	}

	browser, err := b.conns.Get(ctx, ver.WebSocketDebuggerURL)
	if err != nil {
		return nil, err
	}

	b.recorder.ObserveBrowser(browser)
	return browser, nil
}

// PageForTab resolves the automation-channel page for a raw tab id. The
// two channels use different identity spaces, so each candidate page is
// asked for its protocol-level target id through a short-lived session
// command; sessions are managed by rod and released per call.
func (b *Bridge) PageForTab(ctx context.Context, tabID string) (*rod.Page, error) {
	browser, err := b.Browser(ctx)
	if err != nil {
		return nil, err
	}

	pages, err := browser.Pages()
	if err != nil {
		return nil, &ProtocolError{Op: "enumerate pages", Err: err}
	}

	for _, page := range pages {
		if string(page.TargetID) == tabID {
			b.recorder.ObservePage(page)
			return page.Context(ctx), nil
		}
	}

	// Slow path: query each page's protocol-level identity. Covers pages
	// whose cached target id is unset or stale.
	for _, page := range pages {
		info, err := proto.TargetGetTargetInfo{}.Call(page)
		if err != nil {
			L_trace("bridge: getTargetInfo failed", "error", err)
			continue
		}
		if string(info.TargetInfo.TargetID) == tabID {
			b.recorder.ObservePage(page)
			return page.Context(ctx), nil
		}
	}

	return nil, &TargetNotFoundError{ID: tabID}
}

// CreateTab opens a new tab. The automation channel's target-creation call
// is tried first; its failure is expected in some configurations (target
// creation can be disabled entirely), logged for diagnosis, and the
// browser's REST creation endpoint is used instead. Only the fallback's
// failure is surfaced.
func (b *Bridge) CreateTab(ctx context.Context, url string) (Tab, error) {
	target := url
	if target == "" {
		target = "about:blank"
	}

	browser, err := b.Browser(ctx)
	if err == nil {
		created, err := proto.TargetCreateTarget{URL: target}.Call(browser)
		if err == nil {
			return b.discoverTab(ctx, string(created.TargetID), target), nil
		}
		L_debug("bridge: Target.createTarget failed, falling back to /json/new", "error", err)
	} else {
		L_debug("bridge: automation channel unavailable for create, falling back to /json/new", "error", err)
	}

	return b.raw.CreateTab(ctx, target)
}

// discoverTab polls the listing for full metadata of a freshly created
// target. The tab may lag the listing; after the deadline a minimal stub
// is returned rather than failing, since the id itself is valid.
func (b *Bridge) discoverTab(ctx context.Context, id, url string) Tab {
	deadline := time.Now().Add(newTabPollDeadline)
	for {
		tabs, err := b.raw.ListTabs(ctx)
		if err == nil {
			for _, tab := range tabs {
				if tab.ID == id {
					return tab
				}
			}
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			break
		}
		time.Sleep(newTabPollInterval)
	}

	L_debug("bridge: created tab not yet listed, returning stub", "id", id)
	return Tab{ID: id, URL: url, Type: "page"}
}

// ActivateTab raises a tab through the raw channel.
func (b *Bridge) ActivateTab(ctx context.Context, id string) error {
	return b.raw.ActivateTab(ctx, id)
}

// CloseTab closes a tab through the raw channel and discards its recorded
// state.
func (b *Bridge) CloseTab(ctx context.Context, id string) error {
	if err := b.raw.CloseTab(ctx, id); err != nil {
		return err
	}
	b.recorder.Drop(id)
	return nil
}
