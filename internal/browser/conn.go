package browser

import (
	"context"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	. "github.com/roelfdiedericks/browserd/internal/logging"
)

// ConnectionRecord holds the single automation-channel connection for one
// endpoint address.
type ConnectionRecord struct {
	Endpoint string
	Browser  *rod.Browser
}

// connAttempt represents one in-flight connection attempt. Concurrent
// callers for the same endpoint block on done and share its outcome.
type connAttempt struct {
	done    chan struct{}
	browser *rod.Browser
	err     error
}

// DialFunc establishes an automation-channel connection to a
// webSocketDebuggerUrl endpoint.
type DialFunc func(ctx context.Context, endpoint string) (*rod.Browser, error)

// PingFunc checks that an established connection still answers protocol
// calls.
type PingFunc func(browser *rod.Browser) error

// ConnectionManager owns the memoized automation connections. At most one
// ConnectionRecord exists per endpoint; connection attempts are
// single-flight. Every Get validates the cached connection with a cheap
// protocol call and discards it when the browser no longer answers, so a
// died connection is replaced on the next call rather than cached forever.
// There is no hidden process-wide state: the manager is an explicit object
// held by the control plane.
type ConnectionManager struct {
	mu      sync.Mutex
	conns   map[string]*ConnectionRecord
	pending map[string]*connAttempt
	dial    DialFunc
	ping    PingFunc

	// onDrop is invoked for every discarded connection. Set once during
	// plane construction, before the manager is used.
	onDrop func(browser *rod.Browser)
}

// NewConnectionManager creates a connection manager using the default rod
// dialer.
func NewConnectionManager() *ConnectionManager {
	return NewConnectionManagerDial(dialAutomation)
}

// NewConnectionManagerDial creates a connection manager with a custom
// dialer. Used by tests to count underlying connection attempts.
func NewConnectionManagerDial(dial DialFunc) *ConnectionManager {
	return &ConnectionManager{
		conns:   make(map[string]*ConnectionRecord),
		pending: make(map[string]*connAttempt),
		dial:    dial,
		ping:    pingAutomation,
	}
}

// OnDrop registers a callback invoked whenever a cached connection is
// discarded, on ping failure and on Reset.
func (m *ConnectionManager) OnDrop(fn func(browser *rod.Browser)) {
	m.onDrop = fn
}

// dialAutomation connects rod to a browser-level debugging endpoint.
func dialAutomation(ctx context.Context, endpoint string) (*rod.Browser, error) {
	browser := rod.New().Context(ctx).ControlURL(endpoint)
	if err := browser.Connect(); err != nil {
		return nil, &ProtocolError{Op: "connect " + endpoint, Err: err}
	}
	return browser, nil
}

// pingAutomation validates a memoized connection with a browser-level
// version call, the cheapest protocol round trip.
func pingAutomation(browser *rod.Browser) error {
	_, err := proto.BrowserGetVersion{}.Call(browser)
	return err
}

// Get returns the memoized connection for endpoint, establishing it if
// needed. A cached connection is checked for liveness first; a dead one is
// dropped and replaced. A second caller arriving while an attempt is in
// flight awaits the same attempt rather than opening a second connection.
func (m *ConnectionManager) Get(ctx context.Context, endpoint string) (*rod.Browser, error) {
	m.mu.Lock()
	rec, ok := m.conns[endpoint]
	m.mu.Unlock()

	if ok {
		err := m.ping(rec.Browser)
		if err == nil {
			return rec.Browser, nil
		}
		L_warn("conn: cached connection dead, reconnecting", "endpoint", endpoint, "error", err)
		m.drop(endpoint, rec.Browser)
	}

	return m.connect(ctx, endpoint)
}

func (m *ConnectionManager) connect(ctx context.Context, endpoint string) (*rod.Browser, error) {
	m.mu.Lock()
	if rec, ok := m.conns[endpoint]; ok {
		m.mu.Unlock()
		return rec.Browser, nil
	}
	if att, ok := m.pending[endpoint]; ok {
		m.mu.Unlock()
		select {
		case <-att.done:
			return att.browser, att.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	att := &connAttempt{done: make(chan struct{})}
	m.pending[endpoint] = att
	m.mu.Unlock()

	browser, err := m.dial(context.Background(), endpoint)

	m.mu.Lock()
	delete(m.pending, endpoint)
	if err == nil {
		m.conns[endpoint] = &ConnectionRecord{Endpoint: endpoint, Browser: browser}
	}
	m.mu.Unlock()

	att.browser = browser
	att.err = err
	close(att.done)

	if err != nil {
		L_warn("conn: connect failed", "endpoint", endpoint, "error", err)
		return nil, err
	}
	L_info("conn: connected", "endpoint", endpoint)
	return browser, nil
}

// drop removes the record for endpoint if it still refers to browser.
func (m *ConnectionManager) drop(endpoint string, browser *rod.Browser) {
	m.mu.Lock()
	rec, ok := m.conns[endpoint]
	removed := ok && rec.Browser == browser
	if removed {
		delete(m.conns, endpoint)
	}
	m.mu.Unlock()

	if removed && m.onDrop != nil {
		m.onDrop(browser)
	}
}

// Reset closes and forgets all cached connections. Called by the stop path
// and the process-exit observer.
func (m *ConnectionManager) Reset() {
	m.mu.Lock()
	records := make([]*ConnectionRecord, 0, len(m.conns))
	for _, rec := range m.conns {
		records = append(records, rec)
	}
	m.conns = make(map[string]*ConnectionRecord)
	m.mu.Unlock()

	for _, rec := range records {
		if err := rec.Browser.Close(); err != nil {
			L_trace("conn: close on reset", "endpoint", rec.Endpoint, "error", err)
		}
		if m.onDrop != nil {
			m.onDrop(rec.Browser)
		}
	}
	if len(records) > 0 {
		L_debug("conn: reset", "dropped", len(records))
	}
}

// Count returns the number of live cached connections.
func (m *ConnectionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}
