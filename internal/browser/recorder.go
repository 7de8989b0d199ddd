package browser

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	. "github.com/roelfdiedericks/browserd/internal/logging"
)

const (
	maxConsoleEntries = 500
	maxNetworkEntries = 1000
)

// ConsoleEntry is one recorded console message.
type ConsoleEntry struct {
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Location  string    `json:"location,omitempty"`
}

// NetworkEntry is one recorded network request. Entries are appended when
// the request is sent and annotated in place as the response and outcome
// arrive.
type NetworkEntry struct {
	URL          string    `json:"url"`
	Method       string    `json:"method"`
	ResourceType string    `json:"resourceType"`
	Timestamp    time.Time `json:"timestamp"`
	Status       int       `json:"status,omitempty"`
	OK           bool      `json:"ok"`
	FromCache    bool      `json:"fromCache"`
	Failure      string    `json:"failure,omitempty"`
	Finished     bool      `json:"finished"`

	requestID string
}

// pageState holds the bounded histories for one page. Created lazily on
// first touch, discarded when the page closes.
type pageState struct {
	mu       sync.Mutex
	observed bool
	console  []ConsoleEntry
	network  []*NetworkEntry
	inflight map[string]*NetworkEntry
}

func newPageState() *pageState {
	return &pageState{inflight: make(map[string]*NetworkEntry)}
}

// Recorder attaches listeners to pages on first observation and keeps
// per-page console and network histories. The registry is keyed by the
// page's target id and cleaned up deterministically on the destroyed
// event; nothing depends on garbage collection.
type Recorder struct {
	mu       sync.Mutex
	pages    map[string]*pageState
	browsers map[*rod.Browser]bool
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		pages:    make(map[string]*pageState),
		browsers: make(map[*rod.Browser]bool),
	}
}

func (r *Recorder) stateFor(id string) *pageState {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.pages[id]
	if !ok {
		state = newPageState()
		r.pages[id] = state
	}
	return state
}

// ObserveBrowser watches browser-level target events so pages created
// inside an already-observed browser are picked up automatically and
// closed pages are forgotten. Idempotent per browser connection.
func (r *Recorder) ObserveBrowser(browser *rod.Browser) {
	r.mu.Lock()
	if r.browsers[browser] {
		r.mu.Unlock()
		return
	}
	r.browsers[browser] = true
	r.mu.Unlock()

	go browser.EachEvent(
		func(e *proto.TargetTargetCreated) {
			if string(e.TargetInfo.Type) != "page" {
				return
			}
			page, err := browser.PageFromTarget(e.TargetInfo.TargetID)
			if err != nil {
				L_trace("recorder: page from new target failed", "targetID", e.TargetInfo.TargetID, "error", err)
				return
			}
			r.ObservePage(page)
		},
		func(e *proto.TargetTargetDestroyed) {
			r.Drop(string(e.TargetID))
		},
	)()
}

// ForgetBrowser removes the watcher marker for a discarded connection so a
// reconnect re-attaches the target watchers. Wired as the connection
// manager's drop callback.
func (r *Recorder) ForgetBrowser(browser *rod.Browser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.browsers, browser)
}

// ObservePage attaches console and network listeners to a page on first
// touch. Re-touching an already-observed page is a no-op; the observed
// flag lives in the registry entry, not in any ambient identity set.
func (r *Recorder) ObservePage(page *rod.Page) {
	id := string(page.TargetID)
	state := r.stateFor(id)

	state.mu.Lock()
	if state.observed {
		state.mu.Unlock()
		return
	}
	state.observed = true
	state.mu.Unlock()

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		L_trace("recorder: Network.enable failed", "targetID", id, "error", err)
	}

	L_debug("recorder: observing page", "targetID", id)

	go page.EachEvent(
		func(e *proto.RuntimeConsoleAPICalled) {
			r.AppendConsole(id, ConsoleEntry{
				Type:      string(e.Type),
				Text:      consoleText(e.Args),
				Timestamp: time.Now(),
				Location:  consoleLocation(e.StackTrace),
			})
		},
		func(e *proto.NetworkRequestWillBeSent) {
			r.AppendRequest(id, string(e.RequestID), NetworkEntry{
				URL:          e.Request.URL,
				Method:       e.Request.Method,
				ResourceType: string(e.Type),
				Timestamp:    time.Now(),
			})
		},
		func(e *proto.NetworkResponseReceived) {
			r.annotateResponse(id, string(e.RequestID), e.Response.Status, e.Response.FromDiskCache)
		},
		func(e *proto.NetworkLoadingFinished) {
			r.FinishRequest(id, string(e.RequestID), "")
		},
		func(e *proto.NetworkLoadingFailed) {
			r.FinishRequest(id, string(e.RequestID), e.ErrorText)
		},
	)()
}

// consoleText renders console call arguments into one line.
func consoleText(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		if !arg.Value.Nil() {
			parts = append(parts, arg.Value.String())
		} else if arg.Description != "" {
			parts = append(parts, arg.Description)
		}
	}
	return strings.Join(parts, " ")
}

// consoleLocation formats the top stack frame as url:line.
func consoleLocation(trace *proto.RuntimeStackTrace) string {
	if trace == nil || len(trace.CallFrames) == 0 {
		return ""
	}
	frame := trace.CallFrames[0]
	return fmt.Sprintf("%s:%d", frame.URL, frame.LineNumber+1)
}

// AppendConsole appends a console entry, evicting the oldest once the cap
// is reached.
func (r *Recorder) AppendConsole(id string, entry ConsoleEntry) {
	state := r.stateFor(id)
	state.mu.Lock()
	defer state.mu.Unlock()

	state.console = append(state.console, entry)
	if len(state.console) > maxConsoleEntries {
		state.console = state.console[len(state.console)-maxConsoleEntries:]
	}
}

// AppendRequest appends a network entry and indexes it by request id for
// later correlation.
func (r *Recorder) AppendRequest(id, requestID string, entry NetworkEntry) {
	state := r.stateFor(id)
	state.mu.Lock()
	defer state.mu.Unlock()

	e := entry
	e.requestID = requestID
	state.network = append(state.network, &e)
	state.inflight[requestID] = &e
	if len(state.network) > maxNetworkEntries {
		// Entries evicted from the history that never finished must leave
		// the inflight index too, or it grows without bound.
		for _, old := range state.network[:len(state.network)-maxNetworkEntries] {
			if !old.Finished {
				delete(state.inflight, old.requestID)
			}
		}
		state.network = state.network[len(state.network)-maxNetworkEntries:]
	}
}

func (r *Recorder) annotateResponse(id, requestID string, status int, fromCache bool) {
	state := r.stateFor(id)
	state.mu.Lock()
	defer state.mu.Unlock()

	if entry, ok := state.inflight[requestID]; ok {
		entry.Status = status
		entry.OK = status >= 200 && status < 400
		entry.FromCache = fromCache
	}
}

// FinishRequest finalizes an in-flight entry and removes it from the
// index. A non-empty failure marks the request failed.
func (r *Recorder) FinishRequest(id, requestID, failure string) {
	state := r.stateFor(id)
	state.mu.Lock()
	defer state.mu.Unlock()

	entry, ok := state.inflight[requestID]
	if !ok {
		return
	}
	entry.Finished = true
	if failure != "" {
		entry.Failure = failure
		entry.OK = false
	}
	delete(state.inflight, requestID)
}

// Console returns a copy of the console history for a page.
func (r *Recorder) Console(id string) []ConsoleEntry {
	state := r.stateFor(id)
	state.mu.Lock()
	defer state.mu.Unlock()

	out := make([]ConsoleEntry, len(state.console))
	copy(out, state.console)
	return out
}

// Network returns a copy of the network history for a page.
func (r *Recorder) Network(id string) []NetworkEntry {
	state := r.stateFor(id)
	state.mu.Lock()
	defer state.mu.Unlock()

	out := make([]NetworkEntry, len(state.network))
	for i, entry := range state.network {
		out[i] = *entry
	}
	return out
}

// ClearConsole empties the console history for a page.
func (r *Recorder) ClearConsole(id string) {
	state := r.stateFor(id)
	state.mu.Lock()
	defer state.mu.Unlock()
	state.console = nil
}

// ClearNetwork empties the network history for a page.
func (r *Recorder) ClearNetwork(id string) {
	state := r.stateFor(id)
	state.mu.Lock()
	defer state.mu.Unlock()
	state.network = nil
	state.inflight = make(map[string]*NetworkEntry)
}

// Drop discards all recorded state for a page. Called when the page
// closes.
func (r *Recorder) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pages[id]; ok {
		delete(r.pages, id)
		L_trace("recorder: dropped page state", "targetID", id)
	}
}

// Observed reports whether a page has listeners attached.
func (r *Recorder) Observed(id string) bool {
	r.mu.Lock()
	state, ok := r.pages[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.observed
}
