package browser

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/roelfdiedericks/browserd/internal/config"
	. "github.com/roelfdiedericks/browserd/internal/logging"
)

// navTimeout bounds navigation-like operations, which are allowed far
// longer than ordinary protocol calls.
const navTimeout = 120 * time.Second

// Invocation is one tool call: an operation name, an untyped argument bag
// and an optional target identifier. Stateless, constructed per call.
type Invocation struct {
	Name     string         `json:"name"`
	Args     map[string]any `json:"args"`
	TargetID string         `json:"targetId,omitempty"`
}

// Result is the uniform success envelope returned by every operation.
type Result map[string]any

// Handler executes one operation against the control plane.
type Handler func(ctx context.Context, inv *Invocation) (Result, error)

// MediaSaver persists binary operation output (screenshots, PDFs, traces,
// downloads) and returns a path reference instead of inline bytes.
type MediaSaver interface {
	Save(data []byte, subdir, ext string) (absPath, relPath string, err error)
	SaveDetect(data []byte, subdir string) (absPath, relPath string, err error)
	AbsolutePath(relPath string) string
}

// Fetcher is the web content-extraction collaborator.
type Fetcher interface {
	Fetch(ctx context.Context, url string, maxLen int) (string, error)
}

// Searcher is the web search collaborator.
type Searcher interface {
	Search(ctx context.Context, query string, count int) (string, error)
}

// Plane is the browser control plane: it owns the process lifecycle, the
// dual-channel bridge, the page event recorder and the operation registry.
type Plane struct {
	cfg       config.BrowserConfig
	raw       *RawClient
	conns     *ConnectionManager
	lifecycle *Lifecycle
	recorder  *Recorder
	bridge    *Bridge
	media     MediaSaver
	fetcher   Fetcher
	searcher  Searcher
	timeout   time.Duration

	handlers map[string]Handler

	// Element references assigned by snapshot, keyed by tab id then ref
	// ("e1", "e2", ...). Rebuilt on every snapshot.
	elementsMu sync.Mutex
	elements   map[string]map[string]*rod.Element

	// Pages with an active trace, keyed by tab id.
	traceMu sync.Mutex
	tracing map[string]*rod.Page
}

// NewPlane creates a control plane for the configured debug endpoint.
func NewPlane(cfg config.BrowserConfig, store MediaSaver) *Plane {
	raw := NewRawClient(cfg.DebugPort)
	conns := NewConnectionManager()
	recorder := NewRecorder()
	conns.OnDrop(recorder.ForgetBrowser)

	p := &Plane{
		cfg:       cfg,
		raw:       raw,
		conns:     conns,
		lifecycle: NewLifecycle(cfg, raw, conns),
		recorder:  recorder,
		bridge:    NewBridge(raw, conns, recorder),
		media:     store,
		timeout:   cfg.ResolveTimeout(),
		handlers:  make(map[string]Handler),
		elements:  make(map[string]map[string]*rod.Element),
		tracing:   make(map[string]*rod.Page),
	}
	p.registerAll()
	return p
}

// SetWebTools wires the web fetch/search collaborators. Optional; the
// corresponding operations fail cleanly when unset.
func (p *Plane) SetWebTools(fetcher Fetcher, searcher Searcher) {
	p.fetcher = fetcher
	p.searcher = searcher
}

// Lifecycle exposes the process lifecycle manager.
func (p *Plane) Lifecycle() *Lifecycle {
	return p.lifecycle
}

// Recorder exposes the page event recorder.
func (p *Plane) Recorder() *Recorder {
	return p.recorder
}

func (p *Plane) register(name string, h Handler) {
	p.handlers[name] = h
}

func (p *Plane) registerAll() {
	// Lifecycle
	p.register("status", p.opStatus)
	p.register("start", p.opStart)
	p.register("stop", p.opStop)

	// Tabs
	p.register("tabs.list", p.opTabs)
	p.register("tabs.new", p.opTabNew)
	p.register("tabs.focus", p.opTabFocus)
	p.register("tabs.close", p.opTabClose)

	// Navigation
	p.register("navigate", p.opNavigate)
	p.register("back", p.opBack)
	p.register("forward", p.opForward)
	p.register("reload", p.opReload)
	p.register("wait", p.opWait)
	p.register("evaluate", p.opEvaluate)
	p.register("resize", p.opResize)
	p.register("snapshot", p.opSnapshot)

	// Interaction
	p.register("click", p.opClick)
	p.register("dblclick", p.opDblClick)
	p.register("hover", p.opHover)
	p.register("drag", p.opDrag)
	p.register("type", p.opType)
	p.register("fill", p.opFill)
	p.register("press", p.opPress)
	p.register("select", p.opSelect)
	p.register("scroll", p.opScroll)
	p.register("upload", p.opUpload)
	p.register("dialog", p.opDialog)

	// Capture
	p.register("screenshot", p.opScreenshot)
	p.register("pdf", p.opPDF)
	p.register("download", p.opDownload)
	p.register("trace.start", p.opTraceStart)
	p.register("trace.stop", p.opTraceStop)

	// Runtime history
	p.register("console.get", p.opConsole)
	p.register("console.clear", p.opConsoleClear)
	p.register("network.get", p.opNetwork)
	p.register("network.clear", p.opNetworkClear)

	// Raw protocol
	p.register("cdp", p.opCDP)
	p.register("identify", p.opIdentify)

	// Web collaborators
	p.register("web.fetch", p.opWebFetch)
	p.register("web.search", p.opWebSearch)
}

// Tools returns the registered operation names in sorted order.
func (p *Plane) Tools() []string {
	names := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch validates and executes one invocation. Unknown names fall
// through to UnknownToolError.
func (p *Plane) Dispatch(ctx context.Context, inv *Invocation) (Result, error) {
	if !p.cfg.Enabled {
		return nil, fmt.Errorf("browser disabled in config: %w", ErrNotStarted)
	}

	handler, ok := p.handlers[inv.Name]
	if !ok {
		return nil, &UnknownToolError{Name: inv.Name}
	}

	L_debug("tool: dispatch", "name", inv.Name, "targetId", inv.TargetID)
	return handler(ctx, inv)
}

// --- argument helpers ---

func (inv *Invocation) argString(key string) string {
	if inv.Args == nil {
		return ""
	}
	if v, ok := inv.Args[key].(string); ok {
		return v
	}
	return ""
}

func (inv *Invocation) requireString(key string) (string, error) {
	v := inv.argString(key)
	if v == "" {
		return "", &ValidationError{Field: key}
	}
	return v, nil
}

func (inv *Invocation) argBool(key string) bool {
	if inv.Args == nil {
		return false
	}
	if v, ok := inv.Args[key].(bool); ok {
		return v
	}
	return false
}

// argInt reads a numeric argument; JSON numbers arrive as float64.
func (inv *Invocation) argInt(key string, def int) int {
	if inv.Args == nil {
		return def
	}
	switch v := inv.Args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func (inv *Invocation) requireInt(key string) (int, error) {
	if inv.Args != nil {
		switch v := inv.Args[key].(type) {
		case float64:
			return int(v), nil
		case int:
			return v, nil
		}
	}
	return 0, &ValidationError{Field: key}
}

// --- shared plumbing ---

// ensure makes the browser reachable, auto-launching unless attach-only.
func (p *Plane) ensure(ctx context.Context) error {
	return p.lifecycle.EnsureAvailable(ctx)
}

// resolveTab re-lists tabs and resolves the invocation's target against
// the fresh listing, so resolution never acts on stale data.
func (p *Plane) resolveTab(ctx context.Context, inv *Invocation) (Tab, error) {
	if err := p.ensure(ctx); err != nil {
		return Tab{}, err
	}
	tabs, err := p.raw.ListTabs(ctx)
	if err != nil {
		return Tab{}, err
	}
	return ResolveTarget(inv.TargetID, tabs)
}

// pageFor resolves the invocation's tab and its automation-channel page.
func (p *Plane) pageFor(ctx context.Context, inv *Invocation) (Tab, *rod.Page, error) {
	tab, err := p.resolveTab(ctx, inv)
	if err != nil {
		return Tab{}, nil, err
	}
	page, err := p.bridge.PageForTab(ctx, tab.ID)
	if err != nil {
		return Tab{}, nil, err
	}
	return tab, page.Timeout(p.timeout), nil
}

// envelope builds the uniform success shape for a tab-scoped operation.
func envelope(tab Tab, extra Result) Result {
	out := Result{"ok": true, "targetId": tab.ID, "url": tab.URL}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// --- element reference registry ---

func (p *Plane) setElements(tabID string, elements map[string]*rod.Element) {
	p.elementsMu.Lock()
	defer p.elementsMu.Unlock()
	p.elements[tabID] = elements
}

func (p *Plane) elementByRef(tabID, ref string) *rod.Element {
	p.elementsMu.Lock()
	defer p.elementsMu.Unlock()
	if refs, ok := p.elements[tabID]; ok {
		return refs[ref]
	}
	return nil
}

func (p *Plane) dropElements(tabID string) {
	p.elementsMu.Lock()
	defer p.elementsMu.Unlock()
	delete(p.elements, tabID)
}

// getElement resolves an interaction target by accessibility ref (from a
// prior snapshot) or by CSS selector.
func (p *Plane) getElement(ctx context.Context, inv *Invocation) (Tab, *rod.Element, error) {
	tab, page, err := p.pageFor(ctx, inv)
	if err != nil {
		return Tab{}, nil, err
	}

	if ref := inv.argString("ref"); ref != "" {
		el := p.elementByRef(tab.ID, ref)
		if el == nil {
			return Tab{}, nil, &ValidationError{
				Field:  "ref",
				Reason: fmt.Sprintf("element %q not found (run snapshot first)", ref),
			}
		}
		return tab, el, nil
	}

	if selector := inv.argString("selector"); selector != "" {
		el, err := page.Element(selector)
		if err != nil {
			return Tab{}, nil, &TargetNotFoundError{ID: selector}
		}
		return tab, el, nil
	}

	return Tab{}, nil, &ValidationError{Field: "ref", Reason: "either ref or selector is required"}
}
