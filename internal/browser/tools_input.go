package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	. "github.com/roelfdiedericks/browserd/internal/logging"
)

// keyMap translates friendly key names to protocol keys.
var keyMap = map[string]input.Key{
	"enter":      input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"esc":        input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"space":      input.Space,
	"arrowup":    input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
}

func (p *Plane) opClick(ctx context.Context, inv *Invocation) (Result, error) {
	return p.clickWith(ctx, inv, 1)
}

func (p *Plane) opDblClick(ctx context.Context, inv *Invocation) (Result, error) {
	return p.clickWith(ctx, inv, 2)
}

func (p *Plane) clickWith(ctx context.Context, inv *Invocation, clicks int) (Result, error) {
	tab, el, err := p.getElement(ctx, inv)
	if err != nil {
		return nil, err
	}
	if err := el.ScrollIntoView(); err != nil {
		L_trace("browser: scroll into view failed before click", "error", err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, clicks); err != nil {
		return nil, &ProtocolError{Op: "click", Err: err}
	}
	waitSettled(el.Page())
	return envelope(tab, Result{"clicked": true}), nil
}

func (p *Plane) opHover(ctx context.Context, inv *Invocation) (Result, error) {
	tab, el, err := p.getElement(ctx, inv)
	if err != nil {
		return nil, err
	}
	if err := el.Hover(); err != nil {
		return nil, &ProtocolError{Op: "hover", Err: err}
	}
	return envelope(tab, Result{"hovered": true}), nil
}

// opDrag presses at the source element, moves to the destination and
// releases. Source and destination are refs or selectors.
func (p *Plane) opDrag(ctx context.Context, inv *Invocation) (Result, error) {
	from, err := inv.requireString("from")
	if err != nil {
		return nil, err
	}
	to, err := inv.requireString("to")
	if err != nil {
		return nil, err
	}

	tab, page, err := p.pageFor(ctx, inv)
	if err != nil {
		return nil, err
	}

	src, err := p.resolveElement(tab.ID, page, from)
	if err != nil {
		return nil, err
	}
	dst, err := p.resolveElement(tab.ID, page, to)
	if err != nil {
		return nil, err
	}

	fromPt, err := elementPoint(src)
	if err != nil {
		return nil, err
	}
	toPt, err := elementPoint(dst)
	if err != nil {
		return nil, err
	}

	mouse := page.Mouse
	if err := mouse.MoveTo(*fromPt); err != nil {
		return nil, &ProtocolError{Op: "drag", Err: err}
	}
	if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, &ProtocolError{Op: "drag", Err: err}
	}
	if err := mouse.MoveLinear(*toPt, 10); err != nil {
		mouse.Up(proto.InputMouseButtonLeft, 1)
		return nil, &ProtocolError{Op: "drag", Err: err}
	}
	if err := mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, &ProtocolError{Op: "drag", Err: err}
	}
	waitSettled(page)
	return envelope(tab, Result{"dragged": true}), nil
}

// opType clicks to focus and then types text, appending to existing
// content. Use fill to replace.
func (p *Plane) opType(ctx context.Context, inv *Invocation) (Result, error) {
	text, err := inv.requireString("text")
	if err != nil {
		return nil, err
	}
	tab, el, err := p.getElement(ctx, inv)
	if err != nil {
		return nil, err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, &ProtocolError{Op: "type", Err: err}
	}
	if err := el.Input(text); err != nil {
		return nil, &ProtocolError{Op: "type", Err: err}
	}
	return envelope(tab, Result{"typed": len(text)}), nil
}

// opFill replaces the element's current value with the given text.
func (p *Plane) opFill(ctx context.Context, inv *Invocation) (Result, error) {
	text, err := inv.requireString("text")
	if err != nil {
		return nil, err
	}
	tab, el, err := p.getElement(ctx, inv)
	if err != nil {
		return nil, err
	}
	if err := el.SelectAllText(); err != nil {
		L_trace("browser: select-all before fill failed", "error", err)
	}
	if err := el.Input(text); err != nil {
		return nil, &ProtocolError{Op: "fill", Err: err}
	}
	return envelope(tab, Result{"filled": len(text)}), nil
}

// opPress sends a single key to the focused element.
func (p *Plane) opPress(ctx context.Context, inv *Invocation) (Result, error) {
	name, err := inv.requireString("key")
	if err != nil {
		return nil, err
	}

	tab, page, err := p.pageFor(ctx, inv)
	if err != nil {
		return nil, err
	}

	key, ok := keyMap[strings.ToLower(name)]
	if !ok {
		runes := []rune(name)
		if len(runes) != 1 {
			return nil, &ValidationError{Field: "key", Reason: fmt.Sprintf("unknown key %q", name)}
		}
		key = input.Key(runes[0])
	}

	if err := page.Keyboard.Press(key); err != nil {
		return nil, &ProtocolError{Op: "press", Err: err}
	}
	waitSettled(page)
	return envelope(tab, Result{"pressed": name}), nil
}

// opSelect picks a dropdown option by its visible text.
func (p *Plane) opSelect(ctx context.Context, inv *Invocation) (Result, error) {
	value, err := inv.requireString("value")
	if err != nil {
		return nil, err
	}
	tab, el, err := p.getElement(ctx, inv)
	if err != nil {
		return nil, err
	}
	if err := el.Select([]string{value}, true, rod.SelectorTypeText); err != nil {
		return nil, &ProtocolError{Op: "select", Err: err}
	}
	return envelope(tab, Result{"selected": value}), nil
}

// opScroll scrolls the page by direction/amount, or scrolls a specific
// element into view when a ref or selector is given.
func (p *Plane) opScroll(ctx context.Context, inv *Invocation) (Result, error) {
	if inv.argString("ref") != "" || inv.argString("selector") != "" {
		tab, el, err := p.getElement(ctx, inv)
		if err != nil {
			return nil, err
		}
		if err := el.ScrollIntoView(); err != nil {
			return nil, &ProtocolError{Op: "scroll", Err: err}
		}
		return envelope(tab, Result{"scrolled": true}), nil
	}

	tab, page, err := p.pageFor(ctx, inv)
	if err != nil {
		return nil, err
	}

	amount := float64(inv.argInt("amount", 600))
	var dx, dy float64
	switch direction := inv.argString("direction"); direction {
	case "", "down":
		dy = amount
	case "up":
		dy = -amount
	case "left":
		dx = -amount
	case "right":
		dx = amount
	default:
		return nil, &ValidationError{Field: "direction", Reason: "must be one of up, down, left, right"}
	}

	if err := page.Mouse.Scroll(dx, dy, 1); err != nil {
		return nil, &ProtocolError{Op: "scroll", Err: err}
	}
	return envelope(tab, Result{"scrolled": true}), nil
}

// opUpload attaches local files to a file input element.
func (p *Plane) opUpload(ctx context.Context, inv *Invocation) (Result, error) {
	paths := inv.argStrings("paths")
	if len(paths) == 0 {
		return nil, &ValidationError{Field: "paths"}
	}
	// ./media/ paths refer to stored artifacts (downloads, screenshots);
	// resolve them against the media store.
	for i, path := range paths {
		if p.media == nil || !strings.HasPrefix(path, "./media/") {
			continue
		}
		if abs := p.media.AbsolutePath(path); abs != "" {
			paths[i] = abs
		}
	}
	tab, el, err := p.getElement(ctx, inv)
	if err != nil {
		return nil, err
	}
	if err := el.SetFiles(paths); err != nil {
		return nil, &ProtocolError{Op: "upload", Err: err}
	}
	return envelope(tab, Result{"uploaded": len(paths)}), nil
}

// opDialog arms a one-shot handler for the next JavaScript dialog on the
// tab. The decision is applied asynchronously when the dialog opens.
func (p *Plane) opDialog(ctx context.Context, inv *Invocation) (Result, error) {
	accept := true
	if v, ok := inv.Args["accept"].(bool); ok {
		accept = v
	}
	promptText := inv.argString("promptText")

	tab, page, err := p.pageFor(ctx, inv)
	if err != nil {
		return nil, err
	}

	wait, handle := page.HandleDialog()
	go func() {
		e := wait()
		L_debug("browser: dialog opened", "type", e.Type, "message", e.Message, "accept", accept)
		err := handle(&proto.PageHandleJavaScriptDialog{Accept: accept, PromptText: promptText})
		if err != nil {
			L_warn("browser: dialog handling failed", "error", err)
		}
	}()

	return envelope(tab, Result{"armed": true, "accept": accept}), nil
}

// argStrings reads a string-array argument; JSON arrays arrive as []any.
func (inv *Invocation) argStrings(key string) []string {
	if inv.Args == nil {
		return nil
	}
	raw, ok := inv.Args[key].([]any)
	if !ok {
		if s, ok := inv.Args[key].(string); ok && s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// resolveElement resolves a ref-or-selector string against a tab.
func (p *Plane) resolveElement(tabID string, page *rod.Page, value string) (*rod.Element, error) {
	if el := p.elementByRef(tabID, value); el != nil {
		return el, nil
	}
	el, err := page.Element(value)
	if err != nil {
		return nil, &TargetNotFoundError{ID: value}
	}
	return el, nil
}

// elementPoint finds an interactable point inside an element.
func elementPoint(el *rod.Element) (*proto.Point, error) {
	shape, err := el.Shape()
	if err != nil {
		return nil, &ProtocolError{Op: "drag", Err: err}
	}
	pt := shape.OnePointInside()
	if pt == nil {
		return nil, &ProtocolError{Op: "drag", Err: fmt.Errorf("element has no visible area")}
	}
	return pt, nil
}
