package browser

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/roelfdiedericks/browserd/internal/config"
)

func testPlane() *Plane {
	cfg := config.Default().Browser
	cfg.Enabled = true
	return NewPlane(cfg, nil)
}

func TestDispatchDisabled(t *testing.T) {
	cfg := config.Default().Browser
	cfg.Enabled = false
	p := NewPlane(cfg, nil)

	_, err := p.Dispatch(context.Background(), &Invocation{Name: "status"})
	if !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
	if StatusFor(err) != 503 {
		t.Errorf("expected 503, got %d", StatusFor(err))
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	p := testPlane()

	_, err := p.Dispatch(context.Background(), &Invocation{Name: "teleport"})
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownToolError, got %v", err)
	}
	if unknown.Name != "teleport" {
		t.Errorf("unexpected name: %q", unknown.Name)
	}
	if StatusFor(err) != 400 {
		t.Errorf("expected 400, got %d", StatusFor(err))
	}
}

// Operations with required arguments must fail validation before any
// browser contact is attempted.
func TestDispatchValidation(t *testing.T) {
	p := testPlane()

	tests := []struct {
		name  string
		inv   *Invocation
		field string
	}{
		{"navigate without url", &Invocation{Name: "navigate"}, "url"},
		{"evaluate without expression", &Invocation{Name: "evaluate"}, "expression"},
		{"press without key", &Invocation{Name: "press"}, "key"},
		{"cdp without method", &Invocation{Name: "cdp"}, "method"},
		{"drag without from", &Invocation{Name: "drag"}, "from"},
		{"navigate to file url", &Invocation{Name: "navigate", Args: map[string]any{"url": "file:///etc/passwd"}}, "url"},
		{"download without url", &Invocation{Name: "download"}, "url"},
		{"download from metadata host", &Invocation{Name: "download", Args: map[string]any{"url": "http://169.254.169.254/latest"}}, "url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Dispatch(context.Background(), tt.inv)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, verr.Field)
			}
			if StatusFor(err) != 400 {
				t.Errorf("expected 400, got %d", StatusFor(err))
			}
		})
	}
}

func TestToolsRegistry(t *testing.T) {
	p := testPlane()
	names := p.Tools()

	if !sort.StringsAreSorted(names) {
		t.Error("Tools() must return sorted names")
	}
	for _, want := range []string{
		"status", "start", "stop",
		"tabs.list", "tabs.new", "tabs.focus", "tabs.close",
		"navigate", "back", "forward", "reload", "wait", "evaluate", "resize",
		"snapshot", "screenshot", "pdf", "download",
		"click", "dblclick", "hover", "type", "fill", "press",
		"select", "scroll", "drag", "upload", "dialog",
		"console.get", "console.clear", "network.get", "network.clear",
		"trace.start", "trace.stop",
		"cdp", "identify", "web.fetch", "web.search",
	} {
		found := false
		for _, name := range names {
			if name == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("operation %q not registered", want)
		}
	}
}

func TestInvocationArgs(t *testing.T) {
	inv := &Invocation{Args: map[string]any{
		"url":     "https://example.com",
		"count":   float64(7),
		"full":    true,
		"paths":   []any{"/tmp/a.txt", "/tmp/b.txt"},
		"badPath": []any{42},
	}}

	if got := inv.argString("url"); got != "https://example.com" {
		t.Errorf("argString: %q", got)
	}
	if got := inv.argString("missing"); got != "" {
		t.Errorf("argString missing: %q", got)
	}
	if got := inv.argInt("count", 1); got != 7 {
		t.Errorf("argInt: %d", got)
	}
	if got := inv.argInt("missing", 9); got != 9 {
		t.Errorf("argInt default: %d", got)
	}
	if !inv.argBool("full") {
		t.Error("argBool: expected true")
	}
	if got := inv.argStrings("paths"); len(got) != 2 || got[0] != "/tmp/a.txt" {
		t.Errorf("argStrings: %v", got)
	}
	if got := inv.argStrings("badPath"); len(got) != 0 {
		t.Errorf("argStrings must skip non-strings: %v", got)
	}

	if _, err := inv.requireString("missing"); err == nil {
		t.Error("requireString must fail on missing key")
	}
	if _, err := inv.requireInt("url"); err == nil {
		t.Error("requireInt must fail on non-numeric value")
	}
}

// Exactly one of many concurrent trace starts on the same tab may claim
// the slot; after a drop the slot is claimable again.
func TestTraceReservation(t *testing.T) {
	p := testPlane()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.reserveTrace("tab-1", nil); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly 1 successful reservation, got %d", wins)
	}

	err := p.reserveTrace("tab-1", nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError while trace active, got %v", err)
	}

	p.dropTrace("tab-1")
	if err := p.reserveTrace("tab-1", nil); err != nil {
		t.Errorf("slot must be claimable after drop: %v", err)
	}
}

func TestDownloadRequiresMediaStore(t *testing.T) {
	p := testPlane()

	_, err := p.Dispatch(context.Background(), &Invocation{
		Name: "download",
		Args: map[string]any{"url": "https://example.com/file.bin"},
	})
	if err == nil || !strings.Contains(err.Error(), "media store") {
		t.Fatalf("expected media store error, got %v", err)
	}
}

func TestWebToolsUnconfigured(t *testing.T) {
	p := testPlane()

	_, err := p.Dispatch(context.Background(), &Invocation{
		Name: "web.fetch",
		Args: map[string]any{"url": "https://example.com"},
	})
	if err == nil {
		t.Fatal("expected error when fetcher is unset")
	}
}
