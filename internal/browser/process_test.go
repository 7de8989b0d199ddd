package browser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/roelfdiedericks/browserd/internal/config"
)

func testLifecycle(t *testing.T, baseURL string, attachOnly bool) *Lifecycle {
	t.Helper()
	cfg := config.Default().Browser
	cfg.AttachOnly = attachOnly
	return NewLifecycle(cfg, NewRawClientURL(baseURL), NewConnectionManager())
}

// Attach-only mode must fail rather than launch when nothing answers the
// probe, and must not leave a tracked process behind.
func TestEnsureAvailableAttachOnly(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // guaranteed dead endpoint

	l := testLifecycle(t, srv.URL, true)

	err := l.EnsureAvailable(context.Background())
	if !errors.Is(err, ErrAttachOnly) {
		t.Fatalf("expected ErrAttachOnly, got %v", err)
	}
	if l.Handle() != nil {
		t.Error("attach-only must never spawn a process")
	}
}

// When a browser already answers the probe, ensure is a no-op even in
// attach-only mode.
func TestEnsureAvailableReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Browser":"Chrome/120.0","webSocketDebuggerUrl":"ws://x"}`))
	}))
	defer srv.Close()

	l := testLifecycle(t, srv.URL, true)

	if err := l.EnsureAvailable(context.Background()); err != nil {
		t.Fatalf("expected attach to reachable browser, got %v", err)
	}
	if l.Handle() != nil {
		t.Error("attaching must not track a process")
	}
}

// Stop with nothing tracked is an idempotent no-op.
func TestStopIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	l := testLifecycle(t, srv.URL, false)

	for i := 0; i < 2; i++ {
		if res := l.Stop(); res.Stopped {
			t.Errorf("Stop call %d: reported a stop with nothing tracked", i+1)
		}
	}
}
