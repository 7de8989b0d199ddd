package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-rod/rod"
)

func alwaysLive(*rod.Browser) error { return nil }

// Ten concurrent callers for the same endpoint must share exactly one
// underlying connection attempt.
func TestConnectionManagerSingleFlight(t *testing.T) {
	var dials int32
	dial := func(ctx context.Context, endpoint string) (*rod.Browser, error) {
		atomic.AddInt32(&dials, 1)
		time.Sleep(50 * time.Millisecond)
		return rod.New(), nil
	}
	m := NewConnectionManagerDial(dial)
	m.ping = alwaysLive

	const callers = 10
	results := make([]*rod.Browser, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			browser, err := m.Get(context.Background(), "ws://127.0.0.1:9223/devtools/browser/x")
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			results[i] = browser
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&dials); got != 1 {
		t.Errorf("expected exactly 1 dial, got %d", got)
	}
	for i := 1; i < callers; i++ {
		if results[i] != results[0] {
			t.Errorf("caller %d got a different connection", i)
		}
	}
	if m.Count() != 1 {
		t.Errorf("expected 1 cached connection, got %d", m.Count())
	}
}

func TestConnectionManagerDistinctEndpoints(t *testing.T) {
	var dials int32
	dial := func(ctx context.Context, endpoint string) (*rod.Browser, error) {
		atomic.AddInt32(&dials, 1)
		return rod.New(), nil
	}
	m := NewConnectionManagerDial(dial)
	m.ping = alwaysLive

	a, err := m.Get(context.Background(), "ws://127.0.0.1:9223/a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Get(context.Background(), "ws://127.0.0.1:9223/b")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("distinct endpoints must not share a connection")
	}
	if dials != 2 || m.Count() != 2 {
		t.Errorf("expected 2 dials and 2 records, got %d/%d", dials, m.Count())
	}
}

// A failed attempt must not poison the cache: the next caller dials again.
func TestConnectionManagerRetriesAfterFailure(t *testing.T) {
	var dials int32
	dial := func(ctx context.Context, endpoint string) (*rod.Browser, error) {
		if atomic.AddInt32(&dials, 1) == 1 {
			return nil, errors.New("connection refused")
		}
		return rod.New(), nil
	}
	m := NewConnectionManagerDial(dial)
	m.ping = alwaysLive

	if _, err := m.Get(context.Background(), "ws://e"); err == nil {
		t.Fatal("expected first attempt to fail")
	}
	if m.Count() != 0 {
		t.Errorf("failed attempt must not be cached, count=%d", m.Count())
	}

	if _, err := m.Get(context.Background(), "ws://e"); err != nil {
		t.Fatalf("second attempt failed: %v", err)
	}
	if dials != 2 {
		t.Errorf("expected 2 dials, got %d", dials)
	}
}

// A cached connection that stops answering the liveness check is dropped
// and the next caller gets a fresh one, with the drop callback told about
// the discarded browser.
func TestConnectionManagerDropsDeadConnection(t *testing.T) {
	var dials int32
	dial := func(ctx context.Context, endpoint string) (*rod.Browser, error) {
		atomic.AddInt32(&dials, 1)
		return rod.New(), nil
	}
	m := NewConnectionManagerDial(dial)

	var dead atomic.Bool
	m.ping = func(*rod.Browser) error {
		if dead.Load() {
			return errors.New("use of closed network connection")
		}
		return nil
	}

	var dropped *rod.Browser
	m.OnDrop(func(b *rod.Browser) { dropped = b })

	first, err := m.Get(context.Background(), "ws://e")
	if err != nil {
		t.Fatal(err)
	}
	again, err := m.Get(context.Background(), "ws://e")
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Error("live connection must be reused")
	}
	if dials != 1 {
		t.Fatalf("expected 1 dial while live, got %d", dials)
	}

	dead.Store(true)
	second, err := m.Get(context.Background(), "ws://e")
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Error("dead connection must be replaced, not reused")
	}
	if dials != 2 {
		t.Errorf("expected a redial after the connection died, got %d dials", dials)
	}
	if m.Count() != 1 {
		t.Errorf("expected 1 cached record after redial, got %d", m.Count())
	}
	if dropped != first {
		t.Error("drop callback did not receive the discarded connection")
	}
}
