package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/roelfdiedericks/browserd/internal/config"
	. "github.com/roelfdiedericks/browserd/internal/logging"
)

const (
	// probeTimeout bounds the lightweight reachability probe.
	probeTimeout = 300 * time.Millisecond

	// launchReadyTimeout bounds how long a freshly spawned browser may take
	// to open its debugging endpoint.
	launchReadyTimeout = 15 * time.Second
)

// ProcessHandle tracks a browser process spawned by this control plane.
// It is exclusively owned by the Lifecycle manager.
type ProcessHandle struct {
	PID         int       `json:"pid"`
	BinKind     string    `json:"binKind"`
	BinPath     string    `json:"binPath"`
	UserDataDir string    `json:"userDataDir"`
	DebugPort   int       `json:"debugPort"`
	StartedAt   time.Time `json:"startedAt"`

	cmd    *exec.Cmd
	exited chan struct{}
}

// StopResult reports the outcome of Stop. Stopped is false when nothing
// was running, which is not an error.
type StopResult struct {
	Stopped bool `json:"stopped"`
}

// Lifecycle launches or attaches to the browser process and owns the
// server-side state for it. It is the only component that mutates the
// tracked handle.
type Lifecycle struct {
	cfg   config.BrowserConfig
	raw   *RawClient
	conns *ConnectionManager

	mu     sync.Mutex
	handle *ProcessHandle
}

// NewLifecycle creates a lifecycle manager for one debug endpoint.
func NewLifecycle(cfg config.BrowserConfig, raw *RawClient, conns *ConnectionManager) *Lifecycle {
	return &Lifecycle{cfg: cfg, raw: raw, conns: conns}
}

// Reachable performs a bounded protocol probe. It returns a boolean and
// never an error.
func (l *Lifecycle) Reachable(timeout time.Duration) bool {
	return l.raw.Reachable(timeout)
}

// Handle returns a copy of the tracked process handle, or nil when no
// process is tracked.
func (l *Lifecycle) Handle() *ProcessHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle == nil {
		return nil
	}
	h := *l.handle
	h.cmd = nil
	return &h
}

// EnsureAvailable makes sure a browser is reachable on the configured
// debug port. If one already answers the probe this is a no-op. In
// attach-only mode it fails rather than launching.
func (l *Lifecycle) EnsureAvailable(ctx context.Context) error {
	if l.Reachable(probeTimeout) {
		return nil
	}
	if l.cfg.AttachOnly {
		return ErrAttachOnly
	}
	return l.launch(ctx)
}

// detectBrowser finds an available Chrome/Chromium binary.
func detectBrowser(configured string) (kind, path string, err error) {
	if configured != "" {
		return "configured", configured, nil
	}

	candidates := []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}
	for _, name := range candidates {
		if p, err := exec.LookPath(name); err == nil {
			return name, p, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return "google-chrome", macPath, nil
		}
	}
	return "", "", fmt.Errorf("no supported browser found (tried %v)", candidates)
}

// cleanupStaleLocks removes Chrome lock files left behind by crashed
// sessions. Chrome refuses to start while they exist.
func cleanupStaleLocks(profileDir string) {
	for _, lockFile := range []string{"SingletonLock", "SingletonCookie", "SingletonSocket"} {
		lockPath := filepath.Join(profileDir, lockFile)
		if _, err := os.Stat(lockPath); err == nil {
			if err := os.Remove(lockPath); err != nil {
				L_warn("browser: failed to remove stale lock file", "file", lockPath, "error", err)
			} else {
				L_info("browser: removed stale lock file", "file", lockPath)
			}
		}
	}
}

func (l *Lifecycle) launch(ctx context.Context) error {
	kind, binPath, err := detectBrowser(l.cfg.BinPath)
	if err != nil {
		return &LaunchError{Err: err}
	}

	userDataDir := l.cfg.ResolveUserDataDir()
	if err := os.MkdirAll(userDataDir, 0700); err != nil {
		return &LaunchError{Err: fmt.Errorf("create profile dir: %w", err)}
	}
	cleanupStaleLocks(userDataDir)

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", l.cfg.DebugPort),
		"--remote-debugging-address=127.0.0.1",
		fmt.Sprintf("--user-data-dir=%s", userDataDir),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
		"--window-size=1920,1080",
	}
	if l.cfg.Headless {
		args = append(args, "--headless=new")
	}
	if l.cfg.NoSandbox {
		args = append(args, "--no-sandbox")
	}
	if l.cfg.Stealth {
		args = append(args, "--disable-blink-features=AutomationControlled")
	}
	args = append(args, "about:blank")

	L_debug("browser: launching", "bin", binPath, "port", l.cfg.DebugPort, "headless", l.cfg.Headless)

	cmd := exec.Command(binPath, args...)
	if err := cmd.Start(); err != nil {
		return &LaunchError{Err: fmt.Errorf("start %s: %w", binPath, err)}
	}

	handle := &ProcessHandle{
		PID:         cmd.Process.Pid,
		BinKind:     kind,
		BinPath:     binPath,
		UserDataDir: userDataDir,
		DebugPort:   l.cfg.DebugPort,
		StartedAt:   time.Now(),
		cmd:         cmd,
		exited:      make(chan struct{}),
	}

	if err := l.waitReady(ctx); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return &LaunchError{Err: err}
	}

	l.mu.Lock()
	l.handle = handle
	l.mu.Unlock()

	go l.observeExit(handle)

	L_info("browser: launched", "pid", handle.PID, "port", handle.DebugPort, "bin", kind)
	return nil
}

// waitReady polls the debugging endpoint until it answers or the deadline
// elapses.
func (l *Lifecycle) waitReady(ctx context.Context) error {
	deadline := time.After(launchReadyTimeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("debugging endpoint not ready within %s on port %d", launchReadyTimeout, l.cfg.DebugPort)
		case <-ticker.C:
			if l.Reachable(time.Second) {
				return nil
			}
		}
	}
}

// observeExit clears the handle when the process terminates on its own.
// Clearing is guarded by pid comparison so a late exit of a superseded
// process cannot clobber a newer handle.
func (l *Lifecycle) observeExit(handle *ProcessHandle) {
	err := handle.cmd.Wait()
	close(handle.exited)

	l.mu.Lock()
	current := l.handle != nil && l.handle.PID == handle.PID
	if current {
		l.handle = nil
	}
	l.mu.Unlock()

	if current {
		L_warn("browser: process exited", "pid", handle.PID, "error", err)
		l.conns.Reset()
	} else {
		L_debug("browser: superseded process exited", "pid", handle.PID)
	}
}

// Stop terminates the tracked process and tears down the cached automation
// connection so a stale channel cannot be reused. When nothing is tracked
// it is an idempotent no-op.
func (l *Lifecycle) Stop() StopResult {
	l.mu.Lock()
	handle := l.handle
	l.handle = nil
	l.mu.Unlock()

	// Always drop cached channels: an attached external browser may have
	// a live connection even without a tracked process.
	l.conns.Reset()

	if handle == nil {
		return StopResult{Stopped: false}
	}

	L_info("browser: stopping", "pid", handle.PID)
	_ = handle.cmd.Process.Signal(syscall.SIGTERM)

	// The exit observer owns cmd.Wait; its channel signals completion.
	select {
	case <-handle.exited:
		L_debug("browser: stopped gracefully", "pid", handle.PID)
	case <-time.After(5 * time.Second):
		L_warn("browser: did not exit, sending SIGKILL", "pid", handle.PID)
		_ = handle.cmd.Process.Kill()
		<-handle.exited
	}

	return StopResult{Stopped: true}
}
