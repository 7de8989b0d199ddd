// Package media implements artifact storage for browserd: screenshots,
// PDFs and traces land here as files with TTL-based cleanup, so tool
// responses carry small path references instead of inline bytes.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/roelfdiedericks/browserd/internal/config"
	"github.com/roelfdiedericks/browserd/internal/logging"
)

const (
	// DefaultTTL is the default time-to-live for stored artifacts.
	DefaultTTL = 10 * time.Minute

	// DefaultMaxBytes is the maximum allowed artifact size (20MB;
	// traces get large).
	DefaultMaxBytes = 20 * 1024 * 1024
)

// Store manages temporary artifact storage with automatic TTL-based
// cleanup. Files live under subdirectories per artifact kind (browser,
// traces). The keep/ subdirectory is exempt from cleanup.
type Store struct {
	baseDir string
	ttl     time.Duration
	maxSize int64
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewStore creates a store from the media config section, resolving the
// base directory and creating it if needed.
func NewStore(cfg config.MediaConfig) (*Store, error) {
	dir := filepath.Clean(cfg.ResolveDir())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	ttl := time.Duration(cfg.TTL) * time.Second
	if ttl == 0 {
		ttl = DefaultTTL
	}
	maxSize := int64(cfg.MaxSize)
	if maxSize == 0 {
		maxSize = DefaultMaxBytes
	}

	store := &Store{
		baseDir: dir,
		ttl:     ttl,
		maxSize: maxSize,
		stopCh:  make(chan struct{}),
	}

	logging.L_info("media: store initialized", "dir", dir, "ttl", ttl.String(), "maxSize", maxSize)
	return store, nil
}

// Start begins the background cleanup goroutine.
func (s *Store) Start() {
	interval := s.ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}

	logging.L_debug("media: starting cleanup goroutine", "interval", interval.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if err := s.cleanOld(); err != nil {
			logging.L_warn("media: initial cleanup error", "error", err)
		}

		for {
			select {
			case <-ticker.C:
				if err := s.cleanOld(); err != nil {
					logging.L_warn("media: cleanup error", "error", err)
				}
			case <-s.stopCh:
				logging.L_debug("media: cleanup goroutine stopped")
				return
			}
		}
	}()
}

// Close stops the cleanup goroutine and waits for it to finish.
func (s *Store) Close() {
	close(s.stopCh)
	s.wg.Wait()
	logging.L_debug("media: store closed")
}

// Save stores data under subdir with the given extension and a generated
// name. Returns the absolute path and a ./media/... relative path for
// responses.
func (s *Store) Save(data []byte, subdir, ext string) (absPath string, relPath string, err error) {
	if int64(len(data)) > s.maxSize {
		return "", "", fmt.Errorf("file size %d exceeds limit %d", len(data), s.maxSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.baseDir, subdir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", "", fmt.Errorf("failed to create subdirectory: %w", err)
	}

	id := uuid.New().String()[:8]
	filename := id + ext
	absPath = filepath.Join(dir, filename)

	if err := os.WriteFile(absPath, data, 0600); err != nil {
		return "", "", fmt.Errorf("failed to write file: %w", err)
	}

	relPath = s.RelativePath(absPath)

	logging.L_debug("media: saved file", "relPath", relPath, "size", len(data), "subdir", subdir)
	return absPath, relPath, nil
}

// SaveDetect stores data like Save but infers the file extension from the
// content itself. Used for downloads whose type is not known up front.
func (s *Store) SaveDetect(data []byte, subdir string) (absPath string, relPath string, err error) {
	ext := mimetype.Detect(data).Extension()
	if ext == "" {
		ext = ".bin"
	}
	return s.Save(data, subdir, ext)
}

// RelativePath converts an absolute path inside the store to its
// ./media/... form, or "" when the path is outside the store.
func (s *Store) RelativePath(absolutePath string) string {
	rel, err := filepath.Rel(s.baseDir, absolutePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return "./media/" + rel
}

// AbsolutePath converts a ./media/... path back to an absolute path.
func (s *Store) AbsolutePath(relativePath string) string {
	if !strings.HasPrefix(relativePath, "./media/") {
		return ""
	}
	return filepath.Join(s.baseDir, strings.TrimPrefix(relativePath, "./media/"))
}

// cleanOld removes files older than TTL. keep/ is permanent storage and
// is skipped.
func (s *Store) cleanOld() error {
	cutoff := time.Now().Add(-s.ttl)
	removed := 0
	keepDir := filepath.Join(s.baseDir, "keep")

	err := filepath.Walk(s.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if path == keepDir {
				return filepath.SkipDir
			}
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				logging.L_trace("media: failed to remove expired file", "path", path, "error", err)
			} else {
				removed++
			}
		}
		return nil
	})

	if removed > 0 {
		logging.L_debug("media: cleanup completed", "removed", removed)
	}
	return err
}
