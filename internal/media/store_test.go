package media

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/roelfdiedericks/browserd/internal/config"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(config.MediaConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func TestSave(t *testing.T) {
	s := testStore(t)

	absPath, relPath, err := s.Save([]byte("hello"), "browser", ".png")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if !strings.HasPrefix(relPath, "./media/browser/") || !strings.HasSuffix(relPath, ".png") {
		t.Errorf("unexpected relative path: %q", relPath)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		t.Fatalf("saved file unreadable: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestSaveSizeLimit(t *testing.T) {
	s, err := NewStore(config.MediaConfig{Dir: t.TempDir(), MaxSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Save(make([]byte, 11), "browser", ".png"); err == nil {
		t.Error("expected size limit error")
	}
}

func TestSaveDetect(t *testing.T) {
	s := testStore(t)

	// Minimal PNG header is enough for content detection.
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	_, relPath, err := s.SaveDetect(png, "downloads")
	if err != nil {
		t.Fatalf("SaveDetect failed: %v", err)
	}
	if !strings.HasSuffix(relPath, ".png") {
		t.Errorf("expected .png extension, got %q", relPath)
	}
}

func TestPathConversion(t *testing.T) {
	s := testStore(t)

	absPath, relPath, err := s.Save([]byte("x"), "traces", ".json")
	if err != nil {
		t.Fatal(err)
	}

	if got := s.RelativePath(absPath); got != relPath {
		t.Errorf("RelativePath: got %q, want %q", got, relPath)
	}
	if got := s.AbsolutePath(relPath); got != absPath {
		t.Errorf("AbsolutePath: got %q, want %q", got, absPath)
	}
	if got := s.RelativePath("/etc/passwd"); got != "" {
		t.Errorf("path outside store must map to empty, got %q", got)
	}
	if got := s.AbsolutePath("../escape"); got != "" {
		t.Errorf("non-media path must map to empty, got %q", got)
	}
}

func TestCleanOld(t *testing.T) {
	s := testStore(t)
	s.ttl = time.Minute

	oldFile, _, err := s.Save([]byte("old"), "browser", ".png")
	if err != nil {
		t.Fatal(err)
	}
	keptFile, _, err := s.Save([]byte("kept"), "keep", ".png")
	if err != nil {
		t.Fatal(err)
	}

	// Backdate both files past the TTL.
	past := time.Now().Add(-time.Hour)
	for _, f := range []string{oldFile, keptFile} {
		if err := os.Chtimes(f, past, past); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.cleanOld(); err != nil {
		t.Fatalf("cleanOld failed: %v", err)
	}

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("expired file should have been removed")
	}
	if _, err := os.Stat(keptFile); err != nil {
		t.Error("keep/ files must survive cleanup")
	}
}
