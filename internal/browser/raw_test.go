package browser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateTabPut(t *testing.T) {
	var putSeen bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/new" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		putSeen = true
		json.NewEncoder(w).Encode(Tab{ID: "tab1", URL: "about:blank", Type: "page"})
	}))
	defer server.Close()

	client := NewRawClientURL(server.URL)
	tab, err := client.CreateTab(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateTab failed: %v", err)
	}
	if !putSeen {
		t.Error("expected PUT request")
	}
	if tab.ID != "tab1" {
		t.Errorf("expected tab1, got %q", tab.ID)
	}
}

// Older Chrome builds reject PUT /json/new with 405; the client must
// retry the same endpoint with GET.
func TestCreateTabGetFallback(t *testing.T) {
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		json.NewEncoder(w).Encode(Tab{ID: "tab2", URL: "https://example.com", Type: "page"})
	}))
	defer server.Close()

	client := NewRawClientURL(server.URL)
	tab, err := client.CreateTab(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("CreateTab failed: %v", err)
	}
	if len(methods) != 2 || methods[0] != http.MethodPut || methods[1] != http.MethodGet {
		t.Errorf("expected PUT then GET, got %v", methods)
	}
	if tab.ID != "tab2" {
		t.Errorf("expected tab2, got %q", tab.ID)
	}
}

func TestCreateTabServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewRawClientURL(server.URL)
	if _, err := client.CreateTab(context.Background(), ""); err == nil {
		t.Fatal("expected error on HTTP 500")
	}
}

func TestListTabs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/list" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode([]Tab{
			{ID: "a", Title: "First", Type: "page"},
			{ID: "b", Title: "Second", Type: "page"},
		})
	}))
	defer server.Close()

	client := NewRawClientURL(server.URL)
	tabs, err := client.ListTabs(context.Background())
	if err != nil {
		t.Fatalf("ListTabs failed: %v", err)
	}
	if len(tabs) != 2 {
		t.Fatalf("expected 2 tabs, got %d", len(tabs))
	}
	if tabs[0].ID != "a" || tabs[1].ID != "b" {
		t.Errorf("unexpected tab order: %+v", tabs)
	}
}

func TestVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(VersionInfo{
			Browser:              "Chrome/124.0.0.0",
			WebSocketDebuggerURL: "ws://127.0.0.1:9223/devtools/browser/abc",
		})
	}))
	defer server.Close()

	client := NewRawClientURL(server.URL)
	info, err := client.Version(context.Background())
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if info.Browser != "Chrome/124.0.0.0" {
		t.Errorf("unexpected browser: %q", info.Browser)
	}
	if info.WebSocketDebuggerURL == "" {
		t.Error("expected webSocketDebuggerUrl")
	}
}

func TestActivateAndCloseTab(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte("Target activated"))
	}))
	defer server.Close()

	client := NewRawClientURL(server.URL)
	if err := client.ActivateTab(context.Background(), "abc"); err != nil {
		t.Fatalf("ActivateTab failed: %v", err)
	}
	if err := client.CloseTab(context.Background(), "abc"); err != nil {
		t.Fatalf("CloseTab failed: %v", err)
	}
	if len(paths) != 2 || paths[0] != "/json/activate/abc" || paths[1] != "/json/close/abc" {
		t.Errorf("unexpected paths: %v", paths)
	}
}

func TestReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(VersionInfo{Browser: "Chrome"})
	}))

	client := NewRawClientURL(server.URL)
	if !client.Reachable(time.Second) {
		t.Error("expected reachable")
	}

	server.Close()
	if client.Reachable(200 * time.Millisecond) {
		t.Error("expected unreachable after server close")
	}
}
