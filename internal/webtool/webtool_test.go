package webtool

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeRenderer struct {
	called bool
}

func (r *fakeRenderer) Render(ctx context.Context, url string, maxLen int) (string, error) {
	r.called = true
	return "rendered content", nil
}

func TestFetchPlainHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Test Page</title></head><body><article><p>Hello readable world, this is the article body with enough text to be extracted.</p></article></body></html>`)
	}))
	defer server.Close()

	f := NewFetcher(nil)
	content, err := f.Fetch(context.Background(), server.URL, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !strings.Contains(content, "Hello readable world") {
		t.Errorf("extracted content missing article text: %q", content)
	}
}

func TestFetchNonHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"hello":"world"}`)
	}))
	defer server.Close()

	f := NewFetcher(nil)
	content, err := f.Fetch(context.Background(), server.URL, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if content != `{"hello":"world"}` {
		t.Errorf("unexpected content: %q", content)
	}
}

func TestFetchBlockedFallsBackToRenderer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer server.Close()

	renderer := &fakeRenderer{}
	f := NewFetcher(renderer)
	content, err := f.Fetch(context.Background(), server.URL, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !renderer.called {
		t.Error("expected renderer fallback on 403")
	}
	if content != "rendered content" {
		t.Errorf("unexpected content: %q", content)
	}
}

func TestFetchBlockedWithoutRenderer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer server.Close()

	f := NewFetcher(nil)
	if _, err := f.Fetch(context.Background(), server.URL, 0); err == nil {
		t.Fatal("expected error without renderer fallback")
	}
}

func TestFetchRejectsBadScheme(t *testing.T) {
	f := NewFetcher(nil)
	if _, err := f.Fetch(context.Background(), "ftp://example.com", 0); err == nil {
		t.Error("expected scheme error")
	}
}

func TestSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Subscription-Token"); got != "test-key" {
			t.Errorf("missing subscription token, got %q", got)
		}
		if got := r.URL.Query().Get("q"); got != "golang" {
			t.Errorf("unexpected query: %q", got)
		}
		fmt.Fprint(w, `{"web":{"results":[
			{"title":"The Go Programming Language","url":"https://go.dev","description":"Build simple, secure, scalable systems"},
			{"title":"Go (programming language)","url":"https://en.wikipedia.org/wiki/Go","description":"Wikipedia article"}
		]}}`)
	}))
	defer server.Close()

	s := NewSearcher("test-key")
	s.baseURL = server.URL

	results, err := s.Search(context.Background(), "golang", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !strings.Contains(results, "1. The Go Programming Language") {
		t.Errorf("missing first result: %q", results)
	}
	if !strings.Contains(results, "https://en.wikipedia.org/wiki/Go") {
		t.Errorf("missing second result URL: %q", results)
	}
}

func TestSearchRequiresAPIKey(t *testing.T) {
	s := NewSearcher("")
	if _, err := s.Search(context.Background(), "golang", 5); err == nil {
		t.Error("expected error without API key")
	}
}

func TestSearchNoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"web":{"results":[]}}`)
	}))
	defer server.Close()

	s := NewSearcher("test-key")
	s.baseURL = server.URL

	results, err := s.Search(context.Background(), "xyzzy", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if results != "No results found." {
		t.Errorf("unexpected results: %q", results)
	}
}
