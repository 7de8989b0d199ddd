package browser

import (
	"errors"
	"testing"
)

func tabList(ids ...string) []Tab {
	tabs := make([]Tab, len(ids))
	for i, id := range ids {
		tabs[i] = Tab{ID: id, URL: "https://example.com/" + id, Type: "page"}
	}
	return tabs
}

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		tabs    []Tab
		want    string
		wantErr string // "", "ambiguous", "notfound", "notabs"
	}{
		{"empty id picks first", "", tabList("abcd1234", "abce9999"), "abcd1234", ""},
		{"empty id no tabs", "", nil, "", "notabs"},
		{"exact match", "abcd1234", tabList("abcd1234", "abce9999"), "abcd1234", ""},
		{"exact match wins over prefix", "abc", tabList("abc", "abcd1234"), "abc", ""},
		{"unique prefix", "abcd", tabList("abcd1234", "abce9999"), "abcd1234", ""},
		{"ambiguous prefix", "abc", tabList("abcd1234", "abce9999"), "", "ambiguous"},
		{"no match", "zzz", tabList("abcd1234", "abce9999"), "", "notfound"},
		{"exact regardless of others", "abce9999", tabList("x", "abcd1234", "abce9999"), "abce9999", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tab, err := ResolveTarget(tt.id, tt.tabs)

			switch tt.wantErr {
			case "":
				if err != nil {
					t.Fatalf("ResolveTarget(%q) error = %v, want nil", tt.id, err)
				}
				if tab.ID != tt.want {
					t.Errorf("ResolveTarget(%q) = %q, want %q", tt.id, tab.ID, tt.want)
				}
			case "ambiguous":
				var ambiguous *AmbiguousTargetError
				if !errors.As(err, &ambiguous) {
					t.Fatalf("ResolveTarget(%q) error = %v, want AmbiguousTargetError", tt.id, err)
				}
				if len(ambiguous.Matches) < 2 {
					t.Errorf("ambiguous matches = %v, want at least 2", ambiguous.Matches)
				}
			case "notfound":
				var notFound *TargetNotFoundError
				if !errors.As(err, &notFound) {
					t.Fatalf("ResolveTarget(%q) error = %v, want TargetNotFoundError", tt.id, err)
				}
			case "notabs":
				if !errors.Is(err, ErrNoTabs) {
					t.Fatalf("ResolveTarget(%q) error = %v, want ErrNoTabs", tt.id, err)
				}
			}
		})
	}
}

func TestResolveTargetDeterministic(t *testing.T) {
	tabs := tabList("abcd1234", "abce9999", "ffff0000")
	for i := 0; i < 10; i++ {
		tab, err := ResolveTarget("ff", tabs)
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if tab.ID != "ffff0000" {
			t.Fatalf("resolution not deterministic: got %q", tab.ID)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 200},
		{"ambiguous", &AmbiguousTargetError{ID: "ab"}, 409},
		{"not found", &TargetNotFoundError{ID: "zz"}, 404},
		{"no tabs", ErrNoTabs, 404},
		{"validation", &ValidationError{Field: "url"}, 400},
		{"unknown tool", &UnknownToolError{Name: "bogus"}, 400},
		{"not started", ErrNotStarted, 503},
		{"wrapped not started", errors.Join(errors.New("ctx"), ErrNotStarted), 503},
		{"other", errors.New("boom"), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
