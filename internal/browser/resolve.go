package browser

import "strings"

// Tab describes one open tab as reported by the browser's /json/list
// endpoint. Listings are ephemeral: callers re-list immediately before
// resolving so they never act on stale data.
type Tab struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	Type                 string `json:"type"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl,omitempty"`
}

// ResolveTarget maps an optional target identifier to exactly one tab.
//
// Resolution is deterministic for a fixed listing: an exact id match wins;
// otherwise a unique prefix match wins; two or more prefix matches is an
// ambiguity error; zero matches is not-found. An empty identifier selects
// the first tab in listing order, or ErrNoTabs when the listing is empty.
func ResolveTarget(id string, tabs []Tab) (Tab, error) {
	if id == "" {
		if len(tabs) == 0 {
			return Tab{}, ErrNoTabs
		}
		return tabs[0], nil
	}

	var matches []Tab
	for _, tab := range tabs {
		if tab.ID == id {
			return tab, nil
		}
		if strings.HasPrefix(tab.ID, id) {
			matches = append(matches, tab)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return Tab{}, &TargetNotFoundError{ID: id}
	default:
		ids := make([]string, len(matches))
		for i, tab := range matches {
			ids[i] = tab.ID
		}
		return Tab{}, &AmbiguousTargetError{ID: id, Matches: ids}
	}
}
