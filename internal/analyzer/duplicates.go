package analyzer

import (
	"net/url"
	"strings"

	"github.com/lotas/tabsync/internal/types"
)

// schemes that never get an https:// prefix even without "//".
var opaqueSchemes = []string{"about:", "data:", "mailto:", "javascript:", types.InternalScheme}

// NormalizeURL returns the comparison form of a tab URL. Bare input gets an
// https:// prefix, the host is lower-cased and a trailing slash is dropped
// from the path. Query and fragment are kept as-is, and path and query
// stay case-sensitive.
func NormalizeURL(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return s
	}
	if !strings.Contains(s, "://") && !hasOpaqueScheme(s) {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return s
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	if u.RawPath != "" {
		u.RawPath = strings.TrimRight(u.RawPath, "/")
	}
	return u.String()
}

func hasOpaqueScheme(s string) bool {
	lower := strings.ToLower(s)
	for _, prefix := range opaqueSchemes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// Dedup splits tabs into the first occurrence of every normalized URL and
// the later duplicates. Input order decides which copy survives, so callers
// sort by (position, createdAt) first. Blank tabs are never duplicates.
func Dedup(tabs []types.Tab) (kept, dropped []types.Tab) {
	seen := make(map[string]bool, len(tabs))
	for _, tab := range tabs {
		if !types.HasTarget(tab.URL) {
			kept = append(kept, tab)
			continue
		}
		key := NormalizeURL(tab.URL)
		if seen[key] {
			dropped = append(dropped, tab)
			continue
		}
		seen[key] = true
		kept = append(kept, tab)
	}
	return kept, dropped
}
