package analyzer

import (
	"net/url"
	"strings"

	"github.com/lotas/tabsync/internal/types"
)

// NewTabTitle is shown for tabs that do not point anywhere yet.
const NewTabTitle = "New Tab"

// DomainTitle returns the placeholder title shown until a page title is
// known: the host without a leading "www.", the view name for built-in
// views, or NewTabTitle.
func DomainTitle(rawURL string) string {
	if !types.HasTarget(rawURL) {
		return NewTabTitle
	}
	if types.IsInternalURL(rawURL) {
		name := strings.TrimPrefix(rawURL, types.InternalScheme)
		name = strings.TrimLeft(name, "/")
		if i := strings.IndexAny(name, "/?#"); i >= 0 {
			name = name[:i]
		}
		if name == "" {
			return NewTabTitle
		}
		return strings.ToUpper(name[:1]) + name[1:]
	}
	u, err := url.Parse(NormalizeURL(rawURL))
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
