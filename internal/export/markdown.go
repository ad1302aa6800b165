package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/lotas/tabsync/internal/types"
)

// Markdown formats a session as a markdown document. now anchors the
// relative access times.
func Markdown(s types.Session, account string, now time.Time) string {
	var b strings.Builder

	if account == "" {
		b.WriteString("# Tabs\n")
	} else {
		fmt.Fprintf(&b, "# Tabs: %s\n", account)
	}
	fmt.Fprintf(&b, "> Exported %s\n", now.Format("2006-01-02 15:04"))

	for _, g := range groupSession(s) {
		n := len(g.Tabs)
		noun := "tabs"
		if n == 1 {
			noun = "tab"
		}
		fmt.Fprintf(&b, "\n## %s (%d %s)\n\n", g.Name, n, noun)

		for _, tab := range g.Tabs {
			title := tab.Title
			if title == "" {
				title = tab.URL
			}
			line := fmt.Sprintf("- [%s](%s)", title, tab.URL)
			if !tab.LastAccessed.IsZero() {
				line += " · " + relativeTime(now.Sub(tab.LastAccessed))
			}
			if tab.Active {
				line += " (active)"
			}
			b.WriteString(line + "\n")
		}
	}

	return b.String()
}

func relativeTime(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
