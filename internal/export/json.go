package export

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/lotas/tabsync/internal/types"
)

type jsonExport struct {
	Account    string      `json:"account,omitempty"`
	ExportedAt time.Time   `json:"exported_at"`
	Groups     []jsonGroup `json:"groups"`
}

type jsonGroup struct {
	SpaceID string    `json:"space_id,omitempty"`
	Name    string    `json:"name"`
	Kind    string    `json:"kind,omitempty"`
	Tabs    []jsonTab `json:"tabs"`
}

type jsonTab struct {
	ID                 string    `json:"id,omitempty"`
	Title              string    `json:"title"`
	URL                string    `json:"url"`
	Domain             string    `json:"domain"`
	Position           int       `json:"position"`
	Active             bool      `json:"active,omitempty"`
	Overflowed         bool      `json:"overflowed,omitempty"`
	TitleFixed         bool      `json:"title_fixed,omitempty"`
	LastAccessed       time.Time `json:"last_accessed"`
	LastAccessedPretty string    `json:"last_accessed_pretty,omitempty"`
}

// JSON formats a session as a JSON document.
func JSON(s types.Session, account string, now time.Time) (string, error) {
	out := jsonExport{
		Account:    account,
		ExportedAt: now,
		Groups:     []jsonGroup{},
	}

	for _, g := range groupSession(s) {
		group := jsonGroup{
			SpaceID: g.ID,
			Name:    g.Name,
			Kind:    string(g.Kind),
			Tabs:    make([]jsonTab, 0, len(g.Tabs)),
		}
		for _, tab := range g.Tabs {
			jt := jsonTab{
				Title:        tab.Title,
				URL:          tab.URL,
				Domain:       extractDomain(tab.URL),
				Position:     tab.Position,
				Active:       tab.Active,
				Overflowed:   tab.Overflowed,
				TitleFixed:   tab.TitleFixed(),
				LastAccessed: tab.LastAccessed,
			}
			if rid, ok := tab.ID.Remote(); ok {
				jt.ID = string(rid)
			}
			if !tab.LastAccessed.IsZero() {
				jt.LastAccessedPretty = relativeTime(now.Sub(tab.LastAccessed))
			}
			group.Tabs = append(group.Tabs, jt)
		}
		out.Groups = append(out.Groups, group)
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Hostname()
}
