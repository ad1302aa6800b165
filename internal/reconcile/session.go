package reconcile

import (
	"context"

	"github.com/lotas/tabsync/internal/analyzer"
	"github.com/lotas/tabsync/internal/applog"
	"github.com/lotas/tabsync/internal/registry"
	"github.com/lotas/tabsync/internal/types"
)

// Session returns a copy of the current state.
func (r *Reconciler) Session() types.Session {
	return types.Session{Tabs: r.reg.List(), Spaces: r.reg.Spaces(), SavedAt: r.now()}
}

// Hydrate replaces the registry with a stored session, such as the local
// cache at start-up. Nothing is written remotely; the next Load overwrites
// whatever the session got wrong.
func (r *Reconciler) Hydrate(s types.Session) int {
	inits := make([]registry.TabInit, 0, len(s.Tabs))
	for _, t := range s.Tabs {
		rid, _ := t.ID.Remote()
		inits = append(inits, registry.TabInit{
			Remote:       rid,
			URL:          t.URL,
			Title:        t.Title,
			DerivedTitle: t.DerivedTitle,
			Position:     registry.At(t.Position),
			SpaceID:      t.SpaceID,
			Active:       t.Active,
			Overflowed:   t.Overflowed,
			Avatar:       t.Avatar,
			CreatedAt:    t.CreatedAt,
			LastAccessed: t.LastAccessed,
		})
	}
	r.reg.Replace(inits)
	r.reg.SetSpaces(s.Spaces)
	return len(inits)
}

// Import opens every tab of s that is not already open in its scope.
// Tabs of unknown spaces become personal tabs. User-fixed titles are kept;
// everything else is re-derived. Returns the number of tabs created.
func (r *Reconciler) Import(ctx context.Context, s types.Session) int {
	open := make(map[string]map[string]bool)
	seen := func(spaceID, url string) bool {
		scope := open[spaceID]
		if scope == nil {
			scope = make(map[string]bool)
			for _, t := range r.reg.Scope(spaceID) {
				scope[analyzer.NormalizeURL(t.URL)] = true
			}
			open[spaceID] = scope
		}
		key := analyzer.NormalizeURL(url)
		if scope[key] {
			return true
		}
		scope[key] = true
		return false
	}

	created := 0
	for _, t := range s.Tabs {
		if !types.HasTarget(t.URL) {
			continue
		}
		spaceID := t.SpaceID
		if _, ok := r.reg.Space(spaceID); !ok {
			spaceID = ""
		}
		if seen(spaceID, t.URL) {
			continue
		}
		title := ""
		if t.TitleFixed() {
			title = t.Title
		}
		if _, err := r.Create(ctx, t.URL, title, spaceID); err != nil {
			applog.Warn("reconcile.import", err, "url", t.URL)
			continue
		}
		created++
	}
	applog.Info("reconcile.import", "tabs", len(s.Tabs), "created", created)
	return created
}
