package export

import (
	"sort"

	"github.com/lotas/tabsync/internal/types"
)

// PersonalName heads the group of tabs that belong to no space.
const PersonalName = "Personal"

type group struct {
	ID   string
	Name string
	Kind types.SpaceKind
	Tabs []types.Tab
}

// groupSession buckets tabs by space: personal tabs first, then spaces in
// session order. Empty spaces are omitted. Tabs keep position order.
func groupSession(s types.Session) []group {
	byID := make(map[string]*group)
	var order []string

	byID[""] = &group{Name: PersonalName}
	order = append(order, "")
	for _, sp := range s.Spaces {
		if _, ok := byID[sp.ID]; ok {
			continue
		}
		byID[sp.ID] = &group{ID: sp.ID, Name: sp.Name, Kind: sp.Kind}
		order = append(order, sp.ID)
	}

	for _, t := range s.Tabs {
		g, ok := byID[t.SpaceID]
		if !ok {
			// Space not in the session; keep the tab under its raw id.
			g = &group{ID: t.SpaceID, Name: t.SpaceID}
			byID[t.SpaceID] = g
			order = append(order, t.SpaceID)
		}
		g.Tabs = append(g.Tabs, t)
	}

	out := make([]group, 0, len(order))
	for _, id := range order {
		g := byID[id]
		if len(g.Tabs) == 0 {
			continue
		}
		sort.SliceStable(g.Tabs, func(i, j int) bool {
			return g.Tabs[i].Position < g.Tabs[j].Position
		})
		out = append(out, *g)
	}
	return out
}
