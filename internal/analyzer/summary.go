package analyzer

import "github.com/lotas/tabsync/internal/types"

// Stats holds aggregate counts shown in status lines.
type Stats struct {
	TotalTabs      int
	PersonalTabs   int
	PendingTabs    int
	OverflowedTabs int
	Spaces         int
}

func ComputeStats(tabs []types.Tab, spaces []types.Space) Stats {
	stats := Stats{
		TotalTabs: len(tabs),
		Spaces:    len(spaces),
	}
	for _, tab := range tabs {
		if tab.Personal() {
			stats.PersonalTabs++
		}
		if !tab.ID.IsPersisted() {
			stats.PendingTabs++
		}
		if tab.Overflowed {
			stats.OverflowedTabs++
		}
	}
	return stats
}
