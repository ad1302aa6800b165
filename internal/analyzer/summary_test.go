package analyzer

import (
	"testing"

	"github.com/lotas/tabsync/internal/types"
)

func TestComputeStats(t *testing.T) {
	tabs := []types.Tab{
		{ID: types.Persisted(1, "r1")},
		{ID: types.Pending(2)},
		{ID: types.Persisted(3, "r3"), SpaceID: "s1"},
		{ID: types.Persisted(4, "r4"), Overflowed: true},
	}
	spaces := []types.Space{{ID: "s1"}, {ID: "s2"}}

	stats := ComputeStats(tabs, spaces)
	if stats.TotalTabs != 4 {
		t.Errorf("total tabs: got %d, want 4", stats.TotalTabs)
	}
	if stats.PersonalTabs != 3 {
		t.Errorf("personal: got %d, want 3", stats.PersonalTabs)
	}
	if stats.PendingTabs != 1 {
		t.Errorf("pending: got %d, want 1", stats.PendingTabs)
	}
	if stats.OverflowedTabs != 1 {
		t.Errorf("overflowed: got %d, want 1", stats.OverflowedTabs)
	}
	if stats.Spaces != 2 {
		t.Errorf("spaces: got %d, want 2", stats.Spaces)
	}
}
