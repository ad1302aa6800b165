package analyzer

import (
	"testing"
	"time"
)

func TestSplitIdle(t *testing.T) {
	now := time.Now()
	items := []time.Time{
		now.Add(-1 * time.Minute),
		now.Add(-20 * time.Minute),
		now.Add(-5 * time.Minute),
		now.Add(-30 * time.Minute),
	}
	id := func(t time.Time) time.Time { return t }

	idle, fresh := SplitIdle(items, id, now, 15*time.Minute)
	if len(idle) != 2 {
		t.Fatalf("expected 2 idle, got %d", len(idle))
	}
	if !idle[0].Equal(items[3]) || !idle[1].Equal(items[1]) {
		t.Errorf("idle not oldest first: %v", idle)
	}
	if len(fresh) != 2 || !fresh[0].Equal(items[2]) {
		t.Errorf("fresh not oldest first: %v", fresh)
	}
}
