package analyzer

import (
	"sort"
	"time"
)

// SplitIdle partitions items into those last accessed more than timeout
// before now and the rest. Both slices are ordered oldest first.
func SplitIdle[T any](items []T, lastAccessed func(T) time.Time, now time.Time, timeout time.Duration) (idle, fresh []T) {
	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return lastAccessed(sorted[i]).Before(lastAccessed(sorted[j]))
	})

	for _, item := range sorted {
		if now.Sub(lastAccessed(item)) > timeout {
			idle = append(idle, item)
		} else {
			fresh = append(fresh, item)
		}
	}
	return idle, fresh
}
