package snapshot

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/lotas/tabsync/internal/analyzer"
	"github.com/lotas/tabsync/internal/storage"
	"github.com/lotas/tabsync/internal/types"
)

// DiffEntry represents a single tab in a diff result.
type DiffEntry struct {
	URL   string
	Title string
	Space string // space name, empty for personal tabs
}

// DiffResult holds the result of comparing two sessions.
type DiffResult struct {
	RevFrom int
	RevTo   int // 0 means the current session
	Added   []DiffEntry
	Removed []DiffEntry
}

// Empty reports whether the sessions hold the same tabs.
func (d *DiffResult) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

func entries(s types.Session) map[string]DiffEntry {
	names := make(map[string]string, len(s.Spaces))
	for _, sp := range s.Spaces {
		names[sp.ID] = sp.Name
	}
	out := make(map[string]DiffEntry, len(s.Tabs))
	for _, t := range s.Tabs {
		space := names[t.SpaceID]
		if space == "" {
			space = t.SpaceID
		}
		// Tabs are compared per space by normalized URL.
		key := t.SpaceID + "\x00" + analyzer.NormalizeURL(t.URL)
		out[key] = DiffEntry{URL: t.URL, Title: t.Title, Space: space}
	}
	return out
}

// Diff compares two sessions. Added entries are tabs present in to but not
// in from; Removed entries the opposite.
func Diff(from, to types.Session) *DiffResult {
	a := entries(from)
	b := entries(to)

	result := &DiffResult{}
	for key, entry := range b {
		if _, ok := a[key]; !ok {
			result.Added = append(result.Added, entry)
		}
	}
	for key, entry := range a {
		if _, ok := b[key]; !ok {
			result.Removed = append(result.Removed, entry)
		}
	}
	sortEntries(result.Added)
	sortEntries(result.Removed)
	return result
}

func sortEntries(e []DiffEntry) {
	sort.Slice(e, func(i, j int) bool {
		if e[i].Space != e[j].Space {
			return e[i].Space < e[j].Space
		}
		return e[i].URL < e[j].URL
	})
}

// DiffAgainstCurrent compares a stored snapshot with the current session.
// rev 0 selects the latest snapshot.
func DiffAgainstCurrent(db *sql.DB, account string, rev int, current types.Session) (*DiffResult, error) {
	snap, err := load(db, account, rev)
	if err != nil {
		return nil, err
	}
	result := Diff(snap.Session, current)
	result.RevFrom = snap.Rev
	return result, nil
}

// DiffRevs compares two stored snapshots.
func DiffRevs(db *sql.DB, account string, from, to int) (*DiffResult, error) {
	a, err := storage.GetSnapshot(db, account, from)
	if err != nil {
		return nil, err
	}
	b, err := storage.GetSnapshot(db, account, to)
	if err != nil {
		return nil, err
	}
	result := Diff(a.Session, b.Session)
	result.RevFrom = from
	result.RevTo = to
	return result, nil
}

func load(db *sql.DB, account string, rev int) (*storage.Snapshot, error) {
	if rev > 0 {
		return storage.GetSnapshot(db, account, rev)
	}
	snap, err := storage.GetLatestSnapshot(db, account)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("no snapshots for %q", account)
	}
	return snap, nil
}

// FormatDiff returns a human-readable string representation of a DiffResult.
func FormatDiff(d *DiffResult) string {
	var sb strings.Builder

	if d.RevTo == 0 {
		fmt.Fprintf(&sb, "Snapshot #%d → current\n", d.RevFrom)
	} else {
		fmt.Fprintf(&sb, "Snapshot #%d → #%d\n", d.RevFrom, d.RevTo)
	}
	fmt.Fprintf(&sb, "Added: %d  Removed: %d\n", len(d.Added), len(d.Removed))

	writeEntries := func(header, sign string, list []DiffEntry) {
		if len(list) == 0 {
			return
		}
		fmt.Fprintf(&sb, "\n%s\n", header)
		for _, e := range list {
			if e.Space != "" {
				fmt.Fprintf(&sb, "  %s %s [%s]\n", sign, e.URL, e.Space)
			} else {
				fmt.Fprintf(&sb, "  %s %s\n", sign, e.URL)
			}
		}
	}
	writeEntries("+ Added:", "+", d.Added)
	writeEntries("- Removed:", "-", d.Removed)

	if d.Empty() {
		sb.WriteString("\nNo changes.\n")
	}

	return sb.String()
}
