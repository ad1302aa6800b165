package snapshot

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lotas/tabsync/internal/storage"
	"github.com/lotas/tabsync/internal/types"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func session(urls ...string) types.Session {
	s := types.Session{Spaces: []types.Space{{ID: "p1", Name: "Work", Kind: types.SpaceProject}}}
	for i, u := range urls {
		space := ""
		if strings.Contains(u, "work") {
			space = "p1"
		}
		s.Tabs = append(s.Tabs, types.Tab{URL: u, Title: u, Position: i, SpaceID: space})
	}
	return s
}

func TestCreateFirstSnapshot(t *testing.T) {
	db := testDB(t)

	rev, created, diff, err := Create(db, "alice", session("https://example.com", "https://work.example.com"), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !created || rev != 1 {
		t.Fatalf("expected rev 1 created, got rev=%d created=%v", rev, created)
	}
	if diff != nil {
		t.Error("expected nil diff for first snapshot")
	}

	snap, err := storage.GetSnapshot(db, "alice", 1)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snap.TabCount != 2 || len(snap.Session.Spaces) != 1 {
		t.Errorf("stored %d tabs, %d spaces", snap.TabCount, len(snap.Session.Spaces))
	}
}

func TestCreateSkipsWhenNoChanges(t *testing.T) {
	db := testDB(t)
	s := session("https://example.com")

	if _, _, _, err := Create(db, "alice", s, ""); err != nil {
		t.Fatal(err)
	}
	// Host case and a trailing slash normalize away.
	rev, created, _, err := Create(db, "alice", session("https://EXAMPLE.com/"), "")
	if err != nil {
		t.Fatal(err)
	}
	if created || rev != 1 {
		t.Errorf("expected skip at rev 1, got rev=%d created=%v", rev, created)
	}

	rev, created, _, err = Create(db, "alice", s, "checkpoint")
	if err != nil {
		t.Fatal(err)
	}
	if !created || rev != 2 {
		t.Errorf("labelled snapshot should always be saved, got rev=%d created=%v", rev, created)
	}
}

func TestCreateReturnsDiff(t *testing.T) {
	db := testDB(t)
	Create(db, "alice", session("https://kept.com", "https://removed.com"), "")

	rev, created, diff, err := Create(db, "alice", session("https://kept.com", "https://work.added.com"), "")
	if err != nil {
		t.Fatal(err)
	}
	if !created || rev != 2 {
		t.Fatalf("rev=%d created=%v", rev, created)
	}
	if diff == nil || diff.RevFrom != 1 {
		t.Fatalf("diff = %+v", diff)
	}
	if len(diff.Added) != 1 || diff.Added[0].URL != "https://work.added.com" || diff.Added[0].Space != "Work" {
		t.Errorf("added = %+v", diff.Added)
	}
	if len(diff.Removed) != 1 || diff.Removed[0].URL != "https://removed.com" {
		t.Errorf("removed = %+v", diff.Removed)
	}
}

func TestDiffIsPerSpace(t *testing.T) {
	from := types.Session{Tabs: []types.Tab{{URL: "https://a.com"}}}
	to := types.Session{Tabs: []types.Tab{{URL: "https://a.com", SpaceID: "p9"}}}

	d := Diff(from, to)
	if len(d.Added) != 1 || len(d.Removed) != 1 {
		t.Errorf("moving a tab between spaces should show as add+remove, got %+v", d)
	}
	if d.Added[0].Space != "p9" {
		t.Errorf("unknown space should fall back to its id, got %q", d.Added[0].Space)
	}
}

func TestDiffAgainstCurrentAndRevs(t *testing.T) {
	db := testDB(t)
	Create(db, "alice", session("https://one.com"), "")
	Create(db, "alice", session("https://one.com", "https://two.com"), "")

	d, err := DiffAgainstCurrent(db, "alice", 0, session("https://two.com"))
	if err != nil {
		t.Fatal(err)
	}
	if d.RevFrom != 2 || len(d.Removed) != 1 || d.Removed[0].URL != "https://one.com" {
		t.Errorf("latest diff = %+v", d)
	}

	d, err = DiffRevs(db, "alice", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Added) != 1 || d.Added[0].URL != "https://two.com" {
		t.Errorf("rev diff = %+v", d)
	}

	if _, err := DiffAgainstCurrent(db, "bob", 0, types.Session{}); err == nil {
		t.Error("expected error without snapshots")
	}
}

func TestFormatDiff(t *testing.T) {
	out := FormatDiff(&DiffResult{
		RevFrom: 3,
		Added:   []DiffEntry{{URL: "https://a.com", Space: "Work"}},
		Removed: []DiffEntry{{URL: "https://b.com"}},
	})
	for _, want := range []string{"Snapshot #3 → current", "Added: 1  Removed: 1", "+ https://a.com [Work]", "- https://b.com"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if !strings.Contains(FormatDiff(&DiffResult{RevFrom: 1, RevTo: 2}), "No changes.") {
		t.Error("expected no-changes line")
	}
}

type recordingImporter struct{ got []types.Session }

func (r *recordingImporter) Import(_ context.Context, s types.Session) int {
	r.got = append(r.got, s)
	return len(s.Tabs)
}

func TestRestore(t *testing.T) {
	db := testDB(t)
	Create(db, "alice", session("https://one.com", "https://work.two.com"), "")

	imp := &recordingImporter{}
	n, err := Restore(context.Background(), db, "alice", 1, imp)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n != 2 || len(imp.got) != 1 || len(imp.got[0].Tabs) != 2 {
		t.Errorf("restore created %d, imported %+v", n, imp.got)
	}

	if _, err := Restore(context.Background(), db, "alice", 9, imp); err == nil {
		t.Error("expected error for missing rev")
	}
}
