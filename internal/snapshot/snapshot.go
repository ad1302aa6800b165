package snapshot

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lotas/tabsync/internal/applog"
	"github.com/lotas/tabsync/internal/storage"
	"github.com/lotas/tabsync/internal/types"
)

// Create persists session as a new snapshot for account. It skips saving
// when the latest snapshot holds the same tabs. Returns the rev number,
// whether a new snapshot was created, the diff against the previous
// snapshot (nil if first), and error.
func Create(db *sql.DB, account string, session types.Session, label string) (rev int, created bool, diff *DiffResult, err error) {
	latest, err := storage.GetLatestSnapshot(db, account)
	if err != nil {
		return 0, false, nil, fmt.Errorf("get latest snapshot: %w", err)
	}

	if latest != nil {
		diff = Diff(latest.Session, session)
		diff.RevFrom = latest.Rev
		if diff.Empty() && label == "" {
			applog.Info("snapshot.skipped", "account", account, "rev", latest.Rev)
			return latest.Rev, false, nil, nil
		}
	}

	newRev, err := storage.CreateSnapshot(db, account, session, label)
	if err != nil {
		return 0, false, nil, err
	}
	applog.Info("snapshot.created", "rev", newRev, "tabs", len(session.Tabs), "account", account)
	return newRev, true, diff, nil
}

// Importer opens the tabs of a session, skipping ones already open.
type Importer interface {
	Import(ctx context.Context, s types.Session) int
}

// Restore reopens the tabs of snapshot rev through imp. Returns the number
// of tabs created.
func Restore(ctx context.Context, db *sql.DB, account string, rev int, imp Importer) (int, error) {
	applog.Info("snapshot.restore.start", "rev", rev, "account", account)
	snap, err := storage.GetSnapshot(db, account, rev)
	if err != nil {
		return 0, err
	}
	n := imp.Import(ctx, snap.Session)
	applog.Info("snapshot.restore.done", "rev", rev, "created", n, "tabs", len(snap.Session.Tabs))
	return n, nil
}
