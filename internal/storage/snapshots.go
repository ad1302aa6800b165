package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lotas/tabsync/internal/sessionfile"
	"github.com/lotas/tabsync/internal/types"
)

// SnapshotSummary holds the metadata for a snapshot.
type SnapshotSummary struct {
	ID        int64
	Rev       int
	Name      string // optional label
	Account   string
	CreatedAt time.Time
	TabCount  int
}

// Snapshot is a snapshot with its decoded session.
type Snapshot struct {
	SnapshotSummary
	Session types.Session
}

// CreateSnapshot stores s as the next revision for account. The session is
// kept as a compressed session blob. Label is optional. Returns the
// assigned rev number.
func CreateSnapshot(db *sql.DB, account string, s types.Session, label string) (int, error) {
	payload, err := sessionfile.Encode(s)
	if err != nil {
		return 0, err
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var rev int
	err = tx.QueryRow("SELECT COALESCE(MAX(rev), 0) + 1 FROM snapshots WHERE account = ?", account).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("compute next rev: %w", err)
	}

	var nameVal interface{}
	if label != "" {
		nameVal = label
	}
	if _, err := tx.Exec(
		"INSERT INTO snapshots (rev, name, account, tab_count, payload) VALUES (?, ?, ?, ?, ?)",
		rev, nameVal, account, len(s.Tabs), payload,
	); err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return rev, nil
}

// ListSnapshots returns the snapshots of account, newest first.
func ListSnapshots(db *sql.DB, account string) ([]SnapshotSummary, error) {
	rows, err := db.Query(
		"SELECT id, rev, name, account, created_at, tab_count FROM snapshots WHERE account = ? ORDER BY rev DESC",
		account,
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var result []SnapshotSummary
	for rows.Next() {
		var s SnapshotSummary
		var name sql.NullString
		if err := rows.Scan(&s.ID, &s.Rev, &name, &s.Account, &s.CreatedAt, &s.TabCount); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if name.Valid {
			s.Name = name.String
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return result, nil
}

// GetSnapshot loads a snapshot by account and rev number.
func GetSnapshot(db *sql.DB, account string, rev int) (*Snapshot, error) {
	snap := &Snapshot{}
	var name sql.NullString
	var payload []byte
	err := db.QueryRow(
		"SELECT id, rev, name, account, created_at, tab_count, payload FROM snapshots WHERE account = ? AND rev = ?",
		account, rev,
	).Scan(&snap.ID, &snap.Rev, &name, &snap.Account, &snap.CreatedAt, &snap.TabCount, &payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("snapshot rev %d not found for %q", rev, account)
		}
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	if name.Valid {
		snap.Name = name.String
	}

	s, err := sessionfile.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot rev %d: %w", rev, err)
	}
	snap.Session = s
	return snap, nil
}

// GetLatestSnapshot returns the most recent snapshot for account.
// Returns nil, nil if there is none.
func GetLatestSnapshot(db *sql.DB, account string) (*Snapshot, error) {
	var rev int
	err := db.QueryRow(
		"SELECT rev FROM snapshots WHERE account = ? ORDER BY rev DESC LIMIT 1",
		account,
	).Scan(&rev)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest rev: %w", err)
	}
	return GetSnapshot(db, account, rev)
}

// DeleteSnapshot removes a snapshot by account and rev.
func DeleteSnapshot(db *sql.DB, account string, rev int) error {
	res, err := db.Exec("DELETE FROM snapshots WHERE account = ? AND rev = ?", account, rev)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("snapshot rev %d not found for %q", rev, account)
	}
	return nil
}
