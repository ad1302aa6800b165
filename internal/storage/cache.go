package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lotas/tabsync/internal/types"
)

// Cache stores the last known tab state per account so the list can be
// shown before the remote store answers.
type Cache struct {
	db      *sql.DB
	account string
}

// NewCache returns a Cache scoped to account, usually the API base URL.
func NewCache(db *sql.DB, account string) *Cache {
	return &Cache{db: db, account: account}
}

// SaveSession replaces the cached state in a single transaction.
func (c *Cache) SaveSession(ctx context.Context, s types.Session) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cached_tabs WHERE account = ?", c.account); err != nil {
		return fmt.Errorf("clear cached tabs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM cached_spaces WHERE account = ?", c.account); err != nil {
		return fmt.Errorf("clear cached spaces: %w", err)
	}

	for _, t := range s.Tabs {
		var remoteID *string
		if rid, ok := t.ID.Remote(); ok {
			v := string(rid)
			remoteID = &v
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO cached_tabs
			(account, remote_id, url, title, derived_title, position, space_id, active, overflowed,
			 avatar_emoji, avatar_color, avatar_photo, created_at, last_accessed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.account, remoteID, t.URL, t.Title, t.DerivedTitle, t.Position, t.SpaceID, t.Active, t.Overflowed,
			t.Avatar.Emoji, t.Avatar.Color, t.Avatar.Photo, t.CreatedAt.UTC(), t.LastAccessed.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert tab %q: %w", t.URL, err)
		}
	}
	for i, sp := range s.Spaces {
		_, err := tx.ExecContext(ctx, `INSERT INTO cached_spaces
			(account, id, name, kind, parent_id, is_expanded, sort_order)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.account, sp.ID, sp.Name, string(sp.Kind), sp.ParentID, sp.IsExpanded, i,
		)
		if err != nil {
			return fmt.Errorf("insert space %q: %w", sp.ID, err)
		}
	}

	savedAt := s.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO cache_meta (account, saved_at) VALUES (?, ?)
		ON CONFLICT(account) DO UPDATE SET saved_at = excluded.saved_at`,
		c.account, savedAt.UTC(),
	); err != nil {
		return fmt.Errorf("update cache meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LoadSession returns the cached state. ok is false when nothing has been
// cached for the account yet.
func (c *Cache) LoadSession(ctx context.Context) (s types.Session, ok bool, err error) {
	err = c.db.QueryRowContext(ctx, "SELECT saved_at FROM cache_meta WHERE account = ?", c.account).Scan(&s.SavedAt)
	if err == sql.ErrNoRows {
		return types.Session{}, false, nil
	}
	if err != nil {
		return types.Session{}, false, fmt.Errorf("query cache meta: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, `SELECT remote_id, url, title, derived_title, position, space_id,
		active, overflowed, avatar_emoji, avatar_color, avatar_photo, created_at, last_accessed
		FROM cached_tabs WHERE account = ? ORDER BY id`, c.account)
	if err != nil {
		return types.Session{}, false, fmt.Errorf("query cached tabs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t types.Tab
		var remoteID sql.NullString
		if err := rows.Scan(&remoteID, &t.URL, &t.Title, &t.DerivedTitle, &t.Position, &t.SpaceID,
			&t.Active, &t.Overflowed, &t.Avatar.Emoji, &t.Avatar.Color, &t.Avatar.Photo,
			&t.CreatedAt, &t.LastAccessed); err != nil {
			return types.Session{}, false, fmt.Errorf("scan cached tab: %w", err)
		}
		t.ID = types.Pending(0)
		if remoteID.Valid && remoteID.String != "" {
			t.ID = types.Persisted(0, types.RemoteID(remoteID.String))
		}
		s.Tabs = append(s.Tabs, t)
	}
	if err := rows.Err(); err != nil {
		return types.Session{}, false, fmt.Errorf("iterate cached tabs: %w", err)
	}

	spaceRows, err := c.db.QueryContext(ctx, `SELECT id, name, kind, parent_id, is_expanded
		FROM cached_spaces WHERE account = ? ORDER BY sort_order`, c.account)
	if err != nil {
		return types.Session{}, false, fmt.Errorf("query cached spaces: %w", err)
	}
	defer spaceRows.Close()

	for spaceRows.Next() {
		var sp types.Space
		var kind string
		if err := spaceRows.Scan(&sp.ID, &sp.Name, &kind, &sp.ParentID, &sp.IsExpanded); err != nil {
			return types.Session{}, false, fmt.Errorf("scan cached space: %w", err)
		}
		sp.Kind = types.SpaceKind(kind)
		s.Spaces = append(s.Spaces, sp)
	}
	if err := spaceRows.Err(); err != nil {
		return types.Session{}, false, fmt.Errorf("iterate cached spaces: %w", err)
	}
	return s, true, nil
}
