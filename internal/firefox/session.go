// Package firefox reads tabs from a local Firefox profile so they can be
// imported into the tab store.
package firefox

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/lotas/tabsync/internal/types"
)

// mozlz4 header: 8-byte magic "mozLz40\x00"
var mozLz4Magic = []byte("mozLz40\x00")

// DecompressMozLz4 decompresses data in Mozilla's mozlz4 format.
// The format is: 8-byte magic "mozLz40\x00" + 4-byte LE uint32 uncompressed size + lz4 block data.
func DecompressMozLz4(data []byte) ([]byte, error) {
	const headerSize = 12

	if len(data) < headerSize {
		return nil, fmt.Errorf("mozlz4: data too short (%d bytes)", len(data))
	}
	for i := range mozLz4Magic {
		if data[i] != mozLz4Magic[i] {
			return nil, fmt.Errorf("mozlz4: invalid header magic")
		}
	}

	uncompressedSize := binary.LittleEndian.Uint32(data[8:12])
	dst := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(data[headerSize:], dst)
	if err != nil {
		return nil, fmt.Errorf("mozlz4: decompress failed: %w", err)
	}
	return dst[:n], nil
}

type rawEntry struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type rawTab struct {
	Entries      []rawEntry `json:"entries"`
	Index        int        `json:"index"`
	LastAccessed int64      `json:"lastAccessed"`
	Group        string     `json:"groupId"`
}

type rawGroup struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Collapsed bool   `json:"collapsed"`
}

type rawWindow struct {
	Tabs   []rawTab   `json:"tabs"`
	Groups []rawGroup `json:"groups"`
}

type rawSession struct {
	Windows []rawWindow `json:"windows"`
}

// browserInternal lists URL prefixes that only make sense inside Firefox.
var browserInternal = []string{"about:", "moz-extension:", "chrome:", "resource:", "view-source:"}

func skipURL(url string) bool {
	for _, prefix := range browserInternal {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}

// ParseSession converts Firefox session JSON into a session. Tab groups
// become project spaces prefixed with "firefox:"; tabs are numbered per
// space in window order. Browser-internal pages are dropped.
func ParseSession(data []byte) (types.Session, error) {
	var raw rawSession
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.Session{}, fmt.Errorf("parse session JSON: %w", err)
	}

	s := types.Session{SavedAt: time.Now()}
	known := make(map[string]bool)
	positions := make(map[string]int)

	for _, window := range raw.Windows {
		for _, g := range window.Groups {
			id := "firefox:" + g.ID
			if known[id] {
				continue
			}
			known[id] = true
			s.Spaces = append(s.Spaces, types.Space{
				ID:         id,
				Name:       g.Name,
				Kind:       types.SpaceProject,
				IsExpanded: !g.Collapsed,
			})
		}

		for _, rt := range window.Tabs {
			if len(rt.Entries) == 0 {
				continue
			}
			// index is 1-based; current page is entries[index-1].
			entryIdx := rt.Index - 1
			if entryIdx < 0 || entryIdx >= len(rt.Entries) {
				entryIdx = len(rt.Entries) - 1
			}
			entry := rt.Entries[entryIdx]
			if skipURL(entry.URL) {
				continue
			}

			space := ""
			if rt.Group != "" && known["firefox:"+rt.Group] {
				space = "firefox:" + rt.Group
			}
			s.Tabs = append(s.Tabs, types.Tab{
				URL:          entry.URL,
				Title:        entry.Title,
				Position:     positions[space],
				SpaceID:      space,
				LastAccessed: time.UnixMilli(rt.LastAccessed),
			})
			positions[space]++
		}
	}
	return s, nil
}

// ReadSessionFile reads and parses a Firefox session recovery file from the given profile directory.
// It tries recovery.jsonlz4 first (active session), then previous.jsonlz4 (last closed session).
func ReadSessionFile(profileDir string) (types.Session, error) {
	backupDir := filepath.Join(profileDir, "sessionstore-backups")
	var data []byte
	var err error
	for _, name := range []string{"recovery.jsonlz4", "previous.jsonlz4"} {
		data, err = os.ReadFile(filepath.Join(backupDir, name))
		if err == nil {
			break
		}
	}
	if err != nil {
		return types.Session{}, fmt.Errorf("no session file found in %s", backupDir)
	}

	decompressed, err := DecompressMozLz4(data)
	if err != nil {
		return types.Session{}, fmt.Errorf("decompress session file: %w", err)
	}
	return ParseSession(decompressed)
}
