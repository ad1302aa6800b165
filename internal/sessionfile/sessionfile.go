// Package sessionfile reads and writes compressed tab sessions. The format
// is an 8-byte magic "tabsLz4\x00", a 4-byte little-endian uncompressed size
// and a single lz4 block holding JSON.
package sessionfile

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/lotas/tabsync/internal/types"
)

var magic = []byte("tabsLz4\x00")

const (
	headerSize = 12 // 8 magic + 4 size
	version    = 1

	// maxSize guards against corrupt size fields.
	maxSize = 64 << 20
)

// Compress wraps data in the session container.
func Compress(data []byte) ([]byte, error) {
	if len(data) > maxSize {
		return nil, fmt.Errorf("sessionfile: payload too large (%d bytes)", len(data))
	}
	block := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, block, nil)
	if err != nil {
		return nil, fmt.Errorf("sessionfile: compress failed: %w", err)
	}

	out := make([]byte, headerSize, headerSize+n)
	copy(out, magic)
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(data)))
	return append(out, block[:n]...), nil
}

// Decompress unwraps a session container.
func Decompress(data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("sessionfile: data too short (%d bytes)", len(data))
	}
	for i := range magic {
		if data[i] != magic[i] {
			return nil, fmt.Errorf("sessionfile: invalid header magic")
		}
	}

	size := binary.LittleEndian.Uint32(data[8:12])
	if size > maxSize {
		return nil, fmt.Errorf("sessionfile: declared size %d too large", size)
	}
	if size == 0 {
		return []byte{}, nil
	}
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(data[headerSize:], dst)
	if err != nil {
		return nil, fmt.Errorf("sessionfile: decompress failed: %w", err)
	}
	return dst[:n], nil
}

type rawTab struct {
	RemoteID     string    `json:"remoteId,omitempty"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	DerivedTitle string    `json:"derivedTitle,omitempty"`
	Position     int       `json:"position"`
	SpaceID      string    `json:"spaceId,omitempty"`
	Active       bool      `json:"active,omitempty"`
	Overflowed   bool      `json:"overflowed,omitempty"`
	AvatarEmoji  string    `json:"avatarEmoji,omitempty"`
	AvatarColor  string    `json:"avatarColor,omitempty"`
	AvatarPhoto  string    `json:"avatarPhoto,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastAccessed time.Time `json:"lastAccessed"`
}

type rawSpace struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Kind       string `json:"type"`
	ParentID   string `json:"parentId,omitempty"`
	IsExpanded bool   `json:"isExpanded,omitempty"`
}

type rawSession struct {
	Version int        `json:"version"`
	SavedAt time.Time  `json:"savedAt"`
	Tabs    []rawTab   `json:"tabs"`
	Spaces  []rawSpace `json:"spaces"`
}

// Encode serializes s. Local ids are process-scoped and not written.
func Encode(s types.Session) ([]byte, error) {
	raw := rawSession{Version: version, SavedAt: s.SavedAt}
	for _, t := range s.Tabs {
		rid, _ := t.ID.Remote()
		raw.Tabs = append(raw.Tabs, rawTab{
			RemoteID:     string(rid),
			URL:          t.URL,
			Title:        t.Title,
			DerivedTitle: t.DerivedTitle,
			Position:     t.Position,
			SpaceID:      t.SpaceID,
			Active:       t.Active,
			Overflowed:   t.Overflowed,
			AvatarEmoji:  t.Avatar.Emoji,
			AvatarColor:  t.Avatar.Color,
			AvatarPhoto:  t.Avatar.Photo,
			CreatedAt:    t.CreatedAt,
			LastAccessed: t.LastAccessed,
		})
	}
	for _, sp := range s.Spaces {
		raw.Spaces = append(raw.Spaces, rawSpace{
			ID:         sp.ID,
			Name:       sp.Name,
			Kind:       string(sp.Kind),
			ParentID:   sp.ParentID,
			IsExpanded: sp.IsExpanded,
		})
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return Compress(data)
}

// Decode parses a compressed session. Decoded tabs carry local id 0.
func Decode(data []byte) (types.Session, error) {
	plain, err := Decompress(data)
	if err != nil {
		return types.Session{}, err
	}
	var raw rawSession
	if err := json.Unmarshal(plain, &raw); err != nil {
		return types.Session{}, fmt.Errorf("parse session JSON: %w", err)
	}
	if raw.Version > version {
		return types.Session{}, fmt.Errorf("session version %d is newer than supported %d", raw.Version, version)
	}

	s := types.Session{SavedAt: raw.SavedAt}
	for _, rt := range raw.Tabs {
		id := types.Pending(0)
		if rt.RemoteID != "" {
			id = types.Persisted(0, types.RemoteID(rt.RemoteID))
		}
		s.Tabs = append(s.Tabs, types.Tab{
			ID:           id,
			URL:          rt.URL,
			Title:        rt.Title,
			DerivedTitle: rt.DerivedTitle,
			Position:     rt.Position,
			SpaceID:      rt.SpaceID,
			Active:       rt.Active,
			Overflowed:   rt.Overflowed,
			Avatar:       types.Avatar{Emoji: rt.AvatarEmoji, Color: rt.AvatarColor, Photo: rt.AvatarPhoto},
			CreatedAt:    rt.CreatedAt,
			LastAccessed: rt.LastAccessed,
		})
	}
	for _, rs := range raw.Spaces {
		s.Spaces = append(s.Spaces, types.Space{
			ID:         rs.ID,
			Name:       rs.Name,
			Kind:       types.SpaceKind(rs.Kind),
			ParentID:   rs.ParentID,
			IsExpanded: rs.IsExpanded,
		})
	}
	return s, nil
}

// WriteFile encodes s to path, replacing it atomically.
func WriteFile(path string, s types.Session) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*")
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// ReadFile decodes the session stored at path.
func ReadFile(path string) (types.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Session{}, fmt.Errorf("read session: %w", err)
	}
	return Decode(data)
}
