package types

import (
	"strconv"
	"strings"
	"time"
)

// EmptyURL marks a tab that has been opened but not pointed anywhere yet.
const EmptyURL = "about:newtab"

// InternalScheme prefixes the built-in views (chat, dashboard) that render
// without going through the proxy.
const InternalScheme = "tabsync:"

// IsInternalURL reports whether url addresses a built-in view.
func IsInternalURL(url string) bool {
	return strings.HasPrefix(url, InternalScheme)
}

// HasTarget reports whether url points at real content.
func HasTarget(url string) bool {
	return url != "" && url != EmptyURL
}

// LocalID identifies a tab within one process lifetime. Never reused.
type LocalID int64

func (id LocalID) String() string { return strconv.FormatInt(int64(id), 10) }

// RemoteID is the identity assigned by the remote tab store.
type RemoteID string

// Identity is the two-phase identity of a tab: pending until the remote
// store confirms it, persisted afterwards.
type Identity struct {
	local  LocalID
	remote RemoteID
}

// Pending returns the identity of a tab the remote store has not confirmed.
func Pending(local LocalID) Identity { return Identity{local: local} }

// Persisted returns the identity of a tab known to the remote store.
func Persisted(local LocalID, remote RemoteID) Identity {
	return Identity{local: local, remote: remote}
}

func (i Identity) Local() LocalID { return i.local }

// Remote returns the remote id and whether the tab has been persisted.
func (i Identity) Remote() (RemoteID, bool) {
	return i.remote, i.remote != ""
}

func (i Identity) IsPersisted() bool { return i.remote != "" }

// AvatarKind is the avatar actually rendered for a tab.
type AvatarKind int

const (
	AvatarDefault AvatarKind = iota
	AvatarEmoji
	AvatarPhoto
)

// Avatar is the optional display identity of a tab.
type Avatar struct {
	Emoji string
	Color string
	Photo string
}

// Kind applies the rendering precedence photo > emoji > default icon.
func (a Avatar) Kind() AvatarKind {
	switch {
	case a.Photo != "":
		return AvatarPhoto
	case a.Emoji != "":
		return AvatarEmoji
	default:
		return AvatarDefault
	}
}

// Tab is a single navigable unit, personal or scoped to a space.
type Tab struct {
	ID           Identity
	URL          string
	Title        string
	DerivedTitle string // last auto-derived title; Title differs when the user fixed it
	Position     int
	SpaceID      string // empty for personal tabs
	Active       bool
	Overflowed   bool // shown in the "More" menu instead of the main list
	Avatar       Avatar
	CreatedAt    time.Time
	LastAccessed time.Time
	Revision     uint64 // bumped by every local mutation
}

// TitleFixed reports whether the user set the title explicitly.
func (t Tab) TitleFixed() bool {
	return t.Title != "" && t.Title != t.DerivedTitle
}

// Personal reports whether the tab belongs to no space.
func (t Tab) Personal() bool { return t.SpaceID == "" }

// SpaceKind distinguishes projects from direct-message spaces.
type SpaceKind string

const (
	SpaceProject SpaceKind = "project"
	SpaceDM      SpaceKind = "dm"
)

// Space groups tabs. Projects nest through ParentID.
type Space struct {
	ID         string
	Name       string
	Kind       SpaceKind
	ParentID   string
	IsExpanded bool
}

// Session is a point-in-time copy of the whole tab state, used by the
// local cache and export files.
type Session struct {
	Tabs    []Tab
	Spaces  []Space
	SavedAt time.Time
}
