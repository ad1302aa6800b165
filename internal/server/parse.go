package server

import (
	"fmt"

	"github.com/lotas/tabsync/internal/drag"
	"github.com/lotas/tabsync/internal/types"
)

// TabView is the UI's projection of a tab.
type TabView struct {
	ID         int64  `json:"id"`
	RemoteID   string `json:"remoteId,omitempty"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	Position   int    `json:"position"`
	SpaceID    string `json:"spaceId,omitempty"`
	Active     bool   `json:"active"`
	Overflowed bool   `json:"overflowed"`
	Pending    bool   `json:"pending"`
	TitleFixed bool   `json:"titleFixed"`
	Avatar     string `json:"avatar"`
	Emoji      string `json:"emoji,omitempty"`
	Color      string `json:"color,omitempty"`
	Photo      string `json:"photo,omitempty"`
	Frame      string `json:"frame,omitempty"`
}

// SpaceView is the UI's projection of a space.
type SpaceView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	ParentID   string `json:"parentId,omitempty"`
	IsExpanded bool   `json:"isExpanded"`
}

// ItemPayload identifies a draggable entry in pointer events.
type ItemPayload struct {
	Kind      string `json:"kind"` // "tab" or "space"
	TabID     int64  `json:"tabId,omitempty"`
	SpaceID   string `json:"spaceId,omitempty"`
	Container string `json:"container,omitempty"`
}

// RectPayload is a target's on-screen bounds.
type RectPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// TargetPayload is the entry under the pointer.
type TargetPayload struct {
	Item        ItemPayload `json:"item"`
	Bounds      RectPayload `json:"bounds"`
	AllowInside bool        `json:"allowInside,omitempty"`
}

// Pointer phases.
const (
	PhaseDown   = "down"
	PhaseMove   = "move"
	PhaseUp     = "up"
	PhaseCancel = "cancel"
)

// PointerPayload carries one pointer event of a drag gesture.
type PointerPayload struct {
	Phase  string         `json:"phase"`
	X      float64        `json:"x"`
	Y      float64        `json:"y"`
	Item   *ItemPayload   `json:"item,omitempty"`
	Target *TargetPayload `json:"target,omitempty"`
}

func avatarName(k types.AvatarKind) string {
	switch k {
	case types.AvatarPhoto:
		return "photo"
	case types.AvatarEmoji:
		return "emoji"
	}
	return "default"
}

// TabViews projects tabs for the UI. frame may be nil; otherwise it
// reports each tab's materialization state.
func TabViews(tabs []types.Tab, frame func(types.LocalID) string) []TabView {
	out := make([]TabView, 0, len(tabs))
	for _, t := range tabs {
		v := TabView{
			ID:         int64(t.ID.Local()),
			URL:        t.URL,
			Title:      t.Title,
			Position:   t.Position,
			SpaceID:    t.SpaceID,
			Active:     t.Active,
			Overflowed: t.Overflowed,
			Pending:    !t.ID.IsPersisted(),
			TitleFixed: t.TitleFixed(),
			Avatar:     avatarName(t.Avatar.Kind()),
			Emoji:      t.Avatar.Emoji,
			Color:      t.Avatar.Color,
			Photo:      t.Avatar.Photo,
		}
		if rid, ok := t.ID.Remote(); ok {
			v.RemoteID = string(rid)
		}
		if frame != nil {
			v.Frame = frame(t.ID.Local())
		}
		out = append(out, v)
	}
	return out
}

// SpaceViews projects spaces for the UI.
func SpaceViews(spaces []types.Space) []SpaceView {
	out := make([]SpaceView, 0, len(spaces))
	for _, s := range spaces {
		out = append(out, SpaceView{
			ID:         s.ID,
			Name:       s.Name,
			Kind:       string(s.Kind),
			ParentID:   s.ParentID,
			IsExpanded: s.IsExpanded,
		})
	}
	return out
}

// ParseItem converts a wire item into a drag item. An empty container
// means the main list.
func ParseItem(p ItemPayload) (drag.Item, error) {
	item := drag.Item{Container: p.Container}
	if item.Container == "" {
		item.Container = drag.ContainerMain
	}
	switch p.Kind {
	case "tab", "":
		if p.TabID <= 0 {
			return drag.Item{}, fmt.Errorf("tab item without tabId")
		}
		item.Kind = drag.KindTab
		item.Tab = types.LocalID(p.TabID)
	case "space":
		if p.SpaceID == "" {
			return drag.Item{}, fmt.Errorf("space item without spaceId")
		}
		item.Kind = drag.KindSpace
		item.Space = p.SpaceID
	default:
		return drag.Item{}, fmt.Errorf("unknown item kind %q", p.Kind)
	}
	return item, nil
}

// ItemPayloadOf is the inverse of ParseItem.
func ItemPayloadOf(item drag.Item) ItemPayload {
	if item.Kind == drag.KindSpace {
		return ItemPayload{Kind: "space", SpaceID: item.Space, Container: item.Container}
	}
	return ItemPayload{Kind: "tab", TabID: int64(item.Tab), Container: item.Container}
}

// ParseTarget converts a wire target. A nil payload yields nil: the
// pointer is outside every target. A target with neither tab nor space is
// a bare container area.
func ParseTarget(p *TargetPayload) (*drag.Target, error) {
	if p == nil {
		return nil, nil
	}
	t := &drag.Target{
		Bounds:      drag.Rect{X: p.Bounds.X, Y: p.Bounds.Y, W: p.Bounds.W, H: p.Bounds.H},
		AllowInside: p.AllowInside,
	}
	if p.Item.TabID == 0 && p.Item.SpaceID == "" {
		t.Item.Container = p.Item.Container
		if t.Item.Container == "" {
			t.Item.Container = drag.ContainerMain
		}
		return t, nil
	}
	item, err := ParseItem(p.Item)
	if err != nil {
		return nil, err
	}
	t.Item = item
	return t, nil
}
