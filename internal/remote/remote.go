package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/lotas/tabsync/internal/types"
)

// ErrNotFound is matched by errors.Is for 404 responses.
var ErrNotFound = errors.New("not found")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Status, e.Body)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.Status)
}

func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Store is the remote tab and space CRUD service.
type Store interface {
	ListTabs(ctx context.Context) ([]Tab, error)
	CreateTab(ctx context.Context, req CreateTabRequest) (Tab, error)
	UpdateTab(ctx context.Context, id types.RemoteID, update TabUpdate) (Tab, error)
	DeleteTab(ctx context.Context, id types.RemoteID) error
	ReorderTabs(ctx context.Context, updates []PositionUpdate) error
	ListSpaces(ctx context.Context) ([]Space, error)
	UpdateSpace(ctx context.Context, id string, update SpaceUpdate) (Space, error)
}

// Tab is the wire form of a stored tab.
type Tab struct {
	ID          FlexString `json:"id"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Position    *int       `json:"position"`
	AvatarEmoji string     `json:"avatarEmoji,omitempty"`
	AvatarColor string     `json:"avatarColor,omitempty"`
	AvatarPhoto string     `json:"avatarPhoto,omitempty"`
	SpaceID     FlexString `json:"spaceId,omitempty"`
	Overflowed  bool       `json:"overflowed,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Avatar converts the flat avatar fields.
func (t Tab) Avatar() types.Avatar {
	return types.Avatar{Emoji: t.AvatarEmoji, Color: t.AvatarColor, Photo: t.AvatarPhoto}
}

// Tab types accepted by POST /tabs.
const (
	TypeBrowser = "browser"
	TypeChat    = "chat"
)

// CreateTabRequest is the body of POST /tabs. An empty Title asks the
// server to derive one from the URL.
type CreateTabRequest struct {
	URL     string  `json:"url"`
	Title   string  `json:"title,omitempty"`
	Type    string  `json:"type"`
	SpaceID *string `json:"spaceId"`
}

// TabUpdate is the partial body of PUT /tabs/{id}.
type TabUpdate struct {
	URL         *string `json:"url,omitempty"`
	Title       *string `json:"title,omitempty"`
	Position    *int    `json:"position,omitempty"`
	AvatarEmoji *string `json:"avatarEmoji,omitempty"`
	AvatarColor *string `json:"avatarColor,omitempty"`
	AvatarPhoto *string `json:"avatarPhoto,omitempty"`
	SpaceID     *string `json:"spaceId,omitempty"`
	Overflowed  *bool   `json:"overflowed,omitempty"`
}

// PositionUpdate is one entry of POST /tabs/reorder.
type PositionUpdate struct {
	ID       types.RemoteID `json:"id"`
	Position int            `json:"position"`
}

type reorderRequest struct {
	Updates []PositionUpdate `json:"updates"`
}

// Space is the wire form of a project or direct-message space.
type Space struct {
	ID         FlexString `json:"id"`
	Name       string     `json:"name"`
	Kind       string     `json:"type"`
	ParentID   FlexString `json:"parentId,omitempty"`
	IsExpanded bool       `json:"isExpanded,omitempty"`
}

// SpaceUpdate is the partial body of PUT /spaces/{id}. A pointer to ""
// moves the space to the top level.
type SpaceUpdate struct {
	ParentID   *string `json:"parentId,omitempty"`
	IsExpanded *bool   `json:"isExpanded,omitempty"`
}

// FlexString decodes ids that the API sends either as strings or numbers.
// JSON null decodes to "".
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = FlexString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id %s: %w", data, err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("id %s: %w", data, err)
	}
	*s = FlexString(n.String())
	return nil
}
