package server

import (
	"context"
	"errors"

	"github.com/lotas/tabsync/internal/materialize"
)

// FrameBridge hosts frames in the connected UI shell. Each call is a
// request the shell must acknowledge.
type FrameBridge struct {
	srv *Server
}

// NewFrameBridge returns a FrameBridge that talks through srv.
func NewFrameBridge(srv *Server) *FrameBridge {
	return &FrameBridge{srv: srv}
}

// Materialize asks the shell to create a frame for url.
func (b *FrameBridge) Materialize(ctx context.Context, url string) (materialize.FrameHandle, error) {
	resp, err := b.srv.Request(ctx, OutgoingMsg{Action: ActionMaterialize, URL: url})
	if err != nil {
		return "", err
	}
	if resp.Frame == "" {
		return "", errors.New("materialize: shell returned no frame handle")
	}
	return materialize.FrameHandle(resp.Frame), nil
}

// Navigate points an existing frame at url.
func (b *FrameBridge) Navigate(ctx context.Context, h materialize.FrameHandle, url string) error {
	_, err := b.srv.Request(ctx, OutgoingMsg{Action: ActionNavigate, Frame: string(h), URL: url})
	return err
}

// Destroy tears the frame down.
func (b *FrameBridge) Destroy(ctx context.Context, h materialize.FrameHandle) error {
	_, err := b.srv.Request(ctx, OutgoingMsg{Action: ActionDestroy, Frame: string(h)})
	return err
}

// SetVisible shows or hides the frame.
func (b *FrameBridge) SetVisible(ctx context.Context, h materialize.FrameHandle, visible bool) error {
	_, err := b.srv.Request(ctx, OutgoingMsg{Action: ActionVisibility, Frame: string(h), Visible: &visible})
	return err
}

var (
	_ materialize.Frames           = (*FrameBridge)(nil)
	_ materialize.VisibilitySetter = (*FrameBridge)(nil)
)
