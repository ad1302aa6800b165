package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/lotas/tabsync/internal/activation"
	"github.com/lotas/tabsync/internal/applog"
	"github.com/lotas/tabsync/internal/drag"
	"github.com/lotas/tabsync/internal/registry"
	"github.com/lotas/tabsync/internal/server"
	"github.com/lotas/tabsync/internal/types"
)

// Bridge connects an Engine to a UI shell over the websocket server: it
// broadcasts state, forwards events and executes the shell's commands.
type Bridge struct {
	eng  *Engine
	srv  *server.Server
	drag *drag.Controller
}

// NewBridge creates a Bridge. The engine's frames backend is normally a
// server.FrameBridge on the same srv.
func NewBridge(eng *Engine, srv *server.Server) *Bridge {
	b := &Bridge{eng: eng, srv: srv}
	b.drag = drag.New(drag.Config{Threshold: eng.cfg.DragThreshold}, dragVisuals{srv})
	return b
}

type dragVisuals struct{ srv *server.Server }

func (v dragVisuals) DragStarted(item drag.Item) {
	p := server.ItemPayloadOf(item)
	v.srv.Send(server.OutgoingMsg{Action: server.ActionDragStart, Item: &p})
}

func (v dragVisuals) DragEnded(item drag.Item) {
	p := server.ItemPayloadOf(item)
	v.srv.Send(server.OutgoingMsg{Action: server.ActionDragEnd, Item: &p})
}

// State builds the full view-model broadcast.
func (b *Bridge) State() server.OutgoingMsg {
	return server.OutgoingMsg{
		Action: server.ActionState,
		Tabs:   server.TabViews(b.eng.Registry.List(), b.eng.FrameState),
		Spaces: server.SpaceViews(b.eng.Registry.Spaces()),
	}
}

// Run serves until ctx is done. Registry changes are coalesced into state
// broadcasts; navigation events and notices are forwarded as they come.
func (b *Bridge) Run(ctx context.Context) error {
	dirty := make(chan struct{}, 1)
	markDirty := func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	}
	unsubscribe := b.eng.Registry.Subscribe(func(registry.Change) { markDirty() })
	defer unsubscribe()

	nav, cancelNav := b.eng.Bus.Subscribe()
	defer cancelNav()
	notices, cancelNotices := b.eng.Bus.SubscribeNotices()
	defer cancelNotices()

	b.srv.OnConnect(func() {
		markDirty()
		// A fresh shell has no frames; present the active tab again.
		if n := b.eng.Materializer.Detach(); n > 0 {
			applog.Info("bridge.detached", "frames", n)
		}
		if tab, ok := b.eng.Registry.Active(); ok {
			if err := b.eng.Activation.Activate(ctx, tab.ID.Local(), activation.Options{Force: true}); err != nil {
				applog.Error("bridge.represent", err, "tab", tab.ID.Local())
			}
		}
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-dirty:
			b.send(b.State())
		case ev := <-nav:
			b.send(server.OutgoingMsg{Action: server.ActionNavigation, Navigation: &ev})
		case n := <-notices:
			b.send(server.OutgoingMsg{Action: server.ActionNotice, Notice: &n})
		case msg := <-b.srv.Messages():
			if err := b.Handle(ctx, msg); err != nil {
				applog.Error("bridge.handle", err, "type", msg.Type)
				b.send(server.OutgoingMsg{ID: msg.ID, Action: server.ActionError, Error: err.Error()})
			}
		}
	}
}

func (b *Bridge) send(msg server.OutgoingMsg) {
	if err := b.srv.Send(msg); err != nil {
		applog.Error("bridge.send", err, "action", msg.Action)
	}
}

// Handle executes one shell command.
func (b *Bridge) Handle(ctx context.Context, msg server.IncomingMsg) error {
	id := types.LocalID(msg.TabID)
	switch msg.Type {
	case server.TypeHello:
		b.send(b.State())
		return nil
	case server.TypeActivate:
		return b.eng.Activation.Activate(ctx, id, activation.Options{Force: msg.Force})
	case server.TypeClose:
		return b.eng.CloseTab(ctx, id)
	case server.TypeCreate:
		_, err := b.eng.NewTab(ctx, msg.URL, msg.Title, msg.SpaceID)
		return err
	case server.TypeNavigate:
		return b.eng.Activation.Navigate(ctx, id, msg.URL)
	case server.TypeRename:
		_, err := b.eng.Reconciler.Rename(ctx, id, msg.Title)
		return err
	case server.TypeTitle:
		b.eng.Reconciler.ObserveTitle(ctx, id, msg.Title)
		return nil
	case server.TypeExpand:
		if msg.Expanded == nil {
			return errors.New("expand: missing expanded flag")
		}
		return b.eng.Reconciler.SetExpanded(ctx, msg.SpaceID, *msg.Expanded)
	case server.TypePointer:
		if msg.Pointer == nil {
			return errors.New("pointer: missing payload")
		}
		return b.pointer(ctx, *msg.Pointer)
	}
	return fmt.Errorf("unknown message type %q", msg.Type)
}

func (b *Bridge) pointer(ctx context.Context, p server.PointerPayload) error {
	pt := drag.Point{X: p.X, Y: p.Y}
	switch p.Phase {
	case server.PhaseDown:
		if p.Item == nil {
			return errors.New("pointer down without item")
		}
		item, err := server.ParseItem(*p.Item)
		if err != nil {
			return err
		}
		b.drag.Press(item, pt)
		return nil
	case server.PhaseMove:
		target, err := server.ParseTarget(p.Target)
		if err != nil {
			return err
		}
		b.drag.Move(pt, target)
		return nil
	case server.PhaseUp:
		target, err := server.ParseTarget(p.Target)
		if err != nil {
			b.drag.Cancel()
			return err
		}
		dragged, _ := b.drag.Dragged()
		intent, outcome := b.drag.Release(pt, target)
		switch outcome {
		case drag.OutcomeClick:
			if dragged.Kind == drag.KindTab {
				return b.eng.Activation.Activate(ctx, dragged.Tab, activation.Options{})
			}
		case drag.OutcomeDrop:
			return b.eng.Reconciler.Apply(ctx, intent)
		}
		return nil
	case server.PhaseCancel:
		b.drag.Cancel()
		return nil
	}
	return fmt.Errorf("unknown pointer phase %q", p.Phase)
}
