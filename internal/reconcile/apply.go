package reconcile

import (
	"context"
	"fmt"

	"github.com/lotas/tabsync/internal/drag"
	"github.com/lotas/tabsync/internal/registry"
	"github.com/lotas/tabsync/internal/types"
)

// Apply carries out a completed drag.
//
//   - tab onto tab: reorder, or move across scopes
//   - tab onto space: move into the space, appended
//   - tab into another container: toggle the "More" flag
//   - space inside space: re-parent; before/after makes it a sibling
func (r *Reconciler) Apply(ctx context.Context, in drag.Intent) error {
	if in.Dragged.Kind == drag.KindSpace {
		return r.applySpace(ctx, in)
	}
	id := in.Dragged.Tab
	if _, ok := r.reg.Get(id); !ok {
		return fmt.Errorf("apply drag: %w", registry.ErrUnknownTab)
	}

	if in.Target.Kind == drag.KindSpace && in.Target.Space != "" {
		return r.Move(ctx, id, in.Target.Space, len(r.reg.Scope(in.Target.Space)))
	}
	if in.Kind == drag.IntentMoveContainer {
		if err := r.SetOverflowed(ctx, id, in.To == drag.ContainerMore); err != nil {
			return err
		}
		if in.Target.Tab == 0 {
			return nil
		}
	}
	return r.placeRelative(ctx, id, in.Target.Tab, in.Position)
}

// placeRelative puts tab id before or after target. Inside is treated as
// after since tabs do not nest.
func (r *Reconciler) placeRelative(ctx context.Context, id, targetID types.LocalID, pos drag.Position) error {
	if id == targetID {
		return nil
	}
	target, ok := r.reg.Get(targetID)
	if !ok {
		return fmt.Errorf("apply drag: target %d: %w", targetID, registry.ErrUnknownTab)
	}

	scope := r.reg.Scope(target.SpaceID)
	targetIdx, draggedIdx := -1, -1
	for i, t := range scope {
		switch t.ID.Local() {
		case targetID:
			targetIdx = i
		case id:
			draggedIdx = i
		}
	}

	newPos := targetIdx
	if pos != drag.Before {
		newPos++
	}
	if draggedIdx < 0 {
		return r.Move(ctx, id, target.SpaceID, newPos)
	}
	// Removing the dragged tab first shifts everything after it up by one.
	if draggedIdx < newPos {
		newPos--
	}
	return r.Reorder(ctx, id, newPos)
}

func (r *Reconciler) applySpace(ctx context.Context, in drag.Intent) error {
	if in.Target.Kind != drag.KindSpace || in.Target.Space == "" {
		return nil
	}
	if in.Position == drag.Inside {
		return r.Reparent(ctx, in.Dragged.Space, in.Target.Space)
	}
	target, ok := r.reg.Space(in.Target.Space)
	if !ok {
		return fmt.Errorf("apply drag: %w", registry.ErrUnknownSpace)
	}
	return r.Reparent(ctx, in.Dragged.Space, target.ParentID)
}
