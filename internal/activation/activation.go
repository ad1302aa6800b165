package activation

import (
	"context"
	"fmt"
	"time"

	"github.com/lotas/tabsync/internal/analyzer"
	"github.com/lotas/tabsync/internal/applog"
	"github.com/lotas/tabsync/internal/eventbus"
	"github.com/lotas/tabsync/internal/materialize"
	"github.com/lotas/tabsync/internal/registry"
	"github.com/lotas/tabsync/internal/types"
)

// URLSaver persists a URL change. The reconciler implements it with an
// optimistic local patch followed by a remote update.
type URLSaver interface {
	SaveURL(ctx context.Context, id types.LocalID, url string) (types.Tab, error)
}

// Options modify Activate.
type Options struct {
	// Force re-applies the tab even when it is already active, e.g. after
	// its URL was changed elsewhere.
	Force bool
}

// Controller owns tab activation: it keeps the single-active invariant,
// drives the materializer and publishes Navigation events.
type Controller struct {
	reg    *registry.Registry
	mat    *materialize.Materializer
	bus    *eventbus.Bus
	saver  URLSaver
	now    func() time.Time
	cancel func()
}

// New wires a Controller. saver may be nil, in which case URL changes are
// only applied locally.
func New(reg *registry.Registry, mat *materialize.Materializer, bus *eventbus.Bus, saver URLSaver) *Controller {
	c := &Controller{
		reg:   reg,
		mat:   mat,
		bus:   bus,
		saver: saver,
		now:   time.Now,
	}
	c.cancel = reg.Subscribe(c.onChange)
	return c
}

// SetClock overrides time.Now for lastAccessed stamps.
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

// Close stops watching the registry.
func (c *Controller) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}

// onChange follows activations the registry performs on its own, such as
// when the active tab is closed or a reload drops it.
func (c *Controller) onChange(ch registry.Change) {
	if ch.Kind != registry.ChangeRemoved && ch.Kind != registry.ChangeReset {
		return
	}
	tab, ok := c.reg.Active()
	if !ok || (c.mat.State(tab.ID.Local()) == materialize.Visible && !c.stale(tab)) {
		return
	}
	if err := c.present(context.Background(), tab, false); err != nil {
		applog.Error("activation.follow", err, "tab", tab.ID.Local())
	}
}

// Activate makes id the active tab. Activating the already-active tab is a
// no-op unless opts.Force is set or its frame is not on screen yet, which
// happens when the registry activated the tab on insert.
func (c *Controller) Activate(ctx context.Context, id types.LocalID, opts Options) error {
	tab, ok := c.reg.Get(id)
	if !ok {
		return fmt.Errorf("activate %d: %w", id, registry.ErrUnknownTab)
	}
	if tab.Active && !opts.Force && c.mat.State(id) == materialize.Visible {
		return nil
	}
	c.reg.SetActive(id)
	return c.present(ctx, tab, opts.Force)
}

func (c *Controller) present(ctx context.Context, tab types.Tab, reapply bool) error {
	id := tab.ID.Local()
	if touched, ok := c.reg.Touch(id, c.now()); ok {
		tab = touched
	}

	created, err := c.mat.Ensure(ctx, tab)
	if err != nil {
		applog.Error("activation.materialize", err, "tab", id)
		return err
	}
	if err := c.mat.Show(ctx, id); err != nil {
		applog.Error("activation.show", err, "tab", id)
	}
	if !created && (reapply || c.stale(tab)) {
		if err := c.mat.Navigate(ctx, id, frameURL(tab.URL)); err != nil {
			applog.Error("activation.navigate", err, "tab", id)
			return err
		}
	}
	if evicted := c.mat.EnforceMemoryLimits(ctx); len(evicted) > 0 {
		applog.Info("activation.evicted", "tab", id, "evicted", len(evicted))
	}

	c.publish(tab)
	return nil
}

// stale reports whether the tab's frame shows something other than its
// URL, e.g. after the tab was navigated or reloaded while in the background.
func (c *Controller) stale(tab types.Tab) bool {
	url, ok := c.mat.URL(tab.ID.Local())
	return ok && url != frameURL(tab.URL)
}

func frameURL(url string) string {
	if url == "" {
		return types.EmptyURL
	}
	return url
}

// Navigate points tab id at rawURL. Bare input gets an https:// prefix.
// The frame is only touched when the tab is active; background tabs pick
// the URL up on their next activation.
func (c *Controller) Navigate(ctx context.Context, id types.LocalID, rawURL string) error {
	url := analyzer.NormalizeURL(rawURL)
	if url == "" {
		url = types.EmptyURL
	}

	var tab types.Tab
	if c.saver != nil {
		saved, err := c.saver.SaveURL(ctx, id, url)
		if err != nil {
			return err
		}
		tab = saved
	} else {
		patched, ok := c.reg.Patch(id, registry.TabPatch{URL: &url})
		if !ok {
			return fmt.Errorf("navigate %d: %w", id, registry.ErrUnknownTab)
		}
		tab = patched
	}

	if !tab.Active {
		return nil
	}
	created, err := c.mat.Ensure(ctx, tab)
	if err != nil {
		return err
	}
	if !created {
		if err := c.mat.Navigate(ctx, id, url); err != nil {
			return err
		}
	}
	c.publish(tab)
	return nil
}

// Announce republishes the active tab's state, e.g. after its title was
// derived from the loaded page. Inactive tabs are ignored.
func (c *Controller) Announce(id types.LocalID) {
	tab, ok := c.reg.Get(id)
	if !ok || !tab.Active {
		return
	}
	c.publish(tab)
}

func (c *Controller) publish(tab types.Tab) {
	c.bus.Publish(eventbus.Navigation{
		TabID: tab.ID.Local(),
		Title: tab.Title,
		URL:   tab.URL,
	})
}
