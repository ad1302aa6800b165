// Package engine wires the registry, reconciler, materializer and
// activation controller into one unit that front-ends drive.
package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lotas/tabsync/internal/activation"
	"github.com/lotas/tabsync/internal/applog"
	"github.com/lotas/tabsync/internal/config"
	"github.com/lotas/tabsync/internal/eventbus"
	"github.com/lotas/tabsync/internal/materialize"
	"github.com/lotas/tabsync/internal/reconcile"
	"github.com/lotas/tabsync/internal/registry"
	"github.com/lotas/tabsync/internal/remote"
	"github.com/lotas/tabsync/internal/storage"
	"github.com/lotas/tabsync/internal/titles"
	"github.com/lotas/tabsync/internal/types"
)

// Engine owns one tab session.
type Engine struct {
	cfg     config.Config
	account string

	Registry     *registry.Registry
	Bus          *eventbus.Bus
	Materializer *materialize.Materializer
	Reconciler   *reconcile.Reconciler
	Activation   *activation.Controller

	cache *storage.Cache
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	db     *sql.DB
	titles reconcile.TitleResolver
}

// WithDB enables the local sqlite cache.
func WithDB(db *sql.DB) Option {
	return func(o *options) { o.db = db }
}

// WithTitles overrides the page-title resolver.
func WithTitles(t reconcile.TitleResolver) Option {
	return func(o *options) { o.titles = t }
}

// New wires an Engine. The materializer subscribes to the registry before
// the activation controller so a removed tab's frame is gone before its
// successor is presented.
func New(cfg config.Config, store remote.Store, frames materialize.Frames, opts ...Option) *Engine {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.titles == nil && cfg.FetchTitles {
		o.titles = titles.NewFetcher(cfg.RequestTimeout)
	}

	e := &Engine{
		cfg:      cfg,
		account:  cfg.APIURL,
		Registry: registry.New(),
		Bus:      eventbus.New(),
	}

	recOpts := []reconcile.Option{reconcile.WithRequestTimeout(cfg.RequestTimeout)}
	if o.db != nil {
		e.cache = storage.NewCache(o.db, e.account)
		recOpts = append(recOpts, reconcile.WithCache(e.cache))
	}
	if o.titles != nil {
		recOpts = append(recOpts, reconcile.WithTitles(o.titles))
	}

	e.Materializer = materialize.New(e.Registry, frames, materialize.Config{
		MaxOpenTabs:       cfg.MaxOpenTabs,
		InactivityTimeout: cfg.InactivityTimeout,
	})
	e.Reconciler = reconcile.New(e.Registry, store, e.Bus, recOpts...)
	e.Activation = activation.New(e.Registry, e.Materializer, e.Bus, e.Reconciler)
	return e
}

// Account is the key the local cache and snapshots are stored under.
func (e *Engine) Account() string { return e.account }

// Config returns the engine's configuration.
func (e *Engine) Config() config.Config { return e.cfg }

// Start hydrates the registry from the local cache, then loads the remote
// state. When nothing is active afterwards the first tab is activated. A
// cache failure is logged; a load failure is returned, leaving the cached
// tabs in place.
func (e *Engine) Start(ctx context.Context) (reconcile.LoadResult, error) {
	if e.cache != nil {
		s, ok, err := e.cache.LoadSession(ctx)
		switch {
		case err != nil:
			applog.Error("engine.cache", err)
		case ok:
			n := e.Reconciler.Hydrate(s)
			applog.Info("engine.hydrated", "tabs", n)
		}
	}

	res, err := e.Reconciler.Load(ctx)
	if err != nil {
		return res, err
	}
	if res.NeedsRepair {
		applog.Info("engine.needs_repair", "hint", "run tabsync repair")
	}
	e.ensureActive(ctx)
	return res, nil
}

func (e *Engine) ensureActive(ctx context.Context) {
	if _, ok := e.Registry.Active(); ok {
		return
	}
	tabs := e.Registry.List()
	if len(tabs) == 0 {
		return
	}
	if err := e.Activation.Activate(ctx, tabs[0].ID.Local(), activation.Options{}); err != nil {
		applog.Error("engine.activate", err, "tab", tabs[0].ID.Local())
	}
}

// NewTab opens url in spaceID (empty for personal) and activates it.
func (e *Engine) NewTab(ctx context.Context, url, title, spaceID string) (types.Tab, error) {
	tab, err := e.Reconciler.Create(ctx, url, title, spaceID)
	if err != nil {
		return types.Tab{}, err
	}
	if err := e.Activation.Activate(ctx, tab.ID.Local(), activation.Options{}); err != nil {
		return tab, fmt.Errorf("activate new tab: %w", err)
	}
	tab, _ = e.Registry.Get(tab.ID.Local())
	return tab, nil
}

// CloseTab closes a tab. When it was active the activation controller
// presents its successor.
func (e *Engine) CloseTab(ctx context.Context, id types.LocalID) error {
	return e.Reconciler.Close(ctx, id)
}

// FrameState reports a tab's materialization state as shown to front-ends.
func (e *Engine) FrameState(id types.LocalID) string {
	return e.Materializer.State(id).String()
}

// Close waits for background remote calls and detaches the controllers.
func (e *Engine) Close() {
	e.Reconciler.Wait()
	e.Activation.Close()
	e.Materializer.Close()
}
