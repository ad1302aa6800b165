package materialize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lotas/tabsync/internal/analyzer"
	"github.com/lotas/tabsync/internal/applog"
	"github.com/lotas/tabsync/internal/registry"
	"github.com/lotas/tabsync/internal/types"
)

const (
	DefaultMaxOpenTabs       = 5
	DefaultInactivityTimeout = 15 * time.Minute
)

var ErrNotMaterialized = errors.New("tab has no frame")

// FrameHandle identifies a live content frame owned by a Frames backend.
type FrameHandle string

// Frames is the content capability: something that can render a URL in an
// isolated frame.
type Frames interface {
	Materialize(ctx context.Context, url string) (FrameHandle, error)
	Navigate(ctx context.Context, h FrameHandle, url string) error
	Destroy(ctx context.Context, h FrameHandle) error
}

// VisibilitySetter is implemented by backends that can hide a frame
// without destroying it.
type VisibilitySetter interface {
	SetVisible(ctx context.Context, h FrameHandle, visible bool) error
}

// State is the materialization sub-state of a tab.
type State int

const (
	Unmaterialized State = iota
	Hidden
	Visible
)

func (s State) String() string {
	switch s {
	case Hidden:
		return "hidden"
	case Visible:
		return "visible"
	}
	return "unmaterialized"
}

// Config holds the memory-ceiling policy.
type Config struct {
	MaxOpenTabs       int
	InactivityTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxOpenTabs <= 0 {
		c.MaxOpenTabs = DefaultMaxOpenTabs
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
	return c
}

type frame struct {
	id      types.LocalID
	handle  FrameHandle
	url     string
	visible bool
	// pending is set while the backend is still creating the frame. The
	// record reserves the tab so it is never materialized twice.
	pending bool
}

// loaded reports whether a frame holds real content and so counts against
// the ceiling. Built-in views are cheap but always count as loaded.
func (f *frame) loaded() bool {
	return types.IsInternalURL(f.url) || types.HasTarget(f.url)
}

// Materializer owns at most one frame per tab and keeps the number of
// loaded background frames under the configured ceiling.
type Materializer struct {
	mu      sync.Mutex
	frames  map[types.LocalID]*frame
	reg     *registry.Registry
	backend Frames
	cfg     Config
	now     func() time.Time
	cancel  func()
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithClock overrides time.Now for the inactivity timeout.
func WithClock(now func() time.Time) Option {
	return func(m *Materializer) { m.now = now }
}

// New creates a Materializer. It watches reg so frames of removed tabs are
// destroyed.
func New(reg *registry.Registry, backend Frames, cfg Config, opts ...Option) *Materializer {
	m := &Materializer{
		frames:  make(map[types.LocalID]*frame),
		reg:     reg,
		backend: backend,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cancel = reg.Subscribe(m.onChange)
	return m
}

// Close stops watching the registry.
func (m *Materializer) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Materializer) Config() Config { return m.cfg }

func (m *Materializer) onChange(c registry.Change) {
	switch c.Kind {
	case registry.ChangeRemoved:
		m.Forget(context.Background(), c.Tab.ID.Local())
	case registry.ChangeReset:
		for _, id := range c.Removed {
			m.Forget(context.Background(), id)
		}
	}
}

// State returns the materialization state of a tab.
func (m *Materializer) State(id types.LocalID) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.frames[id]
	switch {
	case !ok:
		return Unmaterialized
	case f.visible:
		return Visible
	default:
		return Hidden
	}
}

// Handle returns the frame handle of a materialized tab.
func (m *Materializer) Handle(id types.LocalID) (FrameHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.frames[id]
	if !ok || f.pending {
		return "", false
	}
	return f.handle, true
}

// URL returns the page the frame of id was last pointed at.
func (m *Materializer) URL(id types.LocalID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.frames[id]
	if !ok {
		return "", false
	}
	return f.url, true
}

// Materialized lists the tabs that currently own a frame.
func (m *Materializer) Materialized() []types.LocalID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]types.LocalID, 0, len(m.frames))
	for id := range m.frames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Ensure creates the frame for tab if it has none. It reports whether a
// frame was created. The backend is called without holding the lock; a
// concurrent Ensure for the same tab sees the reservation and returns
// false.
func (m *Materializer) Ensure(ctx context.Context, tab types.Tab) (bool, error) {
	id := tab.ID.Local()
	url := tab.URL
	if url == "" {
		url = types.EmptyURL
	}

	m.mu.Lock()
	if _, ok := m.frames[id]; ok {
		m.mu.Unlock()
		return false, nil
	}
	f := &frame{id: id, url: url, pending: true}
	m.frames[id] = f
	m.mu.Unlock()

	h, err := m.backend.Materialize(ctx, url)

	m.mu.Lock()
	if err != nil {
		if m.frames[id] == f {
			delete(m.frames, id)
		}
		m.mu.Unlock()
		return false, fmt.Errorf("materialize tab %d: %w", id, err)
	}
	if m.frames[id] != f {
		// Forgotten or detached while the backend was working.
		m.mu.Unlock()
		m.destroy(ctx, id, h)
		return false, fmt.Errorf("materialize tab %d: %w", id, ErrNotMaterialized)
	}
	f.handle = h
	f.pending = false
	visible, target := f.visible, f.url
	m.mu.Unlock()

	applog.Info("frame.materialized", "tab", id, "frame", h)

	// Apply what Show and Navigate recorded while the frame was pending.
	if visible {
		if setter, ok := m.backend.(VisibilitySetter); ok {
			if err := setter.SetVisible(ctx, h, true); err != nil {
				applog.Error("frame.show", err, "tab", id, "frame", h)
			}
		}
	}
	if target != url {
		if err := m.backend.Navigate(ctx, h, target); err != nil {
			applog.Error("frame.navigate", err, "tab", id, "frame", h)
		}
	}
	return true, nil
}

// Show makes the frame of id visible and hides every other frame.
func (m *Materializer) Show(ctx context.Context, id types.LocalID) error {
	type toggle struct {
		handle  FrameHandle
		visible bool
	}
	m.mu.Lock()
	if _, ok := m.frames[id]; !ok {
		m.mu.Unlock()
		return ErrNotMaterialized
	}
	var toggles []toggle
	for fid, f := range m.frames {
		want := fid == id
		if f.visible == want {
			continue
		}
		f.visible = want
		if !f.pending {
			toggles = append(toggles, toggle{handle: f.handle, visible: want})
		}
	}
	m.mu.Unlock()

	setter, ok := m.backend.(VisibilitySetter)
	if !ok {
		return nil
	}
	var firstErr error
	for _, t := range toggles {
		if err := setter.SetVisible(ctx, t.handle, t.visible); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Navigate points an existing frame at url.
func (m *Materializer) Navigate(ctx context.Context, id types.LocalID, url string) error {
	m.mu.Lock()
	f, ok := m.frames[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotMaterialized
	}
	if f.pending {
		// Ensure navigates once the frame exists.
		f.url = url
		m.mu.Unlock()
		return nil
	}
	h := f.handle
	m.mu.Unlock()

	if err := m.backend.Navigate(ctx, h, url); err != nil {
		return fmt.Errorf("navigate tab %d: %w", id, err)
	}

	m.mu.Lock()
	if m.frames[id] == f {
		f.url = url
	}
	m.mu.Unlock()
	return nil
}

// Evict destroys the frame of id. The tab itself stays in the registry and
// is re-materialized on its next activation.
func (m *Materializer) Evict(ctx context.Context, id types.LocalID) bool {
	m.mu.Lock()
	f, ok := m.removeLocked(id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	if !f.pending {
		m.destroy(ctx, id, f.handle)
	}
	return true
}

// Forget drops the frame of a tab that no longer exists.
func (m *Materializer) Forget(ctx context.Context, id types.LocalID) {
	m.Evict(ctx, id)
}

// Detach drops every frame record without calling the backend, for when
// the backend lost its frames, e.g. after the UI shell reconnected.
func (m *Materializer) Detach() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.frames)
	m.frames = make(map[types.LocalID]*frame)
	return n
}

// removeLocked unregisters the frame of id. Pending frames are destroyed by
// the Ensure that created them.
func (m *Materializer) removeLocked(id types.LocalID) (*frame, bool) {
	f, ok := m.frames[id]
	if !ok {
		return nil, false
	}
	delete(m.frames, id)
	return f, true
}

func (m *Materializer) destroy(ctx context.Context, id types.LocalID, h FrameHandle) {
	if err := m.backend.Destroy(ctx, h); err != nil {
		applog.Error("frame.destroy", err, "tab", id, "frame", h)
	}
}

// EnforceMemoryLimits evicts background frames until at most MaxOpenTabs
// loaded, non-active frames remain. Frames idle longer than the inactivity
// timeout go first, oldest first; after that the least recently accessed
// go. The active tab's frame is never evicted. Returns the evicted tabs.
func (m *Materializer) EnforceMemoryLimits(ctx context.Context) []types.LocalID {
	active, hasActive := m.reg.Active()

	type candidate struct {
		id   types.LocalID
		last time.Time
	}
	var candidates []candidate
	m.mu.Lock()
	for id, f := range m.frames {
		if hasActive && id == active.ID.Local() {
			continue
		}
		if !f.loaded() {
			continue
		}
		candidates = append(candidates, candidate{id: id})
	}
	m.mu.Unlock()

	excess := len(candidates) - m.cfg.MaxOpenTabs
	if excess <= 0 {
		return nil
	}
	for i := range candidates {
		if tab, ok := m.reg.Get(candidates[i].id); ok {
			candidates[i].last = tab.LastAccessed
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].id < candidates[j].id })

	lastOf := func(c candidate) time.Time { return c.last }
	idle, fresh := analyzer.SplitIdle(candidates, lastOf, m.now(), m.cfg.InactivityTimeout)
	order := append(idle, fresh...)

	var victims []*frame
	m.mu.Lock()
	for _, c := range order[:excess] {
		if f, ok := m.removeLocked(c.id); ok {
			victims = append(victims, f)
		}
	}
	m.mu.Unlock()

	evicted := make([]types.LocalID, 0, len(victims))
	for _, f := range victims {
		if !f.pending {
			m.destroy(ctx, f.id, f.handle)
		}
		evicted = append(evicted, f.id)
	}
	applog.Info("frame.evicted", "count", len(evicted), "idle", len(idle), "ceiling", m.cfg.MaxOpenTabs)
	return evicted
}
