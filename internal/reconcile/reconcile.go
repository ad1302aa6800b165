package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lotas/tabsync/internal/analyzer"
	"github.com/lotas/tabsync/internal/applog"
	"github.com/lotas/tabsync/internal/eventbus"
	"github.com/lotas/tabsync/internal/registry"
	"github.com/lotas/tabsync/internal/remote"
	"github.com/lotas/tabsync/internal/types"
)

// DefaultRequestTimeout bounds every background remote call.
const DefaultRequestTimeout = 15 * time.Second

// Cache receives a copy of the registry after every successful load.
type Cache interface {
	SaveSession(ctx context.Context, s types.Session) error
}

// TitleResolver derives a page title for a URL.
type TitleResolver interface {
	Resolve(ctx context.Context, url string) (string, error)
}

// LoadResult summarizes a Load.
type LoadResult struct {
	Loaded      int
	Duplicates  int
	NeedsRepair bool
}

// Reconciler keeps the registry and the remote store in agreement. Local
// mutations are applied first; the matching remote call runs in the
// background and failures are repaired by reverting or reloading.
type Reconciler struct {
	reg     *registry.Registry
	store   remote.Store
	bus     *eventbus.Bus
	cache   Cache
	titles  TitleResolver
	timeout time.Duration
	now     func() time.Time

	wg       sync.WaitGroup
	reloadMu sync.Mutex
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithCache writes the registry to c after each successful load.
func WithCache(c Cache) Option {
	return func(r *Reconciler) { r.cache = c }
}

// WithTitles enables page-title refinement for tabs created without a title.
func WithTitles(t TitleResolver) Option {
	return func(r *Reconciler) { r.titles = t }
}

// WithRequestTimeout bounds background remote calls.
func WithRequestTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// New creates a Reconciler.
func New(reg *registry.Registry, store remote.Store, bus *eventbus.Bus, opts ...Option) *Reconciler {
	r := &Reconciler{
		reg:     reg,
		store:   store,
		bus:     bus,
		timeout: DefaultRequestTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Wait blocks until every background remote call has finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// spawn runs fn in a tracked goroutine with a context that outlives the
// caller's but carries its values and the request timeout.
func (r *Reconciler) spawn(parent context.Context, fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
		defer cancel()
		fn(ctx)
	}()
}

// --- Load ---

// Load replaces the registry with the remote state. Personal tabs are
// deduplicated by normalized URL, keeping the earliest; the dropped copies
// are deleted remotely in the background. Load never writes positions.
func (r *Reconciler) Load(ctx context.Context) (LoadResult, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	wire, err := r.store.ListTabs(ctx)
	if err != nil {
		return LoadResult{}, fmt.Errorf("list tabs: %w", err)
	}
	spaces, err := r.store.ListSpaces(ctx)
	if err != nil {
		applog.Warn("reconcile.spaces", err)
		spaces = nil
	}

	var personal, scoped []types.Tab
	for _, w := range wire {
		tab := fromWire(w)
		if tab.Personal() {
			personal = append(personal, tab)
		} else {
			scoped = append(scoped, tab)
		}
	}
	sortByPosition(personal)
	sortByPosition(scoped)

	kept, dropped := analyzer.Dedup(personal)
	all := append(kept, scoped...)

	inits := make([]registry.TabInit, 0, len(all))
	for _, tab := range all {
		inits = append(inits, r.initFor(tab))
	}
	r.reg.Replace(inits)
	if spaces != nil {
		r.reg.SetSpaces(spacesFromWire(spaces))
	}

	for _, dup := range dropped {
		rid, _ := dup.ID.Remote()
		r.spawn(ctx, func(ctx context.Context) {
			if err := r.store.DeleteTab(ctx, rid); err != nil && !errors.Is(err, remote.ErrNotFound) {
				applog.Error("reconcile.dedup", err, "remote", rid)
			}
		})
	}

	result := LoadResult{
		Loaded:      len(all),
		Duplicates:  len(dropped),
		NeedsRepair: needsRepair(kept) || needsRepair(scoped),
	}
	applog.Info("reconcile.load", "tabs", result.Loaded, "duplicates", result.Duplicates, "repair", result.NeedsRepair)

	r.saveCache(ctx)
	return result, nil
}

// initFor converts a remote tab. A title the user fixed locally stays
// fixed as long as the remote store still reports it.
func (r *Reconciler) initFor(tab types.Tab) registry.TabInit {
	rid, _ := tab.ID.Remote()
	derived := tab.Title
	if existing, ok := r.reg.FindRemote(rid); ok && existing.TitleFixed() && existing.Title == tab.Title {
		derived = existing.DerivedTitle
	}
	return registry.TabInit{
		Remote:       rid,
		URL:          tab.URL,
		Title:        tab.Title,
		DerivedTitle: derived,
		Position:     registry.At(tab.Position),
		SpaceID:      tab.SpaceID,
		Overflowed:   tab.Overflowed,
		Avatar:       tab.Avatar,
		CreatedAt:    tab.CreatedAt,
	}
}

func (r *Reconciler) reload(ctx context.Context, reason string) {
	applog.Info("reconcile.reload", "reason", reason)
	if _, err := r.Load(ctx); err != nil {
		applog.Error("reconcile.reload", err, "reason", reason)
	}
}

func (r *Reconciler) saveCache(ctx context.Context) {
	if r.cache == nil {
		return
	}
	s := types.Session{Tabs: r.reg.List(), Spaces: r.reg.Spaces(), SavedAt: r.now()}
	if err := r.cache.SaveSession(ctx, s); err != nil {
		applog.Error("reconcile.cache", err)
	}
}

func fromWire(w remote.Tab) types.Tab {
	pos := 0
	if w.Position != nil {
		pos = *w.Position
	}
	return types.Tab{
		ID:         types.Persisted(0, types.RemoteID(w.ID)),
		URL:        w.URL,
		Title:      w.Title,
		Position:   pos,
		SpaceID:    string(w.SpaceID),
		Overflowed: w.Overflowed,
		Avatar:     w.Avatar(),
		CreatedAt:  w.CreatedAt,
	}
}

func spacesFromWire(in []remote.Space) []types.Space {
	out := make([]types.Space, 0, len(in))
	for _, s := range in {
		kind := types.SpaceKind(s.Kind)
		if kind == "" {
			kind = types.SpaceProject
		}
		out = append(out, types.Space{
			ID:         string(s.ID),
			Name:       s.Name,
			Kind:       kind,
			ParentID:   string(s.ParentID),
			IsExpanded: s.IsExpanded,
		})
	}
	return out
}

// sortByPosition orders by scope, then (position, createdAt).
func sortByPosition(tabs []types.Tab) {
	sort.SliceStable(tabs, func(i, j int) bool {
		a, b := tabs[i], tabs[j]
		if a.SpaceID != b.SpaceID {
			return a.SpaceID < b.SpaceID
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// needsRepair reports whether two or more tabs of one scope sit at
// position zero, which is what a missing position decodes to.
func needsRepair(tabs []types.Tab) bool {
	zeros := make(map[string]int)
	for _, t := range tabs {
		if t.Position == 0 {
			zeros[t.SpaceID]++
			if zeros[t.SpaceID] > 1 {
				return true
			}
		}
	}
	return false
}

// --- Position repair ---

// RepairPositions gives every tab that shares position zero with an
// earlier tab of its scope a slot after the current maximum, renumbers
// the scope and pushes the result. It returns the number of repaired
// scopes. A failed push is only logged; the next load detects the problem
// again.
func (r *Reconciler) RepairPositions(ctx context.Context) int {
	var scopes []string
	seen := make(map[string]bool)
	for _, t := range r.reg.List() {
		if !seen[t.SpaceID] {
			seen[t.SpaceID] = true
			scopes = append(scopes, t.SpaceID)
		}
	}

	var updates []remote.PositionUpdate
	repaired := 0
	for _, spaceID := range scopes {
		before := r.reg.Scope(spaceID)
		positions := repairScope(before)
		if positions == nil {
			continue
		}
		repaired++
		r.reg.SetPositions(positions)
		r.reg.Renumber(spaceID)
		updates = append(updates, positionDelta(before, r.reg.Scope(spaceID))...)
	}
	if len(updates) == 0 {
		return repaired
	}

	applog.Info("reconcile.repair", "scopes", repaired, "updates", len(updates))
	r.spawn(ctx, func(ctx context.Context) {
		if err := r.store.ReorderTabs(ctx, updates); err != nil {
			applog.Error("reconcile.repair", err, "updates", len(updates))
		}
	})
	return repaired
}

// repairScope returns new positions for the tabs of one scope (already in
// list order), or nil when at most one tab sits at zero.
func repairScope(tabs []types.Tab) map[types.LocalID]int {
	var zeros []types.Tab
	highest := 0
	for _, t := range tabs {
		if t.Position == 0 {
			zeros = append(zeros, t)
		}
		if t.Position > highest {
			highest = t.Position
		}
	}
	if len(zeros) < 2 {
		return nil
	}
	positions := make(map[types.LocalID]int, len(zeros)-1)
	for i, t := range zeros[1:] {
		positions[t.ID.Local()] = highest + 1 + i
	}
	return positions
}

// positionDelta lists the persisted tabs whose position differs between
// two snapshots.
func positionDelta(before, after []types.Tab) []remote.PositionUpdate {
	old := make(map[types.LocalID]int, len(before))
	for _, t := range before {
		old[t.ID.Local()] = t.Position
	}
	var updates []remote.PositionUpdate
	for _, t := range after {
		rid, ok := t.ID.Remote()
		if !ok {
			continue
		}
		if prev, seen := old[t.ID.Local()]; seen && prev == t.Position {
			continue
		}
		updates = append(updates, remote.PositionUpdate{ID: rid, Position: t.Position})
	}
	return updates
}

// --- Ordering ---

// Reorder moves tab id to newPosition within its scope and pushes the
// changed positions as one batch. A failed push reloads the registry.
func (r *Reconciler) Reorder(ctx context.Context, id types.LocalID, newPosition int) error {
	tab, ok := r.reg.Get(id)
	if !ok {
		return fmt.Errorf("reorder %d: %w", id, registry.ErrUnknownTab)
	}
	before := r.reg.Scope(tab.SpaceID)
	r.reg.Reorder(id, newPosition)
	r.pushPositions(ctx, positionDelta(before, r.reg.Scope(tab.SpaceID)))
	return nil
}

// Move moves tab id into another scope at position.
func (r *Reconciler) Move(ctx context.Context, id types.LocalID, spaceID string, position int) error {
	tab, ok := r.reg.Get(id)
	if !ok {
		return fmt.Errorf("move %d: %w", id, registry.ErrUnknownTab)
	}
	if tab.SpaceID == spaceID {
		return r.Reorder(ctx, id, position)
	}
	if spaceID != "" {
		if _, ok := r.reg.Space(spaceID); !ok {
			return fmt.Errorf("move %d: %w", id, registry.ErrUnknownSpace)
		}
	}

	oldScope := r.reg.Scope(tab.SpaceID)
	newScope := r.reg.Scope(spaceID)
	r.reg.Move(id, spaceID, position)
	moved, _ := r.reg.Get(id)

	delta := positionDelta(oldScope, r.reg.Scope(tab.SpaceID))
	delta = append(delta, positionDelta(newScope, r.reg.Scope(spaceID))...)

	rid, persisted := moved.ID.Remote()
	if !persisted {
		r.pushPositions(ctx, withoutRemote(delta, ""))
		return nil
	}
	delta = withoutRemote(delta, rid)
	update := remote.TabUpdate{SpaceID: &spaceID, Position: &moved.Position}
	r.spawn(ctx, func(ctx context.Context) {
		if _, err := r.store.UpdateTab(ctx, rid, update); err != nil {
			applog.Error("reconcile.move", err, "tab", id, "space", spaceID)
			r.reload(ctx, "move")
			return
		}
		if err := r.store.ReorderTabs(ctx, delta); err != nil {
			applog.Error("reconcile.move", err, "tab", id, "updates", len(delta))
			r.reload(ctx, "move")
		}
	})
	return nil
}

func withoutRemote(updates []remote.PositionUpdate, rid types.RemoteID) []remote.PositionUpdate {
	if rid == "" {
		return updates
	}
	out := updates[:0:0]
	for _, u := range updates {
		if u.ID != rid {
			out = append(out, u)
		}
	}
	return out
}

func (r *Reconciler) pushPositions(ctx context.Context, updates []remote.PositionUpdate) {
	if len(updates) == 0 {
		return
	}
	r.spawn(ctx, func(ctx context.Context) {
		if err := r.store.ReorderTabs(ctx, updates); err != nil {
			applog.Error("reconcile.reorder", err, "updates", len(updates))
			r.reload(ctx, "reorder")
		}
	})
}

// --- Create / Close ---

// Create opens a new tab. It is inserted at once as a pending tab and
// persisted in the background. When the remote store refuses it the tab is
// removed again and a notice is published. An empty title gets the
// domain placeholder, refined from the page when a TitleResolver is set.
func (r *Reconciler) Create(ctx context.Context, rawURL, title, spaceID string) (types.Tab, error) {
	if spaceID != "" {
		if _, ok := r.reg.Space(spaceID); !ok {
			return types.Tab{}, fmt.Errorf("create tab: %w", registry.ErrUnknownSpace)
		}
	}
	url := analyzer.NormalizeURL(rawURL)
	if url == "" {
		url = types.EmptyURL
	}

	init := registry.TabInit{URL: url, Title: title, SpaceID: spaceID}
	if title == "" {
		init.Title = analyzer.DomainTitle(url)
		init.DerivedTitle = init.Title
	}
	tab := r.reg.Insert(init)
	local := tab.ID.Local()

	req := remote.CreateTabRequest{URL: url, Title: title, Type: remote.TypeBrowser}
	if types.IsInternalURL(url) {
		req.Type = remote.TypeChat
	}
	if spaceID != "" {
		req.SpaceID = &spaceID
	}

	r.spawn(ctx, func(ctx context.Context) {
		created, err := r.store.CreateTab(ctx, req)
		if err != nil {
			applog.Error("reconcile.create", err, "tab", local, "url", url)
			r.reg.Remove(local)
			r.bus.Notify(eventbus.Notice{Message: "Could not open tab", URL: url})
			return
		}
		rid := types.RemoteID(created.ID)
		if _, ok := r.reg.Get(local); !ok {
			// Closed while the create was in flight.
			if err := r.store.DeleteTab(ctx, rid); err != nil && !errors.Is(err, remote.ErrNotFound) {
				applog.Error("reconcile.create", err, "tab", local, "remote", rid)
			}
			return
		}
		if _, err := r.reg.Persist(local, rid); err != nil {
			applog.Error("reconcile.persist", err, "tab", local, "remote", rid)
			return
		}
		r.syncPersisted(ctx, local, req, created)
	})

	if title == "" && r.titles != nil && types.HasTarget(url) && !types.IsInternalURL(url) {
		r.spawn(ctx, func(ctx context.Context) {
			resolved, err := r.titles.Resolve(ctx, url)
			if err != nil {
				applog.Warn("reconcile.title", err, "tab", local)
				return
			}
			r.ObserveTitle(ctx, local, resolved)
		})
	}
	return tab, nil
}

// syncPersisted pushes local changes made while the create was in flight.
func (r *Reconciler) syncPersisted(ctx context.Context, id types.LocalID, sent remote.CreateTabRequest, created remote.Tab) {
	tab, ok := r.reg.Get(id)
	if !ok {
		return
	}
	rid, _ := tab.ID.Remote()

	var update remote.TabUpdate
	changed := false
	if tab.URL != sent.URL {
		update.URL = &tab.URL
		changed = true
	}
	// An omitted title was left to the server; only push a real one.
	if tab.Title != sent.Title && (sent.Title != "" || tab.Title != analyzer.DomainTitle(tab.URL)) {
		update.Title = &tab.Title
		changed = true
	}
	sentSpace := ""
	if sent.SpaceID != nil {
		sentSpace = *sent.SpaceID
	}
	if tab.SpaceID != sentSpace {
		update.SpaceID = &tab.SpaceID
		changed = true
	}
	if created.Position == nil || *created.Position != tab.Position {
		update.Position = &tab.Position
		changed = true
	}
	if tab.Overflowed {
		update.Overflowed = &tab.Overflowed
		changed = true
	}
	if !changed {
		return
	}
	if _, err := r.store.UpdateTab(ctx, rid, update); err != nil {
		applog.Error("reconcile.sync", err, "tab", id, "remote", rid)
		r.reload(ctx, "sync")
	}
}

// Close removes tab id. Deleting a tab the remote store no longer has
// counts as success; any other failure reloads the registry.
func (r *Reconciler) Close(ctx context.Context, id types.LocalID) error {
	tab, ok := r.reg.Remove(id)
	if !ok {
		return fmt.Errorf("close %d: %w", id, registry.ErrUnknownTab)
	}
	rid, persisted := tab.ID.Remote()
	if !persisted {
		return nil
	}
	r.spawn(ctx, func(ctx context.Context) {
		err := r.store.DeleteTab(ctx, rid)
		if err == nil || errors.Is(err, remote.ErrNotFound) {
			return
		}
		applog.Error("reconcile.close", err, "tab", id, "remote", rid)
		r.reload(ctx, "close")
	})
	return nil
}

// --- Updates ---

// Update applies p locally and pushes the remote-visible fields. On
// failure the changed fields are reverted, or the registry is reloaded
// when the tab was modified again in the meantime.
func (r *Reconciler) Update(ctx context.Context, id types.LocalID, p registry.TabPatch) (types.Tab, error) {
	before, ok := r.reg.Get(id)
	if !ok {
		return types.Tab{}, fmt.Errorf("update %d: %w", id, registry.ErrUnknownTab)
	}
	if p.Empty() {
		return before, nil
	}
	after, _ := r.reg.Patch(id, p)

	update, remoteVisible := wireUpdate(p)
	rid, persisted := after.ID.Remote()
	if !remoteVisible || !persisted {
		return after, nil
	}
	r.spawn(ctx, func(ctx context.Context) {
		if _, err := r.store.UpdateTab(ctx, rid, update); err != nil {
			applog.Error("reconcile.update", err, "tab", id, "remote", rid)
			r.revert(ctx, before, p, after.Revision)
		}
	})
	return after, nil
}

func (r *Reconciler) revert(ctx context.Context, before types.Tab, p registry.TabPatch, revision uint64) {
	id := before.ID.Local()
	current, ok := r.reg.Get(id)
	if !ok {
		return
	}
	if current.Revision != revision {
		r.reload(ctx, "update")
		return
	}
	var undo registry.TabPatch
	if p.URL != nil {
		undo.URL = &before.URL
	}
	if p.Title != nil {
		undo.Title = &before.Title
	}
	if p.DerivedTitle != nil {
		undo.DerivedTitle = &before.DerivedTitle
	}
	if p.Avatar != nil {
		undo.Avatar = &before.Avatar
	}
	if p.Overflowed != nil {
		undo.Overflowed = &before.Overflowed
	}
	r.reg.Patch(id, undo)
}

func wireUpdate(p registry.TabPatch) (remote.TabUpdate, bool) {
	var u remote.TabUpdate
	ok := false
	if p.URL != nil {
		u.URL = p.URL
		ok = true
	}
	if p.Title != nil {
		u.Title = p.Title
		ok = true
	}
	if p.Avatar != nil {
		u.AvatarEmoji = &p.Avatar.Emoji
		u.AvatarColor = &p.Avatar.Color
		u.AvatarPhoto = &p.Avatar.Photo
		ok = true
	}
	if p.Overflowed != nil {
		u.Overflowed = p.Overflowed
		ok = true
	}
	return u, ok
}

// SaveURL records a user navigation.
func (r *Reconciler) SaveURL(ctx context.Context, id types.LocalID, url string) (types.Tab, error) {
	tab, ok := r.reg.Get(id)
	if !ok {
		return types.Tab{}, fmt.Errorf("navigate %d: %w", id, registry.ErrUnknownTab)
	}
	if tab.URL == url {
		return tab, nil
	}
	p := registry.TabPatch{URL: &url}
	if !tab.TitleFixed() {
		title := analyzer.DomainTitle(url)
		p.Title = &title
		p.DerivedTitle = &title
	}
	return r.Update(ctx, id, p)
}

// Rename sets a user-fixed title. An empty title makes the title dynamic
// again and restores the last derived one.
func (r *Reconciler) Rename(ctx context.Context, id types.LocalID, title string) (types.Tab, error) {
	tab, ok := r.reg.Get(id)
	if !ok {
		return types.Tab{}, fmt.Errorf("rename %d: %w", id, registry.ErrUnknownTab)
	}
	if title == "" {
		title = tab.DerivedTitle
	}
	if title == tab.Title {
		return tab, nil
	}
	return r.Update(ctx, id, registry.TabPatch{Title: &title})
}

// ObserveTitle records a title reported by the page. It is ignored while
// the user's own title is in place.
func (r *Reconciler) ObserveTitle(ctx context.Context, id types.LocalID, title string) {
	tab, ok := r.reg.Get(id)
	if !ok || title == "" || tab.TitleFixed() || tab.Title == title {
		return
	}
	if _, err := r.Update(ctx, id, registry.TabPatch{Title: &title, DerivedTitle: &title}); err != nil {
		applog.Warn("reconcile.title", err, "tab", id)
	}
}

// SetOverflowed moves a tab into or out of the "More" menu.
func (r *Reconciler) SetOverflowed(ctx context.Context, id types.LocalID, overflowed bool) error {
	tab, ok := r.reg.Get(id)
	if !ok {
		return fmt.Errorf("overflow %d: %w", id, registry.ErrUnknownTab)
	}
	if tab.Overflowed == overflowed {
		return nil
	}
	_, err := r.Update(ctx, id, registry.TabPatch{Overflowed: &overflowed})
	return err
}

// --- Spaces ---

// SetExpanded toggles a space open or closed and persists the choice.
func (r *Reconciler) SetExpanded(ctx context.Context, spaceID string, expanded bool) error {
	space, ok := r.reg.Space(spaceID)
	if !ok {
		return fmt.Errorf("expand %s: %w", spaceID, registry.ErrUnknownSpace)
	}
	if space.IsExpanded == expanded {
		return nil
	}
	r.reg.SetExpanded(spaceID, expanded)
	r.spawn(ctx, func(ctx context.Context) {
		if _, err := r.store.UpdateSpace(ctx, spaceID, remote.SpaceUpdate{IsExpanded: &expanded}); err != nil {
			applog.Error("reconcile.expand", err, "space", spaceID)
			r.reg.SetExpanded(spaceID, space.IsExpanded)
		}
	})
	return nil
}

// Reparent nests a project under parentID ("" for the top level).
func (r *Reconciler) Reparent(ctx context.Context, spaceID, parentID string) error {
	previous, err := r.reg.ReparentSpace(spaceID, parentID)
	if err != nil {
		return fmt.Errorf("reparent %s: %w", spaceID, err)
	}
	if previous == parentID {
		return nil
	}
	r.spawn(ctx, func(ctx context.Context) {
		if _, err := r.store.UpdateSpace(ctx, spaceID, remote.SpaceUpdate{ParentID: &parentID}); err != nil {
			applog.Error("reconcile.reparent", err, "space", spaceID, "parent", parentID)
			if cur, ok := r.reg.Space(spaceID); ok && cur.ParentID == parentID {
				if _, err := r.reg.ReparentSpace(spaceID, previous); err != nil {
					r.reload(ctx, "reparent")
				}
			}
		}
	})
	return nil
}
