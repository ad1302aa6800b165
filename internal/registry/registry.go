package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/lotas/tabsync/internal/types"
)

var (
	ErrUnknownTab        = errors.New("unknown tab")
	ErrUnknownSpace      = errors.New("unknown space")
	ErrIdentityImmutable = errors.New("remote identity already set")
	ErrSpaceCycle        = errors.New("space cannot be nested inside itself")
)

// ChangeKind says which primitive produced a Change.
type ChangeKind int

const (
	ChangeInserted ChangeKind = iota
	ChangeRemoved
	ChangeActivated
	ChangeReordered
	ChangeMoved
	ChangePatched
	ChangePersisted
	ChangeReset
	ChangeSpaces
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInserted:
		return "inserted"
	case ChangeRemoved:
		return "removed"
	case ChangeActivated:
		return "activated"
	case ChangeReordered:
		return "reordered"
	case ChangeMoved:
		return "moved"
	case ChangePatched:
		return "patched"
	case ChangePersisted:
		return "persisted"
	case ChangeReset:
		return "reset"
	case ChangeSpaces:
		return "spaces"
	}
	return "unknown"
}

// Change is delivered to subscribers after a mutation has been applied.
// Tab holds the affected tab after the change (before it, for removals).
// Removed lists tabs dropped by a Reset.
type Change struct {
	Kind    ChangeKind
	Tab     types.Tab
	Removed []types.LocalID
}

// TabInit describes a tab to insert. A nil Position appends to the end of
// the tab's scope.
type TabInit struct {
	Remote       types.RemoteID
	URL          string
	Title        string
	DerivedTitle string
	Position     *int
	SpaceID      string
	Active       bool
	Overflowed   bool
	Avatar       types.Avatar
	CreatedAt    time.Time
	LastAccessed time.Time
}

// At is a helper for TabInit.Position.
func At(position int) *int { return &position }

// TabPatch lists the fields Patch may change. Nil fields are left alone.
type TabPatch struct {
	URL          *string
	Title        *string
	DerivedTitle *string
	Avatar       *types.Avatar
	Overflowed   *bool
	LastAccessed *time.Time
}

// Empty reports whether the patch changes nothing.
func (p TabPatch) Empty() bool {
	return p.URL == nil && p.Title == nil && p.DerivedTitle == nil &&
		p.Avatar == nil && p.Overflowed == nil && p.LastAccessed == nil
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides time.Now for CreatedAt defaults.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry is the in-memory tab state. Every mutation is synchronous and
// leaves the registry with exactly one active tab whenever it is non-empty.
// Subscribers are called after the lock is released.
type Registry struct {
	mu     sync.RWMutex
	tabs   map[types.LocalID]*types.Tab
	spaces []types.Space
	nextID types.LocalID
	now    func() time.Time

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		tabs: make(map[types.LocalID]*types.Tab),
		now:  time.Now,
		subs: make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers fn for every future change and returns a cancel func.
func (r *Registry) Subscribe(fn func(Change)) func() {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.subMu.Unlock()
	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

func (r *Registry) notify(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	r.subMu.Lock()
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.subs[id])
	}
	r.subMu.Unlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

// --- Reads ---

// Len returns the number of tabs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}

// Get returns a copy of the tab with the given local id.
func (r *Registry) Get(id types.LocalID) (types.Tab, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tabs[id]
	if !ok {
		return types.Tab{}, false
	}
	return *t, true
}

// FindRemote returns the tab persisted under the given remote id.
func (r *Registry) FindRemote(remote types.RemoteID) (types.Tab, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tabs {
		if rid, ok := t.ID.Remote(); ok && rid == remote {
			return *t, true
		}
	}
	return types.Tab{}, false
}

// Active returns the active tab.
func (r *Registry) Active() (types.Tab, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tabs {
		if t.Active {
			return *t, true
		}
	}
	return types.Tab{}, false
}

// List returns all tabs: personal tabs first, then each space in the order
// of Spaces, each scope ordered by position.
func (r *Registry) List() []types.Tab {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spaceOrder := make(map[string]int, len(r.spaces))
	for i, s := range r.spaces {
		spaceOrder[s.ID] = i + 1
	}
	all := make([]*types.Tab, 0, len(r.tabs))
	for _, t := range r.tabs {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.SpaceID != b.SpaceID {
			oa, ob := scopeRank(spaceOrder, a.SpaceID), scopeRank(spaceOrder, b.SpaceID)
			if oa != ob {
				return oa < ob
			}
			return a.SpaceID < b.SpaceID
		}
		return tabLess(a, b)
	})
	return copyTabs(all)
}

func scopeRank(order map[string]int, spaceID string) int {
	if spaceID == "" {
		return 0
	}
	if rank, ok := order[spaceID]; ok {
		return rank
	}
	return len(order) + 1
}

// Scope returns the tabs of one scope ("" = personal) in position order.
func (r *Registry) Scope(spaceID string) []types.Tab {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyTabs(r.scopeLocked(spaceID))
}

func (r *Registry) scopeLocked(spaceID string) []*types.Tab {
	var out []*types.Tab
	for _, t := range r.tabs {
		if t.SpaceID == spaceID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return tabLess(out[i], out[j]) })
	return out
}

// tabLess orders by position, ties broken by creation time, then local id.
func tabLess(a, b *types.Tab) bool {
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.Local() < b.ID.Local()
}

func copyTabs(in []*types.Tab) []types.Tab {
	out := make([]types.Tab, len(in))
	for i, t := range in {
		out[i] = *t
	}
	return out
}

// --- Tab mutations ---

// Insert adds a tab under the next local id. The first tab of an empty
// registry, or one inserted with Active set, becomes the active tab.
func (r *Registry) Insert(init TabInit) types.Tab {
	r.mu.Lock()
	t := r.insertLocked(init)
	var changes []Change
	if init.Active || len(r.tabs) == 1 {
		r.activateLocked(t.ID.Local())
	}
	changes = append(changes, Change{Kind: ChangeInserted, Tab: *t})
	out := *t
	r.mu.Unlock()

	r.notify(changes...)
	return out
}

func (r *Registry) insertLocked(init TabInit) *types.Tab {
	r.nextID++
	id := r.nextID

	created := init.CreatedAt
	if created.IsZero() {
		created = r.now()
	}
	accessed := init.LastAccessed
	if accessed.IsZero() {
		accessed = created
	}
	position := len(r.scopeLocked(init.SpaceID))
	if init.Position != nil {
		position = *init.Position
	}

	identity := types.Pending(id)
	if init.Remote != "" {
		identity = types.Persisted(id, init.Remote)
	}
	t := &types.Tab{
		ID:           identity,
		URL:          init.URL,
		Title:        init.Title,
		DerivedTitle: init.DerivedTitle,
		Position:     position,
		SpaceID:      init.SpaceID,
		Overflowed:   init.Overflowed,
		Avatar:       init.Avatar,
		CreatedAt:    created,
		LastAccessed: accessed,
		Revision:     1,
	}
	r.tabs[id] = t
	return t
}

// Remove deletes a tab. When the active tab goes away its neighbour in the
// same scope (next, else previous, else the first tab overall) takes over.
func (r *Registry) Remove(id types.LocalID) (types.Tab, bool) {
	r.mu.Lock()
	t, ok := r.tabs[id]
	if !ok {
		r.mu.Unlock()
		return types.Tab{}, false
	}

	var successor types.LocalID
	if t.Active {
		scope := r.scopeLocked(t.SpaceID)
		for i, s := range scope {
			if s.ID.Local() != id {
				continue
			}
			if i+1 < len(scope) {
				successor = scope[i+1].ID.Local()
			} else if i > 0 {
				successor = scope[i-1].ID.Local()
			}
			break
		}
	}
	delete(r.tabs, id)
	removed := *t

	changes := []Change{{Kind: ChangeRemoved, Tab: removed}}
	if removed.Active && len(r.tabs) > 0 {
		if successor == 0 {
			successor = r.firstLocked()
		}
		r.activateLocked(successor)
		changes = append(changes, Change{Kind: ChangeActivated, Tab: *r.tabs[successor]})
	}
	r.mu.Unlock()

	r.notify(changes...)
	return removed, true
}

func (r *Registry) firstLocked() types.LocalID {
	var first *types.Tab
	for _, t := range r.tabs {
		if first == nil || listsBefore(t, first) {
			first = t
		}
	}
	if first == nil {
		return 0
	}
	return first.ID.Local()
}

// listsBefore orders personal tabs ahead of space tabs.
func listsBefore(a, b *types.Tab) bool {
	if a.SpaceID != b.SpaceID {
		if a.SpaceID == "" || b.SpaceID == "" {
			return a.SpaceID == ""
		}
		return a.SpaceID < b.SpaceID
	}
	return tabLess(a, b)
}

// SetActive makes id the only active tab. Unknown ids are ignored.
func (r *Registry) SetActive(id types.LocalID) bool {
	r.mu.Lock()
	t, ok := r.tabs[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	r.activateLocked(id)
	change := Change{Kind: ChangeActivated, Tab: *t}
	r.mu.Unlock()

	r.notify(change)
	return true
}

func (r *Registry) activateLocked(id types.LocalID) {
	for tid, t := range r.tabs {
		want := tid == id
		if t.Active != want {
			t.Active = want
			t.Revision++
		}
	}
}

// Reorder moves a tab to newPosition within its scope and renumbers the
// scope to 0..n-1. Out-of-range positions are clamped.
func (r *Registry) Reorder(id types.LocalID, newPosition int) bool {
	r.mu.Lock()
	t, ok := r.tabs[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	r.placeLocked(t, t.SpaceID, newPosition)
	change := Change{Kind: ChangeReordered, Tab: *t}
	r.mu.Unlock()

	r.notify(change)
	return true
}

// Move puts a tab into another scope at the given position. Both the old
// and the new scope end up contiguous.
func (r *Registry) Move(id types.LocalID, spaceID string, position int) bool {
	r.mu.Lock()
	t, ok := r.tabs[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	from := t.SpaceID
	r.placeLocked(t, spaceID, position)
	if from != spaceID {
		r.renumberLocked(r.scopeLocked(from))
	}
	change := Change{Kind: ChangeMoved, Tab: *t}
	r.mu.Unlock()

	r.notify(change)
	return true
}

func (r *Registry) placeLocked(t *types.Tab, spaceID string, position int) {
	var siblings []*types.Tab
	for _, s := range r.scopeLocked(spaceID) {
		if s != t {
			siblings = append(siblings, s)
		}
	}
	if position < 0 {
		position = 0
	}
	if position > len(siblings) {
		position = len(siblings)
	}
	if t.SpaceID != spaceID {
		t.SpaceID = spaceID
		t.Revision++
	}

	ordered := make([]*types.Tab, 0, len(siblings)+1)
	ordered = append(ordered, siblings[:position]...)
	ordered = append(ordered, t)
	ordered = append(ordered, siblings[position:]...)
	r.renumberLocked(ordered)
}

func (r *Registry) renumberLocked(ordered []*types.Tab) {
	for i, s := range ordered {
		if s.Position != i {
			s.Position = i
			s.Revision++
		}
	}
}

// Renumber makes one scope contiguous without changing its order.
func (r *Registry) Renumber(spaceID string) {
	r.mu.Lock()
	scope := r.scopeLocked(spaceID)
	r.renumberLocked(scope)
	var changes []Change
	for _, t := range scope {
		changes = append(changes, Change{Kind: ChangeReordered, Tab: *t})
	}
	r.mu.Unlock()

	r.notify(changes...)
}

// SetPositions assigns raw positions without renumbering. Used to apply
// repaired positions computed outside the registry.
func (r *Registry) SetPositions(positions map[types.LocalID]int) {
	r.mu.Lock()
	var changes []Change
	for id, pos := range positions {
		t, ok := r.tabs[id]
		if !ok || t.Position == pos {
			continue
		}
		t.Position = pos
		t.Revision++
		changes = append(changes, Change{Kind: ChangeReordered, Tab: *t})
	}
	r.mu.Unlock()

	r.notify(changes...)
}

// Patch applies the non-nil fields of p.
func (r *Registry) Patch(id types.LocalID, p TabPatch) (types.Tab, bool) {
	r.mu.Lock()
	t, ok := r.tabs[id]
	if !ok {
		r.mu.Unlock()
		return types.Tab{}, false
	}
	if p.URL != nil {
		t.URL = *p.URL
	}
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.DerivedTitle != nil {
		t.DerivedTitle = *p.DerivedTitle
	}
	if p.Avatar != nil {
		t.Avatar = *p.Avatar
	}
	if p.Overflowed != nil {
		t.Overflowed = *p.Overflowed
	}
	if p.LastAccessed != nil {
		t.LastAccessed = *p.LastAccessed
	}
	t.Revision++
	out := *t
	r.mu.Unlock()

	r.notify(Change{Kind: ChangePatched, Tab: out})
	return out, true
}

// Touch records an access for the memory-ceiling policy.
func (r *Registry) Touch(id types.LocalID, at time.Time) (types.Tab, bool) {
	return r.Patch(id, TabPatch{LastAccessed: &at})
}

// Persist attaches the remote identity. It can be set once; setting the
// same value again is a no-op.
func (r *Registry) Persist(id types.LocalID, remote types.RemoteID) (types.Tab, error) {
	r.mu.Lock()
	t, ok := r.tabs[id]
	if !ok {
		r.mu.Unlock()
		return types.Tab{}, ErrUnknownTab
	}
	if existing, persisted := t.ID.Remote(); persisted {
		out := *t
		r.mu.Unlock()
		if existing != remote {
			return out, ErrIdentityImmutable
		}
		return out, nil
	}
	t.ID = types.Persisted(id, remote)
	t.Revision++
	out := *t
	r.mu.Unlock()

	r.notify(Change{Kind: ChangePersisted, Tab: out})
	return out, nil
}

// Replace overwrites the registry with remote state. Tabs are matched by
// remote id so surviving tabs keep their local id; pending tabs that the
// remote store has not confirmed yet are kept. Returns the dropped ids.
func (r *Registry) Replace(inits []TabInit) []types.LocalID {
	r.mu.Lock()

	byRemote := make(map[types.RemoteID]*types.Tab)
	var previousActive types.LocalID
	for _, t := range r.tabs {
		if rid, ok := t.ID.Remote(); ok {
			byRemote[rid] = t
		}
		if t.Active {
			previousActive = t.ID.Local()
		}
	}

	next := make(map[types.LocalID]*types.Tab, len(inits))
	for _, t := range r.tabs {
		if !t.ID.IsPersisted() {
			next[t.ID.Local()] = t
		}
	}

	var wantActive types.LocalID
	old := r.tabs
	r.tabs = next
	for _, init := range inits {
		existing, matched := byRemote[init.Remote]
		if init.Remote == "" || !matched {
			t := r.insertLocked(init)
			if init.Active && wantActive == 0 {
				wantActive = t.ID.Local()
			}
			continue
		}
		delete(byRemote, init.Remote)
		t := *existing
		t.URL = init.URL
		t.Title = init.Title
		t.DerivedTitle = init.DerivedTitle
		t.SpaceID = init.SpaceID
		t.Overflowed = init.Overflowed
		t.Avatar = init.Avatar
		if !init.CreatedAt.IsZero() {
			t.CreatedAt = init.CreatedAt
		}
		if init.Position != nil {
			t.Position = *init.Position
		} else {
			t.Position = len(r.scopeLocked(init.SpaceID))
		}
		t.Revision++
		r.tabs[t.ID.Local()] = &t
		if init.Active && wantActive == 0 {
			wantActive = t.ID.Local()
		}
	}

	var removed []types.LocalID
	for id := range old {
		if _, ok := r.tabs[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })

	active := previousActive
	if _, ok := r.tabs[active]; !ok || active == 0 {
		active = wantActive
	}
	if _, ok := r.tabs[active]; !ok {
		active = r.firstLocked()
	}
	if active != 0 {
		r.activateLocked(active)
	}
	r.mu.Unlock()

	r.notify(Change{Kind: ChangeReset, Removed: removed})
	return removed
}

// --- Spaces ---

// SetSpaces replaces the known spaces, keeping the expansion state of
// spaces that were already known.
func (r *Registry) SetSpaces(spaces []types.Space) {
	r.mu.Lock()
	expanded := make(map[string]bool, len(r.spaces))
	for _, s := range r.spaces {
		expanded[s.ID] = s.IsExpanded
	}
	r.spaces = make([]types.Space, len(spaces))
	copy(r.spaces, spaces)
	for i, s := range r.spaces {
		if was, ok := expanded[s.ID]; ok {
			r.spaces[i].IsExpanded = was
		}
	}
	r.mu.Unlock()

	r.notify(Change{Kind: ChangeSpaces})
}

// Spaces returns the known spaces in their display order.
func (r *Registry) Spaces() []types.Space {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Space, len(r.spaces))
	copy(out, r.spaces)
	return out
}

// Space returns one space by id.
func (r *Registry) Space(id string) (types.Space, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.spaces {
		if s.ID == id {
			return s, true
		}
	}
	return types.Space{}, false
}

// SetExpanded records the tree state of a space.
func (r *Registry) SetExpanded(id string, expanded bool) bool {
	r.mu.Lock()
	found := false
	for i := range r.spaces {
		if r.spaces[i].ID == id {
			r.spaces[i].IsExpanded = expanded
			found = true
		}
	}
	r.mu.Unlock()

	if found {
		r.notify(Change{Kind: ChangeSpaces})
	}
	return found
}

// ReparentSpace nests a project under parentID ("" = top level). A parent
// that is the space itself or one of its descendants is refused.
func (r *Registry) ReparentSpace(id, parentID string) (previous string, err error) {
	r.mu.Lock()
	idx := -1
	parents := make(map[string]string, len(r.spaces))
	for i, s := range r.spaces {
		parents[s.ID] = s.ParentID
		if s.ID == id {
			idx = i
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return "", ErrUnknownSpace
	}
	if parentID != "" {
		if _, ok := parents[parentID]; !ok {
			r.mu.Unlock()
			return "", ErrUnknownSpace
		}
		for cur, hops := parentID, 0; cur != "" && hops <= len(parents); cur, hops = parents[cur], hops+1 {
			if cur == id {
				r.mu.Unlock()
				return "", ErrSpaceCycle
			}
		}
	}
	previous = r.spaces[idx].ParentID
	r.spaces[idx].ParentID = parentID
	r.mu.Unlock()

	r.notify(Change{Kind: ChangeSpaces})
	return previous, nil
}
