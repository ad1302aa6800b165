package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/lotas/tabsync/internal/drag"
	"github.com/lotas/tabsync/internal/eventbus"
	"github.com/lotas/tabsync/internal/registry"
	"github.com/lotas/tabsync/internal/remote"
	"github.com/lotas/tabsync/internal/types"
)

var errUnavailable = errors.New("503 service unavailable")

type fakeStore struct {
	mu       sync.Mutex
	tabs     []remote.Tab
	spaces   []remote.Space
	next     int
	fail     map[string]error
	gate     chan struct{}
	lists    int
	deletes  []types.RemoteID
	reorders [][]remote.PositionUpdate
	updates  map[types.RemoteID][]remote.TabUpdate
	spaceUps map[string][]remote.SpaceUpdate
}

func newFakeStore(tabs ...remote.Tab) *fakeStore {
	return &fakeStore{
		tabs:     tabs,
		next:     100,
		fail:     make(map[string]error),
		updates:  make(map[types.RemoteID][]remote.TabUpdate),
		spaceUps: make(map[string][]remote.SpaceUpdate),
	}
}

func (f *fakeStore) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

func (f *fakeStore) ListTabs(context.Context) ([]remote.Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if err := f.fail["list"]; err != nil {
		return nil, err
	}
	out := make([]remote.Tab, len(f.tabs))
	copy(out, f.tabs)
	return out, nil
}

func (f *fakeStore) CreateTab(_ context.Context, req remote.CreateTabRequest) (remote.Tab, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["create"]; err != nil {
		return remote.Tab{}, err
	}
	f.next++
	tab := remote.Tab{
		ID:       remote.FlexString(fmt.Sprintf("r%d", f.next)),
		URL:      req.URL,
		Title:    req.Title,
		Position: intPtr(len(f.tabs)),
	}
	if req.SpaceID != nil {
		tab.SpaceID = remote.FlexString(*req.SpaceID)
	}
	f.tabs = append(f.tabs, tab)
	return tab, nil
}

func (f *fakeStore) UpdateTab(_ context.Context, id types.RemoteID, u remote.TabUpdate) (remote.Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["update"]; err != nil {
		return remote.Tab{}, err
	}
	f.updates[id] = append(f.updates[id], u)
	for i := range f.tabs {
		if types.RemoteID(f.tabs[i].ID) != id {
			continue
		}
		if u.URL != nil {
			f.tabs[i].URL = *u.URL
		}
		if u.Title != nil {
			f.tabs[i].Title = *u.Title
		}
		if u.Overflowed != nil {
			f.tabs[i].Overflowed = *u.Overflowed
		}
		if u.SpaceID != nil {
			f.tabs[i].SpaceID = remote.FlexString(*u.SpaceID)
		}
		if u.Position != nil {
			f.tabs[i].Position = intPtr(*u.Position)
		}
		return f.tabs[i], nil
	}
	return remote.Tab{}, &remote.StatusError{Method: http.MethodPut, Path: "/tabs/" + string(id), Status: http.StatusNotFound}
}

func (f *fakeStore) DeleteTab(_ context.Context, id types.RemoteID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	if err := f.fail["delete"]; err != nil {
		return err
	}
	for i, t := range f.tabs {
		if types.RemoteID(t.ID) == id {
			f.tabs = append(f.tabs[:i], f.tabs[i+1:]...)
			return nil
		}
	}
	return &remote.StatusError{Method: http.MethodDelete, Path: "/tabs/" + string(id), Status: http.StatusNotFound}
}

func (f *fakeStore) ReorderTabs(_ context.Context, updates []remote.PositionUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reorders = append(f.reorders, updates)
	if err := f.fail["reorder"]; err != nil {
		return err
	}
	for _, u := range updates {
		for i := range f.tabs {
			if types.RemoteID(f.tabs[i].ID) == u.ID {
				f.tabs[i].Position = intPtr(u.Position)
			}
		}
	}
	return nil
}

func (f *fakeStore) ListSpaces(context.Context) ([]remote.Space, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]remote.Space, len(f.spaces))
	copy(out, f.spaces)
	return out, nil
}

func (f *fakeStore) UpdateSpace(_ context.Context, id string, u remote.SpaceUpdate) (remote.Space, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["space"]; err != nil {
		return remote.Space{}, err
	}
	f.spaceUps[id] = append(f.spaceUps[id], u)
	return remote.Space{ID: remote.FlexString(id)}, nil
}

func intPtr(v int) *int { return &v }

var epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func wireTab(id, url string, pos int) remote.Tab {
	return remote.Tab{
		ID:        remote.FlexString(id),
		URL:       url,
		Title:     id,
		Position:  intPtr(pos),
		CreatedAt: epoch.Add(time.Duration(pos) * time.Minute),
	}
}

type fixture struct {
	reg   *registry.Registry
	store *fakeStore
	bus   *eventbus.Bus
	rec   *Reconciler
}

func setup(t *testing.T, store *fakeStore, opts ...Option) *fixture {
	t.Helper()
	reg := registry.New()
	bus := eventbus.New()
	rec := New(reg, store, bus, opts...)
	t.Cleanup(rec.Wait)
	return &fixture{reg: reg, store: store, bus: bus, rec: rec}
}

func (f *fixture) load(t *testing.T) LoadResult {
	t.Helper()
	res, err := f.rec.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	f.rec.Wait()
	return res
}

func urls(tabs []types.Tab) []string {
	out := make([]string, len(tabs))
	for i, t := range tabs {
		out[i] = t.URL
	}
	return out
}

func remoteIDs(tabs []types.Tab) []string {
	out := make([]string, len(tabs))
	for i, t := range tabs {
		rid, _ := t.ID.Remote()
		out[i] = string(rid)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLoadDeduplicatesAndDeletesCopies(t *testing.T) {
	store := newFakeStore(
		wireTab("3", "https://b.com", 2),
		wireTab("1", "https://a.com", 0),
		wireTab("2", "https://a.com/", 1),
	)
	f := setup(t, store)

	res := f.load(t)
	if res.Loaded != 2 || res.Duplicates != 1 {
		t.Errorf("result = %+v, want 2 loaded, 1 duplicate", res)
	}
	if got := urls(f.reg.List()); !equal(got, []string{"https://a.com", "https://b.com"}) {
		t.Errorf("urls = %v", got)
	}
	if len(store.deletes) != 1 || store.deletes[0] != "2" {
		t.Errorf("deletes = %v, want [2]", store.deletes)
	}

	res = f.load(t)
	if res.Duplicates != 0 {
		t.Errorf("second load found %d duplicates", res.Duplicates)
	}
	if len(store.deletes) != 1 {
		t.Errorf("second load issued deletes: %v", store.deletes)
	}
}

func TestLoadKeepsRepeatedNewTabs(t *testing.T) {
	store := newFakeStore(
		wireTab("1", types.EmptyURL, 0),
		wireTab("2", types.EmptyURL, 1),
		wireTab("3", "https://a.com", 2),
	)
	f := setup(t, store)

	res := f.load(t)
	if res.Loaded != 3 || res.Duplicates != 0 {
		t.Errorf("result = %+v, want 3 loaded, 0 duplicates", res)
	}
	if len(store.deletes) != 0 {
		t.Errorf("blank tabs were deleted: %v", store.deletes)
	}
}

func TestLoadDedupOnlyTouchesPersonalTabs(t *testing.T) {
	scoped := wireTab("2", "https://a.com", 0)
	scoped.SpaceID = "p1"
	store := newFakeStore(wireTab("1", "https://a.com", 0), scoped)
	store.spaces = []remote.Space{{ID: "p1", Name: "Project", Kind: "project"}}
	f := setup(t, store)

	res := f.load(t)
	if res.Loaded != 2 || res.Duplicates != 0 {
		t.Errorf("result = %+v", res)
	}
	if got := len(f.reg.Spaces()); got != 1 {
		t.Errorf("spaces = %d, want 1", got)
	}
}

func TestLoadFailureLeavesRegistry(t *testing.T) {
	store := newFakeStore(wireTab("1", "https://a.com", 0))
	f := setup(t, store)
	f.load(t)

	store.failOn("list", errUnavailable)
	if _, err := f.rec.Load(context.Background()); !errors.Is(err, errUnavailable) {
		t.Fatalf("err = %v, want wrapped errUnavailable", err)
	}
	if f.reg.Len() != 1 {
		t.Errorf("registry len = %d after failed load", f.reg.Len())
	}
}

func TestLoadIsReadOnlyAndRepairIsExplicit(t *testing.T) {
	store := newFakeStore(
		wireTab("1", "https://a.com", 0),
		wireTab("2", "https://b.com", 0),
		wireTab("3", "https://c.com", 0),
	)
	store.tabs[1].CreatedAt = epoch.Add(time.Minute)
	store.tabs[2].CreatedAt = epoch.Add(2 * time.Minute)
	f := setup(t, store)

	res := f.load(t)
	if !res.NeedsRepair {
		t.Fatal("NeedsRepair = false, want true")
	}
	if len(store.reorders) != 0 {
		t.Fatalf("Load pushed %d reorder batches", len(store.reorders))
	}

	if n := f.rec.RepairPositions(context.Background()); n != 1 {
		t.Errorf("repaired scopes = %d, want 1", n)
	}
	f.rec.Wait()

	list := f.reg.List()
	if got := remoteIDs(list); !equal(got, []string{"1", "2", "3"}) {
		t.Errorf("order = %v", got)
	}
	for i, tab := range list {
		if tab.Position != i {
			t.Errorf("tab %d position = %d, want %d", i, tab.Position, i)
		}
	}
	if len(store.reorders) != 1 || len(store.reorders[0]) != 2 {
		t.Fatalf("reorders = %v, want one batch of 2", store.reorders)
	}

	if res := f.load(t); res.NeedsRepair {
		t.Error("NeedsRepair still set after repair")
	}
}

func TestRepairFailureIsOnlyLogged(t *testing.T) {
	store := newFakeStore(wireTab("1", "https://a.com", 0), wireTab("2", "https://b.com", 0))
	store.tabs[1].CreatedAt = epoch.Add(time.Minute)
	f := setup(t, store)
	f.load(t)
	lists := store.lists

	store.failOn("reorder", errUnavailable)
	f.rec.RepairPositions(context.Background())
	f.rec.Wait()

	if store.lists != lists {
		t.Errorf("failed repair reloaded")
	}
	tab, _ := f.reg.FindRemote("2")
	if tab.Position != 1 {
		t.Errorf("local repair lost: position = %d", tab.Position)
	}
}

func TestReorderPushesDeltaBatch(t *testing.T) {
	store := newFakeStore(
		wireTab("1", "https://a.com", 0),
		wireTab("2", "https://b.com", 1),
		wireTab("3", "https://c.com", 2),
		wireTab("4", "https://d.com", 3),
	)
	f := setup(t, store)
	f.load(t)

	three, _ := f.reg.FindRemote("3")
	if err := f.rec.Reorder(context.Background(), three.ID.Local(), 0); err != nil {
		t.Fatal(err)
	}
	// Local state changes before the network call settles.
	if got := remoteIDs(f.reg.List()); !equal(got, []string{"3", "1", "2", "4"}) {
		t.Errorf("order = %v", got)
	}
	f.rec.Wait()

	if len(store.reorders) != 1 {
		t.Fatalf("got %d batches, want 1", len(store.reorders))
	}
	batch := store.reorders[0]
	sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })
	want := []remote.PositionUpdate{{ID: "1", Position: 1}, {ID: "2", Position: 2}, {ID: "3", Position: 0}}
	if len(batch) != len(want) {
		t.Fatalf("batch = %v, want %v", batch, want)
	}
	for i := range want {
		if batch[i] != want[i] {
			t.Errorf("batch[%d] = %v, want %v", i, batch[i], want[i])
		}
	}
}

func TestReorderFailureReloads(t *testing.T) {
	store := newFakeStore(
		wireTab("1", "https://a.com", 0),
		wireTab("2", "https://b.com", 1),
		wireTab("3", "https://c.com", 2),
	)
	f := setup(t, store)
	f.load(t)
	store.failOn("reorder", errUnavailable)

	three, _ := f.reg.FindRemote("3")
	f.rec.Reorder(context.Background(), three.ID.Local(), 0)
	f.rec.Wait()

	if got := remoteIDs(f.reg.List()); !equal(got, []string{"1", "2", "3"}) {
		t.Errorf("order after failed reorder = %v, want remote order", got)
	}
	if after, _ := f.reg.FindRemote("3"); after.ID.Local() != three.ID.Local() {
		t.Errorf("reload changed local id %d -> %d", three.ID.Local(), after.ID.Local())
	}
}

func TestCreatePersistsInBackground(t *testing.T) {
	store := newFakeStore()
	f := setup(t, store)

	tab, err := f.rec.Create(context.Background(), "Example.com/docs/", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if tab.ID.IsPersisted() {
		t.Error("new tab persisted before the store answered")
	}
	if tab.URL != "https://example.com/docs" || tab.Title != "example.com" || tab.TitleFixed() {
		t.Errorf("optimistic tab = %+v", tab)
	}
	f.rec.Wait()

	got, _ := f.reg.Get(tab.ID.Local())
	if rid, ok := got.ID.Remote(); !ok || rid != "r101" {
		t.Errorf("remote id = %q, %v", rid, ok)
	}
}

func TestCreateFailureRemovesAndNotifies(t *testing.T) {
	store := newFakeStore()
	store.failOn("create", errUnavailable)
	f := setup(t, store)
	notices, cancel := f.bus.SubscribeNotices()
	defer cancel()

	tab, _ := f.rec.Create(context.Background(), "https://a.com", "A", "")
	f.rec.Wait()

	if _, ok := f.reg.Get(tab.ID.Local()); ok {
		t.Error("failed tab still in registry")
	}
	select {
	case n := <-notices:
		if n.URL != "https://a.com" || n.Message == "" {
			t.Errorf("notice = %+v", n)
		}
	default:
		t.Error("no notice published")
	}
}

func TestCloseWhileCreatingDeletesRemoteTab(t *testing.T) {
	store := newFakeStore()
	store.gate = make(chan struct{})
	f := setup(t, store)

	tab, _ := f.rec.Create(context.Background(), "https://a.com", "A", "")
	if err := f.rec.Close(context.Background(), tab.ID.Local()); err != nil {
		t.Fatal(err)
	}
	close(store.gate)
	f.rec.Wait()

	if len(store.deletes) != 1 || store.deletes[0] != "r101" {
		t.Errorf("deletes = %v, want [r101]", store.deletes)
	}
	if f.reg.Len() != 0 {
		t.Errorf("registry len = %d", f.reg.Len())
	}
}

func TestCloseNotFoundIsSuccess(t *testing.T) {
	store := newFakeStore(wireTab("1", "https://a.com", 0), wireTab("2", "https://b.com", 1))
	f := setup(t, store)
	f.load(t)
	lists := store.lists

	// Deleted elsewhere already.
	store.tabs = store.tabs[1:]
	one, _ := f.reg.FindRemote("1")
	f.rec.Close(context.Background(), one.ID.Local())
	f.rec.Wait()

	if store.lists != lists {
		t.Error("not-found delete triggered a reload")
	}
	if f.reg.Len() != 1 {
		t.Errorf("registry len = %d, want 1", f.reg.Len())
	}
}

func TestCloseFailureReloads(t *testing.T) {
	store := newFakeStore(wireTab("1", "https://a.com", 0))
	f := setup(t, store)
	f.load(t)
	store.failOn("delete", errUnavailable)

	one, _ := f.reg.FindRemote("1")
	f.rec.Close(context.Background(), one.ID.Local())
	f.rec.Wait()

	if _, ok := f.reg.FindRemote("1"); !ok {
		t.Error("tab not restored by reload after failed delete")
	}
}

func TestUpdateFailureReverts(t *testing.T) {
	store := newFakeStore(wireTab("1", "https://a.com", 0))
	f := setup(t, store)
	f.load(t)
	store.failOn("update", errUnavailable)
	lists := store.lists

	one, _ := f.reg.FindRemote("1")
	title := "Renamed"
	updated, err := f.rec.Update(context.Background(), one.ID.Local(), registry.TabPatch{Title: &title})
	if err != nil || updated.Title != "Renamed" {
		t.Fatalf("optimistic update = %+v, %v", updated, err)
	}
	f.rec.Wait()

	got, _ := f.reg.Get(one.ID.Local())
	if got.Title != "1" {
		t.Errorf("title after failed update = %q, want reverted", got.Title)
	}
	if store.lists != lists {
		t.Error("revert should not reload")
	}
}

func TestRenameFixesTitleAgainstObservedTitles(t *testing.T) {
	store := newFakeStore(wireTab("1", "https://a.com", 0))
	f := setup(t, store)
	f.load(t)
	one, _ := f.reg.FindRemote("1")
	id := one.ID.Local()
	ctx := context.Background()

	f.rec.ObserveTitle(ctx, id, "Page Title")
	if got, _ := f.reg.Get(id); got.Title != "Page Title" {
		t.Fatalf("dynamic title not applied: %q", got.Title)
	}

	f.rec.Rename(ctx, id, "Mine")
	f.rec.ObserveTitle(ctx, id, "Other Page")
	got, _ := f.reg.Get(id)
	if got.Title != "Mine" || !got.TitleFixed() {
		t.Errorf("fixed title overwritten: %+v", got)
	}

	f.rec.Rename(ctx, id, "")
	if got, _ := f.reg.Get(id); got.Title != "Page Title" || got.TitleFixed() {
		t.Errorf("clearing rename = %+v, want derived title back", got)
	}
	f.rec.Wait()

	// Survives a reload while the remote still holds the user's title.
	f.rec.Rename(ctx, id, "Mine")
	f.rec.Wait()
	f.load(t)
	if got, _ := f.reg.Get(id); !got.TitleFixed() {
		t.Errorf("reload lost fixed title: %+v", got)
	}
}

type staticTitles string

func (s staticTitles) Resolve(context.Context, string) (string, error) { return string(s), nil }

func TestCreateRefinesTitle(t *testing.T) {
	store := newFakeStore()
	f := setup(t, store, WithTitles(staticTitles("Example Docs")))

	tab, _ := f.rec.Create(context.Background(), "https://example.com/docs", "", "")
	f.rec.Wait()

	got, _ := f.reg.Get(tab.ID.Local())
	if got.Title != "Example Docs" || got.TitleFixed() {
		t.Errorf("refined tab = %+v", got)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.tabs) != 1 || store.tabs[0].Title != "Example Docs" {
		t.Errorf("remote title = %+v, want refined title pushed", store.tabs)
	}
}

func TestApplyReorderIntent(t *testing.T) {
	store := newFakeStore(
		wireTab("1", "https://a.com", 0),
		wireTab("2", "https://b.com", 1),
		wireTab("3", "https://c.com", 2),
	)
	f := setup(t, store)
	f.load(t)
	one, _ := f.reg.FindRemote("1")
	three, _ := f.reg.FindRemote("3")

	intent := drag.Intent{
		Kind:     drag.IntentReorder,
		Dragged:  drag.Item{Tab: three.ID.Local(), Container: drag.ContainerMain},
		Target:   drag.Item{Tab: one.ID.Local(), Container: drag.ContainerMain},
		Position: drag.Before,
	}
	if err := f.rec.Apply(context.Background(), intent); err != nil {
		t.Fatal(err)
	}
	if got := remoteIDs(f.reg.List()); !equal(got, []string{"3", "1", "2"}) {
		t.Errorf("order = %v", got)
	}

	intent = drag.Intent{
		Kind:     drag.IntentReorder,
		Dragged:  drag.Item{Tab: three.ID.Local(), Container: drag.ContainerMain},
		Target:   drag.Item{Tab: one.ID.Local(), Container: drag.ContainerMain},
		Position: drag.After,
	}
	f.rec.Apply(context.Background(), intent)
	if got := remoteIDs(f.reg.List()); !equal(got, []string{"1", "3", "2"}) {
		t.Errorf("order = %v", got)
	}
}

func TestApplyMoveToMoreContainer(t *testing.T) {
	store := newFakeStore(wireTab("1", "https://a.com", 0), wireTab("2", "https://b.com", 1))
	f := setup(t, store)
	f.load(t)
	two, _ := f.reg.FindRemote("2")

	intent := drag.Intent{
		Kind:    drag.IntentMoveContainer,
		Dragged: drag.Item{Tab: two.ID.Local(), Container: drag.ContainerMain},
		Target:  drag.Item{Container: drag.ContainerMore},
		From:    drag.ContainerMain,
		To:      drag.ContainerMore,
	}
	if err := f.rec.Apply(context.Background(), intent); err != nil {
		t.Fatal(err)
	}
	f.rec.Wait()

	got, _ := f.reg.Get(two.ID.Local())
	if !got.Overflowed {
		t.Error("tab not overflowed")
	}
	ups := store.updates["2"]
	if len(ups) != 1 || ups[0].Overflowed == nil || !*ups[0].Overflowed {
		t.Errorf("updates = %+v", ups)
	}
}

func TestApplyTabOntoSpaceMovesIt(t *testing.T) {
	store := newFakeStore(wireTab("1", "https://a.com", 0), wireTab("2", "https://b.com", 1))
	store.spaces = []remote.Space{{ID: "p1", Name: "Project", Kind: "project"}}
	f := setup(t, store)
	f.load(t)
	one, _ := f.reg.FindRemote("1")

	intent := drag.Intent{
		Kind:     drag.IntentMoveContainer,
		Dragged:  drag.Item{Tab: one.ID.Local(), Container: drag.ContainerMain},
		Target:   drag.Item{Kind: drag.KindSpace, Space: "p1", Container: "spaces"},
		Position: drag.Inside,
		From:     drag.ContainerMain,
		To:       "spaces",
	}
	if err := f.rec.Apply(context.Background(), intent); err != nil {
		t.Fatal(err)
	}
	f.rec.Wait()

	if got := f.reg.Scope("p1"); len(got) != 1 || got[0].ID.Local() != one.ID.Local() {
		t.Errorf("space scope = %+v", got)
	}
	if personal := f.reg.Scope(""); len(personal) != 1 || personal[0].Position != 0 {
		t.Errorf("personal scope = %+v", personal)
	}
	ups := store.updates["1"]
	if len(ups) != 1 || ups[0].SpaceID == nil || *ups[0].SpaceID != "p1" {
		t.Errorf("updates = %+v", ups)
	}
}

func TestApplySpaceInsideSpaceReparents(t *testing.T) {
	store := newFakeStore()
	store.spaces = []remote.Space{
		{ID: "p1", Name: "Parent", Kind: "project"},
		{ID: "p2", Name: "Child", Kind: "project"},
	}
	f := setup(t, store)
	f.load(t)

	intent := drag.Intent{
		Kind:     drag.IntentReorder,
		Dragged:  drag.Item{Kind: drag.KindSpace, Space: "p2"},
		Target:   drag.Item{Kind: drag.KindSpace, Space: "p1"},
		Position: drag.Inside,
	}
	if err := f.rec.Apply(context.Background(), intent); err != nil {
		t.Fatal(err)
	}
	f.rec.Wait()

	if s, _ := f.reg.Space("p2"); s.ParentID != "p1" {
		t.Errorf("parent = %q, want p1", s.ParentID)
	}
	if ups := store.spaceUps["p2"]; len(ups) != 1 || *ups[0].ParentID != "p1" {
		t.Errorf("space updates = %+v", ups)
	}

	// The parent cannot move into its own child.
	intent.Dragged, intent.Target = intent.Target, intent.Dragged
	if err := f.rec.Apply(context.Background(), intent); !errors.Is(err, registry.ErrSpaceCycle) {
		t.Errorf("err = %v, want ErrSpaceCycle", err)
	}
}

func TestSetExpandedRevertsOnFailure(t *testing.T) {
	store := newFakeStore()
	store.spaces = []remote.Space{{ID: "p1", Name: "Project", Kind: "project"}}
	store.failOn("space", errUnavailable)
	f := setup(t, store)
	f.load(t)

	if err := f.rec.SetExpanded(context.Background(), "p1", true); err != nil {
		t.Fatal(err)
	}
	f.rec.Wait()
	if s, _ := f.reg.Space("p1"); s.IsExpanded {
		t.Error("expansion not reverted after failure")
	}
}

type memCache struct {
	mu    sync.Mutex
	saved []types.Session
}

func (c *memCache) SaveSession(_ context.Context, s types.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = append(c.saved, s)
	return nil
}

func TestLoadWritesCache(t *testing.T) {
	cache := &memCache{}
	store := newFakeStore(wireTab("1", "https://a.com", 0))
	f := setup(t, store, WithCache(cache))
	f.load(t)

	if len(cache.saved) != 1 || len(cache.saved[0].Tabs) != 1 {
		t.Errorf("cache = %+v", cache.saved)
	}
}

func TestHydrateThenLoadKeepsLocalIDs(t *testing.T) {
	store := newFakeStore(wireTab("1", "https://a.com", 0), wireTab("2", "https://b.com", 1))
	f := setup(t, store)

	cached := types.Session{Tabs: []types.Tab{
		{ID: types.Persisted(0, "1"), URL: "https://a.com", Title: "1"},
		{ID: types.Persisted(0, "2"), URL: "https://b.com", Title: "Mine", DerivedTitle: "2", Position: 1, Active: true},
		{ID: types.Persisted(0, "9"), URL: "https://gone.com", Position: 2},
	}}
	if n := f.rec.Hydrate(cached); n != 3 {
		t.Fatalf("hydrated %d tabs", n)
	}
	two, _ := f.reg.FindRemote("2")
	if !two.Active || !two.TitleFixed() {
		t.Errorf("hydrated tab = %+v", two)
	}

	f.load(t)
	if f.reg.Len() != 2 {
		t.Errorf("registry len = %d after load, want 2", f.reg.Len())
	}
	after, _ := f.reg.FindRemote("2")
	if after.ID.Local() != two.ID.Local() || !after.Active {
		t.Errorf("load replaced hydrated tab: %+v", after)
	}
}

func TestImportSkipsOpenTabs(t *testing.T) {
	store := newFakeStore(wireTab("1", "https://a.com", 0))
	f := setup(t, store)
	f.load(t)

	in := types.Session{Tabs: []types.Tab{
		{URL: "https://a.com/", Title: "dup"},
		{URL: "https://b.com", Title: "Fixed", DerivedTitle: "b.com"},
		{URL: "https://b.com", Title: "again"},
		{URL: types.EmptyURL},
		{URL: "https://c.com", SpaceID: "unknown"},
	}}
	if n := f.rec.Import(context.Background(), in); n != 2 {
		t.Errorf("created %d tabs, want 2", n)
	}
	f.rec.Wait()

	if got := urls(f.reg.List()); !equal(got, []string{"https://a.com", "https://b.com", "https://c.com"}) {
		t.Errorf("urls = %v", got)
	}
	b := f.reg.List()[1]
	if b.Title != "Fixed" || !b.ID.IsPersisted() {
		t.Errorf("imported tab = %+v", b)
	}
}
