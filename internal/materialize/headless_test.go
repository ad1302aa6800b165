package materialize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lotas/tabsync/internal/registry"
)

func TestHeadlessWithMaterializer(t *testing.T) {
	reg := registry.New()
	frames := NewHeadless()
	m := New(reg, frames, Config{MaxOpenTabs: 1, InactivityTimeout: time.Hour})
	defer m.Close()
	ctx := context.Background()

	tab := reg.Insert(registry.TabInit{URL: "https://a.com"})
	if _, err := m.Ensure(ctx, tab); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	h, ok := m.Handle(tab.ID.Local())
	if !ok {
		t.Fatal("expected a handle")
	}
	if err := m.Navigate(ctx, tab.ID.Local(), "https://b.com"); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if url, _ := frames.URL(h); url != "https://b.com" {
		t.Errorf("frame url = %q", url)
	}

	reg.Remove(tab.ID.Local())
	if frames.Len() != 0 {
		t.Errorf("expected frame destroyed, %d live", frames.Len())
	}
	if err := frames.Navigate(ctx, h, "https://c.com"); !errors.Is(err, ErrNotMaterialized) {
		t.Errorf("navigate on destroyed frame: %v", err)
	}
}
