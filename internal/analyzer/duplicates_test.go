package analyzer

import (
	"testing"

	"github.com/lotas/tabsync/internal/types"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"https://example.com/page/", "https://example.com/page"},
		{"https://Example.COM/Page", "https://example.com/Page"},
		{"example.com/docs", "https://example.com/docs"},
		{"https://example.com/", "https://example.com"},
		{"https://example.com", "https://example.com"},
		{"https://example.com/page?B=2&a=1#Top", "https://example.com/page?B=2&a=1#Top"},
		{"https://example.com/page/?q=1", "https://example.com/page?q=1"},
		{"about:newtab", "about:newtab"},
		{"tabsync://chat", "tabsync://chat"},
	}

	for _, tt := range tests {
		got := NormalizeURL(tt.input)
		if got != tt.expected {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestNormalizeURLIsCaseSensitiveOnPath(t *testing.T) {
	same := func(a, b string) bool { return NormalizeURL(a) == NormalizeURL(b) }
	if !same("https://A.com/x", "a.com/x/") {
		t.Error("expected host case and trailing slash to be ignored")
	}
	if same("https://a.com/X", "https://a.com/x") {
		t.Error("path comparison must be case-sensitive")
	}
	if same("https://a.com/x?q=A", "https://a.com/x?q=a") {
		t.Error("query comparison must be case-sensitive")
	}
}

func TestDedupKeepsFirstOccurrence(t *testing.T) {
	tabs := []types.Tab{
		{ID: types.Persisted(1, "a1"), URL: "https://a.com"},
		{ID: types.Persisted(2, "a2"), URL: "https://a.com/"},
		{ID: types.Persisted(3, "b"), URL: "https://b.com"},
	}

	kept, dropped := Dedup(tabs)
	if len(kept) != 2 {
		t.Fatalf("expected 2 kept, got %d", len(kept))
	}
	if kept[0].ID.Local() != 1 || kept[1].ID.Local() != 3 {
		t.Errorf("unexpected kept tabs: %+v", kept)
	}
	if len(dropped) != 1 || dropped[0].ID.Local() != 2 {
		t.Errorf("unexpected dropped tabs: %+v", dropped)
	}

	again, droppedAgain := Dedup(kept)
	if len(again) != len(kept) || len(droppedAgain) != 0 {
		t.Errorf("second pass should be a no-op, dropped %d", len(droppedAgain))
	}
}

func TestDedupKeepsBlankTabs(t *testing.T) {
	tabs := []types.Tab{
		{ID: types.Persisted(1, "n1"), URL: types.EmptyURL},
		{ID: types.Persisted(2, "n2"), URL: types.EmptyURL},
		{ID: types.Persisted(3, "e1"), URL: ""},
		{ID: types.Persisted(4, "e2"), URL: ""},
		{ID: types.Persisted(5, "a"), URL: "https://a.com"},
	}

	kept, dropped := Dedup(tabs)
	if len(kept) != 5 || len(dropped) != 0 {
		t.Errorf("blank tabs must survive dedup: kept %d, dropped %+v", len(kept), dropped)
	}
}
