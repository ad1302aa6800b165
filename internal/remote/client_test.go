package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func jsonResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestListTabsDecodesMixedIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/tabs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("expected bearer token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": 12, "title": "A", "url": "https://a.com", "position": 0, "spaceId": null, "createdAt": "2026-01-01T10:00:00Z"},
			{"id": "b-7", "title": "B", "url": "https://b.com", "position": null, "spaceId": 3, "avatarEmoji": "🚀"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/", WithToken("secret"))
	tabs, err := c.ListTabs(context.Background())
	if err != nil {
		t.Fatalf("ListTabs: %v", err)
	}
	if len(tabs) != 2 {
		t.Fatalf("expected 2 tabs, got %d", len(tabs))
	}
	if tabs[0].ID != "12" || tabs[0].SpaceID != "" || tabs[0].Position == nil || *tabs[0].Position != 0 {
		t.Errorf("unexpected first tab %+v", tabs[0])
	}
	if tabs[1].ID != "b-7" || tabs[1].SpaceID != "3" || tabs[1].Position != nil {
		t.Errorf("unexpected second tab %+v", tabs[1])
	}
	if tabs[1].Avatar().Emoji != "🚀" {
		t.Errorf("avatar not decoded: %+v", tabs[1].Avatar())
	}
}

func TestUnlabelledJSONIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No Content-Type: net/http sniffs text/plain.
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`[{"id": 1, "url": "https://a.com", "position": 0}, {"id": 2, "url": "https://b.com", "position": 1}]`))
		case http.MethodPost:
			w.Write([]byte(`{"id": 9, "url": "https://c.com", "position": 2}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	tabs, err := c.ListTabs(context.Background())
	if err != nil {
		t.Fatalf("ListTabs: %v", err)
	}
	if len(tabs) != 2 || tabs[1].ID != "2" {
		t.Fatalf("expected 2 decoded tabs, got %+v", tabs)
	}

	created, err := c.CreateTab(context.Background(), CreateTabRequest{URL: "https://c.com", Type: TypeBrowser})
	if err != nil {
		t.Fatalf("CreateTab: %v", err)
	}
	if created.ID != "9" {
		t.Errorf("created id = %q, want 9", created.ID)
	}
}

func TestCreateTabSendsNullSpaceForPersonal(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tabs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		jsonResponse(w, http.StatusCreated, map[string]any{"id": 99, "url": "https://a.com", "title": "a.com"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	tab, err := c.CreateTab(context.Background(), CreateTabRequest{URL: "https://a.com"})
	if err != nil {
		t.Fatalf("CreateTab: %v", err)
	}
	if tab.ID != "99" {
		t.Errorf("expected id 99, got %q", tab.ID)
	}
	if v, ok := body["spaceId"]; !ok || v != nil {
		t.Errorf("expected explicit null spaceId, got %v", body)
	}
	if _, ok := body["title"]; ok {
		t.Error("empty title must be omitted so the server derives it")
	}
	if body["type"] != TypeBrowser {
		t.Errorf("expected default type %q, got %v", TypeBrowser, body["type"])
	}
}

func TestDeleteTabNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/tabs/42" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		http.Error(w, "no such tab", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).DeleteTab(context.Background(), "42")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound {
		t.Errorf("expected StatusError 404, got %v", err)
	}
}

func TestReorderTabsBody(t *testing.T) {
	var got reorderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tabs/reorder" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		jsonResponse(w, http.StatusOK, map[string]bool{"ok": true})
	}))
	defer srv.Close()

	err := NewClient(srv.URL).ReorderTabs(context.Background(), []PositionUpdate{
		{ID: "a", Position: 0},
		{ID: "b", Position: 1},
	})
	if err != nil {
		t.Fatalf("ReorderTabs: %v", err)
	}
	if len(got.Updates) != 2 || got.Updates[1].ID != "b" || got.Updates[1].Position != 1 {
		t.Errorf("unexpected body %+v", got)
	}
}

func TestReorderTabsEmptySkipsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	if err := NewClient(srv.URL).ReorderTabs(context.Background(), nil); err != nil {
		t.Fatalf("ReorderTabs: %v", err)
	}
}

func TestServerErrorIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).UpdateTab(context.Background(), "1", TabUpdate{})
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusBadGateway {
		t.Fatalf("expected 502 StatusError, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("502 must not match ErrNotFound")
	}
}

func TestCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewClient(srv.URL).ListTabs(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}
