package firefox

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/pierrec/lz4/v4"
)

func TestDecompressMozLz4(t *testing.T) {
	t.Run("valid mozlz4 payload", func(t *testing.T) {
		original := []byte(`{"windows":[{"tabs":[]}]}`)

		// Compress with lz4 block compression.
		dst := make([]byte, lz4.CompressBlockBound(len(original)))
		n, err := lz4.CompressBlock(original, dst, nil)
		if err != nil {
			t.Fatalf("lz4.CompressBlock failed: %v", err)
		}
		compressed := dst[:n]

		// Build mozlz4 payload: 8-byte magic + 4-byte LE uint32 size + compressed data.
		magic := []byte("mozLz40\x00")
		sizeBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(sizeBytes, uint32(len(original)))

		payload := make([]byte, 0, len(magic)+len(sizeBytes)+len(compressed))
		payload = append(payload, magic...)
		payload = append(payload, sizeBytes...)
		payload = append(payload, compressed...)

		result, err := DecompressMozLz4(payload)
		if err != nil {
			t.Fatalf("DecompressMozLz4 returned error: %v", err)
		}
		if string(result) != string(original) {
			t.Errorf("expected %q, got %q", string(original), string(result))
		}
	})

	t.Run("invalid header returns error", func(t *testing.T) {
		// Wrong magic bytes.
		bad := []byte("BADMAGIC\x00\x00\x00\x00some data here")
		_, err := DecompressMozLz4(bad)
		if err == nil {
			t.Fatal("expected error for invalid header, got nil")
		}
	})

	t.Run("too short data returns error", func(t *testing.T) {
		short := []byte("mozLz40")
		_, err := DecompressMozLz4(short)
		if err == nil {
			t.Fatal("expected error for too-short data, got nil")
		}
	})
}

func TestParseSession(t *testing.T) {
	// Build a session JSON with:
	// - 1 window, 2 tabs, 1 group
	// - Tab 0: single entry, group="group-1", lastAccessed=1707654321000
	// - Tab 1: 2 entries, index=2 (current page is entries[1]), no group
	// - Group: id="group-1", name="Work", color="blue", collapsed=false
	session := map[string]interface{}{
		"windows": []map[string]interface{}{
			{
				"tabs": []map[string]interface{}{
					{
						"entries": []map[string]interface{}{
							{"url": "https://example.com", "title": "Example"},
						},
						"index":        1,
						"lastAccessed": 1707654321000,
						"image":        "https://example.com/favicon.ico",
						"groupId":      "group-1",
					},
					{
						"entries": []map[string]interface{}{
							{"url": "https://old.com", "title": "Old Page"},
							{"url": "https://current.com", "title": "Current Page"},
						},
						"index":        2,
						"lastAccessed": 1707654999000,
						"image":        "",
					},
				},
				"groups": []map[string]interface{}{
					{
						"id":        "group-1",
						"name":      "Work",
						"color":     "blue",
						"collapsed": false,
					},
				},
			},
		},
	}

	data, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("json.Marshal failed: %v", err)
	}

	sd, err := ParseSession(data)
	if err != nil {
		t.Fatalf("ParseSession returned error: %v", err)
	}

	if len(sd.Spaces) != 1 {
		t.Fatalf("expected 1 space, got %d", len(sd.Spaces))
	}
	work := sd.Spaces[0]
	if work.ID != "firefox:group-1" || work.Name != "Work" || !work.IsExpanded {
		t.Errorf("unexpected space %+v", work)
	}

	if len(sd.Tabs) != 2 {
		t.Fatalf("expected 2 tabs, got %d", len(sd.Tabs))
	}
	tab0 := sd.Tabs[0]
	if tab0.URL != "https://example.com" || tab0.Title != "Example" {
		t.Errorf("tab0: got %q %q", tab0.URL, tab0.Title)
	}
	if tab0.SpaceID != "firefox:group-1" || tab0.Position != 0 {
		t.Errorf("tab0 placement: space=%q position=%d", tab0.SpaceID, tab0.Position)
	}
	// lastAccessed=1707654321000 -> time.UnixMilli(1707654321000)
	if tab0.LastAccessed.UnixMilli() != 1707654321000 {
		t.Errorf("tab0 LastAccessed: expected 1707654321000, got %d", tab0.LastAccessed.UnixMilli())
	}

	tab1 := sd.Tabs[1]
	// index=2 means entries[1] is the current page.
	if tab1.URL != "https://current.com" || tab1.Title != "Current Page" {
		t.Errorf("tab1: got %q %q", tab1.URL, tab1.Title)
	}
	if !tab1.Personal() || tab1.Position != 0 {
		t.Errorf("tab1 placement: space=%q position=%d", tab1.SpaceID, tab1.Position)
	}
}

func TestParseSessionSkipsBrowserPages(t *testing.T) {
	data := []byte(`{"windows":[{"tabs":[
		{"entries":[{"url":"about:preferences"}],"index":1},
		{"entries":[],"index":1},
		{"entries":[{"url":"https://kept.com"}],"index":1,"groupId":"missing"}
	]}]}`)

	sd, err := ParseSession(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(sd.Tabs) != 1 || sd.Tabs[0].URL != "https://kept.com" {
		t.Fatalf("tabs = %+v", sd.Tabs)
	}
	if !sd.Tabs[0].Personal() {
		t.Error("tab in an undefined group should be personal")
	}
}
