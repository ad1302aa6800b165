package firefox

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/lotas/tabsync/internal/analyzer"
	"github.com/pierrec/lz4/v4"
)

func TestIntegration_FullPipeline(t *testing.T) {
	// Create a fake profile directory with a session file
	profileDir := t.TempDir()
	backupDir := filepath.Join(profileDir, "sessionstore-backups")
	os.MkdirAll(backupDir, 0755)

	sessionJSON := `{
		"version": ["sessionrestore", 1],
		"windows": [{
			"tabs": [
				{
					"entries": [{"url": "https://example.com", "title": "Example"}],
					"index": 1,
					"lastAccessed": 1000000000000,
					"groupId": "g1"
				},
				{
					"entries": [{"url": "https://example.com", "title": "Example Dup"}],
					"index": 1,
					"lastAccessed": 1000000000000,
					"groupId": "g1"
				},
				{
					"entries": [{"url": "https://other.com/page", "title": "Other"}],
					"index": 1,
					"lastAccessed": 1707654321000
				}
			],
			"groups": [
				{"id": "g1", "name": "Test Group", "color": "blue", "collapsed": false}
			]
		}]
	}`

	// Compress to mozlz4
	jsonBytes := []byte(sessionJSON)
	compressed := make([]byte, lz4.CompressBlockBound(len(jsonBytes)))
	n, err := lz4.CompressBlock(jsonBytes, compressed, nil)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	mozlz4 := make([]byte, 0, 12+n)
	mozlz4 = append(mozlz4, []byte("mozLz40\x00")...)
	sizeBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeBuf, uint32(len(jsonBytes)))
	mozlz4 = append(mozlz4, sizeBuf...)
	mozlz4 = append(mozlz4, compressed[:n]...)

	os.WriteFile(filepath.Join(backupDir, "recovery.jsonlz4"), mozlz4, 0644)

	// Run the full pipeline
	data, err := ReadSessionFile(profileDir)
	if err != nil {
		t.Fatalf("read session: %v", err)
	}

	kept, dropped := analyzer.Dedup(data.Tabs)
	stats := analyzer.ComputeStats(data.Tabs, data.Spaces)

	if stats.TotalTabs != 3 {
		t.Errorf("expected 3 tabs, got %d", stats.TotalTabs)
	}
	if stats.Spaces != 1 {
		t.Errorf("expected 1 space, got %d", stats.Spaces)
	}
	if stats.PersonalTabs != 1 {
		t.Errorf("expected 1 personal tab, got %d", stats.PersonalTabs)
	}
	if len(kept) != 2 || len(dropped) != 1 {
		t.Errorf("expected 1 duplicate, got kept=%d dropped=%d", len(kept), len(dropped))
	}
}
