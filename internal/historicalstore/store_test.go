package historicalstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenCreatesExpectedLayout(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := Open(root, "0xABCDEF", 5)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	base := filepath.Join(root, "historical_db", "0xabcdef")
	for _, sub := range []string{"activities", "positions", "state"} {
		if info, err := os.Stat(filepath.Join(base, sub)); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist: %v", sub, err)
		}
	}

	if err := s.Activities.Add(ActivityRecord{AssetID: "a1"}); err != nil {
		t.Fatalf("Add activity: %v", err)
	}
}

func TestSyncStateRoundTrips(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := Open(root, "0xABC", 5)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	fresh, err := s.LoadSyncState()
	if err != nil {
		t.Fatalf("LoadSyncState: %v", err)
	}
	if fresh.Address != "0xabc" || fresh.SyncInProgress {
		t.Errorf("unexpected fresh state: %+v", fresh)
	}

	fresh.LastActivityID = "act-1"
	fresh.Totals["trades"] = 3
	fresh.SyncInProgress = true
	if err := s.SaveSyncState(fresh); err != nil {
		t.Fatalf("SaveSyncState: %v", err)
	}

	loaded, err := s.LoadSyncState()
	if err != nil {
		t.Fatalf("LoadSyncState (reload): %v", err)
	}
	if loaded.LastActivityID != "act-1" || loaded.Totals["trades"] != 3 || !loaded.SyncInProgress {
		t.Errorf("unexpected reloaded state: %+v", loaded)
	}
}

func TestFlushFlushesBothWriters(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := Open(root, "0xabc", 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Activities.Add(ActivityRecord{AssetID: "a1"})
	s.Positions.Add(PositionRecord{AssetID: "a1", Price: "0.5"})

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if s.Activities.PendingCount() != 0 || s.Positions.PendingCount() != 0 {
		t.Error("expected both writers to be flushed")
	}
}
