package historicalstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ActivityRecord is one archived market activity: a trade fill observed on
// the event stream.
type ActivityRecord struct {
	AssetID   string    `json:"asset_id"`
	Side      string    `json:"side,omitempty"`
	Price     string    `json:"price,omitempty"`
	Size      string    `json:"size,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PositionRecord is one archived mark: the last known trade price for an
// asset at the time it was sampled.
type PositionRecord struct {
	AssetID   string    `json:"asset_id"`
	Price     string    `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncState tracks archival progress so a restart can resume rather than
// re-derive history from scratch.
type SyncState struct {
	Address               string         `json:"address"`
	LastActivityTimestamp int64          `json:"last_activity_timestamp"`
	LastActivityID        string         `json:"last_activity_id"`
	Totals                map[string]int `json:"totals"`
	LastSyncStartedAt     time.Time      `json:"last_sync_started_at"`
	LastSyncCompletedAt   time.Time      `json:"last_sync_completed_at"`
	SyncInProgress        bool           `json:"sync_in_progress"`
}

// Store is the archival root for one address: its activities and positions
// batch writers, plus its sync-state file.
type Store struct {
	root    string
	address string

	Activities *BatchWriter[ActivityRecord]
	Positions  *BatchWriter[PositionRecord]

	stateMu sync.Mutex
}

// Open creates (or resumes) a Store rooted at <root>/historical_db/<address
// lowercase>/, with activities and positions batch writers sized at
// batchSize items per file.
func Open(root, address string, batchSize int) (*Store, error) {
	addr := strings.ToLower(address)
	base := filepath.Join(root, "historical_db", addr)

	activities, err := NewBatchWriter[ActivityRecord](filepath.Join(base, "activities"), batchSize)
	if err != nil {
		return nil, err
	}
	positions, err := NewBatchWriter[PositionRecord](filepath.Join(base, "positions"), batchSize)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(base, "state"), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	return &Store{
		root:       root,
		address:    addr,
		Activities: activities,
		Positions:  positions,
	}, nil
}

func (s *Store) statePath() string {
	return filepath.Join(s.root, "historical_db", s.address, "state", "sync_state.json")
}

// LoadSyncState reads the persisted sync state, or returns a fresh zero
// state (with Address populated) if none has been written yet.
func (s *Store) LoadSyncState() (SyncState, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	data, err := os.ReadFile(s.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return SyncState{Address: s.address, Totals: make(map[string]int)}, nil
		}
		return SyncState{}, fmt.Errorf("read sync state: %w", err)
	}

	var state SyncState
	if err := json.Unmarshal(data, &state); err != nil {
		return SyncState{}, fmt.Errorf("unmarshal sync state: %w", err)
	}
	if state.Totals == nil {
		state.Totals = make(map[string]int)
	}
	return state, nil
}

// SaveSyncState atomically persists the sync state.
func (s *Store) SaveSyncState(state SyncState) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sync state: %w", err)
	}
	return writeAtomic(s.statePath(), data)
}

// Flush flushes any partially-filled batch in both writers.
func (s *Store) Flush() error {
	if err := s.Activities.Flush(); err != nil {
		return fmt.Errorf("flush activities: %w", err)
	}
	if err := s.Positions.Flush(); err != nil {
		return fmt.Errorf("flush positions: %w", err)
	}
	return nil
}
