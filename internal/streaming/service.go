// Package streaming implements StreamingService, the orchestrator that
// turns a flat list of asset IDs into a running set of workers: it
// distributes tokens across workers, spawns and tears them down as the
// distribution changes, and exposes a single routing surface for order
// books, last trade prices, and the aggregate event stream.
package streaming

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polystream/internal/aggregator"
	"polystream/internal/broadcast"
	"polystream/internal/distributor"
	"polystream/internal/worker"
	"polystream/pkg/types"
)

// Stats aggregates counters across every worker the service currently runs.
type Stats struct {
	ActiveConnections    int
	TotalTokens          int
	TotalEventsProcessed uint64
	ConnectionErrors     uint64
	ReconnectionAttempts uint64
	UptimeSeconds        int64
}

// WorkerStatusInfo reports one worker's lifecycle state for diagnostics.
type WorkerStatusInfo struct {
	WorkerID        int
	AssignedTokens  []string
	IsConnected     bool
	EventsProcessed uint64
	LastError       string
	LastActivity    time.Time
}

// Service orchestrates workers over the token distribution they're assigned.
type Service struct {
	mu      sync.RWMutex
	workers map[int]*worker.Worker

	dist      *distributor.Distributor
	agg       *aggregator.Aggregator
	newWorker func(id int) *worker.Worker
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a Service. newWorker is called exactly once per worker ID the
// distributor allocates, and must return a *worker.Worker wired with
// whatever Dialer the caller wants (the real wsclient in production, a fake
// in tests).
func New(tokensPerWorker, eventBufferSize int, newWorker func(id int) *worker.Worker, logger *slog.Logger) *Service {
	return &Service{
		workers:   make(map[int]*worker.Worker),
		dist:      distributor.New(tokensPerWorker),
		agg:       aggregator.New(eventBufferSize),
		newWorker: newWorker,
		logger:    logger.With("component", "service"),
		startedAt: time.Now(),
	}
}

// AddTokens assigns new asset IDs to the streaming pool, spawning, growing,
// shrinking, or tearing down workers as the distributor's diff requires.
func (s *Service) AddTokens(tokens []string) error {
	update := s.dist.AddTokens(tokens)
	return s.applyUpdate(update)
}

// RemoveTokens drops asset IDs from the streaming pool.
func (s *Service) RemoveTokens(tokens []string) error {
	update := s.dist.RemoveTokens(tokens)
	return s.applyUpdate(update)
}

func (s *Service) applyUpdate(update types.DistributionUpdate) error {
	if !update.HasChanges() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for workerID, added := range update.WorkersToAdd {
		w, exists := s.workers[workerID]
		if !exists {
			w = s.newWorker(workerID)
			s.workers[workerID] = w
			s.agg.AddWorker(workerID, w.SubscribeEvents())
			if err := w.Start(added); err != nil {
				return fmt.Errorf("start worker %d: %w", workerID, err)
			}
			s.logger.Info("worker spawned", "worker_id", workerID, "tokens", len(added))
			continue
		}

		union := mergeUnique(w.GetAssignedTokens(), added)
		if err := w.UpdateTokens(union); err != nil {
			return fmt.Errorf("grow worker %d: %w", workerID, err)
		}
	}

	for workerID, removed := range update.WorkersToRemove {
		w, exists := s.workers[workerID]
		if !exists {
			continue
		}
		reduced := subtract(w.GetAssignedTokens(), removed)
		if err := w.UpdateTokens(reduced); err != nil {
			return fmt.Errorf("shrink worker %d: %w", workerID, err)
		}
	}

	for _, workerID := range update.WorkersToShutdown {
		w, exists := s.workers[workerID]
		if !exists {
			continue
		}
		w.Stop()
		s.agg.RemoveWorker(workerID)
		delete(s.workers, workerID)
		s.logger.Info("worker shut down", "worker_id", workerID)
	}

	return nil
}

// GetStreamingTokens returns every asset ID currently assigned to a worker.
func (s *Service) GetStreamingTokens() []string {
	return s.dist.AllTokens()
}

// GetOrderBook routes to the worker that owns assetID and returns a snapshot
// of its book.
func (s *Service) GetOrderBook(assetID string) (types.OrderBookSnapshot, bool) {
	w, ok := s.workerForToken(assetID)
	if !ok {
		return types.OrderBookSnapshot{}, false
	}
	b, ok := w.GetOrderBook(assetID)
	if !ok {
		return types.OrderBookSnapshot{}, false
	}
	return types.OrderBookSnapshot{
		AssetID:   assetID,
		Bids:      b.Bids(),
		Asks:      b.Asks(),
		Hash:      b.LastHash(),
		Timestamp: time.Now(),
	}, true
}

// GetLastTradePrice routes to the worker that owns assetID and returns its
// last reported trade price and timestamp.
func (s *Service) GetLastTradePrice(assetID string) (decimal.Decimal, string, bool) {
	w, ok := s.workerForToken(assetID)
	if !ok {
		return decimal.Decimal{}, "", false
	}
	return w.GetLastTradePrice(assetID)
}

func (s *Service) workerForToken(assetID string) (*worker.Worker, bool) {
	workerID, ok := s.dist.GetWorkerForToken(assetID)
	if !ok {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[workerID]
	return w, ok
}

// SubscribeEvents returns a subscription to the service-wide aggregate event
// stream, fed by every worker's broadcast.
func (s *Service) SubscribeEvents() *broadcast.Subscription[types.ParsedEvent] {
	return s.agg.Subscribe()
}

// GetStats aggregates counters across every running worker.
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		TotalTokens:   s.dist.TotalTokens(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	for _, w := range s.workers {
		if w.GetStatus().Kind == worker.StatusConnected {
			stats.ActiveConnections++
		}
		ws := w.GetStats()
		stats.TotalEventsProcessed += ws.EventsProcessed
		stats.ConnectionErrors += ws.ConnectionErrors
		stats.ReconnectionAttempts += ws.ReconnectionAttempts
	}
	return stats
}

// GetWorkerStatuses reports every worker's current lifecycle state, ordered
// by worker ID.
func (s *Service) GetWorkerStatuses() []WorkerStatusInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]WorkerStatusInfo, 0, len(ids))
	for _, id := range ids {
		w := s.workers[id]
		status := w.GetStatus()
		stats := w.GetStats()
		out = append(out, WorkerStatusInfo{
			WorkerID:        id,
			AssignedTokens:  w.GetAssignedTokens(),
			IsConnected:     status.Kind == worker.StatusConnected,
			EventsProcessed: stats.EventsProcessed,
			LastError:       stats.LastError,
			LastActivity:    stats.LastActivity,
		})
	}
	return out
}

// Shutdown stops every running worker and releases the service's resources.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for workerID, w := range s.workers {
		w.Stop()
		s.agg.RemoveWorker(workerID)
	}
	s.workers = make(map[int]*worker.Worker)
}

func mergeUnique(existing, added []string) []string {
	set := make(map[string]bool, len(existing)+len(added))
	for _, id := range existing {
		set[id] = true
	}
	for _, id := range added {
		set[id] = true
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func subtract(existing, removed []string) []string {
	drop := make(map[string]bool, len(removed))
	for _, id := range removed {
		drop[id] = true
	}
	out := make([]string, 0, len(existing))
	for _, id := range existing {
		if !drop[id] {
			out = append(out, id)
		}
	}
	return out
}
