// Package distributor assigns asset IDs to numbered workers, keeping each
// worker at or under a fixed token capacity and reporting the incremental
// changes callers need to apply (which workers gain tokens, lose tokens, or
// should be torn down).
package distributor

import (
	"sort"
	"sync"

	"polystream/pkg/types"
)

// Distributor spreads tokens (asset IDs) across a growing set of numbered
// workers. It holds no worker references of its own — StreamingService owns
// the workers and applies the DistributionUpdate this type returns.
type Distributor struct {
	mu sync.Mutex

	tokensPerWorker int
	assignments     map[int]map[string]bool // worker_id -> token set
	tokenToWorker   map[string]int
	nextWorkerID    int
}

// New creates a Distributor that packs up to tokensPerWorker tokens onto
// each worker before allocating a new one.
func New(tokensPerWorker int) *Distributor {
	return &Distributor{
		tokensPerWorker: tokensPerWorker,
		assignments:     make(map[int]map[string]bool),
		tokenToWorker:    make(map[string]int),
	}
}

// AddTokens assigns each not-already-tracked token to a worker: the
// least-loaded worker with spare capacity, or a newly allocated worker if
// none has room. Ties between equally-loaded workers go to the lowest
// worker ID, and worker IDs are allocated in a fixed, reproducible order —
// both load-bearing for deterministic replay given identical input history.
func (d *Distributor) AddTokens(tokens []string) types.DistributionUpdate {
	d.mu.Lock()
	defer d.mu.Unlock()

	update := types.DistributionUpdate{WorkersToAdd: make(map[int][]string)}

	for _, token := range tokens {
		if _, exists := d.tokenToWorker[token]; exists {
			continue
		}

		workerID := d.findOrCreateWorkerForToken()
		if d.assignments[workerID] == nil {
			d.assignments[workerID] = make(map[string]bool)
		}
		d.assignments[workerID][token] = true
		d.tokenToWorker[token] = workerID

		update.WorkersToAdd[workerID] = append(update.WorkersToAdd[workerID], token)
	}

	return update
}

// RemoveTokens drops each tracked token from its worker. A worker left with
// no tokens is removed from the assignment table and reported in
// WorkersToShutdown.
func (d *Distributor) RemoveTokens(tokens []string) types.DistributionUpdate {
	d.mu.Lock()
	defer d.mu.Unlock()

	update := types.DistributionUpdate{WorkersToRemove: make(map[int][]string)}

	for _, token := range tokens {
		workerID, ok := d.tokenToWorker[token]
		if !ok {
			continue
		}

		delete(d.tokenToWorker, token)
		set := d.assignments[workerID]
		delete(set, token)
		update.WorkersToRemove[workerID] = append(update.WorkersToRemove[workerID], token)

		if len(set) == 0 {
			delete(d.assignments, workerID)
			update.WorkersToShutdown = append(update.WorkersToShutdown, workerID)
		}
	}

	return update
}

// GetWorkerForToken returns the worker currently assigned to a token.
func (d *Distributor) GetWorkerForToken(token string) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.tokenToWorker[token]
	return id, ok
}

// GetActiveWorkers returns the IDs of workers with at least one assigned
// token, in ascending order.
func (d *Distributor) GetActiveWorkers() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]int, 0, len(d.assignments))
	for id := range d.assignments {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// AllTokens returns every tracked token, sorted for reproducible output.
func (d *Distributor) AllTokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.tokenToWorker))
	for token := range d.tokenToWorker {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

// TotalTokens returns the number of tokens currently tracked.
func (d *Distributor) TotalTokens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokenToWorker)
}

// GetSummary reports the current distribution across workers.
func (d *Distributor) GetSummary() types.DistributionSummary {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]int, 0, len(d.assignments))
	for id := range d.assignments {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	workers := make([]types.WorkerInfo, 0, len(ids))
	for _, id := range ids {
		set := d.assignments[id]
		tokens := make([]string, 0, len(set))
		for token := range set {
			tokens = append(tokens, token)
		}
		sort.Strings(tokens)
		workers = append(workers, types.WorkerInfo{
			WorkerID:   id,
			AssetCount: len(tokens),
			Assets:     tokens,
		})
	}

	return types.DistributionSummary{
		TotalWorkers:       len(d.assignments),
		TotalAssets:        len(d.tokenToWorker),
		MaxAssetsPerWorker: d.tokensPerWorker,
		Workers:            workers,
	}
}

// findOrCreateWorkerForToken picks the lowest-ID worker with the fewest
// tokens among those with spare capacity, scanning worker IDs in ascending
// order so that ties resolve to the lowest ID. Allocates a new worker ID
// only when every existing worker is at capacity. Must be called with d.mu
// held.
func (d *Distributor) findOrCreateWorkerForToken() int {
	ids := make([]int, 0, len(d.assignments))
	for id := range d.assignments {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	bestID := -1
	bestCount := -1
	for _, id := range ids {
		count := len(d.assignments[id])
		if count >= d.tokensPerWorker {
			continue
		}
		if bestID == -1 || count < bestCount {
			bestID = id
			bestCount = count
		}
	}
	if bestID != -1 {
		return bestID
	}

	id := d.nextWorkerID
	d.nextWorkerID++
	return id
}
