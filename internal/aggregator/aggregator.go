// Package aggregator republishes every worker's event stream onto a single
// service-wide broadcast, so a consumer can subscribe once instead of
// tracking one subscription per worker as workers come and go.
package aggregator

import (
	"context"
	"sync"

	"polystream/internal/broadcast"
	"polystream/pkg/types"
)

// Aggregator fans events from any number of per-worker subscriptions into
// one bounded, drop-oldest broadcast.
type Aggregator struct {
	hub *broadcast.Hub[types.ParsedEvent]

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
}

// New creates an Aggregator whose service-wide broadcast holds up to
// bufferSize undelivered events per subscriber.
func New(bufferSize int) *Aggregator {
	return &Aggregator{
		hub:     broadcast.New[types.ParsedEvent](bufferSize),
		cancels: make(map[int]context.CancelFunc),
	}
}

// AddWorker starts forwarding sub's events into the aggregate broadcast
// under the given worker ID. Calling AddWorker again for the same ID first
// stops the previous forwarder.
func (a *Aggregator) AddWorker(workerID int, sub *broadcast.Subscription[types.ParsedEvent]) {
	a.RemoveWorker(workerID)

	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancels[workerID] = cancel
	a.mu.Unlock()

	go a.forward(ctx, sub)
}

// RemoveWorker stops forwarding events from the given worker ID, if it was
// registered.
func (a *Aggregator) RemoveWorker(workerID int) {
	a.mu.Lock()
	cancel, ok := a.cancels[workerID]
	delete(a.cancels, workerID)
	a.mu.Unlock()

	if ok {
		cancel()
	}
}

// Subscribe returns a new subscription to the aggregate, service-wide event
// stream.
func (a *Aggregator) Subscribe() *broadcast.Subscription[types.ParsedEvent] {
	return a.hub.Subscribe()
}

func (a *Aggregator) forward(ctx context.Context, sub *broadcast.Subscription[types.ParsedEvent]) {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Notify():
			for _, evt := range sub.Drain() {
				a.hub.Publish(evt)
			}
		}
	}
}
