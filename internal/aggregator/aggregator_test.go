package aggregator

import (
	"testing"
	"time"

	"polystream/internal/broadcast"
	"polystream/pkg/types"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

func TestAggregatorForwardsFromMultipleWorkers(t *testing.T) {
	t.Parallel()

	a := New(16)
	out := a.Subscribe()

	hub1 := broadcast.New[types.ParsedEvent](8)
	hub2 := broadcast.New[types.ParsedEvent](8)
	a.AddWorker(1, hub1.Subscribe())
	a.AddWorker(2, hub2.Subscribe())

	hub1.Publish(types.ParsedEvent{Kind: types.EventTrade, RawTag: "from-1"})
	hub2.Publish(types.ParsedEvent{Kind: types.EventOrder, RawTag: "from-2"})

	var got []types.ParsedEvent
	waitFor(t, time.Second, func() bool {
		got = append(got, out.Drain()...)
		return len(got) >= 2
	})

	tags := map[string]bool{}
	for _, evt := range got {
		tags[evt.RawTag] = true
	}
	if !tags["from-1"] || !tags["from-2"] {
		t.Errorf("expected events from both workers, got %+v", got)
	}
}

func TestRemoveWorkerStopsForwarding(t *testing.T) {
	t.Parallel()

	a := New(16)
	out := a.Subscribe()

	hub := broadcast.New[types.ParsedEvent](8)
	a.AddWorker(1, hub.Subscribe())
	hub.Publish(types.ParsedEvent{Kind: types.EventTrade, RawTag: "before-removal"})
	time.Sleep(20 * time.Millisecond)
	out.Drain() // discard whatever arrived before removal

	a.RemoveWorker(1)
	time.Sleep(20 * time.Millisecond) // let the forwarder goroutine observe cancellation
	hub.Publish(types.ParsedEvent{Kind: types.EventTrade, RawTag: "after-removal"})

	time.Sleep(20 * time.Millisecond)
	if got := out.Drain(); len(got) != 0 {
		t.Errorf("expected no events after RemoveWorker, got %+v", got)
	}
}
