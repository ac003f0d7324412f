package broadcast

import (
	"testing"
)

func TestRingDropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	r := newRing[int](3)
	r.push(1)
	r.push(2)
	r.push(3)
	dropped := r.push(4) // ring full: 1 must be evicted, not 4 rejected

	if !dropped {
		t.Error("push into full ring should report a drop")
	}

	got := r.drain()
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("drain() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("drain()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRingDrainClearsBuffer(t *testing.T) {
	t.Parallel()

	r := newRing[string](2)
	r.push("a")
	r.push("b")
	_ = r.drain()

	if got := r.drain(); len(got) != 0 {
		t.Errorf("second drain() = %v, want empty", got)
	}
}

func TestHubPublishFanOutAndDropOldest(t *testing.T) {
	t.Parallel()

	h := New[int](2)
	subA := h.Subscribe()
	subB := h.Subscribe()

	h.Publish(1)
	h.Publish(2)
	h.Publish(3) // evicts 1 from both subscribers' rings

	for name, sub := range map[string]*Subscription[int]{"A": subA, "B": subB} {
		got := sub.Drain()
		want := []int{2, 3}
		if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("subscriber %s drained %v, want %v", name, got, want)
		}
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	h := New[int](4)
	sub := h.Subscribe()
	if h.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", h.SubscriberCount())
	}

	sub.Unsubscribe()
	if h.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount() after unsubscribe = %d, want 0", h.SubscriberCount())
	}

	h.Publish(1) // must not panic or block now that there are no subscribers
}

func TestHubOnDropCallback(t *testing.T) {
	t.Parallel()

	h := New[int](1)
	var dropped []uint64
	h.OnDrop(func(id uint64) { dropped = append(dropped, id) })

	sub := h.Subscribe()
	h.Publish(1)
	h.Publish(2) // ring capacity 1: this evicts the first value

	if len(dropped) != 1 {
		t.Fatalf("onDrop called %d times, want 1", len(dropped))
	}
	if got := sub.Drain(); len(got) != 1 || got[0] != 2 {
		t.Errorf("Drain() = %v, want [2]", got)
	}
}
