package queue

import "testing"

func TestTrackedQueueCapacity(t *testing.T) {
	var lastLen, lastCap int
	q := NewTrackedQueue[int]("test", 2, func(length, capacity int) {
		lastLen, lastCap = length, capacity
	}, QueueHooks[int]{})

	if !q.Enqueue(1) || !q.Enqueue(2) {
		t.Fatalf("expected first two enqueues to succeed")
	}
	if q.Enqueue(3) {
		t.Fatalf("expected enqueue past capacity to fail")
	}
	if lastLen != 2 || lastCap != 2 {
		t.Fatalf("mutate callback saw length=%d capacity=%d, want 2,2", lastLen, lastCap)
	}

	item, ok := q.PopFront()
	if !ok || item != 1 {
		t.Fatalf("PopFront() = %d, %v, want 1, true", item, ok)
	}
	if !q.Enqueue(3) {
		t.Fatalf("expected enqueue to succeed after PopFront freed capacity")
	}
}

func TestTrackedQueueRemoveMatch(t *testing.T) {
	q := NewTrackedQueue[int]("test", UnlimitedCapacity, nil, QueueHooks[int]{})
	q.Enqueue(1)
	q.Enqueue(2)
	q.Enqueue(3)

	removed, ok := q.RemoveMatch(func(v int) bool { return v == 2 })
	if !ok || removed != 2 {
		t.Fatalf("RemoveMatch = %d, %v, want 2, true", removed, ok)
	}
	if got := q.Items(); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("Items() = %v, want [1 3]", got)
	}
}

func TestTrackedQueueHooks(t *testing.T) {
	var enqueued, dequeued []int
	q := NewTrackedQueue[int]("test", UnlimitedCapacity, nil, QueueHooks[int]{
		OnEnqueue: func(item int) { enqueued = append(enqueued, item) },
		OnDequeue: func(item int) { dequeued = append(dequeued, item) },
	})
	q.Enqueue(10)
	q.PopFront()
	if len(enqueued) != 1 || enqueued[0] != 10 {
		t.Fatalf("OnEnqueue not invoked as expected: %v", enqueued)
	}
	if len(dequeued) != 1 || dequeued[0] != 10 {
		t.Fatalf("OnDequeue not invoked as expected: %v", dequeued)
	}
}
