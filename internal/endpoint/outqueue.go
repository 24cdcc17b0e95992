package endpoint

import (
	"sync"

	"github.com/mobsya/thymio-broker/internal/metrics"
	"github.com/mobsya/thymio-broker/internal/queue"
	"github.com/mobsya/thymio-broker/internal/transport"
)

// outQueue is the per-endpoint bounded outbound FIFO described in
// spec.md §4.1/§4.5: at most one write is ever outstanding on the
// transport at a time, later frames queue behind it, and the queue
// rejects new frames past its capacity instead of growing unbounded
// (the broker's one form of backpressure).
//
// Grounded on queue/tracked_queue.go's length/capacity-tracked slice,
// adapted from its single-goroutine-owner simulation use to a
// producer/drainer pair: Push is called from whichever goroutine
// handled a request, a dedicated drain goroutine owns every call into
// the TrackedQueue and every transport write, so the queue itself
// never needs its own lock beyond what serializes producers from the
// drainer.
type outQueue struct {
	conn transport.Conn
	mon  *metrics.Collector

	mu     sync.Mutex
	q      *queue.TrackedQueue[[]byte]
	wake   chan struct{}
	closed bool
	closeOnce sync.Once
	done   chan struct{}
}

func newOutQueue(conn transport.Conn, capacity int, mon *metrics.Collector) *outQueue {
	const name = "endpoint-outbound"
	mutate := func(length, qcap int) {
		mon.RecordQueueDepth(name, length, qcap)
	}
	q := queue.NewTrackedQueue[[]byte](name, capacity, mutate, queue.QueueHooks[[]byte]{})
	oq := &outQueue{
		conn: conn,
		mon:  mon,
		q:    q,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go oq.drain()
	return oq
}

// Push enqueues payload for delivery. It returns false, without
// blocking, if the queue is at capacity or already closed — the
// caller (send, in endpoint.go) treats that as grounds to close the
// connection rather than grow the queue without bound.
func (oq *outQueue) Push(payload []byte) bool {
	oq.mu.Lock()
	if oq.closed {
		oq.mu.Unlock()
		return false
	}
	ok := oq.q.Enqueue(payload)
	oq.mu.Unlock()
	if !ok {
		if oq.mon != nil {
			oq.mon.RecordBackpressure()
		}
		return false
	}
	select {
	case oq.wake <- struct{}{}:
	default:
	}
	return true
}

func (oq *outQueue) drain() {
	defer close(oq.done)
	for {
		oq.mu.Lock()
		payload, ok := oq.q.PopFront()
		closed := oq.closed
		oq.mu.Unlock()

		if !ok {
			if closed {
				return
			}
			<-oq.wake
			continue
		}

		if err := oq.conn.WriteFrame(payload); err != nil {
			return
		}
		if oq.mon != nil {
			oq.mon.RecordMessageOut()
		}
	}
}

// Close stops accepting new pushes. Frames already queued are still
// drained and written before the drain goroutine exits.
func (oq *outQueue) Close() {
	oq.closeOnce.Do(func() {
		oq.mu.Lock()
		oq.closed = true
		oq.mu.Unlock()
		select {
		case oq.wake <- struct{}{}:
		default:
		}
	})
}

// Done is closed once the drain goroutine has exited.
func (oq *outQueue) Done() <-chan struct{} { return oq.done }
