// Package metrics reports periodic broker-wide throughput figures
// through the same logger every other package uses, rather than a
// metrics backend — spec.md's Non-goals explicitly keep observability
// out of the wire protocol, but the ambient logging stack is carried
// regardless.
//
// Grounded on metrics.go's interval-gated counter collector.
package metrics

import (
	"sync"
	"time"

	"github.com/mobsya/thymio-broker/internal/logging"
)

// Collector accumulates counts and emits a throughput line no more
// often than once per interval.
type Collector struct {
	mu             sync.Mutex
	interval       time.Duration
	messagesIn     int
	messagesOut    int
	backpressure   int
	lastReportTime time.Time
}

// New creates a collector that reports at most once per interval.
func New(interval time.Duration) *Collector {
	return &Collector{interval: interval, lastReportTime: time.Now()}
}

// RecordMessageIn counts one decoded inbound client message.
func (c *Collector) RecordMessageIn() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.messagesIn++
	c.emitIfNeeded()
	c.mu.Unlock()
}

// RecordMessageOut counts one framed outbound message.
func (c *Collector) RecordMessageOut() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.messagesOut++
	c.emitIfNeeded()
	c.mu.Unlock()
}

// RecordBackpressure counts one outbound queue rejecting a write.
func (c *Collector) RecordBackpressure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.backpressure++
	c.emitIfNeeded()
	c.mu.Unlock()
}

// RecordQueueDepth logs a named queue's depth whenever it changes and
// gets within one slot of capacity — the point at which an operator
// watching the log would want to know a client is close to being
// disconnected for backpressure.
func (c *Collector) RecordQueueDepth(name string, length, capacity int) {
	if c == nil || capacity < 0 {
		return
	}
	if length >= capacity-1 {
		logging.Default().Warnf("queue %s: depth %d/%d", name, length, capacity)
	}
}

func (c *Collector) emitIfNeeded() {
	now := time.Now()
	if now.Sub(c.lastReportTime) < c.interval {
		return
	}
	duration := now.Sub(c.lastReportTime).Seconds()
	inRate, outRate := float64(c.messagesIn), float64(c.messagesOut)
	if duration > 0 {
		inRate /= duration
		outRate /= duration
	}
	logging.Default().Infof("throughput in=%.0f/s out=%.0f/s backpressure_events=%d", inRate, outRate, c.backpressure)
	c.messagesIn, c.messagesOut, c.backpressure = 0, 0, 0
	c.lastReportTime = now
}
