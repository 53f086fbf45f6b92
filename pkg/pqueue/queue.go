// Package pqueue implements the gateway's bounded, multi-priority FIFO
// queue (C3), ported from plugins/mqtt_gateway/message_queue.py's
// per-priority deque design rather than the teacher's single-heap
// pkg/notifications/priority_queue.go, since the spec's overflow policy
// (drop oldest from the lowest-priority non-empty bucket) and ordering
// property map directly onto four ordered buckets with no age-expiry.
// Logging/stats conventions follow the teacher's queue package style.
package pqueue

import (
	"fmt"
	"sync"
	"time"

	"github.com/zephyrgate/mqtt-gateway/pkg/logx"
)

// Priority is the four-level admission priority, highest first.
type Priority int

const (
	Low Priority = iota + 1
	Normal
	High
	Emergency
)

// orderedDescending lists priorities from highest to lowest, the order
// dequeue scans in.
var orderedDescending = []Priority{Emergency, High, Normal, Low}

// orderedAscending lists priorities from lowest to highest, the order
// the overflow policy scans in.
var orderedAscending = []Priority{Low, Normal, High, Emergency}

func (p Priority) String() string {
	switch p {
	case Emergency:
		return "Emergency"
	case High:
		return "High"
	case Normal:
		return "Normal"
	case Low:
		return "Low"
	default:
		return "Unknown"
	}
}

func (p Priority) tag() string {
	switch p {
	case Emergency:
		return "E"
	case High:
		return "H"
	case Normal:
		return "N"
	case Low:
		return "L"
	default:
		return "?"
	}
}

// Item is a single queued unit of work; Queue is intentionally generic
// over the payload so the gateway package supplies its own QueuedItem
// shape while this package owns only ordering and overflow behavior.
type Item struct {
	Payload    interface{}
	Priority   Priority
	EnqueuedAt time.Time
}

// Stats mirrors message_queue.py's get_statistics().
type Stats struct {
	Enqueued      uint64
	Dequeued      uint64
	Dropped       uint64
	OverflowDrops uint64
}

// Queue is a bounded, multi-priority FIFO queue. All operations are
// O(1) amortized and hold a single mutex; none perform I/O.
type Queue struct {
	mu      sync.Mutex
	buckets map[Priority][]Item
	maxSize int
	logger  *logx.Logger
	stats   Stats

	// onDrop, when set, is invoked with the dropped item outside the
	// lock (best-effort audit trail; see pkg/pqueue.WithAuditSink).
	onDrop func(reason string, it Item)
}

// New creates an empty Queue bounded at maxSize.
func New(maxSize int, logger *logx.Logger) *Queue {
	buckets := make(map[Priority][]Item, 4)
	for _, p := range orderedDescending {
		buckets[p] = nil
	}
	return &Queue{buckets: buckets, maxSize: maxSize, logger: logger}
}

// WithAuditSink installs a callback invoked (outside the lock) whenever
// an item is dropped by overflow or discarded by Clear, used to feed the
// optional bbolt-backed audit trail when queue_persist=true.
func (q *Queue) WithAuditSink(sink func(reason string, it Item)) *Queue {
	q.mu.Lock()
	q.onDrop = sink
	q.mu.Unlock()
	return q
}

func (q *Queue) sizeLocked() int {
	n := 0
	for _, b := range q.buckets {
		n += len(b)
	}
	return n
}

func (q *Queue) breakdownLocked() string {
	return fmt.Sprintf("E:%d,H:%d,N:%d,L:%d",
		len(q.buckets[Emergency]), len(q.buckets[High]), len(q.buckets[Normal]), len(q.buckets[Low]))
}

// Enqueue appends item to its priority bucket, first applying the
// overflow policy if the queue is at capacity. Returns false only when
// the queue was full and nothing could be dropped to make room (i.e.
// every bucket, including item's own, was already considered and the
// queue still has no room — in practice this cannot happen since the
// overflow policy always finds a victim when size() > 0).
func (q *Queue) Enqueue(item Item) bool {
	q.mu.Lock()
	var dropped *Item
	if q.sizeLocked() >= q.maxSize {
		victim, ok := q.dropOldestLocked()
		if !ok {
			q.mu.Unlock()
			q.logger.Warn("queue full and nothing droppable, refusing enqueue",
				"priority", item.Priority.String(), "queue_max_size", q.maxSize)
			return false
		}
		dropped = &victim
	}

	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	q.buckets[item.Priority] = append(q.buckets[item.Priority], item)
	q.stats.Enqueued++
	breakdown := q.breakdownLocked()
	sink := q.onDrop
	q.mu.Unlock()

	if dropped != nil {
		q.logger.Warn("queue overflow, dropped oldest lowest-priority item",
			"dropped_priority", dropped.Priority.String(), "breakdown", breakdown)
		if sink != nil {
			sink("overflow", *dropped)
		}
	}
	return true
}

// dropOldestLocked removes and returns the oldest item from the
// lowest-priority non-empty bucket (Low, else Normal, else High, else
// Emergency). Caller must hold q.mu. Returns ok=false only if the queue
// is entirely empty.
func (q *Queue) dropOldestLocked() (Item, bool) {
	for _, p := range orderedAscending {
		bucket := q.buckets[p]
		if len(bucket) == 0 {
			continue
		}
		victim := bucket[0]
		q.buckets[p] = bucket[1:]
		q.stats.Dropped++
		q.stats.OverflowDrops++
		return victim, true
	}
	return Item{}, false
}

// Dequeue removes and returns the oldest item from the highest-priority
// non-empty bucket. ok is false if the queue is empty.
func (q *Queue) Dequeue() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range orderedDescending {
		bucket := q.buckets[p]
		if len(bucket) == 0 {
			continue
		}
		item := bucket[0]
		q.buckets[p] = bucket[1:]
		q.stats.Dequeued++
		return item, true
	}
	return Item{}, false
}

// Size returns the total number of queued items across all priorities.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sizeLocked()
}

// Clear discards all queued items, logging the count lost.
func (q *Queue) Clear() int {
	q.mu.Lock()
	n := q.sizeLocked()
	var discarded []Item
	if q.onDrop != nil {
		for _, p := range orderedDescending {
			discarded = append(discarded, q.buckets[p]...)
		}
	}
	for _, p := range orderedDescending {
		q.buckets[p] = nil
	}
	sink := q.onDrop
	q.mu.Unlock()

	if n > 0 {
		q.logger.Warn("queue cleared", "items_discarded", n)
	}
	if sink != nil {
		for _, it := range discarded {
			sink("clear", it)
		}
	}
	return n
}

// Stats returns a snapshot of the queue's counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// MaxSize returns the configured bound.
func (q *Queue) MaxSize() int {
	return q.maxSize
}
