// Package eventing hands LastChange payloads from the sync loop to the
// transports that forward them to control points.
package eventing

import "sync"

const (
	defaultBacklog  = 32
	eventBufferSize = 16
)

// Subscription receives published payloads until Done is closed.
type Subscription struct {
	Events <-chan []byte
	Done   <-chan struct{}

	eventCh chan []byte
	doneCh  chan struct{}
}

func newSubscription() *Subscription {
	s := &Subscription{
		eventCh: make(chan []byte, eventBufferSize),
		doneCh:  make(chan struct{}),
	}
	s.Events = s.eventCh
	s.Done = s.doneCh
	return s
}

// send delivers without blocking; a slow subscriber loses events.
func (s *Subscription) send(payload []byte) {
	select {
	case s.eventCh <- payload:
	default:
	}
}

// Queue keeps a bounded backlog of payloads for polling consumers and fans
// them out to subscribers.
type Queue struct {
	mu      sync.Mutex
	backlog [][]byte
	limit   int
	dropped int
	subs    []*Subscription
	closed  bool
}

// NewQueue returns a queue keeping at most limit unpolled payloads. The
// oldest payload is dropped when the backlog is full.
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = defaultBacklog
	}
	return &Queue{limit: limit}
}

// Publish appends payload to the backlog and notifies subscribers. Empty
// payloads are ignored.
func (q *Queue) Publish(payload []byte) {
	if len(payload) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	if len(q.backlog) >= q.limit {
		q.backlog = q.backlog[1:]
		q.dropped++
	}
	q.backlog = append(q.backlog, payload)
	for _, sub := range q.subs {
		sub.send(payload)
	}
}

// Poll returns the oldest unpolled payload, or nil when there is none.
func (q *Queue) Poll() []byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.backlog) == 0 {
		return nil
	}
	next := q.backlog[0]
	q.backlog = q.backlog[1:]
	return next
}

// Dropped returns how many payloads were discarded because nobody polled.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Subscribe registers a push consumer.
func (q *Queue) Subscribe() *Subscription {
	q.mu.Lock()
	defer q.mu.Unlock()

	sub := newSubscription()
	if q.closed {
		close(sub.doneCh)
		return sub
	}
	q.subs = append(q.subs, sub)
	return sub
}

// Close ends all subscriptions. Later publishes are ignored.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for _, sub := range q.subs {
		close(sub.doneCh)
	}
	q.subs = nil
}
