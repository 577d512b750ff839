package worker

import (
	"sync"
	"time"

	"github.com/callscribe/callscribe/internal/audio"
)

// workItem is one queue entry: an audio chunk or the terminal sentinel
// that ends the processing loop.
type workItem struct {
	chunk    *audio.Chunk
	sentinel bool
}

// Queue is the FIFO hand-off between the capture context and the
// worker loop. The producer never waits on the consumer; the consumer
// blocks with a bounded timeout so it can observe stop and cancel.
// Depth changes are reported through onDepth after every enqueue and
// dequeue for backpressure visibility.
type Queue struct {
	mu      sync.Mutex
	items   []workItem
	notify  chan struct{}
	onDepth func(depth int)
}

func NewQueue(onDepth func(int)) *Queue {
	return &Queue{
		notify:  make(chan struct{}, 1),
		onDepth: onDepth,
	}
}

// Enqueue appends a chunk. It never blocks.
func (q *Queue) Enqueue(chunk *audio.Chunk) {
	q.push(workItem{chunk: chunk})
}

// EnqueueSentinel appends the terminal sentinel. Exactly one sentinel
// ends each worker run.
func (q *Queue) EnqueueSentinel() {
	q.push(workItem{sentinel: true})
}

func (q *Queue) push(it workItem) {
	q.mu.Lock()
	q.items = append(q.items, it)
	depth := len(q.items)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	if q.onDepth != nil {
		q.onDepth(depth)
	}
}

// Dequeue removes the oldest item, waiting up to wait for one to
// arrive. ok is false on timeout.
func (q *Queue) Dequeue(wait time.Duration) (workItem, bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items = q.items[1:]
			depth := len(q.items)
			q.mu.Unlock()
			if q.onDepth != nil {
				q.onDepth(depth)
			}
			return it, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-timer.C:
			return workItem{}, false
		}
	}
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Reset discards all pending items.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
	if q.onDepth != nil {
		q.onDepth(0)
	}
}
