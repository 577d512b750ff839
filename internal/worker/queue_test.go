package worker

import (
	"testing"
	"time"

	"github.com/callscribe/callscribe/internal/audio"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(nil)

	a := &audio.Chunk{SampleRate: 1, Samples: make([]float32, 1)}
	b := &audio.Chunk{SampleRate: 1, Samples: make([]float32, 2)}
	q.Enqueue(a)
	q.Enqueue(b)

	it, ok := q.Dequeue(time.Second)
	if !ok || it.chunk != a {
		t.Fatalf("expected first chunk, got %+v ok=%v", it, ok)
	}
	it, ok = q.Dequeue(time.Second)
	if !ok || it.chunk != b {
		t.Fatalf("expected second chunk, got %+v ok=%v", it, ok)
	}
}

func TestQueueDequeueTimeout(t *testing.T) {
	q := NewQueue(nil)

	start := time.Now()
	_, ok := q.Dequeue(20 * time.Millisecond)
	if ok {
		t.Fatal("expected timeout on empty queue")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("dequeue returned before the wait elapsed")
	}
}

func TestQueueSentinelOrdering(t *testing.T) {
	q := NewQueue(nil)

	q.Enqueue(&audio.Chunk{SampleRate: 1, Samples: make([]float32, 1)})
	q.EnqueueSentinel()

	it, ok := q.Dequeue(time.Second)
	if !ok || it.sentinel {
		t.Fatal("chunk must come out before the sentinel")
	}
	it, ok = q.Dequeue(time.Second)
	if !ok || !it.sentinel {
		t.Fatal("expected sentinel after drained chunks")
	}
}

func TestQueueDepthCallback(t *testing.T) {
	var depths []int
	q := NewQueue(func(d int) { depths = append(depths, d) })

	q.Enqueue(&audio.Chunk{SampleRate: 1, Samples: make([]float32, 1)})
	q.Enqueue(&audio.Chunk{SampleRate: 1, Samples: make([]float32, 1)})
	q.Dequeue(time.Second)

	want := []int{1, 2, 1}
	if len(depths) != len(want) {
		t.Fatalf("expected %v depth reports, got %v", want, depths)
	}
	for i := range want {
		if depths[i] != want[i] {
			t.Fatalf("expected depths %v, got %v", want, depths)
		}
	}
}

func TestQueueReset(t *testing.T) {
	q := NewQueue(nil)
	q.Enqueue(&audio.Chunk{SampleRate: 1, Samples: make([]float32, 1)})
	q.Reset()
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after reset, got %d", q.Len())
	}
}
