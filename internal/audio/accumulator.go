package audio

import (
	"sync"
)

// Accumulator buffers down-mixed mono frames until a duration threshold
// is reached, then emits the assembled chunk to the registered sink.
//
// Push runs inside the capture callback context and must not block:
// emission is a constant-time buffer swap and the sink is expected to
// hand the chunk off without heavy work (the worker queue never blocks
// the producer).
type Accumulator struct {
	mu         sync.Mutex
	sampleRate int
	threshold  int // samples per emitted chunk
	buf        []float32
	scratch    []float32
	sink       func(*Chunk)
}

// NewAccumulator creates an accumulator emitting chunks of
// chunkDuration seconds to sink.
func NewAccumulator(sampleRate, chunkDuration int, sink func(*Chunk)) *Accumulator {
	threshold := sampleRate * chunkDuration
	return &Accumulator{
		sampleRate: sampleRate,
		threshold:  threshold,
		buf:        make([]float32, 0, threshold),
		sink:       sink,
	}
}

// Push down-mixes one interleaved frame to mono and appends it to the
// internal buffer. When accumulated duration reaches the threshold the
// buffer is swapped out and emitted synchronously.
func (a *Accumulator) Push(frame []float32, channels int) {
	a.mu.Lock()
	a.scratch = DownmixMono(frame, channels, a.scratch)
	a.buf = append(a.buf, a.scratch...)

	var out *Chunk
	if len(a.buf) >= a.threshold {
		out = &Chunk{Samples: a.buf, SampleRate: a.sampleRate}
		a.buf = make([]float32, 0, a.threshold)
	}
	a.mu.Unlock()

	if out != nil && a.sink != nil {
		a.sink(out)
	}
}

// Flush returns any partial buffered audio as a final chunk, or nil if
// nothing is pending. Called on session stop.
func (a *Accumulator) Flush() *Chunk {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.buf) == 0 {
		return nil
	}
	out := &Chunk{Samples: a.buf, SampleRate: a.sampleRate}
	a.buf = make([]float32, 0, a.threshold)
	return out
}

// Pending returns the number of buffered samples.
func (a *Accumulator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}
