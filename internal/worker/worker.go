package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/callscribe/callscribe/internal/audio"
	"github.com/callscribe/callscribe/internal/engine"
	"github.com/callscribe/callscribe/internal/protocol"
	"go.opentelemetry.io/otel/metric"
)

// State tracks the worker lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Transcriber is the engine capability the worker consumes.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, languageHint string) (engine.Result, error)
}

// Publisher marshals pipeline events out of the worker context.
type Publisher interface {
	PublishEvent(subject string, evt protocol.Event) error
}

// Worker is the single dedicated processing loop that drains the work
// queue, invokes the engine, and maintains the session's segment
// sequence and cumulative time offset. It is the only context that
// mutates either, so engine invocations are naturally serialized.
type Worker struct {
	queueWait time.Duration
	engine    Transcriber
	pub       Publisher
	log       *slog.Logger
	clock     func() time.Time

	queue     *Queue
	state     atomic.Int32
	cancelled atomic.Bool
	done      chan struct{}
	ctx       context.Context
	cancelCtx context.CancelFunc

	mu        sync.Mutex
	sessionID string
	language  string
	offset    float64
	segments  []protocol.Segment

	segCounter metric.Int64Counter
	decodeHist metric.Float64Histogram
}

func New(queueWait time.Duration, eng Transcriber, pub Publisher, log *slog.Logger) *Worker {
	w := &Worker{
		queueWait: queueWait,
		engine:    eng,
		pub:       pub,
		log:       log.With(slog.String("component", "worker")),
		clock:     time.Now,
	}
	w.queue = NewQueue(w.publishDepth)
	w.initMetrics()
	return w
}

// Start resets the segment sequence and time offset and spawns the
// processing loop. The previous session's state is discarded.
func (w *Worker) Start(sessionID, language string) {
	// Join any loop left running by a start that failed downstream.
	// Exactly one loop may drain the queue at a time.
	if w.done != nil {
		select {
		case <-w.done:
		default:
			w.cancelled.Store(true)
			if w.cancelCtx != nil {
				w.cancelCtx()
			}
			w.queue.EnqueueSentinel()
			<-w.done
		}
	}

	w.mu.Lock()
	w.sessionID = sessionID
	w.language = language
	w.offset = 0
	w.segments = nil
	w.mu.Unlock()

	w.queue.Reset()
	w.cancelled.Store(false)
	w.done = make(chan struct{})
	w.ctx, w.cancelCtx = context.WithCancel(context.Background())
	w.state.Store(int32(StateRunning))

	go w.run()
}

// Enqueue submits one chunk for transcription. Never blocks.
func (w *Worker) Enqueue(chunk *audio.Chunk) {
	w.queue.Enqueue(chunk)
}

// Stop requests a drain and blocks until every previously enqueued
// chunk has been processed and the loop has exited.
func (w *Worker) Stop(ctx context.Context) error {
	w.state.Store(int32(StateDraining))
	w.queue.EnqueueSentinel()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel discards queued chunks without transcribing them and waits
// for the loop to exit. Observation is bounded by the queue wait.
func (w *Worker) Cancel(ctx context.Context) error {
	w.cancelled.Store(true)
	w.state.Store(int32(StateDraining))
	w.cancelCtx()
	w.queue.EnqueueSentinel()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Segments returns a snapshot of the accepted segment sequence.
func (w *Worker) Segments() []protocol.Segment {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]protocol.Segment, len(w.segments))
	copy(out, w.segments)
	return out
}

// SegmentCount returns the number of accepted segments.
func (w *Worker) SegmentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.segments)
}

// QueueDepth returns the number of chunks awaiting transcription.
func (w *Worker) QueueDepth() int {
	return w.queue.Len()
}

// Offset returns the cumulative seconds of audio consumed so far.
func (w *Worker) Offset() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

func (w *Worker) run() {
	defer func() {
		w.state.Store(int32(StateStopped))
		close(w.done)
	}()

	for {
		it, ok := w.queue.Dequeue(w.queueWait)
		if !ok {
			// Bounded wait expired; loop to observe stop/cancel.
			continue
		}
		if it.sentinel {
			return
		}
		if w.cancelled.Load() {
			continue
		}
		w.process(it.chunk)
	}
}

// process transcribes one chunk and appends its segments shifted by
// the running offset. The offset always advances by the chunk's
// nominal duration, even when the decode fails or the engine treated
// trailing audio as silence, so later chunks stay anchored.
func (w *Worker) process(chunk *audio.Chunk) {
	w.mu.Lock()
	base := w.offset
	lang := w.language
	sessionID := w.sessionID
	w.mu.Unlock()

	started := w.clock()
	result, err := w.engine.Transcribe(w.ctx, chunk.Samples, lang)
	elapsed := w.clock().Sub(started)
	if w.decodeHist != nil {
		w.decodeHist.Record(context.Background(), elapsed.Seconds())
	}

	if err != nil {
		// A bad chunk surfaces only as a gap in the transcript.
		w.log.Warn("chunk transcription failed, skipping",
			slog.String("session_id", sessionID),
			slog.Float64("offset", base),
			slog.String("error", err.Error()))
	} else {
		total := len(result.Segments)
		for i, seg := range result.Segments {
			ps := protocol.Segment{
				Text:      seg.Text,
				Start:     base + seg.Start,
				End:       base + seg.End,
				Language:  result.Language,
				Timestamp: w.clock(),
			}
			w.mu.Lock()
			w.segments = append(w.segments, ps)
			w.mu.Unlock()

			if w.segCounter != nil {
				w.segCounter.Add(context.Background(), 1)
			}
			w.publish(protocol.SubjectSegment, protocol.Event{
				Type:      protocol.EventSegment,
				SessionID: sessionID,
				Segment:   &ps,
			})
			w.publish(protocol.SubjectProgress, protocol.Event{
				Type:      protocol.EventProgress,
				SessionID: sessionID,
				Current:   i + 1,
				Total:     total,
				Percent:   float64(i+1) / float64(total) * 100,
			})
		}
	}

	w.mu.Lock()
	w.offset = base + chunk.Duration()
	w.mu.Unlock()
}

func (w *Worker) publishDepth(depth int) {
	w.mu.Lock()
	sessionID := w.sessionID
	w.mu.Unlock()
	w.publish(protocol.SubjectQueue, protocol.Event{
		Type:      protocol.EventQueue,
		SessionID: sessionID,
		Depth:     depth,
	})
}

func (w *Worker) publish(subject string, evt protocol.Event) {
	if w.pub == nil {
		return
	}
	evt.Timestamp = w.clock()
	if err := w.pub.PublishEvent(subject, evt); err != nil {
		w.log.Warn("failed to publish event",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}
