package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/callscribe/callscribe/internal/audio"
	"github.com/callscribe/callscribe/internal/config"
	"github.com/callscribe/callscribe/internal/engine"
	"github.com/callscribe/callscribe/internal/export"
	"github.com/callscribe/callscribe/internal/protocol"
	"github.com/callscribe/callscribe/internal/store"
	"github.com/callscribe/callscribe/internal/worker"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeSource lets tests deliver frames synchronously.
type fakeSource struct {
	mu       sync.Mutex
	cb       audio.FrameFunc
	devices  []audio.Device
	failOpen bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{devices: []audio.Device{
		{ID: 0, Name: "Built-in Microphone", Channels: 2, SampleRate: 16000},
		{ID: 1, Name: "BlackHole 2ch", Channels: 2, SampleRate: 16000, IsPreferred: true},
	}}
}

func (f *fakeSource) Devices() ([]audio.Device, error) { return f.devices, nil }

func (f *fakeSource) Open(deviceID int, cb audio.FrameFunc) error {
	if f.failOpen {
		return errors.New("device busy")
	}
	for _, d := range f.devices {
		if d.ID == deviceID {
			f.mu.Lock()
			f.cb = cb
			f.mu.Unlock()
			return nil
		}
	}
	return audio.ErrDeviceNotFound
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
	return nil
}

// pushSeconds delivers n seconds of mono audio through the open stream.
func (f *fakeSource) pushSeconds(t *testing.T, seconds float64, sampleRate int) {
	t.Helper()
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb == nil {
		t.Fatal("source is not open")
	}
	cb(make([]float32, int(seconds*float64(sampleRate))), 1)
}

type nullPublisher struct {
	mu     sync.Mutex
	status []string
}

func (p *nullPublisher) PublishEvent(_ string, evt protocol.Event) error {
	if evt.Type == protocol.EventStatus {
		p.mu.Lock()
		p.status = append(p.status, evt.Status)
		p.mu.Unlock()
	}
	return nil
}

func (p *nullPublisher) statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.status))
	copy(out, p.status)
	return out
}

type fixture struct {
	controller *Controller
	source     *fakeSource
	pub        *nullPublisher
	archive    *store.Store
	worker     *worker.Worker
	cfg        config.Config
}

// controllerEngine is what a test double must provide to stand in for
// the real engine on both the controller and worker sides.
type controllerEngine interface {
	Engine
	worker.Transcriber
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	return newEngineFixture(t, mutate, nil)
}

func newEngineFixture(t *testing.T, mutate func(*config.Config), eng controllerEngine) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Engine.Mode = "mock"
	cfg.Export.TranscriptsDir = t.TempDir()
	cfg.Store.Path = filepath.Join(t.TempDir(), "callscribe.db")
	cfg.Audio.CaptureDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}

	log := newLogger()
	archive, err := store.Open(context.Background(), cfg.Store, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = archive.Close() })

	src := newFakeSource()
	pub := &nullPublisher{}
	if eng == nil {
		eng = engine.New(cfg.Engine, cfg.Audio.SampleRate, log)
	}
	w := worker.New(50*time.Millisecond, eng, pub, log)
	exporter := export.NewExporter(cfg.Export.TranscriptsDir)
	c := NewController(cfg, src, eng, w, pub, exporter, archive, log)

	return &fixture{controller: c, source: src, pub: pub, archive: archive, worker: w, cfg: cfg}
}

func TestStartStopLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sessionID, err := f.controller.Start(-1, "en")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sessionID == "" {
		t.Fatal("expected session id")
	}

	if _, err := f.controller.Start(-1, "en"); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}

	st := f.controller.Status()
	if !st.Recording || st.State != protocol.StatusRecording {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.Device == nil || st.Device.ID != 1 {
		t.Fatalf("expected preferred device selected, got %+v", st.Device)
	}

	// Three full chunks of audio.
	for i := 0; i < 3; i++ {
		f.source.pushSeconds(t, 5, f.cfg.Audio.SampleRate)
	}

	result, err := f.controller.Stop(ctx, true)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if result.Duration != 15 {
		t.Fatalf("expected 15s processed, got %v", result.Duration)
	}
	if result.SegmentCount != 3 {
		t.Fatalf("expected 3 segments, got %d", result.SegmentCount)
	}
	if result.Transcript == "" {
		t.Fatal("expected non-empty transcript")
	}
	if result.Artifacts == nil {
		t.Fatal("expected saved artifacts")
	}
	for _, path := range []string{result.Artifacts.TXT, result.Artifacts.SRT, result.Artifacts.JSON} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("artifact missing: %v", err)
		}
	}

	records, err := f.archive.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(records) != 1 || records[0].SessionID != sessionID {
		t.Fatalf("expected archived session, got %+v", records)
	}

	st = f.controller.Status()
	if st.Recording || st.State != protocol.StatusCompleted {
		t.Fatalf("unexpected status after stop: %+v", st)
	}

	statuses := f.pub.statuses()
	want := []string{
		protocol.StatusRecording,
		protocol.StatusStopping,
		protocol.StatusProcessing,
		protocol.StatusCompleted,
	}
	if len(statuses) != len(want) {
		t.Fatalf("expected statuses %v, got %v", want, statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("expected statuses %v, got %v", want, statuses)
		}
	}
}

func TestStopFlushesPartialChunk(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.controller.Start(-1, "en"); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.source.pushSeconds(t, 2.5, f.cfg.Audio.SampleRate)

	result, err := f.controller.Stop(context.Background(), false)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if result.Duration != 2.5 {
		t.Fatalf("expected 2.5s processed from partial chunk, got %v", result.Duration)
	}
	if result.SegmentCount != 1 {
		t.Fatalf("expected 1 segment, got %d", result.SegmentCount)
	}
	if result.Artifacts != nil {
		t.Fatal("save=false must not write artifacts")
	}
}

func TestStopWithoutSession(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.controller.Stop(context.Background(), true); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
	if err := f.controller.Cancel(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording from cancel, got %v", err)
	}
}

func TestStartRejectsUnsupportedLanguage(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.controller.Start(-1, "fr"); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
}

func TestStartRejectsUnknownDevice(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.controller.Start(99, "en"); !errors.Is(err, audio.ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestCancelDiscardsSession(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.controller.Start(-1, "en"); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.source.pushSeconds(t, 5, f.cfg.Audio.SampleRate)

	if err := f.controller.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	st := f.controller.Status()
	if st.Recording || st.State != protocol.StatusCancelled {
		t.Fatalf("unexpected status after cancel: %+v", st)
	}
	transcript, segments := f.controller.Transcript()
	if transcript != "" || len(segments) != 0 {
		t.Fatalf("cancelled session must keep no transcript, got %q", transcript)
	}

	// A new session starts cleanly after cancel.
	if _, err := f.controller.Start(-1, "en"); err != nil {
		t.Fatalf("restart after cancel: %v", err)
	}
	if _, err := f.controller.Stop(context.Background(), false); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestFailedStartLeavesWorkerStopped(t *testing.T) {
	f := newFixture(t, nil)
	f.source.failOpen = true

	if _, err := f.controller.Start(-1, "en"); err == nil {
		t.Fatal("expected start to fail when the device cannot open")
	}
	if got := f.worker.State(); got != worker.StateStopped {
		t.Fatalf("expected worker stopped after failed start, got %v", got)
	}
	if f.controller.Status().Recording {
		t.Fatal("failed start must not mark the session recording")
	}

	// The next session runs cleanly on the same worker.
	f.source.failOpen = false
	if _, err := f.controller.Start(-1, "en"); err != nil {
		t.Fatalf("start after failed open: %v", err)
	}
	f.source.pushSeconds(t, 5, f.cfg.Audio.SampleRate)
	result, err := f.controller.Stop(context.Background(), false)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if result.SegmentCount != 1 {
		t.Fatalf("expected 1 segment, got %d", result.SegmentCount)
	}
}

// brokenEngine fails every model load the way a missing weights file
// would.
type brokenEngine struct{}

func (brokenEngine) Preload(string) error { return brokenLoadError() }
func (brokenEngine) Ready() bool          { return false }
func (brokenEngine) ReadyFor(string) bool { return false }
func (brokenEngine) Transcribe(context.Context, []float32, string) (engine.Result, error) {
	return engine.Result{}, brokenLoadError()
}

func brokenLoadError() error {
	return &engine.ModelLoadError{Profile: "base.en", Err: errors.New("weights missing")}
}

func TestStopSurfacesModelLoadFailure(t *testing.T) {
	f := newEngineFixture(t, nil, brokenEngine{})

	if _, err := f.controller.Start(-1, "en"); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.source.pushSeconds(t, 5, f.cfg.Audio.SampleRate)

	_, err := f.controller.Stop(context.Background(), false)
	var loadErr *engine.ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected a model load error from stop, got %v", err)
	}

	st := f.controller.Status()
	if st.Recording {
		t.Fatal("failed stop must clear the recording flag")
	}
	if st.ModelReady {
		t.Fatal("model must not report ready when every load fails")
	}
	if st.ModelError == "" {
		t.Fatal("expected the load failure surfaced in status")
	}

	if _, err := f.controller.Stop(context.Background(), false); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording after teardown, got %v", err)
	}
}

// stuckEngine blocks its first decode until released so tests can
// abandon a stop mid-drain.
type stuckEngine struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *stuckEngine) Preload(string) error { return nil }
func (s *stuckEngine) Ready() bool          { return true }
func (s *stuckEngine) ReadyFor(string) bool { return true }

func (s *stuckEngine) Transcribe(ctx context.Context, _ []float32, _ string) (engine.Result, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return engine.Result{}, errors.New("decode interrupted")
}

func TestAbandonedStopTearsDownSession(t *testing.T) {
	eng := &stuckEngine{started: make(chan struct{}), release: make(chan struct{})}
	f := newEngineFixture(t, nil, eng)
	t.Cleanup(func() { close(eng.release) })

	if _, err := f.controller.Start(-1, "en"); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.source.pushSeconds(t, 5, f.cfg.Audio.SampleRate)

	select {
	case <-eng.started:
	case <-time.After(2 * time.Second):
		t.Fatal("engine never saw the chunk")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.controller.Stop(ctx, false); err == nil {
		t.Fatal("expected stop to fail when the drain is abandoned")
	}

	st := f.controller.Status()
	if st.Recording {
		t.Fatal("abandoned stop must clear the recording flag")
	}
	if st.State != protocol.StatusCancelled {
		t.Fatalf("expected cancelled state after abort, got %q", st.State)
	}
	if _, err := f.controller.Stop(context.Background(), false); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording after abort, got %v", err)
	}
}

func TestBatchCaptureMode(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Audio.CaptureMode = "batch"
	})

	if _, err := f.controller.Start(-1, "en"); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Batch mode records to disk; nothing is queued until stop.
	f.source.pushSeconds(t, 3, f.cfg.Audio.SampleRate)
	f.source.pushSeconds(t, 3, f.cfg.Audio.SampleRate)

	result, err := f.controller.Stop(context.Background(), false)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	// The whole capture is transcribed as one unit.
	if result.SegmentCount != 1 {
		t.Fatalf("expected 1 segment from batch decode, got %d", result.SegmentCount)
	}
	if result.Duration != 6 {
		t.Fatalf("expected 6s processed, got %v", result.Duration)
	}
}
