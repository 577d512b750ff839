package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/callscribe/callscribe/internal/audio"
	"github.com/callscribe/callscribe/internal/config"
	"github.com/callscribe/callscribe/internal/export"
	"github.com/callscribe/callscribe/internal/protocol"
	"github.com/callscribe/callscribe/internal/store"
	"github.com/callscribe/callscribe/internal/worker"
	"github.com/google/uuid"
)

// Publisher marshals session lifecycle events onto the bus.
type Publisher interface {
	PublishEvent(subject string, evt protocol.Event) error
}

// Engine is the model-management capability the controller drives.
type Engine interface {
	Preload(language string) error
	Ready() bool
	ReadyFor(language string) bool
}

// Status is a point-in-time view of the controller.
type Status struct {
	Recording    bool          `json:"recording"`
	SessionID    string        `json:"session_id,omitempty"`
	Language     string        `json:"language,omitempty"`
	State        string        `json:"state"`
	StartedAt    string        `json:"started_at,omitempty"`
	Elapsed      float64       `json:"elapsed"`
	Processed    float64       `json:"processed"`
	SegmentCount int           `json:"segment_count"`
	QueueDepth   int           `json:"queue_depth"`
	ModelReady   bool          `json:"model_ready"`
	ModelError   string        `json:"model_error,omitempty"`
	Device       *audio.Device `json:"device,omitempty"`
}

// StopResult summarizes a completed session.
type StopResult struct {
	SessionID    string            `json:"session_id"`
	Duration     float64           `json:"duration"`
	SegmentCount int               `json:"segment_count"`
	Transcript   string            `json:"transcript"`
	Artifacts    *export.Artifacts `json:"artifacts,omitempty"`
}

// Controller owns the recording session lifecycle. At most one session
// is active at a time; Start, Stop, and Cancel are serialized so state
// transitions never interleave.
type Controller struct {
	cfg      config.Config
	source   audio.Source
	engine   Engine
	worker   *worker.Worker
	pub      Publisher
	exporter *export.Exporter
	archive  *store.Store
	log      *slog.Logger
	clock    func() time.Time

	// opMu serializes lifecycle operations; stateMu guards the fields
	// below so Status stays responsive while a stop drains.
	opMu    sync.Mutex
	stateMu sync.Mutex

	recording bool
	state     string
	sessionID string
	language  string
	startedAt time.Time
	device    audio.Device
	acc       *audio.Accumulator
	capture   *audio.CaptureWriter

	preloadDone chan struct{}
	preloadErr  error

	lastSegments []protocol.Segment
}

func NewController(cfg config.Config, src audio.Source, eng Engine, w *worker.Worker,
	pub Publisher, exporter *export.Exporter, archive *store.Store, log *slog.Logger) *Controller {
	return &Controller{
		cfg:      cfg,
		source:   src,
		engine:   eng,
		worker:   w,
		pub:      pub,
		exporter: exporter,
		archive:  archive,
		log:      log.With(slog.String("component", "session")),
		clock:    time.Now,
		state:    "idle",
	}
}

// Start begins a new recording session on the given device. deviceID < 0
// selects the preferred device. language may be a supported code or
// "auto"/"" for detection.
func (c *Controller) Start(deviceID int, language string) (string, error) {
	if language == "" {
		language = c.cfg.Engine.DefaultLanguage
	}
	if language != "auto" {
		if _, ok := config.Languages[language]; !ok {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
		}
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.stateMu.Lock()
	if c.recording {
		c.stateMu.Unlock()
		return "", ErrAlreadyRecording
	}
	c.stateMu.Unlock()

	device, err := audio.ResolveDevice(c.source, deviceID)
	if err != nil {
		return "", err
	}

	sessionID := uuid.NewString()

	// Capture plumbing is built before the worker loop is spawned so a
	// setup failure leaves nothing running.
	var acc *audio.Accumulator
	var capture *audio.CaptureWriter
	var frameSink audio.FrameFunc

	switch c.cfg.Audio.CaptureMode {
	case "batch":
		if err := os.MkdirAll(c.cfg.Audio.CaptureDir, 0o755); err != nil {
			return "", fmt.Errorf("create capture dir: %w", err)
		}
		path := filepath.Join(c.cfg.Audio.CaptureDir, sessionID+".wav")
		capture, err = audio.NewCaptureWriter(path, c.cfg.Audio.SampleRate)
		if err != nil {
			return "", err
		}
		frameSink = capture.Push
	default:
		acc = audio.NewAccumulator(c.cfg.Audio.SampleRate, c.cfg.Audio.ChunkDuration, func(chunk *audio.Chunk) {
			c.worker.Enqueue(chunk)
		})
		frameSink = acc.Push
	}

	// Model loading can take tens of seconds on first use; kick it off
	// now so early chunks do not stall the queue longer than needed.
	// Stop joins preloadDone before reporting, so a load failure
	// surfaces on the session rather than only in the log.
	preloadDone := make(chan struct{})
	c.stateMu.Lock()
	c.preloadDone = preloadDone
	c.preloadErr = nil
	c.stateMu.Unlock()
	go func() {
		err := c.engine.Preload(language)
		c.stateMu.Lock()
		c.preloadErr = err
		c.stateMu.Unlock()
		close(preloadDone)
		if err != nil {
			c.log.Error("model preload failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
		}
	}()

	c.worker.Start(sessionID, language)

	if err := c.source.Open(device.ID, frameSink); err != nil {
		if capture != nil {
			capture.Close()
		}
		cancelCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if cerr := c.worker.Cancel(cancelCtx); cerr != nil {
			c.log.Warn("stopping worker after failed open",
				slog.String("session_id", sessionID),
				slog.String("error", cerr.Error()))
		}
		return "", fmt.Errorf("open capture device: %w", err)
	}

	now := c.clock()
	c.stateMu.Lock()
	c.recording = true
	c.state = protocol.StatusRecording
	c.sessionID = sessionID
	c.language = language
	c.startedAt = now
	c.device = device
	c.acc = acc
	c.capture = capture
	c.lastSegments = nil
	c.stateMu.Unlock()

	c.publishStatus(sessionID, protocol.StatusRecording)
	c.log.Info("session started",
		slog.String("session_id", sessionID),
		slog.String("language", language),
		slog.String("device", device.Name),
		slog.String("capture_mode", c.cfg.Audio.CaptureMode))

	return sessionID, nil
}

// Stop ends the active session, drains pending audio through the
// engine, and optionally saves the transcript artifacts.
func (c *Controller) Stop(ctx context.Context, save bool) (StopResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.stateMu.Lock()
	if !c.recording {
		c.stateMu.Unlock()
		return StopResult{}, ErrNotRecording
	}
	sessionID := c.sessionID
	startedAt := c.startedAt
	acc := c.acc
	capture := c.capture
	c.state = protocol.StatusStopping
	c.stateMu.Unlock()

	c.publishStatus(sessionID, protocol.StatusStopping)

	if err := c.source.Close(); err != nil {
		c.log.Warn("closing capture source failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}

	if acc != nil {
		if chunk := acc.Flush(); chunk != nil {
			c.worker.Enqueue(chunk)
		}
	}
	if capture != nil {
		path, err := capture.Close()
		if err != nil {
			c.log.Error("finalizing capture failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
		} else {
			samples, rate, err := audio.ReadCapture(path)
			if err != nil {
				c.log.Error("reading capture failed",
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()))
			} else {
				c.worker.Enqueue(&audio.Chunk{Samples: samples, SampleRate: rate})
			}
		}
	}

	c.setState(protocol.StatusProcessing)
	c.publishStatus(sessionID, protocol.StatusProcessing)

	if err := c.worker.Stop(ctx); err != nil {
		// The drain was abandoned, so the session cannot resume.
		// Tear it down rather than leaving a half-stopped recording.
		c.abortSession(sessionID)
		return StopResult{}, fmt.Errorf("drain worker: %w", err)
	}

	if err := c.joinPreload(ctx); err != nil {
		c.abortSession(sessionID)
		return StopResult{}, fmt.Errorf("model load: %w", err)
	}

	segments := c.worker.Segments()
	result := StopResult{
		SessionID:    sessionID,
		Duration:     c.worker.Offset(),
		SegmentCount: len(segments),
		Transcript:   export.FullTranscript(segments),
	}

	if save && len(segments) > 0 {
		artifacts, err := c.exporter.Save(startedAt, segments)
		if err != nil {
			return StopResult{}, fmt.Errorf("save artifacts: %w", err)
		}
		result.Artifacts = &artifacts

		if c.archive != nil {
			rec := store.SessionRecord{
				SessionID:    sessionID,
				StartedAt:    startedAt,
				Duration:     result.Duration,
				SegmentCount: result.SegmentCount,
				Language:     c.language,
				TXTPath:      artifacts.TXT,
				SRTPath:      artifacts.SRT,
				JSONPath:     artifacts.JSON,
			}
			if err := c.archive.SaveSession(ctx, rec, segments); err != nil {
				c.log.Error("archiving session failed",
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()))
			}
		}
	}

	c.stateMu.Lock()
	c.recording = false
	c.state = protocol.StatusCompleted
	c.acc = nil
	c.capture = nil
	c.lastSegments = segments
	c.stateMu.Unlock()

	c.publishStatus(sessionID, protocol.StatusCompleted)
	c.log.Info("session completed",
		slog.String("session_id", sessionID),
		slog.Float64("duration", result.Duration),
		slog.Int("segments", result.SegmentCount))

	return result, nil
}

// Cancel ends the active session discarding queued audio and any
// transcript produced so far.
func (c *Controller) Cancel(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.stateMu.Lock()
	if !c.recording {
		c.stateMu.Unlock()
		return ErrNotRecording
	}
	sessionID := c.sessionID
	capture := c.capture
	c.state = protocol.StatusStopping
	c.stateMu.Unlock()

	if err := c.source.Close(); err != nil {
		c.log.Warn("closing capture source failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}
	if capture != nil {
		if path, err := capture.Close(); err == nil {
			os.Remove(path)
		}
	}

	if err := c.worker.Cancel(ctx); err != nil {
		c.abortSession(sessionID)
		return fmt.Errorf("cancel worker: %w", err)
	}

	c.stateMu.Lock()
	c.recording = false
	c.state = protocol.StatusCancelled
	c.acc = nil
	c.capture = nil
	c.lastSegments = nil
	c.stateMu.Unlock()

	c.publishStatus(sessionID, protocol.StatusCancelled)
	c.log.Info("session cancelled", slog.String("session_id", sessionID))
	return nil
}

// Status reports the controller's current view without blocking on an
// in-flight stop.
func (c *Controller) Status() Status {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	st := Status{
		Recording:    c.recording,
		State:        c.state,
		SegmentCount: c.worker.SegmentCount(),
		Processed:    c.worker.Offset(),
		ModelReady:   c.engine.Ready(),
	}
	if c.preloadErr != nil {
		st.ModelError = c.preloadErr.Error()
	}
	if c.sessionID != "" {
		st.SessionID = c.sessionID
		st.Language = c.language
		st.StartedAt = c.startedAt.UTC().Format(time.RFC3339)
		st.ModelReady = c.engine.ReadyFor(c.language)
		device := c.device
		st.Device = &device
	}
	if c.recording {
		st.Elapsed = c.clock().Sub(c.startedAt).Seconds()
		st.QueueDepth = c.worker.QueueDepth()
	}
	return st
}

// Transcript returns the segment sequence of the active session, or of
// the most recently completed one.
func (c *Controller) Transcript() (string, []protocol.Segment) {
	c.stateMu.Lock()
	recording := c.recording
	last := c.lastSegments
	c.stateMu.Unlock()

	var segments []protocol.Segment
	if recording {
		segments = c.worker.Segments()
	} else {
		segments = last
	}
	return export.FullTranscript(segments), segments
}

// Devices lists the capture devices visible to the configured source.
func (c *Controller) Devices() ([]audio.Device, error) {
	return c.source.Devices()
}

// joinPreload waits for the model preload spawned by Start and returns
// its outcome. The drain already finished, so under a working engine
// the load is long done and this returns immediately.
func (c *Controller) joinPreload(ctx context.Context) error {
	c.stateMu.Lock()
	done := c.preloadDone
	c.stateMu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.preloadErr
}

// abortSession tears down a session whose stop could not complete.
// Queued audio is already lost at this point; leaving the controller
// marked recording would only wedge every later start.
func (c *Controller) abortSession(sessionID string) {
	c.stateMu.Lock()
	c.recording = false
	c.state = protocol.StatusCancelled
	c.acc = nil
	c.capture = nil
	c.lastSegments = nil
	c.stateMu.Unlock()

	c.publishStatus(sessionID, protocol.StatusCancelled)
	c.log.Warn("session aborted", slog.String("session_id", sessionID))
}

func (c *Controller) setState(state string) {
	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()
}

func (c *Controller) publishStatus(sessionID, status string) {
	if c.pub == nil {
		return
	}
	evt := protocol.Event{
		Type:      protocol.EventStatus,
		SessionID: sessionID,
		Status:    status,
		Timestamp: c.clock(),
	}
	if err := c.pub.PublishEvent(protocol.SubjectStatus, evt); err != nil {
		c.log.Warn("failed to publish status event",
			slog.String("status", status),
			slog.String("error", err.Error()))
	}
}
