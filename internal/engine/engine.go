package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/callscribe/callscribe/internal/config"
)

// repetitionWindow is the number of trailing accepted texts compared by
// the anti-repetition guard. Three identical case-folded texts in a row
// terminate acceptance for the current decode.
const repetitionWindow = 3

// Segment is one accepted utterance with times local to the decoded
// buffer. The worker translates these to session-absolute times.
type Segment struct {
	Text  string
	Start float64
	End   float64
}

// Result is the outcome of one engine invocation.
type Result struct {
	Segments            []Segment
	Language            string
	LanguageProbability float64
}

type modelEntry struct {
	once    sync.Once
	backend Backend
	err     error
}

// Engine wraps the speech-to-text capability. It caches one loaded
// model instance per language profile and applies the decode policy
// (deterministic decoding, VAD pre-filter) and hallucination guards to
// every invocation.
type Engine struct {
	cfg        config.EngineConfig
	sampleRate int
	log        *slog.Logger

	mu     sync.Mutex
	models map[string]*modelEntry

	// newBackend loads a model profile. Overridable in tests.
	newBackend func(profile string) (Backend, error)
}

func New(cfg config.EngineConfig, sampleRate int, log *slog.Logger) *Engine {
	e := &Engine{
		cfg:        cfg,
		sampleRate: sampleRate,
		log:        log.With(slog.String("component", "engine")),
		models:     make(map[string]*modelEntry),
	}
	switch cfg.Mode {
	case "exec":
		e.newBackend = func(profile string) (Backend, error) {
			return newExecBackend(cfg, profile, sampleRate)
		}
	default:
		e.newBackend = func(profile string) (Backend, error) {
			return newMockBackend(profile, sampleRate), nil
		}
	}
	return e
}

// ProfileFor maps a language to its model profile. Unspecified or
// unsupported languages fall back to the default profile.
func (e *Engine) ProfileFor(language string) string {
	if profile, ok := e.cfg.LanguageModels[language]; ok {
		return profile
	}
	return e.cfg.DefaultModel
}

// Preload ensures the model profile for language is loaded. Duplicate
// loads never occur: concurrent requests for the same profile share a
// single load.
func (e *Engine) Preload(language string) error {
	_, err := e.backendFor(language)
	return err
}

// Ready reports whether at least one model instance is loaded.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, entry := range e.models {
		if entry.err == nil && entry.backend != nil {
			return true
		}
	}
	return false
}

// ReadyFor reports whether the model profile serving language is
// loaded. "auto" and "" resolve through the same fallback as a decode.
func (e *Engine) ReadyFor(language string) bool {
	if language == "auto" {
		language = ""
	}
	profile := e.ProfileFor(language)

	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.models[profile]
	return ok && entry.err == nil && entry.backend != nil
}

func (e *Engine) backendFor(language string) (Backend, error) {
	profile := e.ProfileFor(language)

	e.mu.Lock()
	entry, ok := e.models[profile]
	if !ok {
		entry = &modelEntry{}
		e.models[profile] = entry
	}
	e.mu.Unlock()

	entry.once.Do(func() {
		e.log.Info("loading model",
			slog.String("profile", profile),
			slog.String("compute_type", e.cfg.ComputeType))
		backend, err := e.newBackend(profile)
		if err != nil {
			entry.err = &ModelLoadError{Profile: profile, Err: err}
			e.log.Error("model load failed",
				slog.String("profile", profile),
				slog.String("error", err.Error()))
			return
		}
		entry.backend = backend
		e.log.Info("model loaded", slog.String("profile", profile))
	})

	if entry.err != nil {
		return nil, entry.err
	}
	return entry.backend, nil
}

// Transcribe decodes one mono PCM buffer. languageHint may be a
// language code or "auto"/"" for detection. Returned segments are
// ordered by start time with trimmed non-empty text; degenerate
// segments are dropped by the guards below.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, languageHint string) (Result, error) {
	lang := languageHint
	if lang == "auto" {
		lang = ""
	}

	backend, err := e.backendFor(lang)
	if err != nil {
		return Result{}, err
	}

	raw, err := backend.Transcribe(ctx, samples, lang)
	if err != nil {
		if _, ok := err.(*TranscriptionError); ok {
			return Result{}, err
		}
		return Result{}, &TranscriptionError{Err: err}
	}

	result := Result{
		Language:            raw.Language,
		LanguageProbability: raw.LanguageProbability,
	}

	var recent []string
	for _, seg := range raw.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if e.cfg.CompressionRatioThreshold > 0 && seg.CompressionRatio > e.cfg.CompressionRatioThreshold {
			e.log.Debug("dropping degenerate segment",
				slog.Float64("compression_ratio", seg.CompressionRatio))
			continue
		}
		if e.cfg.NoSpeechThreshold > 0 && seg.NoSpeechProb > e.cfg.NoSpeechThreshold {
			e.log.Debug("dropping silence misfire",
				slog.Float64("no_speech_prob", seg.NoSpeechProb))
			continue
		}

		result.Segments = append(result.Segments, Segment{
			Text:  text,
			Start: seg.Start,
			End:   seg.End,
		})

		recent = append(recent, strings.ToLower(text))
		if len(recent) > repetitionWindow {
			recent = recent[1:]
		}
		if len(recent) == repetitionWindow && allEqual(recent) {
			// The model is looping on silence or noise. Cut the
			// decode short rather than accept more repeats.
			e.log.Warn("repetition guard tripped, discarding remaining segments",
				slog.String("text", text))
			break
		}
	}

	return result, nil
}

func allEqual(texts []string) bool {
	for _, t := range texts[1:] {
		if t != texts[0] {
			return false
		}
	}
	return true
}

// DecodePolicy describes the reproducible decode constants passed to
// exec backends and surfaced for diagnostics.
func (e *Engine) DecodePolicy() string {
	return fmt.Sprintf("beam_size=%d best_of=%d temperature=%.1f vad_threshold=%.2f",
		e.cfg.BeamSize, e.cfg.BestOf, e.cfg.Temperature, e.cfg.VAD.Threshold)
}
