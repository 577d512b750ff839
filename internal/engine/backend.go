package engine

import "context"

// RawSegment is one decoded utterance as produced by a backend, with
// times local to the decoded buffer and the decode statistics the
// engine's hallucination guards evaluate.
type RawSegment struct {
	Text             string  `json:"text"`
	Start            float64 `json:"start"`
	End              float64 `json:"end"`
	CompressionRatio float64 `json:"compression_ratio"`
	NoSpeechProb     float64 `json:"no_speech_prob"`
}

// RawResult is a backend decode result.
type RawResult struct {
	Segments            []RawSegment `json:"segments"`
	Language            string       `json:"language"`
	LanguageProbability float64      `json:"language_probability"`
}

// Backend abstracts one loaded speech-to-text model instance. A
// backend accepts a mono PCM buffer plus a language hint ("" means
// auto-detect) and returns timed text segments.
type Backend interface {
	Transcribe(ctx context.Context, samples []float32, language string) (RawResult, error)
}
