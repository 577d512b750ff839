package engine

import (
	"context"
	"fmt"
)

// mockBackend produces deterministic placeholder segments. It stands in
// for a real model in development and tests.
type mockBackend struct {
	profile    string
	sampleRate int
}

func newMockBackend(profile string, sampleRate int) Backend {
	return &mockBackend{profile: profile, sampleRate: sampleRate}
}

func (m *mockBackend) Transcribe(_ context.Context, samples []float32, language string) (RawResult, error) {
	if language == "" {
		language = "en"
	}
	duration := float64(len(samples)) / float64(m.sampleRate)
	return RawResult{
		Segments: []RawSegment{
			{
				Text:  fmt.Sprintf("[%s transcript %.1fs]", m.profile, duration),
				Start: 0,
				End:   duration,
			},
		},
		Language:            language,
		LanguageProbability: 1,
	}, nil
}
