package engine

import "fmt"

// ModelLoadError reports a failed model initialization for a profile.
// The session cannot proceed with that language.
type ModelLoadError struct {
	Profile string
	Err     error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %q: %v", e.Profile, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// TranscriptionError reports an internal decode failure for one chunk.
// The worker logs it and skips the chunk; it never aborts the session.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }
