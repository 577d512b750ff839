package session

import "errors"

var (
	// ErrAlreadyRecording is returned when a start request arrives while
	// a session is active.
	ErrAlreadyRecording = errors.New("a recording session is already active")

	// ErrNotRecording is returned for stop or cancel requests with no
	// active session.
	ErrNotRecording = errors.New("no recording session is active")

	// ErrUnsupportedLanguage is returned when the requested language is
	// neither a supported code nor auto-detection.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)
