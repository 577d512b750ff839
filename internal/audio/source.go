package audio

import (
	"errors"
	"strings"

	"github.com/callscribe/callscribe/internal/config"
)

// ErrDeviceNotFound is returned when no capture device resolves for a
// start request.
var ErrDeviceNotFound = errors.New("no suitable capture device found")

// Device describes one capture device.
type Device struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Channels    int     `json:"channels"`
	SampleRate  float64 `json:"sample_rate"`
	IsPreferred bool    `json:"is_preferred"`
}

// FrameFunc receives one interleaved frame from the capture stream.
// It is invoked from the capture context and must not block.
type FrameFunc func(frame []float32, channels int)

// Source abstracts a capture backend. A source delivers frames at the
// configured sample rate through a per-frame callback; Open starts
// delivery and Close stops it.
type Source interface {
	Devices() ([]Device, error)
	Open(deviceID int, cb FrameFunc) error
	Close() error
}

// ResolveDevice picks the requested device, or falls back to the
// preferred device when no ID is given. requested < 0 means
// unspecified.
func ResolveDevice(src Source, requested int) (Device, error) {
	devices, err := src.Devices()
	if err != nil {
		return Device{}, err
	}
	if requested >= 0 {
		for _, d := range devices {
			if d.ID == requested {
				return d, nil
			}
		}
		return Device{}, ErrDeviceNotFound
	}
	for _, d := range devices {
		if d.IsPreferred {
			return d, nil
		}
	}
	return Device{}, ErrDeviceNotFound
}

// NewSource constructs the capture source for the configured mode.
func NewSource(cfg config.AudioConfig) (Source, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSource(cfg), nil
	case "exec":
		return NewExecSource(cfg)
	default:
		return nil, errors.New("unknown audio mode: " + cfg.Mode)
	}
}

// matchesPreferred reports whether a device name matches the configured
// preferred-device substring (e.g. a loopback driver name).
func matchesPreferred(name, match string) bool {
	if match == "" {
		return false
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(match))
}
