package audio

import (
	"math"
	"sync"
	"time"

	"github.com/callscribe/callscribe/internal/config"
)

// MockSource synthesizes a sine tone at the configured sample rate and
// frame cadence. It stands in for a hardware loopback device in
// development and tests.
type MockSource struct {
	cfg     config.AudioConfig
	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	devices []Device
}

func NewMockSource(cfg config.AudioConfig) *MockSource {
	devices := []Device{
		{ID: 0, Name: "Mock Built-in Microphone", Channels: cfg.Channels, SampleRate: float64(cfg.SampleRate)},
		{ID: 1, Name: "Mock BlackHole 2ch", Channels: cfg.Channels, SampleRate: float64(cfg.SampleRate)},
	}
	matched := false
	for i := range devices {
		if matchesPreferred(devices[i].Name, cfg.PreferredMatch) {
			devices[i].IsPreferred = true
			matched = true
		}
	}
	if !matched {
		// The synthetic loopback stands in for the preferred capture
		// device so a start without an explicit ID always resolves.
		devices[len(devices)-1].IsPreferred = true
	}
	return &MockSource{cfg: cfg, devices: devices}
}

func (m *MockSource) Devices() ([]Device, error) {
	return m.devices, nil
}

func (m *MockSource) Open(deviceID int, cb FrameFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop != nil {
		return nil
	}

	found := false
	for _, d := range m.devices {
		if d.ID == deviceID {
			found = true
		}
	}
	if !found {
		return ErrDeviceNotFound
	}

	frameDur := time.Duration(m.cfg.FrameDuration) * time.Millisecond
	if frameDur <= 0 {
		frameDur = 20 * time.Millisecond
	}
	samplesPerFrame := int(float64(m.cfg.SampleRate) * frameDur.Seconds())
	channels := m.cfg.Channels

	stop := make(chan struct{})
	done := make(chan struct{})
	m.stop = stop
	m.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(frameDur)
		defer ticker.Stop()

		frame := make([]float32, samplesPerFrame*channels)
		phase := 0.0
		step := 2 * math.Pi * 440 / float64(m.cfg.SampleRate)
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				for i := 0; i < samplesPerFrame; i++ {
					v := float32(0.1 * math.Sin(phase))
					phase += step
					for ch := 0; ch < channels; ch++ {
						frame[i*channels+ch] = v
					}
				}
				cb(frame, channels)
			}
		}
	}()

	return nil
}

func (m *MockSource) Close() error {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}
