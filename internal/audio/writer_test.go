package audio

import (
	"math"
	"path/filepath"
	"testing"
)

func TestCaptureWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.wav")
	w, err := NewCaptureWriter(path, 8000)
	if err != nil {
		t.Fatalf("new capture writer: %v", err)
	}

	frame := make([]float32, 8000)
	for i := range frame {
		frame[i] = float32(0.25 * math.Sin(2*math.Pi*440*float64(i)/8000))
	}
	w.Push(frame, 1)

	if d := w.Duration(); d != 1.0 {
		t.Fatalf("expected 1s written, got %v", d)
	}

	got, err := w.Close()
	if err != nil {
		t.Fatalf("close capture writer: %v", err)
	}
	if got != path {
		t.Fatalf("expected path %s, got %s", path, got)
	}

	samples, rate, err := ReadCapture(path)
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	if rate != 8000 {
		t.Fatalf("expected rate 8000, got %d", rate)
	}
	if len(samples) != 8000 {
		t.Fatalf("expected 8000 samples, got %d", len(samples))
	}
	// 16-bit quantization keeps values within a small tolerance.
	for i := 0; i < len(samples); i += 1000 {
		if math.Abs(float64(samples[i]-frame[i])) > 0.001 {
			t.Fatalf("sample %d: expected ~%v, got %v", i, frame[i], samples[i])
		}
	}
}
