package audio

import (
	"fmt"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// CaptureWriter streams down-mixed mono frames to a WAV file. It backs
// batch capture mode, where transcription runs once over the full
// recording after stop.
type CaptureWriter struct {
	mu         sync.Mutex
	path       string
	file       *os.File
	enc        *wav.Encoder
	sampleRate int
	scratch    []float32
	samples    int
}

func NewCaptureWriter(path string, sampleRate int) (*CaptureWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}
	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	return &CaptureWriter{
		path:       path,
		file:       file,
		enc:        enc,
		sampleRate: sampleRate,
	}, nil
}

// Push down-mixes one interleaved frame and appends it to the file.
func (w *CaptureWriter) Push(frame []float32, channels int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.enc == nil {
		return
	}
	w.scratch = DownmixMono(frame, channels, w.scratch)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: 1, SampleRate: w.sampleRate},
		Data:   make([]int, len(w.scratch)),
	}
	for i, s := range w.scratch {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buf.Data[i] = int(s * 32767)
	}
	if err := w.enc.Write(buf); err == nil {
		w.samples += len(w.scratch)
	}
}

// Duration returns seconds of audio written so far.
func (w *CaptureWriter) Duration() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return float64(w.samples) / float64(w.sampleRate)
}

// Close finalizes the WAV header and returns the file path.
func (w *CaptureWriter) Close() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.enc == nil {
		return w.path, nil
	}
	enc, file := w.enc, w.file
	w.enc, w.file = nil, nil
	if err := enc.Close(); err != nil {
		file.Close()
		return "", fmt.Errorf("close wav encoder: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close capture file: %w", err)
	}
	return w.path, nil
}

// ReadCapture loads a mono 16-bit WAV capture back into float32
// samples for batch transcription.
func ReadCapture(path string) ([]float32, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open capture file: %w", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode capture file: %w", err)
	}
	samples := make([]float32, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = float32(s) / 32768
	}
	return samples, buf.Format.SampleRate, nil
}
