package audio

// Chunk is a bounded span of accumulated mono audio handed to the
// transcription engine as one unit of work. It is created by the
// accumulator and consumed exactly once by the worker.
type Chunk struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the nominal chunk duration in seconds. The worker
// advances its session offset by exactly this value per chunk.
func (c *Chunk) Duration() float64 {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// DownmixMono averages interleaved multi-channel samples into dst and
// returns it. dst is reused when it has sufficient capacity so the
// capture callback does not allocate per frame.
func DownmixMono(frame []float32, channels int, dst []float32) []float32 {
	if channels <= 1 {
		return append(dst[:0], frame...)
	}
	frames := len(frame) / channels
	if cap(dst) < frames {
		dst = make([]float32, frames)
	}
	dst = dst[:frames]
	for i := 0; i < frames; i++ {
		var sum float32
		base := i * channels
		for ch := 0; ch < channels; ch++ {
			sum += frame[base+ch]
		}
		dst[i] = sum / float32(channels)
	}
	return dst
}
