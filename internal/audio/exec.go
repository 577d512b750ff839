package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/callscribe/callscribe/internal/config"
	shellwords "github.com/mattn/go-shellwords"
)

// ExecSource captures audio through an external command (ffmpeg, sox,
// a platform capture helper) that writes interleaved little-endian
// s16 PCM at the configured sample rate to stdout.
type ExecSource struct {
	cfg config.AudioConfig
	cmd []string

	mu   sync.Mutex
	proc *exec.Cmd
	done chan struct{}
}

func NewExecSource(cfg config.AudioConfig) (*ExecSource, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse audio command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("audio command is empty")
	}
	return &ExecSource{cfg: cfg, cmd: args}, nil
}

// Devices reports a single pseudo-device backed by the capture command.
// Enumeration of hardware devices belongs to the external helper.
func (s *ExecSource) Devices() ([]Device, error) {
	return []Device{
		{
			ID:          0,
			Name:        s.cmd[0],
			Channels:    s.cfg.Channels,
			SampleRate:  float64(s.cfg.SampleRate),
			IsPreferred: true,
		},
	}, nil
}

func (s *ExecSource) Open(deviceID int, cb FrameFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		return nil
	}
	if deviceID != 0 {
		return ErrDeviceNotFound
	}

	proc := exec.Command(s.cmd[0], s.cmd[1:]...)
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture stdout: %w", err)
	}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("start capture command: %w", err)
	}

	frameDur := s.cfg.FrameDuration
	if frameDur <= 0 {
		frameDur = 20
	}
	samplesPerFrame := s.cfg.SampleRate * frameDur / 1000
	channels := s.cfg.Channels

	done := make(chan struct{})
	s.proc = proc
	s.done = done

	go func() {
		defer close(done)
		raw := make([]byte, samplesPerFrame*channels*2)
		frame := make([]float32, samplesPerFrame*channels)
		for {
			if _, err := io.ReadFull(stdout, raw); err != nil {
				return
			}
			for i := range frame {
				sample := int16(binary.LittleEndian.Uint16(raw[i*2:]))
				frame[i] = float32(sample) / 32768
			}
			cb(frame, channels)
		}
	}()

	return nil
}

func (s *ExecSource) Close() error {
	s.mu.Lock()
	proc, done := s.proc, s.done
	s.proc, s.done = nil, nil
	s.mu.Unlock()

	if proc == nil {
		return nil
	}
	_ = proc.Process.Kill()
	<-done
	_ = proc.Wait()
	return nil
}
