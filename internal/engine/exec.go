package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/callscribe/callscribe/internal/config"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	shellwords "github.com/mattn/go-shellwords"
)

// execBackend shells out to an external recognizer (a faster-whisper
// style CLI) that reads a WAV file and writes a JSON decode result to
// stdout. One backend instance corresponds to one loaded model profile;
// calls are serialized by the worker, not here.
type execBackend struct {
	cmd        []string
	cfg        config.EngineConfig
	profile    string
	sampleRate int
}

func newExecBackend(cfg config.EngineConfig, profile string, sampleRate int) (Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}
	return &execBackend{cmd: args, cfg: cfg, profile: profile, sampleRate: sampleRate}, nil
}

func (b *execBackend) Transcribe(ctx context.Context, samples []float32, language string) (RawResult, error) {
	file, err := os.CreateTemp("", "callscribe_chunk_*.wav")
	if err != nil {
		return RawResult{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writeSamplesToWav(file, samples, b.sampleRate); err != nil {
		return RawResult{}, err
	}

	args := append([]string{}, b.cmd[1:]...)
	args = append(args,
		"--audio", file.Name(),
		"--model", b.profile,
		"--model-dir", b.cfg.ModelDir,
		"--compute-type", b.cfg.ComputeType,
		"--beam-size", strconv.Itoa(b.cfg.BeamSize),
		"--best-of", strconv.Itoa(b.cfg.BestOf),
		"--temperature", strconv.FormatFloat(b.cfg.Temperature, 'f', -1, 64),
		"--condition-on-previous-text",
		"--vad-filter",
		"--vad-threshold", strconv.FormatFloat(b.cfg.VAD.Threshold, 'f', -1, 64),
		"--min-speech-ms", strconv.Itoa(b.cfg.VAD.MinSpeechMS),
		"--min-silence-ms", strconv.Itoa(b.cfg.VAD.MinSilenceMS),
		"--speech-pad-ms", strconv.Itoa(b.cfg.VAD.SpeechPadMS),
	)
	if language != "" {
		args = append(args, "--language", language)
	}

	command := exec.CommandContext(ctx, b.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return RawResult{}, &TranscriptionError{
			Err: fmt.Errorf("engine command failed: %w: %s", err, stderr.String()),
		}
	}

	var result RawResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return RawResult{}, &TranscriptionError{
			Err: fmt.Errorf("decode engine response: %w", err),
		}
	}
	return result, nil
}

func writeSamplesToWav(file *os.File, samples []float32, sampleRate int) error {
	buffer := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   make([]int, len(samples)),
	}
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buffer.Data[i] = int(s * 32767)
	}

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
