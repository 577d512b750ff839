package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("expected default sample rate 16000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.ChunkDuration != 5 {
		t.Fatalf("expected default chunk duration 5, got %d", cfg.Audio.ChunkDuration)
	}
	if cfg.Engine.DefaultModel != "large-v3" {
		t.Fatalf("expected default model large-v3, got %s", cfg.Engine.DefaultModel)
	}
	if cfg.Engine.BeamSize != 8 || cfg.Engine.Temperature != 0 {
		t.Fatalf("unexpected decode defaults: beam=%d temp=%v", cfg.Engine.BeamSize, cfg.Engine.Temperature)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
}

func TestLoadFile(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "callscribe.yaml")
	data := []byte(`
http:
  port: 9000
audio:
  chunk_duration_s: 10
engine:
  default_language: uk
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9000 {
		t.Fatalf("expected port 9000, got %d", cfg.HTTP.Port)
	}
	if cfg.Audio.ChunkDuration != 10 {
		t.Fatalf("expected chunk duration 10, got %d", cfg.Audio.ChunkDuration)
	}
	if cfg.Engine.DefaultLanguage != "uk" {
		t.Fatalf("expected language uk, got %s", cfg.Engine.DefaultLanguage)
	}
	// File values not set keep defaults.
	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("expected default sample rate, got %d", cfg.Audio.SampleRate)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CALLSCRIBE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("CALLSCRIBE_BUS_USERNAME", "alice")
	t.Setenv("CALLSCRIBE_BUS_PASSWORD", "secret")
	t.Setenv("CALLSCRIBE_BUS_TLS_INSECURE", "true")
	t.Setenv("CALLSCRIBE_AUDIO_SAMPLE_RATE", "48000")
	t.Setenv("CALLSCRIBE_AUDIO_CHANNELS", "1")
	t.Setenv("CALLSCRIBE_ENGINE_DEFAULT_MODEL", "medium")
	t.Setenv("CALLSCRIBE_ENGINE_BEAM_SIZE", "5")
	t.Setenv("CALLSCRIBE_ENGINE_NO_SPEECH_THRESHOLD", "0.6")
	t.Setenv("CALLSCRIBE_STORE_MAX_SESSIONS", "123")
	t.Setenv("CALLSCRIBE_STREAM_KEEPALIVE_MS", "15000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Audio.Channels != 1 {
		t.Fatalf("expected audio overrides, got rate=%d channels=%d", cfg.Audio.SampleRate, cfg.Audio.Channels)
	}
	if cfg.Engine.DefaultModel != "medium" {
		t.Fatalf("expected model override, got %s", cfg.Engine.DefaultModel)
	}
	if cfg.Engine.BeamSize != 5 {
		t.Fatalf("expected beam size override, got %d", cfg.Engine.BeamSize)
	}
	if cfg.Engine.NoSpeechThreshold != 0.6 {
		t.Fatalf("expected no-speech threshold override, got %v", cfg.Engine.NoSpeechThreshold)
	}
	if cfg.Store.MaxSessions != 123 {
		t.Fatalf("expected store max sessions override, got %d", cfg.Store.MaxSessions)
	}
	if cfg.Stream.KeepaliveMS != 15000 {
		t.Fatalf("expected keepalive override, got %d", cfg.Stream.KeepaliveMS)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad audio mode", func(c *Config) { c.Audio.Mode = "pulse" }},
		{"exec audio without command", func(c *Config) { c.Audio.Mode = "exec" }},
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"bad capture mode", func(c *Config) { c.Audio.CaptureMode = "ring" }},
		{"beam size out of range", func(c *Config) { c.Engine.BeamSize = 3 }},
		{"nonzero temperature", func(c *Config) { c.Engine.Temperature = 0.4 }},
		{"unsupported default language", func(c *Config) { c.Engine.DefaultLanguage = "fr" }},
		{"zero queue wait", func(c *Config) { c.Worker.QueueWaitMS = 0 }},
		{"empty transcripts dir", func(c *Config) { c.Export.TranscriptsDir = "" }},
		{"zero keepalive", func(c *Config) { c.Stream.KeepaliveMS = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
