package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type AudioConfig struct {
	Mode           string `yaml:"mode"` // mock, exec
	Command        string `yaml:"command"`
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	ChunkDuration  int    `yaml:"chunk_duration_s"`
	CaptureMode    string `yaml:"capture_mode"` // stream, batch
	CaptureDir     string `yaml:"capture_dir"`
	FrameDuration  int    `yaml:"frame_duration_ms"`
	PreferredMatch string `yaml:"preferred_match"`
}

type VADConfig struct {
	Threshold    float64 `yaml:"threshold"`
	MinSpeechMS  int     `yaml:"min_speech_ms"`
	MinSilenceMS int     `yaml:"min_silence_ms"`
	SpeechPadMS  int     `yaml:"speech_pad_ms"`
}

type EngineConfig struct {
	Mode                      string            `yaml:"mode"` // mock, exec
	Command                   string            `yaml:"command"`
	ModelDir                  string            `yaml:"model_dir"`
	DefaultModel              string            `yaml:"default_model"`
	ComputeType               string            `yaml:"compute_type"`
	DefaultLanguage           string            `yaml:"default_language"`
	LanguageModels            map[string]string `yaml:"language_models"`
	BeamSize                  int               `yaml:"beam_size"`
	BestOf                    int               `yaml:"best_of"`
	Temperature               float64           `yaml:"temperature"`
	CompressionRatioThreshold float64           `yaml:"compression_ratio_threshold"`
	NoSpeechThreshold         float64           `yaml:"no_speech_threshold"`
	VAD                       VADConfig         `yaml:"vad"`
}

type WorkerConfig struct {
	QueueWaitMS int `yaml:"queue_wait_ms"`
}

type ExportConfig struct {
	TranscriptsDir string `yaml:"transcripts_dir"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type StreamConfig struct {
	KeepaliveMS int `yaml:"keepalive_ms"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Audio       AudioConfig     `yaml:"audio"`
	Engine      EngineConfig    `yaml:"engine"`
	Worker      WorkerConfig    `yaml:"worker"`
	Export      ExportConfig    `yaml:"export"`
	Store       StoreConfig     `yaml:"store"`
	Stream      StreamConfig    `yaml:"stream"`
}

// Languages supported for explicit selection. "auto" is additionally
// accepted by the control API and maps to engine auto-detection.
var Languages = map[string]string{
	"en": "English",
	"uk": "Ukrainian",
}

func Default() Config {
	return Config{
		ServiceName: "callscribed",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audio: AudioConfig{
			Mode:           "mock",
			SampleRate:     16000,
			Channels:       2,
			ChunkDuration:  5,
			CaptureMode:    "stream",
			CaptureDir:     "./data/captures",
			FrameDuration:  20,
			PreferredMatch: "blackhole",
		},
		Engine: EngineConfig{
			Mode:            "mock",
			ModelDir:        "./models",
			DefaultModel:    "large-v3",
			ComputeType:     "int8",
			DefaultLanguage: "en",
			LanguageModels: map[string]string{
				"en": "medium.en",
				"uk": "large-v3",
			},
			BeamSize:                  8,
			BestOf:                    8,
			Temperature:               0.0,
			CompressionRatioThreshold: 2.2,
			NoSpeechThreshold:         0.5,
			VAD: VADConfig{
				Threshold:    0.5,
				MinSpeechMS:  250,
				MinSilenceMS: 2000,
				SpeechPadMS:  400,
			},
		},
		Worker: WorkerConfig{
			QueueWaitMS: 250,
		},
		Export: ExportConfig{
			TranscriptsDir: "./transcripts",
		},
		Store: StoreConfig{
			Path:          "./data/callscribe.db",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Stream: StreamConfig{
			KeepaliveMS: 30000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "CALLSCRIBE_SERVICE_NAME")
	overrideString(&cfg.Environment, "CALLSCRIBE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "CALLSCRIBE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "CALLSCRIBE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "CALLSCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "CALLSCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "CALLSCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "CALLSCRIBE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "CALLSCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "CALLSCRIBE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "CALLSCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "CALLSCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "CALLSCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "CALLSCRIBE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "CALLSCRIBE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "CALLSCRIBE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Audio.Mode, "CALLSCRIBE_AUDIO_MODE")
	overrideString(&cfg.Audio.Command, "CALLSCRIBE_AUDIO_COMMAND")
	overrideInt(&cfg.Audio.SampleRate, "CALLSCRIBE_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "CALLSCRIBE_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.ChunkDuration, "CALLSCRIBE_AUDIO_CHUNK_DURATION_S")
	overrideString(&cfg.Audio.CaptureMode, "CALLSCRIBE_AUDIO_CAPTURE_MODE")
	overrideString(&cfg.Audio.CaptureDir, "CALLSCRIBE_AUDIO_CAPTURE_DIR")
	overrideString(&cfg.Audio.PreferredMatch, "CALLSCRIBE_AUDIO_PREFERRED_MATCH")
	overrideString(&cfg.Engine.Mode, "CALLSCRIBE_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "CALLSCRIBE_ENGINE_COMMAND")
	overrideString(&cfg.Engine.ModelDir, "CALLSCRIBE_ENGINE_MODEL_DIR")
	overrideString(&cfg.Engine.DefaultModel, "CALLSCRIBE_ENGINE_DEFAULT_MODEL")
	overrideString(&cfg.Engine.ComputeType, "CALLSCRIBE_ENGINE_COMPUTE_TYPE")
	overrideString(&cfg.Engine.DefaultLanguage, "CALLSCRIBE_ENGINE_DEFAULT_LANGUAGE")
	overrideInt(&cfg.Engine.BeamSize, "CALLSCRIBE_ENGINE_BEAM_SIZE")
	overrideInt(&cfg.Engine.BestOf, "CALLSCRIBE_ENGINE_BEST_OF")
	overrideFloat(&cfg.Engine.Temperature, "CALLSCRIBE_ENGINE_TEMPERATURE")
	overrideFloat(&cfg.Engine.CompressionRatioThreshold, "CALLSCRIBE_ENGINE_COMPRESSION_RATIO_THRESHOLD")
	overrideFloat(&cfg.Engine.NoSpeechThreshold, "CALLSCRIBE_ENGINE_NO_SPEECH_THRESHOLD")
	overrideFloat(&cfg.Engine.VAD.Threshold, "CALLSCRIBE_ENGINE_VAD_THRESHOLD")
	overrideInt(&cfg.Engine.VAD.MinSpeechMS, "CALLSCRIBE_ENGINE_VAD_MIN_SPEECH_MS")
	overrideInt(&cfg.Engine.VAD.MinSilenceMS, "CALLSCRIBE_ENGINE_VAD_MIN_SILENCE_MS")
	overrideInt(&cfg.Engine.VAD.SpeechPadMS, "CALLSCRIBE_ENGINE_VAD_SPEECH_PAD_MS")
	overrideInt(&cfg.Worker.QueueWaitMS, "CALLSCRIBE_WORKER_QUEUE_WAIT_MS")
	overrideString(&cfg.Export.TranscriptsDir, "CALLSCRIBE_EXPORT_TRANSCRIPTS_DIR")
	overrideString(&cfg.Store.Path, "CALLSCRIBE_STORE_PATH")
	overrideInt(&cfg.Store.RetentionDays, "CALLSCRIBE_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxSessions, "CALLSCRIBE_STORE_MAX_SESSIONS")
	overrideBool(&cfg.Store.VacuumOnStart, "CALLSCRIBE_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Stream.KeepaliveMS, "CALLSCRIBE_STREAM_KEEPALIVE_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Audio.Mode {
	case "mock", "exec":
	default:
		return errors.New("audio.mode must be one of mock|exec")
	}
	if cfg.Audio.Mode == "exec" && cfg.Audio.Command == "" {
		return errors.New("audio.command must be set when mode=exec")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.ChunkDuration <= 0 {
		return errors.New("audio.chunk_duration_s must be positive")
	}
	switch cfg.Audio.CaptureMode {
	case "stream", "batch":
	default:
		return errors.New("audio.capture_mode must be one of stream|batch")
	}
	if cfg.Audio.CaptureMode == "batch" && cfg.Audio.CaptureDir == "" {
		return errors.New("audio.capture_dir must not be empty when capture_mode=batch")
	}
	switch cfg.Engine.Mode {
	case "mock", "exec":
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.DefaultModel == "" {
		return errors.New("engine.default_model must not be empty")
	}
	if cfg.Engine.BeamSize < 5 || cfg.Engine.BeamSize > 8 {
		return errors.New("engine.beam_size must be between 5 and 8")
	}
	if cfg.Engine.Temperature != 0 {
		return errors.New("engine.temperature must be 0 for deterministic decoding")
	}
	if cfg.Engine.CompressionRatioThreshold <= 0 {
		return errors.New("engine.compression_ratio_threshold must be positive")
	}
	if cfg.Engine.NoSpeechThreshold <= 0 || cfg.Engine.NoSpeechThreshold > 1 {
		return errors.New("engine.no_speech_threshold must be in (0, 1]")
	}
	if cfg.Engine.VAD.Threshold < 0 || cfg.Engine.VAD.Threshold > 1 {
		return errors.New("engine.vad.threshold must be between 0 and 1")
	}
	if cfg.Engine.DefaultLanguage != "" {
		if _, ok := Languages[cfg.Engine.DefaultLanguage]; !ok {
			return errors.New("engine.default_language must be a supported language")
		}
	}
	if cfg.Worker.QueueWaitMS <= 0 {
		return errors.New("worker.queue_wait_ms must be positive")
	}
	if cfg.Export.TranscriptsDir == "" {
		return errors.New("export.transcripts_dir must not be empty")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.Stream.KeepaliveMS <= 0 {
		return errors.New("stream.keepalive_ms must be positive")
	}
	return nil
}
