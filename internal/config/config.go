// Package config loads service configuration from the environment, with an
// optional config file (CONFIG_FILE) providing values the environment omits.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Configuration is the full service configuration.
type Configuration struct {
	Service       ServiceConfig
	STT           STTConfig
	Audio         AudioConfig
	VAD           VADConfig
	Session       SessionConfig
	Loop          LoopConfig
	Diarization   DiarizationConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal string
	GRPCPort  string
	HTTPAddr  string
}

// STTConfig selects and configures the transcription backend.
type STTConfig struct {
	Provider          string // openai, google, mock
	APIKey            string
	BaseURL           string
	RealtimeURL       string
	Model             string
	Language          string
	TurnDetection     string
	SilenceDurationMs int
	GoogleLanguage    string
}

// AudioConfig selects the capture input: "device" for the default
// microphone, otherwise a path to a 16-bit mono WAV file.
type AudioConfig struct {
	Input        string
	SampleRateHz int
	FrameSamples int
}

// VADConfig configures the speech gate. RMSThreshold is on the raw int16 scale.
type VADConfig struct {
	RMSThreshold float64
	PollInterval time.Duration
}

type SessionConfig struct {
	CaptureDuration   time.Duration
	MinCommitDuration time.Duration
	ResultTimeout     time.Duration
	Pause             time.Duration
}

type LoopConfig struct {
	MaxDeviceFailures int
}

type DiarizationConfig struct {
	Enabled  bool
	Speakers int
	Seed     int64
}

type KafkaConfig struct {
	Enabled          bool
	Brokers          []string
	TopicTranscript  string
	TopicDiarization string
	Principal        string
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads configuration. Unparseable values fall back to defaults.
func Load() *Configuration {
	l := newLoader()

	principal := l.str("SERVICE_PRINCIPAL", "svc-speech-session")

	return &Configuration{
		Service: ServiceConfig{
			Principal: principal,
			GRPCPort:  l.str("GRPC_PORT", "50051"),
			HTTPAddr:  l.str("HTTP_ADDR", ":9090"),
		},
		STT: STTConfig{
			Provider:          strings.ToLower(l.str("STT_PROVIDER", "openai")),
			APIKey:            l.str("OPENAI_API_KEY", ""),
			BaseURL:           l.str("STT_BASE_URL", "https://api.openai.com"),
			RealtimeURL:       l.str("STT_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
			Model:             l.str("STT_MODEL", "gpt-4o-mini-transcribe"),
			Language:          l.str("STT_LANGUAGE", "ja"),
			TurnDetection:     l.str("STT_TURN_DETECTION", "server_vad"),
			SilenceDurationMs: l.int("STT_SILENCE_DURATION_MS", 1000),
			GoogleLanguage:    l.str("STT_GOOGLE_LANGUAGE_CODE", "ja-JP"),
		},
		Audio: AudioConfig{
			Input:        l.str("AUDIO_INPUT", "device"),
			SampleRateHz: l.int("AUDIO_SAMPLE_RATE_HZ", 16000),
			FrameSamples: l.int("AUDIO_FRAME_SAMPLES", 1024),
		},
		VAD: VADConfig{
			RMSThreshold: l.float("VAD_RMS_THRESHOLD", 100),
			PollInterval: l.duration("VAD_POLL_INTERVAL", 100*time.Millisecond),
		},
		Session: SessionConfig{
			CaptureDuration:   l.duration("SESSION_CAPTURE_DURATION", 10*time.Second),
			MinCommitDuration: l.duration("SESSION_MIN_COMMIT_DURATION", 100*time.Millisecond),
			ResultTimeout:     l.duration("SESSION_RESULT_TIMEOUT", 10*time.Second),
			Pause:             l.duration("SESSION_PAUSE", 500*time.Millisecond),
		},
		Loop: LoopConfig{
			MaxDeviceFailures: l.int("LOOP_MAX_DEVICE_FAILURES", 3),
		},
		Diarization: DiarizationConfig{
			Enabled:  l.bool("DIARIZATION_ENABLED", true),
			Speakers: l.int("DIARIZATION_SPEAKERS", 2),
			Seed:     int64(l.int("DIARIZATION_SEED", 0)),
		},
		Kafka: KafkaConfig{
			Enabled:          l.bool("KAFKA_ENABLED", false),
			Brokers:          l.list("KAFKA_BROKERS"),
			TopicTranscript:  l.str("KAFKA_TOPIC_TRANSCRIPT", "speech.session.transcript"),
			TopicDiarization: l.str("KAFKA_TOPIC_DIARIZATION", "speech.session.diarization"),
			Principal:        l.str("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:  l.str("LOG_LEVEL", "info"),
			LogFormat: l.str("LOG_FORMAT", "json"),
		},
	}
}

type loader struct {
	v *viper.Viper
}

func newLoader() *loader {
	v := viper.New()
	v.AutomaticEnv()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Config file not loaded, using environment only")
		}
	}
	return &loader{v: v}
}

func (l *loader) raw(key string) string {
	return strings.TrimSpace(l.v.GetString(key))
}

func (l *loader) str(key, def string) string {
	if v := l.raw(key); v != "" {
		return v
	}
	return def
}

func (l *loader) int(key string, def int) int {
	if v := l.raw(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (l *loader) float(key string, def float64) float64 {
	if v := l.raw(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func (l *loader) bool(key string, def bool) bool {
	if v := l.raw(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	if v := l.raw(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func (l *loader) list(key string) []string {
	v := l.raw(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
