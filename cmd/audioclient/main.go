// Command audioclient runs a single session against a WAV file and prints
// the report. It skips the speech gate.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"speech-session-service/internal/audio"
	"speech-session-service/internal/config"
	"speech-session-service/internal/diarize"
	"speech-session-service/internal/observability/logging"
	"speech-session-service/internal/observability/metrics"
	"speech-session-service/internal/orchestrator"
	"speech-session-service/internal/service/session"
	"speech-session-service/internal/service/stt"
	"speech-session-service/internal/service/stt/google"
	"speech-session-service/internal/service/stt/mock"
	"speech-session-service/internal/service/stt/openai"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	provider := flag.String("provider", cfg.STT.Provider, "STT provider: openai, google, mock")
	realtime := flag.Bool("realtime", true, "Pace frames at the audio rate")
	jsonOut := flag.Bool("json", false, "Print the report as JSON")
	savePath := flag.String("save", "", "Write the captured session audio to this WAV file")
	flag.Parse()

	logging.Init(logging.Config{Level: cfg.Observability.LogLevel, Format: "console"})

	m := metrics.DefaultMetrics
	source := audio.NewWAVSource(*audioFile, *realtime)
	source.SampleRate = cfg.Audio.SampleRateHz
	source.FrameSamples = cfg.Audio.FrameSamples

	factory := func(runID string) stt.Adapter {
		switch *provider {
		case "google":
			return google.New(google.Config{LanguageCode: cfg.STT.GoogleLanguage, SampleRateHz: cfg.Audio.SampleRateHz, InterimResults: true})
		case "mock":
			return mock.New()
		default:
			return openai.New(openai.Config{
				APIKey:            cfg.STT.APIKey,
				BaseURL:           cfg.STT.BaseURL,
				RealtimeURL:       cfg.STT.RealtimeURL,
				Model:             cfg.STT.Model,
				Language:          cfg.STT.Language,
				TurnDetection:     cfg.STT.TurnDetection,
				SilenceDurationMs: cfg.STT.SilenceDurationMs,
				SampleRate:        cfg.Audio.SampleRateHz,
				MinCommitDuration: cfg.Session.MinCommitDuration,
			}, openai.WithMetrics(m), openai.WithRunID(runID))
		}
	}

	opts := []orchestrator.Option{orchestrator.WithMetrics(m)}
	if !*jsonOut {
		opts = append(opts, orchestrator.WithReporters(orchestrator.NewConsoleReporter(os.Stdout)))
	}
	if cfg.Diarization.Enabled {
		opts = append(opts, orchestrator.WithDiarizer(diarize.NewEngine(diarize.Config{
			SampleRate: cfg.Audio.SampleRateHz,
			Speakers:   cfg.Diarization.Speakers,
		}, diarize.MFCCKMeans{Seed: cfg.Diarization.Seed}, m)))
	}

	loop := orchestrator.New(orchestrator.Config{
		Session: session.Config{
			SampleRate:      cfg.Audio.SampleRateHz,
			CaptureDuration: cfg.Session.CaptureDuration,
			ResultTimeout:   cfg.Session.ResultTimeout,
		},
	}, nil, source, factory, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := loop.RunOnce(ctx)
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			log.Error().Err(encErr).Msg("Failed to encode report")
		}
	}
	if *savePath != "" {
		if saveErr := saveAudio(*savePath, report, cfg.Audio.SampleRateHz); saveErr != nil {
			log.Error().Err(saveErr).Str("path", *savePath).Msg("Failed to save session audio")
		} else {
			log.Info().Str("path", *savePath).Dur("audio", report.AudioDuration).Msg("Session audio saved")
		}
	}
	if err != nil {
		log.Error().Err(err).Str("endReason", report.EndReason).Msg("Session failed")
		os.Exit(1)
	}
}

// saveAudio writes the audio the session streamed as a WAV file.
func saveAudio(path string, report *orchestrator.Report, sampleRate int) error {
	if report.Session == nil {
		return errors.New("report carries no session audio")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := audio.WriteWAV(f, report.Session.PCM(), sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
