package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"

	grpcapi "speech-session-service/internal/api/grpc"
	"speech-session-service/internal/app"
	"speech-session-service/internal/audio"
	"speech-session-service/internal/audio/device"
	"speech-session-service/internal/config"
	"speech-session-service/internal/diarize"
	"speech-session-service/internal/events"
	"speech-session-service/internal/observability"
	"speech-session-service/internal/observability/metrics"
	"speech-session-service/internal/orchestrator"
	"speech-session-service/internal/service/session"
	"speech-session-service/internal/service/stt"
	"speech-session-service/internal/service/stt/google"
	"speech-session-service/internal/service/stt/mock"
	"speech-session-service/internal/service/stt/openai"
	"speech-session-service/internal/vad"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := config.Load()
	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Application start failed")
	}

	m := metrics.DefaultMetrics

	publisher := events.New(&events.Config{
		Enabled:          cfg.Kafka.Enabled,
		Brokers:          cfg.Kafka.Brokers,
		TopicTranscript:  cfg.Kafka.TopicTranscript,
		TopicDiarization: cfg.Kafka.TopicDiarization,
		Principal:        cfg.Kafka.Principal,
		Metrics:          m,
	})
	defer publisher.Close()

	source := newSource(cfg)
	gate := vad.New(source, vad.Config{
		Threshold:    cfg.VAD.RMSThreshold,
		PollInterval: cfg.VAD.PollInterval,
	}, m)

	last := &orchestrator.LastReport{}
	opts := []orchestrator.Option{
		orchestrator.WithMetrics(m),
		orchestrator.WithReporters(
			orchestrator.NewConsoleReporter(os.Stdout),
			orchestrator.NewEventReporter(publisher),
			last,
		),
	}
	if cfg.Diarization.Enabled {
		engine := diarize.NewEngine(diarize.Config{
			SampleRate: cfg.Audio.SampleRateHz,
			Speakers:   cfg.Diarization.Speakers,
		}, diarize.MFCCKMeans{Seed: cfg.Diarization.Seed}, m)
		opts = append(opts, orchestrator.WithDiarizer(engine))
	}

	loop := orchestrator.New(orchestrator.Config{
		Session: session.Config{
			SampleRate:      cfg.Audio.SampleRateHz,
			CaptureDuration: cfg.Session.CaptureDuration,
			ResultTimeout:   cfg.Session.ResultTimeout,
		},
		Pause:             cfg.Session.Pause,
		MaxDeviceFailures: cfg.Loop.MaxDeviceFailures,
	}, gate, source, adapterFactory(cfg, m), opts...)

	httpServer := observability.NewServer(cfg.Service.HTTPAddr, loop, last)
	httpServer.Start()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen")
	}
	server := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(m)),
	)
	health := grpcapi.Register(server)
	go func() {
		log.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC health server started")
		if err := server.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC serve failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health.SetServing(true)
	runErr := loop.Run(ctx)
	health.SetServing(false)
	if runErr != nil {
		log.Error().Err(runErr).Msg("Session loop stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health.Shutdown()
	server.GracefulStop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Observability server shutdown")
	}
	application.Shutdown()

	if errors.Is(runErr, orchestrator.ErrDeviceUnrecoverable) {
		os.Exit(1)
	}
}

// newSource returns the microphone or, for any other AUDIO_INPUT, a WAV
// file replayed in real time. The file is read once: the loop stops when it
// is exhausted.
func newSource(cfg *config.Configuration) audio.Source {
	if cfg.Audio.Input == "" || cfg.Audio.Input == "device" {
		return device.NewSource(cfg.Audio.SampleRateHz, cfg.Audio.FrameSamples)
	}
	src := audio.NewWAVSource(cfg.Audio.Input, true)
	src.SampleRate = cfg.Audio.SampleRateHz
	src.FrameSamples = cfg.Audio.FrameSamples
	return src
}

func adapterFactory(cfg *config.Configuration, m *metrics.Metrics) orchestrator.AdapterFactory {
	switch cfg.STT.Provider {
	case "google":
		log.Info().Msg("Using Google STT adapter")
		return func(runID string) stt.Adapter {
			return google.New(google.Config{
				LanguageCode:   cfg.STT.GoogleLanguage,
				SampleRateHz:   cfg.Audio.SampleRateHz,
				InterimResults: true,
				AudioEncoding:  "LINEAR16",
			})
		}
	case "mock":
		log.Info().Msg("Using mock STT adapter")
		return func(runID string) stt.Adapter { return mock.New() }
	default:
		log.Info().Str("model", cfg.STT.Model).Msg("Using OpenAI realtime STT adapter")
		ocfg := openai.Config{
			APIKey:            cfg.STT.APIKey,
			BaseURL:           cfg.STT.BaseURL,
			RealtimeURL:       cfg.STT.RealtimeURL,
			Model:             cfg.STT.Model,
			Language:          cfg.STT.Language,
			TurnDetection:     cfg.STT.TurnDetection,
			SilenceDurationMs: cfg.STT.SilenceDurationMs,
			SampleRate:        cfg.Audio.SampleRateHz,
			MinCommitDuration: cfg.Session.MinCommitDuration,
		}
		return func(runID string) stt.Adapter {
			return openai.New(ocfg, openai.WithMetrics(m), openai.WithRunID(runID))
		}
	}
}
