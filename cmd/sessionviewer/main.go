// Session viewer: consumes session transcript and diarization events from
// Kafka and pushes them to browsers over WebSocket.
package main

import (
	"context"
	"embed"
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"speech-session-service/internal/models"
	"speech-session-service/internal/observability/logging"
)

//go:embed static/*
var staticFiles embed.FS

// ViewerEvent is what the browser receives: the event type plus the raw
// event body.
type ViewerEvent struct {
	EventType string          `json:"eventType"`
	RunID     string          `json:"runId"`
	Summary   string          `json:"summary"`
	Event     json.RawMessage `json:"event"`
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// decodeEvent recognizes transcript and diarization events by eventType.
func decodeEvent(raw []byte) (ViewerEvent, error) {
	var head struct {
		EventType string `json:"eventType"`
		RunID     string `json:"runId"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ViewerEvent{}, err
	}
	ev := ViewerEvent{EventType: head.EventType, RunID: head.RunID, Event: json.RawMessage(raw)}

	switch head.EventType {
	case models.EventSessionTranscript:
		var t models.SessionTranscript
		if err := json.Unmarshal(raw, &t); err != nil {
			return ViewerEvent{}, err
		}
		if t.Empty {
			ev.Summary = "(no transcript: " + t.EndReason + ")"
		} else {
			ev.Summary = truncate(t.Text, 80)
		}
	case models.EventSessionDiarization:
		var d models.SessionDiarization
		if err := json.Unmarshal(raw, &d); err != nil {
			return ViewerEvent{}, err
		}
		if d.Available {
			ev.Summary = fmt.Sprintf("%d segments", len(d.Segments))
		} else {
			ev.Summary = "unavailable: " + d.Reason
		}
	default:
		return ViewerEvent{}, fmt.Errorf("unknown event type %q", head.EventType)
	}
	return ev, nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local dev only
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket upgrade error")
			return
		}
		hub.Register(conn)

		go func() {
			defer hub.Unregister(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

func consumeKafka(ctx context.Context, hub *Hub, brokers []string, topic string) {
	// Partition reader without a consumer group.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-1*time.Hour)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Could not rewind to last hour")
	}
	log.Info().Str("topic", topic).Msg("Consuming from Kafka (last hour)")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}

		ev, err := decodeEvent(msg.Value)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Skipping undecodable event")
			continue
		}
		log.Info().Str("eventType", ev.EventType).Str("runId", ev.RunID).Msg(ev.Summary)
		hub.Broadcast(ev)
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicTranscript := flag.String("topic-transcript", "speech.session.transcript", "Transcript topic")
	topicDiarization := flag.String("topic-diarization", "speech.session.diarization", "Diarization topic")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := NewHub()
	go hub.Run(ctx)

	brokerList := strings.Split(*brokers, ",")
	go consumeKafka(ctx, hub, brokerList, *topicTranscript)
	go consumeKafka(ctx, hub, brokerList, *topicDiarization)

	staticFS, _ := fs.Sub(staticFiles, "static")
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", wsHandler(hub))
	r.Handle("/*", http.FileServer(http.FS(staticFS)))

	srv := &http.Server{Addr: ":" + *port, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("url", "http://localhost:"+*port).Strs("brokers", brokerList).Msg("Session viewer starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}
}
