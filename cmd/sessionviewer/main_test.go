package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"speech-session-service/internal/models"
)

func TestDecodeEvent(t *testing.T) {
	transcript, _ := json.Marshal(models.SessionTranscript{
		EventType: models.EventSessionTranscript,
		RunID:     "run-1",
		Text:      "こんにちは",
		EndReason: "completed",
	})
	emptyTranscript, _ := json.Marshal(models.SessionTranscript{
		EventType: models.EventSessionTranscript,
		RunID:     "run-2",
		Empty:     true,
		EndReason: "result_timeout",
	})
	diarization, _ := json.Marshal(models.SessionDiarization{
		EventType: models.EventSessionDiarization,
		RunID:     "run-1",
		Available: true,
		Segments:  []models.SpeakerSegment{{StartSec: 0, EndSec: 1}, {StartSec: 1, EndSec: 2, SpeakerID: 1}},
	})
	unavailable, _ := json.Marshal(models.SessionDiarization{
		EventType: models.EventSessionDiarization,
		RunID:     "run-3",
		Reason:    "no audio",
	})

	tests := []struct {
		name    string
		raw     []byte
		summary string
		wantErr bool
	}{
		{"transcript", transcript, "こんにちは", false},
		{"empty transcript", emptyTranscript, "(no transcript: result_timeout)", false},
		{"diarization", diarization, "2 segments", false},
		{"unavailable", unavailable, "unavailable: no audio", false},
		{"unknown type", []byte(`{"eventType":"other"}`), "", true},
		{"not json", []byte(`{`), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := decodeEvent(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev.Summary != tt.summary {
				t.Errorf("summary = %q, want %q", ev.Summary, tt.summary)
			}
		})
	}
}

func TestTruncate_Runes(t *testing.T) {
	if got := truncate("あいうえお", 3); got != "あいう..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abc", 3); got != "abc" {
		t.Errorf("truncate = %q", got)
	}
}

func TestHub_BroadcastsToClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(wsHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast(ViewerEvent{EventType: models.EventSessionTranscript, RunID: "run-1", Summary: "hello"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got ViewerEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.RunID != "run-1" || got.Summary != "hello" {
		t.Errorf("unexpected event %+v", got)
	}
}

func TestHub_StoppedHubDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	sent := make(chan struct{})
	go func() {
		// More than the broadcast buffer holds.
		for i := 0; i < 150; i++ {
			hub.Broadcast(ViewerEvent{RunID: "late"})
		}
		hub.Unregister(nil)
		close(sent)
	}()
	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked after the hub stopped")
	}

	srv := httptest.NewServer(wsHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected late client to be closed")
	}
	if hub.Clients() != 0 {
		t.Errorf("expected no clients, got %d", hub.Clients())
	}
}
