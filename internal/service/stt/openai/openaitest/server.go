// Package openaitest provides an in-process realtime transcription server
// for tests. It records every outbound client message in arrival order.
package openaitest

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	SessionID    = "sess_test"
	Token        = "ek_test"
	SessionsPath = "/v1/realtime/transcription_sessions"
	RealtimePath = "/v1/realtime"
)

// Options controls server behaviour.
type Options struct {
	// Transcript is sent as a completed event after each commit.
	Transcript string
	// CreateStatus, when set to a non-200 code, fails the creation call.
	CreateStatus int
	// ObjectSecret returns client_secret as {"value": ...} instead of a string.
	ObjectSecret bool
	// EmptySecret returns a response without a usable credential.
	EmptySecret bool
	// CloseAfterAppends closes the connection after that many appends.
	CloseAfterAppends int
	// Malformed sends an undecodable frame before the transcript.
	Malformed bool
	// SilentCommit suppresses the completed event.
	SilentCommit bool
}

// Message is one recorded client message.
type Message struct {
	Type  string
	Audio []byte
	Raw   json.RawMessage
}

// Server is a fake realtime endpoint.
type Server struct {
	*httptest.Server
	opts     Options
	upgrader websocket.Upgrader

	mu             sync.Mutex
	messages       []Message
	createBodies   []json.RawMessage
	createAuth     []string
	connectHeaders []http.Header
	connections    int
	commits        chan struct{}
}

// NewServer starts a fake server. Close it when done.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:    opts,
		commits: make(chan struct{}, 16),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(SessionsPath, s.handleCreate)
	mux.HandleFunc(RealtimePath, s.handleRealtime)
	s.Server = httptest.NewServer(mux)
	return s
}

// BaseURL is the creation endpoint base.
func (s *Server) BaseURL() string { return s.URL }

// RealtimeURL is the websocket endpoint.
func (s *Server) RealtimeURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + RealtimePath
}

// Messages returns a copy of the recorded client messages.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Types returns the recorded message types in order.
func (s *Server) Types() []string {
	var out []string
	for _, m := range s.Messages() {
		out = append(out, m.Type)
	}
	return out
}

// CreateBodies returns the raw creation request bodies.
func (s *Server) CreateBodies() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.createBodies...)
}

// CreateAuth returns the Authorization headers of creation calls.
func (s *Server) CreateAuth() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.createAuth...)
}

// ConnectHeaders returns the handshake headers of each websocket connection.
func (s *Server) ConnectHeaders() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]http.Header(nil), s.connectHeaders...)
}

// Connections returns how many websocket connections were accepted.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// WaitCommit blocks until a commit is received or the timeout expires.
func (s *Server) WaitCommit(timeout time.Duration) bool {
	select {
	case <-s.commits:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.createBodies = append(s.createBodies, body)
	s.createAuth = append(s.createAuth, r.Header.Get("Authorization"))
	s.mu.Unlock()

	if s.opts.CreateStatus != 0 && s.opts.CreateStatus != http.StatusOK {
		w.WriteHeader(s.opts.CreateStatus)
		_, _ = w.Write([]byte(`{"error":{"message":"session rejected"}}`))
		return
	}

	var secret any = Token
	switch {
	case s.opts.EmptySecret:
		secret = nil
	case s.opts.ObjectSecret:
		secret = map[string]any{"value": Token, "expires_at": time.Now().Add(time.Minute).Unix()}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":            SessionID,
		"object":        "realtime.transcription_session",
		"client_secret": secret,
	})
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.connections++
	s.connectHeaders = append(s.connectHeaders, r.Header.Clone())
	s.mu.Unlock()

	appends := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var head struct {
			Type  string `json:"type"`
			Audio string `json:"audio"`
		}
		_ = json.Unmarshal(data, &head)
		msg := Message{Type: head.Type, Raw: append(json.RawMessage(nil), data...)}
		if head.Audio != "" {
			msg.Audio, _ = base64.StdEncoding.DecodeString(head.Audio)
		}

		s.mu.Lock()
		s.messages = append(s.messages, msg)
		s.mu.Unlock()

		switch head.Type {
		case "input_audio_buffer.append":
			appends++
			if s.opts.CloseAfterAppends > 0 && appends >= s.opts.CloseAfterAppends {
				return
			}
		case "input_audio_buffer.commit":
			s.commits <- struct{}{}
			if s.opts.Malformed {
				_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
			}
			_ = conn.WriteJSON(map[string]any{"type": "input_audio_buffer.committed", "item_id": "item_1"})
			if !s.opts.SilentCommit {
				_ = conn.WriteJSON(map[string]any{
					"type":       "conversation.item.input_audio_transcription.completed",
					"item_id":    "item_1",
					"transcript": s.opts.Transcript,
				})
			}
		}
	}
}
