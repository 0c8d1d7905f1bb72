package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"speech-session-service/internal/errorsx"
)

const (
	sessionsPath     = "/v1/realtime/transcription_sessions"
	maxErrorBodySize = 64 * 1024
)

// ErrCredentialUsed is returned when an ephemeral credential is presented
// for a second connection attempt.
var ErrCredentialUsed = errors.New("ephemeral credential already used")

// SessionCreationError reports a failed creation call.
type SessionCreationError struct {
	StatusCode int
	Body       string
}

func (e *SessionCreationError) Error() string {
	if e.StatusCode == 0 {
		return "session creation failed: " + e.Body
	}
	return fmt.Sprintf("session creation failed: status %d: %s", e.StatusCode, e.Body)
}

// Credential is a short-lived token valid for exactly one connection attempt.
type Credential struct {
	value     string
	expiresAt time.Time
	used      atomic.Bool
}

// NewCredential wraps a token value.
func NewCredential(value string, expiresAt time.Time) *Credential {
	return &Credential{value: value, expiresAt: expiresAt}
}

// ExpiresAt returns the expiry reported by the server, zero if none.
func (c *Credential) ExpiresAt() time.Time { return c.expiresAt }

// Claim returns the token the first time it is called and ErrCredentialUsed after.
func (c *Credential) Claim() (string, error) {
	if !c.used.CompareAndSwap(false, true) {
		return "", ErrCredentialUsed
	}
	return c.value, nil
}

// TranscriptionSession is the result of the creation call.
type TranscriptionSession struct {
	ID         string
	Credential *Credential
}

type createSessionResponse struct {
	ID           string          `json:"id"`
	ClientSecret json.RawMessage `json:"client_secret"`
}

type clientSecretObject struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

// CreateSession performs the creation call with the long-lived API key.
// There is no retry here; a failure aborts the session attempt.
func (a *Adapter) CreateSession(ctx context.Context) (*TranscriptionSession, error) {
	body, err := json.Marshal(a.sessionParams())
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.KindSessionCreation)
	}

	url := strings.TrimRight(a.cfg.BaseURL, "/") + sessionsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("build session request: %w", err), errorsx.KindSessionCreation)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OpenAI-Beta", "realtime")

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	a.metrics.RecordSessionCreate(time.Since(start).Seconds())
	if err != nil {
		return nil, errorsx.Wrap(&SessionCreationError{Body: err.Error()}, errorsx.KindSessionCreation)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return nil, errorsx.Wrap(&SessionCreationError{StatusCode: resp.StatusCode, Body: err.Error()}, errorsx.KindSessionCreation)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errorsx.Wrap(&SessionCreationError{StatusCode: resp.StatusCode, Body: string(raw)}, errorsx.KindSessionCreation)
	}

	return parseSessionResponse(raw)
}

func parseSessionResponse(raw []byte) (*TranscriptionSession, error) {
	var out createSessionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errorsx.Wrap(&SessionCreationError{StatusCode: http.StatusOK, Body: "decode response: " + err.Error()}, errorsx.KindSessionCreation)
	}

	value, expiresAt := parseClientSecret(out.ClientSecret)
	if value == "" {
		return nil, errorsx.Wrap(&SessionCreationError{StatusCode: http.StatusOK, Body: "response carried no ephemeral credential"}, errorsx.KindSessionCreation)
	}

	return &TranscriptionSession{
		ID:         out.ID,
		Credential: NewCredential(value, expiresAt),
	}, nil
}

// parseClientSecret accepts either a bare string or {"value": ..., "expires_at": ...}.
func parseClientSecret(raw json.RawMessage) (string, time.Time) {
	if len(raw) == 0 {
		return "", time.Time{}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, time.Time{}
	}

	var obj clientSecretObject
	if err := json.Unmarshal(raw, &obj); err == nil {
		var expires time.Time
		if obj.ExpiresAt > 0 {
			expires = time.Unix(obj.ExpiresAt, 0)
		}
		return obj.Value, expires
	}
	return "", time.Time{}
}
