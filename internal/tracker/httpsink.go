package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Envelope identifies who an event belongs to when it crosses the wire.
type Envelope struct {
	ParticipantID string
	StudyType     string
	SessionID     string
	PageURL       string
}

// TrackRequest is the body accepted by POST /api/track.
type TrackRequest struct {
	EventName     string     `json:"event_name"`
	ParticipantID string     `json:"participant_id,omitempty"`
	StudyType     string     `json:"study_type,omitempty"`
	SessionID     string     `json:"session_id,omitempty"`
	PageURL       string     `json:"page_url,omitempty"`
	Properties    Properties `json:"properties,omitempty"`
}

// HTTPSink posts every event to the tracking API.
type HTTPSink struct {
	endpoint string
	envelope Envelope
	client   *http.Client
}

// NewHTTPSink creates a sink posting to baseURL + "/api/track".
func NewHTTPSink(baseURL string, envelope Envelope, client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSink{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/track",
		envelope: envelope,
		client:   client,
	}
}

// Emit sends one event. Non-2xx replies are errors.
func (s *HTTPSink) Emit(ctx context.Context, name string, props Properties) error {
	body, err := json.Marshal(TrackRequest{
		EventName:     name,
		ParticipantID: s.envelope.ParticipantID,
		StudyType:     s.envelope.StudyType,
		SessionID:     s.envelope.SessionID,
		PageURL:       s.envelope.PageURL,
		Properties:    props,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post event: status %d", resp.StatusCode)
	}
	return nil
}
