package events

import (
	"context"

	"github.com/reel-study/backend/internal/tracker"
)

// Recorder is a tracker.Sink that stores events directly, for sessions hosted by this server.
type Recorder struct {
	svc      *Service
	envelope tracker.Envelope
	meta     Metadata
}

// NewRecorder creates a sink that stamps every event with envelope and meta.
func NewRecorder(svc *Service, envelope tracker.Envelope, meta Metadata) *Recorder {
	return &Recorder{svc: svc, envelope: envelope, meta: meta}
}

// Emit stores one event.
func (r *Recorder) Emit(ctx context.Context, name string, props tracker.Properties) error {
	_, _, err := r.svc.Track(ctx, tracker.TrackRequest{
		EventName:     name,
		ParticipantID: r.envelope.ParticipantID,
		StudyType:     r.envelope.StudyType,
		SessionID:     r.envelope.SessionID,
		PageURL:       r.envelope.PageURL,
		Properties:    props,
	}, r.meta)
	return err
}
