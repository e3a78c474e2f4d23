// Package audit records security-relevant events. The datastore-backed
// audit trail is owned by the surrounding system; this recorder feeds
// the structured log stream, which is what the auth subsystem itself
// guarantees.
package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Recorder is the interface the auth layer logs through.
type Recorder interface {
	Record(ctx context.Context, action string, params Params)
}

// Params carries the optional fields of an event. Zero values are
// omitted from the output.
type Params struct {
	PrincipalID   uuid.UUID
	Username      string
	SourceAddress string
	Reason        string
}

// SlogRecorder writes events to a slog.Logger.
type SlogRecorder struct {
	logger *slog.Logger
}

// NewSlogRecorder creates a recorder over the given logger.
func NewSlogRecorder(logger *slog.Logger) *SlogRecorder {
	return &SlogRecorder{logger: logger}
}

// Record emits one event. Actions are dotted snake_case, e.g.
// "auth.login.success".
func (r *SlogRecorder) Record(ctx context.Context, action string, params Params) {
	attrs := make([]any, 0, 8)
	if params.PrincipalID != uuid.Nil {
		attrs = append(attrs, "principal_id", params.PrincipalID)
	}
	if params.Username != "" {
		attrs = append(attrs, "username", params.Username)
	}
	if params.SourceAddress != "" {
		attrs = append(attrs, "source", params.SourceAddress)
	}
	if params.Reason != "" {
		attrs = append(attrs, "reason", params.Reason)
	}
	r.logger.InfoContext(ctx, action, attrs...)
}
