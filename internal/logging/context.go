package logging

import (
	"context"
	"log/slog"

	"flaccapture/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for capture job identifiers.
	FieldJobID = "job_id"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldPlaylist is the standardized structured logging key for playlist paths.
	FieldPlaylist = "playlist"
	// FieldStream is the "index/total" position of the stream being fetched.
	FieldStream = "stream"
	// FieldError holds the error value of a failed operation.
	FieldError = "error"
	// FieldEventType classifies a log line for filtering (stage_start, fetch_failed, ...).
	FieldEventType = "event_type"
	// FieldErrorHint carries the operator's next step for a warning or error.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldErrorKind carries the services marker that classified an error.
	FieldErrorKind = "error_kind"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if path, ok := services.PlaylistFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldPlaylist, path))
	}
	if pos, ok := services.StreamFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStream, pos))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
