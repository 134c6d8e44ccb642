package services

import (
	"context"
	"fmt"
)

type contextKey int

const (
	jobIDKey contextKey = iota
	stageKey
	playlistKey
	streamKey
)

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}

// WithJobID tags ctx with the capture job identifier.
func WithJobID(ctx context.Context, id string) context.Context { return withString(ctx, jobIDKey, id) }

// JobIDFromContext returns the capture job identifier, if any.
func JobIDFromContext(ctx context.Context) (string, bool) { return stringFrom(ctx, jobIDKey) }

// WithStage tags ctx with the pipeline stage (fetching, assembling, encoding).
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, stageKey, stage)
}

// StageFromContext returns the pipeline stage, if any.
func StageFromContext(ctx context.Context) (string, bool) { return stringFrom(ctx, stageKey) }

// WithPlaylist tags ctx with the playlist path being captured.
func WithPlaylist(ctx context.Context, path string) context.Context {
	return withString(ctx, playlistKey, path)
}

// PlaylistFromContext returns the playlist path, if any.
func PlaylistFromContext(ctx context.Context) (string, bool) { return stringFrom(ctx, playlistKey) }

// WithStream tags ctx with the 1-based position of the stream being fetched,
// rendered as "index/total".
func WithStream(ctx context.Context, index, total int) context.Context {
	if index <= 0 || total <= 0 {
		return ctx
	}
	return withString(ctx, streamKey, fmt.Sprintf("%d/%d", index, total))
}

// StreamFromContext returns the "index/total" stream position, if any.
func StreamFromContext(ctx context.Context) (string, bool) { return stringFrom(ctx, streamKey) }
