package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrFetch               = errors.New("fetch error")
	ErrCancelled           = errors.New("cancelled")
	ErrAssembly            = errors.New("assembly error")
	ErrEncodingUnavailable = errors.New("encoding unavailable")
	ErrEncodingFailed      = errors.New("encoding failed")
	ErrRelocation          = errors.New("relocation error")
	ErrExternalTool        = errors.New("external tool error")
	ErrValidation          = errors.New("validation error")
	ErrConfiguration       = errors.New("configuration error")
	ErrNotFound            = errors.New("not found")
	ErrTransient           = errors.New("transient failure")
)

var markers = []error{
	ErrCancelled,
	ErrFetch,
	ErrAssembly,
	ErrEncodingUnavailable,
	ErrEncodingFailed,
	ErrRelocation,
	ErrExternalTool,
	ErrValidation,
	ErrConfiguration,
	ErrNotFound,
	ErrTransient,
}

// Wrap prefixes err with "stage: operation: message" and tags it with marker
// so Classify and errors.Is can recover the failure kind. A nil marker is
// treated as ErrTransient.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify returns the text of the first sentinel marker carried by err, or
// "unknown" when err carries none. Cancellation wins over other markers.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	for _, marker := range markers {
		if errors.Is(err, marker) {
			return marker.Error()
		}
	}
	return "unknown"
}

// IsCancelled reports whether err represents a cancelled operation, either
// tagged with ErrCancelled or carrying a context cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

func buildDetail(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return "service failure"
	}
	return strings.Join(kept, ": ")
}
