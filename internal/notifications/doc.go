// Package notifications sends job outcome notices to an ntfy topic.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers never need to nil-check.
package notifications
