// Package fetch downloads playlist stream URLs into temporary files.
//
// Each download streams the response body straight to disk, honours a
// per-request timeout, and removes its partial file on any failure. A
// cancelled download is reported with services.ErrCancelled so callers can
// abort the remaining queue instead of treating it as an ordinary per-URL
// failure (services.ErrFetch).
package fetch
