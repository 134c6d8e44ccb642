// Package daemon coordinates the long-running flaccapture process.
//
// It wraps the watch service in a single lifecycle with flock-based locking
// so only one daemon watches a given state directory. Capture logic lives in
// internal/capture and discovery in internal/watcher; the daemon focuses on
// startup, shutdown, and status reporting.
package daemon
