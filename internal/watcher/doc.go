// Package watcher discovers playlists dropped into the inbox directory and
// feeds them to the capture orchestrator one at a time.
//
// Discovery has two sources: fsnotify events on the inbox and a periodic
// rescan scheduled with robfig/cron. Both call the same admission path, so a
// playlist seen by both is still processed exactly once. The Registry is the
// only shared mutable state; it tracks every identity (the playlist's
// absolute path) and enforces that at most one job is in flight.
//
// After a job finishes the playlist is moved into processed/ or failed/
// under the inbox, the outcome is written to the history store and a
// notification is sent when configured.
package watcher
