// Command flaccapture captures audio playlists to WAV and FLAC.
//
// `flaccapture watch` runs the inbox watcher in the foreground. The one-shot
// commands (capture, convert) run a single job without the daemon, and
// history, deps and config inspect the installation.
package main
