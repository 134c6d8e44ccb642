// Package logs reads the daemon's run logs for the `flaccapture logs`
// command.
//
// The daemon writes one log per run and keeps flaccapture.log pointing at the
// newest. Current resolves that pointer (falling back to the most recent run
// log), Last returns the trailing lines with bounded memory, and Follow
// streams appended lines until the context ends, switching files when a new
// run starts.
package logs
