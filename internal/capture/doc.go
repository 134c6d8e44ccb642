// Package capture drives one playlist through fetch, assembly and optional
// FLAC conversion.
//
// The Orchestrator walks Idle, Fetching, Assembling, Encoding and Done,
// recording the trail on an Outcome. Fetch and assembly failures fail the job;
// an encoding failure only logs a warning because the assembled WAV is kept.
// Cancellation during any stage fails the job with services.ErrCancelled and
// leaves no temporary files behind.
package capture
