// Package encoding compresses assembled WAV captures to FLAC.
//
// The in-process encoder writes fixed-predictor subframes with Rice coded
// residuals through mewkiz/flac and verifies the result by decoding it again.
// When native encoding is disabled or fails, the external flac binary is run
// with maximum compression instead. The input is opened under a shared file
// lock with bounded exponential backoff so a writer still holding the WAV
// delays encoding rather than failing it. The source WAV is never modified;
// DeleteSource removes it only after a successful encode.
package encoding
