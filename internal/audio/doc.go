// Package audio turns fetched stream fragments into a single PCM WAV file.
//
// Inputs are identified by their magic bytes rather than their names. PCM
// WAV is read with go-audio/wav so integer samples pass through unchanged;
// MP3, FLAC, Ogg Vorbis and floating point WAV are decoded with beep and
// quantized to their declared precision. The first stream that yields audio
// fixes the output format. Later streams that differ are converted or rejected
// according to the assembler's Policy.
package audio
