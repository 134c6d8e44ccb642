// Package testsupport holds fixtures shared by package tests: temp-dir
// configs, a stub flac binary, PCM WAV payloads and a local audio server.
package testsupport
