package deps

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func writeStub(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
}

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	writeStub(t, present)
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Empty"},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for empty command: %q", results[2].Detail)
	}
}

func TestResolvePrefersSibling(t *testing.T) {
	selfDir := t.TempDir()
	pathDir := t.TempDir()
	sibling := filepath.Join(selfDir, "flac")
	onPath := filepath.Join(pathDir, "flac")
	writeStub(t, sibling)
	writeStub(t, onPath)

	origExe, origLook := executablePath, lookPath
	t.Cleanup(func() { executablePath, lookPath = origExe, origLook })
	executablePath = func() (string, error) { return filepath.Join(selfDir, "flaccapture"), nil }
	t.Setenv("PATH", pathDir)
	lookPath = exec.LookPath

	got, err := Resolve("flac")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want, _ := filepath.EvalSymlinks(sibling)
	if got != want && got != sibling {
		t.Fatalf("expected sibling binary, got %q want %q", got, sibling)
	}
}

func TestResolveFallsBackToPath(t *testing.T) {
	selfDir := t.TempDir()
	pathDir := t.TempDir()
	onPath := filepath.Join(pathDir, "flac")
	writeStub(t, onPath)

	origExe := executablePath
	t.Cleanup(func() { executablePath = origExe })
	executablePath = func() (string, error) { return filepath.Join(selfDir, "flaccapture"), nil }
	t.Setenv("PATH", pathDir)

	got, err := Resolve("flac")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != onPath {
		t.Fatalf("expected PATH binary, got %q want %q", got, onPath)
	}
}

func TestResolveMissing(t *testing.T) {
	origExe := executablePath
	t.Cleanup(func() { executablePath = origExe })
	executablePath = func() (string, error) { return filepath.Join(t.TempDir(), "flaccapture"), nil }
	t.Setenv("PATH", t.TempDir())

	_, err := Resolve("flac")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if Available("flac") {
		t.Fatal("expected flac to be unavailable")
	}
}

func TestResolveIgnoresNonExecutableSibling(t *testing.T) {
	selfDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(selfDir, "flac"), []byte("not a program"), 0o644); err != nil {
		t.Fatalf("write sibling: %v", err)
	}
	origExe := executablePath
	t.Cleanup(func() { executablePath = origExe })
	executablePath = func() (string, error) { return filepath.Join(selfDir, "flaccapture"), nil }
	t.Setenv("PATH", t.TempDir())

	if _, err := Resolve("flac"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-executable sibling, got %v", err)
	}
}

func TestCheckBinariesProbesVersion(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "flac")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\necho\necho 'flac 1.4.3'\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	broken := filepath.Join(dir, "broken")
	if err := os.WriteFile(broken, []byte("#!/bin/sh\nexit 3\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	results := CheckBinaries([]Requirement{EncoderRequirement(bin), EncoderRequirement(broken)})
	if got := results[0].Version; got != "flac 1.4.3" {
		t.Fatalf("unexpected version: %q", got)
	}
	if !results[1].Available || results[1].Version != "" {
		t.Fatalf("failing version probe should leave the binary available without a version: %#v", results[1])
	}
}
