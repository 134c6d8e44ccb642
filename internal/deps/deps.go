package deps

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// versionTimeout bounds a version probe so a hung binary cannot stall the
// deps report.
const versionTimeout = 2 * time.Second

// Requirement defines an external dependency flaccapture can use.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	// VersionArgs, when set, are passed to the resolved binary and the first
	// line of its output is reported as the version.
	VersionArgs []string
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Version     string
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
// Bare command names are resolved next to the running executable first and
// then on PATH, matching how the encoder fallback finds its binary.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		resolved, err := Resolve(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Command = resolved
		status.Available = true
		if len(req.VersionArgs) > 0 {
			status.Version = probeVersion(resolved, req.VersionArgs)
		}
		results = append(results, status)
	}
	return results
}

// EncoderRequirement describes the external FLAC encoder used as the
// conversion fallback.
func EncoderRequirement(command string) Requirement {
	return Requirement{
		Name:        "FLAC encoder",
		Command:     command,
		Description: "Fallback encoder when in-process FLAC compression fails (https://xiph.org/flac/download.html)",
		Optional:    true,
		VersionArgs: []string{"--version"},
	}
}

// probeVersion returns the first non-empty output line of binary args, or ""
// when the binary fails or prints nothing.
func probeVersion(binary string, args []string) string {
	ctx, cancel := context.WithTimeout(context.Background(), versionTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, binary, args...).CombinedOutput()
	if err != nil {
		return ""
	}
	for line := range strings.SplitSeq(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// Available reports whether command resolves to an executable.
func Available(command string) bool {
	_, err := Resolve(command)
	return err == nil
}

// lookPath resolves bare names on PATH; tests replace it.
var lookPath = exec.LookPath
