package deps

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrNotFound is returned when no executable matches a command name.
var ErrNotFound = errors.New("executable not found")

// executablePath reports the running program's path; tests override it.
var executablePath = os.Executable

// Resolve finds command as an absolute executable path. Commands containing a
// path separator are checked directly. Bare names prefer a sibling of the
// running executable, so a flac binary shipped alongside flaccapture wins over
// whatever PATH provides.
func Resolve(command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", fmt.Errorf("%w: empty command", ErrNotFound)
	}

	if strings.ContainsRune(command, filepath.Separator) || strings.ContainsRune(command, '/') {
		info, err := os.Stat(command)
		if err != nil || !isExecutable(info) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, command)
		}
		return filepath.Abs(command)
	}

	if candidate, ok := siblingCandidate(command); ok {
		if info, err := os.Stat(candidate); err == nil && isExecutable(info) {
			return candidate, nil
		}
	}

	resolved, err := lookPath(executableName(command))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, command)
	}
	return resolved, nil
}

func siblingCandidate(command string) (string, bool) {
	self, err := executablePath()
	if err != nil || self == "" {
		return "", false
	}
	if resolved, err := filepath.EvalSymlinks(self); err == nil {
		self = resolved
	}
	return filepath.Join(filepath.Dir(self), executableName(command)), true
}

func executableName(name string) string {
	if runtime.GOOS == "windows" && !strings.HasSuffix(strings.ToLower(name), ".exe") {
		return name + ".exe"
	}
	return name
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
