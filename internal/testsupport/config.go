package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"flaccapture/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The inbox exists, the settle delay is zero and logging is quiet.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.InputDir = filepath.Join(base, "inbox")
	cfgVal.Paths.OutputDir = filepath.Join(base, "out")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Watch.SettleDelaySeconds = 0
	cfgVal.Logging.Level = "error"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}

	if err := os.MkdirAll(builder.cfg.Paths.InputDir, 0o755); err != nil {
		t.Fatalf("mkdir inbox: %v", err)
	}
	return builder.cfg
}

// WithoutConversion disables FLAC conversion and WAV cleanup.
func WithoutConversion() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Encoding.AutoConvert = false
		b.cfg.Encoding.AutoDeleteWAV = false
	}
}

// WithStubbedEncoder installs a fake flac binary that writes a FLAC
// signature to its -o argument and points the config at it.
func WithStubbedEncoder() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Encoding.FlacBinary = WriteStubEncoder(b.t, filepath.Join(b.baseDir, "bin"))
	}
}

// WriteStubEncoder writes a shell script named flac into dir that mimics
// `flac ... -o <out>` and returns its path.
func WriteStubEncoder(t testing.TB, dir string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	script := `#!/bin/sh
if [ "$1" = "--version" ]; then echo "flac 1.4.3"; exit 0; fi
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then out="$2"; shift; fi
  shift
done
printf 'fLaC' > "$out"
`
	target := filepath.Join(dir, "flac")
	if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub flac: %v", err)
	}
	return target
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
