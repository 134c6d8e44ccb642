package encoding

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"flaccapture/internal/deps"
	"flaccapture/internal/logging"
	"flaccapture/internal/services"
)

var commandContext = exec.CommandContext

// externalArgs always requests maximum compression with verification.
func externalArgs(inputPath, outputPath string) []string {
	return []string{"-8", "--verify", "--best", inputPath, "-o", outputPath}
}

func (e *Encoder) encodeExternal(ctx context.Context, logger *slog.Logger, inputPath, outputPath string) error {
	binary, err := deps.Resolve(e.opts.BinaryName)
	if err != nil {
		return services.Wrap(services.ErrEncodingUnavailable, stageName, "locate encoder",
			fmt.Sprintf("%s not found next to flaccapture or on PATH; install the flac package or set encoding.flac_binary; source kept at %s", e.opts.BinaryName, inputPath),
			err)
	}

	args := externalArgs(inputPath, outputPath)
	logger.Info("running external encoder",
		logging.String("command", binary+" "+strings.Join(args, " ")),
	)
	var stdout, stderr bytes.Buffer
	cmd := commandContext(ctx, binary, args...) //nolint:gosec
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrCancelled, stageName, "external encode", inputPath, ctx.Err())
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		return services.Wrap(services.ErrEncodingFailed, stageName, "external encode",
			fmt.Sprintf("%s exited with error (%s); source kept at %s", binary, lastLine(detail), inputPath),
			err)
	}
	if out := strings.TrimSpace(stderr.String()); out != "" {
		logger.Debug("external encoder output", logging.String("output", lastLine(out)))
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
