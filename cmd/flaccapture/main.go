package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"flaccapture/internal/services"
)

const (
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(exitCode(err))
	}
}

// exitCode maps configuration mistakes to 2 and interrupted runs to 130 so
// wrappers can tell them from capture failures.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case services.IsCancelled(err):
		return exitInterrupted
	case errors.Is(err, services.ErrConfiguration), errors.Is(err, services.ErrValidation):
		return exitUsage
	default:
		return exitFailure
	}
}
