package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/jamesgiroux/dailyos-core/internal/aiadapter"
)

// newSubprocessCompleter invokes the configured AI CLI with the prompt
// on stdin and reads the completion from stdout. The process runs at
// reduced OS priority so enrichment never competes with the interactive
// host. Exit errors surface as unavailable when the binary is missing.
func newSubprocessCompleter(command string, logger *slog.Logger) aiadapter.Completer {
	parts := strings.Fields(command)
	return aiadapter.CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		if len(parts) == 0 {
			return "", aiadapter.ErrNotAvailable
		}

		args := append([]string{"-n", "10"}, parts...)
		cmd := exec.CommandContext(ctx, "nice", args...)
		cmd.Stdin = strings.NewReader(prompt)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if _, lookErr := exec.LookPath(parts[0]); lookErr != nil {
				return "", aiadapter.ErrNotAvailable
			}
			logger.Debug("ai subprocess failed", "error", err, "stderr", stderr.String())
			return "", fmt.Errorf("ai subprocess: %w", err)
		}
		return stdout.String(), nil
	})
}
