package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jamesgiroux/dailyos-core/internal/defaults"
)

// runInit writes the default config to the user config directory,
// refusing to overwrite an existing file.
func runInit(logger *slog.Logger) {
	home, err := os.UserHomeDir()
	if err != nil {
		logger.Error("cannot determine home directory", "error", err)
		os.Exit(1)
	}
	dir := filepath.Join(home, ".config", "dailyos")
	path := filepath.Join(dir, "config.yaml")

	if _, err := os.Stat(path); err == nil {
		fmt.Println("config already exists:", path)
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Error("create config dir failed", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(path, defaults.ConfigYAML, 0o600); err != nil {
		logger.Error("write config failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("wrote", path)
	fmt.Println("Edit it to add your accounts, then run: dailyos serve")
}
