// Package main is the entry point for the dailyos intelligence daemon.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jamesgiroux/dailyos-core/internal/buildinfo"
	"github.com/jamesgiroux/dailyos-core/internal/config"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "init":
			runInit(logger)
		case "serve":
			runServe(logger, *configPath)
		case "hygiene":
			runHygieneOnce(logger, *configPath)
		case "backup":
			runBackupOnce(logger, *configPath)
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.Info() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
		return
	}

	fmt.Println("dailyos - personal intelligence daemon")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init     Write a default config file")
	fmt.Println("  serve    Start the daemon (pollers, prep queue, GUI-host API)")
	fmt.Println("  hygiene  Run one hygiene pass and print the report")
	fmt.Println("  backup   Write a full database backup")
	fmt.Println("  version  Show build information")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -config  Path to config file (default: search standard locations)")
}

// loadConfig loads configuration and reconfigures the default logger to
// the configured level.
func loadConfig(logger *slog.Logger, configPath string) *config.Config {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err == nil {
		handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
		slog.SetDefault(slog.New(handler))
	}
	return cfg
}
