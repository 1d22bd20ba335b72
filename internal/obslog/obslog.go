// Package obslog performs one-shot global zerolog setup from
// configuration, lifted out of the teacher's cmd/watcher/main.go
// setupLogging into its own package so both cmd/arbwatch/main.go and
// package tests can call it without importing the entrypoint.
package obslog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"arbwatch/internal/config"
)

// Setup configures the global zerolog logger's level and output format
// (console for humans, JSON for machine consumption) from cfg.
func Setup(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}

	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}
