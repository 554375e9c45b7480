// Package cli implements the adaptq command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	adaptq "github.com/UniQw/adaptq-go"
	"github.com/UniQw/adaptq-go/internal/config"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "adaptq",
	Short: "Adaptive job runner",
	Long: `adaptq runs batches of jobs against HTTP APIs with prioritised dispatch,
retries with backoff, per-host circuit breakers and adaptive concurrency.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

// setup loads .env and the config file and initialises logging.
func setup() (*config.AppConfig, adaptq.Logger, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		return nil, nil, err
	}

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		stylelog.InitDefault()
		return nil, nil, fmt.Errorf("logging.level: %w", err)
	}
	if isDebug {
		level = slog.LevelDebug
	}
	stylelog.InitDefault(&tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
	return cfg, adaptq.NewSlogLogger(slog.Default()), nil
}
