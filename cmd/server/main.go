package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docmanager/backend/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "docmanager",
		Short: "Engineering document manager",
		Long: `Document manager for engineering projects.

Files are uploaded by project, discipline and phase. File names carry the
revision and version (for example PLANTA_r2v1.pdf); uploading a new revision
moves the previous one into the <name>_revisoes archive folder.

QUICK START:

  # Create the first administrator (server must be stopped):
  docmanager user add --username admin --password '<secret>' --admin

  # Start the server:
  docmanager serve`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: docmanager.config.xml next to the executable)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (overrides config)")

	rootCmd.AddCommand(newServeCmd(), newUserCmd(), newHashSecretCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the config path and loads it, creating a default file on first run.
func loadConfig() (*config.AppConfig, string, error) {
	path := cfgFile
	if path == "" {
		exePath, err := os.Executable()
		if err != nil {
			return nil, "", fmt.Errorf("failed to get executable path: %w", err)
		}
		path = filepath.Join(filepath.Dir(exePath), "docmanager.config.xml")
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Advanced.LogLevel = logLevel
	}
	setupLogging(cfg)
	return cfg, path, nil
}

func setupLogging(cfg *config.AppConfig) {
	level, err := zerolog.ParseLevel(cfg.Advanced.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Advanced.LogFormat == "json" {
		zerolog.TimeFieldFormat = time.RFC3339
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
