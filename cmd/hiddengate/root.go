package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"hiddengate/gateway-service/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "hiddengate",
	Short: "Admin access gateway for a publishing site",
	Long: `hiddengate serves a publishing site and hides its admin area behind an
operator-chosen path segment, verifying a signed session on every admin request.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (overrides HIDDENGATE_CONFIG env var)")
	rootCmd.AddCommand(serveCmd, keygenCmd)
}

// resolveConfigPath applies flag > env > default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv("HIDDENGATE_CONFIG"); p != "" {
		return p
	}
	return "./config.yaml"
}

func loadConfig() (*config.Config, string, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if level == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
