package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	sglog "scanguard/internal/log"
	"scanguard/internal/server"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "scanguard",
	Short:         "Risk analysis for URLs, emails, SMS and QR codes",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Println("scanguard", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $SG_CONFIG)")
	rootCmd.AddCommand(serveCmd, analyzeCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

// setup loads the config and installs the process logger.
func setup() (*server.Config, *slog.Logger, error) {
	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	level, err := sglog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := sglog.New(os.Stderr, level, cfg.LogFormat == "json")
	slog.SetDefault(logger)
	return cfg, logger, nil
}
