// Package cmd implements the transferd command tree.
package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/signagekit/transferd/internal/config"
	"github.com/signagekit/transferd/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:   "transferd",
	Short: "Media transfer daemon for signage players",
	Long: `transferd manages media transfers onto signage player storage:
chunked uploads reassembled into the media directory, and supervised
yt-dlp downloads with bounded concurrency.

Job state lives on disk under the configured store root, so both the
server and the CLI subcommands observe the same jobs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var cfgFile string

type buildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = buildInfo{
	Version:   "dev",
	Commit:    "none",
	BuildDate: "unknown",
}

// SetVersionInfo records build identity injected via ldflags.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (default: ./transferd.yaml if present)")
	rootCmd.PersistentFlags().String("log-level", "", "Override logging level (debug|info|warn|error)")
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig builds the one Config object every command injects downstream,
// and initializes the loggers from it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	// A local .env can seed TRANSFERD_* variables before viper reads them.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if err := observability.Init(cfg.Logging.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}
