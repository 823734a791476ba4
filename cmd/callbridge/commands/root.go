package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/callbridge/internal/config"
	"github.com/tjfontaine/callbridge/internal/telemetry"
)

var (
	// Global flags
	cfgFile   string
	envFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "callbridge",
	Short: "Bridge outbound calls to real-time conversation analytics",
	Long: `callbridge places outbound calls through the telephony API, splits the
call's stereo monitor stream into customer and agent audio, and streams each
side to its own real-time analytics session.

Configuration comes from config.yaml (or --config), a .env file and the
environment. The conventional variables VAPI_TOKEN, ASSISTANT_ID,
PHONE_NUMBER_ID, SYMBL_APP_ID, SYMBL_APP_SECRET, RTA_ID, AGENT_NAME and PORT
are honoured; any key can be set with CALLBRIDGE_<SECTION>__<KEY>.

Examples:
  # Run the HTTP bridge
  callbridge serve

  # Place a single call from the shell
  callbridge call --name "Jane Doe" --number +15555550123

  # Split a recorded monitor stream into per-speaker files
  callbridge split -i call.raw --customer customer.raw --agent agent.raw
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override log.format (json, text)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(splitCmd)
}

// loadConfig reads the dotenv file and the configuration.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return config.Load(cfgFile)
}

// configPath returns the file to watch for changes, or "" when only the
// environment is in use.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if _, err := os.Stat(config.DefaultPath); err == nil {
		return config.DefaultPath
	}
	return ""
}

// setupLogging builds the process logger from cfg and the global flags.
func setupLogging(w io.Writer, cfg *config.Config) (*slog.Logger, *slog.LevelVar, error) {
	level, format := cfg.Log.Level, cfg.Log.Format
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	logger, lv, err := telemetry.NewLogger(w, level, format)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return logger, lv, nil
}
