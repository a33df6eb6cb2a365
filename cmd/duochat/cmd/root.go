package cmd

import (
	"os"

	"github.com/nfrund/duochat/internal/config"
	"github.com/nfrund/duochat/internal/logging"
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "duochat",
	Short: "Two-party chat delivery server",
	Long: `duochat persists direct messages between two users and pushes each one
to every live session of both participants.

Available commands:
  serve     Run the HTTP and websocket server
  users     Provision and list users
  history   Print a conversation from the store
  tail      Join the real-time channel as a user and print pushes
  topics    List the event bus topics

Use "duochat [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment")
	rootCmd.PersistentFlags().DurationVar(&storeTimeout, "store-timeout", 0, "Per statement timeout for the surreal store (default SURREAL_*_TIMEOUT)")
}

// loadConfig reads the configuration and installs the logger. Commands other
// than serve log to stderr so their stdout stays machine readable.
func loadConfig(toStderr bool) (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if toStderr {
		logging.NewWithWriter(os.Stderr, cfg.GetLogFormat(), cfg.GetLogLevel())
	} else {
		logging.New(cfg.GetLogFormat(), cfg.GetLogLevel())
	}
	return cfg, nil
}
