package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync"
	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/model"
)

var (
	version = "dev"
	commit  = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "teamsync",
	Short: "Terminal client for a team-chat workspace",
	Long: `teamsync keeps a real-time view of a workspace (channels, direct
conversations, unread counters, presence) and can post messages to it.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Disable completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringSlice("env-file", nil, "dotenv files to load (default .env when present)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
}

// loadConfig resolves the configuration named by the global flags.
func loadConfig(cmd *cobra.Command) (teamsync.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	envFiles, _ := cmd.Flags().GetStringSlice("env-file")
	cfg, err := teamsync.LoadConfig(path, envFiles...)
	if err != nil {
		return cfg, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}

// newLogger builds the zap logger used by every command.
func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "console"
	zcfg.DisableStacktrace = true
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

// target reads --channel / --conversation. id is empty when neither is set.
func target(cmd *cobra.Command) (kind model.EntityKind, id string, err error) {
	channel, _ := cmd.Flags().GetString("channel")
	conversation, _ := cmd.Flags().GetString("conversation")
	switch {
	case channel != "" && conversation != "":
		return 0, "", fmt.Errorf("--channel and --conversation are exclusive")
	case conversation != "":
		return model.KindConversation, conversation, nil
	}
	return model.KindChannel, channel, nil
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().String("channel", "", "channel id to open")
	cmd.Flags().String("conversation", "", "conversation id to open")
}
