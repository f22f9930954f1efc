package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Content task orchestrator",
	Long: `quill turns natural-language requests into tracked content tasks:
articles, summaries, translations, outlines and answers.

Every request is classified into an intent, routed to a skill and run
under a per-task lifecycle with resource locks, a watchdog and
checkpointing, so long tasks can be paused and resumed later.

With no arguments, launches the interactive TUI.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive(cmd.Context())
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: XDG user config plus .quill.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(abandonCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(versionCmd)
}
