package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/quill/internal/signals"
)

var signalCmd = &cobra.Command{
	Use:       "signal <pause|stop>",
	Short:     "Send a control signal to a running daemon",
	Long:      `Ask a running 'quill run' daemon to pause its running tasks or to shut down gracefully.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(signals.Pause), string(signals.Stop)},
	RunE: func(cmd *cobra.Command, args []string) error {
		action := signals.Action(args[0])
		if err := signals.Send(signals.DefaultDir(), action); err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), "✓", fmt.Sprintf("Sent %s signal", action), color.FgGreen)
		return nil
	},
}
