package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	tasksHistory int
	resumeJSON   bool
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List paused tasks and recent history",
	Args:  cobra.NoArgs,
	RunE:  runTasks,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <task-id>",
	Short: "Resume a paused task",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

var abandonCmd = &cobra.Command{
	Use:   "abandon <task-id>",
	Short: "Cancel a paused task and discard its checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runAbandon,
}

func init() {
	tasksCmd.Flags().IntVarP(&tasksHistory, "history", "n", 10, "Number of finished tasks to show")
	resumeCmd.Flags().BoolVar(&resumeJSON, "json", false, "Print the response as JSON")
}

func runTasks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	svc, err := newServices(ctx, cfg, serviceOptions{offline: true})
	if err != nil {
		return err
	}
	defer svc.close(context.WithoutCancel(ctx))

	if err := svc.orch.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	out := cmd.OutOrStdout()
	now := time.Now()

	paused := svc.orch.ResumableTasks()
	if len(paused) == 0 {
		fmt.Fprintln(out, "No paused tasks.")
	} else {
		color.New(color.Bold).Fprintf(out, "Paused (%d)\n", len(paused))
		for _, t := range paused {
			fmt.Fprintf(out, "  %s\n", formatTaskLine(t, now))
		}
	}

	history, err := svc.orch.History(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(history) > tasksHistory {
		history = history[:tasksHistory]
	}
	if len(history) > 0 {
		fmt.Fprintln(out)
		color.New(color.Bold).Fprintf(out, "Recent (%d)\n", len(history))
		for _, t := range history {
			fmt.Fprintf(out, "  %s\n", formatTaskLine(t, now))
		}
	}
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	svc, err := newServices(ctx, cfg, serviceOptions{})
	if err != nil {
		return err
	}
	defer svc.close(context.WithoutCancel(ctx))

	if err := svc.orch.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	stopPausing := pauseOnInterrupt(cmd, svc.orch)
	defer stopPausing()

	resp, err := svc.orch.ResumeTask(ctx, args[0])
	if err != nil {
		return err
	}
	return printResponse(cmd.OutOrStdout(), resp, resumeJSON)
}

func runAbandon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	svc, err := newServices(ctx, cfg, serviceOptions{offline: true})
	if err != nil {
		return err
	}
	defer svc.close(context.WithoutCancel(ctx))

	if err := svc.orch.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := svc.orch.AbandonTask(ctx, args[0]); err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), "✓", "Abandoned "+args[0], color.FgGreen)
	return nil
}
