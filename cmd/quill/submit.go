package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/quill/internal/orchestrator"
	"github.com/ShayCichocki/quill/pkg/models"
)

var (
	submitParams []string
	submitJSON   bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <request>",
	Short: "Run one request and print the result",
	Long: `Classify a natural-language request, run it to completion and print
the result.

Press Ctrl+C to pause the task; it is checkpointed and can be continued
with 'quill resume <id>'.

Examples:
  quill submit "write an article about Go generics"
  quill submit --param path=posts/generics.md "summarize this post"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringArrayVarP(&submitParams, "param", "p", nil, "Task parameter as key=value (repeatable)")
	submitCmd.Flags().BoolVar(&submitJSON, "json", false, "Print the response as JSON")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	params, err := parseParams(submitParams)
	if err != nil {
		return err
	}
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

	resp, err := svc.orch.Submit(ctx, strings.Join(args, " "), orchestrator.SubmitContext{
		Params:      params,
		TriggeredBy: models.TriggerHuman,
	})
	if err != nil {
		return err
	}
	if err := printResponse(cmd.OutOrStdout(), resp, submitJSON); err != nil {
		return err
	}
	if resp.Status == orchestrator.StatusFailed {
		return fmt.Errorf("task failed")
	}
	return nil
}

// pauseOnInterrupt pauses running tasks on the first SIGINT/SIGTERM instead of
// killing the process, so their checkpoints are saved.
func pauseOnInterrupt(cmd *cobra.Command, orch *orchestrator.Orchestrator) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			n := orch.PauseAll()
			printStatus(cmd.ErrOrStderr(), "⏸", fmt.Sprintf("Pausing %d task(s)...", n), color.FgYellow)
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
