package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/quill/internal/orchestrator"
	"github.com/ShayCichocki/quill/internal/schedule"
	"github.com/ShayCichocki/quill/internal/signals"
	"github.com/ShayCichocki/quill/pkg/models"
)

var (
	runRulesFile   string
	runNoScheduler bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the background daemon",
	Long: `Run quill as a daemon: restore paused tasks, process queued jobs and
fire scheduled rules until interrupted.

The scheduler reads rules from scheduler.rules_file (or --rules) and reloads
the file whenever it changes. On SIGINT or SIGTERM, or 'quill signal stop',
running tasks are paused and checkpointed so they can be resumed later.
'quill signal pause' pauses running tasks without stopping the daemon.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().StringVar(&runRulesFile, "rules", "", "Schedule rules file (overrides scheduler.rules_file)")
	runCmd.Flags().BoolVar(&runNoScheduler, "no-scheduler", false, "Disable the periodic scheduler")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runRulesFile != "" {
		cfg.Scheduler.RulesFile = runRulesFile
	}
	if runNoScheduler {
		cfg.Scheduler.Enabled = false
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	svc, err := newServices(ctx, cfg, serviceOptions{logOut: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}

	events, stopEvents := svc.orch.Events().Stream(0)
	go printEvents(out, events)

	if err := svc.orch.Initialize(ctx); err != nil {
		stopEvents()
		svc.close(context.WithoutCancel(ctx))
		return fmt.Errorf("initialize: %w", err)
	}
	if suggestion := orchestrator.FormatResumeSuggestion(svc.orch.ResumableTasks()); suggestion != "" {
		fmt.Fprint(out, suggestion)
	}

	go svc.locks.Run(ctx)

	if cfg.Scheduler.Enabled {
		sched := schedule.New(svc.queue, schedule.Options{
			PollInterval: cfg.Scheduler.PollInterval,
			Logger:       svc.logger,
		})
		if cfg.Scheduler.RulesFile != "" {
			go func() {
				if err := sched.WatchRulesFile(ctx, cfg.Scheduler.RulesFile); err != nil {
					svc.logger.Error("rules file unavailable, scheduler has no rules", "path", cfg.Scheduler.RulesFile, "error", err)
				}
			}()
		}
		go sched.Run(ctx)
	}

	go func() {
		err := signals.Watch(ctx, signals.DefaultDir(), svc.logger, func(a signals.Action) {
			switch a {
			case signals.Pause:
				n := svc.orch.PauseAll()
				printStatus(out, "⏸", fmt.Sprintf("Paused %d running task(s)", n), color.FgYellow)
			case signals.Stop:
				stop()
			}
		})
		if err != nil {
			svc.logger.Warn("signal watcher unavailable", "error", err)
		}
	}()

	printStatus(out, "●", fmt.Sprintf("quill %s running (%d concurrent jobs)", Version(), cfg.Queue.MaxConcurrent), color.FgGreen)
	<-ctx.Done()

	printStatus(out, "■", "Shutting down, pausing running tasks...", color.FgYellow)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err = svc.close(shutdownCtx)
	stopEvents()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	printStatus(out, "✓", "Stopped", color.FgGreen)
	return nil
}

// printEvents writes task lifecycle events until the stream closes.
func printEvents(w io.Writer, events <-chan orchestrator.Event) {
	for ev := range events {
		switch ev.Type {
		case orchestrator.EventStateChanged:
			kind := models.IntentType("")
			trigger := models.Trigger("")
			if ev.Task != nil {
				kind, trigger = ev.Task.Kind, ev.Task.TriggeredBy
			}
			fmt.Fprintf(w, "%s  %-8s %-16s %-7s → %s\n",
				ev.Timestamp.Format("15:04:05"), shortID(ev.TaskID), kind, trigger, ev.State)
		case orchestrator.EventTaskFailed:
			printStatus(w, "✗", fmt.Sprintf("%s failed: %s", shortID(ev.TaskID), ev.Error), color.FgRed)
		case orchestrator.EventTaskCompleted:
			printStatus(w, "✓", fmt.Sprintf("%s completed", shortID(ev.TaskID)), color.FgGreen)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
