package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ShayCichocki/quill/internal/tui"
)

const shutdownTimeout = 30 * time.Second

func runInteractive(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	svc, err := newServices(ctx, cfg, serviceOptions{})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancelShutdown()
		if err := svc.close(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: shutdown: %v\n", err)
		}
	}()

	// Subscribe before Initialize so the TUI sees restored checkpoints.
	events, stop := svc.orch.Events().Stream(0)
	defer stop()
	if err := svc.orch.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	go svc.locks.Run(ctx)

	program := tui.NewProgram(ctx, svc.orch, events, cfg.TUI.RefreshRate)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run TUI: %w", err)
	}
	return nil
}
