// Package tui provides the interactive terminal front end for quill.
//
// The App shows every task the orchestrator knows about with its state and
// progress, an activity log fed by the orchestrator's event stream, and an
// input line. The header names the current task and the footer carries the
// queue counts. Plain text is submitted as a request; lines starting with a
// slash are commands:
//
//	/abort [id]    cancel a running task (default: the current one)
//	/pause <id>    pause a running task and checkpoint it
//	/resume <id>   resume a paused task
//	/abandon <id>  cancel a paused task and drop its checkpoint
//	/jobs          list queued jobs
//	/retry <id>    resubmit a failed queued job
//	/quit          leave the TUI
//
// Usage:
//
//	events, stop := orch.Events().Stream(0)
//	defer stop()
//	program := tui.NewProgram(ctx, orch, events, cfg.TUI.RefreshRate)
//	_, err := program.Run()
package tui
