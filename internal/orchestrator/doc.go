// Package orchestrator drives natural-language requests through the task lifecycle.
//
// The orchestrator package provides functionality for:
//   - Classification: turning a request into an intent, or asking for clarification
//   - Execution: running the intent's skill under a per-task state machine and watchdog
//   - Recovery: pausing tasks to checkpoints and resuming or abandoning them later
//
// Every task lives in a single arena keyed by ID, next to its state machine
// and cancellation handle. Locks taken by a skill are released whenever its
// task leaves EXECUTING. Queued and scheduled jobs run through the same path
// as interactive submissions.
//
// Example usage:
//
//	orch, err := orchestrator.New(orchestrator.Deps{
//		Classifier: intent.NewClassifier(intent.Options{Skills: registry}),
//		Skills:     registry,
//		Store:      st,
//	}, orchestrator.Options{})
//	if err != nil {
//		return err
//	}
//	_ = orch.Initialize(ctx)
//	resp, err := orch.Submit(ctx, "写一篇关于AI的文章", orchestrator.SubmitContext{})
package orchestrator
