package lifecycle

import "github.com/ShayCichocki/quill/pkg/models"

// edges is the transition table. Resets to IDLE are handled in CanTransition.
var edges = map[models.TaskState][]models.TaskState{
	models.StateIdle:          {models.StateUnderstanding},
	models.StateUnderstanding: {models.StatePlanning, models.StateCancelled},
	models.StatePlanning:      {models.StateExecuting, models.StateWaitingInput, models.StateCancelled},
	models.StateExecuting: {
		models.StateWaitingInput, models.StatePaused, models.StateCompleted,
		models.StateError, models.StateCancelled,
	},
	models.StateWaitingInput: {models.StateExecuting, models.StatePaused, models.StateCancelled},
	models.StatePaused:       {models.StateExecuting, models.StateCompleted, models.StateCancelled},
	models.StateError:        {models.StateExecuting},
	models.StateCancelled:    {},
	models.StateCompleted:    {},
}

// CanTransition reports whether from→to is an allowed edge.
// Any non-IDLE state may reset to IDLE.
func CanTransition(from, to models.TaskState) bool {
	if to == models.StateIdle {
		return from != models.StateIdle && from.Valid()
	}
	for _, allowed := range edges[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
