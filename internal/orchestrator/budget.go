package orchestrator

import (
	"sync"

	"github.com/ShayCichocki/quill/pkg/models"
)

// BudgetStatus represents the current state of budget consumption.
type BudgetStatus int

const (
	// BudgetOK indicates usage is below the warning threshold.
	BudgetOK BudgetStatus = iota
	// BudgetWarning indicates usage is between the warning threshold and the budget.
	BudgetWarning
	// BudgetExhausted indicates the token budget is fully consumed.
	BudgetExhausted
)

// String returns a human-readable representation of the budget status.
func (s BudgetStatus) String() string {
	switch s {
	case BudgetOK:
		return "OK"
	case BudgetWarning:
		return "Warning"
	case BudgetExhausted:
		return "Exhausted"
	default:
		return "Unknown"
	}
}

// DefaultWarningThreshold is the fraction of the budget at which warnings begin.
const DefaultWarningThreshold = 0.80

// BudgetHandler accumulates token and cost usage across all tasks and checks
// it against an optional token budget. A budget of zero means unlimited.
type BudgetHandler struct {
	mu               sync.Mutex
	budget           int64
	usage            models.Usage
	warningThreshold float64
}

// NewBudgetHandler creates a BudgetHandler with the given token budget.
func NewBudgetHandler(budget int64) *BudgetHandler {
	return &BudgetHandler{
		budget:           budget,
		warningThreshold: DefaultWarningThreshold,
	}
}

// Add records usage and returns the status before and after it.
func (h *BudgetHandler) Add(tokens int64, cost float64) (before, after BudgetStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	before = h.statusLocked()
	h.usage.Add(tokens, cost)
	return before, h.statusLocked()
}

// Usage returns the accumulated usage.
func (h *BudgetHandler) Usage() models.Usage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.usage
}

// CheckBudget returns the current budget status.
func (h *BudgetHandler) CheckBudget() BudgetStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked()
}

// CanStartNew returns false once the budget is exhausted.
func (h *BudgetHandler) CanStartNew() bool {
	return h.CheckBudget() != BudgetExhausted
}

func (h *BudgetHandler) statusLocked() BudgetStatus {
	if h.budget <= 0 {
		return BudgetOK
	}
	percentage := float64(h.usage.TokensUsed) / float64(h.budget)
	if percentage >= 1.0 {
		return BudgetExhausted
	}
	if percentage >= h.warningThreshold {
		return BudgetWarning
	}
	return BudgetOK
}
