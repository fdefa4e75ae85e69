package backup

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// RestoreFunc undoes one healing action by restoring its backup
type RestoreFunc func(ctx context.Context) error

type rollbackEntry struct {
	Description string
	Fn          RestoreFunc
}

// RollbackResult describes the outcome of a single rollback operation
type RollbackResult struct {
	Description string `json:"description"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// RollbackManager maintains per-run LIFO stacks of pending restores.
// An entry lives from the moment its backup succeeds until the action is
// either verified or cancelled (Commit) or rolled back (Pop).
type RollbackManager struct {
	logger zerolog.Logger
	mu     sync.Mutex
	stacks map[string][]rollbackEntry
}

// NewRollbackManager creates a new RollbackManager
func NewRollbackManager(logger zerolog.Logger) *RollbackManager {
	return &RollbackManager{
		logger: logger,
		stacks: make(map[string][]rollbackEntry),
	}
}

// Push adds a restore function to the run's stack
func (rm *RollbackManager) Push(runID string, fn RestoreFunc, description string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.stacks[runID] = append(rm.stacks[runID], rollbackEntry{
		Description: description,
		Fn:          fn,
	})
	rm.logger.Debug().Str("run_id", runID).Str("entry", description).
		Int("stack_size", len(rm.stacks[runID])).Msg("rollback pushed")
}

// Commit drops the most recent entry without running it
func (rm *RollbackManager) Commit(runID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.popLocked(runID)
}

// Pop runs the most recent entry. ok is false when the stack is empty.
func (rm *RollbackManager) Pop(ctx context.Context, runID string) (RollbackResult, bool) {
	rm.mu.Lock()
	entry, ok := rm.popLocked(runID)
	rm.mu.Unlock()
	if !ok {
		return RollbackResult{}, false
	}
	return rm.run(ctx, runID, entry), true
}

// StackSize returns the number of pending entries for a run
func (rm *RollbackManager) StackSize(runID string) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.stacks[runID])
}

// ActiveRuns returns IDs of runs with pending restores
func (rm *RollbackManager) ActiveRuns() []string {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	ids := make([]string, 0, len(rm.stacks))
	for id := range rm.stacks {
		ids = append(ids, id)
	}
	return ids
}

func (rm *RollbackManager) popLocked(runID string) (rollbackEntry, bool) {
	stack := rm.stacks[runID]
	if len(stack) == 0 {
		return rollbackEntry{}, false
	}
	entry := stack[len(stack)-1]
	if len(stack) == 1 {
		delete(rm.stacks, runID)
	} else {
		rm.stacks[runID] = stack[:len(stack)-1]
	}
	return entry, true
}

func (rm *RollbackManager) run(ctx context.Context, runID string, entry rollbackEntry) RollbackResult {
	if err := entry.Fn(ctx); err != nil {
		rm.logger.Error().Err(err).Str("run_id", runID).Str("entry", entry.Description).Msg("rollback failed")
		return RollbackResult{Description: entry.Description, Status: "failed", Error: err.Error()}
	}
	rm.logger.Info().Str("run_id", runID).Str("entry", entry.Description).Msg("rollback succeeded")
	return RollbackResult{Description: entry.Description, Status: "success"}
}
