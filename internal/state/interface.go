package state

import (
	"context"
	"io"

	"github.com/ShayCichocki/conductor/internal/workflow"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// RunStore handles workflow run persistence.
type RunStore interface {
	SaveState(ctx context.Context, s models.WorkflowState) error
	LoadState(ctx context.Context, runID string) (*models.WorkflowState, error)
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, f RunFilter) ([]Run, error)
}

// HistoryStore handles per-session conversation history.
type HistoryStore interface {
	History(ctx context.Context, sessionID string) ([]models.Message, error)
	AppendMessages(ctx context.Context, sessionID string, msgs ...models.Message) error
	ClearHistory(ctx context.Context, sessionID string) error
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store composes everything the server needs from a state backend.
type Store interface {
	io.Closer
	Migrator
	RunStore
	HistoryStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store                 = (*DB)(nil)
	_ workflow.Checkpointer = (*DB)(nil)
)
