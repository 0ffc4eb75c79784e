package state

import (
	"context"
	"io"

	"github.com/ShayCichocki/weave/pkg/models"
)

// RunStore handles run persistence.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.Run) error
	FinishRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)
}

// ExecutionStore handles part execution snapshots.
type ExecutionStore interface {
	RecordExecution(ctx context.Context, e *models.SubtaskExecution) error
	ListExecutions(ctx context.Context, runID string) ([]models.SubtaskExecution, error)
}

// TraceStore handles routing trace entries.
type TraceStore interface {
	RecordTrace(ctx context.Context, runID string, seq int, entry models.TraceEntry) error
	ListTrace(ctx context.Context, runID string) ([]models.TraceEntry, error)
}

// MergeStore handles merge outcomes.
type MergeStore interface {
	RecordMergeOutcome(ctx context.Context, runID string, o models.MergeOutcome) error
	ListMergeOutcomes(ctx context.Context, runID string) ([]models.MergeOutcome, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	Migrate() error
}

// StateStore composes the focused stores.
type StateStore interface {
	io.Closer
	Migrator
	RunStore
	ExecutionStore
	TraceStore
	MergeStore
}

var (
	_ StateStore     = (*DB)(nil)
	_ RunStore       = (*DB)(nil)
	_ ExecutionStore = (*DB)(nil)
	_ TraceStore     = (*DB)(nil)
	_ MergeStore     = (*DB)(nil)
)
