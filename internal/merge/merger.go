// Package merge reconciles isolated history lines back into a base line.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	werrors "github.com/ShayCichocki/weave/internal/errors"
	"github.com/ShayCichocki/weave/internal/git"
	"github.com/ShayCichocki/weave/pkg/models"
)

// Candidate is one line awaiting integration.
type Candidate struct {
	LineID      string
	ExecutionID string
	Index       int
}

// Result represents the outcome of a merge pass.
type Result struct {
	// Merged lists the line IDs integrated into the base, in merge order.
	Merged []string
	// Conflicts lists failed outcomes, whether content conflicts or errors.
	Conflicts []models.MergeOutcome
	// Outcomes lists every attempt in merge order.
	Outcomes []models.MergeOutcome
}

// Merger integrates lines into a base line one at a time.
type Merger struct {
	lines        git.HistoryLineProvider
	deleteMerged bool
	onOutcome    func(models.MergeOutcome)
	logger       *slog.Logger
}

// Option configures a Merger.
type Option func(*Merger)

// WithDeleteMerged deletes each line after it is integrated.
func WithDeleteMerged(enabled bool) Option {
	return func(m *Merger) { m.deleteMerged = enabled }
}

// WithOutcomeHook is called after every attempt.
func WithOutcomeHook(fn func(models.MergeOutcome)) Option {
	return func(m *Merger) { m.onOutcome = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Merger) { m.logger = l }
}

// NewMerger creates a Merger over lines.
func NewMerger(lines git.HistoryLineProvider, opts ...Option) *Merger {
	m := &Merger{
		lines:  lines,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MergeAll integrates the lines of every completed execution into base in
// index order. Executions in any other status are skipped.
func (m *Merger) MergeAll(ctx context.Context, base string, executions []*models.SubtaskExecution) (*Result, error) {
	var candidates []Candidate
	for _, e := range executions {
		if e == nil || e.Status != models.ExecutionCompleted || e.HistoryLineID == "" {
			continue
		}
		candidates = append(candidates, Candidate{LineID: e.HistoryLineID, ExecutionID: e.ID, Index: e.Index})
	}
	return m.Merge(ctx, base, candidates)
}

// Merge integrates candidates into base sequentially, ordered by Index.
// A conflicted or failed attempt is discarded so base is exactly as it was
// before that attempt, and the pass continues with the next line. If any
// attempt failed, the returned error is a *errors.MergeConflictError; the
// Result is returned either way.
func (m *Merger) Merge(ctx context.Context, base string, candidates []Candidate) (*Result, error) {
	ordered := append([]Candidate(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	result := &Result{}
	for _, c := range ordered {
		if err := ctx.Err(); err != nil {
			return result, werrors.Join(err, m.conflictError(base, result))
		}

		outcome := m.integrate(ctx, base, c)
		result.Outcomes = append(result.Outcomes, outcome)
		if outcome.Merged {
			result.Merged = append(result.Merged, c.LineID)
		} else {
			result.Conflicts = append(result.Conflicts, outcome)
		}
		if m.onOutcome != nil {
			m.onOutcome(outcome)
		}
	}

	if err := m.conflictError(base, result); err != nil {
		return result, err
	}
	return result, nil
}

func (m *Merger) conflictError(base string, result *Result) error {
	if len(result.Conflicts) == 0 {
		return nil
	}
	return &werrors.MergeConflictError{Base: base, Outcomes: result.Conflicts}
}

func (m *Merger) integrate(ctx context.Context, base string, c Candidate) models.MergeOutcome {
	outcome := models.MergeOutcome{HistoryLineID: c.LineID, ExecutionID: c.ExecutionID}

	integration, err := m.lines.Integrate(ctx, c.LineID, base)
	if err == nil && integration.Success {
		outcome.Merged = true
		m.logger.Info("line merged", "line", c.LineID, "base", base)
		if m.deleteMerged {
			if err := m.lines.Delete(ctx, c.LineID); err != nil {
				m.logger.Warn("delete merged line", "line", c.LineID, "error", err)
			}
		}
		return outcome
	}

	if err != nil {
		outcome.Error = err.Error()
		m.logger.Error("integrate line", "line", c.LineID, "base", base, "error", err)
	} else {
		outcome.ConflictedPaths = integration.ConflictedPaths
		m.logger.Warn("merge conflict", "line", c.LineID, "base", base, "paths", integration.ConflictedPaths)
	}

	if err := m.lines.DiscardAttempt(ctx, base); err != nil {
		// The base may now be dirty; surface it on the outcome.
		m.logger.Error("discard merge attempt", "line", c.LineID, "base", base, "error", err)
		if outcome.Error == "" {
			outcome.Error = fmt.Sprintf("discard attempt: %v", err)
		} else {
			outcome.Error = fmt.Sprintf("%s; discard attempt: %v", outcome.Error, err)
		}
	}
	return outcome
}
