package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/weave/internal/orchestrator"
)

// Run shows the progress view until the run is done, events close, or the
// user quits. cancel is called when the user quits early.
func Run(ctx context.Context, task string, events <-chan orchestrator.Event, cancel func()) error {
	m := NewModel(task, events, cancel)
	p := tea.NewProgram(m, tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("progress view: %w", err)
	}
	return nil
}
