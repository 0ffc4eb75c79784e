package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECDC4")).Bold(true)
	taskStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Italic(true)
	sectionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC857")).Bold(true).MarginTop(1)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("28")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	roleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#45B7D1"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)
