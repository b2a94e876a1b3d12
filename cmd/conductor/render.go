package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/dusk-indust/conductor/internal/orchestrator"
)

var (
	styleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	styleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	styleWaiting = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	styleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6"))
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	styleTitle   = lipgloss.NewStyle().Bold(true)
)

// eventStyle picks the color of an event line.
func eventStyle(kind orchestrator.EventKind) lipgloss.Style {
	switch kind {
	case orchestrator.EventStageCompleted, orchestrator.EventWorkflowCompleted:
		return styleDone
	case orchestrator.EventStageFailed, orchestrator.EventWorkflowFailed:
		return styleFailed
	case orchestrator.EventDecisionNeeded, orchestrator.EventDecisionResolved:
		return styleWaiting
	case orchestrator.EventStageStarted:
		return styleRunning
	default:
		return styleMuted
	}
}

func printEvent(w io.Writer, ev orchestrator.Event) {
	line := orchestrator.FormatEvent(ev)
	fmt.Fprintln(w, eventStyle(ev.Kind).Render(line))
}

func printTitle(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styleTitle.Render(fmt.Sprintf(format, args...)))
}
