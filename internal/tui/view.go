package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			MarginBottom(1)

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("114"))

	expiredStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("208"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder())
)

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("keylocker"))
	b.WriteString("\n")

	switch m.screen {
	case ScreenList:
		b.WriteString(m.viewList())
	case ScreenAdd:
		b.WriteString(m.viewAdd())
	case ScreenReveal:
		b.WriteString(m.viewReveal())
	case ScreenConfirmDelete:
		b.WriteString(m.viewConfirmDelete())
	}

	if m.lastError != "" {
		b.WriteString("\n" + errorStyle.Render(m.lastError))
	} else if m.statusMsg != "" {
		b.WriteString("\n" + statusStyle.Render(m.statusMsg))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) viewList() string {
	var b strings.Builder

	if m.agentRunning {
		b.WriteString(statusStyle.Render("agent: running") + "\n\n")
	} else {
		b.WriteString(dimStyle.Render("agent: stopped") + "\n\n")
	}

	if len(m.entries) == 0 {
		b.WriteString(dimStyle.Render("No secrets yet. Press 'a' to add one.") + "\n")
	}

	now := time.Now()
	for i, entry := range m.entries {
		line := entry.Name
		if days, ok := entry.DaysUntilExpiration(now); ok {
			badge := fmt.Sprintf("  expires in %dd", days)
			if days < 7 {
				line += expiredStyle.Render(badge)
			} else {
				line += dimStyle.Render(badge)
			}
		}
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("> "+line) + "\n")
		} else {
			b.WriteString("  " + line + "\n")
		}
	}

	b.WriteString("\n" + dimStyle.Render("enter reveal · c copy · a add · d delete · q quit"))
	return b.String()
}

func (m Model) viewAdd() string {
	var b strings.Builder
	labels := []string{"Name", "Value", "Expires"}
	for i, input := range m.inputs {
		b.WriteString(fmt.Sprintf("%s\n%s\n\n", dimStyle.Render(labels[i]), input.View()))
	}
	b.WriteString(dimStyle.Render("tab next field · enter save · esc cancel"))
	return b.String()
}

func (m Model) viewReveal() string {
	var b strings.Builder
	b.WriteString(m.revealName + "\n")
	b.WriteString(valueStyle.Render(m.revealValue) + "\n\n")
	b.WriteString(dimStyle.Render("c copy · esc back"))
	return b.String()
}

func (m Model) viewConfirmDelete() string {
	name := ""
	if m.cursor < len(m.entries) {
		name = m.entries[m.cursor].Name
	}
	return fmt.Sprintf("Delete %s? %s", selectedStyle.Render(name), dimStyle.Render("(y/n)"))
}
