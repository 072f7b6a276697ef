// Package tui is the interactive terminal client. It only talks to the
// store and agent through their public operations; all vault semantics
// live below it.
package tui

import (
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"keylocker/internal/agent"
	"keylocker/internal/config"
	"keylocker/internal/logging"
	"keylocker/internal/store"
)

// Screen identifies the active TUI screen
type Screen int

const (
	ScreenList Screen = iota
	ScreenAdd
	ScreenReveal
	ScreenConfirmDelete
)

// addFieldCount is the number of inputs on the add screen: name, value,
// expiry days.
const addFieldCount = 3

// Model represents the TUI application state
type Model struct {
	store  *store.Store
	client *agent.Client
	cfg    config.Config
	logger *logging.Logger

	screen    Screen
	cursor    int
	entries   []store.Metadata
	statusMsg string
	lastError string

	// Add screen state
	inputs  []textinput.Model
	focused int

	// Reveal screen state
	revealName  string
	revealValue string

	agentRunning bool
	quitting     bool
}

// clearClipboardMsg fires when a copied secret should leave the clipboard.
type clearClipboardMsg struct{}

// agentStatusMsg refreshes the agent liveness indicator.
type agentStatusMsg struct{ running bool }

// NewModel creates the TUI model over an unlocked store.
func NewModel(st *store.Store, client *agent.Client, cfg config.Config, logger *logging.Logger) Model {
	inputs := make([]textinput.Model, addFieldCount)
	for i := range inputs {
		inputs[i] = textinput.New()
	}
	inputs[0].Placeholder = "SECRET_NAME"
	inputs[1].Placeholder = "value"
	inputs[1].EchoMode = textinput.EchoPassword
	inputs[2].Placeholder = "expiry days (empty = never)"

	return Model{
		store:   st,
		client:  client,
		cfg:     cfg,
		logger:  logger,
		screen:  ScreenList,
		entries: st.List(),
		inputs:  inputs,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.checkAgent
}

func (m Model) checkAgent() tea.Msg {
	return agentStatusMsg{running: m.client.IsRunning()}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case agentStatusMsg:
		m.agentRunning = msg.running
		return m, nil
	case clearClipboardMsg:
		_ = clipboard.WriteAll("")
		m.statusMsg = "Clipboard cleared"
		return m, nil
	}

	switch m.screen {
	case ScreenList:
		return m.updateList(msg)
	case ScreenAdd:
		return m.updateAdd(msg)
	case ScreenReveal:
		return m.updateReveal(msg)
	case ScreenConfirmDelete:
		return m.updateConfirmDelete(msg)
	default:
		return m, nil
	}
}

func (m Model) updateList(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch keyMsg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "j", "down":
		if m.cursor < len(m.entries)-1 {
			m.cursor++
		}
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
	case "a":
		m.screen = ScreenAdd
		m.focused = 0
		for i := range m.inputs {
			m.inputs[i].SetValue("")
			m.inputs[i].Blur()
		}
		m.inputs[0].Focus()
		m.lastError = ""
		return m, textinput.Blink
	case "enter":
		if len(m.entries) == 0 {
			return m, nil
		}
		name := m.entries[m.cursor].Name
		value, err := m.store.Get(name)
		if err != nil {
			m.lastError = err.Error()
			return m, nil
		}
		m.revealName = name
		m.revealValue = value
		m.screen = ScreenReveal
	case "c":
		if len(m.entries) == 0 {
			return m, nil
		}
		return m.copySecret(m.entries[m.cursor].Name)
	case "d":
		if len(m.entries) == 0 {
			return m, nil
		}
		m.screen = ScreenConfirmDelete
	}
	return m, nil
}

func (m Model) copySecret(name string) (tea.Model, tea.Cmd) {
	value, err := m.store.Get(name)
	if err != nil {
		m.lastError = err.Error()
		return m, nil
	}
	if err := clipboard.WriteAll(value); err != nil {
		m.lastError = fmt.Sprintf("clipboard: %v", err)
		return m, nil
	}

	clear := m.cfg.Clipboard.ClearSeconds
	if clear <= 0 {
		m.statusMsg = fmt.Sprintf("Copied %s", name)
		return m, nil
	}
	m.statusMsg = fmt.Sprintf("Copied %s (clears in %ds)", name, clear)
	return m, tea.Tick(time.Duration(clear)*time.Second, func(time.Time) tea.Msg {
		return clearClipboardMsg{}
	})
}

func (m Model) updateAdd(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m.updateInputs(msg)
	}

	switch keyMsg.String() {
	case "esc":
		m.screen = ScreenList
		return m, nil
	case "tab", "shift+tab":
		if keyMsg.String() == "tab" {
			m.focused = (m.focused + 1) % addFieldCount
		} else {
			m.focused = (m.focused + addFieldCount - 1) % addFieldCount
		}
		for i := range m.inputs {
			if i == m.focused {
				m.inputs[i].Focus()
			} else {
				m.inputs[i].Blur()
			}
		}
		return m, textinput.Blink
	case "enter":
		return m.submitAdd()
	}
	return m.updateInputs(msg)
}

func (m Model) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	cmds := make([]tea.Cmd, len(m.inputs))
	for i := range m.inputs {
		m.inputs[i], cmds[i] = m.inputs[i].Update(msg)
	}
	return m, tea.Batch(cmds...)
}

func (m Model) submitAdd() (tea.Model, tea.Cmd) {
	name := m.inputs[0].Value()
	value := m.inputs[1].Value()

	expiresAt, err := store.ParseExpiryDays(m.inputs[2].Value())
	if err != nil {
		m.lastError = err.Error()
		return m, nil
	}

	if err := m.store.Add(name, value, expiresAt, false); err != nil {
		m.lastError = err.Error()
		return m, nil
	}

	m.logger.Info("tui.secret_added", "Secret added", map[string]interface{}{
		"name": name,
	})
	m.entries = m.store.List()
	m.screen = ScreenList
	m.lastError = ""
	m.statusMsg = fmt.Sprintf("Added %s", name)
	return m, nil
}

func (m Model) updateReveal(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch keyMsg.String() {
	case "esc", "q", "enter":
		m.revealName = ""
		m.revealValue = ""
		m.screen = ScreenList
	case "c":
		return m.copySecret(m.revealName)
	}
	return m, nil
}

func (m Model) updateConfirmDelete(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch keyMsg.String() {
	case "y":
		name := m.entries[m.cursor].Name
		if err := m.store.Remove(name); err != nil {
			m.lastError = err.Error()
		} else {
			m.logger.Info("tui.secret_removed", "Secret removed", map[string]interface{}{
				"name": name,
			})
			m.statusMsg = fmt.Sprintf("Removed %s", name)
			m.entries = m.store.List()
			if m.cursor >= len(m.entries) && m.cursor > 0 {
				m.cursor--
			}
		}
		m.screen = ScreenList
	case "n", "esc":
		m.screen = ScreenList
	}
	return m, nil
}

// Run starts the interactive TUI over an unlocked store.
func Run(st *store.Store, client *agent.Client, cfg config.Config, logger *logging.Logger) error {
	p := tea.NewProgram(NewModel(st, client, cfg, logger))
	_, err := p.Run()
	return err
}
