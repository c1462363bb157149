package ui

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"ragos/model"
	"ragos/storage"
)

// Update implements tea.Model.
func (a AppView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.viewport.Width = msg.Width
		a.viewport.Height = msg.Height - a.textarea.Height() - 3
		a.textarea.SetWidth(msg.Width - 2)
		a.ready = true
		a.refreshViewport(true)
		return a, nil

	case sessionChangedMsg:
		a.refreshViewport(true)
		return a, a.listenForUpdates()

	case turnFinishedMsg:
		var cmds []tea.Cmd
		if msg.err != nil {
			if errors.Is(msg.err, model.ErrTurnActive) {
				a.statusMsg = "A response is already streaming (Esc to stop)"
			} else {
				a.statusMsg = fmt.Sprintf("Request failed: %v", msg.err)
			}
		} else if err := a.session.Err(); err != nil {
			a.statusMsg = fmt.Sprintf("Turn failed: %v", err)
		} else {
			a.statusMsg = ""
		}
		cmds = append(cmds, a.pendingRenderCmds()...)
		a.refreshViewport(true)
		return a, tea.Batch(cmds...)

	case historyLoadedMsg:
		a.loadingHistory = false
		if msg.err != nil {
			a.statusMsg = fmt.Sprintf("Failed to load history: %v", msg.err)
			return a, nil
		}
		if err := a.session.Reset(msg.conversationID, msg.messages); err != nil {
			a.statusMsg = "Cannot switch conversations while streaming"
			return a, nil
		}
		a.renderCache = make(map[string]string)
		a.statusMsg = ""
		a.refreshViewport(true)
		return a, tea.Batch(a.pendingRenderCmds()...)

	case conversationsLoadedMsg:
		if msg.err != nil {
			a.picker.SetError(msg.err)
		} else {
			a.picker.SetConversations(msg.conversations, msg.fromCache)
		}
		return a, nil

	case markdownRenderedMsg:
		a.renderCache[msg.messageID] = msg.rendered
		a.refreshViewport(false)
		return a, nil

	case clipboardResultMsg:
		if msg.err != nil {
			a.statusMsg = fmt.Sprintf("Copy failed: %v", msg.err)
		} else {
			a.statusMsg = "Copied to clipboard"
		}
		return a, nil

	case spinner.TickMsg:
		if a.session.IsStreaming() || a.loadingHistory {
			var cmd tea.Cmd
			a.loadingSpinner, cmd = a.loadingSpinner.Update(msg)
			return a, cmd
		}
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a AppView) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.showPicker {
		return a.handlePickerKey(msg)
	}

	switch msg.String() {
	case "ctrl+c":
		return a, tea.Quit

	case "esc":
		if a.editTarget != nil {
			a.editTarget = nil
			a.textarea.Reset()
			a.statusMsg = ""
			return a, nil
		}
		if a.session.IsStreaming() {
			a.session.StopStreaming()
			a.statusMsg = "Stopped"
			return a, nil
		}
		return a, nil

	case "enter":
		return a.handleSubmit()

	case "ctrl+o":
		a.showPicker = true
		a.picker.Open()
		return a, tea.Batch(a.loadConversationsCmd(), a.loadingSpinner.Tick)

	case "ctrl+n":
		if a.session.IsStreaming() {
			a.statusMsg = "Stop the stream first (Esc)"
			return a, nil
		}
		if err := a.session.Reset("", nil); err != nil {
			return a, nil
		}
		a.renderCache = make(map[string]string)
		a.editTarget = nil
		a.textarea.Reset()
		a.statusMsg = "New conversation"
		if err := storage.ClearCurrentConversationID(a.cfg.DataDir()); err != nil {
			a.statusMsg = fmt.Sprintf("New conversation (marker: %v)", err)
		}
		a.refreshViewport(true)
		return a, nil

	case "ctrl+r":
		if a.session.IsStreaming() {
			a.statusMsg = "Stop the stream first (Esc)"
			return a, nil
		}
		serverID := a.lastAssistantServerID()
		if serverID == nil {
			a.statusMsg = "Nothing to regenerate"
			return a, nil
		}
		a.statusMsg = ""
		return a, tea.Batch(a.regenerateCmd(*serverID), a.loadingSpinner.Tick)

	case "ctrl+e":
		if a.session.IsStreaming() {
			a.statusMsg = "Stop the stream first (Esc)"
			return a, nil
		}
		target := a.lastUserMessage()
		if target == nil {
			a.statusMsg = "Nothing to edit"
			return a, nil
		}
		a.editTarget = target.ServerID
		a.textarea.SetValue(target.Content)
		a.statusMsg = "Editing last message (Esc to cancel)"
		return a, nil

	case "ctrl+y":
		content := a.lastAssistantContent()
		if content == "" {
			a.statusMsg = "Nothing to copy"
			return a, nil
		}
		return a, yankCmd(content)

	case "ctrl+w":
		a.cfg.UseWebSearch = !a.cfg.UseWebSearch
		if a.cfg.UseWebSearch {
			a.statusMsg = "Web search on"
		} else {
			a.statusMsg = "Web search off"
		}
		return a, a.persistWebSearchCmd(a.cfg.UseWebSearch)
	}

	// Everything else goes to the input and viewport.
	var taCmd, vpCmd tea.Cmd
	a.textarea, taCmd = a.textarea.Update(msg)
	a.viewport, vpCmd = a.viewport.Update(msg)
	return a, tea.Batch(taCmd, vpCmd)
}

func (a AppView) handleSubmit() (tea.Model, tea.Cmd) {
	content := a.textarea.Value()
	if content == "" {
		return a, nil
	}
	if a.session.IsStreaming() {
		a.statusMsg = "A response is already streaming (Esc to stop)"
		return a, nil
	}

	a.textarea.Reset()
	a.statusMsg = ""

	if a.editTarget != nil {
		serverID := *a.editTarget
		a.editTarget = nil
		return a, tea.Batch(a.editMessageCmd(serverID, content), a.loadingSpinner.Tick)
	}
	return a, tea.Batch(a.sendMessageCmd(content), a.loadingSpinner.Tick)
}

func (a AppView) handlePickerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.showPicker = false
		return a, nil

	case "up", "ctrl+p":
		a.picker.MoveUp()
		return a, nil

	case "down", "ctrl+n":
		a.picker.MoveDown()
		return a, nil

	case "enter":
		selected := a.picker.Selected()
		if selected == nil {
			return a, nil
		}
		a.showPicker = false
		a.loadingHistory = true
		if err := storage.SaveCurrentConversationID(a.cfg.DataDir(), selected.ConversationID); err != nil {
			a.statusMsg = fmt.Sprintf("Resume marker: %v", err)
		}
		return a, tea.Batch(a.loadHistoryCmd(selected.ConversationID), a.loadingSpinner.Tick)

	case "ctrl+c":
		return a, tea.Quit
	}

	var cmd tea.Cmd
	a.picker.filterInput, cmd = a.picker.filterInput.Update(msg)
	a.picker.applyFilter()
	return a, cmd
}

// pendingRenderCmds schedules markdown rendering for every settled assistant
// message that has no cached rendering yet.
func (a AppView) pendingRenderCmds() []tea.Cmd {
	var cmds []tea.Cmd
	for _, m := range a.session.Messages() {
		if m.Role != model.RoleAssistant || m.IsStreaming || m.Content == "" {
			continue
		}
		if _, ok := a.renderCache[m.ID]; ok {
			continue
		}
		cmds = append(cmds, a.renderMarkdownCmd(m.ID, m.Content))
	}
	return cmds
}
