package ui

import (
	"context"
	"strings"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	gomarkdown "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/parser"

	"ragos/config"
	"ragos/model"
)

// listenForUpdates waits for the next session change notification. Re-armed
// after every sessionChangedMsg so the channel keeps draining.
func (a AppView) listenForUpdates() tea.Cmd {
	updates := a.updates
	return func() tea.Msg {
		<-updates
		return sessionChangedMsg{}
	}
}

// sendMessageCmd runs a full send turn. Blocking is fine: bubbletea runs each
// command in its own goroutine and the session streams events through the
// change notifier while this waits.
func (a AppView) sendMessageCmd(content string) tea.Cmd {
	session := a.session
	opts := model.SendOptions{
		SelectedDocumentIDs: a.cfg.SelectedDocumentIDs,
	}
	useWebSearch := a.cfg.UseWebSearch
	opts.UseWebSearch = &useWebSearch
	return func() tea.Msg {
		return turnFinishedMsg{err: session.SendMessage(context.Background(), content, opts)}
	}
}

// persistWebSearchCmd writes the toggled web-search default back to the user
// config so the choice survives restarts.
func (a AppView) persistWebSearchCmd(enabled bool) tea.Cmd {
	dataDir := a.cfg.DataDir()
	return func() tea.Msg {
		if err := config.SetUseWebSearch(dataDir, enabled); err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("[UI] Persisting web search toggle failed: %v", err)
		}
		return nil
	}
}

// editMessageCmd runs an edit turn against the given user message.
func (a AppView) editMessageCmd(serverID int, content string) tea.Cmd {
	session := a.session
	return func() tea.Msg {
		return turnFinishedMsg{err: session.EditMessage(context.Background(), serverID, content)}
	}
}

// regenerateCmd redoes the turn behind the given assistant message.
func (a AppView) regenerateCmd(serverID int) tea.Cmd {
	session := a.session
	return func() tea.Msg {
		return turnFinishedMsg{err: session.RegenerateMessage(context.Background(), serverID)}
	}
}

// loadHistoryCmd fetches and maps a conversation's persisted messages.
func (a AppView) loadHistoryCmd(conversationID string) tea.Cmd {
	client := a.client
	return func() tea.Msg {
		raws, err := client.ConversationMessages(context.Background(), conversationID)
		if err != nil {
			return historyLoadedMsg{conversationID: conversationID, err: err}
		}
		messages := model.FromServerMessages(raws)
		model.AttachFallbackSources(messages)
		return historyLoadedMsg{conversationID: conversationID, messages: messages}
	}
}

// loadConversationsCmd fills the picker: cached list when fresh, otherwise a
// server fetch that also refreshes the cache.
func (a AppView) loadConversationsCmd() tea.Cmd {
	client := a.client
	cache := a.cache
	return func() tea.Msg {
		if cache != nil && !cache.Stale() {
			if cached, err := cache.List(); err == nil && len(cached) > 0 {
				return conversationsLoadedMsg{conversations: cached, fromCache: true}
			}
		}

		page, err := client.Conversations(context.Background(), "", 0)
		if err != nil {
			// Fall back to whatever the cache still has.
			if cache != nil {
				if cached, cacheErr := cache.List(); cacheErr == nil && len(cached) > 0 {
					return conversationsLoadedMsg{conversations: cached, fromCache: true}
				}
			}
			return conversationsLoadedMsg{err: err}
		}

		if cache != nil {
			if err := cache.ReplaceAll(page.Conversations); err != nil && config.DebugLog != nil {
				config.DebugLog.Printf("[UI] Failed to refresh conversation cache: %v", err)
			}
		}
		return conversationsLoadedMsg{conversations: page.Conversations}
	}
}

// yankCmd copies text to the system clipboard.
func yankCmd(text string) tea.Cmd {
	return func() tea.Msg {
		return clipboardResultMsg{err: clipboard.WriteAll(text)}
	}
}

// renderMarkdownCmd renders settled assistant content off the update loop.
// Streaming content is shown as plain text until the turn finishes, so this
// only ever runs once per message.
func (a AppView) renderMarkdownCmd(messageID, content string) tea.Cmd {
	width := a.width - 4
	if width < 20 {
		width = 78
	}
	return func() tea.Msg {
		// Keep plain URLs plain so the terminal emulator handles linking.
		ext := markdown.Extensions() &^ parser.Autolink
		p := parser.NewWithExtensions(ext)
		r := markdown.NewRenderer(width, 0)
		doc := p.Parse([]byte(content))
		rendered := strings.TrimRight(string(gomarkdown.Render(doc, r)), "\n")
		return markdownRenderedMsg{messageID: messageID, rendered: rendered}
	}
}
