package ui

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"ragos/api"
	"ragos/config"
	"ragos/model"
	"ragos/storage"
)

// AppView is the bubbletea model for the chat screen. All conversation state
// lives in the ChatSession; the view only holds presentation state and
// schedules redraws when the session notifies it through the updates channel.
type AppView struct {
	cfg     *config.Config
	session *model.ChatSession
	client  *api.Client
	cache   *storage.ConversationCache

	// Session change notifications, fed by the session's change notifier.
	updates chan struct{}

	// UI components
	viewport       viewport.Model
	textarea       textarea.Model
	loadingSpinner spinner.Model

	// Window state
	width  int
	height int
	ready  bool

	// Rendered markdown per message, keyed by local message ID. Streaming
	// messages render as plain text; the cache fills in once they settle.
	renderCache map[string]string

	// Conversation picker
	showPicker bool
	picker     PickerState

	// Pending edit: the server ID of the user message being edited, nil when
	// the textarea composes a fresh message.
	editTarget *int

	statusMsg      string
	loadingHistory bool
}

// NewAppView builds the chat screen.
//
// Parameters:
//   - cfg: effective configuration
//   - session: the chat session driving the transcript
//   - client: API client for history and conversation fetches
//   - cache: conversation list cache, may be nil
//   - updates: channel the session's change notifier posts to
func NewAppView(cfg *config.Config, session *model.ChatSession, client *api.Client, cache *storage.ConversationCache, updates chan struct{}) AppView {
	ta := textarea.New()
	ta.Placeholder = "Type your message..."
	ta.Focus()
	ta.CharLimit = 0
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.SetWidth(80)

	// Alt+Enter inserts a newline; plain Enter sends.
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))
	ta.SetPromptFunc(2, func(lineIdx int) string {
		if lineIdx == 0 {
			return "> "
		}
		return "| "
	})

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = ToolStyle

	return AppView{
		cfg:            cfg,
		session:        session,
		client:         client,
		cache:          cache,
		updates:        updates,
		viewport:       viewport.New(0, 0),
		textarea:       ta,
		loadingSpinner: sp,
		renderCache:    make(map[string]string),
		picker:         NewPickerState(),
		loadingHistory: session.ConversationID() != "",
	}
}

// Init implements tea.Model.
func (a AppView) Init() tea.Cmd {
	cmds := []tea.Cmd{
		a.listenForUpdates(),
		a.loadingSpinner.Tick,
	}
	if id := a.session.ConversationID(); id != "" {
		cmds = append(cmds, a.loadHistoryCmd(id))
	}
	return tea.Batch(cmds...)
}

// lastAssistantServerID finds the newest settled assistant message that the
// server knows about, for regenerate.
func (a AppView) lastAssistantServerID() *int {
	msgs := a.session.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == model.RoleAssistant && !m.IsStreaming && m.ServerID != nil {
			return m.ServerID
		}
	}
	return nil
}

// lastUserMessage finds the newest user message with a server ID, for edit.
func (a AppView) lastUserMessage() *model.Message {
	msgs := a.session.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser && msgs[i].ServerID != nil {
			m := msgs[i]
			return &m
		}
	}
	return nil
}

// lastAssistantContent returns the newest settled assistant content, "" when
// there is none. Used for clipboard yank.
func (a AppView) lastAssistantContent() string {
	msgs := a.session.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant && !msgs[i].IsStreaming && msgs[i].Content != "" {
			return msgs[i].Content
		}
	}
	return ""
}
