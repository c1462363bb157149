package ui

import "ragos/model"

// sessionChangedMsg signals that the chat session mutated and the transcript
// needs re-rendering. Emitted via the session's change notifier channel.
type sessionChangedMsg struct{}

// turnFinishedMsg is delivered when a turn goroutine returns.
type turnFinishedMsg struct {
	err error
}

// historyLoadedMsg carries a fetched conversation history.
type historyLoadedMsg struct {
	conversationID string
	messages       []model.Message
	err            error
}

// conversationsLoadedMsg carries the conversation list for the picker.
type conversationsLoadedMsg struct {
	conversations []model.ConversationSummary
	fromCache     bool
	err           error
}

// markdownRenderedMsg carries an async markdown render result keyed by the
// message's local ID.
type markdownRenderedMsg struct {
	messageID string
	rendered  string
}

// clipboardResultMsg reports a yank attempt.
type clipboardResultMsg struct {
	err error
}
