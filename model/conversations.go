package model

import "time"

// ConversationSummary is one entry of the server's conversation list.
type ConversationSummary struct {
	ConversationID     string    `json:"conversation_id"`
	Title              *string   `json:"title"`
	LastMessagePreview *string   `json:"last_message_preview"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// DisplayTitle returns the title to render for a conversation, falling back
// to the last message preview and then a placeholder.
func (c ConversationSummary) DisplayTitle() string {
	if c.Title != nil && *c.Title != "" {
		return *c.Title
	}
	if c.LastMessagePreview != nil && *c.LastMessagePreview != "" {
		return *c.LastMessagePreview
	}
	return "(untitled conversation)"
}

// ConversationPage is one cursor-paginated page of the conversation list.
type ConversationPage struct {
	Conversations []ConversationSummary `json:"conversations"`
	NextCursor    *string               `json:"next_cursor"`
	HasNext       bool                  `json:"has_next"`
}
