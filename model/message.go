package model

import "time"

// Message roles as used in the client transcript. The server speaks
// "human"/"ai"/"tool"; mapping happens in mapper.go.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one transcript entry. ID is a locally generated UUID assigned
// before the server has seen the message; ServerID stays nil until the server
// confirms persistence (on stream completion, or when history is fetched).
// While IsStreaming is true the content only ever grows; the flag flips to
// false exactly once, after which the content is final.
type Message struct {
	ID          string
	ServerID    *int
	Role        string
	Content     string
	Sources     []Citation
	IsStreaming bool
	CreatedAt   time.Time

	// Tool linkage, populated for tool-role messages loaded from history.
	ToolCalls  []ToolCallInfo
	ToolCallID string
	ToolName   string

	Images []ImageSummary
}

// ToolCallInfo describes one tool invocation recorded on an assistant message.
type ToolCallInfo struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
	ID   string         `json:"id"`
}

// ImageSummary describes a server-side uploaded image attached to a message.
// For optimistic user messages only OriginalFilename is known; the rest is
// filled in when history is refetched.
type ImageSummary struct {
	ID               int    `json:"id"`
	OriginalURL      string `json:"original_url"`
	ThumbnailURL     string `json:"thumbnail_url"`
	ContentType      string `json:"content_type"`
	OriginalSize     int64  `json:"original_size"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	OriginalFilename string `json:"original_filename"`
}

// ImageAttachment is a local file queued for upload with a message.
type ImageAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ToolStatus is the lifecycle of the active tool-call indicator.
type ToolStatus string

const (
	ToolStatusCalling ToolStatus = "calling"
	ToolStatusDone    ToolStatus = "done"
)

// ToolCallState is the session's active tool indicator: which tool the
// assistant is currently running and whether its result has arrived.
type ToolCallState struct {
	Name   string
	Status ToolStatus
}
