package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// ServerMessage is a persisted message as returned by the history endpoint.
// Roles are the server's ("human"/"ai"/"tool"); tool calls arrive as a JSON
// blob in ToolCallsJSON.
type ServerMessage struct {
	ID            int            `json:"id"`
	SessionID     int            `json:"session_id"`
	Role          string         `json:"role"`
	Content       string         `json:"content"`
	ToolCallsJSON *string        `json:"tool_calls_json"`
	ToolCallID    *string        `json:"tool_call_id"`
	ToolName      *string        `json:"tool_name"`
	CreatedAt     time.Time      `json:"created_at"`
	Images        []ImageSummary `json:"images,omitempty"`
}

// MapRole translates a server role into a client role. Unknown roles map to
// assistant, matching how the transcript treats anything it cannot place.
func MapRole(serverRole string) string {
	switch serverRole {
	case "human":
		return RoleUser
	case "ai":
		return RoleAssistant
	case "tool":
		return RoleTool
	default:
		return RoleAssistant
	}
}

// ParseToolCalls decodes the tool_calls_json blob stored on assistant
// messages. Returns nil for empty, malformed, or non-array input; a bad blob
// must never make a history load fail.
func ParseToolCalls(blob *string) []ToolCallInfo {
	if blob == nil || *blob == "" {
		return nil
	}

	var raw []struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
		ID   string         `json:"id"`
	}
	if err := json.Unmarshal([]byte(*blob), &raw); err != nil {
		return nil
	}

	out := make([]ToolCallInfo, len(raw))
	for i, tc := range raw {
		name := tc.Name
		if name == "" {
			name = "unknown"
		}
		args := tc.Args
		if args == nil {
			args = map[string]any{}
		}
		out[i] = ToolCallInfo{Name: name, Args: args, ID: tc.ID}
	}
	return out
}

// FromServerMessage maps a persisted server message into a transcript entry.
// The server ID doubles as the local identity for hydrated messages.
func FromServerMessage(raw ServerMessage) Message {
	id := raw.ID
	msg := Message{
		ID:        strconv.Itoa(raw.ID),
		ServerID:  &id,
		Role:      MapRole(raw.Role),
		Content:   raw.Content,
		CreatedAt: raw.CreatedAt,
		ToolCalls: ParseToolCalls(raw.ToolCallsJSON),
		Images:    raw.Images,
	}
	if raw.ToolCallID != nil {
		msg.ToolCallID = *raw.ToolCallID
	}
	if raw.ToolName != nil {
		msg.ToolName = *raw.ToolName
	}
	return msg
}

// FromServerMessages maps a fetched history in order.
func FromServerMessages(raws []ServerMessage) []Message {
	out := make([]Message, len(raws))
	for i, raw := range raws {
		out[i] = FromServerMessage(raw)
	}
	return out
}
