package model

import "context"

// The Streamer interface and the event/request types live in the model package
// (not in api) so that the session state machine can drive a stream without
// importing the transport, mirroring how the transport implements against
// these types. api.Client implements Streamer.

// ChatStreamRequest starts a fresh turn (multipart route).
type ChatStreamRequest struct {
	Message             string
	ConversationID      string
	UseWebSearch        *bool
	SelectedDocumentIDs []int
	Images              []ImageAttachment
}

// EditStreamRequest restarts the turn from an edited user message (JSON route).
type EditStreamRequest struct {
	MessageID      int    `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// RegenerateStreamRequest redoes an assistant turn (JSON route).
type RegenerateStreamRequest struct {
	MessageID      int    `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// ToolCallEvent is a decoded tool_call stream event. Name is extracted from
// either the object form ({"name": ...}) or the "<name>: <args>" string form;
// Raw carries the string payload verbatim when the event arrived as text,
// which is where fallback source markers may hide.
type ToolCallEvent struct {
	Name string
	Raw  string
}

// ToolResultEvent is a decoded tool_result stream event. Raw is the string
// payload when the result arrived as text, "" otherwise.
type ToolResultEvent struct {
	Raw string
}

// DonePayload is the terminal event of a successful turn.
type DonePayload struct {
	ConversationID string
	SessionID      int
	IsNewSession   bool
	UserMessageID  *int
	AIMessageID    *int
	Sources        []Citation
}

// StreamHandlers is the callback set a stream dispatcher drives. Nil callbacks
// are skipped. Each callback runs synchronously between stream reads, so
// handler bodies never interleave with each other.
type StreamHandlers struct {
	OnToken      func(token string)
	OnToolCall   func(ev ToolCallEvent)
	OnToolResult func(ev ToolResultEvent)
	OnDone       func(payload DonePayload)
	OnError      func(message string)
}

// Streamer opens a server stream and dispatches its events into handlers.
// Implementations return nil after a clean end of stream (including streams
// terminated by a done or error event), and an error only for transport-level
// failures. Cancellation surfaces as an error wrapping context.Canceled.
type Streamer interface {
	StreamChat(ctx context.Context, req ChatStreamRequest, handlers StreamHandlers) error
	StreamEdit(ctx context.Context, req EditStreamRequest, handlers StreamHandlers) error
	StreamRegenerate(ctx context.Context, req RegenerateStreamRequest, handlers StreamHandlers) error
}
