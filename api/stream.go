package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"ragos/config"
	"ragos/model"
)

// The server streams newline-delimited frames in an SSE-like envelope:
//
//	data: {"event": "token", "data": "chunk"}
//
// with event kinds token, tool_call, tool_result, done and error. The parser
// is lossy-tolerant: blank lines, non-data lines and malformed JSON are
// skipped so a single corrupt frame never kills an otherwise healthy stream.

// ErrNoResponseBody is returned when the server answers a stream request
// without a body.
var ErrNoResponseBody = errors.New("no response body")

// readStream consumes body until EOF, reassembling lines across read
// boundaries and dispatching each complete frame. Bytes after the final
// newline are an unterminated partial frame and are discarded. Splitting on
// the newline byte keeps multi-byte UTF-8 sequences intact regardless of
// where chunk boundaries fall.
func readStream(body io.Reader, handlers model.StreamHandlers) error {
	if body == nil {
		return ErrNoResponseBody
	}

	var pending []byte
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				nl := bytes.IndexByte(pending, '\n')
				if nl < 0 {
					break
				}
				dispatchLine(string(pending[:nl]), handlers)
				pending = pending[nl+1:]
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// envelope is one parsed frame. Data stays raw until the event kind picks a
// decoder.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// dispatchLine parses one line and routes it to the matching handler. Lines
// that fail any parsing step are dropped silently; nil handlers for a kind
// drop that event.
func dispatchLine(line string, handlers model.StreamHandlers) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || !strings.HasPrefix(trimmed, "data: ") {
		return
	}

	var env envelope
	if err := json.Unmarshal([]byte(trimmed[len("data: "):]), &env); err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Stream] Skipping malformed frame: %v", err)
		}
		return
	}

	switch env.Event {
	case "token":
		var token string
		if err := json.Unmarshal(env.Data, &token); err != nil {
			return
		}
		if handlers.OnToken != nil {
			handlers.OnToken(token)
		}
	case "tool_call":
		if handlers.OnToolCall != nil {
			handlers.OnToolCall(decodeToolCall(env.Data))
		}
	case "tool_result":
		if handlers.OnToolResult != nil {
			handlers.OnToolResult(decodeToolResult(env.Data))
		}
	case "done":
		if handlers.OnDone != nil {
			handlers.OnDone(decodeDonePayload(env.Data))
		}
	case "error":
		var message string
		if err := json.Unmarshal(env.Data, &message); err != nil {
			message = string(env.Data)
		}
		if handlers.OnError != nil {
			handlers.OnError(message)
		}
	}
}

// decodeToolCall extracts the tool name from either payload shape the server
// emits: an object with a name field, or a bare string "<name>: <args>". The
// string payload is kept verbatim for fallback source extraction.
func decodeToolCall(data json.RawMessage) model.ToolCallEvent {
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Name != "" {
		return model.ToolCallEvent{Name: obj.Name}
	}

	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		name := text
		if idx := strings.Index(text, ":"); idx > 0 {
			name = strings.TrimSpace(text[:idx])
		}
		if name == "" {
			name = "tool"
		}
		return model.ToolCallEvent{Name: name, Raw: text}
	}

	return model.ToolCallEvent{Name: "tool"}
}

// decodeToolResult keeps string payloads verbatim; object payloads carry no
// source markers and are dropped.
func decodeToolResult(data json.RawMessage) model.ToolResultEvent {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return model.ToolResultEvent{Raw: text}
	}
	return model.ToolResultEvent{}
}

// doneWire is the done payload as sent by the server.
type doneWire struct {
	ConversationID string            `json:"conversation_id"`
	SessionID      int               `json:"session_id"`
	IsNewSession   bool              `json:"is_new_session"`
	UserMessageID  *int              `json:"user_message_id"`
	AIMessageID    *int              `json:"ai_message_id"`
	Sources        []json.RawMessage `json:"sources"`
}

// decodeDonePayload handles both payload encodings: a JSON object, or the
// same object double-encoded as a JSON string. Anything unparseable yields a
// zero payload so the turn still settles.
func decodeDonePayload(data json.RawMessage) model.DonePayload {
	raw := data
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		raw = json.RawMessage(text)
	}

	var wire doneWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Stream] Unparseable done payload: %v", err)
		}
		return model.DonePayload{}
	}

	return model.DonePayload{
		ConversationID: wire.ConversationID,
		SessionID:      wire.SessionID,
		IsNewSession:   wire.IsNewSession,
		UserMessageID:  wire.UserMessageID,
		AIMessageID:    wire.AIMessageID,
		Sources:        model.DecodeCitations(wire.Sources),
	}
}
