package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragos/config"
)

// ErrTurnActive is returned when a new turn is requested while a stream is
// still running. The previous design left this unguarded and relied on caller
// discipline; the session now owns a single current-turn handle and rejects
// concurrent turns outright. Callers stop the active stream first.
var ErrTurnActive = errors.New("a turn is already streaming")

// streamFailureContent replaces an empty placeholder when a turn fails before
// any token arrived. Partial content, when present, is always preserved.
const streamFailureContent = "An error occurred while generating the response."

// SendOptions carries the per-send tool toggles and attachments.
type SendOptions struct {
	UseWebSearch        *bool
	SelectedDocumentIDs []int
	Images              []ImageAttachment
}

// ChatSession owns the ordered transcript of one conversation and runs the
// turn state machine: send / edit / regenerate / stop. Nothing else mutates
// the message list. At most one turn streams at a time; all event handling
// happens synchronously between stream reads, in the goroutine that started
// the turn. The mutex exists so a UI goroutine can snapshot state while a
// turn goroutine is streaming.
type ChatSession struct {
	mu             sync.Mutex
	messages       []Message
	conversationID string
	toolCall       *ToolCallState
	err            error
	streaming      bool
	turnSettled    bool
	// turn counts started turns. A goroutine whose transport outlives a
	// StopStreaming carries a stale generation and must leave state alone.
	turn       uint64
	toolOutput strings.Builder
	cancel     context.CancelFunc

	streamer       Streamer
	onConversation func(id string)
	onInvalidate   func()
	onChange       func()
	now            func() time.Time
	newID          func() string
}

// SessionOption configures a ChatSession.
type SessionOption func(*ChatSession)

// WithConversationID hydrates the session against an existing conversation.
func WithConversationID(id string) SessionOption {
	return func(s *ChatSession) { s.conversationID = id }
}

// WithHistory seeds the transcript with fetched history.
func WithHistory(messages []Message) SessionOption {
	return func(s *ChatSession) { s.messages = append([]Message(nil), messages...) }
}

// WithConversationSink registers the callback invoked exactly once when the
// server assigns an identifier to a brand-new conversation.
func WithConversationSink(fn func(id string)) SessionOption {
	return func(s *ChatSession) { s.onConversation = fn }
}

// WithInvalidateSink registers the history-cache invalidation callback,
// invoked after every settled turn.
func WithInvalidateSink(fn func()) SessionOption {
	return func(s *ChatSession) { s.onInvalidate = fn }
}

// WithChangeNotifier registers a callback invoked after every state change,
// outside the session lock. Used by the UI to schedule redraws.
func WithChangeNotifier(fn func()) SessionOption {
	return func(s *ChatSession) { s.onChange = fn }
}

func withClock(now func() time.Time) SessionOption {
	return func(s *ChatSession) { s.now = now }
}

func withIDGenerator(newID func() string) SessionOption {
	return func(s *ChatSession) { s.newID = newID }
}

// NewChatSession creates a session backed by the given streamer.
func NewChatSession(streamer Streamer, opts ...SessionOption) *ChatSession {
	s := &ChatSession{
		streamer: streamer,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Messages returns a snapshot copy of the transcript.
func (s *ChatSession) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// ConversationID returns the server conversation identifier, "" before the
// first turn of a new conversation settles.
func (s *ChatSession) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// ToolCall returns a copy of the active tool indicator, or nil.
func (s *ChatSession) ToolCall() *ToolCallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.toolCall == nil {
		return nil
	}
	tc := *s.toolCall
	return &tc
}

// Err returns the error recorded by the last turn, nil when it settled clean.
func (s *ChatSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// IsStreaming reports whether a turn is active.
func (s *ChatSession) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Reset replaces the transcript wholesale, e.g. when the user switches to
// another conversation. Rejected while a turn is streaming.
func (s *ChatSession) Reset(conversationID string, history []Message) error {
	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return ErrTurnActive
	}
	s.conversationID = conversationID
	s.messages = append([]Message(nil), history...)
	s.err = nil
	s.toolCall = nil
	s.mu.Unlock()

	s.notify()
	return nil
}

// SendMessage appends an optimistic user message plus a streaming assistant
// placeholder and runs the turn to completion. Blocks until the stream ends;
// run it in its own goroutine for interactive use.
func (s *ChatSession) SendMessage(ctx context.Context, content string, opts SendOptions) error {
	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return ErrTurnActive
	}

	userMsg := Message{
		ID:        s.newID(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: s.now(),
		Images:    previewImages(opts.Images),
	}
	s.messages = append(s.messages, userMsg, s.newPlaceholder())
	req := ChatStreamRequest{
		Message:             content,
		ConversationID:      s.conversationID,
		UseWebSearch:        opts.UseWebSearch,
		SelectedDocumentIDs: opts.SelectedDocumentIDs,
		Images:              opts.Images,
	}
	turnCtx, gen := s.beginTurnLocked(ctx)
	s.mu.Unlock()
	s.notify()

	return s.runTurn(gen, func(h StreamHandlers) error {
		return s.streamer.StreamChat(turnCtx, req, h)
	})
}

// EditMessage truncates the transcript to just before the message with the
// given server identifier, replaces it with the new content under the same
// optimistic identity, and restarts the stream from there. Silently a no-op
// when the session has no conversation yet or the target does not exist.
func (s *ChatSession) EditMessage(ctx context.Context, serverID int, newContent string) error {
	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return ErrTurnActive
	}
	if s.conversationID == "" {
		s.mu.Unlock()
		return nil
	}
	idx := s.indexByServerIDLocked(serverID)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}

	edited := s.messages[idx]
	edited.Content = newContent
	edited.Sources = nil
	s.messages = append(s.messages[:idx], edited, s.newPlaceholder())
	req := EditStreamRequest{
		MessageID:      serverID,
		ConversationID: s.conversationID,
		Message:        newContent,
	}
	turnCtx, gen := s.beginTurnLocked(ctx)
	s.mu.Unlock()
	s.notify()

	return s.runTurn(gen, func(h StreamHandlers) error {
		return s.streamer.StreamEdit(turnCtx, req, h)
	})
}

// RegenerateMessage truncates the transcript to just before the targeted
// assistant message, drops the target itself, and streams a replacement.
// Silent no-op guards match EditMessage.
func (s *ChatSession) RegenerateMessage(ctx context.Context, serverID int) error {
	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return ErrTurnActive
	}
	if s.conversationID == "" {
		s.mu.Unlock()
		return nil
	}
	idx := s.indexByServerIDLocked(serverID)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}

	s.messages = append(s.messages[:idx], s.newPlaceholder())
	req := RegenerateStreamRequest{
		MessageID:      serverID,
		ConversationID: s.conversationID,
	}
	turnCtx, gen := s.beginTurnLocked(ctx)
	s.mu.Unlock()
	s.notify()

	return s.runTurn(gen, func(h StreamHandlers) error {
		return s.streamer.StreamRegenerate(turnCtx, req, h)
	})
}

// StopStreaming cancels the active turn and settles the placeholder with
// whatever content has arrived. Not an error: the error slot stays untouched.
func (s *ChatSession) StopStreaming() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.settleLocked("")
	s.streaming = false
	s.toolCall = nil
	s.mu.Unlock()

	s.notify()
}

// beginTurnLocked flips the session into streaming state, arms the
// cancellation handle and hands out this turn's generation. Caller holds
// the lock.
func (s *ChatSession) beginTurnLocked(ctx context.Context) (context.Context, uint64) {
	s.err = nil
	s.toolCall = nil
	s.toolOutput.Reset()
	s.turnSettled = false
	s.streaming = true
	s.turn++

	turnCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	return turnCtx, s.turn
}

// runTurn drives one stream to completion and maps transport-level outcomes
// onto the transcript. Protocol-level outcomes (done/error events) were
// already applied by the handlers before the stream call returns. A stale
// generation means StopStreaming let a newer turn take over while this
// transport call was still unwinding; the transcript belongs to that turn now.
func (s *ChatSession) runTurn(gen uint64, start func(StreamHandlers) error) error {
	err := start(s.turnHandlers(gen))

	s.mu.Lock()
	if gen != s.turn {
		s.mu.Unlock()
		if err != nil && errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if !s.turnSettled {
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			// Clean EOF without a done event, or cooperative cancellation:
			// keep the partial content as-is.
			s.settleLocked("")
		default:
			s.err = err
			s.settleLocked(streamFailureContent)
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Session] Transport failure: %v", err)
			}
		}
	}
	s.streaming = false
	s.toolCall = nil
	s.mu.Unlock()
	s.notify()

	if err != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// turnHandlers builds the callback set for the given turn generation. The
// active placeholder is always re-located as the last message at event time:
// edit and regenerate truncate the list, so indices captured earlier would
// lie. Events from a superseded generation are dropped.
func (s *ChatSession) turnHandlers(gen uint64) StreamHandlers {
	return StreamHandlers{
		OnToken: func(token string) {
			s.mu.Lock()
			if gen != s.turn {
				s.mu.Unlock()
				return
			}
			// A token means the tool phase, if any, has ended.
			s.toolCall = nil
			if last := s.lastStreamingLocked(); last != nil {
				last.Content += token
			}
			s.mu.Unlock()
			s.notify()
		},
		OnToolCall: func(ev ToolCallEvent) {
			s.mu.Lock()
			if gen != s.turn {
				s.mu.Unlock()
				return
			}
			s.toolCall = &ToolCallState{Name: ev.Name, Status: ToolStatusCalling}
			if ev.Raw != "" && HasSourceMarkers(ev.Raw) {
				s.toolOutput.WriteString(ev.Raw)
				s.toolOutput.WriteString("\n")
			}
			s.mu.Unlock()
			s.notify()
		},
		OnToolResult: func(ev ToolResultEvent) {
			s.mu.Lock()
			if gen != s.turn {
				s.mu.Unlock()
				return
			}
			if s.toolCall != nil {
				s.toolCall.Status = ToolStatusDone
			}
			if ev.Raw != "" && HasSourceMarkers(ev.Raw) {
				s.toolOutput.WriteString(ev.Raw)
				s.toolOutput.WriteString("\n")
			}
			s.mu.Unlock()
			s.notify()
		},
		OnDone:  func(payload DonePayload) { s.handleDone(gen, payload) },
		OnError: func(message string) { s.handleStreamError(gen, message) },
	}
}

func (s *ChatSession) handleDone(gen uint64, payload DonePayload) {
	s.mu.Lock()
	if gen != s.turn || s.turnSettled {
		s.mu.Unlock()
		return
	}
	s.turnSettled = true

	if len(s.messages) > 0 {
		last := &s.messages[len(s.messages)-1]
		last.IsStreaming = false
		last.Sources = ResolveSources(last.Content, s.toolOutput.String(), payload.Sources)
		if payload.AIMessageID != nil {
			id := *payload.AIMessageID
			last.ServerID = &id
		}
	}
	if payload.UserMessageID != nil {
		if user := s.lastUnconfirmedUserLocked(); user != nil {
			id := *payload.UserMessageID
			user.ServerID = &id
		}
	}

	s.streaming = false
	s.toolCall = nil

	newConversation := s.conversationID == "" && payload.ConversationID != ""
	if newConversation {
		s.conversationID = payload.ConversationID
	}
	onConversation := s.onConversation
	onInvalidate := s.onInvalidate
	conversationID := s.conversationID
	s.mu.Unlock()

	if newConversation && onConversation != nil {
		onConversation(conversationID)
	}
	if onInvalidate != nil {
		onInvalidate()
	}
	s.notify()
}

func (s *ChatSession) handleStreamError(gen uint64, message string) {
	s.mu.Lock()
	if gen != s.turn || s.turnSettled {
		s.mu.Unlock()
		return
	}
	s.turnSettled = true

	s.err = fmt.Errorf("server error: %s", message)
	s.settleLocked(streamFailureContent)
	s.streaming = false
	s.toolCall = nil
	s.mu.Unlock()

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Session] Stream error event: %s", message)
	}
	s.notify()
}

// settleLocked finalizes the active placeholder. When its content is empty
// and fallback is non-empty, the fallback text is installed. Caller holds
// the lock.
func (s *ChatSession) settleLocked(fallback string) {
	last := s.lastStreamingLocked()
	if last == nil {
		return
	}
	last.IsStreaming = false
	if last.Content == "" && fallback != "" {
		last.Content = fallback
	}
}

// lastStreamingLocked returns the active placeholder: the last message, when
// it is still streaming. Caller holds the lock.
func (s *ChatSession) lastStreamingLocked() *Message {
	if len(s.messages) == 0 {
		return nil
	}
	last := &s.messages[len(s.messages)-1]
	if !last.IsStreaming {
		return nil
	}
	return last
}

// lastUnconfirmedUserLocked scans backward for the nearest user message that
// the server has not yet confirmed. Caller holds the lock.
func (s *ChatSession) lastUnconfirmedUserLocked() *Message {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == RoleUser && s.messages[i].ServerID == nil {
			return &s.messages[i]
		}
	}
	return nil
}

// indexByServerIDLocked locates a message by server identifier. Caller holds
// the lock.
func (s *ChatSession) indexByServerIDLocked(serverID int) int {
	for i := range s.messages {
		if s.messages[i].ServerID != nil && *s.messages[i].ServerID == serverID {
			return i
		}
	}
	return -1
}

func (s *ChatSession) newPlaceholder() Message {
	return Message{
		ID:          s.newID(),
		Role:        RoleAssistant,
		IsStreaming: true,
		CreatedAt:   s.now(),
	}
}

func (s *ChatSession) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

// previewImages builds optimistic attachment previews for the user message.
func previewImages(attachments []ImageAttachment) []ImageSummary {
	if len(attachments) == 0 {
		return nil
	}
	out := make([]ImageSummary, len(attachments))
	for i, att := range attachments {
		out[i] = ImageSummary{
			OriginalFilename: att.Filename,
			ContentType:      att.ContentType,
			OriginalSize:     int64(len(att.Data)),
		}
	}
	return out
}
