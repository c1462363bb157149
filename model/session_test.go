package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// fakeStreamer replays a scripted event sequence into the handlers, standing
// in for the HTTP transport. Each method records the request it received.
type fakeStreamer struct {
	script func(h StreamHandlers) error

	chatReqs  []ChatStreamRequest
	editReqs  []EditStreamRequest
	regenReqs []RegenerateStreamRequest
}

func (f *fakeStreamer) StreamChat(ctx context.Context, req ChatStreamRequest, h StreamHandlers) error {
	f.chatReqs = append(f.chatReqs, req)
	return f.script(h)
}

func (f *fakeStreamer) StreamEdit(ctx context.Context, req EditStreamRequest, h StreamHandlers) error {
	f.editReqs = append(f.editReqs, req)
	return f.script(h)
}

func (f *fakeStreamer) StreamRegenerate(ctx context.Context, req RegenerateStreamRequest, h StreamHandlers) error {
	f.regenReqs = append(f.regenReqs, req)
	return f.script(h)
}

func newTestSession(streamer Streamer, opts ...SessionOption) *ChatSession {
	seq := 0
	base := []SessionOption{
		withClock(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }),
		withIDGenerator(func() string {
			seq++
			return fmt.Sprintf("local-%d", seq)
		}),
	}
	return NewChatSession(streamer, append(base, opts...)...)
}

func TestSendMessageHappyPath(t *testing.T) {
	userID, aiID := 10, 11
	streamer := &fakeStreamer{script: func(h StreamHandlers) error {
		h.OnToken("Hello")
		h.OnToken(", world")
		h.OnDone(DonePayload{
			ConversationID: "conv-1",
			UserMessageID:  &userID,
			AIMessageID:    &aiID,
		})
		return nil
	}}

	var gotConversation string
	invalidations := 0
	session := newTestSession(streamer,
		WithConversationSink(func(id string) { gotConversation = id }),
		WithInvalidateSink(func() { invalidations++ }),
	)

	if err := session.SendMessage(context.Background(), "hi", SendOptions{}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	msgs := session.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	user, assistant := msgs[0], msgs[1]
	if user.Role != RoleUser || user.Content != "hi" {
		t.Errorf("user message = %+v", user)
	}
	if user.ServerID == nil || *user.ServerID != userID {
		t.Errorf("user ServerID = %v, want %d", user.ServerID, userID)
	}
	if assistant.Role != RoleAssistant || assistant.Content != "Hello, world" {
		t.Errorf("assistant message = %+v", assistant)
	}
	if assistant.IsStreaming {
		t.Error("assistant still marked streaming after done")
	}
	if assistant.ServerID == nil || *assistant.ServerID != aiID {
		t.Errorf("assistant ServerID = %v, want %d", assistant.ServerID, aiID)
	}
	if session.ConversationID() != "conv-1" {
		t.Errorf("ConversationID() = %q, want %q", session.ConversationID(), "conv-1")
	}
	if gotConversation != "conv-1" {
		t.Errorf("conversation sink got %q, want %q", gotConversation, "conv-1")
	}
	if invalidations != 1 {
		t.Errorf("invalidate sink called %d times, want 1", invalidations)
	}
	if err := session.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	if session.IsStreaming() {
		t.Error("IsStreaming() = true after settled turn")
	}
}

func TestSendMessageForwardsOptions(t *testing.T) {
	streamer := &fakeStreamer{script: func(h StreamHandlers) error {
		h.OnDone(DonePayload{ConversationID: "conv-1"})
		return nil
	}}
	session := newTestSession(streamer)

	web := false
	opts := SendOptions{
		UseWebSearch:        &web,
		SelectedDocumentIDs: []int{1, 3},
		Images: []ImageAttachment{
			{Filename: "plot.png", ContentType: "image/png", Data: []byte("fakepng")},
		},
	}
	if err := session.SendMessage(context.Background(), "analyze", opts); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	if len(streamer.chatReqs) != 1 {
		t.Fatalf("got %d chat requests, want 1", len(streamer.chatReqs))
	}
	req := streamer.chatReqs[0]
	if req.UseWebSearch == nil || *req.UseWebSearch {
		t.Errorf("UseWebSearch = %v, want false", req.UseWebSearch)
	}
	if len(req.SelectedDocumentIDs) != 2 {
		t.Errorf("SelectedDocumentIDs = %v", req.SelectedDocumentIDs)
	}
	if len(req.Images) != 1 || req.Images[0].Filename != "plot.png" {
		t.Errorf("Images = %v", req.Images)
	}

	user := session.Messages()[0]
	if len(user.Images) != 1 || user.Images[0].OriginalFilename != "plot.png" {
		t.Errorf("optimistic image preview = %v", user.Images)
	}
	if user.Images[0].OriginalSize != int64(len("fakepng")) {
		t.Errorf("preview size = %d", user.Images[0].OriginalSize)
	}
}

func TestSendMessageRejectedWhileStreaming(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	streamer := &fakeStreamer{script: func(h StreamHandlers) error {
		close(started)
		<-release
		h.OnDone(DonePayload{ConversationID: "conv-1"})
		return nil
	}}
	session := newTestSession(streamer)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- session.SendMessage(context.Background(), "first", SendOptions{})
	}()
	<-started

	if err := session.SendMessage(context.Background(), "second", SendOptions{}); !errors.Is(err, ErrTurnActive) {
		t.Errorf("concurrent SendMessage() error = %v, want ErrTurnActive", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first SendMessage() error = %v", err)
	}
	if got := len(session.Messages()); got != 2 {
		t.Errorf("transcript has %d messages, want 2", got)
	}
}

func TestStreamErrorSettlesPlaceholder(t *testing.T) {
	t.Run("partial content preserved", func(t *testing.T) {
		streamer := &fakeStreamer{script: func(h StreamHandlers) error {
			h.OnToken("partial answer")
			h.OnError("model overloaded")
			return nil
		}}
		session := newTestSession(streamer)

		if err := session.SendMessage(context.Background(), "q", SendOptions{}); err != nil {
			t.Fatalf("SendMessage() error = %v", err)
		}
		assistant := session.Messages()[1]
		if assistant.Content != "partial answer" {
			t.Errorf("assistant content = %q, want partial kept", assistant.Content)
		}
		if assistant.IsStreaming {
			t.Error("assistant still streaming after error")
		}
		if session.Err() == nil {
			t.Error("Err() = nil, want recorded stream error")
		}
	})

	t.Run("empty placeholder gets failure text", func(t *testing.T) {
		streamer := &fakeStreamer{script: func(h StreamHandlers) error {
			h.OnError("bad request")
			return nil
		}}
		session := newTestSession(streamer)

		if err := session.SendMessage(context.Background(), "q", SendOptions{}); err != nil {
			t.Fatalf("SendMessage() error = %v", err)
		}
		assistant := session.Messages()[1]
		if assistant.Content != streamFailureContent {
			t.Errorf("assistant content = %q, want failure text", assistant.Content)
		}
	})
}

func TestTransportErrorRecorded(t *testing.T) {
	transportErr := errors.New("connection reset")
	streamer := &fakeStreamer{script: func(h StreamHandlers) error {
		h.OnToken("half")
		return transportErr
	}}
	session := newTestSession(streamer)

	err := session.SendMessage(context.Background(), "q", SendOptions{})
	if !errors.Is(err, transportErr) {
		t.Errorf("SendMessage() error = %v, want %v", err, transportErr)
	}
	if !errors.Is(session.Err(), transportErr) {
		t.Errorf("Err() = %v, want %v", session.Err(), transportErr)
	}
	assistant := session.Messages()[1]
	if assistant.Content != "half" {
		t.Errorf("assistant content = %q, want partial kept", assistant.Content)
	}
	if assistant.IsStreaming {
		t.Error("assistant still streaming after transport failure")
	}
}

func TestCancellationIsQuiet(t *testing.T) {
	streamer := &fakeStreamer{script: func(h StreamHandlers) error {
		h.OnToken("stopped mid")
		return fmt.Errorf("reading stream: %w", context.Canceled)
	}}
	session := newTestSession(streamer)

	if err := session.SendMessage(context.Background(), "q", SendOptions{}); err != nil {
		t.Fatalf("SendMessage() error = %v, want nil for cancellation", err)
	}
	if session.Err() != nil {
		t.Errorf("Err() = %v, want nil", session.Err())
	}
	assistant := session.Messages()[1]
	if assistant.Content != "stopped mid" {
		t.Errorf("assistant content = %q, want partial kept", assistant.Content)
	}
	if assistant.IsStreaming {
		t.Error("assistant still streaming after cancellation")
	}
}

func TestToolIndicatorLifecycle(t *testing.T) {
	var duringCall, afterToken *ToolCallState
	var session *ChatSession
	streamer := &fakeStreamer{script: func(h StreamHandlers) error {
		h.OnToolCall(ToolCallEvent{Name: "web_search"})
		duringCall = session.ToolCall()
		h.OnToken("answer")
		afterToken = session.ToolCall()
		h.OnDone(DonePayload{ConversationID: "conv-1"})
		return nil
	}}
	session = newTestSession(streamer)

	if err := session.SendMessage(context.Background(), "q", SendOptions{}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if duringCall == nil || duringCall.Name != "web_search" || duringCall.Status != ToolStatusCalling {
		t.Errorf("indicator during call = %+v, want web_search/calling", duringCall)
	}
	if afterToken != nil {
		t.Errorf("indicator after first token = %+v, want nil", afterToken)
	}
}

func TestFallbackSourcesFromToolOutput(t *testing.T) {
	streamer := &fakeStreamer{script: func(h StreamHandlers) error {
		h.OnToolCall(ToolCallEvent{Name: "library_search"})
		h.OnToolResult(ToolResultEvent{Raw: `[Source 1: document_id=15 (page 2)] "relevant excerpt"`})
		h.OnToken("The answer [cite:1].")
		h.OnDone(DonePayload{ConversationID: "conv-1"})
		return nil
	}}
	session := newTestSession(streamer)

	if err := session.SendMessage(context.Background(), "q", SendOptions{}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	assistant := session.Messages()[1]
	if len(assistant.Sources) != 1 {
		t.Fatalf("got %d sources, want 1", len(assistant.Sources))
	}
	lib, ok := assistant.Sources[0].(LibraryCitation)
	if !ok {
		t.Fatalf("source type = %T, want LibraryCitation", assistant.Sources[0])
	}
	if lib.FileID != 15 {
		t.Errorf("FileID = %d, want 15", lib.FileID)
	}
}

func TestAuthoritativeSourcesWin(t *testing.T) {
	auth := []Citation{WebCitation{CitationID: "web-1", SourceType: SourceTypeWeb, Title: "Hit"}}
	streamer := &fakeStreamer{script: func(h StreamHandlers) error {
		h.OnToolResult(ToolResultEvent{Raw: `[Source 1: document_id=15] "excerpt"`})
		h.OnToken("answer [cite:1]")
		h.OnDone(DonePayload{ConversationID: "conv-1", Sources: auth})
		return nil
	}}
	session := newTestSession(streamer)

	if err := session.SendMessage(context.Background(), "q", SendOptions{}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	sources := session.Messages()[1].Sources
	if len(sources) != 1 || sources[0].ID() != "web-1" {
		t.Errorf("sources = %v, want the authoritative web citation", sources)
	}
}

func TestEditMessage(t *testing.T) {
	history := []Message{
		serverMsg(1, RoleUser, "original question"),
		serverMsg(2, RoleAssistant, "original answer"),
		serverMsg(3, RoleUser, "followup"),
		serverMsg(4, RoleAssistant, "followup answer"),
	}
	streamer := &fakeStreamer{script: func(h StreamHandlers) error {
		h.OnToken("revised answer")
		h.OnDone(DonePayload{ConversationID: "conv-1"})
		return nil
	}}
	session := newTestSession(streamer,
		WithConversationID("conv-1"),
		WithHistory(history),
	)

	if err := session.EditMessage(context.Background(), 1, "better question"); err != nil {
		t.Fatalf("EditMessage() error = %v", err)
	}

	if len(streamer.editReqs) != 1 {
		t.Fatalf("got %d edit requests, want 1", len(streamer.editReqs))
	}
	req := streamer.editReqs[0]
	if req.MessageID != 1 || req.ConversationID != "conv-1" || req.Message != "better question" {
		t.Errorf("edit request = %+v", req)
	}

	msgs := session.Messages()
	if len(msgs) != 2 {
		t.Fatalf("transcript has %d messages after edit, want 2", len(msgs))
	}
	if msgs[0].Content != "better question" {
		t.Errorf("edited content = %q", msgs[0].Content)
	}
	if msgs[0].ServerID == nil || *msgs[0].ServerID != 1 {
		t.Errorf("edited message lost its server ID: %v", msgs[0].ServerID)
	}
	if msgs[1].Content != "revised answer" {
		t.Errorf("new assistant content = %q", msgs[1].Content)
	}
}

func TestRegenerateMessage(t *testing.T) {
	history := []Message{
		serverMsg(1, RoleUser, "question"),
		serverMsg(2, RoleAssistant, "weak answer"),
	}
	streamer := &fakeStreamer{script: func(h StreamHandlers) error {
		h.OnToken("stronger answer")
		h.OnDone(DonePayload{ConversationID: "conv-1"})
		return nil
	}}
	session := newTestSession(streamer,
		WithConversationID("conv-1"),
		WithHistory(history),
	)

	if err := session.RegenerateMessage(context.Background(), 2); err != nil {
		t.Fatalf("RegenerateMessage() error = %v", err)
	}

	if len(streamer.regenReqs) != 1 {
		t.Fatalf("got %d regenerate requests, want 1", len(streamer.regenReqs))
	}
	if req := streamer.regenReqs[0]; req.MessageID != 2 || req.ConversationID != "conv-1" {
		t.Errorf("regenerate request = %+v", req)
	}

	msgs := session.Messages()
	if len(msgs) != 2 {
		t.Fatalf("transcript has %d messages, want 2", len(msgs))
	}
	if msgs[1].Content != "stronger answer" {
		t.Errorf("regenerated content = %q", msgs[1].Content)
	}
}

func TestEditAndRegenerateGuards(t *testing.T) {
	streamer := &fakeStreamer{script: func(h StreamHandlers) error {
		t.Error("streamer invoked despite guard")
		return nil
	}}

	t.Run("no conversation yet", func(t *testing.T) {
		session := newTestSession(streamer)
		if err := session.EditMessage(context.Background(), 1, "x"); err != nil {
			t.Errorf("EditMessage() error = %v, want silent no-op", err)
		}
		if err := session.RegenerateMessage(context.Background(), 1); err != nil {
			t.Errorf("RegenerateMessage() error = %v, want silent no-op", err)
		}
	})

	t.Run("unknown server id", func(t *testing.T) {
		session := newTestSession(streamer,
			WithConversationID("conv-1"),
			WithHistory([]Message{serverMsg(1, RoleUser, "q")}),
		)
		if err := session.EditMessage(context.Background(), 99, "x"); err != nil {
			t.Errorf("EditMessage() error = %v, want silent no-op", err)
		}
		if got := len(session.Messages()); got != 1 {
			t.Errorf("transcript mutated by guarded edit: %d messages", got)
		}
	})
}

func TestStopStreaming(t *testing.T) {
	started := make(chan struct{})
	streamer := &fakeStreamer{script: func(h StreamHandlers) error {
		h.OnToken("partial out")
		close(started)
		return nil
	}}
	session := newTestSession(streamer)

	// Drive the turn synchronously up to the token, then stop. The fake
	// returns immediately, so stop afterward exercises the settle path on an
	// already-finalized transcript too.
	if err := session.SendMessage(context.Background(), "q", SendOptions{}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	<-started
	session.StopStreaming()

	assistant := session.Messages()[1]
	if assistant.Content != "partial out" {
		t.Errorf("assistant content = %q, want partial kept", assistant.Content)
	}
	if session.Err() != nil {
		t.Errorf("Err() = %v, want nil after stop", session.Err())
	}
	if session.IsStreaming() {
		t.Error("IsStreaming() = true after stop")
	}
}

// sequenceStreamer runs a different script per chat call and hands the turn
// context through, so a call can play a transport stuck in a read.
type sequenceStreamer struct {
	calls   int
	scripts []func(ctx context.Context, h StreamHandlers) error
}

func (f *sequenceStreamer) StreamChat(ctx context.Context, req ChatStreamRequest, h StreamHandlers) error {
	script := f.scripts[f.calls]
	f.calls++
	return script(ctx, h)
}

func (f *sequenceStreamer) StreamEdit(ctx context.Context, req EditStreamRequest, h StreamHandlers) error {
	return errors.New("unexpected edit call")
}

func (f *sequenceStreamer) StreamRegenerate(ctx context.Context, req RegenerateStreamRequest, h StreamHandlers) error {
	return errors.New("unexpected regenerate call")
}

func TestStopThenSendKeepsNewTurn(t *testing.T) {
	aiID := 31
	firstStarted := make(chan struct{})
	release := make(chan struct{})
	firstReturned := make(chan error, 1)

	var firstErr error
	streamer := &sequenceStreamer{scripts: []func(ctx context.Context, h StreamHandlers) error{
		func(ctx context.Context, h StreamHandlers) error {
			close(firstStarted)
			// Stay parked past cancellation, like a transport stuck in a
			// blocking read, and only unwind once the next turn is streaming.
			<-release
			return ctx.Err()
		},
		func(ctx context.Context, h StreamHandlers) error {
			h.OnToken("second ")
			close(release)
			firstErr = <-firstReturned
			h.OnToken("answer")
			h.OnDone(DonePayload{ConversationID: "conv-9", AIMessageID: &aiID})
			return nil
		},
	}}
	session := newTestSession(streamer)

	go func() {
		firstReturned <- session.SendMessage(context.Background(), "first", SendOptions{})
	}()
	<-firstStarted
	session.StopStreaming()

	if err := session.SendMessage(context.Background(), "second", SendOptions{}); err != nil {
		t.Fatalf("second SendMessage() error = %v", err)
	}
	if firstErr != nil {
		t.Errorf("first SendMessage() error = %v, want nil after stop", firstErr)
	}

	msgs := session.Messages()
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	stopped := msgs[1]
	if stopped.IsStreaming || stopped.Content != "" {
		t.Errorf("stopped placeholder = %+v, want settled and empty", stopped)
	}
	assistant := msgs[3]
	if assistant.Content != "second answer" {
		t.Errorf("assistant content = %q, want %q", assistant.Content, "second answer")
	}
	if assistant.IsStreaming {
		t.Error("assistant still marked streaming after done")
	}
	if assistant.ServerID == nil || *assistant.ServerID != aiID {
		t.Errorf("assistant ServerID = %v, want %d", assistant.ServerID, aiID)
	}
	if session.IsStreaming() {
		t.Error("IsStreaming() = true after settled turn")
	}
	if err := session.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	if session.ConversationID() != "conv-9" {
		t.Errorf("ConversationID() = %q, want conv-9", session.ConversationID())
	}
}

func TestReset(t *testing.T) {
	streamer := &fakeStreamer{script: func(h StreamHandlers) error {
		h.OnError("boom")
		return nil
	}}
	session := newTestSession(streamer)
	if err := session.SendMessage(context.Background(), "q", SendOptions{}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if session.Err() == nil {
		t.Fatal("expected a recorded error before reset")
	}

	history := []Message{serverMsg(7, RoleUser, "loaded")}
	if err := session.Reset("conv-9", history); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if session.ConversationID() != "conv-9" {
		t.Errorf("ConversationID() = %q, want conv-9", session.ConversationID())
	}
	if session.Err() != nil {
		t.Errorf("Err() = %v, want cleared", session.Err())
	}
	msgs := session.Messages()
	if len(msgs) != 1 || msgs[0].Content != "loaded" {
		t.Errorf("transcript after reset = %+v", msgs)
	}
}

func serverMsg(serverID int, role, content string) Message {
	id := serverID
	return Message{
		ID:       fmt.Sprintf("%d", serverID),
		ServerID: &id,
		Role:     role,
		Content:  content,
	}
}
