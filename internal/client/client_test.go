package client

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/mvaleev/reelchat/internal/convstore"
	"github.com/mvaleev/reelchat/internal/dispatch"
	"github.com/mvaleev/reelchat/internal/domain"
	"github.com/mvaleev/reelchat/internal/protocol"
	"github.com/mvaleev/reelchat/internal/transport"
	"github.com/mvaleev/reelchat/internal/turn"
)

type fakeSender struct {
	sent      []protocol.Request
	connected bool
}

func (f *fakeSender) Send(req protocol.Request) bool {
	if !f.connected {
		return false
	}
	f.sent = append(f.sent, req)
	return true
}

type notification struct {
	level   NotifyLevel
	message string
}

type testEngine struct {
	client     *Client
	sender     *fakeSender
	store      *convstore.Store
	dispatcher *dispatch.Dispatcher
	notices    *[]notification
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	logger := slog.Default()
	dispatcher := dispatch.New(logger)
	session := transport.NewSession("ws://unused", dispatcher, logger)
	store := convstore.New(logger)
	machine := turn.NewMachine(store, nil, logger)

	var notices []notification
	c := New(Config{
		Session: session,
		Store:   store,
		Machine: machine,
		API:     NewAPI("http://unused"),
		Logger:  logger,
		Notify: func(level NotifyLevel, message string) {
			notices = append(notices, notification{level, message})
		},
	})

	sender := &fakeSender{connected: true}
	c.sender = sender
	return &testEngine{
		client:     c,
		sender:     sender,
		store:      store,
		dispatcher: dispatcher,
		notices:    &notices,
	}
}

func (e *testEngine) emit(evt protocol.Event) {
	e.dispatcher.Dispatch(evt)
}

func TestStartTurnNewConversationFlow(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	if err := e.client.StartTurn("Recommend a sci-fi movie"); err != nil {
		t.Fatalf("StartTurn failed: %v", err)
	}

	if len(e.sender.sent) != 1 || e.sender.sent[0].Kind != protocol.RequestStartConversation {
		t.Fatalf("expected a start_conversation request, got %+v", e.sender.sent)
	}
	if e.sender.sent[0].Text != "Recommend a sci-fi movie" {
		t.Errorf("unexpected request text: %q", e.sender.sent[0].Text)
	}
	// The user message is held back until the server assigns an id.
	if len(e.store.Conversations()) != 0 {
		t.Fatal("expected no conversation before conversation_started")
	}

	e.emit(protocol.Event{Kind: protocol.EventConversationStarted, ConversationID: "conv_1"})
	e.emit(protocol.Event{Kind: protocol.EventThinkingStart})
	e.emit(protocol.Event{Kind: protocol.EventThinkingChunk, Text: "scanning catalog "})
	e.emit(protocol.Event{Kind: protocol.EventThinkingEnd})
	e.emit(protocol.Event{Kind: protocol.EventResponseChunk, Text: "Try **Arrival**"})
	e.emit(protocol.Event{Kind: protocol.EventResponseChunk, Text: " (2016)."})
	e.emit(protocol.Event{Kind: protocol.EventResponseDone})

	if got := e.client.Phase(); got != turn.PhaseDone {
		t.Fatalf("expected done phase, got %s", got)
	}
	msgs := e.store.Messages("conv_1")
	if len(msgs) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(msgs))
	}
	if msgs[0].RawContent != "Recommend a sci-fi movie" {
		t.Errorf("unexpected user message: %q", msgs[0].RawContent)
	}
	if msgs[1].RawContent != "Try **Arrival** (2016)." {
		t.Errorf("unexpected assistant message: %q", msgs[1].RawContent)
	}
	if msgs[1].Thinking != "scanning catalog " {
		t.Errorf("unexpected thinking trace: %q", msgs[1].Thinking)
	}
	if e.store.Selected() != "conv_1" {
		t.Errorf("expected the new conversation to be selected, got %q", e.store.Selected())
	}
}

func TestStartTurnExistingConversationAppendsOptimistically(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.store.CreateConversation("conv_1", domain.Message{
		ID: "local-seed", Role: domain.RoleUser, RawContent: "first", Content: "first",
	})

	if err := e.client.StartTurn("and something funny?"); err != nil {
		t.Fatalf("StartTurn failed: %v", err)
	}
	if len(e.sender.sent) != 1 || e.sender.sent[0].Kind != protocol.RequestSendMessage {
		t.Fatalf("expected a send_message request, got %+v", e.sender.sent)
	}
	if e.sender.sent[0].ConversationID != "conv_1" {
		t.Errorf("unexpected conversation id: %q", e.sender.sent[0].ConversationID)
	}

	msgs := e.store.Messages("conv_1")
	if len(msgs) != 2 {
		t.Fatalf("expected optimistic user message, got %d messages", len(msgs))
	}
	if msgs[1].RawContent != "and something funny?" {
		t.Errorf("unexpected optimistic message: %q", msgs[1].RawContent)
	}
}

func TestStartTurnEmptyMessage(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	if err := e.client.StartTurn(""); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestStartTurnWhileSendFails(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.sender.connected = false

	if err := e.client.StartTurn("hello"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if got := e.client.Phase(); got != turn.PhaseFailed {
		t.Errorf("expected failed phase after send failure, got %s", got)
	}
	// A new turn is allowed afterwards.
	e.sender.connected = true
	if err := e.client.StartTurn("hello again"); err != nil {
		t.Errorf("expected turn to start after recovery, got %v", err)
	}
}

func TestSecondTurnWhileActiveIsRejected(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	if err := e.client.StartTurn("first"); err != nil {
		t.Fatalf("StartTurn failed: %v", err)
	}
	if err := e.client.StartTurn("second"); !errors.Is(err, turn.ErrTurnInProgress) {
		t.Fatalf("expected ErrTurnInProgress, got %v", err)
	}
	if len(e.sender.sent) != 1 {
		t.Errorf("rejected turn sent a request: %+v", e.sender.sent)
	}
}

func TestErrorEventFailsTurnAndNotifies(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	if err := e.client.StartTurn("hello"); err != nil {
		t.Fatalf("StartTurn failed: %v", err)
	}
	e.emit(protocol.Event{Kind: protocol.EventConversationStarted, ConversationID: "conv_1"})
	e.emit(protocol.Event{Kind: protocol.EventError, Message: "agent failed: overloaded"})

	if got := e.client.Phase(); got != turn.PhaseFailed {
		t.Fatalf("expected failed phase, got %s", got)
	}
	if len(*e.notices) != 1 || (*e.notices)[0].level != NotifyError {
		t.Fatalf("expected one error notification, got %+v", *e.notices)
	}
}

func TestDisconnectMidStreamKeepsPartialMessage(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	if err := e.client.StartTurn("hello"); err != nil {
		t.Fatalf("StartTurn failed: %v", err)
	}
	e.emit(protocol.Event{Kind: protocol.EventConversationStarted, ConversationID: "conv_1"})
	e.emit(protocol.Event{Kind: protocol.EventThinkingStart})
	e.emit(protocol.Event{Kind: protocol.EventThinkingEnd})
	e.emit(protocol.Event{Kind: protocol.EventResponseChunk, Text: "partial"})
	e.emit(protocol.Event{Kind: protocol.EventDisconnected})

	if got := e.client.Phase(); got != turn.PhaseFailed {
		t.Fatalf("expected failed phase, got %s", got)
	}
	msgs := e.store.Messages("conv_1")
	if len(msgs) != 2 || msgs[1].RawContent != "partial" {
		t.Fatalf("expected the partial assistant message to survive, got %+v", msgs)
	}
	if len(*e.notices) != 1 || (*e.notices)[0].level != NotifyWarning {
		t.Errorf("expected a warning notification, got %+v", *e.notices)
	}
}

func TestDisconnectedWhileIdleIsQuiet(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.emit(protocol.Event{Kind: protocol.EventDisconnected})

	if len(*e.notices) != 0 {
		t.Errorf("expected no notification for an idle disconnect, got %+v", *e.notices)
	}
}

func TestResumeAcknowledgmentMismatchWarns(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	if err := e.client.ResumeTurn("conv_1"); err != nil {
		t.Fatalf("ResumeTurn failed: %v", err)
	}
	if len(e.sender.sent) != 1 || e.sender.sent[0].Kind != protocol.RequestResumeConversation {
		t.Fatalf("expected a resume_conversation request, got %+v", e.sender.sent)
	}

	e.emit(protocol.Event{Kind: protocol.EventConversationResumed, ConversationID: "conv_other"})

	if len(*e.notices) != 1 || (*e.notices)[0].level != NotifyWarning {
		t.Fatalf("expected a warning for the id mismatch, got %+v", *e.notices)
	}
}

func TestResumeAcknowledgmentMatchIsQuiet(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	if err := e.client.ResumeTurn("conv_1"); err != nil {
		t.Fatalf("ResumeTurn failed: %v", err)
	}
	e.emit(protocol.Event{Kind: protocol.EventConversationResumed, ConversationID: "conv_1"})

	if len(*e.notices) != 0 {
		t.Errorf("expected no notification for a matching resume, got %+v", *e.notices)
	}
}

func TestDuplicateResponseDoneViaEvents(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	if err := e.client.StartTurn("hello"); err != nil {
		t.Fatalf("StartTurn failed: %v", err)
	}
	e.emit(protocol.Event{Kind: protocol.EventConversationStarted, ConversationID: "conv_1"})
	e.emit(protocol.Event{Kind: protocol.EventResponseChunk, Text: "answer"})
	e.emit(protocol.Event{Kind: protocol.EventResponseDone})
	e.emit(protocol.Event{Kind: protocol.EventResponseDone})

	msgs := e.store.Messages("conv_1")
	if len(msgs) != 2 {
		t.Fatalf("duplicate response_done created a message: %d total", len(msgs))
	}
	if msgs[1].RawContent != "answer" {
		t.Errorf("duplicate response_done changed content: %q", msgs[1].RawContent)
	}
}
