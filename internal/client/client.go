// Package client implements the conversation client engine: it wires the
// transport session, event dispatcher, turn machine, and conversation store
// into one consumer-facing API.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mvaleev/reelchat/internal/convstore"
	"github.com/mvaleev/reelchat/internal/dispatch"
	"github.com/mvaleev/reelchat/internal/domain"
	"github.com/mvaleev/reelchat/internal/identity"
	"github.com/mvaleev/reelchat/internal/protocol"
	"github.com/mvaleev/reelchat/internal/transport"
	"github.com/mvaleev/reelchat/internal/turn"
)

// ErrNotConnected is returned when a turn is started without a usable
// connection.
var ErrNotConnected = errors.New("not connected")

// ErrEmptyMessage is returned when a turn is started with no text.
var ErrEmptyMessage = errors.New("empty message")

// NotifyLevel classifies user-visible notifications.
type NotifyLevel int

const (
	// NotifyInfo is an informational notice.
	NotifyInfo NotifyLevel = iota
	// NotifyWarning is a recoverable problem (transport loss, protocol
	// violation surfaced as recoverable).
	NotifyWarning
	// NotifyError is an application error reported by the backend.
	NotifyError
)

// NotifyFunc receives user-visible notifications. Transport and protocol
// errors are absorbed below this layer; only application-meaningful failures
// arrive here.
type NotifyFunc func(level NotifyLevel, message string)

// Sender is the outbound half of the transport session the engine depends on.
type Sender interface {
	Send(req protocol.Request) bool
}

// Client is the conversation client engine. One active turn per client: a
// second StartTurn while a turn is in flight is rejected without mutating
// state.
type Client struct {
	session *transport.Session
	sender  Sender
	store   *convstore.Store
	machine *turn.Machine
	api     *API
	notify  NotifyFunc
	logger  *slog.Logger

	mu            sync.Mutex
	expectResumed string // conversation id a conversation_resumed must carry
}

// Config collects the engine's collaborators.
type Config struct {
	Session *transport.Session
	Store   *convstore.Store
	Machine *turn.Machine
	API     *API
	Notify  NotifyFunc
	Logger  *slog.Logger
}

// New creates the engine and registers its event listeners on the session's
// dispatcher. Events for one connection arrive in order and are handled to
// completion before the next one, so no locking is needed across handlers
// beyond what the machine and store provide.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notify := cfg.Notify
	if notify == nil {
		notify = func(NotifyLevel, string) {}
	}

	c := &Client{
		session: cfg.Session,
		sender:  cfg.Session,
		store:   cfg.Store,
		machine: cfg.Machine,
		api:     cfg.API,
		notify:  notify,
		logger:  logger,
	}
	c.registerListeners(cfg.Session.AddListener)
	return c
}

// registerListeners binds each inbound event kind to its handler.
func (c *Client) registerListeners(add func(protocol.EventKind, dispatch.Handler) dispatch.ListenerID) {
	add(protocol.EventConnected, func(protocol.Event) {
		c.logger.Info("server acknowledged connection")
	})
	add(protocol.EventDisconnected, c.onDisconnected)
	add(protocol.EventConversationStarted, c.onConversationStarted)
	add(protocol.EventConversationResumed, c.onConversationResumed)
	add(protocol.EventThinkingStart, func(protocol.Event) { c.machine.ThinkingStart() })
	add(protocol.EventThinkingChunk, func(evt protocol.Event) { c.machine.ThinkingChunk(evt.Text) })
	add(protocol.EventThinkingEnd, func(protocol.Event) { c.machine.ThinkingEnd() })
	add(protocol.EventResponseChunk, func(evt protocol.Event) { c.machine.ResponseChunk(evt.Text) })
	add(protocol.EventResponseDone, func(protocol.Event) { c.machine.ResponseDone() })
	add(protocol.EventError, c.onError)
}

// Connect establishes the duplex connection. Idempotent.
func (c *Client) Connect(ctx context.Context) bool {
	return c.session.Connect(ctx)
}

// Disconnect releases the connection; any in-flight turn fails via the
// resulting disconnected event.
func (c *Client) Disconnect() {
	c.session.Disconnect()
}

// Store exposes the conversation state for read-only observers.
func (c *Client) Store() *convstore.Store {
	return c.store
}

// Phase returns the current turn phase.
func (c *Client) Phase() turn.Phase {
	return c.machine.Phase()
}

// StartTurn sends the next user turn. With a conversation selected it sends
// send_message and appends the user message optimistically; with none it
// sends start_conversation, and the user message is held back until
// conversation_started assigns an id.
func (c *Client) StartTurn(text string) error {
	if text == "" {
		return ErrEmptyMessage
	}

	userMsg := domain.Message{
		ID:         identity.NewProvisionalID(),
		Role:       domain.RoleUser,
		Content:    text,
		RawContent: text,
		CreatedAt:  time.Now(),
	}

	selected := c.store.Selected()
	if selected == "" {
		if err := c.machine.Begin("", &userMsg); err != nil {
			return err
		}
		if !c.sender.Send(protocol.Request{Kind: protocol.RequestStartConversation, Text: text}) {
			c.machine.Fail("send failed")
			return ErrNotConnected
		}
		return nil
	}

	if err := c.machine.Begin(selected, nil); err != nil {
		return err
	}
	c.store.AddMessage(selected, userMsg)
	if !c.sender.Send(protocol.Request{
		Kind:           protocol.RequestSendMessage,
		ConversationID: selected,
		Text:           text,
	}) {
		c.machine.Fail("send failed")
		return ErrNotConnected
	}
	return nil
}

// ResumeTurn re-attaches to an existing conversation, e.g. after a reload.
// The matching conversation_resumed event is informational only.
func (c *Client) ResumeTurn(conversationID string) error {
	if err := c.machine.BeginResume(conversationID); err != nil {
		return err
	}
	c.mu.Lock()
	c.expectResumed = conversationID
	c.mu.Unlock()

	if !c.sender.Send(protocol.Request{
		Kind:           protocol.RequestResumeConversation,
		ConversationID: conversationID,
	}) {
		c.machine.Fail("send failed")
		return ErrNotConnected
	}
	return nil
}

func (c *Client) onConversationStarted(evt protocol.Event) {
	if evt.ConversationID == "" {
		c.logger.Warn("conversation_started without id, dropping")
		return
	}
	c.machine.ConversationStarted(evt.ConversationID)
}

// onConversationResumed verifies the acknowledgment matches what was
// requested. A missing or mismatched id is a protocol violation surfaced as a
// recoverable notification, never a crash.
func (c *Client) onConversationResumed(evt protocol.Event) {
	c.mu.Lock()
	expected := c.expectResumed
	c.expectResumed = ""
	c.mu.Unlock()

	if evt.ConversationID == "" || (expected != "" && evt.ConversationID != expected) {
		c.logger.Warn("conversation_resumed id mismatch",
			"expected", expected, "got", evt.ConversationID)
		c.notify(NotifyWarning, "conversation resume acknowledgment did not match")
		return
	}
	c.logger.Info("conversation resumed", "conversation_id", evt.ConversationID)
}

func (c *Client) onDisconnected(protocol.Event) {
	if c.machine.Phase().Active() {
		c.machine.Fail("connection lost")
		c.notify(NotifyWarning, "connection lost, turn aborted")
		return
	}
	c.logger.Info("disconnected")
}

func (c *Client) onError(evt protocol.Event) {
	c.machine.Fail(evt.Message)
	c.notify(NotifyError, evt.Message)
}

// RefreshConversations fetches the conversation list and replaces the store's
// summaries with it. Messages are loaded lazily by OpenConversation.
func (c *Client) RefreshConversations(ctx context.Context) error {
	convs, err := c.api.List(ctx)
	if err != nil {
		return err
	}
	for _, conv := range convs {
		if _, ok := c.store.Conversation(conv.ID); !ok {
			c.store.PutConversation(conv)
		}
	}
	return nil
}

// OpenConversation fetches a conversation's full history and selects it. A
// not-found answer is non-fatal by contract: the selection is cleared and
// ErrNotFound returned without raising a user-visible error.
func (c *Client) OpenConversation(ctx context.Context, id string) error {
	conv, err := c.api.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.store.ClearSelection()
			return ErrNotFound
		}
		c.notify(NotifyError, "failed to load conversation")
		return err
	}
	c.store.PutConversation(*conv)
	c.store.Select(conv.ID)
	return nil
}

// DeleteConversation removes a conversation on the server and locally.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	if err := c.api.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	c.store.DeleteConversation(id)
	return nil
}
