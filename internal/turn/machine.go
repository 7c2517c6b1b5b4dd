package turn

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mvaleev/reelchat/internal/convstore"
	"github.com/mvaleev/reelchat/internal/domain"
	"github.com/mvaleev/reelchat/internal/identity"
)

// ErrTurnInProgress is returned when a turn is started while another one is
// still in flight. The rejected call must not mutate any state.
var ErrTurnInProgress = errors.New("turn in progress")

// Renderer converts raw assistant markdown into its final rendered form at
// finalization time.
type Renderer interface {
	Render(raw string) (string, error)
}

// Machine tracks the phase of the single in-flight turn and reconciles
// streamed events into the store.
//
// The turn-scoped thinking and response accumulators are the source of truth:
// store updates always SET content from the accumulator rather than appending,
// so replayed chunk or terminal events cannot duplicate content. The
// provisional assistant message is created exactly once, on the first
// content-bearing event (thinking_end or the first response_chunk), and is
// rewritten in place on finalization.
type Machine struct {
	store    *convstore.Store
	renderer Renderer
	logger   *slog.Logger

	mu             sync.Mutex
	phase          Phase
	conversationID string
	pendingUser    *domain.Message // optimistic first message of a new conversation
	provisionalID  string          // in-progress assistant message, "" until created
	thinkingStart  time.Time
	thinkingEnd    time.Time
	thinking       strings.Builder
	response       strings.Builder
	failure        string
}

// NewMachine creates a machine bound to a store. The renderer may be nil, in
// which case finalized content stays raw.
func NewMachine(store *convstore.Store, renderer Renderer, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		store:    store,
		renderer: renderer,
		logger:   logger,
	}
}

// Phase returns the current turn phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// ConversationID returns the conversation the current (or last) turn belongs
// to. Empty for a new conversation whose id has not arrived yet.
func (m *Machine) ConversationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationID
}

// Failure returns the recorded failure reason of the last turn, if any.
func (m *Machine) Failure() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

// Begin starts a turn. For a new conversation, conversationID is empty and
// pendingUser carries the optimistic user message that will be materialized
// by ConversationStarted. For an existing conversation the caller has already
// appended the user message to the store.
func (m *Machine) Begin(conversationID string, pendingUser *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase.Active() {
		return ErrTurnInProgress
	}
	m.resetLocked()
	m.phase = PhaseAwaitingStart
	m.conversationID = conversationID
	m.pendingUser = pendingUser
	return nil
}

// BeginResume starts a turn that re-attaches to an existing conversation.
// No optimistic message is involved.
func (m *Machine) BeginResume(conversationID string) error {
	return m.Begin(conversationID, nil)
}

// resetLocked clears all turn-scoped state, including the provisional
// identity mapping of the previous turn.
func (m *Machine) resetLocked() {
	m.conversationID = ""
	m.pendingUser = nil
	m.provisionalID = ""
	m.thinkingStart = time.Time{}
	m.thinkingEnd = time.Time{}
	m.thinking.Reset()
	m.response.Reset()
	m.failure = ""
}

// ConversationStarted performs the first reconciliation for a new
// conversation: the optimistic user message is materialized into a brand-new
// conversation record under the server-assigned id.
func (m *Machine) ConversationStarted(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		m.logger.Warn("conversation_started without id, dropping")
		return
	}
	if !m.phase.Active() {
		m.logger.Warn("conversation_started outside an active turn", "conversation_id", id)
		return
	}
	m.conversationID = id
	if m.pendingUser != nil {
		m.store.CreateConversation(id, *m.pendingUser)
		m.pendingUser = nil
	}
}

// ThinkingStart opens the thinking phase.
func (m *Machine) ThinkingStart() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseAwaitingStart {
		m.logger.Warn("thinking_start in unexpected phase", "phase", m.phase.String())
		return
	}
	m.phase = PhaseThinking
	m.thinkingStart = time.Now()
}

// ThinkingChunk accumulates a fragment of the thinking trace.
func (m *Machine) ThinkingChunk(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseThinking {
		m.logger.Warn("thinking_chunk in unexpected phase", "phase", m.phase.String())
		return
	}
	m.thinking.WriteString(text)
}

// ThinkingEnd freezes the thinking trace and elapsed thinking time, creates
// the provisional assistant message, and moves to the streaming phase. A
// redundant thinking_end after the transition is ignored.
func (m *Machine) ThinkingEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseThinking {
		m.logger.Warn("thinking_end in unexpected phase", "phase", m.phase.String())
		return
	}
	m.thinkingEnd = time.Now()
	m.phase = PhaseStreaming
	m.ensureStreamingMessageLocked()
}

// ResponseChunk appends a fragment of the final answer. Arriving without a
// preceding thinking_end (or without any thinking phase at all) it performs
// the defensive transition into streaming.
func (m *Machine) ResponseChunk(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case PhaseStreaming:
		// normal append
	case PhaseThinking:
		// Turn skipped thinking_end; freeze thinking here.
		m.thinkingEnd = time.Now()
		m.phase = PhaseStreaming
	case PhaseAwaitingStart:
		// Turn had no thinking phase.
		m.phase = PhaseStreaming
	default:
		m.logger.Warn("response_chunk in unexpected phase", "phase", m.phase.String())
		return
	}

	m.ensureStreamingMessageLocked()
	m.response.WriteString(text)
	raw := m.response.String()
	m.store.UpdateMessageContent(m.conversationID, m.provisionalID, raw, raw)
}

// ResponseDone finalizes the turn. It is idempotent: a duplicate terminal
// event neither appends content twice nor creates a second message. A
// response_done with no preceding content-bearing event does not create a
// message at all; the turn simply completes empty.
func (m *Machine) ResponseDone() {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case PhaseDone, PhaseFailed:
		m.logger.Debug("duplicate response_done ignored", "phase", m.phase.String())
		return
	case PhaseIdle:
		m.logger.Warn("response_done without a turn in flight")
		return
	}

	if m.provisionalID != "" {
		m.finalizeLocked()
	} else {
		m.logger.Warn("response_done with no streamed content", "conversation_id", m.conversationID)
	}
	m.phase = PhaseDone
	m.provisionalID = ""
}

// Fail terminates the turn on an inbound error or transport loss. The
// in-progress message, if one was created, is finalized with whatever partial
// content exists. Calling Fail with no turn in flight is a no-op.
func (m *Machine) Fail(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.phase.Active() {
		return
	}
	if m.provisionalID != "" {
		m.finalizeLocked()
	}
	m.failure = reason
	m.phase = PhaseFailed
	m.provisionalID = ""
	m.logger.Warn("turn failed", "conversation_id", m.conversationID, "reason", reason)
}

// ensureStreamingMessageLocked creates the provisional assistant message the
// first time a content-bearing event arrives; later calls find it already
// present and do nothing.
func (m *Machine) ensureStreamingMessageLocked() {
	if m.provisionalID != "" {
		return
	}
	m.provisionalID = identity.NewProvisionalID()
	m.store.AddMessage(m.conversationID, domain.Message{
		ID:        m.provisionalID,
		Role:      domain.RoleAssistant,
		Thinking:  m.thinking.String(),
		CreatedAt: time.Now(),
	})
}

// finalizeLocked rewrites the in-progress message in place with the
// accumulated content, the frozen thinking trace, and the computed thinking
// duration.
func (m *Machine) finalizeLocked() {
	raw := m.response.String()
	content := raw
	if m.renderer != nil {
		rendered, err := m.renderer.Render(raw)
		if err != nil {
			m.logger.Warn("render failed, keeping raw content", "error", err)
		} else {
			content = rendered
		}
	}
	m.store.UpdateMessageWithThinking(
		m.conversationID, m.provisionalID,
		content, raw,
		m.thinking.String(), m.thinkingDurationLocked(),
	)
}

// thinkingDurationLocked computes thinking_end minus thinking_start in seconds,
// or nil when the turn had no thinking phase.
func (m *Machine) thinkingDurationLocked() *float64 {
	if m.thinkingStart.IsZero() || m.thinkingEnd.IsZero() {
		return nil
	}
	secs := m.thinkingEnd.Sub(m.thinkingStart).Seconds()
	return &secs
}
