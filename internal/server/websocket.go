// Package server implements the gateway side of the streaming conversation
// protocol: the WebSocket endpoint that runs turns against the turn pipeline,
// and the REST API for conversation listing, detail, and deletion.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/mvaleev/reelchat/internal/domain"
	"github.com/mvaleev/reelchat/internal/identity"
	"github.com/mvaleev/reelchat/internal/pipeline"
	"github.com/mvaleev/reelchat/internal/protocol"
	"github.com/mvaleev/reelchat/internal/render"
	"github.com/mvaleev/reelchat/internal/store"
)

// writeTimeout bounds every outbound event write.
const writeTimeout = 10 * time.Second

// WebSocketHandler serves the streaming conversation endpoint.
type WebSocketHandler struct {
	repo          store.Repository
	pipe          pipeline.TurnPipeline
	renderer      *render.Renderer
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(repo store.Repository, pipe pipeline.TurnPipeline, renderer *render.Renderer, allowedOrigin string, isDev bool, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		repo:          repo,
		pipe:          pipe,
		renderer:      renderer,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// wsConn serializes writes to one connection so turn streaming and protocol
// acknowledgments cannot interleave bytes.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeEvent(evt protocol.Event) error {
	data, err := evt.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("failed to close websocket", "error", closeErr)
		}
	}()

	conn := &wsConn{conn: ws}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.writeEvent(protocol.Event{Kind: protocol.EventConnected}); err != nil {
		h.logger.Warn("failed to send connected event", "error", err)
		return
	}

	h.requestLoop(ctx, conn)
	h.logger.Info("conversation session ended", "ip", r.RemoteAddr)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// requestLoop reads client requests and runs them to completion one at a
// time. Turns execute synchronously on this loop, so events for one
// connection are emitted in order and only one turn is ever in flight.
func (h *WebSocketHandler) requestLoop(ctx context.Context, conn *wsConn) {
	for {
		_, data, err := conn.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client")
			} else {
				h.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		req, err := protocol.DecodeRequest(data)
		if err != nil {
			h.logger.Warn("dropping malformed request", "error", err)
			h.sendError(conn, "malformed request")
			continue
		}

		switch req.Kind {
		case protocol.RequestStartConversation:
			h.handleStartConversation(ctx, conn, req)
		case protocol.RequestSendMessage:
			h.handleSendMessage(ctx, conn, req)
		case protocol.RequestResumeConversation:
			h.handleResumeConversation(conn, req)
		}
	}
}

func (h *WebSocketHandler) handleStartConversation(ctx context.Context, conn *wsConn, req protocol.Request) {
	if req.Text == "" {
		h.sendError(conn, "message is required")
		return
	}

	convID := identity.NewConversationID()
	now := time.Now()
	conv := &domain.Conversation{
		ID:        convID,
		Title:     domain.TitleFromContent(req.Text),
		CreatedAt: now,
		UpdatedAt: now,
	}
	userMsg := h.userMessage(convID, req.Text)

	if err := h.repo.CreateConversation(ctx, conv, userMsg); err != nil {
		h.logger.Error("failed to persist conversation", "error", err)
		h.sendError(conn, "failed to start conversation")
		return
	}

	if err := conn.writeEvent(protocol.Event{
		Kind:           protocol.EventConversationStarted,
		ConversationID: convID,
	}); err != nil {
		h.logger.Warn("failed to send conversation_started", "error", err)
		return
	}

	h.runTurn(ctx, conn, convID, req.Text)
}

func (h *WebSocketHandler) handleSendMessage(ctx context.Context, conn *wsConn, req protocol.Request) {
	if req.ConversationID == "" || req.Text == "" {
		h.sendError(conn, "conversation id and message are required")
		return
	}

	conv, err := h.repo.GetConversation(ctx, req.ConversationID)
	if err != nil {
		h.logger.Error("failed to load conversation", "error", err)
		h.sendError(conn, "failed to load conversation")
		return
	}
	if conv == nil {
		h.sendError(conn, "conversation not found")
		return
	}

	if err := h.repo.AddMessage(ctx, h.userMessage(req.ConversationID, req.Text)); err != nil {
		h.logger.Error("failed to persist user message", "error", err)
		h.sendError(conn, "failed to persist message")
		return
	}

	h.runTurn(ctx, conn, req.ConversationID, req.Text)
}

// handleResumeConversation acknowledges a resume. The event is informational:
// no message is created or replayed.
func (h *WebSocketHandler) handleResumeConversation(conn *wsConn, req protocol.Request) {
	if req.ConversationID == "" {
		h.sendError(conn, "conversation id is required")
		return
	}
	if err := conn.writeEvent(protocol.Event{
		Kind:           protocol.EventConversationResumed,
		ConversationID: req.ConversationID,
	}); err != nil {
		h.logger.Warn("failed to send conversation_resumed", "error", err)
	}
}

// runTurn streams one turn from the pipeline: thinking_start, thinking
// chunks, thinking_end, response chunks, response_done. The assistant message
// is persisted with whatever content accumulated, even when the pipeline
// fails partway.
func (h *WebSocketHandler) runTurn(ctx context.Context, conn *wsConn, convID, text string) {
	if err := conn.writeEvent(protocol.Event{Kind: protocol.EventThinkingStart}); err != nil {
		h.logger.Warn("failed to send thinking_start", "error", err)
		return
	}

	thinkingStart := time.Now()
	var thinkingEnd time.Time
	var thinking, response []byte
	streaming := false
	failed := false

	for chunk, err := range h.pipe.Run(ctx, pipeline.Request{ConversationID: convID, Text: text}) {
		if err != nil {
			h.logger.Error("turn pipeline failed", "conversation_id", convID, "error", err)
			h.sendError(conn, "agent failed: "+err.Error())
			failed = true
			break
		}

		switch chunk.Kind {
		case pipeline.ChunkThinking:
			thinking = append(thinking, chunk.Text...)
			if err := conn.writeEvent(protocol.Event{Kind: protocol.EventThinkingChunk, Text: chunk.Text}); err != nil {
				h.logger.Warn("failed to send thinking_chunk", "error", err)
				return
			}
		case pipeline.ChunkResponse:
			if !streaming {
				streaming = true
				thinkingEnd = time.Now()
				if err := conn.writeEvent(protocol.Event{Kind: protocol.EventThinkingEnd}); err != nil {
					h.logger.Warn("failed to send thinking_end", "error", err)
					return
				}
			}
			response = append(response, chunk.Text...)
			if err := conn.writeEvent(protocol.Event{Kind: protocol.EventResponseChunk, Text: chunk.Text}); err != nil {
				h.logger.Warn("failed to send response_chunk", "error", err)
				return
			}
		}
	}

	if !streaming && !failed {
		// Pipeline produced no response chunks; still close the phases.
		thinkingEnd = time.Now()
		if err := conn.writeEvent(protocol.Event{Kind: protocol.EventThinkingEnd}); err != nil {
			h.logger.Warn("failed to send thinking_end", "error", err)
			return
		}
	}

	h.persistAssistantMessage(ctx, convID, string(response), string(thinking), thinkingStart, thinkingEnd)

	if failed {
		return
	}
	if err := conn.writeEvent(protocol.Event{Kind: protocol.EventResponseDone}); err != nil {
		h.logger.Warn("failed to send response_done", "error", err)
	}
}

func (h *WebSocketHandler) persistAssistantMessage(ctx context.Context, convID, raw, thinking string, thinkingStart, thinkingEnd time.Time) {
	if raw == "" && thinking == "" {
		return
	}

	content := raw
	if h.renderer != nil {
		if rendered, err := h.renderer.Render(raw); err == nil {
			content = rendered
		} else {
			h.logger.Warn("render failed, persisting raw content", "error", err)
		}
	}

	var thinkingSecs *float64
	if !thinkingEnd.IsZero() {
		secs := thinkingEnd.Sub(thinkingStart).Seconds()
		thinkingSecs = &secs
	}

	msg := &domain.Message{
		ID:             identity.NewMessageID(),
		ConversationID: convID,
		Role:           domain.RoleAssistant,
		Content:        content,
		RawContent:     raw,
		Thinking:       thinking,
		ThinkingSecs:   thinkingSecs,
		CreatedAt:      time.Now(),
	}
	if err := h.repo.AddMessage(ctx, msg); err != nil {
		h.logger.Error("failed to persist assistant message", "conversation_id", convID, "error", err)
	}
}

func (h *WebSocketHandler) userMessage(convID, text string) *domain.Message {
	return &domain.Message{
		ID:             identity.NewMessageID(),
		ConversationID: convID,
		Role:           domain.RoleUser,
		Content:        text,
		RawContent:     text,
		CreatedAt:      time.Now(),
	}
}

func (h *WebSocketHandler) sendError(conn *wsConn, message string) {
	if err := conn.writeEvent(protocol.Event{Kind: protocol.EventError, Message: message}); err != nil {
		h.logger.Warn("failed to send error event", "error", err)
	}
}
