package server

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/mvaleev/reelchat/internal/domain"
	"github.com/mvaleev/reelchat/internal/pipeline"
	"github.com/mvaleev/reelchat/internal/protocol"
	"github.com/mvaleev/reelchat/internal/render"
	"github.com/mvaleev/reelchat/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, store.Repository) {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	logger := slog.Default()
	wsHandler := NewWebSocketHandler(repo, pipeline.NewRecommender(logger), render.New(), "*", true, logger)

	r := chi.NewRouter()
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo
}

func dialChat(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.Event {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	evt, err := protocol.DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	return evt
}

func sendRequest(t *testing.T, conn *websocket.Conn, req protocol.Request) {
	t.Helper()

	data, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

// collectTurnEvents reads until response_done or error, returning all events
// in arrival order.
func collectTurnEvents(t *testing.T, conn *websocket.Conn) []protocol.Event {
	t.Helper()

	var events []protocol.Event
	for {
		evt := readEvent(t, conn)
		events = append(events, evt)
		if evt.Kind == protocol.EventResponseDone || evt.Kind == protocol.EventError {
			return events
		}
	}
}

func TestStartConversationEndToEnd(t *testing.T) {
	t.Parallel()

	srv, repo := newTestServer(t)
	conn := dialChat(t, srv)

	if evt := readEvent(t, conn); evt.Kind != protocol.EventConnected {
		t.Fatalf("expected connected event first, got %q", evt.Kind)
	}

	sendRequest(t, conn, protocol.Request{
		Kind: protocol.RequestStartConversation,
		Text: "Recommend a sci-fi movie",
	})

	events := collectTurnEvents(t, conn)

	if events[0].Kind != protocol.EventConversationStarted {
		t.Fatalf("expected conversation_started first, got %q", events[0].Kind)
	}
	convID := events[0].ConversationID
	if convID == "" {
		t.Fatal("conversation_started carried no id")
	}

	var kinds []protocol.EventKind
	for _, evt := range events[1:] {
		kinds = append(kinds, evt.Kind)
	}
	assertTurnShape(t, kinds)

	conv, err := repo.GetConversation(context.Background(), convID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv == nil {
		t.Fatal("conversation was not persisted")
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected persisted user + assistant messages, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Role != domain.RoleUser || conv.Messages[1].Role != domain.RoleAssistant {
		t.Errorf("unexpected persisted roles: %q, %q", conv.Messages[0].Role, conv.Messages[1].Role)
	}
	if conv.Messages[1].Thinking == "" {
		t.Error("expected the assistant message to carry its thinking trace")
	}
	if conv.Messages[1].ThinkingSecs == nil {
		t.Error("expected the assistant message to carry a thinking duration")
	}
	if !strings.Contains(conv.Messages[1].Content, "<") {
		t.Errorf("expected rendered HTML content, got %q", conv.Messages[1].Content)
	}
}

// assertTurnShape verifies the event ordering of one streamed turn:
// thinking_start, thinking chunks, thinking_end, response chunks,
// response_done.
func assertTurnShape(t *testing.T, kinds []protocol.EventKind) {
	t.Helper()

	if len(kinds) < 4 {
		t.Fatalf("turn too short: %v", kinds)
	}
	if kinds[0] != protocol.EventThinkingStart {
		t.Fatalf("expected thinking_start, got %q", kinds[0])
	}
	if kinds[len(kinds)-1] != protocol.EventResponseDone {
		t.Fatalf("expected response_done last, got %q", kinds[len(kinds)-1])
	}

	sawThinkingEnd := false
	sawResponseChunk := false
	for _, k := range kinds[1 : len(kinds)-1] {
		switch k {
		case protocol.EventThinkingChunk:
			if sawThinkingEnd {
				t.Fatal("thinking_chunk after thinking_end")
			}
		case protocol.EventThinkingEnd:
			if sawThinkingEnd {
				t.Fatal("duplicate thinking_end")
			}
			sawThinkingEnd = true
		case protocol.EventResponseChunk:
			if !sawThinkingEnd {
				t.Fatal("response_chunk before thinking_end")
			}
			sawResponseChunk = true
		default:
			t.Fatalf("unexpected event kind mid-turn: %q", k)
		}
	}
	if !sawThinkingEnd {
		t.Fatal("turn had no thinking_end")
	}
	if !sawResponseChunk {
		t.Fatal("turn had no response chunks")
	}
}

func TestSendMessageToExistingConversation(t *testing.T) {
	t.Parallel()

	srv, repo := newTestServer(t)
	conn := dialChat(t, srv)
	readEvent(t, conn) // connected

	sendRequest(t, conn, protocol.Request{
		Kind: protocol.RequestStartConversation,
		Text: "Recommend a sci-fi movie",
	})
	events := collectTurnEvents(t, conn)
	convID := events[0].ConversationID

	sendRequest(t, conn, protocol.Request{
		Kind:           protocol.RequestSendMessage,
		ConversationID: convID,
		Text:           "what about a comedy?",
	})
	second := collectTurnEvents(t, conn)
	if second[len(second)-1].Kind != protocol.EventResponseDone {
		t.Fatalf("expected response_done, got %q", second[len(second)-1].Kind)
	}

	conv, err := repo.GetConversation(context.Background(), convID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if len(conv.Messages) != 4 {
		t.Fatalf("expected 4 persisted messages after two turns, got %d", len(conv.Messages))
	}
}

func TestSendMessageUnknownConversation(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	conn := dialChat(t, srv)
	readEvent(t, conn) // connected

	sendRequest(t, conn, protocol.Request{
		Kind:           protocol.RequestSendMessage,
		ConversationID: "conv_missing",
		Text:           "hello?",
	})

	evt := readEvent(t, conn)
	if evt.Kind != protocol.EventError {
		t.Fatalf("expected error event, got %q", evt.Kind)
	}
	if !strings.Contains(evt.Message, "conversation not found") {
		t.Errorf("unexpected error message: %q", evt.Message)
	}
}

func TestResumeConversationAcknowledged(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	conn := dialChat(t, srv)
	readEvent(t, conn) // connected

	sendRequest(t, conn, protocol.Request{
		Kind:           protocol.RequestResumeConversation,
		ConversationID: "conv_1",
	})

	evt := readEvent(t, conn)
	if evt.Kind != protocol.EventConversationResumed {
		t.Fatalf("expected conversation_resumed, got %q", evt.Kind)
	}
	if evt.ConversationID != "conv_1" {
		t.Errorf("acknowledgment carried wrong id: %q", evt.ConversationID)
	}
}

func TestMalformedRequestGetsErrorEvent(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	conn := dialChat(t, srv)
	readEvent(t, conn) // connected

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"nonsense"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	evt := readEvent(t, conn)
	if evt.Kind != protocol.EventError {
		t.Fatalf("expected error event, got %q", evt.Kind)
	}

	// The connection survives a malformed request.
	sendRequest(t, conn, protocol.Request{
		Kind: protocol.RequestStartConversation,
		Text: "Recommend a movie",
	})
	if evt := readEvent(t, conn); evt.Kind != protocol.EventConversationStarted {
		t.Fatalf("expected the session to keep working, got %q", evt.Kind)
	}
}

func TestStartConversationRequiresText(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	conn := dialChat(t, srv)
	readEvent(t, conn) // connected

	sendRequest(t, conn, protocol.Request{Kind: protocol.RequestStartConversation})

	evt := readEvent(t, conn)
	if evt.Kind != protocol.EventError {
		t.Fatalf("expected error event, got %q", evt.Kind)
	}
}
