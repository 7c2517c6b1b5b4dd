// Package protocol defines the streaming conversation wire format.
//
// All traffic on the duplex connection is JSON with a "type" tag. The server
// streams Events to the client; the client sends Requests to the server. One
// turn is a user request followed by the agent's thinking and response events,
// closed by a terminal response_done or error event.
package protocol

import (
	"encoding/json"
	"fmt"
)

// EventKind tags a server → client event.
type EventKind string

const (
	// EventConnected acknowledges an established connection. No payload.
	EventConnected EventKind = "connected"
	// EventDisconnected signals transport loss. Synthesized locally by the
	// transport session; never sent on the wire.
	EventDisconnected EventKind = "disconnected"
	// EventThinkingStart opens the agent's thinking phase. No payload.
	EventThinkingStart EventKind = "thinking_start"
	// EventThinkingChunk carries a fragment of the thinking trace in Text.
	EventThinkingChunk EventKind = "thinking_chunk"
	// EventThinkingEnd closes the thinking phase. No payload.
	EventThinkingEnd EventKind = "thinking_end"
	// EventConversationStarted carries the server-assigned ConversationID
	// for a conversation created by start_conversation.
	EventConversationStarted EventKind = "conversation_started"
	// EventConversationResumed acknowledges resume_conversation with the
	// same ConversationID. Informational only.
	EventConversationResumed EventKind = "conversation_resumed"
	// EventResponseChunk carries a fragment of the final answer in Text.
	EventResponseChunk EventKind = "response_chunk"
	// EventResponseDone finalizes the turn. The full content is the
	// concatenation of the response_chunk fragments already observed.
	EventResponseDone EventKind = "response_done"
	// EventError carries an application error message in Message.
	EventError EventKind = "error"
)

// RequestKind tags a client → server request.
type RequestKind string

const (
	// RequestStartConversation starts a brand-new conversation from Text.
	// No conversation id is carried because none is assigned yet.
	RequestStartConversation RequestKind = "start_conversation"
	// RequestResumeConversation re-attaches to an existing conversation.
	RequestResumeConversation RequestKind = "resume_conversation"
	// RequestSendMessage sends the next user turn in an existing conversation.
	RequestSendMessage RequestKind = "send_message"
)

// Event is a tagged server → client payload.
type Event struct {
	Kind           EventKind `json:"type"`
	Text           string    `json:"text,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Message        string    `json:"message,omitempty"`
}

// Request is a tagged client → server payload.
type Request struct {
	Kind           RequestKind `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Text           string      `json:"text,omitempty"`
}

var eventKinds = map[EventKind]bool{
	EventConnected:           true,
	EventDisconnected:        true,
	EventThinkingStart:       true,
	EventThinkingChunk:       true,
	EventThinkingEnd:         true,
	EventConversationStarted: true,
	EventConversationResumed: true,
	EventResponseChunk:       true,
	EventResponseDone:        true,
	EventError:               true,
}

var requestKinds = map[RequestKind]bool{
	RequestStartConversation:  true,
	RequestResumeConversation: true,
	RequestSendMessage:        true,
}

// DecodeEvent parses raw bytes into an Event, rejecting unknown kinds.
func DecodeEvent(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if !eventKinds[evt.Kind] {
		return Event{}, fmt.Errorf("decode event: unknown kind %q", evt.Kind)
	}
	return evt, nil
}

// DecodeRequest parses raw bytes into a Request, rejecting unknown kinds.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	if !requestKinds[req.Kind] {
		return Request{}, fmt.Errorf("decode request: unknown kind %q", req.Kind)
	}
	return req, nil
}

// Encode serializes an Event for the wire.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

// Encode serializes a Request for the wire.
func (r Request) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return data, nil
}
