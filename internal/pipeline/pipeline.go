// Package pipeline defines the backend turn pipeline port: the component that
// takes a user turn, performs retrieval, and streams back thinking and
// response fragments. The gateway only depends on this interface; the
// in-process Recommender implementation makes the system runnable end to end.
package pipeline

import (
	"context"
	"iter"
)

// ChunkKind distinguishes thinking fragments from response fragments.
type ChunkKind int

const (
	// ChunkThinking is a fragment of the agent's intermediate reasoning.
	ChunkThinking ChunkKind = iota
	// ChunkResponse is a fragment of the final answer.
	ChunkResponse
)

// Chunk is one streamed fragment of a turn. All thinking chunks precede all
// response chunks.
type Chunk struct {
	Kind ChunkKind
	Text string
}

// Request carries one user turn into the pipeline.
type Request struct {
	ConversationID string
	Text           string
}

// TurnPipeline streams a turn's thinking and response fragments. The iterator
// yields a non-nil error at most once, as its final element.
type TurnPipeline interface {
	Run(ctx context.Context, req Request) iter.Seq2[*Chunk, error]
}
