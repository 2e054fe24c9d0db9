package llm

import (
	"context"
	"sync"

	"github.com/zbigniewsobiecki/llmist/pkg/models"
)

// Scripted is a deterministic Provider for tests and the demo CLI: it
// returns a fixed sequence of responses, one per call to Complete, split
// into fixed-size chunks to exercise streaming consumers without a network
// dependency. Complete returns an error once the scripted response slice is
// exhausted, and a stream ends with a cancelled-kind error chunk if ctx is
// cancelled mid-stream; it never errors otherwise.
type Scripted struct {
	Responses []string
	ChunkSize int // defaults to 8 bytes if zero

	mu    sync.Mutex
	calls int
}

// NewScripted builds a Scripted provider that replays responses in order,
// one per Complete call.
func NewScripted(responses ...string) *Scripted {
	return &Scripted{Responses: responses, ChunkSize: 8}
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) Complete(ctx context.Context, req Request) (<-chan Chunk, error) {
	s.mu.Lock()
	if s.calls >= len(s.Responses) {
		s.mu.Unlock()
		return nil, NewError(ErrorKindStream, nil).withMessage("scripted: no more responses configured")
	}
	text := s.Responses[s.calls]
	s.calls++
	s.mu.Unlock()

	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 8
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		for i := 0; i < len(text); i += chunkSize {
			end := i + chunkSize
			if end > len(text) {
				end = len(text)
			}
			select {
			case out <- Chunk{Text: text[i:end]}:
			case <-ctx.Done():
				out <- Chunk{Err: NewError(ErrorKindCancelled, ctx.Err())}
				return
			}
		}
		out <- Chunk{
			Done:         true,
			FinishReason: "stop",
			Usage:        &models.Usage{InputTokens: len(req.System) / 4, OutputTokens: len(text) / 4},
		}
	}()
	return out, nil
}

func (e *Error) withMessage(msg string) *Error {
	e.Message = msg
	return e
}
