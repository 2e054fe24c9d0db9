// Package trace exports an execution tree's event stream as JSON Lines for
// offline replay and debugging (spec.md §12 supplemental feature), grounded
// on the teacher's TracePlugin JSONL writer.
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/zbigniewsobiecki/llmist/pkg/models"
	"github.com/zbigniewsobiecki/llmist/pkg/tree"
)

// Header is written as the first line of a trace file, ahead of any events.
type Header struct {
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
}

// Redactor optionally strips sensitive data from an event copy before it is
// written. It receives a copy, not the live event, and may mutate it freely.
type Redactor func(e *models.TreeEvent)

// Writer subscribes to a tree and serializes every event it emits as one
// JSON line, flushed (and fsynced, if backed by a file) immediately for
// crash safety.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	file     *os.File
	redactor Redactor
	header   Header
	started  bool
}

// Option configures a Writer.
type Option func(*Writer)

// WithRedactor sets a redactor applied to every event before it is written.
func WithRedactor(r Redactor) Option {
	return func(w *Writer) { w.redactor = r }
}

// New builds a Writer over an arbitrary io.Writer.
func New(w io.Writer, runID string, opts ...Option) *Writer {
	tw := &Writer{
		w: w,
		header: Header{
			Version:   1,
			RunID:     runID,
			StartedAt: time.Now(),
		},
	}
	for _, opt := range opts {
		opt(tw)
	}
	return tw
}

// NewFile builds a Writer backed by a newly created (or truncated) file.
// The caller must call Close when done.
func NewFile(path, runID string, opts ...Option) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("trace: create %s: %w", path, err)
	}
	tw := New(f, runID, opts...)
	tw.file = f
	return tw, nil
}

// Attach subscribes the Writer to t and returns the unsubscribe function,
// matching observer.Attach's return convention.
func (w *Writer) Attach(t *tree.Tree) func() {
	return t.OnAll(w.write)
}

func (w *Writer) write(ev models.TreeEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		w.started = true
		w.writeLine(w.header)
	}

	if w.redactor != nil {
		w.redactor(&ev)
	}
	w.writeLine(ev)
}

func (w *Writer) writeLine(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if _, err := w.w.Write(data); err != nil {
		return
	}
	if _, err := w.w.Write([]byte("\n")); err != nil {
		return
	}
	if w.file != nil {
		_ = w.file.Sync()
	}
}

// Close closes the underlying file if the Writer was built with NewFile.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// Reader reads a trace file written by Writer back into Header + events.
type Reader struct {
	decoder *json.Decoder
	header  Header
}

// NewReader reads and validates the header from r.
func NewReader(r io.Reader) (*Reader, error) {
	decoder := json.NewDecoder(r)
	var header Header
	if err := decoder.Decode(&header); err != nil {
		return nil, fmt.Errorf("trace: read header: %w", err)
	}
	if header.Version != 1 {
		return nil, fmt.Errorf("trace: unsupported version %d", header.Version)
	}
	return &Reader{decoder: decoder, header: header}, nil
}

// Header returns the trace's header.
func (r *Reader) Header() Header {
	return r.header
}

// ReadEvent reads the next event, returning io.EOF once exhausted.
func (r *Reader) ReadEvent() (*models.TreeEvent, error) {
	var ev models.TreeEvent
	if err := r.decoder.Decode(&ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// DefaultRedactor replaces gadget parameters/results and LLM request/response
// text with a placeholder, for traces that may be shared outside the team
// that ran them.
func DefaultRedactor(e *models.TreeEvent) {
	if e.Node.Gadget != nil {
		g := *e.Node.Gadget
		if g.Parameters != nil {
			g.Parameters = map[string]any{"_redacted": true}
		}
		if g.Result != "" {
			g.Result = "[REDACTED]"
		}
		e.Node.Gadget = &g
	}
	if e.Node.LLMCall != nil {
		l := *e.Node.LLMCall
		if l.Request != "" {
			l.Request = "[REDACTED]"
		}
		if l.Response != "" {
			l.Response = "[REDACTED]"
		}
		e.Node.LLMCall = &l
	}
}

// ReadAll reads every remaining event into a slice.
func (r *Reader) ReadAll() ([]models.TreeEvent, error) {
	var events []models.TreeEvent
	for {
		ev, err := r.ReadEvent()
		if err == io.EOF {
			break
		}
		if err != nil {
			return events, err
		}
		events = append(events, *ev)
	}
	return events, nil
}
