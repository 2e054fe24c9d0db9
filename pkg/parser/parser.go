// Package parser implements the incremental gadget-call scanner: a
// single-threaded state machine that consumes arbitrary text chunks as they
// stream in from an LLM provider and emits text/gadget_call events only once
// a call is unambiguously complete.
package parser

import (
	"strings"
	"sync/atomic"

	"github.com/zbigniewsobiecki/llmist/pkg/markers"
	"github.com/zbigniewsobiecki/llmist/pkg/models"
)

// state names the parser's position in the marker grammar. HEADER never
// persists across Feed calls: because the parser operates on whole logical
// lines (buffering partial lines across chunk boundaries), the header is
// always fully available the instant a start marker is recognized, so
// recognizing the marker and parsing its header happen in the same step.
type state int

const (
	stateOutside state = iota
	stateBody
)

var globalInvocationCounter uint64

// NextInvocationID returns the next `gadget_N` ID from the process-wide
// monotonic counter. Used whenever a call's header omits an explicit ID.
func NextInvocationID() string {
	n := atomic.AddUint64(&globalInvocationCounter, 1)
	return "gadget_" + itoa(n)
}

// ResetGlobalCounter resets the process-wide invocation counter to zero.
// Parser.Reset does not call this automatically (spec.md §4.B) — tests that
// need deterministic IDs across parser instances must call it explicitly.
func ResetGlobalCounter() {
	atomic.StoreUint64(&globalInvocationCounter, 0)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// openArg tracks the arg slot currently being accumulated inside a call body.
type openArg struct {
	path  string
	lines []string
}

// Parser is an incremental gadget-call scanner. It is not safe for
// concurrent use; feed it from a single goroutine per spec.md's
// single-threaded scheduling model.
type Parser struct {
	cfg markers.Config

	state   state
	pending string // buffered partial line without its trailing newline

	outside strings.Builder // accumulated plain text since the last marker

	name string
	id   string
	deps []string
	args []markers.PathValue
	arg  *openArg
}

// New creates a parser using cfg for marker recognition. cfg must validate
// (see markers.Config.Validate); a Parser constructed from an invalid
// config is a programming error, not a runtime condition the parser
// recovers from.
func New(cfg markers.Config) *Parser {
	if err := cfg.Validate(); err != nil {
		panic("parser: " + err.Error())
	}
	return &Parser{cfg: cfg, state: stateOutside}
}

// Reset discards all buffered state (partial lines, accumulated text, an
// in-progress call). It does not reset the global invocation counter.
func (p *Parser) Reset() {
	p.state = stateOutside
	p.pending = ""
	p.outside.Reset()
	p.name, p.id = "", ""
	p.deps = nil
	p.args = nil
	p.arg = nil
}

// Feed consumes a chunk of text and returns any events it completes. Events
// are only ever emitted for fully-closed gadget calls or flushed text runs;
// Feed never emits a partial call or partial text.
func (p *Parser) Feed(chunk string) []models.StreamEvent {
	p.pending += chunk
	var events []models.StreamEvent
	for {
		idx := strings.IndexByte(p.pending, '\n')
		if idx < 0 {
			break
		}
		line := p.pending[:idx]
		p.pending = p.pending[idx+1:]
		events = append(events, p.processLine(line, true)...)
	}
	return events
}

// Finalize flushes any remaining buffered content: an unterminated trailing
// line, an unterminated call (closed implicitly, per spec.md S5), and any
// accumulated plain text.
func (p *Parser) Finalize() []models.StreamEvent {
	var events []models.StreamEvent
	if p.pending != "" {
		line := p.pending
		p.pending = ""
		events = append(events, p.processLine(line, false)...)
	}
	if p.state == stateBody {
		events = append(events, p.closeCall())
		p.state = stateOutside
	}
	if ev, ok := p.flushOutside(); ok {
		events = append(events, ev)
	}
	return events
}

func (p *Parser) processLine(line string, hadNewline bool) []models.StreamEvent {
	switch p.state {
	case stateOutside:
		if strings.HasPrefix(line, p.cfg.StartPrefix) {
			var events []models.StreamEvent
			if ev, ok := p.flushOutside(); ok {
				events = append(events, ev)
			}
			p.beginHeader(line)
			return events
		}
		p.outside.WriteString(line)
		if hadNewline {
			p.outside.WriteString("\n")
		}
		return nil
	case stateBody:
		return p.processBodyLine(line)
	}
	return nil
}

func (p *Parser) beginHeader(markerLine string) {
	header := markerLine[len(p.cfg.StartPrefix):]
	parts := strings.SplitN(header, ":", 3)

	name := strings.TrimSpace(parts[0])
	id := ""
	var deps []string
	if len(parts) >= 2 {
		id = strings.TrimSpace(parts[1])
	}
	if len(parts) >= 3 {
		for _, d := range strings.Split(parts[2], ",") {
			d = strings.TrimSpace(d)
			if d != "" {
				deps = append(deps, d)
			}
		}
	}
	if id == "" {
		id = NextInvocationID()
	}

	p.name = name
	p.id = id
	p.deps = deps
	p.args = nil
	p.arg = nil
	p.state = stateBody
}

func (p *Parser) processBodyLine(line string) []models.StreamEvent {
	switch {
	case line == p.cfg.EndPrefix:
		ev := p.closeCall()
		p.state = stateOutside
		return []models.StreamEvent{ev}
	case strings.HasPrefix(line, p.cfg.StartPrefix):
		ev := p.closeCall()
		p.beginHeader(line)
		return []models.StreamEvent{ev}
	case strings.HasPrefix(line, p.cfg.ArgPrefix):
		p.flushArg()
		path := strings.TrimSpace(line[len(p.cfg.ArgPrefix):])
		p.arg = &openArg{path: path}
		return nil
	default:
		if p.arg != nil {
			p.arg.lines = append(p.arg.lines, line)
		}
		return nil
	}
}

func (p *Parser) flushArg() {
	if p.arg == nil {
		return
	}
	value := strings.Join(p.arg.lines, "\n")
	p.args = append(p.args, markers.PathValue{Path: p.arg.path, Value: value})
	p.arg = nil
}

func (p *Parser) closeCall() models.StreamEvent {
	p.flushArg()
	params, perr := markers.Resolve(p.args)
	call := models.GadgetCall{
		GadgetName:   p.name,
		InvocationID: p.id,
		Dependencies: p.deps,
	}
	if perr != nil {
		call.ParseError = perr
		call.ParametersRaw = p.rawBody()
	} else {
		call.Parameters = params
	}
	return models.GadgetCallEvent(call)
}

func (p *Parser) rawBody() string {
	var b strings.Builder
	for _, pv := range p.args {
		b.WriteString(p.cfg.ArgPrefix)
		b.WriteString(pv.Path)
		b.WriteString("\n")
		b.WriteString(pv.Value)
		b.WriteString("\n")
	}
	return b.String()
}

func (p *Parser) flushOutside() (models.StreamEvent, bool) {
	if p.outside.Len() == 0 {
		return models.StreamEvent{}, false
	}
	content := p.outside.String()
	p.outside.Reset()
	return models.TextEvent(content), true
}

// StripFence removes a single surrounding pair of triple-backtick fences
// (with an optional language tag on the opening line) and trims outer
// whitespace. Used by callers that pre-clean arg values which were fenced
// by the model. Returns s unchanged if it is not fully wrapped in a fence.
func StripFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") {
		return s
	}
	firstNL := strings.IndexByte(trimmed, '\n')
	if firstNL < 0 {
		return s
	}
	body := trimmed[firstNL+1:]
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSuffix(body, "\n")
	return strings.TrimSpace(body)
}
