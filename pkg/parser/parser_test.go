package parser

import (
	"strings"
	"testing"

	"github.com/zbigniewsobiecki/llmist/pkg/markers"
	"github.com/zbigniewsobiecki/llmist/pkg/models"
)

func feedAll(t *testing.T, p *Parser, chunks []string) []models.StreamEvent {
	t.Helper()
	var events []models.StreamEvent
	for _, c := range chunks {
		events = append(events, p.Feed(c)...)
	}
	events = append(events, p.Finalize()...)
	return events
}

// S1. Basic block parse.
func TestS1_BasicBlockParse(t *testing.T) {
	ResetGlobalCounter()
	input := "!!!GADGET_START:Echo\n!!!ARG:message\nhello\n!!!GADGET_END"
	p := New(markers.Default())
	events := feedAll(t, p, []string{input})

	var calls []models.GadgetCall
	for _, e := range events {
		if e.Type == models.StreamEventGadgetCall {
			calls = append(calls, *e.Call)
		}
	}
	if len(calls) != 1 {
		t.Fatalf("expected exactly 1 gadget_call event, got %d: %+v", len(calls), events)
	}
	c := calls[0]
	if c.GadgetName != "Echo" {
		t.Errorf("gadgetName = %q, want Echo", c.GadgetName)
	}
	if c.InvocationID != "gadget_1" {
		t.Errorf("invocationId = %q, want gadget_1", c.InvocationID)
	}
	if len(c.Dependencies) != 0 {
		t.Errorf("dependencies = %v, want empty", c.Dependencies)
	}
	if c.ParseError != nil {
		t.Fatalf("unexpected parse error: %v", c.ParseError)
	}
	if got := c.Parameters["message"]; got != "hello" {
		t.Errorf("parameters[message] = %v, want hello", got)
	}
}

// S2. DAG skip is an agent-loop concern; parser-level coverage verifies the
// dependency list itself is captured correctly for downstream consumption.
func TestS2_DependenciesCaptured(t *testing.T) {
	ResetGlobalCounter()
	input := "!!!GADGET_START:Fetch:call2:call1\n!!!ARG:url\nhttp://x\n!!!GADGET_END"
	p := New(markers.Default())
	events := feedAll(t, p, []string{input})
	call := firstCall(t, events)
	if call.InvocationID != "call2" {
		t.Errorf("invocationId = %q, want call2", call.InvocationID)
	}
	if len(call.Dependencies) != 1 || call.Dependencies[0] != "call1" {
		t.Errorf("dependencies = %v, want [call1]", call.Dependencies)
	}
}

// S4. Multi-call, single turn.
func TestS4_MultiCallSingleTurn(t *testing.T) {
	ResetGlobalCounter()
	input := "" +
		"!!!GADGET_START:A\n!!!ARG:x\n1\n!!!GADGET_END\n" +
		"!!!GADGET_START:B\n!!!ARG:x\n2\n!!!GADGET_END\n" +
		"!!!GADGET_START:C\n!!!ARG:x\n3\n!!!GADGET_END"
	p := New(markers.Default())
	events := feedAll(t, p, []string{input})

	var ids []string
	for _, e := range events {
		if e.Type == models.StreamEventGadgetCall {
			ids = append(ids, e.Call.InvocationID)
			if len(e.Call.Dependencies) != 0 {
				t.Errorf("call %s has unexpected dependencies: %v", e.Call.InvocationID, e.Call.Dependencies)
			}
		}
	}
	want := []string{"gadget_1", "gadget_2", "gadget_3"}
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Errorf("invocation IDs = %v, want %v", ids, want)
	}
}

// S5. Implicit close: call 1 has no end marker before call 2's header.
func TestS5_ImplicitClose(t *testing.T) {
	ResetGlobalCounter()
	input := "!!!GADGET_START:First\n!!!ARG:x\nhello\n" +
		"!!!GADGET_START:Second\n!!!ARG:y\nworld\n!!!GADGET_END"
	p := New(markers.Default())
	events := feedAll(t, p, []string{input})

	var calls []models.GadgetCall
	for _, e := range events {
		if e.Type == models.StreamEventGadgetCall {
			calls = append(calls, *e.Call)
		}
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d: %+v", len(calls), calls)
	}
	if calls[0].GadgetName != "First" || calls[0].Parameters["x"] != "hello" {
		t.Errorf("first call = %+v", calls[0])
	}
	if calls[1].GadgetName != "Second" || calls[1].Parameters["y"] != "world" {
		t.Errorf("second call = %+v", calls[1])
	}
}

// S5 variant: unterminated final call is still emitted at Finalize().
func TestS5_UnterminatedFinalCallEmittedAtFinalize(t *testing.T) {
	ResetGlobalCounter()
	p := New(markers.Default())
	events := p.Feed("!!!GADGET_START:Only\n!!!ARG:a\nvalue\n")
	if len(events) != 0 {
		t.Fatalf("expected no events before finalize, got %+v", events)
	}
	final := p.Finalize()
	if len(final) != 1 || final[0].Type != models.StreamEventGadgetCall {
		t.Fatalf("expected one gadget_call event at finalize, got %+v", final)
	}
	if final[0].Call.GadgetName != "Only" {
		t.Errorf("gadgetName = %q, want Only", final[0].Call.GadgetName)
	}
}

func TestChunkInvariance(t *testing.T) {
	whole := "some preamble text\n" +
		"!!!GADGET_START:Echo\n!!!ARG:message\nline one\nline two\n!!!GADGET_END\n" +
		"trailing text"

	ResetGlobalCounter()
	pWhole := New(markers.Default())
	wholeEvents := feedAll(t, pWhole, []string{whole})

	// Partition the same string into arbitrary small chunks, including
	// splits mid-marker and mid-line.
	for _, size := range []int{1, 2, 3, 5, 7, 11} {
		ResetGlobalCounter()
		p := New(markers.Default())
		var chunks []string
		for i := 0; i < len(whole); i += size {
			end := i + size
			if end > len(whole) {
				end = len(whole)
			}
			chunks = append(chunks, whole[i:end])
		}
		gotEvents := feedAll(t, p, chunks)
		if len(gotEvents) != len(wholeEvents) {
			t.Fatalf("size=%d: got %d events, want %d\ngot=%+v\nwant=%+v", size, len(gotEvents), len(wholeEvents), gotEvents, wholeEvents)
		}
		for i := range gotEvents {
			if gotEvents[i].Type != wholeEvents[i].Type {
				t.Fatalf("size=%d event[%d] type mismatch: %v vs %v", size, i, gotEvents[i].Type, wholeEvents[i].Type)
			}
			if gotEvents[i].Type == models.StreamEventText && gotEvents[i].Content != wholeEvents[i].Content {
				t.Fatalf("size=%d event[%d] text mismatch: %q vs %q", size, i, gotEvents[i].Content, wholeEvents[i].Content)
			}
		}
	}
}

func TestTextFlushedBeforeMarker(t *testing.T) {
	ResetGlobalCounter()
	p := New(markers.Default())
	events := p.Feed("hello there\n!!!GADGET_START:Echo\n!!!ARG:m\nhi\n!!!GADGET_END\n")
	if len(events) < 2 {
		t.Fatalf("expected text + gadget_call events, got %+v", events)
	}
	if events[0].Type != models.StreamEventText || events[0].Content != "hello there\n" {
		t.Errorf("first event = %+v, want flushed preamble text", events[0])
	}
}

func TestParseErrorCarriesRawBody(t *testing.T) {
	ResetGlobalCounter()
	p := New(markers.Default())
	events := feedAll(t, p, []string{
		"!!!GADGET_START:Dup\n!!!ARG:a\n1\n!!!ARG:a\n2\n!!!GADGET_END",
	})
	call := firstCall(t, events)
	if call.ParseError == nil {
		t.Fatal("expected a parse error for duplicate path")
	}
	if call.ParseError.Kind != models.ParseErrDuplicatePointer {
		t.Errorf("kind = %v, want duplicate-pointer", call.ParseError.Kind)
	}
	if call.Parameters != nil {
		t.Errorf("parameters should be nil on parse error, got %v", call.Parameters)
	}
	if call.ParametersRaw == "" {
		t.Error("expected parametersRaw to be preserved")
	}
}

func TestCustomMarkers(t *testing.T) {
	ResetGlobalCounter()
	cfg := markers.Config{StartPrefix: "<<CALL ", EndPrefix: "<<END>>", ArgPrefix: "<<P:"}
	p := New(cfg)
	events := feedAll(t, p, []string{
		"<<CALL Echo\n<<P:message\nhi\n<<END>>",
	})
	call := firstCall(t, events)
	if call.GadgetName != "Echo" || call.Parameters["message"] != "hi" {
		t.Errorf("call = %+v", call)
	}

	// Default markers must not be recognized with custom config.
	ResetGlobalCounter()
	p2 := New(cfg)
	events2 := feedAll(t, p2, []string{"!!!GADGET_START:Echo\n!!!ARG:x\n1\n!!!GADGET_END"})
	for _, e := range events2 {
		if e.Type == models.StreamEventGadgetCall {
			t.Fatalf("default markers should not be recognized with custom config, got %+v", e)
		}
	}
}

func TestStripFence(t *testing.T) {
	in := "```json\n{\"a\":1}\n```"
	if got := StripFence(in); got != `{"a":1}` {
		t.Errorf("StripFence(%q) = %q", in, got)
	}
	unwrapped := "no fence here"
	if got := StripFence(unwrapped); got != unwrapped {
		t.Errorf("StripFence should not modify unwrapped text, got %q", got)
	}
}

func firstCall(t *testing.T, events []models.StreamEvent) models.GadgetCall {
	t.Helper()
	for _, e := range events {
		if e.Type == models.StreamEventGadgetCall {
			return *e.Call
		}
	}
	t.Fatal("no gadget_call event found")
	return models.GadgetCall{}
}
