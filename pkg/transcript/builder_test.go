package transcript

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/zbigniewsobiecki/llmist/pkg/encoding"
	"github.com/zbigniewsobiecki/llmist/pkg/gadget"
	"github.com/zbigniewsobiecki/llmist/pkg/markers"
	"github.com/zbigniewsobiecki/llmist/pkg/models"
	"github.com/zbigniewsobiecki/llmist/pkg/parser"
)

func newTestRegistry(t *testing.T) *gadget.Registry {
	t.Helper()
	r := gadget.NewRegistry()
	g := &gadget.Gadget{
		Name:        "Fetch",
		Description: "Fetches a URL",
		ParameterSchema: map[string]any{
			"type":     "object",
			"required": []any{"url"},
			"properties": map[string]any{
				"url": map[string]any{"type": "string", "description": "target URL"},
			},
		},
		Examples: []gadget.Example{
			{Description: "basic fetch", Parameters: map[string]any{"url": "http://example.com"}},
		},
		Execute: func(ctx context.Context, params map[string]any) (gadget.Result, error) {
			return gadget.TextResult("ok"), nil
		},
	}
	if err := r.Register(g); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return r
}

func TestSystemPrompt_InterpolatesPrefixesVerbatim(t *testing.T) {
	cfg := markers.Default()
	b := New(cfg, newTestRegistry(t), encoding.Block)
	msg := b.SystemPrompt()
	text := msg.Text()
	if !strings.Contains(text, cfg.StartPrefix) || !strings.Contains(text, cfg.EndPrefix) || !strings.Contains(text, cfg.ArgPrefix) {
		t.Errorf("system prompt must contain all three marker prefixes verbatim, got:\n%s", text)
	}
	if !strings.Contains(text, "Fetch") {
		t.Error("expected gadget name to appear in system prompt")
	}
	if msg.Role != models.RoleSystem {
		t.Errorf("role = %v, want system", msg.Role)
	}
}

func TestSystemPrompt_CustomMarkers(t *testing.T) {
	cfg := markers.Config{StartPrefix: "<<CALL ", EndPrefix: "<<END>>", ArgPrefix: "<<P:"}
	b := New(cfg, newTestRegistry(t), encoding.Block)
	text := b.SystemPrompt().Text()
	if !strings.Contains(text, "<<CALL ") || !strings.Contains(text, "<<END>>") || !strings.Contains(text, "<<P:") {
		t.Errorf("expected custom prefixes interpolated verbatim, got:\n%s", text)
	}
	if strings.Contains(text, "!!!GADGET_START") {
		t.Error("default markers must not leak in with a custom config")
	}
}

func TestMarkerBlock_RoundTripsThroughParser(t *testing.T) {
	cfg := markers.Default()
	call := models.GadgetCall{
		GadgetName:   "Fetch",
		InvocationID: "call1",
		Dependencies: []string{"call0"},
		Parameters:   map[string]any{"url": "http://x", "retries": "2"},
	}
	block := MarkerBlock(cfg, call)
	if !strings.HasPrefix(block, cfg.StartPrefix+"Fetch:call1:call0\n") {
		t.Errorf("unexpected header, got:\n%s", block)
	}
	if !strings.HasSuffix(block, cfg.EndPrefix) {
		t.Errorf("expected block to end with end marker, got:\n%s", block)
	}
	if !strings.Contains(block, cfg.ArgPrefix+"url\nhttp://x\n") {
		t.Errorf("expected url arg line, got:\n%s", block)
	}

	p := parser.New(cfg)
	events := append(p.Feed(block), p.Finalize()...)
	if len(events) != 1 || events[0].Call == nil {
		t.Fatalf("expected one parsed gadget call, got %+v", events)
	}
	if !reflect.DeepEqual(events[0].Call.Parameters, call.Parameters) {
		t.Errorf("parsed parameters = %v, want %v", events[0].Call.Parameters, call.Parameters)
	}
}

func TestResultText(t *testing.T) {
	if got := ResultText("call1", "done", ""); got != "Result (call1): done" {
		t.Errorf("got %q", got)
	}
	if got := ResultText("call1", "", "boom"); got != "Result (call1): error: boom" {
		t.Errorf("got %q", got)
	}
}

func TestAppendCallTurns(t *testing.T) {
	cfg := markers.Default()
	call := models.GadgetCall{GadgetName: "Fetch", InvocationID: "call1", Parameters: map[string]any{"url": "http://x"}}
	turns := AppendCallTurns(nil, cfg, call, "ok", "")
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != models.RoleAssistant || turns[1].Role != models.RoleUser {
		t.Errorf("roles = %v, %v", turns[0].Role, turns[1].Role)
	}
	if !strings.Contains(turns[1].Text(), "Result (call1): ok") {
		t.Errorf("user turn = %q", turns[1].Text())
	}
}
