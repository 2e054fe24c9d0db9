package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zbigniewsobiecki/llmist/pkg/gadget"
	"github.com/zbigniewsobiecki/llmist/pkg/llm"
	"github.com/zbigniewsobiecki/llmist/pkg/markers"
	"github.com/zbigniewsobiecki/llmist/pkg/models"
)

func call(cfg markers.Config, name, id string, deps []string, params map[string]string) string {
	var b strings.Builder
	header := name
	if id != "" {
		header += ":" + id
		if len(deps) > 0 {
			header += ":" + strings.Join(deps, ",")
		}
	}
	fmt.Fprintf(&b, "%s%s\n", cfg.StartPrefix, header)
	for k, v := range params {
		fmt.Fprintf(&b, "%s%s\n%s\n", cfg.ArgPrefix, k, v)
	}
	b.WriteString(cfg.EndPrefix)
	return b.String()
}

func echoRegistry(t *testing.T) *gadget.Registry {
	t.Helper()
	r := gadget.NewRegistry()
	err := r.Register(&gadget.Gadget{
		Name: "Echo",
		ParameterSchema: map[string]any{
			"type":     "object",
			"required": []any{"text"},
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
		},
		Execute: func(ctx context.Context, params map[string]any) (gadget.Result, error) {
			return gadget.TextResult(fmt.Sprintf("echo:%v", params["text"])), nil
		},
	})
	if err != nil {
		t.Fatalf("register Echo: %v", err)
	}
	err = r.Register(&gadget.Gadget{
		Name: "Boom",
		Execute: func(ctx context.Context, params map[string]any) (gadget.Result, error) {
			return gadget.Result{}, fmt.Errorf("boom")
		},
	})
	if err != nil {
		t.Fatalf("register Boom: %v", err)
	}
	return r
}

func newLoop(t *testing.T, provider llm.Provider, opts ...func(*Config)) *Loop {
	t.Helper()
	cfg := Config{
		Model:    "scripted-model",
		Provider: provider,
		Registry: echoRegistry(t),
		Markers:  markers.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	return New(cfg)
}

func TestLoop_NoGadgetCallsStops(t *testing.T) {
	loop := newLoop(t, llm.NewScripted("just a plain answer, no calls here"))
	res, err := loop.Run(context.Background(), []models.Message{models.NewTextMessage(models.RoleUser, "hi")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", res.FinishReason)
	}
	if res.FinalText != "just a plain answer, no calls here" {
		t.Errorf("FinalText = %q", res.FinalText)
	}
	if res.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", res.Iterations)
	}
}

func TestLoop_ExecutesGadgetAndAppendsResult(t *testing.T) {
	cfg := markers.Default()
	turn1 := call(cfg, "Echo", "c1", nil, map[string]string{"text": "hello"})
	turn2 := "all done"
	loop := newLoop(t, llm.NewScripted(turn1, turn2))

	res, err := loop.Run(context.Background(), []models.Message{models.NewTextMessage(models.RoleUser, "go")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinishReason != "stop" || res.Iterations != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	foundResult := false
	for _, m := range res.Transcript {
		if m.Role == models.RoleUser && strings.Contains(m.Text(), "Result (c1): echo:hello") {
			foundResult = true
		}
	}
	if !foundResult {
		t.Errorf("expected a Result(c1) turn in transcript, got: %+v", res.Transcript)
	}
}

func TestLoop_DependencyChainExecutesInOrder(t *testing.T) {
	cfg := markers.Default()
	first := call(cfg, "Echo", "c1", nil, map[string]string{"text": "a"})
	second := call(cfg, "Echo", "c2", []string{"c1"}, map[string]string{"text": "b"})
	turn1 := first + "\n" + second
	loop := newLoop(t, llm.NewScripted(turn1, "done"))

	res, err := loop.Run(context.Background(), []models.Message{models.NewTextMessage(models.RoleUser, "go")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	text := ""
	for _, m := range res.Transcript {
		text += m.Text() + "\n"
	}
	if !strings.Contains(text, "Result (c1): echo:a") || !strings.Contains(text, "Result (c2): echo:b") {
		t.Errorf("missing expected results, transcript:\n%s", text)
	}
}

func TestLoop_FailedDependencyCascadesSkip(t *testing.T) {
	cfg := markers.Default()
	boom := call(cfg, "Boom", "c1", nil, nil)
	dependent := call(cfg, "Echo", "c2", []string{"c1"}, map[string]string{"text": "never"})
	turn1 := boom + "\n" + dependent
	loop := newLoop(t, llm.NewScripted(turn1, "done"))

	res, err := loop.Run(context.Background(), []models.Message{models.NewTextMessage(models.RoleUser, "go")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	text := ""
	for _, m := range res.Transcript {
		text += m.Text() + "\n"
	}
	if !strings.Contains(text, "Result (c1): error: boom") {
		t.Errorf("expected c1 error result, got:\n%s", text)
	}
	if !strings.Contains(text, "Result (c2): error: skipped") {
		t.Errorf("expected c2 skipped result, got:\n%s", text)
	}
}

func TestLoop_UnknownGadgetSurfacesAsError(t *testing.T) {
	cfg := markers.Default()
	bad := call(cfg, "NoSuchGadget", "c1", nil, map[string]string{"x": "1"})
	loop := newLoop(t, llm.NewScripted(bad, "done"))

	res, err := loop.Run(context.Background(), []models.Message{models.NewTextMessage(models.RoleUser, "go")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	text := ""
	for _, m := range res.Transcript {
		text += m.Text() + "\n"
	}
	if !strings.Contains(text, "Result (c1): error:") || !strings.Contains(text, "unknown gadget") {
		t.Errorf("expected unknown-gadget error, got:\n%s", text)
	}
}

func TestLoop_DependencyCycleFailsBothCalls(t *testing.T) {
	cfg := markers.Default()
	a := call(cfg, "Echo", "c1", []string{"c2"}, map[string]string{"text": "a"})
	b := call(cfg, "Echo", "c2", []string{"c1"}, map[string]string{"text": "b"})
	loop := newLoop(t, llm.NewScripted(a+"\n"+b, "done"))

	res, err := loop.Run(context.Background(), []models.Message{models.NewTextMessage(models.RoleUser, "go")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	text := ""
	for _, m := range res.Transcript {
		text += m.Text() + "\n"
	}
	if strings.Count(text, "dependency cycle detected") != 2 {
		t.Errorf("expected both calls to report a cycle, got:\n%s", text)
	}
}

func TestLoop_MaxIterationsForcesSummaryPass(t *testing.T) {
	cfg := markers.Default()
	keepsCallingText := call(cfg, "Echo", "loop", nil, map[string]string{"text": "again"})
	loop := newLoop(t, llm.NewScripted(keepsCallingText, keepsCallingText, "final summary"), func(c *Config) {
		c.MaxIterations = 2
	})

	res, err := loop.Run(context.Background(), []models.Message{models.NewTextMessage(models.RoleUser, "go")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinishReason != "max_iterations" {
		t.Errorf("FinishReason = %q, want max_iterations", res.FinishReason)
	}
	if res.FinalText != "final summary" {
		t.Errorf("FinalText = %q, want the final pass's text verbatim", res.FinalText)
	}
}

// retryOnceProvider fails its first Complete call with a retryable error and
// succeeds on the second, exercising Loop.streamWithRetry.
type retryOnceProvider struct {
	mu      sync.Mutex
	calls   int
	success string
}

func (p *retryOnceProvider) Name() string { return "retry-once" }

func (p *retryOnceProvider) Complete(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()

	out := make(chan llm.Chunk, 2)
	if n == 1 {
		out <- llm.Chunk{Err: llm.NewError(llm.ErrorKindStream, fmt.Errorf("transient"))}
		close(out)
		return out, nil
	}
	out <- llm.Chunk{Text: p.success}
	out <- llm.Chunk{Done: true, FinishReason: "stop"}
	close(out)
	return out, nil
}

func TestLoop_RetriesOnceOnRetryableError(t *testing.T) {
	provider := &retryOnceProvider{success: "recovered"}
	loop := newLoop(t, provider)
	res, err := loop.Run(context.Background(), []models.Message{models.NewTextMessage(models.RoleUser, "go")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalText != "recovered" {
		t.Errorf("FinalText = %q, want recovered", res.FinalText)
	}
	if provider.calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", provider.calls)
	}
}

func TestLoop_RunTimeoutCancelsRun(t *testing.T) {
	slow := &slowProvider{delay: 50 * time.Millisecond}
	loop := newLoop(t, slow, func(c *Config) {
		c.RunTimeout = 5 * time.Millisecond
	})
	_, err := loop.Run(context.Background(), []models.Message{models.NewTextMessage(models.RoleUser, "go")})
	if err == nil {
		t.Fatal("expected an error from a timed-out run")
	}
}

type slowProvider struct{ delay time.Duration }

func (s *slowProvider) Name() string { return "slow" }

func (s *slowProvider) Complete(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		select {
		case <-time.After(s.delay):
			out <- llm.Chunk{Text: "late"}
			out <- llm.Chunk{Done: true, FinishReason: "stop"}
		case <-ctx.Done():
			out <- llm.Chunk{Err: llm.NewError(llm.ErrorKindCancelled, ctx.Err())}
		}
	}()
	return out, nil
}
