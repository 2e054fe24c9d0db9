// Package agent implements the agent loop (spec.md §4.F): the iteration
// cycle that streams a completion from an LLM provider, parses gadget
// calls out of it, executes them as a dependency-ordered concurrent DAG,
// and feeds the results back for the next iteration.
package agent

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zbigniewsobiecki/llmist/pkg/encoding"
	"github.com/zbigniewsobiecki/llmist/pkg/gadget"
	"github.com/zbigniewsobiecki/llmist/pkg/llm"
	"github.com/zbigniewsobiecki/llmist/pkg/markers"
	"github.com/zbigniewsobiecki/llmist/pkg/models"
	"github.com/zbigniewsobiecki/llmist/pkg/parser"
	"github.com/zbigniewsobiecki/llmist/pkg/transcript"
	"github.com/zbigniewsobiecki/llmist/pkg/tree"
)

// Config configures one Loop instance. Tree and ParentGadgetNodeID are set
// by the subagent gadget pattern (pkg/subagent, component H) when spawning
// a nested loop sharing the parent's tree. ParentGadgetNodeID is empty for
// a top-level run; a nil Tree makes the loop build its own.
type Config struct {
	Model    string
	Provider llm.Provider

	Registry *gadget.Registry
	Markers  markers.Config
	Encoding encoding.Encoding

	MaxIterations  int
	MaxConcurrency int
	MaxTokens      int
	RunTimeout     time.Duration // 0 means no wall-clock limit

	Hooks Hooks
	Tree  *tree.Tree

	// ParentGadgetNodeID, if set, is the tree node ID of the gadget whose
	// execution spawned this loop (a subagent); llm_call nodes this loop
	// creates are parented under it.
	ParentGadgetNodeID string
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 5
	}
	if c.Encoding == "" {
		c.Encoding = encoding.Block
	}
	if c.Hooks == nil {
		c.Hooks = NopHooks{}
	}
	if c.Tree == nil {
		c.Tree = tree.New()
	}
	return c
}

// Result is what Run returns on successful (possibly max-iterations-capped)
// completion.
type Result struct {
	Transcript   []models.Message
	FinalText    string
	FinishReason string
	Iterations   int
}

// Loop runs one agent instance: a sequence of provider completions, each
// parsed for gadget calls and dispatched through the shared execution tree.
type Loop struct {
	cfg     Config
	builder *transcript.Builder
}

// New builds a Loop. Registry and Provider are required.
func New(cfg Config) *Loop {
	cfg = cfg.withDefaults()
	return &Loop{
		cfg:     cfg,
		builder: transcript.New(cfg.Markers, cfg.Registry, cfg.Encoding),
	}
}

// SystemPrompt renders this loop's system message, for callers to prepend
// to their seed transcript.
func (l *Loop) SystemPrompt() models.Message {
	return l.builder.SystemPrompt()
}

// Run executes the agent loop starting from transcript (which should
// already include the system prompt — see Loop.SystemPrompt — and at least
// one user message). It terminates when a model turn produces no gadget
// calls, when MaxIterations is exceeded (after one final summary-only
// pass), or when ctx is cancelled or RunTimeout elapses.
func (l *Loop) Run(ctx context.Context, seed []models.Message) (Result, error) {
	if l.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.RunTimeout)
		defer cancel()
	}

	txn := append([]models.Message(nil), seed...)
	iter := 0
	for {
		iter++
		if iter > l.cfg.MaxIterations {
			txn = append(txn, models.NewTextMessage(models.RoleUser,
				"You have reached the maximum number of iterations. Acknowledge "+
					"and provide a final summary; no further gadget calls will be executed."))
			text, _, _, err := l.runIteration(ctx, txn, iter, false)
			if err != nil {
				return Result{Transcript: txn, Iterations: iter}, err
			}
			txn = append(txn, models.NewTextMessage(models.RoleAssistant, text))
			return Result{Transcript: txn, FinalText: text, FinishReason: "max_iterations", Iterations: iter}, nil
		}

		text, calls, nodeIDs, err := l.runIteration(ctx, txn, iter, true)
		if err != nil {
			return Result{Transcript: txn, Iterations: iter}, err
		}

		if len(calls) == 0 {
			txn = append(txn, models.NewTextMessage(models.RoleAssistant, text))
			return Result{Transcript: txn, FinalText: text, FinishReason: "stop", Iterations: iter}, nil
		}

		txn, err = l.dispatchCalls(ctx, txn, calls, nodeIDs)
		if err != nil {
			return Result{Transcript: txn, Iterations: iter}, err
		}

		if ctx.Err() != nil {
			return Result{Transcript: txn, Iterations: iter}, llm.NewError(llm.ErrorKindCancelled, ctx.Err())
		}
	}
}

// runIteration streams one completion, parses it, and records the llm_call
// node (and, if gadgets are allowed, a pending gadget node per call).
// allowGadgets false is used for the final max-iterations summary pass: a
// misbehaving model's gadget calls are still parsed (the parser runs on every
// stream) but never recorded or executed, matching spec.md §4.F step 8's
// "non-gadget-allowed pass". The returned text is the raw streamed text,
// marker blocks included.
func (l *Loop) runIteration(ctx context.Context, txn []models.Message, iter int, allowGadgets bool) (string, []models.GadgetCall, map[string]string, error) {
	node := l.cfg.Tree.AddLLMCall(tree.AddLLMCallInput{
		Iteration: iter,
		Model:     l.cfg.Model,
		ParentID:  l.cfg.ParentGadgetNodeID,
	})
	hc := HookContext{LLMCallNodeID: node.ID}
	req := llm.Request{Model: l.cfg.Model, Messages: txn, MaxTokens: l.cfg.MaxTokens}

	l.cfg.Hooks.OnLLMCallStart(ctx, hc, req)

	text, finishReason, usage, calls, err := l.streamWithRetry(ctx, hc, req)
	if err != nil {
		retryable := false
		if lerr, ok := err.(*llm.Error); ok {
			retryable = lerr.Retryable()
		}
		_ = l.cfg.Tree.FailLLMCall(node.ID, err, retryable)
		l.cfg.Hooks.OnLLMCallError(ctx, hc, err)
		return "", nil, nil, err
	}

	_ = l.cfg.Tree.CompleteLLMCall(node.ID, tree.CompleteLLMCallInput{
		Response:     text,
		Usage:        usage,
		FinishReason: finishReason,
	})
	l.cfg.Hooks.OnLLMCallComplete(ctx, hc, text, usage)

	if !allowGadgets {
		return text, nil, nil, nil
	}

	nodeIDs := make(map[string]string, len(calls))
	for _, c := range calls {
		gnode := l.cfg.Tree.AddGadget(tree.AddGadgetInput{
			InvocationID: c.InvocationID,
			Name:         c.GadgetName,
			Parameters:   c.Parameters,
			ParentID:     node.ID,
			Dependencies: c.Dependencies,
		})
		_ = l.cfg.Tree.RecordGadgetCall(node.ID, gnode.ID)
		nodeIDs[c.InvocationID] = gnode.ID
	}

	return text, calls, nodeIDs, nil
}

// streamWithRetry streams one completion, retrying exactly once if the
// failure's ErrorKind is retryable (spec.md §7).
func (l *Loop) streamWithRetry(ctx context.Context, hc HookContext, req llm.Request) (text, finishReason string, usage *models.Usage, calls []models.GadgetCall, err error) {
	text, finishReason, usage, calls, err = l.streamOnce(ctx, hc, req)
	if err == nil {
		return text, finishReason, usage, calls, nil
	}
	lerr, ok := err.(*llm.Error)
	if !ok || !lerr.Retryable() || ctx.Err() != nil {
		return "", "", nil, nil, err
	}
	if sleepErr := sleepWithContext(ctx, retryDelay()); sleepErr != nil {
		return "", "", nil, nil, err
	}
	return l.streamOnce(ctx, hc, req)
}

// retryDelay is the wait before the single retry spec.md §7 allows on a
// retryable LLM streaming error: 50ms plus up to 5% jitter, so a burst of
// concurrent retries across subagent loops doesn't retry in lockstep.
func retryDelay() time.Duration {
	const base = 50 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base)/20 + 1)) // #nosec G404 -- jitter, not a security decision
	return base + jitter
}

// sleepWithContext blocks for d, or returns ctx.Err() early if ctx is
// cancelled first.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (l *Loop) streamOnce(ctx context.Context, hc HookContext, req llm.Request) (string, string, *models.Usage, []models.GadgetCall, error) {
	ch, err := l.cfg.Provider.Complete(ctx, req)
	if err != nil {
		if lerr, ok := err.(*llm.Error); ok {
			return "", "", nil, nil, lerr
		}
		return "", "", nil, nil, llm.NewError(llm.ErrorKindStream, err)
	}

	p := parser.New(l.cfg.Markers)
	var text string
	var calls []models.GadgetCall
	var finishReason string
	var usage *models.Usage

	for chunk := range ch {
		if chunk.Err != nil {
			if lerr, ok := chunk.Err.(*llm.Error); ok {
				return "", "", nil, nil, lerr
			}
			return "", "", nil, nil, llm.NewError(llm.ErrorKindStream, chunk.Err)
		}
		if chunk.Text != "" {
			text += chunk.Text
			l.cfg.Hooks.OnLLMCallStreamChunk(ctx, hc, chunk.Text)
			for _, ev := range p.Feed(chunk.Text) {
				if ev.Type == models.StreamEventGadgetCall {
					calls = append(calls, *ev.Call)
				}
			}
		}
		if chunk.Done {
			finishReason = chunk.FinishReason
			usage = chunk.Usage
		}
	}
	for _, ev := range p.Finalize() {
		if ev.Type == models.StreamEventGadgetCall {
			calls = append(calls, *ev.Call)
		}
	}
	return text, finishReason, usage, calls, nil
}

// dispatchCalls builds the dependency DAG for calls, executes it wave by
// wave with bounded concurrency, and appends the resulting assistant/user
// turns to txn in original invocation order.
func (l *Loop) dispatchCalls(ctx context.Context, txn []models.Message, calls []models.GadgetCall, nodeIDs map[string]string) ([]models.Message, error) {
	resolved := buildDAG(calls, func(name string) bool {
		_, ok := l.cfg.Registry.Get(name)
		return ok
	})
	byID := indexByID(resolved)

	// Immediate failures (parse errors, unknown gadget/dependency, cycles)
	// never execute; record their terminal tree state up front. The tree
	// only allows completing a running gadget (see tree.CompleteGadget), so
	// these still pass through StartGadget even though nothing ran.
	for _, rc := range resolved {
		if rc.status == callFailed {
			nodeID := nodeIDs[rc.call.InvocationID]
			_ = l.cfg.Tree.StartGadget(nodeID)
			_ = l.cfg.Tree.CompleteGadget(nodeID, tree.CompleteGadgetInput{Error: rc.errMessage})
		}
	}

	for {
		wave := nextWave(byID, resolved)
		if len(wave) == 0 {
			break
		}
		if err := l.executeWave(ctx, wave, nodeIDs); err != nil {
			return txn, err
		}
		l.recordSkips(wave, byID, nodeIDs)
	}
	// nextWave marks a call callSkipped instead of placing it in a wave, so
	// the per-wave recordSkips calls above never see a skipped call; this
	// sweep over the full resolved list is what writes every pending->skipped
	// transition to the tree.
	l.recordSkips(resolved, byID, nodeIDs)

	for _, rc := range resolved {
		result, errText := rc.resultAndError()
		txn = transcript.AppendCallTurns(txn, l.cfg.Markers, rc.call, result, errText)
	}
	return txn, nil
}

// executeWave runs every call in wave concurrently, bounded by
// MaxConcurrency, and updates each resolvedCall's status in place.
func (l *Loop) executeWave(ctx context.Context, wave []*resolvedCall, nodeIDs map[string]string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.MaxConcurrency)

	for _, rc := range wave {
		rc := rc
		g.Go(func() error {
			l.executeCall(gctx, rc, nodeIDs[rc.call.InvocationID])
			return nil
		})
	}
	return g.Wait()
}

func (l *Loop) executeCall(ctx context.Context, rc *resolvedCall, nodeID string) {
	g, ok := l.cfg.Registry.Get(rc.call.GadgetName)
	if !ok {
		// buildDAG already screens unknown gadgets out of pending calls, but
		// guard defensively since Registry contents could change mid-run.
		rc.status = callFailed
		rc.errMessage = fmt.Sprintf("unknown gadget %q", rc.call.GadgetName)
		_ = l.cfg.Tree.StartGadget(nodeID)
		_ = l.cfg.Tree.CompleteGadget(nodeID, tree.CompleteGadgetInput{Error: rc.errMessage})
		return
	}

	hc := HookContext{GadgetNodeID: nodeID, GadgetInvocationID: rc.call.InvocationID}

	if err := g.ValidateParameters(rc.call.Parameters); err != nil {
		rc.status = callFailed
		rc.errMessage = fmt.Sprintf("invalid parameters: %v", err)
		_ = l.cfg.Tree.StartGadget(nodeID)
		_ = l.cfg.Tree.CompleteGadget(nodeID, tree.CompleteGadgetInput{Error: rc.errMessage})
		l.cfg.Hooks.OnGadgetExecutionError(ctx, hc, fmt.Errorf("%s", rc.errMessage))
		return
	}

	l.cfg.Hooks.OnGadgetExecutionStart(ctx, hc, rc.call)
	_ = l.cfg.Tree.StartGadget(nodeID)

	execCtx := WithGadgetContext(ctx, l.cfg.Tree, nodeID)
	start := time.Now()
	res, err := gadget.ExecuteWithTimeout(execCtx, g, rc.call.Parameters)
	elapsed := time.Since(start)

	if err != nil {
		rc.status = callFailed
		rc.errMessage = err.Error()
		_ = l.cfg.Tree.CompleteGadget(nodeID, tree.CompleteGadgetInput{
			Error:           rc.errMessage,
			ExecutionTimeMs: elapsed.Milliseconds(),
		})
		l.cfg.Hooks.OnGadgetExecutionError(ctx, hc, err)
		return
	}

	rc.status = callSucceeded
	rc.result = res.Text
	_ = l.cfg.Tree.CompleteGadget(nodeID, tree.CompleteGadgetInput{
		Result:          res.Text,
		Cost:            res.Cost,
		Media:           res.Media,
		ExecutionTimeMs: elapsed.Milliseconds(),
	})
	l.cfg.Hooks.OnGadgetExecutionComplete(ctx, hc, res)
}

// recordSkips writes the pending->skipped tree transition for every call in
// calls that nextWave has already marked callSkipped but whose transition
// hasn't been written yet (see resolvedCall.skipRecorded); dispatchCalls may
// sweep the resolved list more than once, so this is idempotent per call.
func (l *Loop) recordSkips(calls []*resolvedCall, byID map[string]*resolvedCall, nodeIDs map[string]string) {
	for _, rc := range calls {
		if rc.status != callSkipped || rc.skipRecorded {
			continue
		}
		depErr := ""
		if dep, ok := byID[rc.skipDepID]; ok {
			depErr = dep.errMessage
		}
		reason := fmt.Sprintf("dependency %q failed or was skipped", rc.skipDepID)
		_ = l.cfg.Tree.SkipGadget(nodeIDs[rc.call.InvocationID], rc.skipDepID, depErr, reason)
		rc.skipRecorded = true
	}
}
