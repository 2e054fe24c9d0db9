// Package gadget describes callable tools ("gadgets"): their name,
// parameter schema, timeout, worked examples, and execute function, and
// provides the registry the agent loop and prompt assembler consult.
package gadget

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/time/rate"

	"github.com/zbigniewsobiecki/llmist/pkg/models"
)

// Result is what a gadget's Execute function returns. Text is always
// present; Cost and Media are optional, matching spec.md §4.C's
// "{result:string, cost?:number, media?:[…]}" contract. Go has no natural
// "string or struct" return, so every gadget returns a Result — TextResult
// is a convenience constructor for gadgets that only ever produce text.
type Result struct {
	Text  string
	Cost  float64
	Media []models.MediaRef
}

// TextResult builds a Result carrying only text, no cost or media.
func TextResult(text string) Result {
	return Result{Text: text}
}

// ExecuteFunc is a gadget's behavior. It may be long-running; callers are
// expected to honor ctx cancellation and (for gadgets with a configured
// timeout) a deadline already attached to ctx by the executor.
type ExecuteFunc func(ctx context.Context, params map[string]any) (Result, error)

// Example is one worked example rendered into the system prompt in the
// run's chosen parameter encoding.
type Example struct {
	Description string
	Parameters  map[string]any
}

// Gadget is a single callable tool descriptor.
type Gadget struct {
	Name        string
	Description string

	// ParameterSchema is a JSON Schema document (already unmarshaled into
	// Go values: map[string]any / []any / scalars) describing the
	// gadget's parameters. See FromStruct to derive one from a Go type.
	ParameterSchema map[string]any

	// TimeoutMs, if positive, bounds Execute; zero or negative means no
	// per-gadget timeout is enforced here (a run-level wall clock may
	// still apply, see the agent package).
	TimeoutMs int

	Examples []Example
	Execute  ExecuteFunc

	// RateLimiter, if set, bounds how often this gadget's Execute may
	// start; ExecuteWithTimeout blocks on it (respecting ctx cancellation
	// and the gadget's own timeout) before calling Execute. Nil means
	// unlimited.
	RateLimiter *rate.Limiter

	compiled *jsonschema.Schema
}

// compile validates ParameterSchema is well-formed JSON Schema and caches
// the compiled validator. Called once at registration time.
func (g *Gadget) compile() error {
	if g.ParameterSchema == nil {
		return nil
	}
	raw, err := json.Marshal(g.ParameterSchema)
	if err != nil {
		return fmt.Errorf("gadget %q: marshal schema: %w", g.Name, err)
	}
	resourceURL := "mem://gadget/" + g.Name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceURL, strings.NewReader(string(raw))); err != nil {
		return fmt.Errorf("gadget %q: add schema resource: %w", g.Name, err)
	}
	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		return fmt.Errorf("gadget %q: compile schema: %w", g.Name, err)
	}
	g.compiled = schema
	return nil
}

// ValidateParameters checks params against the gadget's compiled schema. A
// gadget with no ParameterSchema accepts any parameters.
func (g *Gadget) ValidateParameters(params map[string]any) error {
	if g.compiled == nil {
		return nil
	}
	return g.compiled.Validate(toInterfaceMap(params))
}

func toInterfaceMap(m map[string]any) any {
	// jsonschema validates against the decoded-JSON shape; our parameter
	// trees already are that shape (map[string]any / []any / string), so
	// this is the identity conversion, kept explicit for readability.
	return map[string]any(m)
}

// Timeout returns the gadget's configured timeout, or 0 if none.
func (g *Gadget) Timeout() time.Duration {
	if g.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(g.TimeoutMs) * time.Millisecond
}

// ErrTimeout is returned by ExecuteWithTimeout when a gadget's deadline
// expires before Execute returns.
var ErrTimeout = fmt.Errorf("gadget-timeout")

// ExecuteWithTimeout races g.Execute against g's configured timeout (if
// any). On expiry it returns ErrTimeout and never uses the gadget's
// eventual result, matching spec.md §4.C: "on expiry the invocation fails
// ... and no partial result is used." If g.RateLimiter is set, the wait for
// a token is itself bounded by the same timeout/cancellation.
func ExecuteWithTimeout(ctx context.Context, g *Gadget, params map[string]any) (Result, error) {
	timeout := g.Timeout()
	if timeout <= 0 {
		if g.RateLimiter != nil {
			if err := g.RateLimiter.Wait(ctx); err != nil {
				return Result{}, err
			}
		}
		return g.Execute(ctx, params)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if g.RateLimiter != nil {
		if err := g.RateLimiter.Wait(ctx); err != nil {
			return Result{}, ErrTimeout
		}
	}

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := g.Execute(ctx, params)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return Result{}, ErrTimeout
	}
}
