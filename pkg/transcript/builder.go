// Package transcript builds the conversation turns the agent loop sends to
// the provider: the system prompt describing the marker protocol and
// available gadgets, and the assistant/user message pair that replays each
// executed gadget call back into the conversation.
package transcript

import (
	"fmt"
	"strings"

	"github.com/zbigniewsobiecki/llmist/pkg/encoding"
	"github.com/zbigniewsobiecki/llmist/pkg/gadget"
	"github.com/zbigniewsobiecki/llmist/pkg/markers"
	"github.com/zbigniewsobiecki/llmist/pkg/models"
)

// Builder assembles system prompts and per-call transcript turns for one
// agent run. It holds no mutable state; the same Builder may be shared
// across a parent agent and its subagents (they typically differ only in
// the system prompt prefix a subagent gadget prepends).
type Builder struct {
	Markers  markers.Config
	Registry *gadget.Registry
	Encoding encoding.Encoding
	Template *Template
}

// New builds a transcript Builder. enc defaults to encoding.Block if empty.
func New(cfg markers.Config, registry *gadget.Registry, enc encoding.Encoding) *Builder {
	if enc == "" {
		enc = encoding.Block
	}
	return &Builder{Markers: cfg, Registry: registry, Encoding: enc, Template: NewTemplate()}
}

// SystemPrompt renders the full system message: main instruction, marker
// format description with prefixes interpolated verbatim, rules, and one
// section per registered gadget.
func (b *Builder) SystemPrompt() models.Message {
	gadgets := b.Registry.All()
	names := make([]string, len(gadgets))
	for i, g := range gadgets {
		names[i] = g.Name
	}
	ctx := TemplateContext{
		StartPrefix: b.Markers.StartPrefix,
		EndPrefix:   b.Markers.EndPrefix,
		ArgPrefix:   b.Markers.ArgPrefix,
		GadgetCount: len(gadgets),
		GadgetNames: names,
	}
	main, format, rules := b.Template.render(ctx)

	var body strings.Builder
	body.WriteString(main)
	body.WriteString("\n\n")
	body.WriteString(format)
	body.WriteString("\n\nRules:\n")
	for _, r := range rules {
		fmt.Fprintf(&body, "- %s\n", r)
	}
	if len(gadgets) > 0 {
		body.WriteString("\n## Available gadgets\n\n")
		for _, g := range gadgets {
			body.WriteString(renderGadgetSection(b.Markers, b.Encoding, g))
			body.WriteString("\n")
		}
	}
	return models.NewTextMessage(models.RoleSystem, strings.TrimRight(body.String(), "\n"))
}

// MarkerBlock re-serializes a gadget call into the exact wire form the
// model would have produced, using markers.Flatten for a deterministic
// parameter ordering. Used to build the assistant "echo" message spec.md
// §4.E requires for every executed call, so the model sees its own prior
// behavior verbatim.
func MarkerBlock(cfg markers.Config, call models.GadgetCall) string {
	var b strings.Builder
	header := call.GadgetName
	if call.InvocationID != "" {
		header += ":" + call.InvocationID
		if len(call.Dependencies) > 0 {
			header += ":" + strings.Join(call.Dependencies, ",")
		}
	}
	fmt.Fprintf(&b, "%s%s\n", cfg.StartPrefix, header)
	for _, pv := range markers.Flatten(call.Parameters) {
		fmt.Fprintf(&b, "%s%s\n%s\n", cfg.ArgPrefix, pv.Path, pv.Value)
	}
	b.WriteString(cfg.EndPrefix)
	return b.String()
}

// ResultText renders the "Result (invocationId): <result>" user-message body
// spec.md §4.E specifies, from either a successful result or an error.
func ResultText(invocationID, result, errText string) string {
	if errText != "" {
		return fmt.Sprintf("Result (%s): error: %s", invocationID, errText)
	}
	return fmt.Sprintf("Result (%s): %s", invocationID, result)
}

// AppendCallTurns appends the assistant echo message and the user result
// message for one executed (or failed/skipped) call, in that order, to
// transcript and returns the extended slice. Called once per attempted call
// in invocation-ID order, per spec.md §4.F step 7.
func AppendCallTurns(transcript []models.Message, cfg markers.Config, call models.GadgetCall, result, errText string) []models.Message {
	assistant := models.NewTextMessage(models.RoleAssistant, MarkerBlock(cfg, call))
	user := models.NewTextMessage(models.RoleUser, ResultText(call.InvocationID, result, errText))
	return append(transcript, assistant, user)
}
