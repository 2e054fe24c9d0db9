package transcript

import (
	"fmt"
	"strings"

	"github.com/zbigniewsobiecki/llmist/pkg/encoding"
	"github.com/zbigniewsobiecki/llmist/pkg/gadget"
	"github.com/zbigniewsobiecki/llmist/pkg/markers"
	"github.com/zbigniewsobiecki/llmist/pkg/models"
)

// TemplateContext is handed to any Template field configured as a function,
// matching spec.md §4.E's "{startPrefix, endPrefix, argPrefix, gadgetCount,
// gadgetNames}" context.
type TemplateContext struct {
	StartPrefix string
	EndPrefix   string
	ArgPrefix   string
	GadgetCount int
	GadgetNames []string
}

// stringSource is either a static string or a function of TemplateContext.
// Go has no natural union type for this; render uses fn when it is set and
// text otherwise.
type stringSource struct {
	text string
	fn   func(TemplateContext) string
}

func staticString(s string) stringSource   { return stringSource{text: s} }
func dynamicString(f func(TemplateContext) string) stringSource { return stringSource{fn: f} }

func (s stringSource) render(ctx TemplateContext) string {
	if s.fn != nil {
		return s.fn(ctx)
	}
	return s.text
}

// Template configures the system prompt's fixed prose: the main
// instruction, a per-format description of parameter syntax, and a list of
// rules. NewTemplate supplies the defaults; WithMainInstruction and
// WithRules replace the main instruction and the rules with static strings.
// The format description cannot be replaced, and no exported method sets a
// part to a function of TemplateContext.
type Template struct {
	mainInstruction   stringSource
	formatDescription stringSource
	rules             []stringSource
}

// NewTemplate builds a Template with llmist's default prose, grounded on
// the marker protocol described in spec.md §6.
func NewTemplate() *Template {
	return &Template{
		mainInstruction: staticString(
			"You can invoke gadgets (tools) by writing a specially-marked block " +
				"in your response. The runtime scans your output for these blocks, " +
				"executes the named gadget with the given parameters, and returns " +
				"the result to you before your next turn.",
		),
		formatDescription: dynamicString(func(ctx TemplateContext) string {
			return fmt.Sprintf(
				"A gadget call looks like:\n\n"+
					"%sGADGET_NAME[:invocationId[:dep1,dep2]]\n"+
					"%sparameter/path\n"+
					"value (may span multiple lines)\n"+
					"%s\n\n"+
					"%s starts the call. %s ends it. Each %s line introduces one "+
					"parameter; its value is everything up to the next %s or %s "+
					"line. Parameter paths use \"/\" to nest into objects and "+
					"numeric segments (\"0\", \"1\", ...) to build arrays.",
				ctx.StartPrefix, ctx.ArgPrefix, ctx.EndPrefix,
				ctx.StartPrefix, ctx.EndPrefix, ctx.ArgPrefix, ctx.ArgPrefix, ctx.EndPrefix,
			)
		}),
		rules: []stringSource{
			staticString("Use the exact prefixes shown above, verbatim, at the start of a line."),
			staticString("You may invoke more than one gadget in a single response."),
			dynamicString(func(ctx TemplateContext) string {
				return fmt.Sprintf("An invocation ID lets a later call depend on an earlier one's result; omit it to get an auto-generated ID (there are %d gadgets available: %s).",
					ctx.GadgetCount, strings.Join(ctx.GadgetNames, ", "))
			}),
			staticString("Gadgets with unmet or failed dependencies are skipped; you will see why."),
		},
	}
}

// WithMainInstruction overrides the opening instruction paragraph.
func (t *Template) WithMainInstruction(s string) *Template {
	t.mainInstruction = staticString(s)
	return t
}

// WithRules overrides the rule list entirely with static strings.
func (t *Template) WithRules(rules ...string) *Template {
	t.rules = make([]stringSource, len(rules))
	for i, r := range rules {
		t.rules[i] = staticString(r)
	}
	return t
}

func (t *Template) render(ctx TemplateContext) (main, format string, rules []string) {
	main = t.mainInstruction.render(ctx)
	format = t.formatDescription.render(ctx)
	rules = make([]string, len(t.rules))
	for i, r := range t.rules {
		rules[i] = r.render(ctx)
	}
	return main, format, rules
}

// renderGadgetSection renders one gadget's description, schema, and worked
// examples block for inclusion in the system prompt.
func renderGadgetSection(cfg markers.Config, enc encoding.Encoding, g *gadget.Gadget) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s\n\n", g.Name)
	if g.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", g.Description)
	}
	fmt.Fprintf(&b, "Parameters:\n%s\n", encoding.RenderSchemaDescription(g.ParameterSchema))
	for _, ex := range g.Examples {
		rendered, err := encoding.RenderExample(enc, ex.Parameters)
		if err != nil {
			rendered = fmt.Sprintf("(example failed to render: %v)", err)
		}
		fmt.Fprintf(&b, "\nExample (%s)", enc)
		if ex.Description != "" {
			fmt.Fprintf(&b, " — %s", ex.Description)
		}
		b.WriteString(":\n")
		if enc == encoding.Block {
			fmt.Fprintf(&b, "%s\n", MarkerBlock(cfg, models.GadgetCall{GadgetName: g.Name, Parameters: ex.Parameters}))
		} else {
			fmt.Fprintf(&b, "%s\n", rendered)
		}
	}
	return b.String()
}
