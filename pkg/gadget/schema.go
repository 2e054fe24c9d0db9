package gadget

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/zbigniewsobiecki/llmist/pkg/markers"
)

// FromStruct derives a JSON Schema document (as map[string]any, matching the
// shape Gadget.ParameterSchema expects) from a Go type, for gadgets whose
// parameters are naturally expressed as a struct. Pass a pointer to a zero
// value of the target type, e.g. FromStruct(&FetchParams{}).
func FromStruct(v any) map[string]any {
	r := &jsonschema.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := r.Reflect(v)
	raw, err := schema.MarshalJSON()
	if err != nil {
		// Reflection over a concrete Go struct cannot fail to marshal;
		// a panic here means the caller passed something reflect-hostile.
		panic(fmt.Sprintf("gadget: FromStruct: %v", err))
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("gadget: FromStruct: %v", err))
	}
	return out
}

// RenderParametersText renders params as flat "path: value" lines, one per
// leaf, sorted by path (via markers.Flatten). This is the "block" encoding's
// compact text form; it is not the !!!ARG: wire syntax, which
// transcript.MarkerBlock renders.
func RenderParametersText(params map[string]any) string {
	pairs := markers.Flatten(params)
	lines := make([]string, len(pairs))
	for i, pv := range pairs {
		lines[i] = pv.Path + ": " + pv.Value
	}
	return strings.Join(lines, "\n")
}
