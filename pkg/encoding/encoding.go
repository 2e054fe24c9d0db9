// Package encoding renders a gadget call's example parameters in one of the
// five parameter encodings spec.md §4.C allows for worked examples in the
// system prompt: block (flat "path: value" lines keyed by the marker
// protocol's parameter paths), JSON, YAML, TOML, and XML. Exactly one
// encoding is selected per run.
package encoding

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/zbigniewsobiecki/llmist/pkg/gadget"
)

// Encoding names a parameter encoding the prompt assembler can render
// worked examples in.
type Encoding string

const (
	Block Encoding = "block"
	JSON  Encoding = "json"
	YAML  Encoding = "yaml"
	TOML  Encoding = "toml"
	XML   Encoding = "xml"
)

// Valid reports whether e is one of the five encodings this package knows
// how to render.
func (e Encoding) Valid() bool {
	switch e {
	case Block, JSON, YAML, TOML, XML:
		return true
	}
	return false
}

// RenderExample renders params in encoding e: for Block, the flat
// "path: value" lines of gadget.RenderParametersText; for JSON/YAML/TOML/XML,
// a standalone document.
func RenderExample(e Encoding, params map[string]any) (string, error) {
	switch e {
	case Block, "":
		return gadget.RenderParametersText(params), nil
	case JSON:
		raw, err := json.MarshalIndent(params, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encoding: render json example: %w", err)
		}
		return string(raw), nil
	case YAML:
		raw, err := yaml.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("encoding: render yaml example: %w", err)
		}
		return strings.TrimRight(string(raw), "\n"), nil
	case TOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(params); err != nil {
			return "", fmt.Errorf("encoding: render toml example: %w", err)
		}
		return strings.TrimRight(buf.String(), "\n"), nil
	case XML:
		return renderXML(params)
	default:
		return "", fmt.Errorf("encoding: unknown encoding %q", e)
	}
}

// xmlNode is an intermediate representation that lets encoding/xml marshal
// an arbitrary map[string]any / []any tree, which it cannot do directly
// since XML has no native map type.
type xmlNode struct {
	XMLName xml.Name
	Attr    []xml.Attr `xml:",any,attr"`
	Content string     `xml:",chardata"`
	Nodes   []xmlNode
}

func renderXML(params map[string]any) (string, error) {
	root := buildXMLNode("parameters", params)
	raw, err := xml.MarshalIndent(root, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding: render xml example: %w", err)
	}
	return string(raw), nil
}

func buildXMLNode(name string, v any) xmlNode {
	node := xmlNode{XMLName: xml.Name{Local: name}}
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			node.Nodes = append(node.Nodes, buildXMLNode(k, t[k]))
		}
	case []any:
		for _, elem := range t {
			node.Nodes = append(node.Nodes, buildXMLNode("item", elem))
		}
	default:
		node.Content = fmt.Sprintf("%v", t)
	}
	return node
}

// RenderSchemaDescription renders a JSON Schema document into the neutral,
// serialization-independent text form spec.md §4.C requires for parameter
// descriptions (as opposed to RenderExample's worked examples, which are
// always shown in the run's single chosen encoding).
func RenderSchemaDescription(schema map[string]any) string {
	if schema == nil {
		return "(no parameters)"
	}
	var lines []string
	describeSchema("", schema, &lines)
	return strings.Join(lines, "\n")
}

func describeSchema(prefix string, schema map[string]any, lines *[]string) {
	typ, _ := schema["type"].(string)
	switch typ {
	case "object":
		required := map[string]bool{}
		if reqList, ok := schema["required"].([]any); ok {
			for _, r := range reqList {
				if s, ok := r.(string); ok {
					required[s] = true
				}
			}
		}
		props, _ := schema["properties"].(map[string]any)
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			path := k
			if prefix != "" {
				path = prefix + "/" + k
			}
			childSchema, _ := props[k].(map[string]any)
			desc, _ := childSchema["description"].(string)
			childType, _ := childSchema["type"].(string)
			marker := "optional"
			if required[k] {
				marker = "required"
			}
			line := fmt.Sprintf("%s (%s, %s)", path, childType, marker)
			if desc != "" {
				line += ": " + desc
			}
			*lines = append(*lines, line)
			if childType == "object" || childType == "array" {
				describeSchema(path, childSchema, lines)
			}
		}
	case "array":
		items, _ := schema["items"].(map[string]any)
		itemType, _ := items["type"].(string)
		path := prefix + "/<index>"
		*lines = append(*lines, fmt.Sprintf("%s (%s, array element)", path, itemType))
		if itemType == "object" {
			describeSchema(path, items, lines)
		}
	}
}
