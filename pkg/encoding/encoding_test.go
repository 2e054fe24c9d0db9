package encoding

import (
	"strings"
	"testing"
)

var sampleParams = map[string]any{
	"url":     "http://example.com",
	"retries": "3",
}

func TestRenderExample_Block(t *testing.T) {
	out, err := RenderExample(Block, sampleParams)
	if err != nil {
		t.Fatalf("RenderExample(Block): %v", err)
	}
	if !strings.Contains(out, "retries: 3") || !strings.Contains(out, "url: http://example.com") {
		t.Errorf("block output = %q", out)
	}
}

func TestRenderExample_JSON(t *testing.T) {
	out, err := RenderExample(JSON, sampleParams)
	if err != nil {
		t.Fatalf("RenderExample(JSON): %v", err)
	}
	if !strings.Contains(out, `"url": "http://example.com"`) {
		t.Errorf("json output = %q", out)
	}
}

func TestRenderExample_YAML(t *testing.T) {
	out, err := RenderExample(YAML, sampleParams)
	if err != nil {
		t.Fatalf("RenderExample(YAML): %v", err)
	}
	if !strings.Contains(out, "url: http://example.com") {
		t.Errorf("yaml output = %q", out)
	}
}

func TestRenderExample_TOML(t *testing.T) {
	out, err := RenderExample(TOML, sampleParams)
	if err != nil {
		t.Fatalf("RenderExample(TOML): %v", err)
	}
	if !strings.Contains(out, `url = "http://example.com"`) {
		t.Errorf("toml output = %q", out)
	}
}

func TestRenderExample_XML(t *testing.T) {
	out, err := RenderExample(XML, sampleParams)
	if err != nil {
		t.Fatalf("RenderExample(XML): %v", err)
	}
	if !strings.Contains(out, "<url>http://example.com</url>") {
		t.Errorf("xml output = %q", out)
	}
}

func TestEncodingValid(t *testing.T) {
	for _, e := range []Encoding{Block, JSON, YAML, TOML, XML} {
		if !e.Valid() {
			t.Errorf("%v should be valid", e)
		}
	}
	if Encoding("bogus").Valid() {
		t.Error("bogus encoding should not be valid")
	}
}

func TestRenderSchemaDescription(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"url"},
		"properties": map[string]any{
			"url": map[string]any{"type": "string", "description": "target URL"},
			"retries": map[string]any{
				"type": "integer",
			},
		},
	}
	desc := RenderSchemaDescription(schema)
	if !strings.Contains(desc, "url (string, required): target URL") {
		t.Errorf("description missing required url field, got %q", desc)
	}
	if !strings.Contains(desc, "retries (integer, optional)") {
		t.Errorf("description missing optional retries field, got %q", desc)
	}
}

func TestRenderSchemaDescription_Nil(t *testing.T) {
	if got := RenderSchemaDescription(nil); got != "(no parameters)" {
		t.Errorf("got %q", got)
	}
}
