package markers

import (
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zbigniewsobiecki/llmist/pkg/models"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestConfigValidate_PrefixCollision(t *testing.T) {
	cfg := Config{StartPrefix: "!!!X", EndPrefix: "!!!X:END", ArgPrefix: "!!!ARG:"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when one prefix prefixes another")
	}
}

func TestResolve_SimpleObject(t *testing.T) {
	got, perr := Resolve([]PathValue{{Path: "config/timeout", Value: "30"}})
	if perr != nil {
		t.Fatalf("unexpected parse error: %v", perr)
	}
	want := map[string]any{"config": map[string]any{"timeout": "30"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestResolve_Array(t *testing.T) {
	got, perr := Resolve([]PathValue{
		{Path: "items/0", Value: "a"},
		{Path: "items/1", Value: "b"},
	})
	if perr != nil {
		t.Fatalf("unexpected parse error: %v", perr)
	}
	want := map[string]any{"items": []any{"a", "b"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestResolve_DuplicatePath(t *testing.T) {
	_, perr := Resolve([]PathValue{
		{Path: "message", Value: "hi"},
		{Path: "message", Value: "again"},
	})
	if perr == nil || perr.Kind != models.ParseErrDuplicatePointer {
		t.Fatalf("expected duplicate-pointer error, got %v", perr)
	}
}

func TestResolve_ArrayGap(t *testing.T) {
	_, perr := Resolve([]PathValue{
		{Path: "items/0", Value: "a"},
		{Path: "items/2", Value: "c"},
	})
	if perr == nil || perr.Kind != models.ParseErrArrayIndexGap {
		t.Fatalf("expected array-index-gap error, got %v", perr)
	}
}

func TestResolve_ArrayGap_MissingZero(t *testing.T) {
	_, perr := Resolve([]PathValue{{Path: "items/1", Value: "a"}})
	if perr == nil || perr.Kind != models.ParseErrArrayIndexGap {
		t.Fatalf("expected array-index-gap error, got %v", perr)
	}
}

func TestResolve_TypeConflict_LeafThenContainer(t *testing.T) {
	_, perr := Resolve([]PathValue{
		{Path: "a", Value: "leaf"},
		{Path: "a/b", Value: "nested"},
	})
	if perr == nil || perr.Kind != models.ParseErrTypeConflict {
		t.Fatalf("expected type-conflict error, got %v", perr)
	}
}

func TestResolve_TypeConflict_ContainerThenLeaf(t *testing.T) {
	_, perr := Resolve([]PathValue{
		{Path: "a/b", Value: "nested"},
		{Path: "a", Value: "leaf"},
	})
	if perr == nil || perr.Kind != models.ParseErrTypeConflict {
		t.Fatalf("expected type-conflict error, got %v", perr)
	}
}

func TestResolve_TypeConflict_ObjectVsArray(t *testing.T) {
	_, perr := Resolve([]PathValue{
		{Path: "items/0", Value: "a"},
		{Path: "items/key", Value: "b"},
	})
	if perr == nil || perr.Kind != models.ParseErrTypeConflict {
		t.Fatalf("expected type-conflict error, got %v", perr)
	}
}

func TestResolve_LeadingZeroIsNotAnIndex(t *testing.T) {
	// "01" is not a valid index segment, so it is treated as an object key
	// inside an implicit object, not as array element 1.
	got, perr := Resolve([]PathValue{{Path: "items/01", Value: "x"}})
	if perr != nil {
		t.Fatalf("unexpected parse error: %v", perr)
	}
	want := map[string]any{"items": map[string]any{"01": "x"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestResolve_RoundTripsNestedStructure(t *testing.T) {
	got, perr := Resolve([]PathValue{
		{Path: "user/name", Value: "alice"},
		{Path: "user/tags/0", Value: "admin"},
		{Path: "user/tags/1", Value: "owner"},
	})
	if perr != nil {
		t.Fatalf("unexpected parse error: %v", perr)
	}
	want := map[string]any{
		"user": map[string]any{
			"name": "alice",
			"tags": []any{"admin", "owner"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reconstructed parameter tree mismatch (-want +got):\n%s", diff)
	}
}

func TestFlatten_RoundTripsWithResolve(t *testing.T) {
	pairs := []PathValue{
		{Path: "user/name", Value: "alice"},
		{Path: "user/tags/0", Value: "admin"},
		{Path: "user/tags/1", Value: "owner"},
	}
	tree, perr := Resolve(pairs)
	if perr != nil {
		t.Fatalf("Resolve: %v", perr)
	}
	flat := Flatten(tree)
	rebuilt, perr2 := Resolve(flat)
	if perr2 != nil {
		t.Fatalf("Resolve(Flatten(tree)): %v", perr2)
	}
	if diff := cmp.Diff(tree, rebuilt); diff != "" {
		t.Errorf("Resolve(Flatten(tree)) round trip mismatch (-tree +rebuilt):\n%s", diff)
	}
}

func TestFlatten_Deterministic(t *testing.T) {
	tree := map[string]any{"b": "2", "a": "1"}
	first := Flatten(tree)
	second := Flatten(tree)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Flatten should be deterministic, got %#v then %#v", first, second)
	}
	if first[0].Path != "a" || first[1].Path != "b" {
		t.Errorf("expected sorted paths, got %#v", first)
	}
}

func TestTryCoerceNumber(t *testing.T) {
	if n, ok := TryCoerceNumber("42"); !ok || n != 42 {
		t.Errorf("expected 42, got %v ok=%v", n, ok)
	}
	if _, ok := TryCoerceNumber("3.14"); !ok {
		t.Error("expected 3.14 to coerce")
	}
	if _, ok := TryCoerceNumber("not-a-number"); ok {
		t.Error("expected non-numeric string to not coerce")
	}
	if _, ok := TryCoerceNumber(" 42\n"); ok {
		t.Error("expected padded value to not coerce (preserve verbatim)")
	}
}
