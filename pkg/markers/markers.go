// Package markers defines the configurable sentinel strings of the gadget
// wire protocol and the pure function that reconstructs a structured
// parameter tree from flat (path, rawValue) pairs using JSON-Pointer-like
// slash-separated paths.
package markers

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/zbigniewsobiecki/llmist/pkg/models"
)

// Config holds the three marker strings that make up the textual tool-call
// protocol. The parser (to recognize markers) and the prompt assembler (to
// describe them to the model) must both be given the same Config.
type Config struct {
	StartPrefix string
	EndPrefix   string
	ArgPrefix   string
}

// Default returns the canonical marker configuration used by llmist when
// no custom prefixes are supplied.
func Default() Config {
	return Config{
		StartPrefix: "!!!GADGET_START:",
		EndPrefix:   "!!!GADGET_END",
		ArgPrefix:   "!!!ARG:",
	}
}

// Validate checks that no prefix is a prefix of any other, and that none is
// empty. A Config failing this is a fatal programming error, not a runtime
// parse failure (spec.md §4.B "Failure model").
func (c Config) Validate() error {
	prefixes := []string{c.StartPrefix, c.EndPrefix, c.ArgPrefix}
	for _, p := range prefixes {
		if p == "" {
			return fmt.Errorf("markers: prefix must not be empty")
		}
	}
	for i, a := range prefixes {
		for j, b := range prefixes {
			if i == j {
				continue
			}
			if strings.HasPrefix(a, b) {
				return fmt.Errorf("markers: prefix %q must not be a prefix of %q", b, a)
			}
		}
	}
	return nil
}

// PathValue is one flat (path, rawValue) pair extracted from an arg block.
type PathValue struct {
	Path  string
	Value string
}

// segment is one slash-separated piece of a path, classified as an object
// key or an array index per spec.md §4.A rule 2.
type segment struct {
	key     string
	isIndex bool
	index   int
}

func parsePath(path string) []segment {
	parts := strings.Split(path, "/")
	segs := make([]segment, len(parts))
	for i, p := range parts {
		if idx, ok := parseArrayIndex(p); ok {
			segs[i] = segment{isIndex: true, index: idx}
		} else {
			segs[i] = segment{key: p}
		}
	}
	return segs
}

// parseArrayIndex reports whether s is a valid array index segment: a
// non-empty run of ASCII digits, with leading zeros allowed only for the
// literal "0".
func parseArrayIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	if len(s) > 1 && s[0] == '0' {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// container is the mutable intermediate tree Resolve builds before
// finalizing it into plain map[string]any / []any / string values.
type container struct {
	isArray  bool
	isObject bool
	leafSet  bool
	leaf     string
	obj      map[string]*container
	arr      map[int]*container
}

// Resolve builds a structured parameter tree from a sequence of
// (path, rawValue) pairs, applying the rules of spec.md §4.A in order.
// Leaf values are stored verbatim as strings; type coercion is a caller
// concern (see TryCoerceNumber).
func Resolve(pairs []PathValue) (map[string]any, *models.CallParseError) {
	seen := make(map[string]bool, len(pairs))
	root := &container{}

	for _, pv := range pairs {
		if seen[pv.Path] {
			return nil, &models.CallParseError{
				Kind:    models.ParseErrDuplicatePointer,
				Message: fmt.Sprintf("duplicate parameter path %q", pv.Path),
			}
		}
		seen[pv.Path] = true

		segs := parsePath(pv.Path)
		cur := root
		for i, seg := range segs {
			last := i == len(segs)-1
			if cur.leafSet {
				return nil, &models.CallParseError{
					Kind:    models.ParseErrTypeConflict,
					Message: fmt.Sprintf("path %q treats a leaf value as a container", pv.Path),
				}
			}
			if seg.isIndex {
				if cur.isObject {
					return nil, &models.CallParseError{
						Kind:    models.ParseErrTypeConflict,
						Message: fmt.Sprintf("path %q mixes object and array segments", pv.Path),
					}
				}
				cur.isArray = true
				if cur.arr == nil {
					cur.arr = make(map[int]*container)
				}
				child, ok := cur.arr[seg.index]
				if !ok {
					child = &container{}
					cur.arr[seg.index] = child
				}
				if last {
					if child.isArray || child.isObject {
						return nil, &models.CallParseError{
							Kind:    models.ParseErrTypeConflict,
							Message: fmt.Sprintf("path %q assigns a leaf where a container already exists", pv.Path),
						}
					}
					child.leafSet = true
					child.leaf = pv.Value
				}
				cur = child
			} else {
				if cur.isArray {
					return nil, &models.CallParseError{
						Kind:    models.ParseErrTypeConflict,
						Message: fmt.Sprintf("path %q mixes object and array segments", pv.Path),
					}
				}
				cur.isObject = true
				if cur.obj == nil {
					cur.obj = make(map[string]*container)
				}
				child, ok := cur.obj[seg.key]
				if !ok {
					child = &container{}
					cur.obj[seg.key] = child
				}
				if last {
					if child.isArray || child.isObject {
						return nil, &models.CallParseError{
							Kind:    models.ParseErrTypeConflict,
							Message: fmt.Sprintf("path %q assigns a leaf where a container already exists", pv.Path),
						}
					}
					child.leafSet = true
					child.leaf = pv.Value
				}
				cur = child
			}
		}
	}

	out, perr := finalize(root)
	if perr != nil {
		return nil, perr
	}
	if m, ok := out.(map[string]any); ok {
		return m, nil
	}
	// A root consisting of a single leaf or bare array has no use in this
	// protocol (every call has named arg paths), but handle it gracefully.
	return map[string]any{"": out}, nil
}

func finalize(c *container) (any, *models.CallParseError) {
	if c.leafSet {
		return c.leaf, nil
	}
	if c.isObject {
		result := make(map[string]any, len(c.obj))
		for k, child := range c.obj {
			v, err := finalize(child)
			if err != nil {
				return nil, err
			}
			result[k] = v
		}
		return result, nil
	}
	if c.isArray {
		indices := make([]int, 0, len(c.arr))
		for idx := range c.arr {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for pos, idx := range indices {
			if idx != pos {
				return nil, &models.CallParseError{
					Kind:    models.ParseErrArrayIndexGap,
					Message: fmt.Sprintf("array index gap: expected %d, got %d", pos, idx),
				}
			}
		}
		result := make([]any, len(indices))
		for pos, idx := range indices {
			v, err := finalize(c.arr[idx])
			if err != nil {
				return nil, err
			}
			result[pos] = v
		}
		return result, nil
	}
	return map[string]any{}, nil
}

// Flatten is the inverse of Resolve: it walks a parameter tree (the
// map[string]any / []any / scalar shape Resolve produces) and returns the
// flat, slash-separated (path, value) pairs that reconstruct it, sorted by
// path for determinism. Values are rendered with fmt's default verb, since
// by the time a tree reaches Flatten its leaves are either the original
// verbatim strings or values a gadget/caller has already coerced.
//
// Resolve(Flatten(t)) reproduces t for any tree t that Resolve could have
// produced, satisfying spec.md §8's round-trip invariant.
func Flatten(params map[string]any) []PathValue {
	var out []PathValue
	flattenInto("", params, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func flattenInto(prefix string, v any, out *[]PathValue) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			flattenInto(joinPath(prefix, k), child, out)
		}
	case []any:
		for i, child := range t {
			flattenInto(joinPath(prefix, strconv.Itoa(i)), child, out)
		}
	default:
		*out = append(*out, PathValue{Path: prefix, Value: fmt.Sprintf("%v", t)})
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// TryCoerceNumber attempts to parse s as a decimal integer or float. Callers
// that opt into best-effort numeric coercion (spec.md §9 "Numeric coercion
// ambiguity") should keep the original string alongside the parsed number;
// this function never mutates s, it only reports whether coercion is
// possible and what value results.
func TryCoerceNumber(s string) (value float64, ok bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || trimmed != s {
		// Multi-line / whitespace-padded leaves are never coerced: doing so
		// would lose the verbatim representation spec.md §4.B requires for
		// string leaves.
		return 0, false
	}
	n, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
