// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"

	"github.com/sam-fredrickson/treemerge"
)

// Marshal serializes tree in format, rendering deferred scalars.
//
// YAML output starts with an explicit "---" marker, indents mappings by two
// spaces and places sequence dashes two spaces under their key, keeping the
// tree's key order. JSON output is indented by two spaces. TOML cannot hold
// nulls, so null values are left out.
func Marshal(format Format, tree *treemerge.Mapping) ([]byte, error) {
	if tree == nil {
		tree = treemerge.NewMapping()
	}
	switch format {
	case YAML:
		return marshalYAML(tree)
	case JSON:
		doc, err := treemerge.ToNative(tree)
		if err != nil {
			return nil, err
		}
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(out, '\n'), nil
	case TOML:
		doc, err := treemerge.ToNative(tree)
		if err != nil {
			return nil, err
		}
		return toml.Marshal(dropNulls(doc))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func marshalYAML(tree *treemerge.Mapping) ([]byte, error) {
	doc, err := ordered(tree)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf, yaml.Indent(2), yaml.IndentSequence(true))
	if err := enc.Encode(doc); err != nil {
		_ = enc.Close()
		return nil, err
	}
	_ = enc.Close()
	return buf.Bytes(), nil
}

// ordered converts v for the YAML encoder, using [yaml.MapSlice] so mapping
// key order survives.
func ordered(v treemerge.Value) (any, error) {
	switch x := v.(type) {
	case treemerge.Scalar:
		return x.Native()
	case *treemerge.Mapping:
		out := make(yaml.MapSlice, 0, x.Len())
		for k, child := range x.All() {
			c, err := ordered(child)
			if err != nil {
				return nil, err
			}
			out = append(out, yaml.MapItem{Key: k, Value: c})
		}
		return out, nil
	case *treemerge.Sequence:
		out := make([]any, 0, x.Len())
		for _, child := range x.All() {
			c, err := ordered(child)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown value type %T", v)
	}
}

func dropNulls(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, child := range x {
			if child == nil {
				delete(x, k)
				continue
			}
			x[k] = dropNulls(child)
		}
		return x
	case []any:
		out := x[:0]
		for _, child := range x {
			if child != nil {
				out = append(out, dropNulls(child))
			}
		}
		return out
	default:
		return v
	}
}
