// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/sam-fredrickson/treemerge"
)

// Decoder parses configuration documents into trees.
//
// Local YAML tags such as "!vault" are handed to the registered [TagFunc];
// any other local tag is a parse error.
type Decoder struct {
	tags map[string]TagFunc
}

// NewDecoder returns a decoder using the given tag handlers.
func NewDecoder(tags map[string]TagFunc) *Decoder {
	return &Decoder{tags: tags}
}

// Decode parses data written in format. An empty document yields an empty
// mapping. Documents whose root is not a mapping are rejected.
func (d *Decoder) Decode(format Format, data []byte) (*treemerge.Mapping, error) {
	var (
		root treemerge.Value
		err  error
	)
	switch format {
	case YAML, JSON:
		// JSON is decoded by the YAML parser, which keeps key order.
		root, err = d.decodeYAML(data)
	case TOML:
		root, err = decodeTOML(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, &ParseError{Format: format, Err: err}
	}

	switch v := root.(type) {
	case nil:
		return treemerge.NewMapping(), nil
	case *treemerge.Mapping:
		return v, nil
	default:
		if treemerge.IsNull(v) {
			return treemerge.NewMapping(), nil
		}
		return nil, &ParseError{Format: format, Err: fmt.Errorf("document root is a %s, not a mapping", v.Kind())}
	}
}

func (d *Decoder) decodeYAML(data []byte) (treemerge.Value, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("line %d: expected a single document", extra.Line)
	}

	c := converter{tags: d.tags, active: make(map[*yaml.Node]bool)}
	return c.value(&doc)
}

type converter struct {
	tags   map[string]TagFunc
	active map[*yaml.Node]bool // containers being converted, to reject recursive aliases
}

func isLocalTag(tag string) bool {
	return strings.HasPrefix(tag, "!") && !strings.HasPrefix(tag, "!!")
}

func (c *converter) value(n *yaml.Node) (treemerge.Value, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return treemerge.Null(), nil
		}
		return c.value(n.Content[0])
	case yaml.AliasNode:
		return c.value(n.Alias)
	case yaml.ScalarNode:
		return c.scalar(n)
	case yaml.MappingNode, yaml.SequenceNode:
		if tag := n.ShortTag(); isLocalTag(tag) {
			return nil, fmt.Errorf("line %d: tag %s is only supported on scalars", n.Line, tag)
		}
		if c.active[n] {
			return nil, fmt.Errorf("line %d: recursive alias", n.Line)
		}
		c.active[n] = true
		defer delete(c.active, n)
		if n.Kind == yaml.MappingNode {
			return c.mapping(n)
		}
		return c.sequence(n)
	default:
		return nil, fmt.Errorf("line %d: unexpected node kind %d", n.Line, n.Kind)
	}
}

func (c *converter) mapping(n *yaml.Node) (*treemerge.Mapping, error) {
	out := treemerge.NewMapping()
	var merged []*treemerge.Mapping
	for i := 0; i+1 < len(n.Content); i += 2 {
		keyNode, valueNode := n.Content[i], n.Content[i+1]
		for keyNode.Kind == yaml.AliasNode {
			keyNode = keyNode.Alias
		}
		if keyNode.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: mapping keys must be scalars", keyNode.Line)
		}
		if keyNode.ShortTag() == "!!merge" {
			sources, err := c.mergeSources(valueNode)
			if err != nil {
				return nil, err
			}
			merged = append(merged, sources...)
			continue
		}
		v, err := c.value(valueNode)
		if err != nil {
			return nil, err
		}
		out.Set(keyNode.Value, v)
	}
	// Keys from "<<" fill in what the mapping does not set itself; earlier
	// merge sources take precedence over later ones.
	for _, src := range merged {
		for k, v := range src.All() {
			if !out.Has(k) {
				out.Set(k, v)
			}
		}
	}
	return out, nil
}

func (c *converter) mergeSources(n *yaml.Node) ([]*treemerge.Mapping, error) {
	target := n
	for target.Kind == yaml.AliasNode {
		target = target.Alias
	}
	if target.Kind == yaml.SequenceNode {
		var out []*treemerge.Mapping
		for _, item := range target.Content {
			sources, err := c.mergeSources(item)
			if err != nil {
				return nil, err
			}
			out = append(out, sources...)
		}
		return out, nil
	}
	v, err := c.value(n)
	if err != nil {
		return nil, err
	}
	m, ok := v.(*treemerge.Mapping)
	if !ok {
		return nil, fmt.Errorf("line %d: merge key value must be a mapping", n.Line)
	}
	return []*treemerge.Mapping{m}, nil
}

func (c *converter) sequence(n *yaml.Node) (*treemerge.Sequence, error) {
	out := treemerge.NewSequence()
	for _, item := range n.Content {
		v, err := c.value(item)
		if err != nil {
			return nil, err
		}
		out.Append(v)
	}
	return out, nil
}

func (c *converter) scalar(n *yaml.Node) (treemerge.Value, error) {
	tag := n.ShortTag()
	if isLocalTag(tag) {
		fn, ok := c.tags[tag]
		if !ok {
			return nil, fmt.Errorf("line %d: unknown tag %s", n.Line, tag)
		}
		return fn(n.Value)
	}

	switch tag {
	case "!!null":
		return treemerge.Null(), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err == nil {
			return treemerge.Bool(b), nil
		}
	case "!!int":
		var i int64
		if err := n.Decode(&i); err == nil {
			return treemerge.Int(i), nil
		}
	case "!!float":
		var f float64
		if err := n.Decode(&f); err == nil {
			return treemerge.Float(f), nil
		}
	}
	// Strings, timestamps, binary data and numbers out of range keep their text.
	return treemerge.String(n.Value), nil
}

func decodeTOML(data []byte) (treemerge.Value, error) {
	var raw map[string]any
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, err
	}
	// Go maps lose the document order; recover it from the key metadata.
	order := make(map[string]int)
	for i, key := range md.Keys() {
		order[strings.Join(key, "\x00")] = i
	}
	t := tomlTree{order: order}
	return t.value(nil, raw)
}

type tomlTree struct {
	order map[string]int
}

func (t tomlTree) position(path []string) int {
	if i, ok := t.order[strings.Join(path, "\x00")]; ok {
		return i
	}
	return math.MaxInt
}

func (t tomlTree) value(path []string, v any) (treemerge.Value, error) {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			pi := t.position(append(path[:len(path):len(path)], keys[i]))
			pj := t.position(append(path[:len(path):len(path)], keys[j]))
			if pi != pj {
				return pi < pj
			}
			return keys[i] < keys[j]
		})
		out := treemerge.NewMapping()
		for _, k := range keys {
			child, err := t.value(append(path[:len(path):len(path)], k), x[k])
			if err != nil {
				return nil, err
			}
			out.Set(k, child)
		}
		return out, nil
	case []map[string]any:
		out := treemerge.NewSequence()
		for _, item := range x {
			child, err := t.value(path, item)
			if err != nil {
				return nil, err
			}
			out.Append(child)
		}
		return out, nil
	case []any:
		out := treemerge.NewSequence()
		for _, item := range x {
			child, err := t.value(path, item)
			if err != nil {
				return nil, err
			}
			out.Append(child)
		}
		return out, nil
	case time.Time:
		return treemerge.String(x.Format(time.RFC3339Nano)), nil
	case fmt.Stringer:
		return treemerge.String(x.String()), nil
	default:
		return treemerge.FromNative(v)
	}
}
