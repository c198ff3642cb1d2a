// SPDX-License-Identifier: Apache-2.0

// Package treemerge merges independently-authored configuration trees into one.
//
// Mappings are deep-merged. Lists either concatenate or merge item by item,
// where two mapping items are the same item when they agree on every scalar
// key they share (see [Matches]). A list that already holds two matching
// items in any one source is never merged, only concatenated, which keeps
// the result independent of the order sources are merged in.
package treemerge

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Sentinel errors for simple error checking with [errors.Is].
// For detailed error information, use [errors.As] with the typed errors below.
var (
	// ErrRender indicates a deferred scalar could not produce its value.
	ErrRender = errors.New("render error")
	// ErrInvalidOptions indicates invalid merge options were provided.
	ErrInvalidOptions = errors.New("invalid options")
)

// ListMode specifies how lists found under the same key are combined.
type ListMode int

const (
	// ListMerge merges matching mapping items and appends the rest, unless
	// either list already holds matching items, in which case the lists are
	// concatenated (default behavior).
	ListMerge ListMode = iota
	// ListConcat always appends source items to the destination list.
	ListConcat
)

func (m ListMode) String() string {
	switch m {
	case ListMerge:
		return "ListMerge"
	case ListConcat:
		return "ListConcat"
	default:
		return fmt.Sprintf("ListMode(%d)", m)
	}
}

// RenderError is returned when a deferred scalar fails to produce its value
// while being compared or serialized.
type RenderError struct {
	// Tag is the tag of the deferred scalar, e.g. "!vault".
	Tag string
	// Path is where in the document the scalar was compared, if known.
	Path []string
	// DocIndex tells which document was being merged, or -1 when unknown.
	DocIndex int
	// Err is the error returned by the scalar's resolver.
	Err error
}

func (e *RenderError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("cannot render %s value: %v", e.Tag, e.Err)
	}
	return fmt.Sprintf("cannot render %s value at path %s in document %d: %v",
		e.Tag, strings.Join(e.Path, "."), e.DocIndex, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

func (e *RenderError) Is(target error) bool {
	return target == ErrRender
}

// Options configures merge behavior.
//
// The zero value merges lists item by item ([ListMerge]).
type Options struct {
	// ListMode specifies how lists under the same key are combined.
	ListMode ListMode
}

// Merger performs tree merging with the configured options.
// It tracks the current document path for detailed error reporting.
//
// A Merger can be safely reused for multiple merge operations.
//
// A Merger is not safe to use concurrently.
type Merger struct {
	opts  Options  // merge configuration
	path  []string // current path in document tree for error reporting
	index int      // current document index being processed
}

// NewMerger creates a new [Merger] with the given options.
// Returns an error if the options are invalid.
func NewMerger(opts Options) (*Merger, error) {
	switch opts.ListMode {
	case ListMerge, ListConcat:
	default:
		return nil, fmt.Errorf("%w: unknown list mode %v", ErrInvalidOptions, opts.ListMode)
	}
	return &Merger{opts: opts}, nil
}

// Options returns the merge options configured for this [Merger].
func (m *Merger) Options() Options {
	return m.opts
}

// Merge folds trees into a fresh mapping. See [Merger.Merge] for details.
func Merge(opts Options, trees ...*Mapping) (*Mapping, error) {
	m, err := NewMerger(opts)
	if err != nil {
		return nil, err
	}
	return m.Merge(trees...)
}

// MergeTree merges src into dst in place and returns dst. When deduplicate is
// false, lists are always concatenated. See [Merger.MergeTree] for details.
func MergeTree(src, dst *Mapping, deduplicate bool) (*Mapping, error) {
	opts := Options{}
	if !deduplicate {
		opts.ListMode = ListConcat
	}
	m, err := NewMerger(opts)
	if err != nil {
		return nil, err
	}
	return m.MergeTree(src, dst)
}

// Merge folds trees left-to-right into a new empty mapping, so later trees
// win scalar conflicts. The trees are consumed: their subtrees become part of
// the result. Nil trees are skipped.
func (m *Merger) Merge(trees ...*Mapping) (*Mapping, error) {
	result := NewMapping()
	for i, tree := range trees {
		m.reset(i)
		if err := m.mergeTree(tree, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// MergeAt merges src into dst like [Merger.MergeTree], attributing errors to
// document index doc.
func (m *Merger) MergeAt(doc int, src, dst *Mapping) (*Mapping, error) {
	m.reset(doc)
	if dst == nil {
		dst = NewMapping()
	}
	if err := m.mergeTree(src, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// MergeTree merges src into dst in place and returns dst.
//
// For every key of src:
//   - a key missing from dst, or null in dst, takes the source value;
//   - two mappings merge recursively;
//   - two sequences combine according to [ListMode];
//   - a source mapping or sequence meeting a different kind in dst is dropped;
//   - a non-null source scalar replaces the destination value;
//   - a null source value leaves dst unchanged.
//
// Source subtrees are moved into dst, not copied, so src must not be used
// afterwards. A nil dst is replaced by a new mapping.
func (m *Merger) MergeTree(src, dst *Mapping) (*Mapping, error) {
	return m.MergeAt(-1, src, dst)
}

// MergeItem merges item into dst. A mapping item is merged into the first
// mapping of dst that [Matches] it; anything else, or a mapping without a
// match, is appended.
func (m *Merger) MergeItem(item Value, dst *Sequence) error {
	m.reset(-1)
	return m.mergeItem(item, dst)
}

func (m *Merger) reset(i int) {
	m.path = nil
	m.index = i
}

func (m *Merger) push(path string) {
	m.path = append(m.path, path)
}

func (m *Merger) pop() {
	if len(m.path) == 0 {
		panic("unbalanced treemerge.Merger pop")
	}
	m.path = m.path[:len(m.path)-1]
}

// locate attributes a render failure to the current position.
func (m *Merger) locate(err error) error {
	var re *RenderError
	if errors.As(err, &re) && re.Path == nil {
		re.Path = slices.Clone(m.path)
		re.DocIndex = m.index
	}
	return err
}

func (m *Merger) mergeTree(src, dst *Mapping) error {
	if src.Len() == 0 {
		return nil
	}
	for key, value := range src.All() {
		m.push(key)
		if err := m.mergeKey(key, value, dst); err != nil {
			m.pop()
			return err
		}
		m.pop()
	}
	return nil
}

func (m *Merger) mergeKey(key string, value Value, dst *Mapping) error {
	current, exists := dst.Get(key)
	if !exists || IsNull(current) {
		dst.Set(key, value)
		return nil
	}

	switch v := value.(type) {
	case *Mapping:
		if cur, ok := current.(*Mapping); ok {
			return m.mergeTree(v, cur)
		}
		// Different container kind: the source value is dropped.
		return nil
	case *Sequence:
		if cur, ok := current.(*Sequence); ok {
			return m.mergeSequence(v, cur)
		}
		return nil
	case Scalar:
		if !v.IsNull() {
			dst.Set(key, v)
		}
		return nil
	default:
		panic(fmt.Sprintf("treemerge: unknown value type %T", value))
	}
}

func (m *Merger) mergeSequence(src, dst *Sequence) error {
	if m.opts.ListMode == ListConcat {
		dst.Append(src.items...)
		return nil
	}

	// Duplicates in either list disable item merging for this key so that
	// no source's repeated items are collapsed.
	srcDupes, err := HasDuplicates(src.items)
	if err != nil {
		return m.locate(err)
	}
	dstDupes := false
	if !srcDupes {
		dstDupes, err = HasDuplicates(dst.items)
		if err != nil {
			return m.locate(err)
		}
	}
	if srcDupes || dstDupes {
		dst.Append(src.items...)
		return nil
	}

	for i, item := range src.items {
		m.push(strconv.Itoa(i))
		if err := m.mergeItem(item, dst); err != nil {
			m.pop()
			return err
		}
		m.pop()
	}
	return nil
}

func (m *Merger) mergeItem(item Value, dst *Sequence) error {
	src, ok := item.(*Mapping)
	if !ok {
		dst.Append(item)
		return nil
	}
	for _, existing := range dst.items {
		candidate, ok := existing.(*Mapping)
		if !ok {
			continue
		}
		match, err := Matches(src, candidate)
		if err != nil {
			return m.locate(err)
		}
		if match {
			return m.mergeTree(src, candidate)
		}
	}
	dst.Append(item)
	return nil
}
