// SPDX-License-Identifier: Apache-2.0

package treemerge_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sam-fredrickson/treemerge"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name     string
		a, b     map[string]any
		expected bool
	}{
		{"shared equal key", map[string]any{"name": "a"}, map[string]any{"name": "a", "x": 1}, true},
		{"shared unequal key", map[string]any{"name": "a"}, map[string]any{"name": "b"}, false},
		{"one of two shared keys differs", map[string]any{"name": "a", "id": 1}, map[string]any{"name": "a", "id": 2}, false},
		{"no shared key", map[string]any{"a": 1}, map[string]any{"b": 2}, false},
		{"empty mappings", map[string]any{}, map[string]any{}, false},
		{"string and int differ", map[string]any{"id": "1"}, map[string]any{"id": 1}, false},
		{"int and float differ", map[string]any{"id": 1}, map[string]any{"id": 1.0}, false},
		{"null equals null", map[string]any{"id": nil}, map[string]any{"id": nil}, true},
		{
			"container keys ignored",
			map[string]any{"name": "a", "ports": []any{1}, "cfg": map[string]any{"x": 1}},
			map[string]any{"name": "a", "ports": []any{2}, "cfg": map[string]any{"x": 2}},
			true,
		},
		{
			"only container keys shared",
			map[string]any{"ports": []any{1}},
			map[string]any{"ports": []any{1}},
			false,
		},
		{
			"scalar against container is not shared",
			map[string]any{"name": "a", "cfg": "flat"},
			map[string]any{"name": "a", "cfg": map[string]any{"x": 1}},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := tree(t, tt.a), tree(t, tt.b)
			got, err := treemerge.Matches(a, b)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)

			reverse, err := treemerge.Matches(b, a)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, reverse, "matching must be symmetric")
		})
	}
}

func TestHasDuplicates(t *testing.T) {
	tests := []struct {
		name     string
		items    []any
		expected bool
	}{
		{"empty", nil, false},
		{"single mapping", []any{map[string]any{"name": "a"}}, false},
		{"repeated strings", []any{"a", "a", "a"}, false},
		{"repeated lists", []any{[]any{"a"}, []any{"a"}}, false},
		{"matching mappings", []any{map[string]any{"name": "a"}, map[string]any{"name": "a", "x": 1}}, true},
		{"distinct mappings", []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}}, false},
		{
			"match among scalars",
			[]any{"x", map[string]any{"id": 1}, "y", map[string]any{"id": 2}, map[string]any{"id": 1}},
			true,
		},
		{"no shared keys", []any{map[string]any{"a": 1}, map[string]any{"b": 1}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := treemerge.HasDuplicates(seq(t, tt.items...).Values())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestMatches_Deferred(t *testing.T) {
	lazy := treemerge.Deferred("!env", "NAME", func() (string, error) { return "sw1", nil })
	a := treemerge.NewMapping()
	a.Set("name", lazy)

	match, err := treemerge.Matches(a, tree(t, map[string]any{"name": "sw1"}))
	require.NoError(t, err)
	assert.True(t, match)

	boom := errors.New("boom")
	failing := treemerge.NewMapping()
	failing.Set("name", treemerge.Deferred("!vault", "x", func() (string, error) { return "", boom }))
	_, err = treemerge.HasDuplicates([]treemerge.Value{failing, tree(t, map[string]any{"name": "sw1"})})
	assert.ErrorIs(t, err, treemerge.ErrRender)
}
