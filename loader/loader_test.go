// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sam-fredrickson/treemerge"
	"github.com/sam-fredrickson/treemerge/codec"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newLoader(t *testing.T, opts Options) (*Loader, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	opts.Logger = log
	if opts.Decoder == nil {
		opts.Decoder = codec.NewDecoder(codec.DefaultTags(func(string) (string, bool) { return "", false }, nil))
	}
	l, err := New(opts)
	require.NoError(t, err)
	return l, hook
}

func native(t *testing.T, tree *treemerge.Mapping) any {
	t.Helper()
	n, err := treemerge.ToNative(tree)
	require.NoError(t, err)
	return n
}

func warnings(hook *test.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e)
		}
	}
	return out
}

func TestLoad_TwoFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.yaml", `
root:
  children:
    - name: a
      value: 1
`)
	b := writeFile(t, dir, "b.yml", `
root:
  children:
    - name: a
      extra: x
    - name: b
`)
	l, hook := newLoader(t, Options{})
	tree, err := l.Load(context.Background(), a, b)
	require.NoError(t, err)
	assert.Empty(t, hook.AllEntries())

	expected := map[string]any{
		"root": map[string]any{
			"children": []any{
				map[string]any{"name": "a", "value": int64(1), "extra": "x"},
				map[string]any{"name": "b"},
			},
		},
	}
	assert.Equal(t, expected, native(t, tree))
}

func TestLoad_ConcatMode(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.yaml", "list: [{name: a}]\n")
	b := writeFile(t, dir, "b.yaml", "list: [{name: a}]\n")

	tree, err := Load(context.Background(), []string{a, b}, false)
	require.NoError(t, err)
	list, _ := tree.Get("list")
	assert.Equal(t, 2, list.(*treemerge.Sequence).Len())

	tree, err = Load(context.Background(), []string{a, b}, true)
	require.NoError(t, err)
	list, _ = tree.Get("list")
	assert.Equal(t, 1, list.(*treemerge.Sequence).Len())
}

func TestLoad_DirectorySkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.yaml", "a: 1\n")
	writeFile(t, dir, "nested/deeper/more.json", `{"b": {"c": true}}`)
	writeFile(t, dir, "settings.toml", "d = \"x\"\n")
	writeFile(t, dir, "broken.yaml", "invalid: yaml: [\n")
	writeFile(t, dir, "list.yaml", "- not\n- a mapping\n")
	writeFile(t, dir, "README.md", "# not configuration\n")
	writeFile(t, dir, "notes.txt", "invalid: yaml: [\n")

	l, hook := newLoader(t, Options{})
	tree, err := l.Load(context.Background(), dir)
	require.NoError(t, err)

	expected := map[string]any{
		"a": int64(1),
		"b": map[string]any{"c": true},
		"d": "x",
	}
	assert.Equal(t, expected, native(t, tree))

	warned := warnings(hook)
	require.Len(t, warned, 2)
	var paths []string
	for _, e := range warned {
		p, _ := e.Data["path"].(string)
		paths = append(paths, filepath.Base(p))
		assert.True(t, errors.Is(e.Data[logrus.ErrorKey].(error), codec.ErrParse))
	}
	assert.ElementsMatch(t, []string{"broken.yaml", "list.yaml"}, paths)
}

func TestLoad_MissingPath(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.yaml", "a: 1\n")
	missing := filepath.Join(dir, "missing.yaml")

	l, hook := newLoader(t, Options{})
	tree, err := l.Load(context.Background(), missing, a)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(1)}, native(t, tree))

	warned := warnings(hook)
	require.Len(t, warned, 1)
	assert.Equal(t, missing, warned[0].Data["path"])
}

func TestLoad_ExplicitUnsupportedFile(t *testing.T) {
	dir := t.TempDir()
	notes := writeFile(t, dir, "notes.txt", "a: 1\n")

	l, hook := newLoader(t, Options{})
	tree, err := l.Load(context.Background(), notes)
	require.NoError(t, err)
	assert.Equal(t, 0, tree.Len())

	warned := warnings(hook)
	require.Len(t, warned, 1)
	assert.ErrorIs(t, warned[0].Data[logrus.ErrorKey].(error), codec.ErrUnsupportedFormat)
}

func TestLoad_NoPaths(t *testing.T) {
	l, hook := newLoader(t, Options{})
	tree, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, tree.Len())
	assert.Empty(t, hook.AllEntries())
}

func TestLoad_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	empty := writeFile(t, dir, "empty.yaml", "")
	a := writeFile(t, dir, "a.yaml", "a: 1\n")

	l, hook := newLoader(t, Options{})
	tree, err := l.Load(context.Background(), empty, a)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(1)}, native(t, tree))
	assert.Empty(t, hook.AllEntries())
}

func TestLoad_EnvTag(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.yaml", `
root:
  children:
    - name: !env ABC
`)
	lookup := func(key string) (string, bool) {
		if key == "ABC" {
			return "DEF", true
		}
		return "", false
	}
	l, _ := newLoader(t, Options{Decoder: codec.NewDecoder(codec.DefaultTags(lookup, nil))})
	tree, err := l.Load(context.Background(), a)
	require.NoError(t, err)

	expected := map[string]any{
		"root": map[string]any{
			"children": []any{map[string]any{"name": "DEF"}},
		},
	}
	assert.Equal(t, expected, native(t, tree))
}

type failingDecrypter struct{}

func (failingDecrypter) Available() bool { return true }

func (failingDecrypter) Decrypt(string) (string, error) {
	return "", errors.New("wrong password")
}

func TestLoad_RenderFailurePropagates(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.yaml", `
devices:
  - name: !vault payload
    port: 1
`)
	b := writeFile(t, dir, "b.yaml", `
devices:
  - name: sw1
    port: 1
`)
	l, hook := newLoader(t, Options{Decoder: codec.NewDecoder(codec.DefaultTags(nil, failingDecrypter{}))})
	_, err := l.Load(context.Background(), a, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, treemerge.ErrRender)

	var re *treemerge.RenderError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, codec.VaultTagName, re.Tag)
	assert.Equal(t, 1, re.DocIndex)
	assert.Empty(t, warnings(hook))
}

func TestLoadDeduplicated(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.yaml", `
devices:
  - name: sw1
    port: 1
  - name: sw1
    vlan: 10
`)
	l, _ := newLoader(t, Options{})

	tree, err := l.Load(context.Background(), a)
	require.NoError(t, err)
	devices, _ := tree.Get("devices")
	assert.Equal(t, 2, devices.(*treemerge.Sequence).Len())

	tree, err = l.LoadDeduplicated(context.Background(), a)
	require.NoError(t, err)
	expected := map[string]any{
		"devices": []any{map[string]any{"name": "sw1", "port": int64(1), "vlan": int64(10)}},
	}
	assert.Equal(t, expected, native(t, tree))
}

func TestLoad_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.yaml", "a: 1\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l, _ := newLoader(t, Options{})
	_, err := l.Load(ctx, a)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(Options{Merge: treemerge.Options{ListMode: treemerge.ListMode(7)}})
	assert.ErrorIs(t, err, treemerge.ErrInvalidOptions)
}

func TestNew_Defaults(t *testing.T) {
	l, err := New(Options{})
	require.NoError(t, err)
	assert.NotNil(t, l.decoder)
	assert.NotNil(t, l.fs)
	assert.Equal(t, logrus.StandardLogger(), l.log)
	assert.Equal(t, treemerge.ListMerge, l.merger.Options().ListMode)
}
