// SPDX-License-Identifier: Apache-2.0

package main

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/sam-fredrickson/treemerge"
	"github.com/sam-fredrickson/treemerge/codec"
	"github.com/sam-fredrickson/treemerge/vault"
)

// Annotations read from ConfigMaps taking part in a merge.
const (
	AnnotationBase = "config.treemerge.io/"

	// AnnotationID groups the ConfigMaps that merge into one.
	AnnotationID = AnnotationBase + "id"

	// AnnotationOrder is an integer; members merge in ascending order, so a
	// higher order wins scalar conflicts. Order 0 is the base.
	AnnotationOrder = AnnotationBase + "order"

	// AnnotationFinalName names the merged ConfigMap. Required on the base.
	AnnotationFinalName = AnnotationBase + "final-name"

	// AnnotationListMode is "merge" (default) or "concat". Only the base's
	// value is used.
	AnnotationListMode = AnnotationBase + "list-mode"
)

// member is one ConfigMap of a group with its parsed annotations.
type member struct {
	ConfigMap
	order     int
	listMode  treemerge.ListMode
	finalName string
}

// configMapGroup holds the members sharing an id.
type configMapGroup struct {
	id      string
	members []*member
}

// Run reads a ResourceList from in, replaces every group of annotated
// ConfigMaps with their merge, and writes the result to out. Resources that
// take no part pass through first, followed by merged ConfigMaps in id
// order.
func Run(in io.Reader, out io.Writer) error {
	rl, err := decodeResourceList(in)
	if err != nil {
		return fmt.Errorf("failed to read ResourceList: %w", err)
	}

	decrypter, err := vault.New(vault.Options{})
	if err != nil {
		return err
	}
	decoder := codec.NewDecoder(codec.DefaultTags(nil, decrypter))

	groups := make(map[string]*configMapGroup)
	var items []map[string]any
	for _, item := range rl.Items {
		cm, ok, err := asConfigMap(item)
		if err != nil {
			return err
		}
		id := cm.Annotations[AnnotationID]
		if !ok || id == "" {
			items = append(items, item)
			continue
		}
		m, err := newMember(cm)
		if err != nil {
			return fmt.Errorf("ConfigMap %q: %w", cm.Name, err)
		}
		g, found := groups[id]
		if !found {
			g = &configMapGroup{id: id}
			groups[id] = g
		}
		g.members = append(g.members, m)
	}

	for _, id := range slices.Sorted(maps.Keys(groups)) {
		merged, err := groups[id].merge(decoder)
		if err != nil {
			return fmt.Errorf("ConfigMap group %q: %w", id, err)
		}
		items = append(items, merged)
	}

	if err := encodeResourceList(out, items); err != nil {
		return fmt.Errorf("failed to write ResourceList: %w", err)
	}
	return nil
}

func newMember(cm ConfigMap) (*member, error) {
	raw := cm.Annotations[AnnotationOrder]
	if raw == "" {
		return nil, fmt.Errorf("missing required annotation %q", AnnotationOrder)
	}
	order, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %q annotation: %w", AnnotationOrder, err)
	}
	mode, err := parseListMode(cm.Annotations[AnnotationListMode])
	if err != nil {
		return nil, fmt.Errorf("invalid %q annotation: %w", AnnotationListMode, err)
	}
	return &member{
		ConfigMap: cm,
		order:     order,
		listMode:  mode,
		finalName: cm.Annotations[AnnotationFinalName],
	}, nil
}

// parseListMode maps an annotation value to a list mode. Empty means merge.
func parseListMode(s string) (treemerge.ListMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "merge":
		return treemerge.ListMerge, nil
	case "concat":
		return treemerge.ListConcat, nil
	}
	return treemerge.ListMerge, fmt.Errorf("unknown list mode %q (must be merge or concat)", s)
}

// base sorts the members by order and returns the one with order 0.
func (g *configMapGroup) base() (*member, error) {
	slices.SortStableFunc(g.members, func(a, b *member) int {
		return cmp.Compare(a.order, b.order)
	})
	if len(g.members) == 0 {
		return nil, fmt.Errorf("empty ConfigMap group")
	}
	b := g.members[0]
	if b.order != 0 {
		return nil, fmt.Errorf("no base ConfigMap with order=0 (lowest order is %d)", b.order)
	}
	if b.finalName == "" {
		return nil, fmt.Errorf("base ConfigMap %q missing required annotation %q", b.Name, AnnotationFinalName)
	}
	return b, nil
}

// merge combines the group into one ConfigMap named by the base, carrying
// the base's namespace, labels and non-treemerge annotations.
func (g *configMapGroup) merge(decoder *codec.Decoder) (map[string]any, error) {
	b, err := g.base()
	if err != nil {
		return nil, err
	}
	merger, err := treemerge.NewMerger(treemerge.Options{ListMode: b.listMode})
	if err != nil {
		return nil, err
	}

	keys := make(map[string]struct{})
	for _, m := range g.members {
		for k := range m.Data {
			keys[k] = struct{}{}
		}
	}

	data := make(map[string]string, len(keys))
	for _, key := range slices.Sorted(maps.Keys(keys)) {
		value, err := g.mergeKey(decoder, merger, key)
		if err != nil {
			return nil, fmt.Errorf("data key %q: %w", key, err)
		}
		if value != "" {
			data[key] = value
		}
	}

	return convert[map[string]any](ConfigMap{
		TypeMeta: TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: ObjectMeta{
			Name:        b.finalName,
			Namespace:   b.Namespace,
			Labels:      b.Labels,
			Annotations: withoutTreemergeAnnotations(b.Annotations),
		},
		Data: data,
	})
}

// mergeKey merges one data key across the members holding it. The key's
// suffix picks the format, YAML by default. A key held by a single member is
// copied verbatim without being parsed.
func (g *configMapGroup) mergeKey(decoder *codec.Decoder, merger *treemerge.Merger, key string) (string, error) {
	var holders []*member
	for _, m := range g.members {
		if m.Data[key] != "" {
			holders = append(holders, m)
		}
	}
	switch len(holders) {
	case 0:
		return "", nil
	case 1:
		return holders[0].Data[key], nil
	}

	format, ok := codec.FormatFromPath(key)
	if !ok {
		format = codec.YAML
	}
	trees := make([]*treemerge.Mapping, len(holders))
	for i, m := range holders {
		tree, err := decoder.Decode(format, []byte(m.Data[key]))
		if err != nil {
			return "", fmt.Errorf("ConfigMap %q: %w", m.Name, err)
		}
		trees[i] = tree
	}
	merged, err := merger.Merge(trees...)
	if err != nil {
		return "", err
	}
	out, err := codec.Marshal(format, merged)
	if err != nil {
		return "", fmt.Errorf("format %s: %w", format, err)
	}
	return string(out), nil
}
