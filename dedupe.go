// SPDX-License-Identifier: Apache-2.0

package treemerge

// Deduplicate collapses matching items within every list of tree.
// See [Merger.Deduplicate] for details.
func Deduplicate(tree *Mapping) (*Mapping, error) {
	m, err := NewMerger(Options{})
	if err != nil {
		return nil, err
	}
	return m.Deduplicate(tree)
}

// Deduplicate rebuilds every list reachable through mappings of tree by
// passing its items through [Merger.MergeItem] into an empty list, so later
// items matching an earlier one are merged into it. It then descends into the
// mapping items of each rebuilt list. Lists nested directly inside lists are
// left as they are. Lists inside merged items combine according to the
// Merger's [ListMode]. tree is modified in place and returned.
func (m *Merger) Deduplicate(tree *Mapping) (*Mapping, error) {
	m.reset(-1)
	if err := m.deduplicate(tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func (m *Merger) deduplicate(tree *Mapping) error {
	for key, value := range tree.All() {
		m.push(key)
		var err error
		switch v := value.(type) {
		case *Mapping:
			err = m.deduplicate(v)
		case *Sequence:
			err = m.deduplicateList(key, v, tree)
		}
		m.pop()
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Merger) deduplicateList(key string, list *Sequence, parent *Mapping) error {
	rebuilt := NewSequence()
	for _, item := range list.items {
		if err := m.mergeItem(item, rebuilt); err != nil {
			return err
		}
	}
	for _, item := range rebuilt.items {
		if child, ok := item.(*Mapping); ok {
			if err := m.deduplicate(child); err != nil {
				return err
			}
		}
	}
	parent.Set(key, rebuilt)
	return nil
}
