// SPDX-License-Identifier: Apache-2.0

package treemerge

// Matches reports whether two mappings describe the same list item.
//
// They match when at least one key holds a scalar in both mappings and every
// such key holds equal scalars. Keys whose value is a mapping or sequence on
// either side take no part in the decision. Mappings sharing no scalar key
// never match.
func Matches(a, b *Mapping) (bool, error) {
	shared := false
	for k, av := range a.All() {
		as, ok := av.(Scalar)
		if !ok {
			continue
		}
		bv, ok := b.Get(k)
		if !ok {
			continue
		}
		bs, ok := bv.(Scalar)
		if !ok {
			continue
		}
		shared = true
		eq, err := as.Equal(bs)
		if err != nil {
			return false, err
		}
		if !eq {
			return false, nil
		}
	}
	return shared, nil
}

// HasDuplicates reports whether any two mapping items of items match each
// other according to [Matches]. Scalar and sequence items are ignored, so a
// list of repeated strings never has duplicates.
func HasDuplicates(items []Value) (bool, error) {
	var maps []*Mapping
	for _, item := range items {
		if m, ok := item.(*Mapping); ok {
			maps = append(maps, m)
		}
	}
	for i, a := range maps {
		for _, b := range maps[i+1:] {
			match, err := Matches(a, b)
			if err != nil {
				return false, err
			}
			if match {
				return true, nil
			}
		}
	}
	return false, nil
}
