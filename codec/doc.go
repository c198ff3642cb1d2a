// SPDX-License-Identifier: Apache-2.0

// Package codec converts configuration files to and from treemerge trees.
//
// YAML and JSON are parsed through the YAML node API so mapping order and
// local tags survive; TOML order is recovered from the decoder's key
// metadata. The "!env" and "!vault" tags produce deferred scalars that are
// only resolved when rendered.
//
// Example:
//
//	dec := codec.NewDecoder(codec.DefaultTags(os.LookupEnv, nil))
//	tree, err := dec.Decode(codec.YAML, data)
package codec
