// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"

	"github.com/goccy/go-yaml"
)

// TypeMeta identifies the API group and kind of a resource.
type TypeMeta struct {
	APIVersion string `yaml:"apiVersion" json:"apiVersion"`
	Kind       string `yaml:"kind" json:"kind"`
}

// ObjectMeta holds the subset of Kubernetes object metadata the function
// reads or carries over.
type ObjectMeta struct {
	Name        string            `yaml:"name,omitempty" json:"name,omitempty"`
	Namespace   string            `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
	Annotations map[string]string `yaml:"annotations,omitempty" json:"annotations,omitempty"`
}

// ConfigMap is a Kubernetes ConfigMap with string data.
type ConfigMap struct {
	TypeMeta   `yaml:",inline" json:",inline"`
	ObjectMeta `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Data       map[string]string `yaml:"data,omitempty" json:"data,omitempty"`
}

// ResourceList is the envelope a KRM function reads on stdin and writes on
// stdout. Items are kept as generic maps so resources of any kind survive
// untouched.
// See: https://github.com/kubernetes-sigs/kustomize/blob/master/cmd/config/docs/api-conventions/functions-spec.md
type ResourceList struct {
	TypeMeta `yaml:",inline" json:",inline"`
	Items    []map[string]any `yaml:"items" json:"items"`
}

// decodeResourceList reads one ResourceList document from r. Empty input is
// an empty list.
func decodeResourceList(r io.Reader) (ResourceList, error) {
	var rl ResourceList
	if err := yaml.NewDecoder(r).Decode(&rl); err != nil && !errors.Is(err, io.EOF) {
		return ResourceList{}, err
	}
	return rl, nil
}

// encodeResourceList writes items to w wrapped in a v1 ResourceList.
func encodeResourceList(w io.Writer, items []map[string]any) error {
	enc := yaml.NewEncoder(w, yaml.IndentSequence(true))
	err := enc.Encode(ResourceList{
		TypeMeta: TypeMeta{APIVersion: "v1", Kind: "ResourceList"},
		Items:    items,
	})
	if cerr := enc.Close(); err == nil {
		err = cerr
	}
	return err
}

// convert moves v between a generic map and a typed resource by way of YAML.
func convert[T any](v any) (T, error) {
	var out T
	data, err := yaml.Marshal(v)
	if err != nil {
		return out, err
	}
	err = yaml.Unmarshal(data, &out)
	return out, err
}

// asConfigMap returns item as a ConfigMap, or false when item is some other
// kind of resource.
func asConfigMap(item map[string]any) (ConfigMap, bool, error) {
	if kind, _ := item["kind"].(string); kind != "ConfigMap" {
		return ConfigMap{}, false, nil
	}
	cm, err := convert[ConfigMap](item)
	if err != nil {
		return ConfigMap{}, false, fmt.Errorf("malformed ConfigMap: %w", err)
	}
	return cm, true, nil
}

// withoutTreemergeAnnotations returns a copy of annotations minus the
// config.treemerge.io/ keys, or nil if nothing remains.
func withoutTreemergeAnnotations(annotations map[string]string) map[string]string {
	kept := maps.Clone(annotations)
	maps.DeleteFunc(kept, func(key, _ string) bool {
		return strings.HasPrefix(key, AnnotationBase)
	})
	if len(kept) == 0 {
		return nil
	}
	return kept
}
