// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Sentinel errors for simple error checking with [errors.Is].
var (
	// ErrParse indicates a document could not be turned into a tree.
	ErrParse = errors.New("parse error")
	// ErrUnsupportedFormat indicates an unknown format name or file suffix.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrWrite indicates the merged tree could not be written out.
	ErrWrite = errors.New("write error")
)

// Format names a configuration file syntax.
type Format string

const (
	YAML Format = "yaml"
	JSON Format = "json"
	TOML Format = "toml"
)

var validFormats = map[string]Format{
	"yaml": YAML,
	"yml":  YAML,
	"json": JSON,
	"toml": TOML,
}

// ParseFormat returns the format called name (case-insensitive).
func ParseFormat(name string) (Format, error) {
	f, ok := validFormats[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: %q (supported: yaml, json, toml)", ErrUnsupportedFormat, name)
	}
	return f, nil
}

// FormatFromPath returns the format implied by the suffix of path.
// Recognized suffixes are .yaml, .yml, .json and .toml.
func FormatFromPath(path string) (Format, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "", false
	}
	f, ok := validFormats[ext]
	return f, ok
}

// ParseError is returned when a document is malformed, uses an unknown tag,
// or does not hold a mapping at its root.
type ParseError struct {
	// Format is the syntax the document was parsed as.
	Format Format
	// Err describes the problem.
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %s document: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// WriteError is returned when serializing or storing the merged tree fails.
type WriteError struct {
	// Path is the destination file.
	Path string
	// Err is the underlying failure.
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cannot write file %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

func (e *WriteError) Is(target error) bool {
	return target == ErrWrite
}
