// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/sam-fredrickson/treemerge"
)

// WriteFile serializes tree to path in the format implied by its suffix,
// defaulting to YAML.
//
// Serialization and file system failures are logged at error level and not
// returned; the file may be left partially written. Use [Write] to receive
// them as errors instead. Render failures of deferred values are returned
// unchanged and not logged.
func WriteFile(log logrus.FieldLogger, path string, tree *treemerge.Mapping) error {
	format, ok := FormatFromPath(path)
	if !ok {
		format = YAML
	}
	return WriteFileAs(log, path, format, tree)
}

// WriteFileAs is like [WriteFile] but writes format regardless of the suffix.
func WriteFileAs(log logrus.FieldLogger, path string, format Format, tree *treemerge.Mapping) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	err := Write(path, format, tree)
	var we *WriteError
	switch {
	case errors.As(err, &we):
		log.WithError(we.Err).WithField("path", path).Error("cannot write file")
		return nil
	case err != nil:
		return err
	}
	log.WithField("path", path).WithField("format", format).Debug("wrote merged tree")
	return nil
}

// Write serializes tree to path in format. Serialization and file system
// failures are returned as [*WriteError]; render failures are returned as
// they are.
func Write(path string, format Format, tree *treemerge.Mapping) error {
	data, err := Marshal(format, tree)
	if err != nil {
		if errors.Is(err, treemerge.ErrRender) {
			return err
		}
		return &WriteError{Path: path, Err: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}
