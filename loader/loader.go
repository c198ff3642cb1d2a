// SPDX-License-Identifier: Apache-2.0

// Package loader reads configuration files and directories and merges them
// into a single tree.
package loader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/sirupsen/logrus"
	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"

	"github.com/sam-fredrickson/treemerge"
	"github.com/sam-fredrickson/treemerge/codec"
	"github.com/sam-fredrickson/treemerge/vault"
)

// Options configures a [Loader]. Nil fields get defaults.
type Options struct {
	// Merge controls how files are folded together.
	Merge treemerge.Options
	// Decoder parses file contents. Defaults to a decoder with the "!env"
	// tag reading the process environment and the "!vault" tag backed by
	// ansible-vault.
	Decoder *codec.Decoder
	// Logger receives a warning for every file that is skipped.
	// Defaults to the logrus standard logger.
	Logger logrus.FieldLogger
	// FS reads files and walks directories. Defaults to afs.New().
	FS afs.Service
}

// Loader merges configuration files in the order they are found.
// It is not safe for concurrent use.
type Loader struct {
	merger  *treemerge.Merger
	decoder *codec.Decoder
	log     logrus.FieldLogger
	fs      afs.Service
}

type source struct {
	url    string
	format codec.Format
}

// New returns a Loader configured by opts.
func New(opts Options) (*Loader, error) {
	merger, err := treemerge.NewMerger(opts.Merge)
	if err != nil {
		return nil, err
	}
	l := &Loader{
		merger:  merger,
		decoder: opts.Decoder,
		log:     opts.Logger,
		fs:      opts.FS,
	}
	if l.decoder == nil {
		decrypter, err := vault.New(vault.Options{})
		if err != nil {
			return nil, err
		}
		l.decoder = codec.NewDecoder(codec.DefaultTags(nil, decrypter))
	}
	if l.log == nil {
		l.log = logrus.StandardLogger()
	}
	if l.fs == nil {
		l.fs = afs.New()
	}
	return l, nil
}

// Load merges the files named by paths. A directory contributes every file
// below it with a .yaml, .yml, .json or .toml suffix, in the order the file
// system lists them.
//
// A file that cannot be read or parsed, or whose root is not a mapping, is
// logged as a warning and skipped. Failures to render deferred values while
// merging are returned. No paths yield an empty mapping.
func (l *Loader) Load(ctx context.Context, paths ...string) (*treemerge.Mapping, error) {
	result := treemerge.NewMapping()
	doc := 0
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sources, err := l.sources(ctx, p)
		if err != nil {
			l.skip(p, err)
			continue
		}
		for _, src := range sources {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			tree, err := l.read(ctx, src)
			if err != nil {
				l.skip(src.url, err)
				continue
			}
			if _, err := l.merger.MergeAt(doc, tree, result); err != nil {
				return nil, fmt.Errorf("merging %s: %w", src.url, err)
			}
			doc++
		}
	}
	return result, nil
}

// LoadDeduplicated is like [Loader.Load] but also collapses matching items of
// every list in the result.
func (l *Loader) LoadDeduplicated(ctx context.Context, paths ...string) (*treemerge.Mapping, error) {
	tree, err := l.Load(ctx, paths...)
	if err != nil {
		return nil, err
	}
	return l.merger.Deduplicate(tree)
}

// Load merges paths with the default options. When deduplicate is false,
// lists are concatenated instead of merged item by item.
func Load(ctx context.Context, paths []string, deduplicate bool) (*treemerge.Mapping, error) {
	opts := Options{}
	if !deduplicate {
		opts.Merge.ListMode = treemerge.ListConcat
	}
	l, err := New(opts)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, paths...)
}

func (l *Loader) sources(ctx context.Context, p string) ([]source, error) {
	object, err := l.fs.Object(ctx, p)
	if err != nil {
		return nil, err
	}
	if !object.IsDir() {
		format, ok := codec.FormatFromPath(p)
		if !ok {
			return nil, fmt.Errorf("%w: %s", codec.ErrUnsupportedFormat, path.Base(p))
		}
		return []source{{url: p, format: format}}, nil
	}

	var sources []source
	var visit storage.OnVisit = func(ctx context.Context, baseURL, parent string, info os.FileInfo, reader io.Reader) (bool, error) {
		if info.IsDir() {
			return true, nil
		}
		if format, ok := codec.FormatFromPath(info.Name()); ok {
			sources = append(sources, source{
				url:    url.Join(baseURL, path.Join(parent, info.Name())),
				format: format,
			})
		}
		return true, nil
	}
	if err := l.fs.Walk(ctx, p, visit); err != nil {
		return nil, err
	}
	return sources, nil
}

func (l *Loader) read(ctx context.Context, src source) (*treemerge.Mapping, error) {
	data, err := l.fs.DownloadWithURL(ctx, src.url)
	if err != nil {
		return nil, err
	}
	return l.decoder.Decode(src.format, data)
}

func (l *Loader) skip(p string, err error) {
	l.log.WithError(err).WithField("path", p).Warn("skipping configuration file")
}
