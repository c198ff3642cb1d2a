// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/sam-fredrickson/treemerge"
	"github.com/sam-fredrickson/treemerge/codec"
	"github.com/sam-fredrickson/treemerge/loader"
	"github.com/sam-fredrickson/treemerge/vault"
)

var version = "dev"

type options struct {
	out               string
	format            format
	concat            bool
	dedupe            bool
	envFiles          envFiles
	vaultCommand      string
	vaultPasswordFile string
}

func main() {
	var failed bool
	defer func() {
		if failed {
			os.Exit(1)
		}
	}()

	program := os.Args[0]
	var opts options
	level := logLevel(logrus.WarnLevel)
	var showVersion bool

	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "usage: %s [flags] PATH...\n\n", program)
		fmt.Fprintf(out, "Merges configuration trees (YAML, JSON, TOML) regardless of file order.\n")
		fmt.Fprintf(out, "Directories are searched recursively. List items that agree on all\n")
		fmt.Fprintf(out, "shared scalar fields are merged; other items are appended.\n\n")
		fmt.Fprintf(out, "Example:\n")
		fmt.Fprintf(out, "  # merge every file below data/ into one document\n")
		fmt.Fprintf(out, "  %s -out merged.yaml data/\n\n", program)
		fmt.Fprintf(out, "  # resolve !env tags from a dotenv file and emit JSON\n")
		fmt.Fprintf(out, "  %s -env-file .env -format json base.yaml site.yaml\n\n", program)
		fmt.Fprintf(out, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.StringVar(&opts.out, "out", "", "output file path (defaults to stdout)")
	flag.Var(&opts.format, "format", `output format [yaml, json, toml] (defaults to the -out suffix, else yaml)`)
	flag.BoolVar(&opts.concat, "concat", false, "always concatenate lists instead of merging matching items")
	flag.BoolVar(&opts.dedupe, "dedupe", false, "merge matching items within every list of the result")
	flag.Var(&opts.envFiles, "env-file", "dotenv file consulted after the process environment (repeatable)")
	flag.StringVar(&opts.vaultCommand, "vault-command", "ansible-vault", "command used to decrypt !vault values")
	flag.StringVar(&opts.vaultPasswordFile, "vault-password-file", "", "vault password file (defaults to $"+vault.EnvVaultPassword+")")
	flag.Var(&level, "log-level", `log level [debug, info, warning, error] (default "warning")`)
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.Level(level))

	err := Run(context.Background(), opts, flag.Args(), os.Stdout, log)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		_, _ = fmt.Fprintf(os.Stderr, "usage: %s [flags] PATH...\n", program)
		failed = true
		return
	}
}

// Run merges paths and writes the result to opts.out, or to stdout when no
// output file is set.
func Run(
	ctx context.Context,
	opts options,
	paths []string,
	stdout io.Writer,
	log logrus.FieldLogger,
) error {
	if len(paths) == 0 {
		return fmt.Errorf("no paths to merge")
	}

	lookup, err := opts.envFiles.Lookup()
	if err != nil {
		return fmt.Errorf("failed to read env file: %w", err)
	}
	decrypter, err := vault.New(vault.Options{
		Command:      opts.vaultCommand,
		PasswordFile: opts.vaultPasswordFile,
		Lookup:       lookup,
	})
	if err != nil {
		return err
	}
	if !decrypter.Available() {
		log.Debug("vault decryption unavailable, !vault values render empty")
	}

	mergeOpts := treemerge.Options{}
	if opts.concat {
		mergeOpts.ListMode = treemerge.ListConcat
	}
	l, err := loader.New(loader.Options{
		Merge:   mergeOpts,
		Decoder: codec.NewDecoder(codec.DefaultTags(lookup, decrypter)),
		Logger:  log,
	})
	if err != nil {
		return err
	}

	var tree *treemerge.Mapping
	if opts.dedupe {
		tree, err = l.LoadDeduplicated(ctx, paths...)
	} else {
		tree, err = l.Load(ctx, paths...)
	}
	if err != nil {
		return fmt.Errorf("merge failed while processing paths %v: %w", paths, err)
	}

	outputFormat := codec.Format(opts.format)
	if outputFormat == "" {
		f, ok := codec.FormatFromPath(opts.out)
		if !ok {
			f = codec.YAML
		}
		outputFormat = f
	}

	if opts.out != "" {
		if err := codec.Write(opts.out, outputFormat, tree); err != nil {
			if errors.Is(err, codec.ErrWrite) {
				log.WithError(err).WithField("path", opts.out).Error("cannot write output file")
			}
			return err
		}
		return nil
	}

	marshaled, err := codec.Marshal(outputFormat, tree)
	if err != nil {
		return fmt.Errorf("failed to marshal result as %s: %w", outputFormat, err)
	}
	if _, err := stdout.Write(marshaled); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

type format codec.Format

func (f *format) String() string {
	return string(*f)
}

func (f *format) Set(value string) error {
	parsed, err := codec.ParseFormat(value)
	if err != nil {
		return err
	}
	*f = format(parsed)
	return nil
}

type envFiles []string

func (e *envFiles) String() string {
	return strings.Join(*e, ",")
}

func (e *envFiles) Set(value string) error {
	*e = append(*e, value)
	return nil
}

// Lookup returns an environment lookup that prefers the process environment
// and falls back to the dotenv files. Later files override earlier ones.
func (e *envFiles) Lookup() (codec.LookupFunc, error) {
	if len(*e) == 0 {
		return os.LookupEnv, nil
	}
	vars, err := godotenv.Read(*e...)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}, nil
}

type logLevel logrus.Level

func (l *logLevel) String() string {
	return logrus.Level(*l).String()
}

func (l *logLevel) Set(value string) error {
	level, err := logrus.ParseLevel(value)
	if err != nil {
		return err
	}
	*l = logLevel(level)
	return nil
}
