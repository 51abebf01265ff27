package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/cfgtree/internal/config"
	"github.com/dshills/cfgtree/internal/config/expr"
	"github.com/dshills/cfgtree/internal/config/layer"
	"github.com/dshills/cfgtree/internal/config/loader"
	"github.com/dshills/cfgtree/internal/config/model"
	"github.com/dshills/cfgtree/internal/config/node"
)

// errKeyNotFound is returned by get when a key selects nothing.
var errKeyNotFound = errors.New("key not found")

// =============================================================================
// COMMAND FLAGS
// =============================================================================

// cliOptions holds the flags shared by all commands.
type cliOptions struct {
	verbose bool   // Enable debug logging
	format  string // Output format, defaults to the format of FILE
	write   bool   // Write edits back to FILE instead of printing them

	logger *slog.Logger
}

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// newRootCmd builds the cfgtree command tree writing to stdout and stderr.
//
// # Examples
//
//	cfgtree get config.yaml server.port
//	cfgtree set -w config.yaml server.port 8080
//	cfgtree add config.toml servers.server[@id] gamma
//	cfgtree clear --tree config.json cache
//	cfgtree dump --format json config.yaml
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "cfgtree",
		Short: "Inspect and edit hierarchical configuration files",
		Long: `Reads a TOML, YAML or JSON file into a configuration tree and
queries or edits it with hierarchical keys.

Keys separate nodes with dots and escape a dot in a name by doubling it.
"name(i)" selects the i-th node called name and "name[@attr]" one of its
attributes.

Edits are printed to stdout unless --write is given.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			opts.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false,
		"Enable debug logging")
	root.PersistentFlags().StringVarP(&opts.format, "format", "f", "",
		"Output format: toml, yaml or json (default: format of FILE)")

	root.AddCommand(
		newGetCmd(opts),
		newSetCmd(opts),
		newAddCmd(opts),
		newClearCmd(opts),
		newDumpCmd(opts),
	)
	return root
}

func newGetCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get FILE KEY",
		Short: "Print the values selected by a key",
		Long: `Prints one line per value selected by KEY. Nodes with children are
printed as documents in the output format.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openFile(cmd.Context(), opts, args[0])
			if err != nil {
				return err
			}
			defer c.Close()
			return runGet(cmd.OutOrStdout(), c.Model(), args[1], outputFormat(opts, args[0]))
		},
	}
}

func newSetCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set FILE KEY VALUE...",
		Short: "Set the values of a key",
		Long: `Changes the values selected by KEY in order. Extra values are added and
extra matches are removed.`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := parseValues(args[2:])
			var value any = values
			if len(values) == 1 {
				value = values[0]
			}
			return editFile(cmd, opts, args[0], func(m *model.InMemory) error {
				return m.SetProperty(args[1], value, nil)
			})
		},
	}
	cmd.Flags().BoolVarP(&opts.write, "write", "w", false, "Write the result back to FILE")
	return cmd
}

func newAddCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add FILE KEY VALUE...",
		Short: "Add values to a key",
		Long:  `Adds a new node for every VALUE, creating missing nodes on the way.`,
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := parseValues(args[2:])
			return editFile(cmd, opts, args[0], func(m *model.InMemory) error {
				return m.AddProperty(args[1], values, nil)
			})
		},
	}
	cmd.Flags().BoolVarP(&opts.write, "write", "w", false, "Write the result back to FILE")
	return cmd
}

func newClearCmd(opts *cliOptions) *cobra.Command {
	var tree bool

	cmd := &cobra.Command{
		Use:   "clear FILE KEY",
		Short: "Remove the values of a key",
		Long: `Removes the values selected by KEY. Nodes left empty are removed.
With --tree the selected nodes are removed with their children.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editFile(cmd, opts, args[0], func(m *model.InMemory) error {
				if tree {
					return m.ClearTree(args[1], nil)
				}
				return m.ClearProperty(args[1], nil)
			})
		},
	}
	cmd.Flags().BoolVar(&tree, "tree", false, "Remove the selected nodes and their children")
	cmd.Flags().BoolVarP(&opts.write, "write", "w", false, "Write the result back to FILE")
	return cmd
}

func newDumpCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump FILE",
		Short: "Print the whole configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openFile(cmd.Context(), opts, args[0])
			if err != nil {
				return err
			}
			defer c.Close()
			return writeDocument(cmd.OutOrStdout(), c.Model().RootNode(), outputFormat(opts, args[0]))
		},
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// openFile loads path into a new configuration without watching it.
func openFile(ctx context.Context, opts *cliOptions, path string) (*config.Config, error) {
	c, err := config.New(config.WithWatcher(false), config.WithLogger(opts.logger))
	if err != nil {
		return nil, err
	}
	if err := c.AddFile(path, layer.PriorityFile); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.Load(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// editFile applies edit to the model of path and writes the result.
func editFile(cmd *cobra.Command, opts *cliOptions, path string, edit func(*model.InMemory) error) error {
	c, err := openFile(cmd.Context(), opts, path)
	if err != nil {
		return err
	}
	defer c.Close()

	m := c.Model()
	before := m.Snapshot().Version()
	if err := edit(m); err != nil {
		return err
	}
	opts.logger.Debug("edit applied", "path", path, "changed", m.Snapshot().Version() != before)

	if !opts.write {
		return writeDocument(cmd.OutOrStdout(), m.RootNode(), outputFormat(opts, path))
	}
	format, err := loader.FormatForPath(path)
	if err != nil {
		return err
	}
	return replaceFile(path, m.RootNode(), format)
}

func runGet(w io.Writer, m *model.InMemory, key string, format loader.Format) error {
	snapshot := m.Snapshot()
	results, err := expr.Default.ResolveKey(snapshot.Root(), key, snapshot)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("%w: %s", errKeyNotFound, key)
	}

	for _, r := range results {
		if r.IsAttribute() || (r.Node.ChildCount() == 0 && r.Node.AttributeCount() == 0) {
			fmt.Fprintln(w, formatValue(r.Value()))
			continue
		}
		if err := writeDocument(w, r.Node, format); err != nil {
			return err
		}
	}
	return nil
}

func writeDocument(w io.Writer, root *node.Node, format loader.Format) error {
	data, err := loader.Encode(root, format)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		_, err = io.WriteString(w, "\n")
	}
	return err
}

// replaceFile writes root to path through a temporary file in the same
// directory so readers never see a partial document.
func replaceFile(path string, root *node.Node, format loader.Format) error {
	data, err := loader.Encode(root, format)
	if err != nil {
		return err
	}

	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

// outputFormat returns the --format flag or the format of path.
func outputFormat(opts *cliOptions, path string) loader.Format {
	if opts.format != "" {
		return loader.Format(strings.ToLower(opts.format))
	}
	format, err := loader.FormatForPath(path)
	if err != nil {
		return loader.FormatYAML
	}
	return format
}

func parseValues(args []string) []any {
	values := make([]any, len(args))
	for i, arg := range args {
		values[i] = loader.ParseValue(arg)
	}
	return values
}

func formatValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
