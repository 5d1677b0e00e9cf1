package cli

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/syssam/tessera/backup"
	"github.com/syssam/tessera/config"
	"github.com/syssam/tessera/store/codec"
	"github.com/syssam/tessera/store/sqlstore"
)

// open assembles the configured store stack and the backup sink.
func (e *env) open(ctx context.Context) (*config.Stack, backup.Sink, error) {
	stack, err := config.Open(ctx, e.cfg, nil, e.log)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "open store", err)
	}
	sink, err := e.cfg.Sink(ctx)
	if err != nil {
		stack.Close()
		return nil, nil, WrapExitError(ExitCommandError, "open backup sink", err)
	}
	return stack, sink, nil
}

// close logs the statement statistics of SQL stores and closes stack.
func (e *env) close(stack *config.Stack) {
	if stack.Stats != nil {
		s := stack.Stats.QueryStats().Snapshot()
		e.log.Debug("cli: store statistics", "queries", s.Queries, "execs", s.Execs,
			"duration", s.Duration, "slow", s.Slow, "errors", s.Errors)
	}
	if err := stack.Close(); err != nil {
		e.log.Warn("cli: close store", "error", err)
	}
}

// resolve maps "latest" to the most recent archive of sink.
func resolve(ctx context.Context, sink backup.Sink, name string) (string, error) {
	if name != "latest" {
		return name, nil
	}
	return backup.Latest(ctx, sink)
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the entity table of SQL stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			if e.cfg.Store.Driver == config.DriverMemory {
				return NewExitError(ExitCommandError, "the memory store has no schema to migrate")
			}
			e.cfg.Store.Migrate = true
			stack, err := config.Open(cmd.Context(), e.cfg, nil, e.log)
			if err != nil {
				return WrapExitError(ExitFailure, "migrate", err)
			}
			e.close(stack)
			table := e.cfg.Store.Table
			if table == "" {
				table = sqlstore.DefaultTable
			}
			data := map[string]string{"driver": e.cfg.Store.Driver, "table": table}
			return e.out.print(data, func(w io.Writer) {
				fmt.Fprintf(w, "table %s ready (%s)\n", table, e.cfg.Store.Driver)
			})
		},
	}
}

// NewExportCommand creates the export command.
func NewExportCommand(opts *RootOptions) *cobra.Command {
	var codecName string
	cmd := &cobra.Command{
		Use:   "export [name]",
		Short: "Write every stored entity state to a backup archive",
		Long: "Write every stored entity state to a backup archive. The archive is named\n" +
			"after the current time unless a name is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			if codecName == "" {
				codecName = cmp.Or(e.cfg.Store.Codec, codec.NameMsgPack)
			}
			c, err := codec.ByName(codecName)
			if err != nil {
				return WrapExitError(ExitCommandError, "archive codec", err)
			}
			stack, sink, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer e.close(stack)
			it, err := stack.Iterator()
			if err != nil {
				return WrapExitError(ExitCommandError, "export", err)
			}
			name := backup.Name(opts.clock(), c)
			if len(args) == 1 {
				name = args[0]
			}
			sum, err := backup.Export(ctx, it, sink, name,
				backup.WithCodec(c),
				backup.WithLogger(e.log),
				backup.WithClock(opts.clock),
			)
			if err != nil {
				return WrapExitError(ExitFailure, "export", err)
			}
			return e.out.print(sum, func(w io.Writer) {
				fmt.Fprintf(w, "exported %d entities to %s\n", sum.Entities, sum.Name)
			})
		},
	}
	cmd.Flags().StringVar(&codecName, "codec", "", "archive codec (json|msgpack); defaults to the store codec")
	return cmd
}

// NewImportCommand creates the import command.
func NewImportCommand(opts *RootOptions) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "import <name|latest>",
		Short: "Restore a backup archive into the store",
		Long: "Restore a backup archive into the store. States are written verbatim,\n" +
			"versions included, overwriting stored states with the same reference.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			stack, sink, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer e.close(stack)
			im, err := stack.Importer()
			if err != nil {
				return WrapExitError(ExitCommandError, "import", err)
			}
			name, err := resolve(ctx, sink, args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "import", err)
			}
			sum, err := backup.Import(ctx, im, sink, name,
				backup.WithBatchSize(batch),
				backup.WithLogger(e.log),
			)
			if err != nil {
				return WrapExitError(ExitFailure, "import", err)
			}
			return e.out.print(sum, func(w io.Writer) {
				fmt.Fprintf(w, "imported %d entities from %s\n", sum.Entities, sum.Name)
			})
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 500, "states imported per store call")
	return cmd
}

// inspection is the JSON result of the inspect command.
type inspection struct {
	*backup.Summary
	Format    string    `json:"format"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <name|latest>",
		Short: "Describe a backup archive without importing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			sink, err := e.cfg.Sink(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "open backup sink", err)
			}
			name, err := resolve(ctx, sink, args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "inspect", err)
			}
			sum, h, err := backup.Inspect(ctx, sink, name)
			if err != nil {
				return WrapExitError(ExitFailure, "inspect", err)
			}
			data := inspection{Summary: sum, Format: h.Format, Version: h.Version, CreatedAt: h.CreatedAt}
			return e.out.print(data, func(w io.Writer) {
				fmt.Fprintf(w, "%-9s %s\n", "name:", sum.Name)
				fmt.Fprintf(w, "%-9s %s v%d\n", "format:", h.Format, h.Version)
				fmt.Fprintf(w, "%-9s %s\n", "codec:", sum.Codec)
				fmt.Fprintf(w, "%-9s %s\n", "created:", h.CreatedAt.UTC().Format(time.RFC3339))
				fmt.Fprintf(w, "%-9s %d\n", "entities:", sum.Entities)
				types := slices.Sorted(maps.Keys(sum.Types))
				width := 0
				for _, t := range types {
					width = max(width, len(t))
				}
				for _, t := range types {
					fmt.Fprintf(w, "  %-*s %d\n", width, t, sum.Types[t])
				}
			})
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the backup archives of the sink, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			sink, err := e.cfg.Sink(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "open backup sink", err)
			}
			names, err := sink.List(ctx, backup.NamePrefix)
			if err != nil {
				return WrapExitError(ExitFailure, "list", err)
			}
			if names == nil {
				names = []string{}
			}
			return e.out.print(names, func(w io.Writer) {
				for _, n := range names {
					fmt.Fprintln(w, n)
				}
			})
		},
	}
}
