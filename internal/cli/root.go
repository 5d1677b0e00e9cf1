package cli

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/syssam/tessera/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config  string // configuration file
	Format  string // "text" | "json"
	Verbose bool

	now func() time.Time
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the tessera CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tessera",
		Short: "Tessera entity store tooling",
		Long:  "Prepare the store of a tessera application, and export, inspect or restore its backups.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "configuration file (YAML); TESSERA_* variables override it")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log debug messages to stderr")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewListCommand(opts))

	return cmd
}

func (o *RootOptions) clock() time.Time {
	if o.now != nil {
		return o.now()
	}
	return time.Now()
}

// env is the runtime shared by the commands.
type env struct {
	cfg *config.Config
	log *slog.Logger
	out *output
}

func (o *RootOptions) setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load configuration", err)
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	return &env{
		cfg: cfg,
		log: cfg.LoggerTo(cmd.ErrOrStderr()),
		out: &output{format: o.Format, w: cmd.OutOrStdout()},
	}, nil
}
