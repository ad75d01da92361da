package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/grimoire/internal/app"
	"github.com/roach88/grimoire/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"
	LogFormat  string // "console" | "json"

	// Set by the root command before any subcommand runs.
	Log    zerolog.Logger
	Config *config.Config

	// OpenApp builds the application for a command. Tests replace it to run
	// against an in-memory store.
	OpenApp func(ctx context.Context, opts *RootOptions) (*app.App, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// ValidLogFormats defines the allowed log encodings.
var ValidLogFormats = []string{"console", "json"}

// NewRootCommand creates the root command for the grimoire CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{OpenApp: openApp, Log: zerolog.Nop()})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grimoire",
		Short: "grimoire - campaign document store maintenance",
		Long: "Backup, restore and integrity tooling for a campaign document store.\n" +
			"Works against a SQLite file or a MongoDB database.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if !slices.Contains(ValidLogFormats, opts.LogFormat) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid log format %q: must be one of %v", opts.LogFormat, ValidLogFormats))
			}
			opts.Log = newLogger(cmd.ErrOrStderr(), opts.LogFormat, opts.Verbose)

			cfg, err := config.Load(opts.ConfigPath, cmd.Flags().Changed("config"))
			if err != nil {
				return WrapExitError(ExitCommandError, "loading config", err)
			}
			opts.Config = cfg
			return nil
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", config.DefaultPath, "config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "console", "log encoding on stderr (console|json)")

	// Add subcommands
	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewRestoreCommand(opts))
	cmd.AddCommand(NewScanCommand(opts))
	cmd.AddCommand(NewDuplicatesCommand(opts))
	cmd.AddCommand(NewNormalizeCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewRepairLinksCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

func newLogger(w io.Writer, format string, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// openApp connects to the configured store.
func openApp(ctx context.Context, opts *RootOptions) (*app.App, error) {
	st, err := app.OpenStore(ctx, opts.Config.Store.DSN, opts.Config.StoreTimeout())
	if err != nil {
		return nil, err
	}
	return app.New(opts.Config, st, app.WithLogger(opts.Log)), nil
}

// withApp opens the application, runs fn and closes it.
func (o *RootOptions) withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	a, err := o.OpenApp(cmd.Context(), o)
	if err != nil {
		return wrapOp("opening store", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			o.Log.Warn().Err(cerr).Msg("closing store")
		}
	}()
	return fn(a)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// fail returns err with its exit code. In JSON mode the error and any
// partial report are written to stdout and the caller should not print it
// again.
func (o *RootOptions) fail(cmd *cobra.Command, message string, err error, partial any) error {
	exit, code := classify(err)
	out := &ExitError{Code: exit, Message: message, Err: err}
	if o.Format == "json" {
		_ = o.formatter(cmd).Error(code, out.Error(), partial)
		out.Reported = true
	}
	return out
}

// partial keeps a nil report out of error details.
func partial[T any](p *T) any {
	if p == nil {
		return nil
	}
	return p
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
