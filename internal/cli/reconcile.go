package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/grimoire/internal/app"
	"github.com/roach88/grimoire/internal/reconcile"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	Kind          string
	Prefix        string
	MaxIterations int
	BatchSize     int
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile <collection>",
		Short: "Fill a collection from the content generator",
		Long: `Ask the content generator for batches of items missing from the
collection and upsert them under canonical identities. The loop stops when
the generator returns an empty batch or after --max-iterations batches.

Examples:
  grimoire reconcile spells
  grimoire reconcile equipment --kind "adventuring gear" --prefix eq_`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "item kind passed to the generator (default the collection)")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "identity prefix (default from the collection's plan)")
	cmd.Flags().IntVar(&opts.MaxIterations, "max-iterations", 0, "batch limit (default from config)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "items per batch (default from config)")

	return cmd
}

func runReconcile(cmd *cobra.Command, opts *ReconcileOptions, collection string) error {
	if opts.MaxIterations < 0 || opts.BatchSize < 0 {
		return NewExitError(ExitCommandError, "--max-iterations and --batch-size must not be negative")
	}

	return opts.withApp(cmd, func(a *app.App) error {
		res, err := a.Reconcile(cmd.Context(), reconcile.Request{
			Collection:    collection,
			Kind:          opts.Kind,
			Prefix:        opts.Prefix,
			MaxIterations: opts.MaxIterations,
			BatchSize:     opts.BatchSize,
		})
		if err != nil {
			return opts.fail(cmd, "reconcile failed", err, partial(res))
		}
		return opts.formatter(cmd).Success(res, func(w io.Writer) {
			states := make([]string, len(res.States))
			for i, s := range res.States {
				states[i] = string(s)
			}
			fmt.Fprintf(w, "%s: added %d in %d iterations (%d generator calls, %d unnamed)\n",
				res.Collection, res.Added, res.Iterations, res.FetchCalls, res.Unnamed)
			if res.Truncated {
				fmt.Fprintln(w, "Stopped at the iteration limit.")
			}
			fmt.Fprintf(w, "States: %s\n", strings.Join(states, " > "))
		})
	})
}

// RepairOptions holds flags for the repair-links command.
type RepairOptions struct {
	*RootOptions
	Field     string
	GroupSize int
	Pause     time.Duration
	MaxCalls  int
}

// NewRepairLinksCommand creates the repair-links command.
func NewRepairLinksCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RepairOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "repair-links",
		Short: "Resolve dangling link values through the content generator",
		Long: `Read each dangling value of a link field as a name, find or generate
the document it names, and rewrite the link to that document's identity.
Values that cannot be resolved are removed.

Examples:
  grimoire repair-links --field equipment
  grimoire repair-links --field spells --group-size 3 --pause 2s --max-calls 40`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepair(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Field, "field", "", "link field to repair (required)")
	cmd.Flags().IntVar(&opts.GroupSize, "group-size", 0, "entities repaired concurrently (default from config)")
	cmd.Flags().DurationVar(&opts.Pause, "pause", 0, "pause between groups (default from config)")
	cmd.Flags().IntVar(&opts.MaxCalls, "max-calls", 0, "generator call budget (default from config)")

	return cmd
}

func runRepair(cmd *cobra.Command, opts *RepairOptions) error {
	if opts.Field == "" {
		return NewExitError(ExitCommandError, "--field is required")
	}
	if opts.GroupSize < 0 || opts.MaxCalls < 0 || opts.Pause < 0 {
		return NewExitError(ExitCommandError, "--group-size, --pause and --max-calls must not be negative")
	}

	return opts.withApp(cmd, func(a *app.App) error {
		report, err := a.RepairLinks(cmd.Context(), reconcile.RepairRequest{
			Field:     opts.Field,
			GroupSize: opts.GroupSize,
			Pause:     opts.Pause,
			MaxCalls:  opts.MaxCalls,
		})
		if err != nil {
			return opts.fail(cmd, "repair failed", err, partial(report))
		}
		return opts.formatter(cmd).Success(report, func(w io.Writer) {
			renderRepair(w, report)
		})
	})
}

func renderRepair(w io.Writer, r *reconcile.RepairReport) {
	fmt.Fprintf(w, "%s -> %s: %d entities in %d groups, %d resolved, %d dropped, %d updated, %d failed (%d generator calls)\n",
		r.Field, r.Target, r.Entities, r.Groups, r.Resolved, r.Dropped, r.Updated, r.Failed, r.GeneratorCalls)
	if r.BudgetExhausted {
		fmt.Fprintln(w, "Generator budget exhausted; remaining values were kept.")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, e := range r.Repairs {
		if e.Error != "" {
			fmt.Fprintf(tw, "  %s\t%s\terror: %s\n", e.ID, e.Name, e.Error)
			continue
		}
		for _, hint := range sortedKeys(e.Resolved) {
			fmt.Fprintf(tw, "  %s\t%s\t%s -> %s\n", e.ID, e.Name, hint, e.Resolved[hint])
		}
		dropped := slices.Clone(e.Dropped)
		slices.Sort(dropped)
		for _, hint := range dropped {
			fmt.Fprintf(tw, "  %s\t%s\tdropped %s\n", e.ID, e.Name, hint)
		}
	}
	tw.Flush()
}
