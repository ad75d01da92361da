package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/grimoire/internal/app"
	"github.com/roach88/grimoire/internal/integrity"
	"github.com/roach88/grimoire/internal/migrate"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	Apply           bool
	Orphans         string
	AllowEmptyCodex bool
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Check links between the codex, entities and statblocks",
		Long: `Check that every codex entity node has an entity, every entity is
referenced from the codex, every statblock belongs to an entity and every
link field points at a live document.

Without --apply nothing is written and findings exit with status 1.

Examples:
  grimoire scan
  grimoire scan --apply --orphans adopt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "fix what the scan finds")
	cmd.Flags().StringVar(&opts.Orphans, "orphans", "", "orphan policy with --apply (delete|adopt|keep, default from config)")
	cmd.Flags().BoolVar(&opts.AllowEmptyCodex, "allow-empty-codex", false, "allow --apply when the codex references no entities")

	return cmd
}

func runScan(cmd *cobra.Command, opts *ScanOptions) error {
	req := integrity.ScanRequest{Apply: opts.Apply, AllowEmptyCodex: opts.AllowEmptyCodex}
	if opts.Orphans != "" {
		policy, err := integrity.ParseOrphanPolicy(opts.Orphans)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --orphans", err)
		}
		req.Orphans = policy
	}

	return opts.withApp(cmd, func(a *app.App) error {
		report, err := a.Scan(cmd.Context(), req)
		if err != nil {
			return opts.fail(cmd, "scan failed", err, partial(report))
		}
		if err := opts.formatter(cmd).Success(report, func(w io.Writer) {
			renderScan(w, report)
		}); err != nil {
			return err
		}
		if !report.Apply && !report.Clean() {
			return &ExitError{
				Code:     ExitFailure,
				Message:  fmt.Sprintf("%d integrity findings", len(report.Findings())),
				Reported: opts.Format == "json",
			}
		}
		return nil
	})
}

func renderScan(w io.Writer, r *integrity.Report) {
	fmt.Fprintf(w, "Scanned %d codex nodes, %d entities (%d referenced)\n", r.Nodes, r.Entities, r.Expected)
	if r.Clean() {
		fmt.Fprintln(w, "No findings.")
	} else {
		renderFindings(w, r.Findings())
	}
	if r.Apply {
		fmt.Fprintf(w, "Applied: %d deleted, %d adopted, %d links stripped\n",
			r.Actions.Deleted, r.Actions.Adopted, r.Actions.LinksStripped)
	}
}

func renderFindings(w io.Writer, findings []integrity.Finding) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  KIND\tCOLLECTION\tID\tNAME\tDETAIL")
	for _, f := range findings {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", f.Kind, f.Collection, f.ID, f.Name, findingDetail(f))
	}
	tw.Flush()
}

func findingDetail(f integrity.Finding) string {
	var parts []string
	if f.Field != "" {
		parts = append(parts, f.Field+"="+strings.Join(f.Missing, ","))
	}
	if len(f.IDs) > 0 {
		parts = append(parts, "ids="+strings.Join(f.IDs, ","))
	}
	if len(f.Paths) > 0 {
		parts = append(parts, "paths="+strings.Join(f.Paths, ","))
	}
	return strings.Join(parts, " ")
}

// DuplicatesOptions holds flags for the duplicates command.
type DuplicatesOptions struct {
	*RootOptions
	Tolerate    []string
	SkipContent bool
}

// NewDuplicatesCommand creates the duplicates command.
func NewDuplicatesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DuplicatesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "duplicates <collection>",
		Short: "Report documents sharing a name and codex nodes sharing content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDuplicates(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringSliceVar(&opts.Tolerate, "tolerate", nil, "names allowed to repeat")
	cmd.Flags().BoolVar(&opts.SkipContent, "skip-content", false, "skip the codex content search")

	return cmd
}

func runDuplicates(cmd *cobra.Command, opts *DuplicatesOptions, collection string) error {
	return opts.withApp(cmd, func(a *app.App) error {
		report, err := a.Duplicates(cmd.Context(), integrity.DuplicateRequest{
			Collection:  collection,
			Tolerate:    opts.Tolerate,
			SkipContent: opts.SkipContent,
		})
		if err != nil {
			return opts.fail(cmd, "duplicates failed", err, partial(report))
		}
		return opts.formatter(cmd).Success(report, func(w io.Writer) {
			fmt.Fprintf(w, "%s: %d duplicate names, %d duplicate codex contents\n",
				report.Collection, len(report.Names), len(report.Content))
			renderFindings(w, append(append([]integrity.Finding{}, report.Names...), report.Content...))
		})
	})
}

// NormalizeOptions holds flags for the normalize command.
type NormalizeOptions struct {
	*RootOptions
	Plan string
}

// NewNormalizeCommand creates the normalize command.
func NewNormalizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NormalizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Merge legacy collections under canonical identities",
		Long: `Run the configured normalization plans. Each plan merges its source
collections into the target under identities derived from the document
name, then rewrites links in dependent collections.

Examples:
  grimoire normalize
  grimoire normalize --plan equipment`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNormalize(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Plan, "plan", "", "only run the plan for this target (default all)")

	return cmd
}

func runNormalize(cmd *cobra.Command, opts *NormalizeOptions) error {
	return opts.withApp(cmd, func(a *app.App) error {
		results, err := a.Normalize(cmd.Context(), opts.Plan)
		if err != nil {
			var details any
			if len(results) > 0 {
				details = results
			}
			return opts.fail(cmd, "normalize failed", err, details)
		}
		return opts.formatter(cmd).Success(results, func(w io.Writer) {
			renderNormalize(w, results)
		})
	})
}

func renderNormalize(w io.Writer, results []*migrate.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAN\tMERGED\tREMAPPED\tWRITTEN\tDELETED\tCOLLISIONS\tUNNAMED")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.Plan, r.Merged, len(r.Map), r.Written, r.Deleted, r.Collisions, r.Unnamed)
	}
	tw.Flush()
}
