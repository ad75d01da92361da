package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/grimoire/internal/app"
	"github.com/roach88/grimoire/internal/httpapi"
	"github.com/roach88/grimoire/internal/job"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the most recent run of each job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				runs, err := a.Status(cmd.Context())
				if err != nil {
					return opts.fail(cmd, "status failed", err, nil)
				}
				return opts.formatter(cmd).Success(runs, func(w io.Writer) {
					renderStatus(w, runs)
				})
			})
		},
	}
}

func renderStatus(w io.Writer, runs []job.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tSTATE\tSTARTED\tDURATION\tERROR")
	for _, r := range runs {
		duration := "-"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.Kind, r.State, r.StartedAt.UTC().Format(time.RFC3339), duration, r.Error)
	}
	tw.Flush()
}

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the maintenance HTTP API",
		Long: `Serve every operation over HTTP, plus /health and Prometheus metrics
on /metrics. Stops gracefully on SIGINT or SIGTERM.

Examples:
  grimoire serve
  grimoire serve --addr 127.0.0.1:9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := opts.Addr
			if addr == "" {
				addr = opts.Config.Server.Addr
			}
			return opts.withApp(cmd, func(a *app.App) error {
				srv := httpapi.New(a, httpapi.WithLogger(opts.Log))
				if err := srv.ListenAndServe(cmd.Context(), addr); err != nil {
					return WrapExitError(ExitFailure, "server stopped", err)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config)")

	return cmd
}
