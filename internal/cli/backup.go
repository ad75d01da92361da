package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/grimoire/internal/app"
	"github.com/roach88/grimoire/internal/archive"
	"github.com/roach88/grimoire/internal/restore"
)

// BackupOptions holds flags for the backup command.
type BackupOptions struct {
	*RootOptions
	Output string
}

// NewBackupCommand creates the backup command.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write every collection to a zip archive",
		Long: `Snapshot every non-system collection into a zip archive with one
JSON member per collection.

Examples:
  grimoire backup -o campaign.zip
  grimoire backup --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "archive path (default grimoire-<timestamp>.zip)")

	return cmd
}

func runBackup(cmd *cobra.Command, opts *BackupOptions) error {
	path := opts.Output
	if path == "" {
		path = fmt.Sprintf("grimoire-%s.zip", time.Now().UTC().Format("20060102T150405Z"))
	}

	return opts.withApp(cmd, func(a *app.App) error {
		// Written beside the destination and renamed into place.
		tmp, err := os.CreateTemp(filepath.Dir(path), ".grimoire-backup-*")
		if err != nil {
			return WrapExitError(ExitFailure, "creating archive", err)
		}
		defer os.Remove(tmp.Name())

		m, err := a.Backup(cmd.Context(), tmp)
		if cerr := tmp.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			return opts.fail(cmd, "backup failed", err, nil)
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			return WrapExitError(ExitFailure, "writing archive", err)
		}

		out := struct {
			Path string `json:"path"`
			*archive.Manifest
		}{path, m}
		return opts.formatter(cmd).Success(out, func(w io.Writer) {
			fmt.Fprintf(w, "Wrote %s (%d documents, %d bytes, sha256 %s)\n", path, m.Documents, m.Size, m.Digest)
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			for _, name := range sortedKeys(m.Collections) {
				fmt.Fprintf(tw, "  %s\t%d\n", name, m.Collections[name])
			}
			tw.Flush()
		})
	})
}

// RestoreOptions holds flags for the restore command.
type RestoreOptions struct {
	*RootOptions
	Mode        string
	Collections []string
	Normalize   bool
}

// NewRestoreCommand creates the restore command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RestoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "restore <archive>",
		Short: "Restore collections from an archive",
		Long: `Restore collections from a backup archive.

Full mode replaces each restored collection. Partial mode upserts by
identity and leaves other documents alone. Legacy single-file JSON
archives are accepted too.

Examples:
  grimoire restore campaign.zip
  grimoire restore campaign.zip --mode partial --collections entities,spells
  grimoire restore legacy.json --normalize`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "full", "merge mode (full|partial)")
	cmd.Flags().StringSliceVar(&opts.Collections, "collections", nil, "only restore these collections")
	cmd.Flags().BoolVar(&opts.Normalize, "normalize", false, "run every normalization plan afterwards")

	return cmd
}

func runRestore(cmd *cobra.Command, opts *RestoreOptions, path string) error {
	mode, err := restore.ParseMode(opts.Mode)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --mode", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "reading archive", err)
	}

	return opts.withApp(cmd, func(a *app.App) error {
		res, err := a.Restore(cmd.Context(), filepath.Base(path), data, app.RestoreRequest{
			Mode:        mode,
			Collections: opts.Collections,
			Normalize:   opts.Normalize,
		})
		if err != nil {
			return opts.fail(cmd, "restore failed", err, partial(res))
		}
		return opts.formatter(cmd).Success(res, func(w io.Writer) {
			renderRestore(w, res)
		})
	})
}

func renderRestore(w io.Writer, res *app.RestoreResult) {
	legacy := ""
	if res.Legacy {
		legacy = " (legacy archive)"
	}
	fmt.Fprintf(w, "Restore %s%s\n", res.Mode, legacy)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  COLLECTION\tLAYOUT\tDELETED\tINSERTED\tMODIFIED\tUPSERTED\tFAILED")
	for _, c := range res.Collections {
		fmt.Fprintf(tw, "  %s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			c.Collection, c.Layout, c.Deleted, c.Inserted, c.Modified, c.Upserted, c.Failed)
	}
	tw.Flush()
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "  skipped %s\n", s)
	}
	for _, p := range res.Problems {
		fmt.Fprintf(w, "  problem: %s\n", p)
	}
	for _, n := range res.Normalized {
		fmt.Fprintf(w, "Normalized %s: %d merged, %d remapped, %d deleted\n", n.Plan, n.Merged, len(n.Map), n.Deleted)
	}
}
