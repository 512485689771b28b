package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/companyimport/internal/core"
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

func newImportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a company CSV file",
		Long: `Import reads a CSV with company_name, email and phone_number columns,
stores every row (invalid rows keep their validation errors) and reconciles
duplicates for the new batch before returning.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := a.service.ImportFile(ctxOf(cmd), args[0])
			if err != nil {
				return userError(err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", green("Import completed"), gray("batch "+summary.BatchID))
			fmt.Fprintf(out, "  Total:      %d\n", summary.Total)
			fmt.Fprintf(out, "  Imported:   %d\n", summary.Imported)
			if summary.Duplicates != nil {
				fmt.Fprintf(out, "  Duplicates: %s\n", yellow(strconv.Itoa(*summary.Duplicates)))
			}
			errs := strconv.Itoa(summary.Errors)
			if summary.Errors > 0 {
				errs = red(errs)
			}
			fmt.Fprintf(out, "  Errors:     %s\n", errs)
			return nil
		},
	}
}

func newReconcileCommand(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reconcile [batch-id]",
		Short: "Resolve duplicates for one batch or the whole store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass either a batch id or --all")
			}

			var (
				result core.ReconcileResult
				err    error
			)
			if all {
				result, err = a.service.ReconcileAll(ctxOf(cmd))
			} else {
				result, err = a.service.Reconcile(ctxOf(cmd), args[0])
			}
			if err != nil {
				return userError(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s keys=%d duplicates=%d changed=%d\n",
				green("Reconciled"), result.Keys, result.Duplicates, result.Changed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "reconcile every key in the store")
	return cmd
}

func newExportCommand(a *app) *cobra.Command {
	var (
		filter   string
		extended bool
		output   string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export companies as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := core.ParseDuplicateFilter(filter)
			if err != nil {
				return userError(err)
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}

			n, err := a.service.Export(ctxOf(cmd), f, w, extended)
			if err != nil {
				return userError(err)
			}
			if output != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %d rows to %s\n", green("Exported"), n, output)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "duplicates or unique")
	cmd.Flags().BoolVar(&extended, "extended", false, "include is_duplicate and duplicate_of columns")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func newGroupsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List originals with their duplicates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := a.service.DuplicateGroups(ctxOf(cmd))
			if err != nil {
				return userError(err)
			}

			out := cmd.OutOrStdout()
			if len(groups) == 0 {
				fmt.Fprintln(out, gray("No duplicate groups"))
				return nil
			}
			for _, g := range groups {
				name := gray("(missing)")
				if g.Original != nil {
					name = bold(g.Original.CompanyName)
				}
				fmt.Fprintf(out, "#%d %s  %s\n", g.OriginalID, name, yellow(fmt.Sprintf("%d duplicates", len(g.Duplicates))))
				for _, d := range g.Duplicates {
					fmt.Fprintf(out, "    #%d %s\n", d.ID, describe(d))
				}
			}
			fmt.Fprintf(out, "\n%d groups\n", len(groups))
			return nil
		},
	}
}

func newBatchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <batch-id>",
		Short: "Show the records of one import batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ctxOf(cmd)
			recs, err := a.service.ByBatch(ctx, args[0])
			if err != nil {
				return userError(err)
			}
			stats, err := a.service.BatchStats(ctx, args[0])
			if err != nil {
				return userError(err)
			}

			out := cmd.OutOrStdout()
			for _, r := range recs {
				status := green("original")
				switch {
				case r.ImportErrors != nil:
					status = red(fmt.Sprintf("row %d: %v", r.ImportErrors.Row, r.ImportErrors.Messages))
				case r.IsDuplicate && r.DuplicateOf != nil:
					status = yellow(fmt.Sprintf("duplicate of #%d", *r.DuplicateOf))
				}
				fmt.Fprintf(out, "#%d %s  %s\n", r.ID, describe(r), status)
			}
			fmt.Fprintf(out, "\ntotal=%d duplicates=%d errors=%d\n", stats.Total, stats.Duplicates, stats.Errors)
			return nil
		},
	}
}

func newMarkDuplicateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mark-duplicate <id> <original-id>",
		Short: "Manually mark a record as a duplicate of another",
		Long: `mark-duplicate links a record to an original regardless of its key.
The link is kept by later reconciliation passes.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			original, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid original id %q", args[1])
			}

			ok, err := a.service.MarkDuplicate(ctxOf(cmd), id, original)
			if err != nil {
				return userError(err)
			}
			if !ok {
				return fmt.Errorf("record %d not found", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s #%d is a duplicate of #%d\n", green("Marked"), id, original)
			return nil
		},
	}
}

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The pre-run hook already migrated.
			fmt.Fprintln(cmd.OutOrStdout(), green("Schema is up to date"))
			return nil
		},
	}
}

// describe formats a record's identifying fields.
func describe(r core.CompanyRecord) string {
	s := r.CompanyName
	if r.Email != nil {
		s += " <" + *r.Email + ">"
	}
	if r.PhoneNumber != nil {
		s += " " + *r.PhoneNumber
	}
	return s
}
