package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/openfroyo/inkhost/pkg/stores"
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit   int
		summary bool
		dbPath  string
	)

	cmd := &cobra.Command{
		Use:   "history [path]",
		Short: "Show the story load journal",
		Long: `Show load, reload and parse failure outcomes recorded by "inkhost run" and
"inkhost play" when the journal is enabled.

Without a path the most recent entries across all stories are listed.`,
		Example: `  # Latest journal entries
  inkhost history

  # Entries for one story file
  inkhost history stories/intro.ink --limit 50

  # Per-file totals
  inkhost history --summary`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cfg.Journal.Path
			}

			ctx := cmd.Context()
			journal, err := stores.Open(ctx, stores.Config{Path: dbPath})
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer journal.Close()

			out := cmd.OutOrStdout()
			if summary {
				rows, err := journal.Summary(ctx)
				if err != nil {
					return err
				}
				return printSummary(out, rows)
			}

			var entries []*stores.Entry
			if len(args) == 1 {
				entries, err = journal.History(ctx, args[0], limit)
			} else {
				entries, err = journal.Recent(ctx, limit)
			}
			if err != nil {
				return err
			}
			return printEntries(out, entries)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries")
	cmd.Flags().BoolVar(&summary, "summary", false, "show per-file totals")
	cmd.Flags().StringVar(&dbPath, "db", "", "journal database path (overrides config)")

	return cmd
}

func printEntries(w io.Writer, entries []*stores.Entry) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKEY\tOUTCOME\tPATH\tERROR")
	for _, e := range entries {
		errText := ""
		if e.Error != nil {
			errText = *e.Error
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			e.RecordedAt.Local().Format(time.DateTime), e.StoryKey, e.Outcome, e.Path, errText)
	}
	return tw.Flush()
}

func printSummary(w io.Writer, rows []*stores.PathSummary) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tLOADS\tRELOADS\tFAILURES\tLAST")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", r.Path, r.Loads, r.Reloads, r.Failures, r.LastOutcome)
	}
	return tw.Flush()
}
