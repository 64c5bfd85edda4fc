package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"procstream/internal/diff"
	"procstream/internal/store"
)

var (
	historyLimit int
	diffContext  int
	exportFormat string
	exportOut    string
)

// historyCmd lists stored outcomes
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List saved decompositions",
	RunE:  runHistory,
}

// historyDiffCmd compares the two latest runs of a task
var historyDiffCmd = &cobra.Command{
	Use:   "diff <task>",
	Short: "Show how the latest plan for a task differs from the previous one",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runHistoryDiff,
}

// exportCmd exports a saved decomposition
var exportCmd = &cobra.Command{
	Use:   "export <task>",
	Short: "Export the latest saved plan for a task",
	Long: `Writes the most recent saved plan for a task as CSV (UTF-8 with BOM),
JSON or an HTML table.

Example:
  procstream export "加工齿轮轴" --format html --out plan.html`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExport,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum records to show (0 for all)")
	historyDiffCmd.Flags().IntVarP(&diffContext, "context", "U", 3, "Unchanged lines shown around each change")
	historyCmd.AddCommand(historyDiffCmd)

	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "Export format (csv, json, html)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Destination file (default: derived from the task, - for stdout)")
}

func openHistory() (*store.Store, error) {
	c := currentConfig()
	if !c.Store.Enabled {
		return nil, errors.New("history is disabled (store.enabled is false)")
	}
	return store.Open(c.Store.DatabasePath)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	st, err := openHistory()
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.List(ctx, historyLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No saved decompositions.")
		return nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"时间", "任务", "工序", "工步", "来源", "决策", "缓存"})
	for _, rec := range records {
		cached := ""
		if rec.Cached {
			cached = "✓"
		}
		t.AppendRow(table.Row{
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			rec.Task, rec.Processes, rec.Steps, rec.Source, rec.Decision, cached,
		})
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("total %d", stats.Total), "", "",
		fmt.Sprintf("refetched %d", stats.Refetched), "", fmt.Sprintf("cached %d", stats.Cached)})

	fmt.Fprintln(out, t.Render())
	return nil
}

func runHistoryDiff(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	task := strings.Join(args, " ")
	st, err := openHistory()
	if err != nil {
		return err
	}
	defer st.Close()

	recs, err := st.Recent(ctx, task, 2)
	if err != nil {
		return err
	}
	if len(recs) < 2 {
		return fmt.Errorf("need two saved decompositions of %q to compare, found %d", task, len(recs))
	}

	newer, older := recs[0], recs[1]
	label := func(r store.Record) string {
		return fmt.Sprintf("%s (%s, %s)", r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Source, r.Decision)
	}
	d := diff.NewEngine(diffContext).Compare(label(older), label(newer), older.Plan, newer.Plan)
	return d.Render(cmd.OutOrStdout())
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	task := strings.Join(args, " ")
	st, err := openHistory()
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.Latest(ctx, task)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no saved decomposition for %q", task)
	}
	if err != nil {
		return err
	}

	path, err := writeExport(cmd.OutOrStdout(), exportFormat, exportOut, rec.Task, rec.Plan)
	if err != nil {
		return err
	}
	if path != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "exported to %s\n", path)
	}
	return nil
}
