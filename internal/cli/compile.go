// Package cli provides the command-line interface for the backtester.
package cli

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcolo88/Trading-sub000/internal/export"
	"github.com/rcolo88/Trading-sub000/internal/optimize"
)

func newCompileCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile <source-table> [source-table...]",
		Short: "Merge result tables into a master table",
		Long: `Merge one or more persisted result tables into a master table.

Rows are deduplicated by parameter key; when the same combination
appears in several sources, the most recently computed row wins. The
merge is idempotent, so re-compiling the same sources is safe.`,
		Example: `  backtester compile checkpoint_bull_put_2024-01-02_2024-06-28
  backtester compile checkpoint_... tpe_... --master master_bull_put_2024`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store()
			if err != nil {
				return err
			}

			master, _ := cmd.Flags().GetString("master")
			if master == "" {
				// Derive the master name from the first source table.
				master = "master_" + strings.TrimPrefix(strings.TrimPrefix(args[0], "checkpoint_"), "tpe_")
			}
			metric, _ := cmd.Flags().GetString("metric")
			if metric == "" {
				metric = app.Config.Optimizer.Metric
			}

			var incoming []optimize.ResultRow
			for _, table := range args {
				rows, err := st.LoadRows(table)
				if err != nil {
					output.Error("Failed to load table %s: %v", table, err)
					return err
				}
				output.Dim("Loaded %d rows from %s", len(rows), table)
				incoming = append(incoming, rows...)
			}

			merged, err := optimize.CompileMaster(st, master, incoming, metric)
			if err != nil {
				return err
			}
			output.Success("Master table %s holds %d unique combinations", master, len(merged))

			if csvPath, _ := cmd.Flags().GetString("csv"); csvPath != "" {
				if !filepath.IsAbs(csvPath) && app.Config.Data.ExportDir != "" {
					csvPath = filepath.Join(app.Config.Data.ExportDir, csvPath)
				}
				if err := export.WriteResults(merged, csvPath); err != nil {
					return err
				}
				output.Dim("Wrote %s", csvPath)
			}

			displayTopRows(output, merged, metric, 10)
			return nil
		},
	}

	cmd.Flags().String("master", "", "master table name (derived from first source when empty)")
	cmd.Flags().String("metric", "", "sort metric (default from config)")
	cmd.Flags().String("csv", "", "also export the merged table as CSV")

	return cmd
}

func newResultsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect persisted result tables",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "tables",
		Short: "List persisted result tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store()
			if err != nil {
				return err
			}
			tables, err := st.Tables()
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(tables)
			}
			if len(tables) == 0 {
				output.Dim("No result tables")
				return nil
			}
			for _, t := range tables {
				output.Println(t)
			}
			return nil
		},
	})

	showCmd := &cobra.Command{
		Use:   "show <table>",
		Short: "Show the best rows of a result table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store()
			if err != nil {
				return err
			}
			rows, err := st.LoadRows(args[0])
			if err != nil {
				return err
			}
			metric, _ := cmd.Flags().GetString("metric")
			if metric == "" {
				metric = app.Config.Optimizer.Metric
			}
			top, _ := cmd.Flags().GetInt("top")
			rows = optimize.SortRows(rows, metric)
			output.Info("%s: %d rows", args[0], len(rows))
			displayTopRows(output, rows, metric, top)
			return nil
		},
	}
	showCmd.Flags().Int("top", 10, "number of rows to show")
	showCmd.Flags().String("metric", "", "sort metric (default from config)")
	cmd.AddCommand(showCmd)

	return cmd
}
