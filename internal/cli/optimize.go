// Package cli provides the command-line interface for the backtester.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcolo88/Trading-sub000/internal/errors"
	"github.com/rcolo88/Trading-sub000/internal/export"
	"github.com/rcolo88/Trading-sub000/internal/logging"
	"github.com/rcolo88/Trading-sub000/internal/optimize"
)

func newOptimizeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Search the strategy parameter space",
		Long: `Search the configured strategy's parameter space, scoring each
candidate with a full backtest.

Parameter ranges come from [[optimizer.parameters]] in config.toml, or
from repeated --param flags (name=min:max:step). Results persist to
SQLite; an interrupted grid search resumes from its checkpoint.`,
	}

	cmd.AddCommand(newGridCmd(app))
	cmd.AddCommand(newTPECmd(app))

	return cmd
}

func newGridCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Exhaustive grid search over parameter ranges",
		Example: `  backtester optimize grid
  backtester optimize grid --param short_delta=0.10:0.30:0.05 --param dte=30:60:15
  backtester optimize grid --yes --metric total_return_pct`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ev, err := buildEvaluator(app)
			if err != nil {
				return err
			}
			st, err := app.Store()
			if err != nil {
				return err
			}

			metric, _ := cmd.Flags().GetString("metric")
			if metric == "" {
				metric = app.Config.Optimizer.Metric
			}
			yes, _ := cmd.Flags().GetBool("yes")
			skipConfirm := yes || app.Config.Optimizer.SkipConfirm

			strat, err := app.Config.BuildStrategy()
			if err != nil {
				return err
			}
			gridCfg := optimize.GridConfig{
				Metric:          metric,
				CheckpointEvery: app.Config.Optimizer.CheckpointEvery,
				CheckpointTable: optimize.TableName("checkpoint", strat.Name(), ev.Config.StartDate, ev.Config.EndDate),
				MasterTable:     optimize.TableName("master", strat.Name(), ev.Config.StartDate, ev.Config.EndDate),
				Seed:            app.Config.Optimizer.Seed,
			}
			if !skipConfirm {
				gridCfg.Confirm = func(combinations int, estimated time.Duration) bool {
					return confirmRun(cmd, output, combinations, estimated)
				}
			}

			search := optimize.NewGridSearch(ev.Spec, gridCfg, st, logging.WithRun(app.Logger, "grid"))
			if err := addRanges(cmd, app, func(name string, min, max, step float64) error {
				return search.AddRange(name, min, max, step)
			}); err != nil {
				return err
			}

			output.Info("Grid search: %d combinations over %d parameters", search.TotalCombinations(), paramCount(cmd, app))
			rows, err := search.Run(ctx, ev, progressPrinter(output))
			output.Println()
			if errors.Is(err, errors.ErrInterrupted) {
				output.Warning("Interrupted; %d results checkpointed to %s", len(rows), gridCfg.CheckpointTable)
				return nil
			}
			if err != nil {
				output.Error("Grid search failed: %v", err)
				return err
			}

			if err := finishSearch(app, output, rows, gridCfg.CheckpointTable, "results_grid.csv"); err != nil {
				return err
			}
			displayTopRows(output, rows, metric, 10)
			return nil
		},
	}

	cmd.Flags().StringArray("param", nil, "parameter range name=min:max:step (repeatable)")
	cmd.Flags().String("metric", "", "optimization metric (default from config)")
	cmd.Flags().Bool("yes", false, "skip the runtime-estimate confirmation")

	return cmd
}

func newTPECmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tpe",
		Short: "Bayesian search with a Tree-structured Parzen Estimator",
		Long: `Sample the parameter space with a TPE model instead of exhaustive
enumeration. Early trials are uniform random; later trials concentrate
where the objective has been good. With pruning enabled, unpromising
trials stop early under a median rule.`,
		Example: `  backtester optimize tpe --trials 200
  backtester optimize tpe --param short_delta=0.10:0.30:0.05 --no-prune`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ev, err := buildEvaluator(app)
			if err != nil {
				return err
			}

			metric, _ := cmd.Flags().GetString("metric")
			if metric == "" {
				metric = app.Config.Optimizer.Metric
			}
			trials, _ := cmd.Flags().GetInt("trials")
			if trials <= 0 {
				trials = app.Config.Optimizer.Trials
			}
			noPrune, _ := cmd.Flags().GetBool("no-prune")

			tpeCfg := optimize.TPEConfig{
				Metric:        metric,
				Trials:        trials,
				StartupTrials: app.Config.Optimizer.StartupTrials,
				Gamma:         app.Config.Optimizer.Gamma,
				Multivariate:  app.Config.Optimizer.Multivariate,
				Pruning:       app.Config.Optimizer.Pruning && !noPrune,
				Seed:          app.Config.Optimizer.Seed,
			}

			search := optimize.NewTPESearch(ev.Spec, tpeCfg, logging.WithRun(app.Logger, "tpe"))
			if err := addRanges(cmd, app, func(name string, min, max, step float64) error {
				return search.AddRange(name, min, max, step)
			}); err != nil {
				return err
			}

			output.Info("TPE search: %d trials (%d startup)", trials, tpeCfg.StartupTrials)
			rows, err := search.Run(ctx, ev, progressPrinter(output))
			output.Println()
			if err != nil && !errors.Is(err, errors.ErrInterrupted) {
				output.Error("TPE search failed: %v", err)
				return err
			}

			strat, buildErr := app.Config.BuildStrategy()
			if buildErr != nil {
				return buildErr
			}
			table := optimize.TableName("tpe", strat.Name(), ev.Config.StartDate, ev.Config.EndDate)
			if err := finishSearch(app, output, rows, table, "results_tpe.csv"); err != nil {
				return err
			}
			displayTopRows(output, rows, metric, 10)
			return nil
		},
	}

	cmd.Flags().StringArray("param", nil, "parameter range name=min:max:step (repeatable)")
	cmd.Flags().String("metric", "", "optimization metric (default from config)")
	cmd.Flags().Int("trials", 0, "trial budget (default from config)")
	cmd.Flags().Bool("no-prune", false, "disable the median stopping rule")

	return cmd
}

// buildEvaluator assembles the shared evaluation context for a search.
func buildEvaluator(app *App) (*optimize.Evaluator, error) {
	engCfg, err := app.Config.EngineConfig()
	if err != nil {
		return nil, err
	}
	data, err := loadDataSet(app.Config.Data.ChainCSV, app.Config.Data.PricesCSV)
	if err != nil {
		return nil, err
	}
	return &optimize.Evaluator{
		Spec:   app.Config.StrategySpec(),
		Config: engCfg,
		Data:   data,
		Logger: app.Logger,
	}, nil
}

// addRanges feeds parameter ranges from --param flags, falling back to
// the configured [[optimizer.parameters]] tables.
func addRanges(cmd *cobra.Command, app *App, add func(name string, min, max, step float64) error) error {
	flags, _ := cmd.Flags().GetStringArray("param")
	if len(flags) > 0 {
		for _, spec := range flags {
			name, min, max, step, err := parseRangeFlag(spec)
			if err != nil {
				return err
			}
			if err := add(name, min, max, step); err != nil {
				return err
			}
		}
		return nil
	}
	if len(app.Config.Optimizer.Parameters) == 0 {
		return errors.NewValidationError("optimizer.parameters", "", "no parameter ranges configured")
	}
	for _, p := range app.Config.Optimizer.Parameters {
		if err := add(p.Name, p.Min, p.Max, p.Step); err != nil {
			return err
		}
	}
	return nil
}

func paramCount(cmd *cobra.Command, app *App) int {
	flags, _ := cmd.Flags().GetStringArray("param")
	if len(flags) > 0 {
		return len(flags)
	}
	return len(app.Config.Optimizer.Parameters)
}

// parseRangeFlag parses "name=min:max:step".
func parseRangeFlag(spec string) (name string, min, max, step float64, err error) {
	eq := strings.SplitN(spec, "=", 2)
	if len(eq) != 2 {
		return "", 0, 0, 0, errors.NewValidationError("param", spec, "expected name=min:max:step")
	}
	parts := strings.Split(eq[1], ":")
	if len(parts) != 3 {
		return "", 0, 0, 0, errors.NewValidationError("param", spec, "expected name=min:max:step")
	}
	vals := make([]float64, 3)
	for i, p := range parts {
		v, perr := strconv.ParseFloat(p, 64)
		if perr != nil {
			return "", 0, 0, 0, errors.NewValidationError("param", spec, "non-numeric bound "+p)
		}
		vals[i] = v
	}
	return eq[0], vals[0], vals[1], vals[2], nil
}

// confirmRun prompts before a long grid run.
func confirmRun(cmd *cobra.Command, output *Output, combinations int, estimated time.Duration) bool {
	output.Warning("Estimated runtime for %d combinations: %s", combinations, FormatDuration(estimated))
	output.Printf("Proceed? [y/N] ")
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// progressPrinter renders in-place progress on a terminal.
func progressPrinter(output *Output) optimize.ProgressFunc {
	return func(done, total int, best float64) {
		if output.IsJSON() {
			return
		}
		output.Printf("\r[%d/%d] best=%s ", done, total, FormatRatio(best))
	}
}

// finishSearch persists final rows and exports them as CSV.
func finishSearch(app *App, output *Output, rows []optimize.ResultRow, table, csvName string) error {
	if len(rows) == 0 {
		output.Warning("No results produced")
		return nil
	}
	st, err := app.Store()
	if err != nil {
		return err
	}
	if err := st.SaveRows(table, rows); err != nil {
		return err
	}
	output.Dim("Saved %d rows to table %s", len(rows), table)

	if dir := app.Config.Data.ExportDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		path := filepath.Join(dir, csvName)
		if err := export.WriteResults(rows, path); err != nil {
			return err
		}
		output.Dim("Wrote %s", path)
	}
	return nil
}

// displayTopRows prints the best rows of a finished search.
func displayTopRows(output *Output, rows []optimize.ResultRow, metric string, n int) {
	if output.IsJSON() {
		if len(rows) > n {
			rows = rows[:n]
		}
		output.JSON(rows)
		return
	}
	if len(rows) == 0 {
		return
	}

	table := NewTable(output, "#", "Parameters", metric, "return", "trades")
	for i, row := range rows {
		if i >= n {
			break
		}
		table.AddRow(
			fmt.Sprintf("%d", i+1),
			TruncateString(row.Params.Key(), 60),
			FormatRatio(row.Score),
			FormatPercent(row.Metrics["total_return_pct"]),
			fmt.Sprintf("%.0f", row.Metrics["total_trades"]),
		)
	}
	table.Render()
}
