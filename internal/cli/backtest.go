// Package cli provides the command-line interface for the backtester.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcolo88/Trading-sub000/internal/backtest"
	"github.com/rcolo88/Trading-sub000/internal/export"
	"github.com/rcolo88/Trading-sub000/internal/logging"
)

func newBacktestCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run a single backtest with the configured strategy",
		Long: `Run the configured strategy over the historical window and print a
performance summary.

Trade ledger and equity curve are written as CSV next to the input
data unless --out overrides the directory.`,
		Example: `  backtester backtest
  backtester backtest --chain data/spy_chain.csv --prices data/spy_close.csv
  backtester backtest --out runs/2024q1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			chainPath, _ := cmd.Flags().GetString("chain")
			pricesPath, _ := cmd.Flags().GetString("prices")
			outDir, _ := cmd.Flags().GetString("out")
			if chainPath == "" {
				chainPath = app.Config.Data.ChainCSV
			}
			if pricesPath == "" {
				pricesPath = app.Config.Data.PricesCSV
			}
			if outDir == "" {
				outDir = app.Config.Data.ExportDir
			}

			data, err := loadDataSet(chainPath, pricesPath)
			if err != nil {
				output.Error("Failed to load data: %v", err)
				return err
			}

			engCfg, err := app.Config.EngineConfig()
			if err != nil {
				return err
			}
			strat, err := app.Config.BuildStrategy()
			if err != nil {
				return err
			}

			logger := logging.WithStrategy(app.Logger, strat.Name())
			engine, err := backtest.NewEngine(engCfg, logger)
			if err != nil {
				return err
			}

			res, err := engine.Run(ctx, strat, data)
			if err != nil {
				output.Error("Backtest failed: %v", err)
				return err
			}

			if outDir != "" {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return err
				}
				tradesPath := filepath.Join(outDir, "trades.csv")
				equityPath := filepath.Join(outDir, "equity_curve.csv")
				if err := export.WriteTrades(res.Trades, tradesPath); err != nil {
					return err
				}
				if err := export.WriteEquityCurve(res.EquityCurve, equityPath); err != nil {
					return err
				}
				output.Dim("Wrote %s and %s", tradesPath, equityPath)
			}

			if output.IsJSON() {
				return output.JSON(res.Metrics)
			}
			displayMetrics(output, strat.Name(), res.Metrics)
			return nil
		},
	}

	cmd.Flags().String("chain", "", "option chain CSV (default from config)")
	cmd.Flags().String("prices", "", "underlying price CSV (default from config)")
	cmd.Flags().String("out", "", "directory for trade/equity CSV exports")

	return cmd
}

// loadDataSet reads both input series for a run.
func loadDataSet(chainPath, pricesPath string) (backtest.DataSet, error) {
	chain, err := export.ReadChainCSV(chainPath)
	if err != nil {
		return backtest.DataSet{}, err
	}
	prices, err := export.ReadPricesCSV(pricesPath)
	if err != nil {
		return backtest.DataSet{}, err
	}
	return backtest.DataSet{Chain: chain, Prices: prices}, nil
}

func displayMetrics(output *Output, strategyName string, m backtest.Metrics) {
	output.Bold("%s", strategyName)
	output.Println()

	table := NewTable(output, "Metric", "Value")
	table.AddRow("Total return", output.FormatPercentColored(m.TotalReturnPct))
	table.AddRow("Max drawdown", FormatPercent(m.MaxDrawdownPct))
	table.AddRow("Sharpe ratio", FormatRatio(m.SharpeRatio))
	table.AddRow("Win rate", fmt.Sprintf("%.1f%%", m.WinRate))
	table.AddRow("Profit factor", FormatRatio(m.ProfitFactor))
	table.AddRow("Avg win", FormatUSD(m.AvgWin))
	table.AddRow("Avg loss", FormatUSD(m.AvgLoss))
	table.AddRow("Trades", fmt.Sprintf("%d (%dW / %dL)", m.TotalTrades, m.WinningTrades, m.LosingTrades))
	table.AddRow("Final value", FormatUSD(m.FinalValue))
	table.AddRow("No-signal days", fmt.Sprintf("%d", m.NoSignalDays))
	table.AddRow("Blocked by cap", fmt.Sprintf("%d", m.BlockedByCapDays))
	table.AddRow("Skipped days", fmt.Sprintf("%d", m.SkippedDays))
	table.Render()
}
