package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pesa/internal/core"
	"pesa/internal/export"
	"pesa/internal/log"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export transactions as CSV",
		Example: `  pesactl export --out -
  pesactl export --month 2026-03 --out march.csv`,
		RunE: runExport,
	}
	cmd.Flags().String("out", "", "output file, - for stdout (default: suggested file name)")
	cmd.Flags().String("month", "", "only export this month (YYYY-MM)")
	return cmd
}

func parseMonthFlag(v string) (*core.Period, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01", v, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid --month %q: expected YYYY-MM", v)
	}
	p := core.MonthPeriod(t)
	return &p, nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	month, _ := cmd.Flags().GetString("month")
	out, _ := cmd.Flags().GetString("out")

	period, err := parseMonthFlag(month)
	if err != nil {
		return err
	}
	if out == "" {
		out = export.Filename(period)
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	txs, err := e.ledger().ListTransactions(cmd.Context(), period)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if out != "-" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}
		defer f.Close()
		w = f
	}
	if err := export.WriteTransactionsCSV(w, txs); err != nil {
		return err
	}

	e.logger.WithComponent(log.ComponentExport).Info("Transactions exported", log.FieldOperation, log.OpExport, "count", len(txs), "out", out)
	return nil
}
