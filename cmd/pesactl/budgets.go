package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pesa/internal/budget"
	"pesa/internal/core"
	"pesa/internal/currency"
)

func budgetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budgets",
		Short: "Show this month's spend against each category budget",
		RunE:  runBudgets,
	}
	cmd.Flags().Bool("display", false, "show amounts in the display currency")
	return cmd
}

func runBudgets(cmd *cobra.Command, _ []string) error {
	display, _ := cmd.Flags().GetBool("display")

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	states, err := budget.NewAggregator(e.repo, e.bus, e.logger).Compute(cmd.Context(), time.Now())
	if err != nil {
		return err
	}

	format := func(s core.BudgetState) (string, string) {
		return core.FormatAmount(s.Spent), core.FormatAmount(s.Limit)
	}
	if display {
		pref, err := e.currency().Current(cmd.Context())
		if err != nil {
			return err
		}
		format = func(s core.BudgetState) (string, string) {
			return currency.Display(s.Spent, pref.Rate, pref.Symbol),
				currency.Display(s.Limit, pref.Rate, pref.Symbol)
		}
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tSPENT\tLIMIT\tUSED\tSTATUS")
	for _, s := range states {
		spent, limit := format(s)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f%%\t%s\n", s.Category.Name, spent, limit, s.PercentUsed, budgetStatus(s))
	}
	return tw.Flush()
}

func budgetStatus(s core.BudgetState) string {
	switch {
	case !s.Limit.IsPositive():
		return "-"
	case s.IsOverBudget():
		return "over"
	case s.IsNearLimit():
		return "near"
	}
	return "ok"
}
