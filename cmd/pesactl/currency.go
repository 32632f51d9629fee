package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pesa/internal/core"
)

func currencyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "currency",
		Short: "Show or change the display currency",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current display currency and rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			pref, err := e.currency().Current(cmd.Context())
			if err != nil {
				return err
			}
			printCurrency(cmd, e.cfg.BaseCurrency, pref)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set CODE",
		Short: "Fetch the latest rate and switch the display currency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			pref, err := e.currency().SetCurrency(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printCurrency(cmd, e.cfg.BaseCurrency, pref)
			return nil
		},
	})
	return cmd
}

func printCurrency(cmd *cobra.Command, base string, pref core.CurrencyPreference) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) 1 %s = %s %s\n",
		pref.Code, pref.Symbol, base, pref.Rate.String(), pref.Code)
}
