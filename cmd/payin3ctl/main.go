package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "payin3ctl",
		Short:         "Operate the pay-in-3 installment ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(uninstallCmd())
	root.AddCommand(tickCmd())
	root.AddCommand(planCmd())
	root.AddCommand(signCmd())

	return root
}
