package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/wpshiftstudio/payin3/internal/app"
	"github.com/wpshiftstudio/payin3/internal/config"
	"github.com/wpshiftstudio/payin3/internal/ledger"
	"github.com/wpshiftstudio/payin3/internal/logger"
	"github.com/wpshiftstudio/payin3/internal/models"
	"github.com/wpshiftstudio/payin3/internal/planner"
	"github.com/wpshiftstudio/payin3/internal/webhook"
)

func loadApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.NewWithOptions("payin3ctl", logger.Options{Level: cfg.LogLevel, FilePath: cfg.LogFile})
	return app.New(ctx, cfg, log)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the ledger tables in DATABASE_URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Ledger schema is up to date.")
			return nil
		},
	}
}

func uninstallCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Drop the ledger tables and every plan in them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("refusing to drop tables without --yes")
			}
			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.DB == nil {
				return errors.New("DATABASE_URL is required")
			}
			if err := ledger.Uninstall(ctx, a.DB.Conn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Ledger tables dropped.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm dropping all ledger tables")
	return cmd
}

func tickCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Process every due installment once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Scheduler.TriggerManual(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			fmt.Fprintf(out, "processed=%d successful=%d failed=%d escalated=%d skipped=%d duration=%s\n",
				result.Processed, result.Successful, result.Failed, result.Escalated, result.Skipped, result.Duration)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}

func planCmd() *cobra.Command {
	var (
		second time.Duration
		third  time.Duration
		start  string
	)
	cmd := &cobra.Command{
		Use:   "plan [total]",
		Short: "Preview the installment split and due dates for an order total",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid total %q: %w", args[0], err)
			}
			now := time.Now().UTC()
			if start != "" {
				if now, err = time.Parse("2006-01-02", start); err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
			}

			plan, err := planner.New(second, third, "preview").Plan("preview", "", total, now)
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), plan)
		},
	}

	cmd.Flags().DurationVar(&second, "second-offset", 30*24*time.Hour, "delay of the second installment")
	cmd.Flags().DurationVar(&third, "third-offset", 60*24*time.Hour, "delay of the third installment")
	cmd.Flags().StringVar(&start, "start", "", "checkout date (YYYY-MM-DD), defaults to today")
	return cmd
}

func printPlan(w io.Writer, plan *models.Plan) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tAMOUNT\tDUE")
	for i, inst := range plan.Installments {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, inst.Amount.StringFixed(models.MinorUnits), inst.DueDate.Format("2006-01-02"))
	}
	return tw.Flush()
}

func signCmd() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "sign [file]",
		Short: "Print the webhook signature header value for a payload file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("WEBHOOK_SECRET")
			}
			if secret == "" {
				return webhook.ErrNoSecret
			}

			var body []byte
			var err error
			if args[0] == "-" {
				body, err = io.ReadAll(cmd.InOrStdin())
			} else {
				body, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to read payload: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), webhook.Sign(secret, body))
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "shared secret (defaults to WEBHOOK_SECRET)")
	return cmd
}
