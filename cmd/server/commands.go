package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pharmacy/internal/config"
	"pharmacy/internal/excel"
	"pharmacy/internal/logging"
)

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return build(ctx, cfg, logging.New(cfg.LogLevel, cfg.LogPretty), false)
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [transaction-id]",
		Short: "Push pending offline transactions, or one transaction by id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				tx, err := a.svc.SyncTransaction(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %s synced\n", tx.ID, tx.InvoiceNumber)
				return nil
			}
			summary, err := a.svc.SyncPending(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "synced=%d failed=%d skipped=%d\n", summary.Synced, summary.Failed, summary.Skipped)
			for _, e := range summary.Errors {
				fmt.Fprintf(out, "  %s %s: %s\n", e.TransactionID, e.InvoiceNumber, e.Error)
			}
			return nil
		},
	}
}

func queueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue <invoice-id>",
		Short: "Record a committed invoice for sync when checkout could not",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			tx, err := a.svc.QueueInvoice(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", tx.ID, tx.InvoiceNumber, tx.SyncState)
			return nil
		},
	}
}

func failedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "failed",
		Short: "List offline transactions that exhausted their sync attempts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.svc.OfflineTransactions(cmd.Context(), "failed")
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tINVOICE\tATTEMPTS\tCREATED\tLAST ERROR")
			for _, tx := range items {
				lastErr := ""
				if tx.SyncError != nil {
					lastErr = *tx.SyncError
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", tx.ID, tx.InvoiceNumber, tx.SyncAttemptCount, tx.CreatedAt.Format(time.RFC3339), lastErr)
			}
			return w.Flush()
		},
	}
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load catalog or receiving spreadsheets",
	}

	batches := &cobra.Command{
		Use:   "batches <file.xlsx>",
		Short: "Receive lots from a workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			warehouse, _ := cmd.Flags().GetString("warehouse")
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if warehouse == "" {
				warehouse = a.svc.DefaultWarehouse()
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			rows, err := excel.ParseBatchRows(f, warehouse)
			if err != nil {
				return err
			}
			result, err := a.svc.ImportBatches(cmd.Context(), rows)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows, %d created, %d updated\n", filepath.Base(args[0]), len(rows), result.Created, result.Updated)
			return nil
		},
	}
	batches.Flags().String("warehouse", "", "warehouse for rows without one (defaults to DEFAULT_WAREHOUSE_ID)")

	products := &cobra.Command{
		Use:   "products <file.xlsx|file.csv>",
		Short: "Create or update catalog entries and prices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			rows, err := excel.ParseProductRows(filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			result, err := a.svc.ImportProducts(cmd.Context(), rows)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows, %d created, %d updated\n", filepath.Base(args[0]), len(rows), result.Created, result.Updated)
			return nil
		},
	}

	cmd.AddCommand(batches, products)
	return cmd
}
