package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Maintain the audit event log",
	}
	cmd.AddCommand(auditExpireCmd())
	cmd.AddCommand(auditPurgeCmd())
	return cmd
}

func auditExpireCmd() *cobra.Command {
	var (
		days      int
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Delete audit events older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, d *deps) error {
				if !cmd.Flags().Changed("days") {
					days = d.Cfg.Audit.ExpireDays
				}
				if !cmd.Flags().Changed("batch-size") {
					batchSize = d.Cfg.Audit.ExpireBatchSize
				}
				if days <= 0 {
					return errors.New("retention days must be positive")
				}
				before := time.Now().UTC().AddDate(0, 0, -days)

				var total int64
				for {
					n, err := d.Audit.DeleteExpired(ctx, before, batchSize)
					if err != nil {
						return err
					}
					total += n
					if n == 0 || ctx.Err() != nil {
						break
					}
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%d audit events older than %s deleted\n", total, before.Format(time.RFC3339))
				return err
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Retention in days, defaults to audit.expire_days")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Rows deleted per statement, defaults to audit.expire_batch_size")
	return cmd
}

func auditPurgeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every audit event",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to purge without --yes")
			}
			return withApp(cmd.Context(), func(ctx context.Context, d *deps) error {
				n, err := d.Audit.PurgeEvents(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d audit events deleted\n", n)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deleting the whole audit log")
	return cmd
}
