package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/fatflowers/finepay/internal/app/service/monitor"
)

func monitorCmd() *cobra.Command {
	var (
		minimumPaidAge time.Duration
		reportInterval int
		retryMinutes   int
		noEmail        bool
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Retry failed payment registrations and report unresolved payments",
		Long: `Registers paid payments whose registration failed or never ran, expires those
that have been retried for longer than the retry duration, and mails a report of
unresolved payments to each source's error email. Flags override monitor.* config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, d *deps) error {
				opts := monitor.OptionsFromConfig(d.Cfg)
				flags := cmd.Flags()
				if flags.Changed("minimum-paid-age") {
					opts.MinimumPaidAge = minimumPaidAge
				}
				if flags.Changed("report-interval") {
					opts.ReportInterval = time.Duration(reportInterval) * time.Minute
				}
				if flags.Changed("retry-minutes") {
					opts.RetryDuration = time.Duration(retryMinutes) * time.Minute
				}
				opts.NoEmail = noEmail

				res, err := d.Monitor.Run(ctx, opts)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			})
		},
	}
	cmd.Flags().DurationVar(&minimumPaidAge, "minimum-paid-age", monitor.MinimumPaidAge*12, "Only process payments paid at least this long ago")
	cmd.Flags().IntVar(&reportInterval, "report-interval", 120, "Minutes between reports of the same unresolved payment")
	cmd.Flags().IntVar(&retryMinutes, "retry-minutes", 120, "Minutes to retry registration before a payment expires")
	cmd.Flags().BoolVar(&noEmail, "no-email", false, "Skip reporting unresolved payments")
	return cmd
}
