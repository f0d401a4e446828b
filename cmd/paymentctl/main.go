// Command paymentctl runs the scheduled payment jobs: registration monitoring and audit log expiry.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/finepay/internal/app"
	"github.com/fatflowers/finepay/internal/app/service/audit"
	"github.com/fatflowers/finepay/internal/app/service/monitor"
	"github.com/fatflowers/finepay/pkg/config"
)

var Version = "dev"

// deps are the services a job needs, populated from the fx graph.
type deps struct {
	Log     *zap.SugaredLogger
	Cfg     *config.Config
	Monitor *monitor.Service
	Audit   *audit.Service
}

// withApp starts the core graph without the HTTP server, runs fn and stops the graph.
func withApp(ctx context.Context, fn func(ctx context.Context, d *deps) error) error {
	d := &deps{}
	a := fx.New(
		app.CoreModule,
		fx.NopLogger,
		fx.Populate(&d.Log, &d.Cfg, &d.Monitor, &d.Audit),
	)
	if err := a.Err(); err != nil {
		return err
	}
	startCtx, cancel := context.WithTimeout(ctx, app.DefaultStartTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	runErr := fn(ctx, d)

	stopCtx, cancel2 := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
	defer cancel2()
	if err := a.Stop(stopCtx); err != nil && runErr == nil {
		return fmt.Errorf("failed to stop: %w", err)
	}
	return runErr
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "paymentctl",
		Short:         "Finepay maintenance jobs",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(auditCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
