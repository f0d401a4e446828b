package main

// @title           Finepay API
// @version         1.0
// @description     Online fine payments for library catalogs: payment flow, gateway callbacks and admin review.

// @contact.name   API Support
// @contact.email  support@example.com

// @host      localhost:8888
// @BasePath  /

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/finepay/internal/app"
)

func main() {
	os.Exit(run())
}

// run starts the API and blocks until SIGINT/SIGTERM or an fx shutdown. The exit code comes from
// the shutdown signal.
func run() int {
	a := fx.New(app.Module)

	startCtx, cancel := context.WithTimeout(context.Background(), app.DefaultStartTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		// The logger may not be built yet.
		zap.NewExample().Sugar().Errorw("failed to start finepay api", "err", err)
		return 1
	}

	sig := <-a.Wait()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
	defer cancelStop()
	if err := a.Stop(stopCtx); err != nil {
		zap.NewExample().Sugar().Errorw("failed to stop finepay api", "err", err, "signal", sig.Signal)
		return 1
	}
	return sig.ExitCode
}
