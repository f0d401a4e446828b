package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/finepay/internal/app/api/server"
	"github.com/fatflowers/finepay/internal/app/service/audit"
	"github.com/fatflowers/finepay/internal/app/service/gateway"
	"github.com/fatflowers/finepay/internal/app/service/monitor"
	"github.com/fatflowers/finepay/internal/app/service/payment"
	"github.com/fatflowers/finepay/internal/app/service/paymentstore"
	"github.com/fatflowers/finepay/internal/app/service/receipt"
	"github.com/fatflowers/finepay/internal/platform/db"
	"github.com/fatflowers/finepay/internal/platform/i18n"
	"github.com/fatflowers/finepay/internal/platform/ils"
	"github.com/fatflowers/finepay/internal/platform/mailer"
	"github.com/fatflowers/finepay/internal/platform/testgateway"
	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/logger"
	"github.com/fatflowers/finepay/pkg/metrics"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// CoreModule wires everything except the HTTP server, for the API and the CLI jobs.
var CoreModule = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	metrics.Module,
	i18n.Module,
	ils.Module,
	mailer.Module,
	audit.Module,
	gateway.Module,
	paymentstore.Module,
	receipt.Module,
	payment.Module,
	monitor.Module,
	testgateway.Module,
)

var Module = fx.Options(
	CoreModule,
	server.Module,
)
