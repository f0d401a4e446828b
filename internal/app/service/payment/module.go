package payment

import (
	"go.uber.org/fx"

	"github.com/fatflowers/finepay/internal/app/service/gateway"
	"github.com/fatflowers/finepay/internal/app/service/receipt"
)

// Module provides the payment Manager.
var Module = fx.Options(
	fx.Provide(
		func(r *gateway.Registry) HandlerProvider { return r },
		func(r *receipt.Service) ReceiptSender { return r },
		NewService,
	),
)
